// Package lsn implements parsing, formatting, and arithmetic for PostgreSQL
// Log Sequence Numbers: monotonic byte offsets into the write-ahead log.
package lsn

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LSN is a 64-bit WAL byte offset, represented as the pair of uint32 halves
// PostgreSQL uses on the wire: the high half occupies bits 63-32.
type LSN uint64

// Parse decodes the canonical "H/L" textual form (uppercase or lowercase hex,
// each half at least one digit) into an LSN.
func Parse(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid LSN %q: expected \"H/L\"", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: bad high half: %w", s, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: bad low half: %w", s, err)
	}
	return FromHalves(uint32(hi), uint32(lo)), nil
}

// FromHalves combines the high and low 32-bit halves into an LSN.
func FromHalves(hi, lo uint32) LSN {
	return LSN(uint64(hi)<<32 | uint64(lo))
}

// Halves splits the LSN back into its (hi, lo) 32-bit halves.
func (l LSN) Halves() (hi, lo uint32) {
	return uint32(l >> 32), uint32(l)
}

// String renders the canonical "H/L" uppercase hex textual form.
func (l LSN) String() string {
	hi, lo := l.Halves()
	return fmt.Sprintf("%X/%X", hi, lo)
}

// Next returns the LSN that represents "last byte of this position, plus
// one" — the value a standby-status-update packet reports for a position it
// has fully consumed. Incrementing the low half rolls over into the high
// half on overflow, matching the 64-bit arithmetic PostgreSQL expects.
func (l LSN) Next() LSN {
	hi, lo := l.Halves()
	if lo == 0xFFFFFFFF {
		return FromHalves(hi+1, 0)
	}
	return FromHalves(hi, lo+1)
}

// Lag calculates the byte distance between two LSN positions. If latest is
// not ahead of current, lag is reported as zero rather than negative.
func Lag(current, latest LSN) uint64 {
	if latest <= current {
		return 0
	}
	return uint64(latest - current)
}

// FormatLag returns a human-friendly representation of replication lag.
func FormatLag(bytes uint64, latency time.Duration) string {
	var size string
	switch {
	case bytes >= 1<<30:
		size = fmt.Sprintf("%.2f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		size = fmt.Sprintf("%.2f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		size = fmt.Sprintf("%.2f KB", float64(bytes)/float64(1<<10))
	default:
		size = fmt.Sprintf("%d B", bytes)
	}
	if latency == 0 {
		return size
	}
	return fmt.Sprintf("%s (latency: %s)", size, latency.Truncate(time.Millisecond))
}
