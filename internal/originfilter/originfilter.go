// Package originfilter drops replication events that were originally played
// from a configured replication origin, preventing loops when this consumer
// is itself one leg of a bidirectional setup.
package originfilter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgreplicate/internal/replication"
)

// Filter drops WAL frames belonging to a transaction whose origin matches
// a configured origin name. Keepalives, Begin, and Commit always pass
// through unfiltered so the caller's LSN tracking and acknowledgment stay
// correct; the Origin event that triggers a match is itself dropped along
// with the rest of the transaction body (relation/type/insert/update/
// delete/truncate/message events).
type Filter struct {
	originName string
	logger     zerolog.Logger

	dropping bool
}

// New creates a Filter that drops transactions replayed from originName.
// An empty originName disables filtering entirely.
func New(originName string, logger zerolog.Logger) *Filter {
	return &Filter{
		originName: originName,
		logger:     logger.With().Str("component", "origin-filter").Logger(),
	}
}

// Run reads frames from in, drops the bodies of matching transactions, and
// forwards everything else to the returned channel. The output channel is
// closed when in is closed or ctx is cancelled.
func (f *Filter) Run(ctx context.Context, in <-chan *replication.WalFrame) <-chan *replication.WalFrame {
	out := make(chan *replication.WalFrame, cap(in))

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-in:
				if !ok {
					return
				}
				if f.keep(frame) {
					select {
					case out <- frame:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}

// keep reports whether frame should be forwarded, updating the filter's
// per-transaction dropping state as a side effect.
func (f *Filter) keep(frame *replication.WalFrame) bool {
	if f.originName == "" {
		return true
	}
	if frame.Kind != replication.WalFrameWalData {
		return true
	}
	ev := frame.WalData.Payload
	if ev == nil {
		return true
	}

	switch ev.Kind {
	case replication.EventBegin:
		f.dropping = false
		return true
	case replication.EventCommit:
		f.dropping = false
		return true
	case replication.EventOrigin:
		if ev.Origin.Name == f.originName {
			f.dropping = true
			f.logger.Debug().Str("origin", ev.Origin.Name).Msg("dropping transaction body")
		}
		return !f.dropping
	default:
		return !f.dropping
	}
}
