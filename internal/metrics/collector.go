package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgreplicate/internal/replication"
	"github.com/jfoltran/pgreplicate/pkg/lsn"
)

// EventCounts tallies how many ChangeEvents of each kind have been observed.
type EventCounts struct {
	Begin    int64 `json:"begin"`
	Commit   int64 `json:"commit"`
	Origin   int64 `json:"origin"`
	Relation int64 `json:"relation"`
	Type     int64 `json:"type"`
	Insert   int64 `json:"insert"`
	Update   int64 `json:"update"`
	Delete   int64 `json:"delete"`
	Truncate int64 `json:"truncate"`
	Message  int64 `json:"message"`
}

// RecentEvent is a compact, JSON-friendly rendering of one ChangeEvent kept
// in the collector's ring buffer for the dashboard's recent-activity panel.
type RecentEvent struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Table  string    `json:"table,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Snapshot is the complete metrics state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	CurrentLSN   string `json:"current_lsn"`
	AckedLSN     string `json:"acked_lsn"`
	LagBytes     uint64 `json:"lag_bytes"`
	LagFormatted string `json:"lag_formatted"`

	Counts       EventCounts   `json:"counts"`
	TotalEvents  int64         `json:"total_events"`
	EventsPerSec float64       `json:"events_per_sec"`
	Recent       []RecentEvent `json:"recent"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates replication-session metrics and provides snapshots
// for consumption by the HTTP API and TUI.
type Collector struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	phase     string
	startedAt time.Time

	currentLSN lsn.LSN
	ackedLSN   lsn.LSN

	counts      EventCounts
	totalEvents atomic.Int64

	errorCount atomic.Int64
	lastError  atomic.Value // string

	eventWindow *slidingWindow

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	recentMu sync.Mutex
	recent   []RecentEvent
	recentCap int

	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a new Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:      logger.With().Str("component", "metrics").Logger(),
		subscribers: make(map[chan Snapshot]struct{}),
		eventWindow: newSlidingWindow(60 * time.Second),
		recent:      make([]RecentEvent, 0, 200),
		recentCap:   200,
		logs:        make([]LogEntry, 0, 500),
		logCap:      500,
		done:        make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// SetPhase updates the current session phase (e.g. "connecting", "streaming").
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// RecordEvent tallies one decoded ChangeEvent and appends it to the
// recent-activity ring buffer.
func (c *Collector) RecordEvent(ev *replication.ChangeEvent) {
	c.mu.Lock()
	switch ev.Kind {
	case replication.EventBegin:
		c.counts.Begin++
	case replication.EventCommit:
		c.counts.Commit++
	case replication.EventOrigin:
		c.counts.Origin++
	case replication.EventRelation:
		c.counts.Relation++
	case replication.EventType:
		c.counts.Type++
	case replication.EventInsert:
		c.counts.Insert++
	case replication.EventUpdate:
		c.counts.Update++
	case replication.EventDelete:
		c.counts.Delete++
	case replication.EventTruncate:
		c.counts.Truncate++
	case replication.EventMessage:
		c.counts.Message++
	}
	c.mu.Unlock()

	c.totalEvents.Add(1)
	now := time.Now()
	c.eventWindow.Add(now, 1)
	c.appendRecent(RecentEvent{Time: now, Kind: ev.Kind.String(), Table: tableOf(ev)})
}

func tableOf(ev *replication.ChangeEvent) string {
	switch ev.Kind {
	case replication.EventRelation:
		return ev.Relation.Relation.Name
	case replication.EventInsert:
		return ev.Insert.Relation.Name
	case replication.EventUpdate:
		return ev.Update.Relation.Name
	case replication.EventDelete:
		return ev.Delete.Relation.Name
	default:
		return ""
	}
}

func (c *Collector) appendRecent(e RecentEvent) {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	if len(c.recent) >= c.recentCap {
		n := c.recentCap / 4
		copy(c.recent, c.recent[n:])
		c.recent = c.recent[:len(c.recent)-n]
	}
	c.recent = append(c.recent, e)
}

// RecordCurrentLSN updates the server-reported WAL position, used for lag
// calculation against the last acknowledged LSN.
func (c *Collector) RecordCurrentLSN(l lsn.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentLSN = l
}

// RecordAcked updates the last LSN acknowledged back to the server.
func (c *Collector) RecordAcked(l lsn.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackedLSN = l
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current metrics state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	lagBytes := lsn.Lag(c.ackedLSN, c.currentLSN)

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	c.recentMu.Lock()
	recent := make([]RecentEvent, len(c.recent))
	copy(recent, c.recent)
	c.recentMu.Unlock()

	return Snapshot{
		Timestamp:    now,
		Phase:        c.phase,
		ElapsedSec:   elapsed,
		CurrentLSN:   c.currentLSN.String(),
		AckedLSN:     c.ackedLSN.String(),
		LagBytes:     lagBytes,
		LagFormatted: lsn.FormatLag(lagBytes, 0),
		Counts:       c.counts,
		TotalEvents:  c.totalEvents.Load(),
		EventsPerSec: c.eventWindow.Rate(),
		Recent:       recent,
		ErrorCount:   int(c.errorCount.Load()),
		LastError:    lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
					// Subscriber too slow, skip.
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
