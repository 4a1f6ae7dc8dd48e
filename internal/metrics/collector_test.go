package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgreplicate/internal/replication"
	"github.com/jfoltran/pgreplicate/pkg/lsn"
)

func TestCollector_PhaseTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("connecting")
	snap := c.Snapshot()
	if snap.Phase != "connecting" {
		t.Errorf("Phase = %q, want connecting", snap.Phase)
	}

	c.SetPhase("streaming")
	snap = c.Snapshot()
	if snap.Phase != "streaming" {
		t.Errorf("Phase = %q, want streaming", snap.Phase)
	}
}

func TestCollector_RecordEventTallies(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	rel := replication.Relation{OID: 1, Name: "users"}
	c.RecordEvent(&replication.ChangeEvent{Kind: replication.EventInsert, Insert: &replication.InsertEvent{Relation: rel}})
	c.RecordEvent(&replication.ChangeEvent{Kind: replication.EventInsert, Insert: &replication.InsertEvent{Relation: rel}})
	c.RecordEvent(&replication.ChangeEvent{Kind: replication.EventDelete, Delete: &replication.DeleteEvent{Relation: rel}})

	snap := c.Snapshot()
	if snap.Counts.Insert != 2 {
		t.Errorf("Counts.Insert = %d, want 2", snap.Counts.Insert)
	}
	if snap.Counts.Delete != 1 {
		t.Errorf("Counts.Delete = %d, want 1", snap.Counts.Delete)
	}
	if snap.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", snap.TotalEvents)
	}
	if len(snap.Recent) != 3 {
		t.Fatalf("Recent = %d entries, want 3", len(snap.Recent))
	}
	if snap.Recent[0].Table != "users" {
		t.Errorf("Recent[0].Table = %q, want users", snap.Recent[0].Table)
	}
}

func TestCollector_RecentEventEviction(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	rel := replication.Relation{OID: 1, Name: "t"}
	for i := 0; i < 250; i++ {
		c.RecordEvent(&replication.ChangeEvent{Kind: replication.EventInsert, Insert: &replication.InsertEvent{Relation: rel}})
	}
	snap := c.Snapshot()
	if len(snap.Recent) > c.recentCap {
		t.Errorf("Recent = %d entries, should not exceed cap %d", len(snap.Recent), c.recentCap)
	}
}

func TestCollector_LSNTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordAcked(lsn.FromHalves(0, 100))
	c.RecordCurrentLSN(lsn.FromHalves(0, 200))

	snap := c.Snapshot()
	if snap.AckedLSN != "0/64" {
		t.Errorf("AckedLSN = %q, want 0/64", snap.AckedLSN)
	}
	if snap.LagBytes == 0 {
		t.Error("expected non-zero lag bytes")
	}
}

func TestCollector_ErrorTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordError(nil)
	snap := c.Snapshot()
	if snap.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", snap.ErrorCount)
	}

	c.RecordError(fmt.Errorf("test error"))
	snap = c.Snapshot()
	if snap.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", snap.ErrorCount)
	}
	if snap.LastError != "test error" {
		t.Errorf("LastError = %q, want 'test error'", snap.LastError)
	}
}

func TestCollector_LogBuffer(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) != 10 {
		t.Errorf("expected 10 logs, got %d", len(logs))
	}
}

func TestCollector_LogBufferEviction(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 600; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) > 500 {
		t.Errorf("log buffer should not exceed capacity, got %d", len(logs))
	}
}

func TestCollector_SubscribeUnsubscribe(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	ch := c.Subscribe()
	c.Unsubscribe(ch)

	// Should not panic or deadlock.
	c.SetPhase("test")
}

func TestCollector_Elapsed(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("streaming")
	time.Sleep(50 * time.Millisecond)
	snap := c.Snapshot()
	if snap.ElapsedSec < 0.04 {
		t.Errorf("ElapsedSec = %f, expected > 0.04", snap.ElapsedSec)
	}
}

func TestSlidingWindow_Rate(t *testing.T) {
	w := newSlidingWindow(5 * time.Second)
	now := time.Now()

	w.Add(now.Add(-3*time.Second), 30)
	w.Add(now.Add(-2*time.Second), 20)
	w.Add(now.Add(-1*time.Second), 10)

	rate := w.Rate()
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Eviction(t *testing.T) {
	w := newSlidingWindow(100 * time.Millisecond)
	now := time.Now()

	w.Add(now.Add(-200*time.Millisecond), 100)
	w.Add(now, 50)

	rate := w.Rate()
	// The old entry should be evicted, leaving only the 50 entry.
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Empty(t *testing.T) {
	w := newSlidingWindow(time.Second)
	if r := w.Rate(); r != 0 {
		t.Errorf("Rate() on empty window = %f, want 0", r)
	}
}
