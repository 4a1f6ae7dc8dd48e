package replication

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestBuildAckPacketLength(t *testing.T) {
	pkt, err := BuildAckPacket("0/0", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt) != 34 {
		t.Fatalf("packet length = %d, want 34", len(pkt))
	}
	if pkt[0] != 0x72 {
		t.Errorf("packet[0] = %#x, want 0x72", pkt[0])
	}
	if pkt[33] != 0x00 {
		t.Errorf("packet[33] = %#x, want 0x00", pkt[33])
	}
}

func TestBuildAckPacketIncrementsLow(t *testing.T) {
	pkt, err := BuildAckPacket("0/A", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	written := binary.BigEndian.Uint64(pkt[1:9])
	flushed := binary.BigEndian.Uint64(pkt[9:17])
	applied := binary.BigEndian.Uint64(pkt[17:25])

	want := uint64(0x0B) // 0xA + 1
	if written != want || flushed != want || applied != want {
		t.Errorf("WAL fields = %X/%X/%X, want %X in all three", written, flushed, applied, want)
	}
}

func TestBuildAckPacketOverflowsLowIntoHigh(t *testing.T) {
	pkt, err := BuildAckPacket("3/FFFFFFFF", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	got := binary.BigEndian.Uint64(pkt[1:9])
	want := uint64(4) << 32 // hi=4, lo=0
	if got != want {
		t.Errorf("overflowed LSN = %X, want %X", got, want)
	}
}

func TestBuildAckPacketInvalidLSN(t *testing.T) {
	if _, err := BuildAckPacket("not-an-lsn", time.Now()); err == nil {
		t.Fatal("expected error for invalid LSN")
	}
}

func TestBuildAckPacketClockField(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pkt, err := BuildAckPacket("0/0", now)
	if err != nil {
		t.Fatal(err)
	}
	clock := binary.BigEndian.Uint64(pkt[25:33])
	wantMicros := uint64(now.UnixMicro() - postgresEpochMicros)
	if clock != wantMicros {
		t.Errorf("clock field = %d, want %d", clock, wantMicros)
	}
}
