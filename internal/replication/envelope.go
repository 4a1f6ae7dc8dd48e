package replication

import "time"

const (
	envelopeKeepalive = 'k'
	envelopeWalData   = 'w'
)

// WalFrameKind discriminates the two outer CopyData envelopes the server
// sends during replication streaming.
type WalFrameKind byte

const (
	WalFrameKeepalive WalFrameKind = iota
	WalFrameWalData
)

// KeepaliveFrame is a server heartbeat that also carries its current WAL
// position. shouldRespond signals that the server is waiting on a standby
// status update; neither the envelope decoder nor ReplicationSession sends
// one — that policy belongs to the consumer of the decoded frames, which
// acknowledges through DecoderStage.Acknowledge.
type KeepaliveFrame struct {
	CurrentLSN    string
	SystemTime    time.Time
	ShouldRespond bool
}

// WalDataFrame carries one decoded pgoutput message along with the WAL
// positions the server attached to it.
type WalDataFrame struct {
	MessageLSN string
	CurrentLSN string
	SystemTime time.Time
	Payload    *ChangeEvent
}

// WalFrame is the outer envelope around every inbound CopyData payload.
type WalFrame struct {
	Kind      WalFrameKind
	Keepalive *KeepaliveFrame
	WalData   *WalDataFrame
}

// WalEnvelopeDecoder strips the outer 'k'/'w' envelope from a CopyData
// payload and, for waldata frames, delegates the remainder to a
// PgOutputDecoder.
type WalEnvelopeDecoder struct {
	inner *PgOutputDecoder
}

// NewWalEnvelopeDecoder wraps inner, the pgoutput message decoder that owns
// the relation/type caches for the session.
func NewWalEnvelopeDecoder(inner *PgOutputDecoder) *WalEnvelopeDecoder {
	return &WalEnvelopeDecoder{inner: inner}
}

// Decode parses one complete CopyData payload into a WalFrame.
func (d *WalEnvelopeDecoder) Decode(buf []byte) (*WalFrame, error) {
	if len(buf) == 0 {
		return nil, newProtocolError("empty WAL envelope")
	}
	tag := buf[0]
	r := NewReader(buf[1:])

	switch tag {
	case envelopeKeepalive:
		lsn, err := r.ReadLSN()
		if err != nil {
			return nil, wrapOOB(err)
		}
		ts, err := r.ReadTimestamp()
		if err != nil {
			return nil, wrapOOB(err)
		}
		respond, err := r.ReadU8()
		if err != nil {
			return nil, wrapOOB(err)
		}
		return &WalFrame{
			Kind: WalFrameKeepalive,
			Keepalive: &KeepaliveFrame{
				CurrentLSN:    lsn,
				SystemTime:    ts,
				ShouldRespond: respond == 1,
			},
		}, nil

	case envelopeWalData:
		messageLSN, err := r.ReadLSN()
		if err != nil {
			return nil, wrapOOB(err)
		}
		currentLSN, err := r.ReadLSN()
		if err != nil {
			return nil, wrapOOB(err)
		}
		ts, err := r.ReadTimestamp()
		if err != nil {
			return nil, wrapOOB(err)
		}
		payload, err := d.inner.Decode(r.Remaining())
		if err != nil {
			return nil, err
		}
		return &WalFrame{
			Kind: WalFrameWalData,
			WalData: &WalDataFrame{
				MessageLSN: messageLSN,
				CurrentLSN: currentLSN,
				SystemTime: ts,
				Payload:    payload,
			},
		}, nil

	default:
		return nil, newProtocolError("unexpected WAL envelope tag %q", rune(tag))
	}
}
