package replication

import "context"

// DecoderStage pairs a ReplicationSession with a WalEnvelopeDecoder: each
// call to Next pulls exactly one raw frame and decodes it, with no
// buffering or reassembly of its own (frames are already message-aligned
// by the session).
type DecoderStage struct {
	session *ReplicationSession
	decoder *WalEnvelopeDecoder
}

// NewDecoderStage wires a session to a fresh pgoutput/envelope decoder
// pair. parserLookup may be nil to use DefaultParserRegistry.
func NewDecoderStage(session *ReplicationSession, parserLookup ParserLookup) *DecoderStage {
	return &DecoderStage{
		session: session,
		decoder: NewWalEnvelopeDecoder(NewPgOutputDecoder(parserLookup)),
	}
}

// Next pulls and decodes the next frame. It returns CleanEndError once the
// session ends normally, TransportError on connection failure, and
// ProtocolError on a malformed frame (which is also fatal to the session).
func (s *DecoderStage) Next(ctx context.Context) (*WalFrame, error) {
	raw, err := s.session.Pull(ctx)
	if err != nil {
		return nil, err
	}
	return s.decoder.Decode(raw)
}

// Acknowledge delegates to the underlying session.
func (s *DecoderStage) Acknowledge(ctx context.Context, ackLSN string) error {
	return s.session.Acknowledge(ctx, ackLSN)
}

// Dispose delegates to the underlying session.
func (s *DecoderStage) Dispose(ctx context.Context) error {
	return s.session.Dispose(ctx)
}
