package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog"
)

// SessionConfig carries every recognized START_REPLICATION option.
// ConnConfig is the opaque connection parameters accepted by pgconn; the
// caller is responsible for setting host, port, database, credentials,
// application name, and TLS mode on it.
type SessionConfig struct {
	ConnConfig            *pgconn.Config
	SlotName              string
	PublicationName       string
	ProtocolVersion       int
	StartLSN              string
	IncludeCustomMessages bool
}

func (c SessionConfig) startLSN() string {
	if c.StartLSN == "" {
		return "0/00000000"
	}
	return c.StartLSN
}

func (c SessionConfig) protocolVersion() int {
	if c.ProtocolVersion == 0 {
		return 1
	}
	return c.ProtocolVersion
}

// ReplicationSession owns one CopyBoth replication connection. It is a
// scoped resource: Dial acquires the connection and starts replication;
// Dispose releases it. Dispose is idempotent and one-shot.
//
// The session is pull-driven: Pull blocks until exactly one complete
// CopyData frame has arrived, matching the "pause between pulls" model a
// streaming driver would otherwise require an explicit resume/pause call
// for. Because pgconn.PgConn.ReceiveMessage only reads when invoked, "pull"
// and "pause until pulled again" are the same operation here.
type ReplicationSession struct {
	conn   *pgconn.PgConn
	logger zerolog.Logger
	cfg    SessionConfig

	aborted bool
}

// Dial opens a replication-mode connection and issues START_REPLICATION,
// entering CopyBoth mode. The returned session has not yet pulled any
// frames.
func Dial(ctx context.Context, cfg SessionConfig, logger zerolog.Logger) (*ReplicationSession, error) {
	if cfg.ConnConfig == nil {
		return nil, fmt.Errorf("replication: ConnConfig is required")
	}
	connCfg := cfg.ConnConfig.Copy()
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("replication: connect: %w", err)
	}

	sess := &ReplicationSession{
		conn:   conn,
		logger: logger.With().Str("component", "replication-session").Logger(),
		cfg:    cfg,
	}

	if err := sess.startReplication(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return sess, nil
}

func (s *ReplicationSession) startReplication(ctx context.Context) error {
	sql := fmt.Sprintf(
		`START_REPLICATION SLOT %q LOGICAL %s (proto_version '%d', publication_names '%s', messages '%t')`,
		s.cfg.SlotName, s.cfg.startLSN(), s.cfg.protocolVersion(), s.cfg.PublicationName, s.cfg.IncludeCustomMessages,
	)
	mrr := s.conn.Exec(ctx, sql)
	for mrr.NextResult() {
	}
	if err := mrr.Close(); err != nil {
		return fmt.Errorf("replication: START_REPLICATION: %w", err)
	}
	s.logger.Info().
		Str("slot", s.cfg.SlotName).
		Str("publication", s.cfg.PublicationName).
		Str("start_lsn", s.cfg.startLSN()).
		Msg("entered CopyBoth replication mode")
	return nil
}

// Pull blocks for exactly one complete CopyData payload and returns its raw
// bytes, unwrapped of the CopyData framing but still carrying its own 'k'/'w'
// envelope tag (see WalEnvelopeDecoder). A clean server disconnect
// ("Connection terminated"), a cancelled ctx, or a server CopyDone yields
// CleanEndError; an ErrorResponse or any other connection-level failure
// yields TransportError. Once the session is aborted, Pull always returns
// CleanEndError without touching the connection.
func (s *ReplicationSession) Pull(ctx context.Context) ([]byte, error) {
	if s.aborted {
		return nil, &CleanEndError{Reason: "session disposed"}
	}

	for {
		msg, err := s.conn.ReceiveMessage(ctx)
		if err != nil {
			if s.aborted {
				return nil, &CleanEndError{Reason: "session disposed"}
			}
			if isCleanDisconnect(err) {
				return nil, &CleanEndError{Reason: "Connection terminated"}
			}
			return nil, &TransportError{Err: err}
		}

		switch m := msg.(type) {
		case *pgproto3.CopyData:
			return m.Data, nil
		case *pgproto3.ErrorResponse:
			return nil, &TransportError{Err: fmt.Errorf("server error: %s: %s (SQLSTATE %s)", m.Severity, m.Message, m.Code)}
		case *pgproto3.CopyDone:
			return nil, &CleanEndError{Reason: "end of copy"}
		default:
			continue
		}
	}
}

func isCleanDisconnect(err error) bool {
	return strings.Contains(err.Error(), "Connection terminated") || errors.Is(err, context.Canceled)
}

// Acknowledge builds a standby-status-update packet reporting receipt,
// flush, and apply of ackLSN and writes it on the CopyBoth writable side.
// It is safe to call at any time relative to Pull; the two halves of
// CopyBoth are logically independent.
func (s *ReplicationSession) Acknowledge(ctx context.Context, ackLSN string) error {
	if s.aborted {
		return nil
	}
	pkt, err := BuildAckPacket(ackLSN, time.Now())
	if err != nil {
		return err
	}
	frontend := s.conn.Frontend()
	frontend.Send(&pgproto3.CopyData{Data: pkt})
	if err := frontend.Flush(); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Dispose performs one-shot termination: mark aborted (suppressing further
// surfaced errors), send a CopyDone to end the copy cleanly, and close the
// connection. Dispose is idempotent.
func (s *ReplicationSession) Dispose(ctx context.Context) error {
	if s.aborted {
		return nil
	}
	s.aborted = true

	frontend := s.conn.Frontend()
	frontend.Send(&pgproto3.CopyDone{})
	_ = frontend.Flush()

	return s.conn.Close(ctx)
}
