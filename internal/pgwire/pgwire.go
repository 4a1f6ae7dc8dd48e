// Package pgwire provides thin helpers around pgconn.PgConn used to prepare
// a connection before a replication.ReplicationSession takes it over, and to
// manage the publication/slot objects a session depends on. It does not
// reimplement any part of the wire protocol; pgconn and pgproto3 remain the
// driver.
package pgwire

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Conn wraps a pgconn.PgConn with setup/admin helpers for replication.
type Conn struct {
	conn   *pgconn.PgConn
	logger zerolog.Logger
}

// NewConn creates a Conn wrapper.
func NewConn(conn *pgconn.PgConn, logger zerolog.Logger) *Conn {
	return &Conn{
		conn:   conn,
		logger: logger.With().Str("component", "pgwire").Logger(),
	}
}

// Raw returns the underlying pgconn.PgConn.
func (c *Conn) Raw() *pgconn.PgConn {
	return c.conn
}

// EnsurePublication creates a publication for the given tables if it does
// not already exist. tables may be empty, in which case the publication
// covers all tables ("FOR ALL TABLES").
func (c *Conn) EnsurePublication(ctx context.Context, name string, tables []string) error {
	exists, err := c.publicationExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check publication %s: %w", name, err)
	}
	if exists {
		return nil
	}

	target := "FOR ALL TABLES"
	if len(tables) > 0 {
		quoted := make([]string, len(tables))
		for i, t := range tables {
			quoted[i] = quoteIdent(t)
		}
		target = "FOR TABLE " + strings.Join(quoted, ", ")
	}

	sql := fmt.Sprintf("CREATE PUBLICATION %s %s", quoteIdent(name), target)
	if _, err := c.exec(ctx, sql); err != nil {
		return fmt.Errorf("create publication %s: %w", name, err)
	}
	c.logger.Info().Str("publication", name).Msg("publication created")
	return nil
}

func (c *Conn) publicationExists(ctx context.Context, name string) (bool, error) {
	sql := fmt.Sprintf("SELECT 1 FROM pg_publication WHERE pubname = '%s'", escapeLiteral(name))
	rows, err := c.exec(ctx, sql)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// EnsureReplicationSlot creates a logical replication slot using the
// pgoutput plugin if it does not already exist. It returns the slot's
// consistent point (the LSN at which streaming may safely begin) when the
// slot is newly created, or an empty string if the slot already existed.
func (c *Conn) EnsureReplicationSlot(ctx context.Context, name string) (string, error) {
	exists, err := c.slotExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("check replication slot %s: %w", name, err)
	}
	if exists {
		return "", nil
	}

	sql := fmt.Sprintf("CREATE_REPLICATION_SLOT %s LOGICAL pgoutput NOEXPORT_SNAPSHOT", quoteIdent(name))
	mrr := c.conn.Exec(ctx, sql)
	var consistentPoint string
	for mrr.NextResult() {
		buf := mrr.ResultReader().Read()
		if buf.Err != nil {
			mrr.Close()
			return "", buf.Err
		}
		for _, row := range buf.Rows {
			if len(row) >= 2 {
				consistentPoint = string(row[1])
			}
		}
	}
	if err := mrr.Close(); err != nil {
		return "", fmt.Errorf("create replication slot %s: %w", name, err)
	}
	c.logger.Info().Str("slot", name).Str("consistent_point", consistentPoint).Msg("replication slot created")
	return consistentPoint, nil
}

func (c *Conn) slotExists(ctx context.Context, name string) (bool, error) {
	sql := fmt.Sprintf("SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s'", escapeLiteral(name))
	rows, err := c.exec(ctx, sql)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DropReplicationSlot drops a replication slot if it exists.
func (c *Conn) DropReplicationSlot(ctx context.Context, name string) error {
	exists, err := c.slotExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check replication slot %s: %w", name, err)
	}
	if !exists {
		return nil
	}
	sql := fmt.Sprintf("SELECT pg_drop_replication_slot('%s')", escapeLiteral(name))
	if _, err := c.exec(ctx, sql); err != nil {
		return fmt.Errorf("drop replication slot %s: %w", name, err)
	}
	return nil
}

// exec runs sql and returns the number of rows across all result sets.
func (c *Conn) exec(ctx context.Context, sql string) (int, error) {
	mrr := c.conn.Exec(ctx, sql)
	var count int
	for mrr.NextResult() {
		buf := mrr.ResultReader().Read()
		if buf.Err != nil {
			mrr.Close()
			return 0, buf.Err
		}
		count += len(buf.Rows)
	}
	return count, mrr.Close()
}

// Close closes the underlying connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
