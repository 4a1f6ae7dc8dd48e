package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"

	"github.com/jfoltran/pgreplicate/internal/pgwire"
)

var initTables []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the publication and replication slot a stream depends on",
	Long: `Init connects to the source database (in plain, non-replication mode)
and creates the publication and logical replication slot named by --slot and
--publication, if they do not already exist. Run this once before the first
"pgreplicate stream" against a database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		connCfg, err := pgconn.ParseConfig(cfg.Source.DSN())
		if err != nil {
			return err
		}
		raw, err := pgconn.ConnectConfig(cmd.Context(), connCfg)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		conn := pgwire.NewConn(raw, logger)
		defer conn.Close(cmd.Context())

		if err := conn.EnsurePublication(cmd.Context(), cfg.Replication.Publication, initTables); err != nil {
			return err
		}

		consistentPoint, err := conn.EnsureReplicationSlot(cmd.Context(), cfg.Replication.SlotName)
		if err != nil {
			return err
		}
		if consistentPoint != "" {
			fmt.Printf("slot %q created, consistent point %s\n", cfg.Replication.SlotName, consistentPoint)
			fmt.Printf("pass --start-lsn %s to \"stream\" to begin exactly there\n", consistentPoint)
		} else {
			fmt.Printf("slot %q already present; publication %q is in place\n", cfg.Replication.SlotName, cfg.Replication.Publication)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringSliceVar(&initTables, "table", nil, "Table to include in the publication (repeatable; default: all tables)")
	rootCmd.AddCommand(initCmd)
}
