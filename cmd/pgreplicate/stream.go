package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jfoltran/pgreplicate/internal/metrics"
	"github.com/jfoltran/pgreplicate/internal/originfilter"
	"github.com/jfoltran/pgreplicate/internal/replication"
	"github.com/jfoltran/pgreplicate/internal/server"
	"github.com/jfoltran/pgreplicate/internal/tui"
	"github.com/jfoltran/pgreplicate/pkg/lsn"
)

var (
	streamStartLSN string
	streamServe    bool
	streamTUI      bool
	originID       string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Consume the logical replication stream, tally decoded events, and acknowledge progress",
	Long: `Stream connects to the replication slot, decodes every pgoutput frame
into a ChangeEvent, and acknowledges progress back to the server.
The replication slot and publication must already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if streamStartLSN != "" {
			cfg.Replication.StartLSN = streamStartLSN
		}

		collector := metrics.NewCollector(logger)
		defer collector.Close()

		persister, err := metrics.NewStatePersister(collector, logger)
		if err == nil {
			persister.Start()
			defer persister.Stop()
		}

		if streamServe {
			srv := server.New(collector, &cfg, logger)
			srv.StartBackground(cmd.Context(), cfg.Dashboard.ListenAddr)
		}

		streamLogger := logger
		if streamTUI {
			// Route logs through the collector's ring buffer instead of stderr,
			// which the alt screen would otherwise cover.
			streamLogger = zerolog.New(metrics.NewLogWriter(collector)).With().Timestamp().Logger().Level(logger.GetLevel())
		}

		if streamTUI {
			errCh := make(chan error, 1)
			go func() {
				errCh <- runStream(cmd.Context(), collector, streamLogger)
			}()

			if err := tui.Run(collector); err != nil {
				return err
			}
			return <-errCh
		}

		return runStream(cmd.Context(), collector, streamLogger)
	},
}

func runStream(ctx context.Context, collector *metrics.Collector, log zerolog.Logger) error {
	collector.SetPhase("connecting")

	connCfg, err := pgconn.ParseConfig(cfg.Source.ReplicationDSN())
	if err != nil {
		return err
	}

	sessCfg := replication.SessionConfig{
		ConnConfig:            connCfg,
		SlotName:              cfg.Replication.SlotName,
		PublicationName:       cfg.Replication.Publication,
		ProtocolVersion:       cfg.Replication.ProtocolVersion,
		StartLSN:              cfg.Replication.StartLSN,
		IncludeCustomMessages: cfg.Replication.IncludeCustomMessages,
	}

	sess, err := replication.Dial(ctx, sessCfg, log)
	if err != nil {
		collector.RecordError(err)
		return err
	}
	defer sess.Dispose(ctx)

	stage := replication.NewDecoderStage(sess, nil)
	filter := originfilter.New(originID, log)

	frames := make(chan *replication.WalFrame, 16)
	filtered := filter.Run(ctx, frames)

	collector.SetPhase("streaming")

	go func() {
		defer close(frames)
		for {
			frame, err := stage.Next(ctx)
			if err != nil {
				var clean *replication.CleanEndError
				if errors.As(err, &clean) {
					log.Info().Str("reason", clean.Reason).Msg("replication stream ended")
					return
				}
				collector.RecordError(err)
				log.Err(err).Msg("pull/decode failed")
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for frame := range filtered {
		if err := handleFrame(ctx, stage, collector, frame); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func handleFrame(ctx context.Context, stage *replication.DecoderStage, collector *metrics.Collector, frame *replication.WalFrame) error {
	switch frame.Kind {
	case replication.WalFrameKeepalive:
		collector.RecordCurrentLSN(mustParseLSN(frame.Keepalive.CurrentLSN))
		if frame.Keepalive.ShouldRespond {
			if err := stage.Acknowledge(ctx, frame.Keepalive.CurrentLSN); err != nil {
				return err
			}
			collector.RecordAcked(mustParseLSN(frame.Keepalive.CurrentLSN))
		}
	case replication.WalFrameWalData:
		collector.RecordCurrentLSN(mustParseLSN(frame.WalData.CurrentLSN))
		collector.RecordEvent(frame.WalData.Payload)
		if frame.WalData.Payload.Kind == replication.EventCommit {
			if err := stage.Acknowledge(ctx, frame.WalData.Payload.Commit.EndLSN); err != nil {
				return err
			}
			collector.RecordAcked(mustParseLSN(frame.WalData.Payload.Commit.EndLSN))
		}
	}
	return nil
}

func mustParseLSN(s string) lsn.LSN {
	v, err := lsn.Parse(s)
	if err != nil {
		return 0
	}
	return v
}

func init() {
	streamCmd.Flags().StringVar(&streamStartLSN, "start-lsn", "", "LSN to start streaming from (e.g. 0/1234ABC)")
	streamCmd.Flags().BoolVar(&streamServe, "serve", false, "Also start the HTTP/WS status server")
	streamCmd.Flags().StringVar(&cfg.Dashboard.ListenAddr, "listen", "", `Status server listen address (default: server.listen and server.port from the config file or PGREPLICATE_LISTEN/PGREPLICATE_PORT, else "127.0.0.1:8090")`)
	streamCmd.Flags().BoolVar(&streamTUI, "tui", false, "Show terminal dashboard during streaming")
	rootCmd.AddCommand(streamCmd)
}
