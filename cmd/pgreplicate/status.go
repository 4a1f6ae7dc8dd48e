package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfoltran/pgreplicate/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last-known replication state",
	Long:  `Status reports the current phase, LSN position, lag, and event tallies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := metrics.ReadStateFile()
		if err != nil {
			fmt.Println("No replication state found. Is a stream running?")
			fmt.Printf("  (error: %v)\n", err)
			return nil
		}

		age := time.Since(snap.Timestamp)
		stale := ""
		if age > 10*time.Second {
			stale = fmt.Sprintf(" (stale — %s ago)", age.Truncate(time.Second))
		}

		fmt.Printf("Phase:         %s%s\n", snap.Phase, stale)
		fmt.Printf("Elapsed:       %.0fs\n", snap.ElapsedSec)
		fmt.Printf("Current LSN:   %s\n", snap.CurrentLSN)
		fmt.Printf("Acked LSN:     %s\n", snap.AckedLSN)
		fmt.Printf("Lag:           %s\n", snap.LagFormatted)
		fmt.Printf("Events:        %.0f/s, %d total\n", snap.EventsPerSec, snap.TotalEvents)
		fmt.Printf("  begin=%d commit=%d relation=%d insert=%d update=%d delete=%d truncate=%d message=%d\n",
			snap.Counts.Begin, snap.Counts.Commit, snap.Counts.Relation,
			snap.Counts.Insert, snap.Counts.Update, snap.Counts.Delete,
			snap.Counts.Truncate, snap.Counts.Message)

		if snap.ErrorCount > 0 {
			fmt.Printf("Errors:        %d (last: %s)\n", snap.ErrorCount, snap.LastError)
		}

		if len(snap.Recent) > 0 {
			fmt.Println("\nRecent events:")
			start := 0
			if len(snap.Recent) > 10 {
				start = len(snap.Recent) - 10
			}
			for _, e := range snap.Recent[start:] {
				fmt.Printf("  %s  %-8s %s\n", e.Time.Format("15:04:05"), e.Kind, e.Table)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
