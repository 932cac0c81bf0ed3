// Command correlate ingests NDJSON event logs into a SQLite store and
// matches T0/HIT pairs into a timing-offset report.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"steelcitybridge.dev/config"
	"steelcitybridge.dev/correlate"
	"steelcitybridge.dev/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "correlate: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "correlate",
		Short: "Ingest event logs into SQLite and correlate T0/HIT pairs",
	}
	root.AddCommand(ingestCmd(), reportCmd())
	return root
}

func ingestCmd() *cobra.Command {
	var (
		dbPath     string
		logDir     string
		filePrefix string
		session    string
		limit      int
		follow     bool
		fromStart  bool
		pollEvery  time.Duration
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest one NDJSON log file, or tail the current daily log with --follow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("db") {
					dbPath = cfg.Correlator.DBPath
				}
				if !cmd.Flags().Changed("dir") {
					logDir = cfg.Logging.Dir
				}
				if filePrefix == "" {
					filePrefix = cfg.Logging.FilePrefix
				}
			}
			if filePrefix == "" {
				filePrefix = "events"
			}

			db, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("correlate: open store: %w", err)
			}
			defer db.Close()

			if follow {
				fo, err := store.NewFollower(db, logDir, filePrefix, fromStart)
				if err != nil {
					return fmt.Errorf("correlate: follow: %w", err)
				}
				defer fo.Close()
				fmt.Fprintf(os.Stderr, "following %s (prefix %q) every %s\n", logDir, filePrefix, pollEvery)
				ticker := time.NewTicker(pollEvery)
				defer ticker.Stop()
				for range ticker.C {
					n, err := fo.Poll(time.Now())
					if err != nil {
						return fmt.Errorf("correlate: poll: %w", err)
					}
					if n > 0 {
						fmt.Fprintf(os.Stderr, "ingested %d record(s)\n", n)
					}
				}
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("correlate: ingest requires a log file path unless --follow is set")
			}
			n, err := store.IngestFile(db, args[0], session, limit)
			if err != nil {
				return fmt.Errorf("correlate: ingest %s: %w", args[0], err)
			}
			fmt.Printf("Ingested %d record(s) from %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config to source defaults from")
	cmd.Flags().StringVar(&dbPath, "db", "events.db", "SQLite database path")
	cmd.Flags().StringVar(&logDir, "dir", "logs", "directory holding daily NDJSON log files")
	cmd.Flags().StringVar(&filePrefix, "prefix", "", "daily log file prefix (defaults to \"events\")")
	cmd.Flags().StringVar(&session, "session", "", "restrict ingestion to a single session id")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many records (0 = unlimited)")
	cmd.Flags().BoolVar(&follow, "follow", false, "tail the current daily log, reopening across day rollovers")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "when following, start at the beginning of today's file instead of its current end")
	cmd.Flags().DurationVar(&pollEvery, "poll", 2*time.Second, "poll interval in --follow mode")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		dbPath   string
		session  string
		maxLagMs float64
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Match T0/HIT pairs and write a CSV offset report",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("correlate: open store: %w", err)
			}
			defer db.Close()

			events, err := correlate.LoadEvents(db, session)
			if err != nil {
				return fmt.Errorf("correlate: load events: %w", err)
			}
			matches := correlate.GenerateMatches(events, maxLagMs)
			if len(matches) == 0 {
				fmt.Println("No matches found with the given criteria.")
				return nil
			}
			if err := correlate.WriteCSV(matches, outPath); err != nil {
				return fmt.Errorf("correlate: write csv: %w", err)
			}
			summary := correlate.Summarize(matches)
			fmt.Printf("Wrote %d matched pairs to %s\n", summary.Count, outPath)
			fmt.Printf("Sessions with matches: %d\n", summary.Sessions)
			fmt.Printf("Mean offset: %.2f ms (std: %.2f ms)\n", summary.MeanOffsetMs, summary.StdDevMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "events.db", "SQLite database path")
	cmd.Flags().StringVar(&session, "session", "", "restrict the report to a single session id")
	cmd.Flags().Float64Var(&maxLagMs, "max-lag-ms", 500, "maximum T0-to-HIT lag considered a candidate match")
	cmd.Flags().StringVar(&outPath, "out", "matches.csv", "CSV output path")
	return cmd
}
