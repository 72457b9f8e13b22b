package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/reflex/internal/config"
	"github.com/ShayCichocki/reflex/internal/cost"
)

var (
	costJSON  bool
	costSince time.Duration
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report spend from the persisted call ledger",
}

var costReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show spend by provider and operation against budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := reportFor(cfg, time.Now())
		if err != nil {
			return err
		}
		if costJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return report.WriteText(os.Stdout)
	},
}

var costLedgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Export call records as JSON",
	Long: `Export persisted call records as a JSON array.

Examples:
  reflex cost ledger               # every record
  reflex cost ledger --since 24h   # the last day`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		var from time.Time
		if costSince > 0 {
			from = time.Now().Add(-costSince)
		}
		records, err := db.ListCallRecords(from, time.Time{})
		if err != nil {
			return err
		}
		return cost.ExportLedger(os.Stdout, records)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		removed, err := newCache(cfg, db, newLogger(cfg)).SweepExpired()
		if err != nil {
			return err
		}
		remaining, err := db.CountCacheEntries()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entries, %d remain\n", removed, remaining)
		return nil
	},
}

func init() {
	costReportCmd.Flags().BoolVar(&costJSON, "json", false, "Print the report as JSON")
	costLedgerCmd.Flags().DurationVar(&costSince, "since", 0, "Only records newer than this")

	costCmd.AddCommand(costReportCmd)
	costCmd.AddCommand(costLedgerCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
}

// reportFor builds a cost report straight from persisted records.
func reportFor(cfg *config.Config, now time.Time) (cost.Report, error) {
	db, err := openStore(cfg)
	if err != nil {
		return cost.Report{}, err
	}
	defer db.Close()

	records, err := db.ListCallRecords(time.Time{}, time.Time{})
	if err != nil {
		return cost.Report{}, err
	}
	return cost.BuildReport(records, now, cfg.Budget.Daily, cfg.Budget.Weekly), nil
}
