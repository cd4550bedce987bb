package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/report"
	"github.com/deskline-ops/triagebot/internal/store"
)

var (
	reportCompany string
	reportPeriod  string
	reportJSON    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a KPI report for a company and period",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportCompany, "company", "c", "", "Company name (required)")
	reportCmd.Flags().StringVarP(&reportPeriod, "period", "p", "week", "Reporting period: day, week, or month")
	reportCmd.Flags().StringVar(&reportJSON, "json", "", "Also write the report as JSON to this filename under reports/")
}

func runReport(cmd *cobra.Command, args []string) error {
	printHeader("Report")

	if reportCompany == "" {
		return fmt.Errorf("--company is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	company, err := s.GetOrCreateCompany(ctx, reportCompany)
	if err != nil {
		return fmt.Errorf("look up company %q: %w", reportCompany, err)
	}

	now := time.Now()
	window := report.ComputeWindow(cfg.Report, reportPeriod, now)
	rep, err := report.Build(ctx, s, cfg.SLA, company, window, now)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	fmt.Print(rep.Render())

	if reportJSON != "" {
		path, err := report.WriteJSON(reportJSON, rep)
		if err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
		fmt.Printf("\nwrote %s\n", path)
	}
	return nil
}
