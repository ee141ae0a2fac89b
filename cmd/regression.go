package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/output"
	"github.com/atparisi/revq/internal/regression"
	"github.com/atparisi/revq/internal/store"
)

var (
	regScript   string
	regCategory string
	regStatus   string
	regSeverity string
	regNote     string
	regBy       string

	// record flag payload, category-specific
	regBaselineStatus   string
	regCurrentStatus    string
	regBaselineDecision string
	regCurrentDecision  string
	regMetricName       string
	regBaselineValue    float64
	regCurrentValue     float64
	regChangePct        float64
)

var regressionCmd = &cobra.Command{
	Use:   "regression",
	Short: "Track validation regressions",
	Long: `Track recurring failures per test script. Repeat detections of the
same (script, category) update the active regression instead of
creating duplicates; passing a later review resolves them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionListRun()
	},
}

var regressionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List regressions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionListRun()
	},
}

var regressionShowCmd = &cobra.Command{
	Use:   "show <regression-id>",
	Short: "Show regression details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionShowRun(args[0])
	},
}

var regressionRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a detected regression",
	Long: `Record a regression detection. Severity is derived from the category:
status regressions are high, llm flips are medium, and metric
regressions scale with the percentage change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionRecordRun()
	},
}

var regressionResolveCmd = &cobra.Command{
	Use:   "resolve <regression-id>",
	Short: "Resolve an active regression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionResolveRun(args[0])
	},
}

var regressionDefectCmd = &cobra.Command{
	Use:   "defect <regression-id>",
	Short: "Create a defect from a regression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return regressionDefectRun(args[0])
	},
}

func init() {
	regressionListCmd.Flags().StringVar(&regScript, "script", "", "Filter by script identifier")
	regressionListCmd.Flags().StringVar(&regCategory, "category", "", "Filter by category: status, llm, metric")
	regressionListCmd.Flags().StringVar(&regStatus, "status", "", "Filter by status: active, resolved")
	regressionListCmd.Flags().StringVar(&regSeverity, "severity", "", "Filter by severity: low, medium, high")

	regressionRecordCmd.Flags().StringVar(&regScript, "script", "", "Test script identifier (required)")
	regressionRecordCmd.Flags().StringVar(&regCategory, "category", "", "Category: status, llm, metric (required)")
	regressionRecordCmd.Flags().StringVar(&regBaselineStatus, "baseline-status", "", "Baseline run status (status category)")
	regressionRecordCmd.Flags().StringVar(&regCurrentStatus, "current-status", "", "Current run status (status category)")
	regressionRecordCmd.Flags().StringVar(&regBaselineDecision, "baseline-decision", "", "Baseline judge decision (llm category)")
	regressionRecordCmd.Flags().StringVar(&regCurrentDecision, "current-decision", "", "Current judge decision (llm category)")
	regressionRecordCmd.Flags().StringVar(&regMetricName, "metric", "", "Metric name (metric category)")
	regressionRecordCmd.Flags().Float64Var(&regBaselineValue, "baseline-value", 0, "Baseline metric value")
	regressionRecordCmd.Flags().Float64Var(&regCurrentValue, "current-value", 0, "Current metric value")
	regressionRecordCmd.Flags().Float64Var(&regChangePct, "change-pct", 0, "Percentage change between runs")
	_ = regressionRecordCmd.MarkFlagRequired("script")
	_ = regressionRecordCmd.MarkFlagRequired("category")

	regressionResolveCmd.Flags().StringVar(&regBy, "by", "", "Resolver identifier (default from config)")
	regressionResolveCmd.Flags().StringVar(&regNote, "note", "", "Resolution note")

	regressionDefectCmd.Flags().StringVar(&regBy, "by", "", "Reporter identifier (default from config)")
	regressionDefectCmd.Flags().StringVar(&regSeverity, "severity", "", "Override severity: low, medium, high")
	regressionDefectCmd.Flags().StringVar(&regNote, "notes", "", "Additional notes for the defect")

	regressionCmd.AddCommand(regressionListCmd)
	regressionCmd.AddCommand(regressionShowCmd)
	regressionCmd.AddCommand(regressionRecordCmd)
	regressionCmd.AddCommand(regressionResolveCmd)
	regressionCmd.AddCommand(regressionDefectCmd)
	rootCmd.AddCommand(regressionCmd)
}

func regressionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	regs, err := s.ListRegressions(ctx, store.RegressionFilter{
		ScriptID: regScript,
		Category: models.RegressionCategory(regCategory),
		Status:   models.RegressionStatus(regStatus),
		Severity: models.RegressionSeverity(regSeverity),
	})
	if err != nil {
		return err
	}

	if len(regs) == 0 {
		ui.Info("No regressions found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Script", "Category", "Severity", "Status", "Seen", "Last Seen", "Defect"})
	for _, r := range regs {
		status := string(r.Status)
		if r.Status == models.RegressionStatusActive {
			status = output.Red(status)
		} else {
			status = output.Green(status)
		}
		defect := ""
		if r.LinkedDefectID != "" {
			defect = shortID(r.LinkedDefectID)
		}
		_ = table.Append([]string{
			shortID(r.ID),
			r.ScriptID,
			string(r.Category),
			output.SeverityColor(string(r.Severity)),
			status,
			fmt.Sprintf("%d", r.OccurrenceCount),
			r.LastSeenDate.Format("2006-01-02 15:04"),
			defect,
		})
	}
	_ = table.Render()
	return nil
}

func regressionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := s.GetRegression(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  script %s\n", output.Cyan(shortID(r.ID)), r.ScriptID)
	fmt.Fprintf(ui.Out, "  Category:    %s\n", r.Category)
	fmt.Fprintf(ui.Out, "  Severity:    %s\n", output.SeverityColor(string(r.Severity)))
	fmt.Fprintf(ui.Out, "  Status:      %s\n", r.Status)
	fmt.Fprintf(ui.Out, "  Detected:    %s\n", r.DetectionDate.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Last seen:   %s (%d occurrence(s))\n", r.LastSeenDate.Format(time.RFC3339), r.OccurrenceCount)

	switch r.Category {
	case models.RegressionCategoryStatus:
		fmt.Fprintf(ui.Out, "  Change:      %s -> %s\n", r.Details.BaselineStatus, r.Details.CurrentStatus)
	case models.RegressionCategoryLLM:
		fmt.Fprintf(ui.Out, "  Change:      %s -> %s\n", r.Details.BaselineDecision, r.Details.CurrentDecision)
	case models.RegressionCategoryMetric:
		fmt.Fprintf(ui.Out, "  Metric:      %s %.4f -> %.4f (%+.1f%%)\n",
			r.Details.MetricName, r.Details.BaselineValue, r.Details.CurrentValue, r.Details.ChangePct)
	}

	if r.LinkedDefectID != "" {
		fmt.Fprintf(ui.Out, "  Defect:      %s\n", r.LinkedDefectID)
	}
	if r.ResolvedAt != nil {
		fmt.Fprintf(ui.Out, "  Resolved:    %s by %s\n", r.ResolvedAt.Format(time.RFC3339), r.ResolvedBy)
		if r.ResolutionNote != "" {
			fmt.Fprintf(ui.Out, "  Note:        %s\n", r.ResolutionNote)
		}
	}
	fmt.Fprintf(ui.Out, "  Full ID:     %s\n", r.ID)
	return nil
}

func regressionRecordRun() error {
	t, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	d := regression.Detection{
		ScriptID: regScript,
		Category: models.RegressionCategory(regCategory),
		Details: models.RegressionDetails{
			BaselineStatus:   regBaselineStatus,
			CurrentStatus:    regCurrentStatus,
			BaselineDecision: regBaselineDecision,
			CurrentDecision:  regCurrentDecision,
			MetricName:       regMetricName,
			BaselineValue:    regBaselineValue,
			CurrentValue:     regCurrentValue,
			ChangePct:        regChangePct,
		},
	}

	if dryRun {
		ui.DryRunMsg("Would record %s regression for script %s", regCategory, regScript)
		return nil
	}

	r, created, err := t.Record(ctx, d)
	if err != nil {
		return fmt.Errorf("record regression: %w", err)
	}

	if created {
		ui.Success("Recorded regression %s (%s, severity %s)",
			output.Cyan(shortID(r.ID)), r.Category, output.SeverityColor(string(r.Severity)))
	} else {
		ui.Info("Updated existing regression %s (occurrence %d)",
			output.Cyan(shortID(r.ID)), r.OccurrenceCount)
	}
	return nil
}

func regressionResolveRun(id string) error {
	t, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()
	resolver := validatorID(regBy)

	if dryRun {
		ui.DryRunMsg("Would resolve regression %s as %s", id, resolver)
		return nil
	}

	if err := t.Resolve(ctx, id, resolver, regNote); err != nil {
		return err
	}

	ui.Success("Resolved regression %s", output.Cyan(shortID(id)))
	return nil
}

func regressionDefectRun(id string) error {
	t, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()
	reporter := validatorID(regBy)

	if dryRun {
		ui.DryRunMsg("Would create defect from regression %s", id)
		return nil
	}

	d, err := t.CreateDefectFromRegression(ctx, id, reporter, models.RegressionSeverity(regSeverity), regNote)
	if err != nil {
		return fmt.Errorf("create defect: %w", err)
	}

	ui.Success("Created defect %s: %s", output.Cyan(shortID(d.ID)), d.Title)
	return nil
}
