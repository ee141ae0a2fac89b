package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/output"
	"github.com/atparisi/revq/internal/store"
)

var (
	resultScript     string
	resultLanguage   string
	resultNative     bool
	resultListScript string
	resultLimit      int
)

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Manage validation results",
	Long:  "Track validation results awaiting consensus evaluation and review.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resultListRun()
	},
}

var resultAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a validation result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resultAddRun()
	},
}

var resultListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List validation results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resultListRun()
	},
}

var resultShowCmd = &cobra.Command{
	Use:   "show <result-id>",
	Short: "Show a validation result with its review history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resultShowRun(args[0])
	},
}

func init() {
	resultAddCmd.Flags().StringVar(&resultScript, "script", "", "Test script identifier (required)")
	resultAddCmd.Flags().StringVar(&resultLanguage, "language", "", "Language code, e.g. de-DE")
	resultAddCmd.Flags().BoolVar(&resultNative, "native-speaker", false, "Review requires a native speaker")
	_ = resultAddCmd.MarkFlagRequired("script")

	resultListCmd.Flags().StringVar(&resultListScript, "script", "", "Filter by script identifier")
	resultListCmd.Flags().IntVar(&resultLimit, "limit", 50, "Maximum results to show")

	resultCmd.AddCommand(resultAddCmd)
	resultCmd.AddCommand(resultListCmd)
	resultCmd.AddCommand(resultShowCmd)
	rootCmd.AddCommand(resultCmd)
}

func resultAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would add validation result for script %s", resultScript)
		return nil
	}

	r := &models.ValidationResult{
		ScriptID:              resultScript,
		LanguageCode:          resultLanguage,
		RequiresNativeSpeaker: resultNative,
	}
	if err := s.CreateValidationResult(ctx, r); err != nil {
		return fmt.Errorf("create validation result: %w", err)
	}

	ui.Success("Created validation result %s for script %s", output.Cyan(shortID(r.ID)), resultScript)
	return nil
}

func resultListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	results, err := s.ListValidationResults(ctx, resultListScript, resultLimit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		ui.Info("No validation results found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Script", "Lang", "Outcome", "Confidence", "Agreement", "Created"})
	for _, r := range results {
		_ = table.Append([]string{
			shortID(r.ID),
			r.ScriptID,
			r.LanguageCode,
			output.OutcomeColor(string(r.Outcome)),
			formatScore(r.Confidence, r.Outcome),
			formatScore(r.AgreementRatio, r.Outcome),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func resultShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := findResult(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  script %s\n", output.Cyan(shortID(r.ID)), r.ScriptID)
	fmt.Fprintf(ui.Out, "  Outcome:     %s\n", output.OutcomeColor(string(r.Outcome)))
	if r.Reason != "" {
		fmt.Fprintf(ui.Out, "  Reason:      %s\n", r.Reason)
	}
	if r.Outcome != models.OutcomePending {
		fmt.Fprintf(ui.Out, "  Confidence:  %.3f\n", r.Confidence)
		fmt.Fprintf(ui.Out, "  Agreement:   %.3f\n", r.AgreementRatio)
	}
	if r.LanguageCode != "" {
		fmt.Fprintf(ui.Out, "  Language:    %s\n", r.LanguageCode)
	}
	if r.RequiresNativeSpeaker {
		fmt.Fprintf(ui.Out, "  Native:      required\n")
	}
	if r.PolicyID != "" {
		fmt.Fprintf(ui.Out, "  Policy:      %s\n", shortID(r.PolicyID))
	}
	fmt.Fprintf(ui.Out, "  Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:     %s\n", r.ID)

	// Human review audit trail
	validations, err := s.ListHumanValidations(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(validations) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Reviews:\n")
		for _, v := range validations {
			decision := output.Green(string(v.Decision))
			if v.Decision == models.DecisionFail {
				decision = output.Red(string(v.Decision))
			}
			fmt.Fprintf(ui.Out, "    %s  %s by %s (%s)\n",
				v.CreatedAt.Format("2006-01-02 15:04"),
				decision,
				v.ValidatorID,
				v.TimeSpent.Round(time.Second))
			if v.Feedback != "" {
				fmt.Fprintf(ui.Out, "      %s\n", v.Feedback)
			}
		}
	}

	return nil
}

func formatScore(v float64, outcome models.ReviewOutcome) string {
	if outcome == models.OutcomePending {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

// findResult finds a validation result by full ID or prefix match.
func findResult(ctx context.Context, s store.Store, id string) (*models.ValidationResult, error) {
	if r, err := s.GetValidationResult(ctx, id); err == nil {
		return r, nil
	}

	upper := strings.ToUpper(id)
	results, err := s.ListValidationResults(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	var matches []*models.ValidationResult
	for _, r := range results {
		if strings.HasPrefix(r.ID, upper) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("validation result not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous result ID %s: matches %d results", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
