package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/output"
	"github.com/atparisi/revq/internal/queue"
	"github.com/atparisi/revq/internal/store"
)

var (
	queueStatus    string
	queueLanguage  string
	queueValidator string
	queueLimit     int
	queueDecision  string
	queueFeedback  string
	queueTimeSpent time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the human review queue",
	Long:  "List, claim, and complete validation results waiting for human review.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueListRun()
	},
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueListRun()
	},
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Claim the highest-priority pending entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueNextRun()
	},
}

var queueClaimCmd = &cobra.Command{
	Use:   "claim <entry-id>",
	Short: "Claim a specific queue entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueClaimRun(args[0])
	},
}

var queueCompleteCmd = &cobra.Command{
	Use:   "complete <entry-id>",
	Short: "Complete a claimed entry with a review decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueCompleteRun(args[0])
	},
}

var queueReleaseCmd = &cobra.Command{
	Use:   "release <entry-id>",
	Short: "Release a claimed entry back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueReleaseRun(args[0])
	},
}

var queueSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release claims held past the timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueSweepRun()
	},
}

func init() {
	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "Filter by status: pending, claimed, completed")
	queueListCmd.Flags().StringVar(&queueLanguage, "language", "", "Filter by language code")
	queueListCmd.Flags().StringVar(&queueValidator, "claimed-by", "", "Filter by claiming validator")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 50, "Maximum entries to show")

	queueNextCmd.Flags().StringVar(&queueValidator, "as", "", "Validator identifier (default from config)")
	queueClaimCmd.Flags().StringVar(&queueValidator, "as", "", "Validator identifier (default from config)")

	queueCompleteCmd.Flags().StringVar(&queueValidator, "as", "", "Validator identifier (default from config)")
	queueCompleteCmd.Flags().StringVar(&queueDecision, "decision", "", "Review decision: pass or fail (required)")
	queueCompleteCmd.Flags().StringVar(&queueFeedback, "feedback", "", "Review feedback")
	queueCompleteCmd.Flags().DurationVar(&queueTimeSpent, "time-spent", 0, "Time spent on the review, e.g. 5m30s")
	_ = queueCompleteCmd.MarkFlagRequired("decision")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueNextCmd)
	queueCmd.AddCommand(queueClaimCmd)
	queueCmd.AddCommand(queueCompleteCmd)
	queueCmd.AddCommand(queueReleaseCmd)
	queueCmd.AddCommand(queueSweepCmd)
	rootCmd.AddCommand(queueCmd)
}

func queueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entries, err := s.ListQueueEntries(ctx, store.QueueFilter{
		Status:       models.QueueStatus(queueStatus),
		LanguageCode: queueLanguage,
		ClaimedBy:    queueValidator,
		Limit:        queueLimit,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		ui.Info("Queue is empty.")
		return nil
	}

	table := ui.Table([]string{"ID", "Result", "Pri", "Confidence", "Lang", "Status", "Claimed By", "Native"})
	for _, e := range entries {
		native := ""
		if e.RequiresNativeSpeaker {
			native = "yes"
		}
		_ = table.Append([]string{
			shortID(e.ID),
			shortID(e.ValidationResultID),
			output.PriorityColor(e.Priority),
			fmt.Sprintf("%.3f", e.ConfidenceScore),
			e.LanguageCode,
			output.StatusColor(string(e.Status)),
			e.ClaimedBy,
			native,
		})
	}
	_ = table.Render()
	return nil
}

func queueNextRun() error {
	q, err := getQueue()
	if err != nil {
		return err
	}
	ctx := context.Background()
	validator := validatorID(queueValidator)

	if dryRun {
		ui.DryRunMsg("Would claim next pending entry as %s", validator)
		return nil
	}

	e, err := q.ClaimNext(ctx, validator)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ui.Info("No pending entries to claim.")
			return nil
		}
		return err
	}

	ui.Success("Claimed %s (priority %s) as %s",
		output.Cyan(shortID(e.ID)), output.PriorityColor(e.Priority), validator)
	printQueueEntry(e)
	return nil
}

func queueClaimRun(id string) error {
	q, err := getQueue()
	if err != nil {
		return err
	}
	ctx := context.Background()
	validator := validatorID(queueValidator)

	if dryRun {
		ui.DryRunMsg("Would claim entry %s as %s", id, validator)
		return nil
	}

	e, err := q.Claim(ctx, id, validator)
	if err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			return fmt.Errorf("entry %s is already claimed", id)
		}
		return err
	}

	ui.Success("Claimed %s as %s", output.Cyan(shortID(e.ID)), validator)
	printQueueEntry(e)
	return nil
}

func queueCompleteRun(id string) error {
	p, err := getPipeline()
	if err != nil {
		return err
	}
	ctx := context.Background()
	validator := validatorID(queueValidator)

	if dryRun {
		ui.DryRunMsg("Would complete entry %s with decision %s as %s", id, queueDecision, validator)
		return nil
	}

	out, err := p.CompleteReview(ctx, id, validator, models.Decision(queueDecision), queueFeedback, queueTimeSpent)
	if err != nil {
		if errors.Is(err, store.ErrNotClaimOwner) {
			return fmt.Errorf("entry %s is not claimed by %s", id, validator)
		}
		return err
	}

	ui.Success("Completed review of %s: %s", output.Cyan(shortID(id)), queueDecision)
	for _, r := range out.ResolvedRegressions {
		ui.Info("Resolved regression %s (%s/%s)", output.Cyan(shortID(r.ID)), r.ScriptID, r.Category)
	}
	return nil
}

func queueReleaseRun(id string) error {
	q, err := getQueue()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would release entry %s", id)
		return nil
	}

	if err := q.Release(ctx, id); err != nil {
		return err
	}

	ui.Success("Released %s back to pending", output.Cyan(shortID(id)))
	return nil
}

func queueSweepRun() error {
	q, err := getQueue()
	if err != nil {
		return err
	}
	ctx := context.Background()
	timeout := claimTimeout()

	if dryRun {
		ui.DryRunMsg("Would release claims older than %s", timeout)
		return nil
	}

	released, err := queue.NewSweeper(q, logger).ReleaseTimedOut(ctx, timeout)
	if err != nil {
		return err
	}

	if len(released) == 0 {
		ui.Info("No expired claims.")
		return nil
	}
	for _, id := range released {
		ui.Info("Released expired claim %s", output.Cyan(shortID(id)))
	}
	ui.Success("Released %d expired claim(s)", len(released))
	return nil
}

func printQueueEntry(e *models.QueueEntry) {
	fmt.Fprintf(ui.Out, "  Result:      %s\n", e.ValidationResultID)
	fmt.Fprintf(ui.Out, "  Confidence:  %.3f\n", e.ConfidenceScore)
	if e.LanguageCode != "" {
		fmt.Fprintf(ui.Out, "  Language:    %s\n", e.LanguageCode)
	}
	if e.RequiresNativeSpeaker {
		fmt.Fprintf(ui.Out, "  Native:      required\n")
	}
}
