package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/output"
)

var evaluateVotesFile string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <result-id>",
	Short: "Run consensus and escalation for a validation result",
	Long: `Compute judge consensus for a validation result, apply the active
escalation policy, and record the outcome. Results that need human
review are placed on the queue with a priority derived from the
consensus confidence.

The votes file is YAML:

  - judge_id: judge-1
    decision: pass
    confidence: 0.92
  - judge_id: judge-2
    decision: fail
    confidence: 0.64`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return evaluateRun(args[0])
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateVotesFile, "votes", "", "YAML file of judge votes (required)")
	_ = evaluateCmd.MarkFlagRequired("votes")
	rootCmd.AddCommand(evaluateCmd)
}

// voteFile is the YAML shape of a single judge vote.
type voteFile struct {
	JudgeID    string  `yaml:"judge_id"`
	Decision   string  `yaml:"decision"`
	Confidence float64 `yaml:"confidence"`
}

func readVotes(path string) ([]models.JudgeVote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read votes file: %w", err)
	}

	var raw []voteFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse votes file: %w", err)
	}

	votes := make([]models.JudgeVote, 0, len(raw))
	for _, v := range raw {
		votes = append(votes, models.JudgeVote{
			JudgeID:    v.JudgeID,
			Decision:   models.Decision(v.Decision),
			Confidence: v.Confidence,
		})
	}
	return votes, nil
}

func evaluateRun(resultID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := findResult(ctx, s, resultID)
	if err != nil {
		return err
	}

	votes, err := readVotes(evaluateVotesFile)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would evaluate result %s with %d votes", shortID(r.ID), len(votes))
		return nil
	}

	p, err := getPipeline()
	if err != nil {
		return err
	}

	out, err := p.Process(ctx, r.ID, votes)
	if err != nil {
		return fmt.Errorf("evaluate result: %w", err)
	}

	ui.Info("Consensus: %s (agreement %.3f, confidence %.3f)",
		out.Consensus.Decision, out.Consensus.AgreementRatio, out.Consensus.Confidence)
	if len(out.Consensus.DissentingJudges) > 0 {
		ui.VerboseLog("Dissenting judges: %v", out.Consensus.DissentingJudges)
	}

	switch out.Action.Action {
	case models.ActionAutoPass:
		ui.Success("Auto-passed: %s", out.Action.Reason)
	case models.ActionAutoFail:
		ui.Error("Auto-failed: %s", out.Action.Reason)
	case models.ActionEscalate:
		ui.Warning("Escalated: %s", out.Action.Reason)
		if out.QueueEntry != nil {
			ui.Info("Queued for review as %s at priority %s",
				output.Cyan(shortID(out.QueueEntry.ID)),
				output.PriorityColor(out.QueueEntry.Priority))
		}
	}

	return nil
}
