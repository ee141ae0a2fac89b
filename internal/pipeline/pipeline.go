// Package pipeline wires the validation flow end to end: judge votes are
// reduced to a consensus, the active escalation policy disposes of it, and
// escalated items land on the human-review queue. Completed reviews feed
// back into the regression tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atparisi/revq/internal/consensus"
	"github.com/atparisi/revq/internal/escalation"
	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/queue"
	"github.com/atparisi/revq/internal/regression"
	"github.com/atparisi/revq/internal/store"
)

// Outcome is the result of processing one set of judge votes.
type Outcome struct {
	Consensus  *models.ConsensusResult
	Action     models.ActionResult
	Policy     *models.EscalationPolicy
	QueueEntry *models.QueueEntry // set only when the action is escalate
}

// ReviewOutcome is the result of completing one human review.
type ReviewOutcome struct {
	Validation          *models.HumanValidation
	ResolvedRegressions []*models.Regression
}

// Pipeline runs the consensus → escalation → queue flow over a store.
type Pipeline struct {
	store   store.Store
	queue   *queue.Service
	tracker *regression.Tracker
	logger  *slog.Logger
}

// New creates a pipeline. A nil logger uses slog's default.
func New(s store.Store, q *queue.Service, tracker *regression.Tracker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: s, queue: q, tracker: tracker, logger: logger}
}

// activePolicy returns the installation's active policy, or the built-in
// default when none has been activated yet.
func (p *Pipeline) activePolicy(ctx context.Context) (*models.EscalationPolicy, error) {
	policy, err := p.store.GetActivePolicy(ctx)
	if err == nil {
		return policy, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return escalation.DefaultPolicy(), nil
	}
	return nil, err
}

// Process evaluates judge votes for a validation result and applies the
// resulting action: the consensus and decision are recorded on the result,
// and escalated items are queued for human review at a confidence-derived
// priority.
func (p *Pipeline) Process(ctx context.Context, validationResultID string, votes []models.JudgeVote) (*Outcome, error) {
	result, err := p.store.GetValidationResult(ctx, validationResultID)
	if err != nil {
		return nil, err
	}

	cons, err := consensus.Calculate(votes)
	if err != nil {
		return nil, fmt.Errorf("calculate consensus: %w", err)
	}

	policy, err := p.activePolicy(ctx)
	if err != nil {
		return nil, err
	}

	action := escalation.DetermineAction(cons, policy)

	outcome := outcomeForAction(action.Action)
	if err := p.store.RecordValidationOutcome(ctx, result.ID, outcome, action.Reason,
		policy.ID, cons.Confidence, cons.AgreementRatio); err != nil {
		return nil, err
	}

	p.logger.Info("validation processed",
		"validation_result_id", result.ID,
		"decision", cons.Decision,
		"agreement_ratio", cons.AgreementRatio,
		"confidence", cons.Confidence,
		"action", action.Action,
		"reason", action.Reason)

	out := &Outcome{Consensus: cons, Action: action, Policy: policy}

	if action.Action == models.ActionEscalate {
		populator := queue.NewPopulator(p.store, p.queue, queue.BandFromPolicy(policy), p.logger)
		populated, err := populator.EnqueueForReview(ctx, result.ID)
		if err != nil {
			return nil, fmt.Errorf("enqueue for review: %w", err)
		}
		if populated.Status == queue.PopulateQueued {
			entry, err := p.store.GetQueueEntry(ctx, populated.QueueEntryID)
			if err != nil {
				return nil, err
			}
			out.QueueEntry = entry
		}
	}

	return out, nil
}

func outcomeForAction(a models.Action) models.ReviewOutcome {
	switch a {
	case models.ActionAutoPass:
		return models.OutcomeAutoPass
	case models.ActionAutoFail:
		return models.OutcomeAutoFail
	default:
		return models.OutcomeEscalated
	}
}

// CompleteReview finishes a claimed queue entry with a human verdict. The
// entry is completed (ownership-checked), the verdict is appended to the
// audit trail, the validation result's outcome is recorded, and a passing
// verdict auto-resolves the script's active regressions.
func (p *Pipeline) CompleteReview(ctx context.Context, entryID, validatorID string, decision models.Decision, feedback string, timeSpent time.Duration) (*ReviewOutcome, error) {
	if decision != models.DecisionPass && decision != models.DecisionFail {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	entry, err := p.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := p.store.CompleteQueueEntry(ctx, entryID, validatorID); err != nil {
		return nil, err
	}

	validation := &models.HumanValidation{
		ValidationResultID: entry.ValidationResultID,
		ValidatorID:        validatorID,
		Decision:           decision,
		Feedback:           feedback,
		TimeSpent:          timeSpent,
	}
	if err := p.store.CreateHumanValidation(ctx, validation); err != nil {
		return nil, err
	}

	result, err := p.store.GetValidationResult(ctx, entry.ValidationResultID)
	if err != nil {
		return nil, err
	}

	outcome := models.OutcomeHumanFail
	if decision == models.DecisionPass {
		outcome = models.OutcomeHumanPass
	}
	reason := fmt.Sprintf("human review by %s", validatorID)
	if err := p.store.RecordValidationOutcome(ctx, result.ID, outcome, reason,
		result.PolicyID, result.Confidence, result.AgreementRatio); err != nil {
		return nil, err
	}

	out := &ReviewOutcome{Validation: validation}

	if decision == models.DecisionPass && p.tracker != nil {
		resolved, err := p.tracker.AutoResolvePassingTests(ctx, result.ScriptID)
		if err != nil {
			return nil, fmt.Errorf("auto-resolve regressions: %w", err)
		}
		out.ResolvedRegressions = resolved
	}

	return out, nil
}
