package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/queue"
	"github.com/atparisi/revq/internal/regression"
	"github.com/atparisi/revq/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := queue.NewService(s, nil)
	tracker := regression.NewTracker(s, logger)
	return New(s, svc, tracker, logger), s
}

func newResult(t *testing.T, s store.Store, scriptID string) *models.ValidationResult {
	t.Helper()
	r := &models.ValidationResult{ScriptID: scriptID, LanguageCode: "en-US"}
	require.NoError(t, s.CreateValidationResult(context.Background(), r))
	return r
}

func activatePolicy(t *testing.T, s store.Store, p *models.EscalationPolicy) {
	t.Helper()
	require.NoError(t, s.CreatePolicy(context.Background(), p))
	require.NoError(t, s.ActivatePolicy(context.Background(), p.ID))
}

func votes(vs ...models.JudgeVote) []models.JudgeVote { return vs }

func TestProcess_AutoPass(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	r := newResult(t, s, "script-1")

	out, err := p.Process(ctx, r.ID, votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionPass, Confidence: 0.95},
		models.JudgeVote{JudgeID: "j2", Decision: models.DecisionPass, Confidence: 0.9},
	))
	require.NoError(t, err)
	assert.Equal(t, models.ActionAutoPass, out.Action.Action)
	assert.Nil(t, out.QueueEntry)

	got, err := s.GetValidationResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAutoPass, got.Outcome)
	assert.InDelta(t, 0.925, got.Confidence, 1e-9)
	assert.Equal(t, 1.0, got.AgreementRatio)
}

func TestProcess_FailConsensusAutoFails(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	r := newResult(t, s, "script-1")

	out, err := p.Process(ctx, r.ID, votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionFail, Confidence: 1.0},
		models.JudgeVote{JudgeID: "j2", Decision: models.DecisionFail, Confidence: 1.0},
	))
	require.NoError(t, err)
	assert.Equal(t, models.ActionAutoFail, out.Action.Action)

	got, err := s.GetValidationResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAutoFail, got.Outcome)
	assert.Equal(t, "consensus decision is fail", got.Reason)
}

func TestProcess_EscalateQueues(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	activatePolicy(t, s, &models.EscalationPolicy{
		Name:              "worked-example",
		MinAgreementRatio: 0.66,
		MinConfidence:     0.8,
		AutoPassThreshold: 0.75,
		EscalateThreshold: 0.4,
	})

	r := newResult(t, s, "script-1")

	// Worked example from the design: 2/3 pass at mean 0.8 escalates on
	// combined score 0.533 < 0.75.
	out, err := p.Process(ctx, r.ID, votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionPass, Confidence: 0.9},
		models.JudgeVote{JudgeID: "j2", Decision: models.DecisionPass, Confidence: 0.8},
		models.JudgeVote{JudgeID: "j3", Decision: models.DecisionFail, Confidence: 0.7},
	))
	require.NoError(t, err)
	assert.Equal(t, models.ActionEscalate, out.Action.Action)
	assert.Equal(t, []string{"j3"}, out.Consensus.DissentingJudges)
	require.NotNil(t, out.QueueEntry)
	assert.Equal(t, models.QueueStatusPending, out.QueueEntry.Status)
	// confidence 0.8 sits above the 0.4-0.75 band, so the default priority applies
	assert.Equal(t, models.PriorityDefault, out.QueueEntry.Priority)

	got, err := s.GetValidationResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, got.Outcome)
	assert.NotEmpty(t, got.PolicyID)
}

func TestProcess_EscalateDerivesPriorityFromBand(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	activatePolicy(t, s, &models.EscalationPolicy{
		Name:              "default-band",
		MinAgreementRatio: 0.5,
		MinConfidence:     0.4,
		AutoPassThreshold: 0.75,
		EscalateThreshold: 0.4,
	})

	r := newResult(t, s, "script-1")

	// Mean confidence 0.45, deep in the review band: urgent priority.
	out, err := p.Process(ctx, r.ID, votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionPass, Confidence: 0.5},
		models.JudgeVote{JudgeID: "j2", Decision: models.DecisionPass, Confidence: 0.4},
	))
	require.NoError(t, err)
	assert.Equal(t, models.ActionEscalate, out.Action.Action)
	require.NotNil(t, out.QueueEntry)
	assert.Greater(t, out.QueueEntry.Priority, 8)
}

func TestProcess_NoVotes(t *testing.T) {
	p, s := newTestPipeline(t)
	r := newResult(t, s, "script-1")

	_, err := p.Process(context.Background(), r.ID, nil)
	assert.Error(t, err)
}

func TestProcess_ResultNotFound(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Process(context.Background(), "nonexistent", votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionPass, Confidence: 0.9},
	))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func escalatedEntry(t *testing.T, p *Pipeline, s store.Store, scriptID string) *models.QueueEntry {
	t.Helper()
	r := newResult(t, s, scriptID)
	out, err := p.Process(context.Background(), r.ID, votes(
		models.JudgeVote{JudgeID: "j1", Decision: models.DecisionPass, Confidence: 0.55},
		models.JudgeVote{JudgeID: "j2", Decision: models.DecisionPass, Confidence: 0.45},
	))
	require.NoError(t, err)
	require.NotNil(t, out.QueueEntry)
	return out.QueueEntry
}

func TestCompleteReview_PassResolvesRegressions(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	tracker := regression.NewTracker(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, _, err := tracker.Record(ctx, regression.Detection{
		ScriptID: "script-1",
		Category: models.RegressionCategoryStatus,
		Details:  models.RegressionDetails{BaselineStatus: "pass", CurrentStatus: "fail"},
	})
	require.NoError(t, err)

	entry := escalatedEntry(t, p, s, "script-1")
	_, err = s.ClaimQueueEntry(ctx, entry.ID, "validator-a", time.Now())
	require.NoError(t, err)

	out, err := p.CompleteReview(ctx, entry.ID, "validator-a", models.DecisionPass, "looks fine", 2*time.Minute)
	require.NoError(t, err)
	assert.Len(t, out.ResolvedRegressions, 1)

	result, err := s.GetValidationResult(ctx, entry.ValidationResultID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHumanPass, result.Outcome)

	validations, err := s.ListHumanValidations(ctx, entry.ValidationResultID)
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, "validator-a", validations[0].ValidatorID)
	assert.Equal(t, 2*time.Minute, validations[0].TimeSpent)
}

func TestCompleteReview_FailKeepsRegressionsActive(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	tracker := regression.NewTracker(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg, _, err := tracker.Record(ctx, regression.Detection{
		ScriptID: "script-1",
		Category: models.RegressionCategoryLLM,
	})
	require.NoError(t, err)

	entry := escalatedEntry(t, p, s, "script-1")
	_, err = s.ClaimQueueEntry(ctx, entry.ID, "validator-a", time.Now())
	require.NoError(t, err)

	out, err := p.CompleteReview(ctx, entry.ID, "validator-a", models.DecisionFail, "still broken", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, out.ResolvedRegressions)

	// Fail does not auto-resolve; only a pass or an explicit resolve does.
	got, err := s.GetRegression(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegressionStatusActive, got.Status)

	result, err := s.GetValidationResult(ctx, entry.ValidationResultID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHumanFail, result.Outcome)
}

func TestCompleteReview_RequiresClaimOwnership(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	entry := escalatedEntry(t, p, s, "script-1")
	_, err := s.ClaimQueueEntry(ctx, entry.ID, "validator-a", time.Now())
	require.NoError(t, err)

	_, err = p.CompleteReview(ctx, entry.ID, "validator-b", models.DecisionPass, "", 0)
	assert.ErrorIs(t, err, store.ErrNotClaimOwner)

	_, err = p.CompleteReview(ctx, "nonexistent", "validator-a", models.DecisionPass, "", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = p.CompleteReview(ctx, entry.ID, "validator-a", "maybe", "", 0)
	assert.Error(t, err)
}
