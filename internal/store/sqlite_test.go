package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atparisi/revq/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newTestResult(t *testing.T, s *SQLiteStore, scriptID string) *models.ValidationResult {
	t.Helper()
	r := &models.ValidationResult{
		ScriptID:     scriptID,
		LanguageCode: "en-US",
		Confidence:   0.6,
	}
	require.NoError(t, s.CreateValidationResult(context.Background(), r))
	return r
}

func newTestEntry(t *testing.T, s *SQLiteStore, resultID string, priority int) *models.QueueEntry {
	t.Helper()
	e := &models.QueueEntry{
		ValidationResultID: resultID,
		Priority:           priority,
		ConfidenceScore:    0.6,
		LanguageCode:       "en-US",
	}
	require.NoError(t, s.CreateQueueEntry(context.Background(), e))
	return e
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Policies ---

func TestPolicyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &models.EscalationPolicy{
		Name:              "strict",
		MinAgreementRatio: 0.8,
		MinConfidence:     0.7,
		AutoPassThreshold: 0.85,
		EscalateThreshold: 0.4,
	}
	require.NoError(t, s.CreatePolicy(ctx, p1))
	assert.NotEmpty(t, p1.ID)

	// No active policy yet
	_, err := s.GetActivePolicy(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ActivatePolicy(ctx, p1.ID))

	active, err := s.GetActivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, active.ID)
	assert.True(t, active.IsActive)

	// Activating a second policy moves the flag
	p2 := &models.EscalationPolicy{
		Name:              "lenient",
		MinAgreementRatio: 0.5,
		MinConfidence:     0.5,
		AutoPassThreshold: 0.6,
		EscalateThreshold: 0.3,
	}
	require.NoError(t, s.CreatePolicy(ctx, p2))
	require.NoError(t, s.ActivatePolicy(ctx, p2.ID))

	active, err = s.GetActivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, active.ID)

	old, err := s.GetPolicy(ctx, p1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	policies, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, policies, 2)
}

func TestActivatePolicy_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.ActivatePolicy(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Validation Results ---

func TestValidationResultCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.ValidationResult{
		ScriptID:              "script-7",
		LanguageCode:          "de-DE",
		Confidence:            0.55,
		RequiresNativeSpeaker: true,
	}
	require.NoError(t, s.CreateValidationResult(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.OutcomePending, r.Outcome)

	got, err := s.GetValidationResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "script-7", got.ScriptID)
	assert.Equal(t, "de-DE", got.LanguageCode)
	assert.True(t, got.RequiresNativeSpeaker)
	assert.Equal(t, models.OutcomePending, got.Outcome)

	err = s.RecordValidationOutcome(ctx, r.ID, models.OutcomeEscalated, "confidence below threshold", "pol-1", 0.55, 0.67)
	require.NoError(t, err)

	got, err = s.GetValidationResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, got.Outcome)
	assert.Equal(t, "pol-1", got.PolicyID)
	assert.InDelta(t, 0.67, got.AgreementRatio, 1e-9)

	results, err := s.ListValidationResults(ctx, "script-7", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = s.ListValidationResults(ctx, "other", 10)
	require.NoError(t, err)
	assert.Len(t, results, 0)
}

func TestValidationResult_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetValidationResult(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.RecordValidationOutcome(ctx, "nonexistent", models.OutcomeAutoPass, "", "", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Queue ---

func TestQueueEntryOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert in deliberate disorder; expect priority desc, created_at asc.
	specs := []struct {
		script   string
		priority int
	}{
		{"low-first", 2},
		{"high-first", 9},
		{"mid", 5},
		{"high-second", 9},
		{"low-second", 2},
	}
	for _, spec := range specs {
		r := newTestResult(t, s, spec.script)
		newTestEntry(t, s, r.ID, spec.priority)
		time.Sleep(5 * time.Millisecond) // ensure distinct created_at
	}

	entries, err := s.PendingQueueEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	priorities := make([]int, len(entries))
	for i, e := range entries {
		priorities[i] = e.Priority
	}
	assert.Equal(t, []int{9, 9, 5, 2, 2}, priorities)

	// FIFO within a priority band
	assert.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt))
	assert.True(t, entries[3].CreatedAt.Before(entries[4].CreatedAt))

	// Limit
	entries, err = s.PendingQueueEntries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestClaimQueueEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResult(t, s, "script-1")
	e := newTestEntry(t, s, r.ID, 5)

	claimed, err := s.ClaimQueueEntry(ctx, e.ID, "validator-a", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusClaimed, claimed.Status)
	assert.Equal(t, "validator-a", claimed.ClaimedBy)
	require.NotNil(t, claimed.ClaimedAt)

	// Second claim loses
	_, err = s.ClaimQueueEntry(ctx, e.ID, "validator-b", time.Now())
	assert.ErrorIs(t, err, ErrClaimConflict)

	// Winner's state is untouched by the losing attempt
	got, err := s.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusClaimed, got.Status)
	assert.Equal(t, "validator-a", got.ClaimedBy)

	// Unknown id is not-found, not a conflict
	_, err = s.ClaimQueueEntry(ctx, "nonexistent", "validator-a", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteQueueEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResult(t, s, "script-1")
	e := newTestEntry(t, s, r.ID, 5)

	// Completing an unclaimed entry is an ownership error
	err := s.CompleteQueueEntry(ctx, e.ID, "validator-a")
	assert.ErrorIs(t, err, ErrNotClaimOwner)

	_, err = s.ClaimQueueEntry(ctx, e.ID, "validator-a", time.Now())
	require.NoError(t, err)

	// Wrong validator cannot complete
	err = s.CompleteQueueEntry(ctx, e.ID, "validator-b")
	assert.ErrorIs(t, err, ErrNotClaimOwner)

	require.NoError(t, s.CompleteQueueEntry(ctx, e.ID, "validator-a"))

	got, err := s.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, got.Status)

	// Completed entries are gone from the pending view
	entries, err := s.PendingQueueEntries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 0)

	err = s.CompleteQueueEntry(ctx, "nonexistent", "validator-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseQueueEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResult(t, s, "script-1")
	e := newTestEntry(t, s, r.ID, 5)

	// Releasing a pending entry is a no-op
	require.NoError(t, s.ReleaseQueueEntry(ctx, e.ID))

	_, err := s.ClaimQueueEntry(ctx, e.ID, "validator-a", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.ReleaseQueueEntry(ctx, e.ID))

	got, err := s.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.Empty(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimedAt)

	// Completed entries are terminal
	_, err = s.ClaimQueueEntry(ctx, e.ID, "validator-a", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteQueueEntry(ctx, e.ID, "validator-a"))
	assert.Error(t, s.ReleaseQueueEntry(ctx, e.ID))
}

func TestExpiredClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newTestEntry(t, s, newTestResult(t, s, "stale").ID, 5)
	fresh := newTestEntry(t, s, newTestResult(t, s, "fresh").ID, 5)

	_, err := s.ClaimQueueEntry(ctx, stale.ID, "validator-a", now.Add(-11*time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimQueueEntry(ctx, fresh.ID, "validator-b", now.Add(-2*time.Minute))
	require.NoError(t, err)

	expired, err := s.ExpiredClaims(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	released, err := s.ReleaseExpiredClaim(ctx, expired[0].ID, *expired[0].ClaimedAt)
	require.NoError(t, err)
	assert.True(t, released)

	got, err := s.GetQueueEntry(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.Empty(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimedAt)

	// A second release of the same observation finds nothing
	released, err = s.ReleaseExpiredClaim(ctx, expired[0].ID, *expired[0].ClaimedAt)
	require.NoError(t, err)
	assert.False(t, released)

	// Fresh claim is untouched
	got, err = s.GetQueueEntry(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusClaimed, got.Status)
}

func TestQueueUniqueActiveEntryPerResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResult(t, s, "script-1")
	newTestEntry(t, s, r.ID, 5)

	// A second active entry for the same result violates the partial index
	dup := &models.QueueEntry{ValidationResultID: r.ID, Priority: 5}
	assert.Error(t, s.CreateQueueEntry(ctx, dup))
}

func TestListQueueEntries_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := newTestEntry(t, s, newTestResult(t, s, "a").ID, 5)
	e2 := &models.QueueEntry{
		ValidationResultID: newTestResult(t, s, "b").ID,
		Priority:           8,
		LanguageCode:       "ja-JP",
	}
	require.NoError(t, s.CreateQueueEntry(ctx, e2))

	_, err := s.ClaimQueueEntry(ctx, e1.ID, "validator-a", time.Now())
	require.NoError(t, err)

	entries, err := s.ListQueueEntries(ctx, QueueFilter{Status: models.QueueStatusClaimed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e1.ID, entries[0].ID)

	entries, err = s.ListQueueEntries(ctx, QueueFilter{ClaimedBy: "validator-a"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = s.ListQueueEntries(ctx, QueueFilter{LanguageCode: "ja-JP"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e2.ID, entries[0].ID)

	entries, err = s.ListQueueEntries(ctx, QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// --- Human Validations ---

func TestHumanValidations_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResult(t, s, "script-1")

	v1 := &models.HumanValidation{
		ValidationResultID: r.ID,
		ValidatorID:        "validator-a",
		Decision:           models.DecisionFail,
		Feedback:           "mistranslation in step 3",
		TimeSpent:          90 * time.Second,
	}
	require.NoError(t, s.CreateHumanValidation(ctx, v1))

	// Re-review appends a second row
	v2 := &models.HumanValidation{
		ValidationResultID: r.ID,
		ValidatorID:        "validator-b",
		Decision:           models.DecisionPass,
		TimeSpent:          45 * time.Second,
	}
	require.NoError(t, s.CreateHumanValidation(ctx, v2))

	validations, err := s.ListHumanValidations(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, validations, 2)
	assert.Equal(t, models.DecisionFail, validations[0].Decision)
	assert.Equal(t, 90*time.Second, validations[0].TimeSpent)
	assert.Equal(t, "validator-b", validations[1].ValidatorID)
}

// --- Regressions ---

func TestRegressionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Regression{
		ScriptID: "script-9",
		Category: models.RegressionCategoryStatus,
		Severity: models.SeverityHigh,
		Details: models.RegressionDetails{
			BaselineStatus: "pass",
			CurrentStatus:  "fail",
		},
	}
	require.NoError(t, s.CreateRegression(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.RegressionStatusActive, r.Status)
	assert.Equal(t, 1, r.OccurrenceCount)

	found, err := s.FindActiveRegression(ctx, "script-9", models.RegressionCategoryStatus)
	require.NoError(t, err)
	assert.Equal(t, r.ID, found.ID)
	assert.Equal(t, "fail", found.Details.CurrentStatus)

	// Repeat detection
	later := time.Now().UTC().Add(time.Hour)
	err = s.TouchRegression(ctx, r.ID, models.RegressionDetails{
		BaselineStatus: "pass",
		CurrentStatus:  "error",
	}, later)
	require.NoError(t, err)

	got, err := s.GetRegression(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OccurrenceCount)
	assert.Equal(t, "error", got.Details.CurrentStatus)

	// Resolve
	require.NoError(t, s.ResolveRegression(ctx, r.ID, "validator-a", "fixed upstream", time.Now()))

	got, err = s.GetRegression(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegressionStatusResolved, got.Status)
	assert.Equal(t, "validator-a", got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	// Resolved rows cannot be touched or re-resolved
	assert.ErrorIs(t, s.TouchRegression(ctx, r.ID, got.Details, time.Now()), ErrNotFound)
	assert.ErrorIs(t, s.ResolveRegression(ctx, r.ID, "x", "", time.Now()), ErrNotFound)

	_, err = s.FindActiveRegression(ctx, "script-9", models.RegressionCategoryStatus)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRegression_CorruptDetails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Regression{
		ScriptID: "script-9",
		Category: models.RegressionCategoryMetric,
		Severity: models.SeverityLow,
		Details:  models.RegressionDetails{MetricName: "wer"},
	}
	require.NoError(t, s.CreateRegression(ctx, r))

	// A corrupt details payload must surface as an error, not scan as an
	// empty struct.
	_, err := s.db.ExecContext(ctx, `UPDATE regressions SET details = 'not json' WHERE id = ?`, r.ID)
	require.NoError(t, err)

	_, err = s.GetRegression(ctx, r.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regression details")
}

func TestRegressionUniqueActivePerScriptCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := &models.Regression{
		ScriptID: "script-1",
		Category: models.RegressionCategoryLLM,
		Severity: models.SeverityMedium,
	}
	require.NoError(t, s.CreateRegression(ctx, r1))

	// Same script+category while active: rejected
	dup := &models.Regression{
		ScriptID: "script-1",
		Category: models.RegressionCategoryLLM,
		Severity: models.SeverityMedium,
	}
	assert.Error(t, s.CreateRegression(ctx, dup))

	// Different category is fine
	other := &models.Regression{
		ScriptID: "script-1",
		Category: models.RegressionCategoryMetric,
		Severity: models.SeverityLow,
	}
	assert.NoError(t, s.CreateRegression(ctx, other))

	// After resolution a new active row may be created
	require.NoError(t, s.ResolveRegression(ctx, r1.ID, "v", "", time.Now()))
	again := &models.Regression{
		ScriptID: "script-1",
		Category: models.RegressionCategoryLLM,
		Severity: models.SeverityMedium,
	}
	assert.NoError(t, s.CreateRegression(ctx, again))
}

func TestListRegressions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRegression(ctx, &models.Regression{
		ScriptID: "s1", Category: models.RegressionCategoryStatus, Severity: models.SeverityHigh,
	}))
	require.NoError(t, s.CreateRegression(ctx, &models.Regression{
		ScriptID: "s1", Category: models.RegressionCategoryMetric, Severity: models.SeverityLow,
	}))
	require.NoError(t, s.CreateRegression(ctx, &models.Regression{
		ScriptID: "s2", Category: models.RegressionCategoryLLM, Severity: models.SeverityMedium,
	}))

	regs, err := s.ListRegressions(ctx, RegressionFilter{ScriptID: "s1"})
	require.NoError(t, err)
	assert.Len(t, regs, 2)
	// Active rows sorted by severity: high before low
	assert.Equal(t, models.SeverityHigh, regs[0].Severity)

	regs, err = s.ListRegressions(ctx, RegressionFilter{Status: models.RegressionStatusActive})
	require.NoError(t, err)
	assert.Len(t, regs, 3)

	regs, err = s.ListRegressions(ctx, RegressionFilter{Severity: models.SeverityMedium})
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

// --- Defects ---

func TestDefectCreateAndLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Regression{
		ScriptID: "script-1",
		Category: models.RegressionCategoryMetric,
		Severity: models.SeverityHigh,
	}
	require.NoError(t, s.CreateRegression(ctx, r))

	d := &models.Defect{
		RegressionID: r.ID,
		Title:        "Metric regression: wer",
		Description:  "wer degraded from 0.05 to 0.12",
		Severity:     models.SeverityHigh,
		CreatedBy:    "validator-a",
	}
	require.NoError(t, s.CreateDefect(ctx, d))
	assert.NotEmpty(t, d.ID)

	require.NoError(t, s.LinkDefect(ctx, r.ID, d.ID))

	got, err := s.GetRegression(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.LinkedDefectID)

	gotDefect, err := s.GetDefect(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, gotDefect.RegressionID)

	_, err = s.GetDefect(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.LinkDefect(ctx, "nonexistent", d.ID), ErrNotFound)
}
