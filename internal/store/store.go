package store

import (
	"context"
	"time"

	"github.com/atparisi/revq/internal/models"
)

// QueueFilter specifies filters for listing queue entries.
type QueueFilter struct {
	Status       models.QueueStatus
	LanguageCode string
	ClaimedBy    string
	Limit        int
}

// RegressionFilter specifies filters for listing regressions.
type RegressionFilter struct {
	ScriptID string
	Category models.RegressionCategory
	Status   models.RegressionStatus
	Severity models.RegressionSeverity
}

// Store defines the persistence interface for revq.
type Store interface {
	// Escalation policies (insert-only; activation moves the active flag)
	CreatePolicy(ctx context.Context, p *models.EscalationPolicy) error
	GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error)
	GetActivePolicy(ctx context.Context) (*models.EscalationPolicy, error)
	ListPolicies(ctx context.Context) ([]*models.EscalationPolicy, error)
	ActivatePolicy(ctx context.Context, id string) error

	// Validation results
	CreateValidationResult(ctx context.Context, r *models.ValidationResult) error
	GetValidationResult(ctx context.Context, id string) (*models.ValidationResult, error)
	ListValidationResults(ctx context.Context, scriptID string, limit int) ([]*models.ValidationResult, error)
	RecordValidationOutcome(ctx context.Context, id string, outcome models.ReviewOutcome, reason, policyID string, confidence, agreementRatio float64) error

	// Review queue
	CreateQueueEntry(ctx context.Context, e *models.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListQueueEntries(ctx context.Context, filter QueueFilter) ([]*models.QueueEntry, error)
	PendingQueueEntries(ctx context.Context, limit int) ([]*models.QueueEntry, error)
	ClaimQueueEntry(ctx context.Context, id, validatorID string, now time.Time) (*models.QueueEntry, error)
	CompleteQueueEntry(ctx context.Context, id, validatorID string) error
	ReleaseQueueEntry(ctx context.Context, id string) error
	ExpiredClaims(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error)
	ReleaseExpiredClaim(ctx context.Context, id string, claimedAt time.Time) (bool, error)

	// Human validations (append-only)
	CreateHumanValidation(ctx context.Context, v *models.HumanValidation) error
	ListHumanValidations(ctx context.Context, validationResultID string) ([]*models.HumanValidation, error)

	// Regressions
	CreateRegression(ctx context.Context, r *models.Regression) error
	GetRegression(ctx context.Context, id string) (*models.Regression, error)
	FindActiveRegression(ctx context.Context, scriptID string, category models.RegressionCategory) (*models.Regression, error)
	ListRegressions(ctx context.Context, filter RegressionFilter) ([]*models.Regression, error)
	TouchRegression(ctx context.Context, id string, details models.RegressionDetails, lastSeen time.Time) error
	ResolveRegression(ctx context.Context, id, resolvedBy, note string, at time.Time) error
	LinkDefect(ctx context.Context, regressionID, defectID string) error

	// Defects
	CreateDefect(ctx context.Context, d *models.Defect) error
	GetDefect(ctx context.Context, id string) (*models.Defect, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
