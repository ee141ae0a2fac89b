package models

import "time"

// RegressionCategory classifies the failure mode a regression tracks.
type RegressionCategory string

const (
	RegressionCategoryStatus RegressionCategory = "status"
	RegressionCategoryLLM    RegressionCategory = "llm"
	RegressionCategoryMetric RegressionCategory = "metric"
)

// RegressionSeverity represents the impact of a regression.
type RegressionSeverity string

const (
	SeverityLow    RegressionSeverity = "low"
	SeverityMedium RegressionSeverity = "medium"
	SeverityHigh   RegressionSeverity = "high"
)

// RegressionStatus represents the lifecycle state of a regression.
type RegressionStatus string

const (
	RegressionStatusActive   RegressionStatus = "active"
	RegressionStatusResolved RegressionStatus = "resolved"
)

// RegressionDetails is the category-specific payload of a regression.
// Only the fields for the regression's category are populated.
type RegressionDetails struct {
	// status category
	BaselineStatus string `json:"baseline_status,omitempty"`
	CurrentStatus  string `json:"current_status,omitempty"`

	// llm category
	BaselineDecision string `json:"baseline_decision,omitempty"`
	CurrentDecision  string `json:"current_decision,omitempty"`

	// metric category
	MetricName    string  `json:"metric_name,omitempty"`
	BaselineValue float64 `json:"baseline_value,omitempty"`
	CurrentValue  float64 `json:"current_value,omitempty"`
	ChangePct     float64 `json:"change_pct,omitempty"`
}

// Regression is a recurring failure pattern for a test script, tracked
// across runs until resolved. At most one active regression exists per
// (script, category); repeat detections update the active row.
type Regression struct {
	ID              string
	ScriptID        string
	Category        RegressionCategory
	Severity        RegressionSeverity
	Status          RegressionStatus
	DetectionDate   time.Time
	LastSeenDate    time.Time
	OccurrenceCount int
	Details         RegressionDetails
	LinkedDefectID  string
	ResolvedBy      string
	ResolutionNote  string
	ResolvedAt      *time.Time
}

// Defect is a tracked defect spawned from exactly one regression. Title and
// description are denormalized snapshots taken at creation time.
type Defect struct {
	ID           string
	RegressionID string
	Title        string
	Description  string
	Severity     RegressionSeverity
	CreatedBy    string
	CreatedAt    time.Time
}
