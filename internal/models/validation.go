package models

import "time"

// ReviewOutcome is the recorded disposition of a validation result.
type ReviewOutcome string

const (
	OutcomePending   ReviewOutcome = "pending"
	OutcomeAutoPass  ReviewOutcome = "auto_pass"
	OutcomeAutoFail  ReviewOutcome = "auto_fail"
	OutcomeEscalated ReviewOutcome = "escalated"
	OutcomeHumanPass ReviewOutcome = "human_pass"
	OutcomeHumanFail ReviewOutcome = "human_fail"
)

// ValidationResult is one automated test outcome moving through the
// consensus → escalation → review pipeline.
type ValidationResult struct {
	ID                    string
	ScriptID              string
	LanguageCode          string
	Confidence            float64 // mean judge confidence recorded by the pipeline
	AgreementRatio        float64
	RequiresNativeSpeaker bool
	Outcome               ReviewOutcome
	Reason                string
	PolicyID              string // policy referenced by the escalation decision
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HumanValidation is one human reviewer's verdict on a validation result.
// Rows are append-only; a re-review adds a new row, never edits.
type HumanValidation struct {
	ID                 string
	ValidationResultID string
	ValidatorID        string
	Decision           Decision
	Feedback           string
	TimeSpent          time.Duration
	CreatedAt          time.Time
}
