package models

import "time"

// EscalationPolicy holds the thresholds that decide whether a passing
// consensus is auto-resolved or sent to a human reviewer.
//
// Policy rows are insert-only: once a decision has referenced a policy the
// row never changes, so the audit trail stays faithful. Edits create a new
// row and move the active flag.
type EscalationPolicy struct {
	ID                string
	Name              string
	MinAgreementRatio float64
	MinConfidence     float64
	AutoPassThreshold float64
	// EscalateThreshold is the floor of the human-review confidence band.
	// Together with AutoPassThreshold it bounds the band the queue
	// populator maps onto priorities.
	EscalateThreshold float64
	IsActive          bool
	CreatedAt         time.Time
}
