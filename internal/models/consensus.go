package models

// Decision is a pass/fail verdict on a validation, whether from a judge,
// the consensus step, or a human reviewer.
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionFail Decision = "fail"
)

// JudgeVote is one automated judge's verdict on a validation result.
// Votes are input-only and never persisted; only the derived consensus is.
type JudgeVote struct {
	JudgeID    string
	Decision   Decision
	Confidence float64 // 0.0–1.0
}

// ConsensusResult is the aggregate of all judge votes for one validation.
type ConsensusResult struct {
	Decision         Decision
	AgreementRatio   float64 // fraction of votes matching the majority decision
	Confidence       float64 // mean confidence across all votes
	DissentingJudges []string
}

// Unanimous reports whether every judge agreed with the majority decision.
func (c *ConsensusResult) Unanimous() bool {
	return len(c.DissentingJudges) == 0
}

// Action is the disposition of a consensus under an escalation policy.
type Action string

const (
	ActionAutoPass Action = "auto_pass"
	ActionAutoFail Action = "auto_fail"
	ActionEscalate Action = "escalate"
)

// ActionResult pairs an action with the signal that triggered it.
type ActionResult struct {
	Action Action
	Reason string
}
