// Package escalation decides whether a consensus can be auto-resolved or
// must go to a human reviewer, based on a threshold policy.
package escalation

import (
	"fmt"

	"github.com/atparisi/revq/internal/models"
)

// DetermineAction maps a consensus to an action under the given policy.
//
// The rules run in order, so the reason always names the first signal that
// triggered. A failing majority is resolved immediately as auto_fail and
// never escalated. The policy is assumed validated (see ValidatePolicy).
func DetermineAction(c *models.ConsensusResult, p *models.EscalationPolicy) models.ActionResult {
	if c.Decision == models.DecisionFail {
		return models.ActionResult{
			Action: models.ActionAutoFail,
			Reason: "consensus decision is fail",
		}
	}

	if c.AgreementRatio < p.MinAgreementRatio {
		return models.ActionResult{
			Action: models.ActionEscalate,
			Reason: fmt.Sprintf("agreement ratio %.3f below threshold %.3f", c.AgreementRatio, p.MinAgreementRatio),
		}
	}

	if c.Confidence < p.MinConfidence {
		return models.ActionResult{
			Action: models.ActionEscalate,
			Reason: fmt.Sprintf("confidence %.3f below threshold %.3f", c.Confidence, p.MinConfidence),
		}
	}

	combined := c.AgreementRatio * c.Confidence
	if combined >= p.AutoPassThreshold {
		return models.ActionResult{
			Action: models.ActionAutoPass,
			Reason: fmt.Sprintf("combined score %.3f meets auto-pass threshold %.3f", combined, p.AutoPassThreshold),
		}
	}

	return models.ActionResult{
		Action: models.ActionEscalate,
		Reason: fmt.Sprintf("combined score %.3f below auto-pass threshold %.3f", combined, p.AutoPassThreshold),
	}
}

// ValidatePolicy rejects policies with thresholds outside [0,1] or an
// inverted review band. Policies are validated at creation time, never at
// decision time.
func ValidatePolicy(p *models.EscalationPolicy) error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"min_agreement_ratio", p.MinAgreementRatio},
		{"min_confidence", p.MinConfidence},
		{"auto_pass_threshold", p.AutoPassThreshold},
		{"escalate_threshold", p.EscalateThreshold},
	}
	for _, f := range fields {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("policy %s: %s %.3f outside [0,1]", p.Name, f.name, f.value)
		}
	}
	if p.EscalateThreshold >= p.AutoPassThreshold {
		return fmt.Errorf("policy %s: escalate_threshold %.3f must be below auto_pass_threshold %.3f",
			p.Name, p.EscalateThreshold, p.AutoPassThreshold)
	}
	return nil
}

// DefaultPolicy returns the built-in policy used when none has been
// configured.
func DefaultPolicy() *models.EscalationPolicy {
	return &models.EscalationPolicy{
		Name:              "default",
		MinAgreementRatio: 0.6,
		MinConfidence:     0.5,
		AutoPassThreshold: 0.75,
		EscalateThreshold: 0.4,
	}
}
