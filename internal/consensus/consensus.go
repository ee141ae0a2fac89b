// Package consensus reduces a set of judge votes into a single consensus
// result: a majority decision, an agreement ratio, and a mean confidence.
package consensus

import (
	"errors"
	"fmt"

	"github.com/atparisi/revq/internal/models"
)

// ErrNoVotes is returned when Calculate is given an empty vote set.
var ErrNoVotes = errors.New("consensus requires at least one vote")

// Calculate reduces judge votes into one consensus result.
//
// The majority decision wins; an exact tie resolves to fail.
// Dissenting judges are
// listed in input order. Judges are unweighted; confidence is a plain
// mean across all votes.
func Calculate(votes []models.JudgeVote) (*models.ConsensusResult, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}

	var passes, fails int
	var confidenceSum float64
	for _, v := range votes {
		if v.Confidence < 0 || v.Confidence > 1 {
			return nil, fmt.Errorf("judge %s: confidence %.3f outside [0,1]", v.JudgeID, v.Confidence)
		}
		switch v.Decision {
		case models.DecisionPass:
			passes++
		case models.DecisionFail:
			fails++
		default:
			return nil, fmt.Errorf("judge %s: unknown decision %q", v.JudgeID, v.Decision)
		}
		confidenceSum += v.Confidence
	}

	// Ties break toward fail.
	majority := models.DecisionFail
	majorityCount := fails
	if passes > fails {
		majority = models.DecisionPass
		majorityCount = passes
	}

	var dissenting []string
	for _, v := range votes {
		if v.Decision != majority {
			dissenting = append(dissenting, v.JudgeID)
		}
	}

	return &models.ConsensusResult{
		Decision:         majority,
		AgreementRatio:   float64(majorityCount) / float64(len(votes)),
		Confidence:       confidenceSum / float64(len(votes)),
		DissentingJudges: dissenting,
	}, nil
}
