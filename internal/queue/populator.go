package queue

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/store"
)

// Band is the confidence window inside which validations go to human
// review. Confidence below Low should already have auto-failed upstream;
// above High it should have auto-passed.
type Band struct {
	Low  float64
	High float64
}

// DefaultBand is the nominal review band used when no active policy
// provides one.
var DefaultBand = Band{Low: 0.40, High: 0.75}

// PopulateStatus reports how an EnqueueForReview call was handled.
type PopulateStatus string

const (
	PopulateQueued   PopulateStatus = "queued"
	PopulateNotFound PopulateStatus = "not_found"
)

// PopulateResult is the outcome of enqueueing a validation for review.
type PopulateResult struct {
	Status       PopulateStatus
	QueueEntryID string
	Priority     int
}

// Populator bridges an escalation decision into a review-queue entry with
// a derived priority.
type Populator struct {
	store  store.Store
	queue  *Service
	band   Band
	logger *slog.Logger
}

// NewPopulator creates a populator using the given review band. A nil
// logger uses slog's default.
func NewPopulator(s store.Store, q *Service, band Band, logger *slog.Logger) *Populator {
	if band.High <= band.Low {
		band = DefaultBand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Populator{store: s, queue: q, band: band, logger: logger}
}

// BandFromPolicy derives the review band from a policy's escalate and
// auto-pass thresholds.
func BandFromPolicy(p *models.EscalationPolicy) Band {
	return Band{Low: p.EscalateThreshold, High: p.AutoPassThreshold}
}

// PriorityForConfidence maps a confidence inside the band onto [1,10],
// inverted: confidence near the lower boundary (most uncertain) gets the
// highest priority. The mapping is linear, rounded to nearest, clamped.
func PriorityForConfidence(confidence float64, band Band) int {
	if confidence <= band.Low {
		return models.PriorityMax
	}
	if confidence >= band.High {
		return models.PriorityMin
	}
	span := band.High - band.Low
	p := 1 + (band.High-confidence)/span*9
	priority := int(math.Round(p))
	if priority < models.PriorityMin {
		priority = models.PriorityMin
	}
	if priority > models.PriorityMax {
		priority = models.PriorityMax
	}
	return priority
}

// EnqueueForReview looks up a validation result and places it on the
// review queue at a confidence-derived priority.
//
// A missing result is returned as a not-found status rather than an error
// so batch callers can continue with their remaining items. Confidence
// outside the review band means the escalation step should already have
// auto-resolved this validation; that is a logic error upstream, so it is
// logged, but the item is still enqueued at the default priority rather
// than dropped silently.
func (p *Populator) EnqueueForReview(ctx context.Context, validationResultID string) (*PopulateResult, error) {
	result, err := p.store.GetValidationResult(ctx, validationResultID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &PopulateResult{Status: PopulateNotFound}, nil
		}
		return nil, err
	}

	priority := models.PriorityDefault
	if result.Confidence < p.band.Low || result.Confidence > p.band.High {
		p.logger.Warn("confidence outside review band, enqueueing at default priority",
			"validation_result_id", result.ID,
			"confidence", result.Confidence,
			"band_low", p.band.Low,
			"band_high", p.band.High)
	} else {
		priority = PriorityForConfidence(result.Confidence, p.band)
	}

	entry, err := p.queue.Enqueue(ctx, EnqueueRequest{
		ValidationResultID:    result.ID,
		Priority:              priority,
		ConfidenceScore:       result.Confidence,
		LanguageCode:          result.LanguageCode,
		RequiresNativeSpeaker: result.RequiresNativeSpeaker,
	})
	if err != nil {
		return nil, err
	}

	return &PopulateResult{
		Status:       PopulateQueued,
		QueueEntryID: entry.ID,
		Priority:     entry.Priority,
	}, nil
}
