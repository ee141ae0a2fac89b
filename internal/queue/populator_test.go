package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPriorityForConfidence(t *testing.T) {
	band := Band{Low: 0.40, High: 0.75}

	tests := []struct {
		confidence float64
		want       int
	}{
		{0.40, 10}, // lower boundary: most urgent
		{0.35, 10}, // below band clamps to max
		{0.75, 1},  // upper boundary: least urgent
		{0.90, 1},  // above band clamps to min
		{0.575, 6}, // midpoint: 1 + 0.5*9 = 5.5, rounds to 6
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityForConfidence(tt.confidence, band),
			"confidence %.3f", tt.confidence)
	}

	// Monotonic: lower confidence never gets lower priority
	prev := 11
	for c := 0.40; c <= 0.75; c += 0.01 {
		p := PriorityForConfidence(c, band)
		assert.LessOrEqual(t, p, prev, "confidence %.2f", c)
		prev = p
	}
}

func TestEnqueueForReview(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	pop := NewPopulator(s, svc, DefaultBand, discardLogger())
	ctx := context.Background()

	// Low-in-band confidence: urgent
	r := newResult(t, s, 0.42)
	res, err := pop.EnqueueForReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, PopulateQueued, res.Status)
	assert.NotEmpty(t, res.QueueEntryID)
	assert.Equal(t, 9, res.Priority) // 1 + (0.75-0.42)/0.35*9 = 9.49 -> 9

	entry, err := s.GetQueueEntry(ctx, res.QueueEntryID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, entry.ValidationResultID)
	assert.InDelta(t, 0.42, entry.ConfidenceScore, 1e-9)
	assert.Equal(t, "en-US", entry.LanguageCode)
}

func TestEnqueueForReview_NotFound(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	pop := NewPopulator(s, svc, DefaultBand, discardLogger())

	// Not-found is a status, not an error, so batch callers continue.
	res, err := pop.EnqueueForReview(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, PopulateNotFound, res.Status)
	assert.Empty(t, res.QueueEntryID)
}

func TestEnqueueForReview_OutOfBandEnqueuesDefensively(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	pop := NewPopulator(s, svc, DefaultBand, discardLogger())
	ctx := context.Background()

	// Confidence above the band should have auto-passed upstream; the
	// populator still enqueues at default priority instead of dropping.
	r := newResult(t, s, 0.95)
	res, err := pop.EnqueueForReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, PopulateQueued, res.Status)
	assert.Equal(t, 5, res.Priority)

	r2 := newResult(t, s, 0.10)
	res, err = pop.EnqueueForReview(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, PopulateQueued, res.Status)
	assert.Equal(t, 5, res.Priority)
}

func TestNewPopulator_InvalidBandFallsBack(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	pop := NewPopulator(s, svc, Band{Low: 0.9, High: 0.2}, discardLogger())
	assert.Equal(t, DefaultBand, pop.band)
}
