// Package queue implements the human-review queue: a persistent priority
// queue with claim/release/timeout semantics. All coordination goes through
// the store's conditional updates, so multiple validator processes can work
// the same queue without in-process locks.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/store"
)

// ErrInvalidPriority is returned when an enqueue priority is outside [1,10].
var ErrInvalidPriority = errors.New("priority must be between 1 and 10")

// EnqueueRequest describes a new review-queue entry. Priority must be an
// explicit value in [1,10]; callers wanting the default pass
// models.PriorityDefault.
type EnqueueRequest struct {
	ValidationResultID    string
	Priority              int
	ConfidenceScore       float64
	LanguageCode          string
	RequiresNativeSpeaker bool
}

// Service provides the review-queue operations over a store.
type Service struct {
	store store.Store
	clock Clock
}

// NewService creates a queue service. A nil clock uses wall time.
func NewService(s store.Store, clock Clock) *Service {
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{store: s, clock: clock}
}

// Enqueue adds a validation result to the review queue. Priorities outside
// [1,10] are rejected, never clamped; 0 is rejected like any other
// out-of-range value.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.QueueEntry, error) {
	if req.Priority < models.PriorityMin || req.Priority > models.PriorityMax {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPriority, req.Priority)
	}

	entry := &models.QueueEntry{
		ValidationResultID:    req.ValidationResultID,
		Priority:              req.Priority,
		ConfidenceScore:       req.ConfidenceScore,
		LanguageCode:          req.LanguageCode,
		Status:                models.QueueStatusPending,
		RequiresNativeSpeaker: req.RequiresNativeSpeaker,
	}
	if err := s.store.CreateQueueEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Dequeue returns up to limit pending entries in review order without
// claiming them. A concurrent caller may claim any of them first; treat a
// ClaimConflict on Claim as "take the next one".
func (s *Service) Dequeue(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.store.PendingQueueEntries(ctx, limit)
}

// Claim takes exclusive ownership of a pending entry for a validator.
func (s *Service) Claim(ctx context.Context, entryID, validatorID string) (*models.QueueEntry, error) {
	return s.store.ClaimQueueEntry(ctx, entryID, validatorID, s.clock.Now())
}

// ClaimNext dequeues and claims the highest-priority pending entry,
// retrying past entries lost to concurrent claimants. Returns ErrNotFound
// when the queue is empty.
func (s *Service) ClaimNext(ctx context.Context, validatorID string) (*models.QueueEntry, error) {
	for {
		candidates, err := s.store.PendingQueueEntries(ctx, 5)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no pending entries: %w", store.ErrNotFound)
		}
		for _, c := range candidates {
			entry, err := s.store.ClaimQueueEntry(ctx, c.ID, validatorID, s.clock.Now())
			if err == nil {
				return entry, nil
			}
			if !errors.Is(err, store.ErrClaimConflict) {
				return nil, err
			}
			// lost the race, try the next candidate
		}
	}
}

// Complete marks an entry finished by the validator holding the claim.
func (s *Service) Complete(ctx context.Context, entryID, validatorID string) error {
	return s.store.CompleteQueueEntry(ctx, entryID, validatorID)
}

// Release puts a claimed entry back in the pending pool, regardless of who
// holds the claim. Used by the timeout sweep and manual admin release.
func (s *Service) Release(ctx context.Context, entryID string) error {
	return s.store.ReleaseQueueEntry(ctx, entryID)
}
