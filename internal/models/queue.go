package models

import "time"

// QueueStatus represents the state of a review-queue entry.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusCompleted QueueStatus = "completed"
)

// Queue entry priority bounds. 10 is most urgent.
const (
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

// QueueEntry is one validation awaiting human review.
//
// ClaimedBy and ClaimedAt are both nil or both set; status "claimed"
// implies both are set. Entries are never deleted, only completed.
type QueueEntry struct {
	ID                    string
	ValidationResultID    string
	Priority              int // 1–10, 10 = most urgent
	ConfidenceScore       float64
	LanguageCode          string
	Status                QueueStatus
	ClaimedBy             string
	ClaimedAt             *time.Time
	RequiresNativeSpeaker bool
	CreatedAt             time.Time
}
