package domain

import "time"

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether no further transition may occur from the state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// QueueItem is a DiscoveredItem persisted with lifecycle state.
// Only pending items are eligible for leasing; processing items carry
// ProcessingStartedAt so stalled leases can be reclaimed.
type QueueItem struct {
	ID   string
	Item DiscoveredItem

	Status           Status
	RetryCount       int
	LastErrorKind    ErrorKind
	LastErrorMessage string

	DiscoveredAt time.Time
	// NotBefore defers re-leasing after a retryable failure (backoff marker).
	NotBefore           time.Time
	ProcessingStartedAt time.Time
	ProcessedAt         time.Time

	// ResultReference points at the produced artifact, e.g. a published post id.
	ResultReference string
}

// EnqueueOutcome reports how the queue handled a discovered item.
type EnqueueOutcome string

const (
	OutcomeInserted         EnqueueOutcome = "inserted"
	OutcomeDuplicateUpdated EnqueueOutcome = "duplicate_updated"
	OutcomeDuplicateIgnored EnqueueOutcome = "duplicate_ignored"
)
