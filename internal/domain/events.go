package domain

import "time"

// EventType names a state transition recorded for external observability.
type EventType string

const (
	EventItemCreated          EventType = "queue_item_created"
	EventItemLeased           EventType = "queue_item_leased"
	EventItemCompleted        EventType = "queue_item_completed"
	EventItemFailed           EventType = "queue_item_failed"
	EventItemRetried          EventType = "queue_item_retried"
	EventCredentialRateLimit  EventType = "credential_rate_limited"
	EventCredentialSuspended  EventType = "credential_suspended"
	EventDiscoveryRunFinished EventType = "discovery_run_finished"
	EventDispatchRunFinished  EventType = "dispatch_run_finished"
)

// Event is one structured state-transition record.
type Event struct {
	Type       EventType
	CampaignID string
	ItemID     string
	Provider   string
	Credential string
	ErrorKind  ErrorKind
	At         time.Time
	Fields     map[string]any
}
