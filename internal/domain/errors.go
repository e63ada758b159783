package domain

import "errors"

// ErrorKind classifies item-level and dispatch-level failures.
type ErrorKind string

const (
	ErrKindTransport        ErrorKind = "transport_error"
	ErrKindParse            ErrorKind = "parse_error"
	ErrKindQuotaExhausted   ErrorKind = "quota_exhausted"
	ErrKindNoCredential     ErrorKind = "no_credential_available"
	ErrKindProviderRejected ErrorKind = "provider_rejected"
	ErrKindLeaseExpired     ErrorKind = "lease_expired"
	ErrKindLeaseExpiredMax  ErrorKind = "lease_expired_max_retry"
)

// Retryable reports whether a failure of this kind should re-enter the queue.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransport, ErrKindQuotaExhausted, ErrKindNoCredential, ErrKindLeaseExpired:
		return true
	}
	return false
}

// ProviderCallError is a classified failure from a transformation call.
// RateLimit marks quota responses so the rotator can park the credential;
// Permanent marks rejections that must not be retried.
type ProviderCallError struct {
	Kind      ErrorKind
	Message   string
	RateLimit bool
	Permanent bool
}

func (e *ProviderCallError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

var (
	// ErrNoCredentialAvailable is returned by Acquire when no credential for
	// the provider passes the availability predicate.
	ErrNoCredentialAvailable = errors.New("no credential available")

	// ErrItemNotFound is returned by queue operations on unknown ids.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrCredentialNotFound is returned by pool operations on unknown ids.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrTerminalState rejects transitions out of completed/failed/skipped.
	ErrTerminalState = errors.New("item is in a terminal state")
)
