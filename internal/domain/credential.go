package domain

import "time"

// CredentialStatus is the health state of a provider credential.
type CredentialStatus string

const (
	CredentialActive      CredentialStatus = "active"
	CredentialRateLimited CredentialStatus = "rate_limited"
	CredentialSuspended   CredentialStatus = "suspended"
)

// Credential is one provider access grant with its quota windows.
// KeyMaterial is opaque and must never reach a log line.
type Credential struct {
	CredentialID string
	Provider     string
	KeyMaterial  string

	PerMinuteLimit     int
	PerDayLimit        int
	CurrentMinuteCount int
	CurrentDayCount    int

	MinuteWindowResetAt time.Time
	DayWindowResetAt    time.Time

	Status                  CredentialStatus
	ConsecutiveFailureCount int
	LastUsedAt              time.Time

	// Priority is the tie-break weight for the priority strategy; lower wins.
	Priority int
}

// Available reports whether the credential may serve a call right now,
// assuming windows have already been lazily reset.
func (c Credential) Available() bool {
	return c.Status == CredentialActive &&
		c.CurrentMinuteCount < c.PerMinuteLimit &&
		c.CurrentDayCount < c.PerDayLimit
}

// RotationStrategy selects the next credential from a provider's pool.
type RotationStrategy string

const (
	StrategyRoundRobin RotationStrategy = "round_robin"
	StrategyLeastUsed  RotationStrategy = "least_used"
	StrategyRandom     RotationStrategy = "random"
	StrategyPriority   RotationStrategy = "priority"
)

// Normalize maps unrecognized strategy names to the round-robin default.
func (s RotationStrategy) Normalize() RotationStrategy {
	switch s {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyRandom, StrategyPriority:
		return s
	}
	return StrategyRoundRobin
}
