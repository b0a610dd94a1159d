package usecase

import "time"

const (
	// DefaultChallengeTTL is how long a pending challenge may wait for confirmation.
	// The bank's own challenge validity is a few minutes.
	DefaultChallengeTTL = 5 * time.Minute

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour
)

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
