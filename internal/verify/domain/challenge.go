package domain

import "time"

const (
	// OutOfBandChallengeTTL is the validity window for challenges delivered
	// by the out-of-band SMS path. Provider-native challenges carry no local
	// expiry; the identity provider owns their lifetime.
	OutOfBandChallengeTTL = 10 * time.Minute

	// MaxChallengeAttempts is the number of wrong codes accepted before an
	// out-of-band challenge is destroyed.
	MaxChallengeAttempts = 5
)

// VerificationChallenge is one outstanding code-verification attempt.
//
// On the provider-native paths only Handle and PhoneNumber are meaningful:
// the identity provider tracks expiry and attempts on its side. On the
// out-of-band path the full record is persisted keyed by account id.
type VerificationChallenge struct {
	ID          string // ULID, the confirmation handle on the out-of-band path
	Handle      string // opaque issuance handle, required to confirm later
	AccountID   string // out-of-band path only
	PhoneNumber string // E.164, immutable once issued
	CodeHash    string // argon2id hash of the code, out-of-band path only
	IssuedAt    time.Time
	ExpiresAt   time.Time // zero on the provider-native paths
	Attempts    int
	MaxAttempts int
}

// Expired reports whether the challenge window has closed at the given time.
// Provider-native challenges (zero ExpiresAt) never expire locally.
func (c VerificationChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Exhausted reports whether the attempt budget has been spent.
func (c VerificationChallenge) Exhausted() bool {
	return c.MaxAttempts > 0 && c.Attempts >= c.MaxAttempts
}
