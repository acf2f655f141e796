package domain

// FactorHint describes an already-enrolled second factor, as reported by the
// identity provider when a sign-in requires step-up verification.
type FactorHint struct {
	FactorID    string
	MaskedPhone string
}

// ResolverSession is the provider's record that a primary credential was
// accepted but a second factor is still required. It is consumed exactly once
// by a successful confirmation and discarded on any terminal failure or
// user cancellation.
type ResolverSession struct {
	Token string       // opaque, passed to issuance instead of a fresh assertion
	Hints []FactorHint // ordered; hint 0 is always selected
}

// Valid reports whether the session carries enough to drive a challenge.
func (s ResolverSession) Valid() bool {
	return s.Token != "" && len(s.Hints) > 0
}
