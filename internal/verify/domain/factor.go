package domain

import "time"

// EnrolledFactor is a phone number durably bound to an account as a second
// authentication factor. Never mutated in place: re-enrollment either creates
// a new factor or is rejected as a duplicate.
type EnrolledFactor struct {
	ID          string // ULID
	AccountID   string
	PhoneNumber string // E.164
	Label       string // human-readable, e.g. "Work phone"
	EnrolledAt  time.Time
}

// PhoneVerification records that an account proved possession of a phone
// number for a given purpose (e.g. "hosting"). Written by the out-of-band
// confirmation path.
type PhoneVerification struct {
	AccountID   string
	PhoneNumber string
	Purpose     string
	VerifiedAt  time.Time
}
