package domain

import "time"

// Credential is the provider artifact proving a code was confirmed. It is
// opaque to callers; this subsystem only threads it into follow-up calls
// (bind factor, resolve sign-in).
type Credential struct {
	UID         string
	PhoneNumber string
	IssuedAt    time.Time
}

// Session is the authenticated session yielded by a resolved sign-in. The
// process holds at most one at a time (see service.SessionRef).
type Session struct {
	UID             string
	Token           string
	AMR             []string // authentication method references, e.g. ["pwd", "sms"]
	AuthenticatedAt time.Time
}
