package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
)

// Raw signal errors surfaced by Identity implementations. The service layer
// maps these to its own taxonomy; they must never reach the presentation
// layer directly.
var (
	ErrRateLimited        = errors.New("provider: too many requests")
	ErrInvalidPhoneNumber = errors.New("provider: invalid phone number")
	ErrOperationDisabled  = errors.New("provider: phone verification disabled")
	ErrCodeRejected       = errors.New("provider: code rejected")
	ErrCodeExpired        = errors.New("provider: code expired")
	ErrResolverExpired    = errors.New("provider: resolver session expired")
	ErrDuplicateFactor    = errors.New("provider: factor already enrolled")
)

// SignInChallenge is the result of issuing a second-factor challenge against
// a resolver session.
type SignInChallenge struct {
	Handle      string
	MaskedPhone string
}

// Identity is the identity-provider boundary. All calls are network calls
// and may block until the provider's own timeout; the caller imposes none.
type Identity interface {
	// BeginEnrollmentChallenge sends a code to phoneNumber for attaching it
	// as a second factor. Requires a live anti-automation widget.
	BeginEnrollmentChallenge(ctx context.Context, phoneNumber string, widget *domain.Widget) (handle string, err error)

	// BeginSignInChallenge sends a code to the first enrolled factor recorded
	// on the resolver session.
	BeginSignInChallenge(ctx context.Context, session domain.ResolverSession, widget *domain.Widget) (SignInChallenge, error)

	// Confirm validates a submitted code against its issuance handle.
	Confirm(ctx context.Context, handle, code string) (domain.Credential, error)

	// BindSecondFactor attaches the confirmed phone credential to the active
	// account under a human-readable label.
	BindSecondFactor(ctx context.Context, cred domain.Credential, label string) error

	// ResolveSignIn completes a second-factor sign-in, consuming the
	// resolver session and yielding the final authenticated session.
	ResolveSignIn(ctx context.Context, session domain.ResolverSession, cred domain.Credential) (domain.Session, error)
}

// SMSSender delivers verification messages on the out-of-band path. The
// returned bool reports whether delivery was acknowledged by the gateway.
type SMSSender interface {
	Send(ctx context.Context, toE164, message string) (bool, error)
}

// WidgetEvents carries the callbacks a rendered widget fires. Expired must
// be safe to invoke at any time; the manager uses it to drop the instance.
type WidgetEvents struct {
	Solved  func()
	Expired func()
}

// WidgetDriver renders anti-automation widgets into UI containers on behalf
// of the widget manager.
type WidgetDriver interface {
	// EnsureContainer makes the container available, synthesizing an
	// invisible one when the hosting environment has none with that id.
	EnsureContainer(ctx context.Context, containerID string) error

	// Render instantiates a widget in the container and returns its id.
	Render(ctx context.Context, containerID string, events WidgetEvents) (widgetID string, err error)

	// Remove tears the widget down. Errors are advisory; callers swallow them.
	Remove(ctx context.Context, widgetID string) error
}

// SecondFactorRequiredError is returned by a primary sign-in when the
// provider accepted the credential but demands a second factor. It carries
// the resolver session the sign-in resolver consumes.
type SecondFactorRequiredError struct {
	Session domain.ResolverSession
}

func (e *SecondFactorRequiredError) Error() string {
	return fmt.Sprintf("second factor required: %d enrolled factor(s)", len(e.Session.Hints))
}

// SecondFactorRequired extracts a resolver session from a sign-in error.
// The second return is false when err is unrelated, letting callers treat
// this as a pass-through gate rather than a failure.
func SecondFactorRequired(err error) (domain.ResolverSession, bool) {
	var sfr *SecondFactorRequiredError
	if errors.As(err, &sfr) {
		return sfr.Session, true
	}
	return domain.ResolverSession{}, false
}
