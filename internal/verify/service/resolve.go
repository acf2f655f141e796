package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
)

// ResolveState is the sign-in resolution flow position:
// ChallengeRequired -> AwaitingCode -> Resolving -> Resolved | Aborted.
type ResolveState int

const (
	ResolveChallengeRequired ResolveState = iota
	ResolveAwaitingCode
	Resolving
	Resolved
	ResolveAborted
)

func (s ResolveState) String() string {
	switch s {
	case ResolveChallengeRequired:
		return "challenge_required"
	case ResolveAwaitingCode:
		return "awaiting_code"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case ResolveAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SignInResolver satisfies a second-factor requirement raised during a
// primary sign-in. It is entered only via a provider
// SecondFactorRequiredError carrying a resolver session; absent that signal
// the component is bypassed entirely (see provider.SecondFactorRequired).
//
// The first enrolled-factor hint always wins; users do not pick among
// multiple enrolled factors.
type SignInResolver struct {
	Identity provider.Identity
	Issuer   ChallengeIssuer
	Widgets  *WidgetManager
	Sessions *SessionRef

	// ContainerID is the UI container the widget renders into.
	ContainerID string

	// OnState, when set, observes every transition.
	OnState func(ResolveState)

	mu          sync.Mutex
	state       ResolveState
	session     *domain.ResolverSession
	challenge   *domain.VerificationChallenge
	maskedPhone string
	epoch       uint64

	// issuing guards the window where Start or Resend has released the lock
	// for the issuance call but the flow is still in a restartable state.
	issuing bool
}

func NewSignInResolver(
	identity provider.Identity,
	issuer ChallengeIssuer,
	widgets *WidgetManager,
	sessions *SessionRef,
	containerID string,
) *SignInResolver {
	return &SignInResolver{
		Identity:    identity,
		Issuer:      issuer,
		Widgets:     widgets,
		Sessions:    sessions,
		ContainerID: containerID,
	}
}

// State returns the current flow position.
func (r *SignInResolver) State() ResolveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MaskedPhone returns the display hint for the factor being challenged.
func (r *SignInResolver) MaskedPhone() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maskedPhone
}

func (r *SignInResolver) setStateLocked(s ResolveState) {
	r.state = s
	if r.OnState != nil {
		r.OnState(s)
	}
}

// Start accepts the resolver session from the failed primary sign-in,
// challenges the first enrolled factor, and returns the masked phone number
// for display.
func (r *SignInResolver) Start(ctx context.Context, session domain.ResolverSession) (string, error) {
	if !session.Valid() {
		return "", ErrResolverSessionInvalid
	}

	r.mu.Lock()
	if r.issuing {
		r.mu.Unlock()
		return "", fmt.Errorf("sign-in resolution already in progress (state %s)", r.state)
	}
	switch r.state {
	case ResolveChallengeRequired, Resolved, ResolveAborted:
		// fresh or restartable positions
	default:
		r.mu.Unlock()
		return "", fmt.Errorf("sign-in resolution already in progress (state %s)", r.state)
	}
	r.session = &session
	r.setStateLocked(ResolveChallengeRequired)
	r.issuing = true
	epoch := r.epoch
	r.mu.Unlock()

	return r.issue(ctx, session, epoch)
}

// Resend re-enters ChallengeRequired from AwaitingCode: the widget is reset
// before reissuing, reusing a stale widget across two issuance calls is
// never allowed.
func (r *SignInResolver) Resend(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.state != ResolveAwaitingCode || r.session == nil {
		r.mu.Unlock()
		return "", ErrChallengeNotFound
	}
	session := *r.session
	r.challenge = nil
	r.setStateLocked(ResolveChallengeRequired)
	r.issuing = true
	epoch := r.epoch
	r.mu.Unlock()

	return r.issue(ctx, session, epoch)
}

// issue resets+creates the widget and issues a challenge scoped to the
// resolver session. ChallengeRequired -> AwaitingCode on success.
func (r *SignInResolver) issue(ctx context.Context, session domain.ResolverSession, epoch uint64) (string, error) {
	if _, err := r.Widgets.Create(ctx, r.ContainerID); err != nil {
		r.mu.Lock()
		r.issuing = false
		r.mu.Unlock()
		return "", err
	}

	res, err := r.Issuer.Issue(ctx, IssueRequest{Resolver: &session})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.issuing = false

	if r.epoch != epoch {
		r.Widgets.Reset(ctx)
		return "", ErrFlowCanceled
	}

	if err != nil {
		r.Widgets.Reset(ctx)
		if terminalChallengeError(err) {
			r.session = nil
		}
		r.setStateLocked(ResolveChallengeRequired)
		return "", err
	}

	ch := res.Challenge
	r.challenge = &ch

	r.maskedPhone = res.MaskedPhone
	if r.maskedPhone == "" {
		// Hint 0 always wins; the provider reports it pre-masked.
		r.maskedPhone = session.Hints[0].MaskedPhone
	}

	r.setStateLocked(ResolveAwaitingCode)
	return r.maskedPhone, nil
}

// SubmitCode confirms the code against the resolver session (not a fresh
// credential) and yields the final authenticated session, which also becomes
// the process-wide current session.
func (r *SignInResolver) SubmitCode(ctx context.Context, code string) (domain.Session, error) {
	r.mu.Lock()
	// Reject locally before reaching the provider when no challenge exists.
	if r.state != ResolveAwaitingCode || r.challenge == nil || r.session == nil {
		r.mu.Unlock()
		return domain.Session{}, ErrChallengeNotFound
	}
	challenge := *r.challenge
	session := *r.session
	epoch := r.epoch
	r.setStateLocked(Resolving)
	r.mu.Unlock()

	cred, err := r.Identity.Confirm(ctx, challenge.Handle, code)
	if err != nil {
		return r.confirmFailed(ctx, epoch, mapConfirmError(err))
	}

	// Bail between the two provider calls if the flow was canceled while the
	// confirmation was in flight.
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return domain.Session{}, ErrFlowCanceled
	}
	r.mu.Unlock()

	resolved, err := r.Identity.ResolveSignIn(ctx, session, cred)
	if err != nil {
		return r.confirmFailed(ctx, epoch, mapConfirmError(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch != epoch {
		return domain.Session{}, ErrFlowCanceled
	}

	r.challenge = nil
	r.session = nil
	r.Widgets.Reset(ctx)
	r.Sessions.Set(resolved)
	r.setStateLocked(Resolved)
	return resolved, nil
}

func (r *SignInResolver) confirmFailed(ctx context.Context, epoch uint64, err error) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch != epoch {
		return domain.Session{}, ErrFlowCanceled
	}

	if terminalChallengeError(err) {
		// The challenge (and for a dead resolver session, the whole flow)
		// cannot be retried; back to the initial position.
		r.challenge = nil
		r.Widgets.Reset(ctx)
		if errors.Is(err, ErrResolverSessionInvalid) {
			r.session = nil
		}
		r.setStateLocked(ResolveChallengeRequired)
	} else {
		r.setStateLocked(ResolveAwaitingCode)
	}
	return domain.Session{}, err
}

// Cancel abandons resolution: the widget is torn down and the resolver
// session discarded without contacting the provider again. A late in-flight
// response is dropped on arrival.
func (r *SignInResolver) Cancel(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	r.challenge = nil
	r.session = nil
	r.Widgets.Reset(ctx)
	r.setStateLocked(ResolveAborted)
}
