package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
	"github.com/gigharbour/phonefactor/internal/verify/store"
	"github.com/gigharbour/phonefactor/pkg/idx"
	"github.com/gigharbour/phonefactor/pkg/slogx"
)

// EnrollState is the enrollment flow position:
// Idle -> AwaitingCode -> Enrolling -> Enrolled | Failed.
type EnrollState int

const (
	EnrollIdle EnrollState = iota
	EnrollAwaitingCode
	Enrolling
	Enrolled
	EnrollFailed
)

func (s EnrollState) String() string {
	switch s {
	case EnrollIdle:
		return "idle"
	case EnrollAwaitingCode:
		return "awaiting_code"
	case Enrolling:
		return "enrolling"
	case Enrolled:
		return "enrolled"
	case EnrollFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EnrollmentManager attaches a verified phone number as a second factor to
// the already-authenticated account. It composes the widget manager, a
// provider-native issuer, and a provider-native confirmer.
//
// Provider calls run outside the lock; an epoch counter discards results
// that land after Cancel or a competing restart.
type EnrollmentManager struct {
	Identity  provider.Identity
	Issuer    ChallengeIssuer
	Confirmer ConfirmationHandler
	Widgets   *WidgetManager
	Sessions  *SessionRef
	Factors   store.Factors

	// ContainerID is the UI container the widget renders into.
	ContainerID string

	// OnState, when set, observes every transition.
	OnState func(EnrollState)

	mu        sync.Mutex
	state     EnrollState
	challenge *domain.VerificationChallenge
	label     string
	epoch     uint64

	// issuing guards the window where Start has released the lock for the
	// issuance call but the flow is still in a restartable state.
	issuing bool
}

func NewEnrollmentManager(
	identity provider.Identity,
	issuer ChallengeIssuer,
	confirmer ConfirmationHandler,
	widgets *WidgetManager,
	sessions *SessionRef,
	factors store.Factors,
	containerID string,
) *EnrollmentManager {
	return &EnrollmentManager{
		Identity:    identity,
		Issuer:      issuer,
		Confirmer:   confirmer,
		Widgets:     widgets,
		Sessions:    sessions,
		Factors:     factors,
		ContainerID: containerID,
	}
}

// State returns the current flow position.
func (m *EnrollmentManager) State() EnrollState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *EnrollmentManager) setStateLocked(s EnrollState) {
	m.state = s
	if m.OnState != nil {
		m.OnState(s)
	}
}

// Start issues a provider-native challenge for phoneNumber. Idle ->
// AwaitingCode on success; on issuance failure the flow stays in Idle with
// the widget torn down and the typed error surfaced.
func (m *EnrollmentManager) Start(ctx context.Context, phoneNumber, label string) error {
	m.mu.Lock()
	if m.issuing {
		m.mu.Unlock()
		return fmt.Errorf("enrollment already in progress (state %s)", m.state)
	}
	switch m.state {
	case EnrollIdle, Enrolled, EnrollFailed:
		// restartable positions
	default:
		m.mu.Unlock()
		return fmt.Errorf("enrollment already in progress (state %s)", m.state)
	}
	m.issuing = true
	epoch := m.epoch
	m.mu.Unlock()

	if _, err := m.Widgets.Create(ctx, m.ContainerID); err != nil {
		m.mu.Lock()
		m.issuing = false
		m.mu.Unlock()
		return err
	}

	res, err := m.Issuer.Issue(ctx, IssueRequest{PhoneNumber: phoneNumber})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuing = false

	if m.epoch != epoch {
		m.Widgets.Reset(ctx)
		return ErrFlowCanceled
	}

	if err != nil {
		m.Widgets.Reset(ctx)
		m.setStateLocked(EnrollIdle)
		return err
	}

	ch := res.Challenge
	m.challenge = &ch
	m.label = label
	m.setStateLocked(EnrollAwaitingCode)
	return nil
}

// SubmitCode confirms the code and binds the credential as a named second
// factor. Confirmation failures return the flow to AwaitingCode so the user
// can resubmit, except terminal ones (expired code, attempt budget, dead
// resolver session) which return to Idle and require a fresh challenge.
func (m *EnrollmentManager) SubmitCode(ctx context.Context, code string) error {
	l := slogx.FromContext(ctx)

	m.mu.Lock()
	// Reject locally before reaching the provider when no challenge exists.
	if m.state != EnrollAwaitingCode || m.challenge == nil {
		m.mu.Unlock()
		return ErrChallengeNotFound
	}
	challenge := *m.challenge
	epoch := m.epoch
	m.setStateLocked(Enrolling)
	m.mu.Unlock()

	res, err := m.Confirmer.Confirm(ctx, ConfirmRequest{Challenge: challenge, Code: code})

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrFlowCanceled
	}

	if err != nil {
		if terminalChallengeError(err) {
			m.challenge = nil
			m.Widgets.Reset(ctx)
			m.setStateLocked(EnrollIdle)
		} else {
			m.setStateLocked(EnrollAwaitingCode)
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	bindErr := m.Identity.BindSecondFactor(ctx, res.Credential, m.label)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return ErrFlowCanceled
	}

	// The widget is torn down unconditionally from here on, success or not.
	m.challenge = nil
	m.Widgets.Reset(ctx)

	if bindErr != nil {
		// No automatic retry: the confirmation credential is spent, the user
		// restarts from Idle.
		m.setStateLocked(EnrollFailed)
		return fmt.Errorf("%w: %v", ErrConfirmationFailed, bindErr)
	}

	session := m.Sessions.Current()
	accountID := res.Credential.UID
	if accountID == "" && session != nil {
		accountID = session.UID
	}

	factor := domain.EnrolledFactor{
		ID:          idx.New().String(),
		AccountID:   accountID,
		PhoneNumber: res.Credential.PhoneNumber,
		Label:       m.label,
		EnrolledAt:  time.Now(),
	}
	if factor.PhoneNumber == "" {
		factor.PhoneNumber = challenge.PhoneNumber
	}

	if err := m.Factors.CreateFactor(ctx, factor); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		// The factor is live at the provider; losing the local mirror is
		// logged, not surfaced.
		l.Error("failed to record enrolled factor", "account_id", accountID, "error", err)
	}

	m.setStateLocked(Enrolled)
	return nil
}

// Cancel abandons the flow: the widget is reset, in-memory challenge state
// discarded, and any in-flight provider response will be dropped on arrival.
// In-flight network calls themselves are never interrupted.
func (m *EnrollmentManager) Cancel(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.challenge = nil
	m.Widgets.Reset(ctx)
	m.setStateLocked(EnrollIdle)
}

// terminalChallengeError reports whether err invalidates the current
// challenge entirely, forcing a return to the initial state.
func terminalChallengeError(err error) bool {
	return errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrTooManyAttempts) ||
		errors.Is(err, ErrResolverSessionInvalid)
}
