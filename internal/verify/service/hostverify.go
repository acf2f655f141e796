package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
)

// HostVerifyState is the out-of-band hosting-verification flow position:
// Idle -> AwaitingCode -> Verifying -> Verified.
type HostVerifyState int

const (
	HostVerifyIdle HostVerifyState = iota
	HostVerifyAwaitingCode
	HostVerifying
	HostVerified
)

func (s HostVerifyState) String() string {
	switch s {
	case HostVerifyIdle:
		return "idle"
	case HostVerifyAwaitingCode:
		return "awaiting_code"
	case HostVerifying:
		return "verifying"
	case HostVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// HostVerificationManager drives first-time hosting verification over the
// out-of-band SMS path. No identity provider and no anti-automation widget
// are involved; the challenge record is server-side state keyed by account.
type HostVerificationManager struct {
	Issuer    ChallengeIssuer
	Confirmer ConfirmationHandler

	// OnState, when set, observes every transition.
	OnState func(HostVerifyState)

	mu        sync.Mutex
	state     HostVerifyState
	challenge *domain.VerificationChallenge
	epoch     uint64
}

func NewHostVerificationManager(issuer ChallengeIssuer, confirmer ConfirmationHandler) *HostVerificationManager {
	return &HostVerificationManager{Issuer: issuer, Confirmer: confirmer}
}

// State returns the current flow position.
func (m *HostVerificationManager) State() HostVerifyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *HostVerificationManager) setStateLocked(s HostVerifyState) {
	m.state = s
	if m.OnState != nil {
		m.OnState(s)
	}
}

// Start issues an out-of-band challenge for (accountID, phoneNumber). A
// delivery timeout (ErrDeliveryUnknown) still advances to AwaitingCode: the
// record was persisted and the code may yet arrive.
func (m *HostVerificationManager) Start(ctx context.Context, accountID, phoneNumber string) error {
	m.mu.Lock()
	switch m.state {
	case HostVerifyIdle, HostVerified:
		// restartable positions
	default:
		m.mu.Unlock()
		return fmt.Errorf("host verification already in progress (state %s)", m.state)
	}
	epoch := m.epoch
	m.mu.Unlock()

	res, err := m.Issuer.Issue(ctx, IssueRequest{AccountID: accountID, PhoneNumber: phoneNumber})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return ErrFlowCanceled
	}

	if err != nil && !errors.Is(err, ErrDeliveryUnknown) {
		m.setStateLocked(HostVerifyIdle)
		return err
	}

	// On ErrDeliveryUnknown the issuer still hands back the persisted
	// challenge, normalized number included, so confirmation works against
	// the stored record.
	ch := res.Challenge
	m.challenge = &ch
	m.setStateLocked(HostVerifyAwaitingCode)
	return err
}

// SubmitCode confirms the code against the stored record. Wrong codes leave
// the flow retryable in AwaitingCode; expiry and an exhausted attempt budget
// are terminal and return to Idle. On success the signed verification
// receipt is returned.
func (m *HostVerificationManager) SubmitCode(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	if m.state != HostVerifyAwaitingCode || m.challenge == nil {
		m.mu.Unlock()
		return "", ErrChallengeNotFound
	}
	challenge := *m.challenge
	epoch := m.epoch
	m.setStateLocked(HostVerifying)
	m.mu.Unlock()

	res, err := m.Confirmer.Confirm(ctx, ConfirmRequest{Challenge: challenge, Code: code})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return "", ErrFlowCanceled
	}

	if err != nil {
		if terminalChallengeError(err) || errors.Is(err, ErrChallengeNotFound) {
			m.challenge = nil
			m.setStateLocked(HostVerifyIdle)
		} else {
			m.setStateLocked(HostVerifyAwaitingCode)
		}
		return "", err
	}

	m.challenge = nil
	m.setStateLocked(HostVerified)
	return res.Receipt, nil
}

// Cancel abandons the flow and drops any in-flight result on arrival. The
// server-side record is left to expire on its own.
func (m *HostVerificationManager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.challenge = nil
	m.setStateLocked(HostVerifyIdle)
}
