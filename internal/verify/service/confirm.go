package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
	"github.com/gigharbour/phonefactor/internal/verify/store"
	"github.com/gigharbour/phonefactor/pkg/cryptox"
	"github.com/gigharbour/phonefactor/pkg/slogx"
)

// ConfirmRequest carries a submitted code plus the challenge it answers.
type ConfirmRequest struct {
	Challenge domain.VerificationChallenge
	Code      string
}

// ConfirmResult is a successful confirmation. Receipt is set on the
// out-of-band path only: a signed claim the host application can pass to
// other subsystems as proof of phone possession.
type ConfirmResult struct {
	Credential domain.Credential
	Receipt    string
}

// ConfirmationHandler validates a submitted code against its challenge.
// Mirrors ChallengeIssuer: ProviderConfirmer delegates entirely to the
// identity provider, OutOfBandConfirmer validates against the stored record.
//
// Both strategies stay retryable after a failure except ErrCodeExpired and
// ErrTooManyAttempts, which are terminal for the challenge.
type ConfirmationHandler interface {
	Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
}

// ProviderConfirmer delegates code validation to the identity provider. No
// local attempt counting; the provider enforces its own limits.
type ProviderConfirmer struct {
	Identity provider.Identity
}

func (c *ProviderConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	cred, err := c.Identity.Confirm(ctx, req.Challenge.Handle, req.Code)
	if err != nil {
		return ConfirmResult{}, mapConfirmError(err)
	}
	return ConfirmResult{Credential: cred}, nil
}

func mapConfirmError(err error) error {
	switch {
	case errors.Is(err, provider.ErrCodeRejected):
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	case errors.Is(err, provider.ErrCodeExpired):
		return fmt.Errorf("%w: %v", ErrCodeExpired, err)
	case errors.Is(err, provider.ErrResolverExpired):
		return fmt.Errorf("%w: %v", ErrResolverSessionInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}
}

// OutOfBandConfirmer validates codes against the stored challenge record,
// enforcing expiry, phone binding, and the attempt budget locally.
type OutOfBandConfirmer struct {
	Challenges store.Challenges
	Factors    store.Factors
	Receipts   *ReceiptSigner

	// Purpose labels the verification mark, e.g. "hosting".
	Purpose string

	// Now is replaceable for expiry tests.
	Now func() time.Time
}

func (c *OutOfBandConfirmer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *OutOfBandConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	l := slogx.FromContext(ctx)
	accountID := req.Challenge.AccountID

	stored, err := c.Challenges.GetChallenge(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ConfirmResult{}, ErrChallengeNotFound
		}
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}

	now := c.now()

	if stored.Expired(now) {
		// Terminal: the record is destroyed, a repeat confirmation finds
		// nothing rather than the same expiry.
		if err := c.Challenges.DeleteChallenge(ctx, accountID); err != nil {
			l.Error("failed to delete expired challenge", "account_id", accountID, "error", err)
		}
		return ConfirmResult{}, ErrCodeExpired
	}

	if req.Challenge.PhoneNumber != "" && req.Challenge.PhoneNumber != stored.PhoneNumber {
		// The number changed mid-flow without re-issuing.
		return ConfirmResult{}, ErrPhoneMismatch
	}

	if err := cryptox.VerifyCode(req.Code, stored.CodeHash); err != nil {
		if !errors.Is(err, cryptox.ErrCodeMismatch) {
			return ConfirmResult{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
		}

		updated, err := c.Challenges.IncrementChallengeAttempts(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ConfirmResult{}, ErrChallengeNotFound
			}
			return ConfirmResult{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
		}

		if updated.Exhausted() {
			if err := c.Challenges.DeleteChallenge(ctx, accountID); err != nil {
				l.Error("failed to delete exhausted challenge", "account_id", accountID, "error", err)
			}
			l.Warn("challenge attempt budget exhausted", "account_id", accountID, "attempts", updated.Attempts)
			return ConfirmResult{}, ErrTooManyAttempts
		}
		return ConfirmResult{}, ErrInvalidCode
	}

	if err := c.Factors.MarkPhoneVerified(ctx, domain.PhoneVerification{
		AccountID:   accountID,
		PhoneNumber: stored.PhoneNumber,
		Purpose:     c.Purpose,
		VerifiedAt:  now,
	}); err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}

	if err := c.Challenges.DeleteChallenge(ctx, accountID); err != nil {
		l.Error("failed to delete confirmed challenge", "account_id", accountID, "error", err)
	}

	result := ConfirmResult{
		Credential: domain.Credential{
			UID:         accountID,
			PhoneNumber: stored.PhoneNumber,
			IssuedAt:    now,
		},
	}

	if c.Receipts != nil {
		receipt, err := c.Receipts.Sign(accountID, stored.PhoneNumber, c.Purpose)
		if err != nil {
			return ConfirmResult{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
		}
		result.Receipt = receipt
	}

	return result, nil
}
