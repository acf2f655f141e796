package store

import (
	"context"
	"errors"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Challenges persists out-of-band verification challenges, keyed by account
// id. At most one outstanding challenge exists per account; creating a new
// one replaces any previous record.
type Challenges interface {
	// CreateChallenge writes the record, replacing any existing one for the
	// same account.
	CreateChallenge(ctx context.Context, c domain.VerificationChallenge) error

	// GetChallenge returns the outstanding challenge for an account.
	GetChallenge(ctx context.Context, accountID string) (domain.VerificationChallenge, error)

	// IncrementChallengeAttempts bumps the failed-attempt counter and returns
	// the updated record.
	IncrementChallengeAttempts(ctx context.Context, accountID string) (domain.VerificationChallenge, error)

	// DeleteChallenge removes the record. Deleting a missing record is a no-op.
	DeleteChallenge(ctx context.Context, accountID string) error

	// DeleteExpiredChallenges removes records past their expiry (housekeeping).
	DeleteExpiredChallenges(ctx context.Context) error
}

// Factors persists durable phone-factor state owned by accounts.
type Factors interface {
	// CreateFactor inserts a new enrolled factor. Returns ErrAlreadyExists
	// when the account already has that phone number bound.
	CreateFactor(ctx context.Context, f domain.EnrolledFactor) error

	// ListFactorsByAccount returns an account's factors, oldest first.
	ListFactorsByAccount(ctx context.Context, accountID string) ([]domain.EnrolledFactor, error)

	// DeleteFactor removes a factor by id.
	DeleteFactor(ctx context.Context, factorID string) error

	// MarkPhoneVerified upserts a verification mark for (account, phone, purpose).
	MarkPhoneVerified(ctx context.Context, v domain.PhoneVerification) error

	// IsPhoneVerified reports whether a verification mark exists.
	IsPhoneVerified(ctx context.Context, accountID, phoneNumber, purpose string) (bool, error)
}
