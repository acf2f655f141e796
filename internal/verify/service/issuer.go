package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
	"github.com/gigharbour/phonefactor/internal/verify/store"
	"github.com/gigharbour/phonefactor/pkg/cryptox"
	"github.com/gigharbour/phonefactor/pkg/idx"
	"github.com/gigharbour/phonefactor/pkg/phonex"
	"github.com/gigharbour/phonefactor/pkg/slogx"
)

// IssueRequest selects the issuance target. Resolver is set on the sign-in
// path only; AccountID is required on the out-of-band path only.
type IssueRequest struct {
	AccountID   string
	PhoneNumber string
	Resolver    *domain.ResolverSession
}

// IssueResult is a freshly issued challenge plus the masked number the UI
// may display.
type IssueResult struct {
	Challenge   domain.VerificationChallenge
	MaskedPhone string
}

// ChallengeIssuer requests that a one-time code be sent, producing a
// verification handle. Two interchangeable strategies implement it:
// ProviderIssuer (identity-provider SMS) and OutOfBandIssuer (own delivery).
type ChallengeIssuer interface {
	Issue(ctx context.Context, req IssueRequest) (IssueResult, error)
}

// ProviderIssuer issues challenges through the identity provider. It
// requires a live anti-automation widget, and on the enrollment path an
// authenticated session.
type ProviderIssuer struct {
	Identity provider.Identity
	Widgets  *WidgetManager
	Sessions *SessionRef
}

func (i *ProviderIssuer) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	w := i.Widgets.Current()
	if !w.Usable() {
		return IssueResult{}, ErrWidgetUnavailable
	}

	now := time.Now()

	if req.Resolver != nil {
		ch, err := i.Identity.BeginSignInChallenge(ctx, *req.Resolver, w)
		if err != nil {
			return IssueResult{}, mapIssueError(err)
		}
		return IssueResult{
			Challenge: domain.VerificationChallenge{
				ID:       idx.New().String(),
				Handle:   ch.Handle,
				IssuedAt: now,
			},
			MaskedPhone: ch.MaskedPhone,
		}, nil
	}

	if i.Sessions.Current() == nil {
		return IssueResult{}, ErrNoAuthenticatedSession
	}

	phone, err := phonex.Normalize(req.PhoneNumber)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}

	handle, err := i.Identity.BeginEnrollmentChallenge(ctx, phone, w)
	if err != nil {
		return IssueResult{}, mapIssueError(err)
	}

	return IssueResult{
		Challenge: domain.VerificationChallenge{
			ID:          idx.New().String(),
			Handle:      handle,
			PhoneNumber: phone,
			IssuedAt:    now,
		},
		MaskedPhone: phonex.Mask(phone),
	}, nil
}

// mapIssueError folds raw provider signals into the service taxonomy. Rate
// limits, invalid numbers, disabled features, and plain transport failures
// all land under ErrChallengeDeliveryFailed with the cause preserved in the
// message for logging.
func mapIssueError(err error) error {
	if errors.Is(err, provider.ErrResolverExpired) {
		return fmt.Errorf("%w: %v", ErrResolverSessionInvalid, err)
	}
	return fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
}

// OutOfBandIssuer generates a random six-digit code, persists the challenge
// keyed by account id, and dispatches the code through an external SMS
// gateway. Used for first-time hosting verification; no identity provider
// or widget is involved.
type OutOfBandIssuer struct {
	Challenges store.Challenges
	SMS        provider.SMSSender

	TTL         time.Duration // challenge window, default 10 minutes
	SendTimeout time.Duration // delivery call bound, default 15 seconds
	MaxAttempts int           // default 5

	// ResendEvery/ResendBurst throttle issuance per account.
	ResendEvery time.Duration
	ResendBurst int

	// Now is replaceable for expiry tests.
	Now func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (i *OutOfBandIssuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *OutOfBandIssuer) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return domain.OutOfBandChallengeTTL
}

func (i *OutOfBandIssuer) sendTimeout() time.Duration {
	if i.SendTimeout > 0 {
		return i.SendTimeout
	}
	return 15 * time.Second
}

func (i *OutOfBandIssuer) maxAttempts() int {
	if i.MaxAttempts > 0 {
		return i.MaxAttempts
	}
	return domain.MaxChallengeAttempts
}

// allow checks the per-account issuance throttle.
func (i *OutOfBandIssuer) allow(accountID string) bool {
	if i.ResendEvery <= 0 {
		return true
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.limiters == nil {
		i.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := i.limiters[accountID]
	if !ok {
		burst := i.ResendBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Every(i.ResendEvery), burst)
		i.limiters[accountID] = lim
	}
	return lim.Allow()
}

func (i *OutOfBandIssuer) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	l := slogx.FromContext(ctx)

	phone, err := phonex.Normalize(req.PhoneNumber)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}

	if !i.allow(req.AccountID) {
		return IssueResult{}, fmt.Errorf("%w: resend throttled", ErrChallengeDeliveryFailed)
	}

	code, err := cryptox.GenerateCode()
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}
	codeHash, err := cryptox.HashCode(code)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}

	now := i.now()
	ch := domain.VerificationChallenge{
		ID:          idx.New().String(),
		AccountID:   req.AccountID,
		PhoneNumber: phone,
		CodeHash:    codeHash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.ttl()),
		MaxAttempts: i.maxAttempts(),
	}
	ch.Handle = ch.ID

	if err := i.Challenges.CreateChallenge(ctx, ch); err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}

	message := fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes.",
		code, int(i.ttl().Minutes()),
	)

	sendCtx, cancel := context.WithTimeout(ctx, i.sendTimeout())
	defer cancel()

	acked, err := i.SMS.Send(sendCtx, phone, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || sendCtx.Err() != nil {
			// Delivery outcome unknown: the record was already persisted and
			// stays valid, the gateway may still deliver. The persisted
			// challenge is returned so the caller can confirm against it.
			l.Warn("sms delivery timed out", "account_id", req.AccountID)
			return IssueResult{Challenge: ch, MaskedPhone: phonex.Mask(phone)}, ErrDeliveryUnknown
		}

		// Definitely not sent. Deleting the record is the canonical cleanup;
		// a later confirmation finds "not found" rather than a stale code.
		_ = i.Challenges.DeleteChallenge(ctx, req.AccountID)
		l.Warn("sms delivery failed", "account_id", req.AccountID, "error", err)
		return IssueResult{}, fmt.Errorf("%w: %v", ErrChallengeDeliveryFailed, err)
	}
	if !acked {
		_ = i.Challenges.DeleteChallenge(ctx, req.AccountID)
		return IssueResult{}, fmt.Errorf("%w: delivery not acknowledged", ErrChallengeDeliveryFailed)
	}

	return IssueResult{Challenge: ch, MaskedPhone: phonex.Mask(phone)}, nil
}
