package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
)

type resolveFixture struct {
	resolver *SignInResolver
	identity *fakeIdentity
	driver   *fakeWidgetDriver
	sessions *SessionRef
}

func newResolveFixture(t *testing.T) *resolveFixture {
	t.Helper()

	identity := &fakeIdentity{
		cred:    domain.Credential{UID: "u1", PhoneNumber: "+15551234567"},
		session: domain.Session{UID: "u1", Token: "resolved-token", AMR: []string{"pwd", "sms"}},
	}
	driver := newFakeWidgetDriver()
	widgets := &WidgetManager{Driver: driver}
	sessions := &SessionRef{}

	resolver := NewSignInResolver(
		identity,
		&ProviderIssuer{Identity: identity, Widgets: widgets, Sessions: sessions},
		widgets,
		sessions,
		"mfa-container",
	)
	return &resolveFixture{resolver: resolver, identity: identity, driver: driver, sessions: sessions}
}

func resolverSession() domain.ResolverSession {
	return domain.ResolverSession{
		Token: "resolver-token",
		Hints: []domain.FactorHint{{FactorID: "f1", MaskedPhone: "+15*******67"}},
	}
}

func TestResolveHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	masked, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)
	require.Equal(t, "+15*******67", masked)
	require.Equal(t, ResolveAwaitingCode, fx.resolver.State())
	require.Equal(t, 1, fx.driver.liveCount())

	session, err := fx.resolver.SubmitCode(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, "resolved-token", session.Token)
	require.Equal(t, Resolved, fx.resolver.State())

	// The resolved session becomes the process-wide current session and the
	// widget is torn down.
	current := fx.sessions.Current()
	require.NotNil(t, current)
	require.Equal(t, "resolved-token", current.Token)
	require.Zero(t, fx.driver.liveCount())
}

// The resolver is entered only via the provider's second-factor signal.
func TestSecondFactorRequiredExtraction(t *testing.T) {
	t.Parallel()

	raw := &provider.SecondFactorRequiredError{Session: resolverSession()}

	session, ok := provider.SecondFactorRequired(raw)
	require.True(t, ok)
	require.Equal(t, "resolver-token", session.Token)

	_, ok = provider.SecondFactorRequired(provider.ErrCodeRejected)
	require.False(t, ok)
}

func TestResolveRejectsInvalidSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, domain.ResolverSession{})
	require.ErrorIs(t, err, ErrResolverSessionInvalid)
	require.Equal(t, ResolveChallengeRequired, fx.resolver.State())
	require.Zero(t, fx.driver.liveCount())
}

func TestResolveFallsBackToHintMask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)
	fx.identity.signInChallenge = provider.SignInChallenge{Handle: "handle-signin"}

	masked, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)
	require.Equal(t, "+15*******67", masked)
	require.Equal(t, masked, fx.resolver.MaskedPhone())
}

func TestResolveResendRebuildsWidget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)

	_, err = fx.resolver.Resend(ctx)
	require.NoError(t, err)
	require.Equal(t, ResolveAwaitingCode, fx.resolver.State())

	// A fresh widget was rendered for the reissue; never two alive at once.
	require.Equal(t, 2, fx.driver.renders)
	require.Equal(t, 1, fx.driver.liveCount())
	require.Equal(t, 2, fx.identity.signInCalls)
}

// A second Start while the first issuance call is still in flight must be
// rejected, even though the in-between state is itself restartable.
func TestResolveStartRejectedWhileIssuing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	var overlapping error
	fx.identity.signInHook = func() {
		_, overlapping = fx.resolver.Start(ctx, resolverSession())
	}

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)
	require.Error(t, overlapping)
	require.Equal(t, ResolveAwaitingCode, fx.resolver.State())

	// Only the first issuance reached the provider.
	require.Equal(t, 1, fx.identity.signInCalls)
	require.Equal(t, 1, fx.driver.liveCount())
}

func TestResolveResendRequiresActiveChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Resend(ctx)
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestResolveInvalidCodeIsRetryable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)

	fx.identity.confirmErr = provider.ErrCodeRejected
	_, err = fx.resolver.SubmitCode(ctx, "000000")
	require.ErrorIs(t, err, ErrInvalidCode)
	require.Equal(t, ResolveAwaitingCode, fx.resolver.State())
	require.Equal(t, 1, fx.driver.liveCount())

	fx.identity.confirmErr = nil
	_, err = fx.resolver.SubmitCode(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, Resolved, fx.resolver.State())
}

func TestResolveDeadResolverSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)

	fx.identity.confirmErr = provider.ErrResolverExpired
	_, err = fx.resolver.SubmitCode(ctx, "123456")
	require.ErrorIs(t, err, ErrResolverSessionInvalid)
	require.Equal(t, ResolveChallengeRequired, fx.resolver.State())
	require.Zero(t, fx.driver.liveCount())

	// The resolver session is gone; resuming needs a fresh primary sign-in.
	_, err = fx.resolver.SubmitCode(ctx, "123456")
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestResolveCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)

	fx.resolver.Cancel(ctx)
	require.Equal(t, ResolveAborted, fx.resolver.State())
	require.Zero(t, fx.driver.liveCount())
	require.Nil(t, fx.sessions.Current())

	// Aborted is restartable with a fresh resolver session.
	_, err = fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)
	require.Equal(t, ResolveAwaitingCode, fx.resolver.State())
}

func TestResolveCancelDuringConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fx := newResolveFixture(t)

	_, err := fx.resolver.Start(ctx, resolverSession())
	require.NoError(t, err)

	fx.identity.confirmHook = func() { fx.resolver.Cancel(ctx) }

	_, err = fx.resolver.SubmitCode(ctx, "123456")
	require.ErrorIs(t, err, ErrFlowCanceled)
	require.Equal(t, ResolveAborted, fx.resolver.State())
	require.Nil(t, fx.sessions.Current())
	require.Zero(t, fx.identity.resolveCalls)
}
