package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
	redisdrv "github.com/gigharbour/phonefactor/internal/verify/store/drivers/redis"
	sqlitedrv "github.com/gigharbour/phonefactor/internal/verify/store/drivers/sqlite"
)

// newChallengeStore spins up a miniredis-backed challenge store.
func newChallengeStore(t *testing.T) *redisdrv.Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return redisdrv.NewStore(rdb)
}

// newFactorsStore opens an in-memory sqlite factors store with migrations
// applied.
func newFactorsStore(t *testing.T) *sqlitedrv.Store {
	t.Helper()

	st, err := sqlitedrv.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	return st
}

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSMS records outgoing messages and can be told to fail or hang.
type fakeSMS struct {
	mu       sync.Mutex
	messages []string
	to       []string

	err     error
	ack     bool
	blockOn bool // when set, Send blocks until ctx is done
}

func newFakeSMS() *fakeSMS {
	return &fakeSMS{ack: true}
}

func (s *fakeSMS) Send(ctx context.Context, toE164, message string) (bool, error) {
	if s.blockOn {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if s.err != nil {
		return false, s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	s.to = append(s.to, toE164)
	return s.ack, nil
}

func (s *fakeSMS) lastMessage(t *testing.T) string {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.messages)
	return s.messages[len(s.messages)-1]
}

// codePattern extracts the six-digit code from a delivery message.
var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func extractCode(t *testing.T, message string) string {
	t.Helper()

	code := codePattern.FindString(message)
	require.NotEmpty(t, code, "no code in message %q", message)
	return code
}

// fakeWidgetDriver tracks rendered widgets so tests can assert the
// single-instance invariant.
type fakeWidgetDriver struct {
	mu     sync.Mutex
	nextID int
	live   map[string]provider.WidgetEvents

	renders int
	removes int

	ensureErr error
	removeErr error
}

func newFakeWidgetDriver() *fakeWidgetDriver {
	return &fakeWidgetDriver{live: make(map[string]provider.WidgetEvents)}
}

func (d *fakeWidgetDriver) EnsureContainer(ctx context.Context, containerID string) error {
	return d.ensureErr
}

func (d *fakeWidgetDriver) Render(ctx context.Context, containerID string, events provider.WidgetEvents) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.renders++
	id := fmt.Sprintf("widget-%d", d.nextID)
	d.live[id] = events
	return id, nil
}

func (d *fakeWidgetDriver) Remove(ctx context.Context, widgetID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removes++
	delete(d.live, widgetID)
	return d.removeErr
}

func (d *fakeWidgetDriver) liveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// fireExpired triggers the expiry callback registered for a widget id.
func (d *fakeWidgetDriver) fireExpired(widgetID string) {
	d.mu.Lock()
	events, ok := d.live[widgetID]
	d.mu.Unlock()

	if ok && events.Expired != nil {
		events.Expired()
	}
}

// fakeIdentity is a scriptable identity provider.
type fakeIdentity struct {
	mu sync.Mutex

	enrollHandle string
	enrollErr    error
	// enrollHook runs inside BeginEnrollmentChallenge, before returning;
	// used to race a competing call against an in-flight issuance.
	enrollHook func()

	signInChallenge provider.SignInChallenge
	signInErr       error
	// signInHook mirrors enrollHook for BeginSignInChallenge.
	signInHook func()

	cred       domain.Credential
	confirmErr error
	// confirmHook runs inside Confirm, before returning; used to race
	// cancellation against an in-flight call.
	confirmHook func()

	bindErr error

	session    domain.Session
	resolveErr error

	enrollCalls  int
	signInCalls  int
	confirmCalls int
	bindCalls    int
	resolveCalls int
}

func (f *fakeIdentity) BeginEnrollmentChallenge(ctx context.Context, phoneNumber string, widget *domain.Widget) (string, error) {
	f.mu.Lock()
	f.enrollCalls++
	hook := f.enrollHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.enrollErr != nil {
		return "", f.enrollErr
	}
	if f.enrollHandle == "" {
		return "handle-enroll", nil
	}
	return f.enrollHandle, nil
}

func (f *fakeIdentity) BeginSignInChallenge(ctx context.Context, session domain.ResolverSession, widget *domain.Widget) (provider.SignInChallenge, error) {
	f.mu.Lock()
	f.signInCalls++
	hook := f.signInHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.signInErr != nil {
		return provider.SignInChallenge{}, f.signInErr
	}
	if f.signInChallenge.Handle == "" {
		return provider.SignInChallenge{Handle: "handle-signin", MaskedPhone: "+15*******67"}, nil
	}
	return f.signInChallenge, nil
}

func (f *fakeIdentity) Confirm(ctx context.Context, handle, code string) (domain.Credential, error) {
	f.mu.Lock()
	f.confirmCalls++
	hook := f.confirmHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.confirmErr != nil {
		return domain.Credential{}, f.confirmErr
	}
	return f.cred, nil
}

func (f *fakeIdentity) BindSecondFactor(ctx context.Context, cred domain.Credential, label string) error {
	f.mu.Lock()
	f.bindCalls++
	f.mu.Unlock()
	return f.bindErr
}

func (f *fakeIdentity) ResolveSignIn(ctx context.Context, session domain.ResolverSession, cred domain.Credential) (domain.Session, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()

	if f.resolveErr != nil {
		return domain.Session{}, f.resolveErr
	}
	return f.session, nil
}
