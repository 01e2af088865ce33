package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"invento/internal/authz"
	"invento/internal/models"
	"invento/internal/repositories/memstore"
	"invento/internal/utils"
)

const testPassword = "s3cret-password"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentCode struct {
	UserID int64
	Code   string
}

type captureNotifier struct {
	mu        sync.Mutex
	codes     []sentCode
	recovery  map[int64][]string
	passwords []int64
	resets    map[int64]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{recovery: map[int64][]string{}, resets: map[int64]string{}}
}

func (n *captureNotifier) TwoFactorCode(_ context.Context, user *models.User, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, sentCode{UserID: user.ID, Code: code})
	return nil
}

func (n *captureNotifier) RecoveryCodes(_ context.Context, user *models.User, codes []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recovery[user.ID] = append([]string(nil), codes...)
	return nil
}

func (n *captureNotifier) PasswordChanged(_ context.Context, user *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passwords = append(n.passwords, user.ID)
	return nil
}

func (n *captureNotifier) PasswordReset(_ context.Context, user *models.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets[user.ID] = token
	return nil
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.codes, "no two-factor code sent")
	return n.codes[len(n.codes)-1].Code
}

type captureAlerter struct {
	mu     sync.Mutex
	events []LockEvent
}

func (a *captureAlerter) LockApplied(_ context.Context, ev LockEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

type fixture struct {
	store     *memstore.Store
	clock     *testClock
	hasher    PasswordHasher
	enc       *utils.Encrypter
	tracker   *AttemptTracker
	tokens    *TokenService
	sessions  *SessionService
	twoFactor *TwoFactorService
	auth      *AuthService
	users     *userService
	resets    *passwordResetService
	notes     *captureNotifier
	alerts    *captureAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	store.SetClock(clock.Now)

	enc, err := utils.NewEncrypter("0123456789abcdef-test-key")
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		clock:  clock,
		hasher: NewBcryptHasher(bcrypt.MinCost),
		enc:    enc,
		notes:  newCaptureNotifier(),
		alerts: &captureAlerter{},
	}
	notify := Notifiers{f.notes}

	f.tracker = NewAttemptTracker(store, DefaultLockoutPolicy(), f.alerts)
	f.tracker.now = clock.Now
	f.tokens = NewTokenService("test-jwt-secret-0123456789", 15*time.Minute, 7*24*time.Hour, enc)
	f.tokens.now = clock.Now
	f.sessions = NewSessionService(store, 3, 7*24*time.Hour, nil, true)
	f.sessions.now = clock.Now
	f.twoFactor = NewTwoFactorService(store, f.hasher, enc, notify, 10*time.Minute, 8)
	f.twoFactor.now = clock.Now
	f.auth = NewAuthService(store, f.hasher, f.tracker, f.tokens, f.sessions, f.twoFactor, notify)
	f.auth.now = clock.Now
	f.users = NewUserService(store, f.hasher, notify).(*userService)
	f.users.now = clock.Now
	f.resets = NewPasswordResetService(store, f.hasher, notify, time.Hour).(*passwordResetService)
	f.resets.now = clock.Now
	return f
}

// seedUser inserts an active user with testPassword.
func (f *fixture) seedUser(t *testing.T, email, role string, mutate ...func(u *models.User)) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	u := &models.User{
		Name:         "Test " + role,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       models.StatusActive,
		Timezone:     "UTC",
		Language:     "en",
	}
	for _, m := range mutate {
		m(u)
	}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) seedAgency(t *testing.T, email string) *models.User {
	return f.seedUser(t, email, authz.RoleAgency)
}

func device(ip string) models.DeviceMeta {
	return models.DeviceMeta{IP: ip, UserAgent: "Mozilla/5.0 (test)", DeviceName: "Laptop"}
}
