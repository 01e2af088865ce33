package repositories_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"invento/internal/models"
	"invento/internal/repositories"
	"invento/internal/repositories/memstore"
)

// Both Store implementations run the same cases. The Postgres run needs
// DATABASE_URL pointing at a scratch database; its tables are truncated.
func TestMemoryStore(t *testing.T) {
	runStoreCases(t, func(t *testing.T) repositories.Store { return memstore.New() })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../migrations/0001_auth.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	runStoreCases(t, func(t *testing.T) repositories.Store {
		_, err := db.Exec(`TRUNCATE users, login_attempts, ip_attempts, user_sessions, access_tokens, password_resets RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return repositories.NewStore(db)
	})
}

func runStoreCases(t *testing.T, open func(t *testing.T) repositories.Store) {
	cases := map[string]func(t *testing.T, s repositories.Store){
		"tx rollback":                caseTxRollback,
		"email unique among live":    caseEmailUnique,
		"trashed scoped to agency":   caseTrashedScoped,
		"attempt rows upsert":        caseAttemptUpsert,
		"attempt counter serialized": caseAttemptCounterSerialized,
		"password resets":            casePasswordResets,
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func newUser(t *testing.T, s repositories.Store, email string, agencyID *int64) *models.User {
	t.Helper()
	u := &models.User{
		AgencyID:     agencyID,
		Name:         "User",
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplace",
		Role:         "agency",
		Status:       models.StatusActive,
		Timezone:     "UTC",
		Language:     "en",
	}
	if agencyID != nil {
		u.Role = "salesman"
	}
	require.NoError(t, s.Users().Create(context.Background(), u))
	require.NotZero(t, u.ID)
	return u
}

func caseTxRollback(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx repositories.Store) error {
		newUser(t, tx, "gone@example.com", nil)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.Users().EmailExists(ctx, "gone@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func caseEmailUnique(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	first := newUser(t, s, "owner@example.com", nil)

	dup := &models.User{Name: "Dup", Email: "owner@example.com", PasswordHash: "x", Role: "agency", Status: models.StatusActive, Timezone: "UTC", Language: "en"}
	require.ErrorIs(t, s.Users().Create(ctx, dup), repositories.ErrEmailTaken)

	require.NoError(t, s.Users().SoftDelete(ctx, first.ID, time.Now()))
	newUser(t, s, "owner@example.com", nil)
	require.ErrorIs(t, s.Users().Restore(ctx, first.ID), repositories.ErrEmailTaken)
}

func caseTrashedScoped(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	a := newUser(t, s, "a@example.com", nil)
	b := newUser(t, s, "b@example.com", nil)
	staffA := newUser(t, s, "staff-a@example.com", &a.ID)
	staffB := newUser(t, s, "staff-b@example.com", &b.ID)
	liveA := newUser(t, s, "live-a@example.com", &a.ID)
	for _, id := range []int64{staffA.ID, staffB.ID} {
		require.NoError(t, s.Users().SoftDelete(ctx, id, time.Now()))
	}

	list, err := s.Users().ListTrashed(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, staffA.ID, list[0].ID)
	require.NotNil(t, list[0].DeletedAt)

	got, err := s.Users().GetTrashed(ctx, a.ID, staffA.ID)
	require.NoError(t, err)
	require.Equal(t, "staff-a@example.com", got.Email)

	_, err = s.Users().GetTrashed(ctx, a.ID, staffB.ID)
	require.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = s.Users().GetTrashed(ctx, a.ID, liveA.ID)
	require.ErrorIs(t, err, repositories.ErrNotFound)
}

func caseAttemptUpsert(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	first, err := s.Attempts().GetOrCreateDevice(ctx, "fp-upsert", "192.0.2.1", nil)
	require.NoError(t, err)
	first.AddEmail("a@example.com")
	first.FailedAttempts = 2
	require.NoError(t, s.Attempts().SaveDevice(ctx, first))

	again, err := s.Attempts().GetOrCreateDevice(ctx, "fp-upsert", "192.0.2.1", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 2, again.FailedAttempts)
	require.Equal(t, []string{"a@example.com"}, again.AttemptedEmails)

	ip1, err := s.Attempts().GetOrCreateIP(ctx, "192.0.2.1")
	require.NoError(t, err)
	ip2, err := s.Attempts().GetOrCreateIP(ctx, "192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, ip1.ID, ip2.ID)
}

// The row lock taken by GetOrCreate* must serialize read-modify-write
// cycles from concurrent transactions.
func caseAttemptCounterSerialized(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.WithTx(ctx, func(tx repositories.Store) error {
				dev, err := tx.Attempts().GetOrCreateDevice(ctx, "fp-race", "192.0.2.9", nil)
				if err != nil {
					return err
				}
				dev.AddEmail(fmt.Sprintf("u%d@example.com", i))
				dev.FailedAttempts++
				return tx.Attempts().SaveDevice(ctx, dev)
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	dev, err := s.Attempts().GetOrCreateDevice(ctx, "fp-race", "192.0.2.9", nil)
	require.NoError(t, err)
	require.Equal(t, n, dev.FailedAttempts)
	require.Len(t, dev.AttemptedEmails, n)
}

func casePasswordResets(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	u := newUser(t, s, "reset@example.com", nil)
	hash := fmt.Sprintf("%064x", 42)

	pr := &models.PasswordReset{UserID: u.ID, TokenHash: hash, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.PasswordResets().Create(ctx, pr))
	require.NotZero(t, pr.ID)

	err := s.WithTx(ctx, func(tx repositories.Store) error {
		got, err := tx.PasswordResets().GetByTokenHashForUpdate(ctx, hash)
		if err != nil {
			return err
		}
		require.Equal(t, pr.ID, got.ID)
		require.True(t, got.Usable(time.Now()))
		return tx.PasswordResets().MarkUsed(ctx, got.ID, time.Now())
	})
	require.NoError(t, err)

	got, err := s.PasswordResets().GetByTokenHashForUpdate(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got.UsedAt)
	require.False(t, got.Usable(time.Now()))

	n, err := s.PasswordResets().DeleteForUser(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = s.PasswordResets().GetByTokenHashForUpdate(ctx, hash)
	require.ErrorIs(t, err, repositories.ErrNotFound)
	require.ErrorIs(t, s.PasswordResets().MarkUsed(ctx, pr.ID, time.Now()), repositories.ErrNotFound)
}
