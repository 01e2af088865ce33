// Package memstore is an in-process implementation of repositories.Store.
// It backs the "memory" database driver for local runs and the service
// tests. Transactions run on a private copy of the state that replaces the
// shared state only when the callback succeeds.
package memstore

import (
	"context"
	"sync"
	"time"

	"invento/internal/models"
	"invento/internal/repositories"
)

type state struct {
	users    map[int64]*models.User
	devices  map[string]*models.LoginAttempt
	ips      map[string]*models.IpAttempt
	sessions map[int64]*models.UserSession
	tokens   map[string]*models.AccessToken
	resets   map[int64]*models.PasswordReset

	nextUserID    int64
	nextAttemptID int64
	nextIPID      int64
	nextSessionID int64
	nextResetID   int64
}

func newState() *state {
	return &state{
		users:    map[int64]*models.User{},
		devices:  map[string]*models.LoginAttempt{},
		ips:      map[string]*models.IpAttempt{},
		sessions: map[int64]*models.UserSession{},
		tokens:   map[string]*models.AccessToken{},
		resets:   map[int64]*models.PasswordReset{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.users {
		cp.users[k] = v.Clone()
	}
	for k, v := range s.devices {
		cp.devices[k] = v.Clone()
	}
	for k, v := range s.ips {
		cp.ips[k] = v.Clone()
	}
	for k, v := range s.sessions {
		cp.sessions[k] = v.Clone()
	}
	for k, v := range s.tokens {
		cp.tokens[k] = v.Clone()
	}
	for k, v := range s.resets {
		cp.resets[k] = v.Clone()
	}
	cp.nextUserID = s.nextUserID
	cp.nextAttemptID = s.nextAttemptID
	cp.nextIPID = s.nextIPID
	cp.nextSessionID = s.nextSessionID
	cp.nextResetID = s.nextResetID
	return cp
}

type faults struct {
	mu  sync.Mutex
	ops map[string]error
}

func (f *faults) get(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops[op]
}

// Store is safe for concurrent use.
type Store struct {
	mu     *sync.Mutex
	st     *state
	clock  *func() time.Time
	faults *faults
	inTx   bool
}

func New() *Store {
	now := time.Now
	return &Store{
		mu:     &sync.Mutex{},
		st:     newState(),
		clock:  &now,
		faults: &faults{ops: map[string]error{}},
	}
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.clock = now
}

// FailOn makes the named operation (e.g. "sessions.Create") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if err == nil {
		delete(s.faults.ops, op)
		return
	}
	s.faults.ops[op] = err
}

func (s *Store) now() time.Time { return (*s.clock)() }

func (s *Store) Users() repositories.UserRepository               { return &userRepo{s: s} }
func (s *Store) Attempts() repositories.AttemptRepository         { return &attemptRepo{s: s} }
func (s *Store) Sessions() repositories.SessionRepository         { return &sessionRepo{s: s} }
func (s *Store) AccessTokens() repositories.AccessTokenRepository { return &tokenRepo{s: s} }
func (s *Store) PasswordResets() repositories.PasswordResetRepository {
	return &resetRepo{s: s}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{
		mu:     &sync.Mutex{},
		st:     s.st.clone(),
		clock:  s.clock,
		faults: s.faults,
		inTx:   true,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// do runs fn under the store lock after checking injected faults.
func (s *Store) do(op string, fn func(st *state) error) error {
	if err := s.faults.get(op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

var _ repositories.Store = (*Store)(nil)
