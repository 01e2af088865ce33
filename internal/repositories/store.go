package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already taken")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the auth repositories and runs them atomically when needed.
type Store interface {
	Users() UserRepository
	Attempts() AttemptRepository
	Sessions() SessionRepository
	AccessTokens() AccessTokenRepository
	PasswordResets() PasswordResetRepository

	// WithTx runs fn against a transactional Store. Any error returned by fn
	// rolls the whole unit back. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type pgStore struct {
	db *sql.DB
	q  DBTX
}

func NewStore(db *sql.DB) Store {
	return &pgStore{db: db, q: db}
}

func (s *pgStore) Users() UserRepository               { return &userRepository{DB: s.q} }
func (s *pgStore) Attempts() AttemptRepository         { return &attemptRepository{DB: s.q} }
func (s *pgStore) Sessions() SessionRepository         { return &sessionRepository{DB: s.q} }
func (s *pgStore) AccessTokens() AccessTokenRepository { return &accessTokenRepository{DB: s.q} }
func (s *pgStore) PasswordResets() PasswordResetRepository {
	return &passwordResetRepository{DB: s.q}
}

func (s *pgStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgStore{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
