package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"invento/internal/models"
)

// AttemptRepository persists device and IP failure counters. The Get*
// methods create the row on first sight and lock it for the rest of the
// surrounding transaction.
type AttemptRepository interface {
	GetOrCreateDevice(ctx context.Context, fingerprint, ip string, userID *int64) (*models.LoginAttempt, error)
	GetOrCreateIP(ctx context.Context, ip string) (*models.IpAttempt, error)
	SaveDevice(ctx context.Context, a *models.LoginAttempt) error
	SaveIP(ctx context.Context, a *models.IpAttempt) error
}

type attemptRepository struct {
	DB DBTX
}

func (r *attemptRepository) GetOrCreateDevice(ctx context.Context, fingerprint, ip string, userID *int64) (*models.LoginAttempt, error) {
	const ins = `
		INSERT INTO login_attempts (browser_fingerprint, ip_address, user_id, attempted_emails)
		VALUES ($1, $2, $3, '[]'::jsonb)
		ON CONFLICT (browser_fingerprint) DO NOTHING
	`
	if _, err := r.DB.ExecContext(ctx, ins, fingerprint, ip, userID); err != nil {
		return nil, fmt.Errorf("create login attempt: %w", err)
	}

	const q = `
		SELECT id, browser_fingerprint, COALESCE(ip_address,''), user_id, attempted_emails,
		       failed_attempts, lock_count, lock_until, created_at, updated_at
		FROM login_attempts
		WHERE browser_fingerprint = $1
		FOR UPDATE
	`
	a := &models.LoginAttempt{}
	var (
		uid      sql.NullInt64
		emails   []byte
		lockedTo sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, q, fingerprint).Scan(
		&a.ID, &a.BrowserFingerprint, &a.IPAddress, &uid, &emails,
		&a.FailedAttempts, &a.LockCount, &lockedTo, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get login attempt: %w", notFound(err))
	}
	if uid.Valid {
		v := uid.Int64
		a.UserID = &v
	}
	if len(emails) > 0 {
		if err := json.Unmarshal(emails, &a.AttemptedEmails); err != nil {
			return nil, fmt.Errorf("decode attempted emails: %w", err)
		}
	}
	if lockedTo.Valid {
		t := lockedTo.Time
		a.LockUntil = &t
	}
	return a, nil
}

func (r *attemptRepository) GetOrCreateIP(ctx context.Context, ip string) (*models.IpAttempt, error) {
	const ins = `
		INSERT INTO ip_attempts (ip_address) VALUES ($1)
		ON CONFLICT (ip_address) DO NOTHING
	`
	if _, err := r.DB.ExecContext(ctx, ins, ip); err != nil {
		return nil, fmt.Errorf("create ip attempt: %w", err)
	}

	const q = `
		SELECT id, ip_address, failed_attempts, lock_until, created_at, updated_at
		FROM ip_attempts
		WHERE ip_address = $1
		FOR UPDATE
	`
	a := &models.IpAttempt{}
	var lockedTo sql.NullTime
	if err := r.DB.QueryRowContext(ctx, q, ip).Scan(
		&a.ID, &a.IPAddress, &a.FailedAttempts, &lockedTo, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("get ip attempt: %w", notFound(err))
	}
	if lockedTo.Valid {
		t := lockedTo.Time
		a.LockUntil = &t
	}
	return a, nil
}

func (r *attemptRepository) SaveDevice(ctx context.Context, a *models.LoginAttempt) error {
	emails, err := json.Marshal(nonNil(a.AttemptedEmails))
	if err != nil {
		return err
	}
	const q = `
		UPDATE login_attempts
		SET ip_address=$1, user_id=COALESCE($2, user_id), attempted_emails=$3,
		    failed_attempts=$4, lock_count=$5, lock_until=$6, updated_at=NOW()
		WHERE id=$7
	`
	_, err = r.DB.ExecContext(ctx, q,
		a.IPAddress, a.UserID, emails, a.FailedAttempts, a.LockCount, a.LockUntil, a.ID)
	return err
}

func (r *attemptRepository) SaveIP(ctx context.Context, a *models.IpAttempt) error {
	const q = `
		UPDATE ip_attempts
		SET failed_attempts=$1, lock_until=$2, updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.ExecContext(ctx, q, a.FailedAttempts, a.LockUntil, a.ID)
	return err
}
