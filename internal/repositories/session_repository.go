package repositories

import (
	"context"
	"database/sql"
	"time"

	"invento/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.UserSession) error
	GetByID(ctx context.Context, id int64) (*models.UserSession, error)
	// GetByIDForUpdate locks the row until the surrounding tx ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.UserSession, error)
	// ListByUser returns the user's sessions oldest first.
	ListByUser(ctx context.Context, userID int64) ([]*models.UserSession, error)
	// ListActive returns every session with expires_at after now.
	ListActive(ctx context.Context, now time.Time) ([]*models.UserSession, error)
	UpdateRefresh(ctx context.Context, id int64, cipherText string, usedAt time.Time) error
	SetCountry(ctx context.Context, id int64, country string) error
	Delete(ctx context.Context, id int64) error
	DeleteForUser(ctx context.Context, userID, id int64) (bool, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}

type sessionRepository struct {
	DB DBTX
}

const sessionColumns = `
	id, user_id, COALESCE(device_name,''), COALESCE(browser_name,''), ip_address, country,
	refresh_token, expires_at, last_used_at, created_at, updated_at
`

func scanSession(row rowScanner) (*models.UserSession, error) {
	s := &models.UserSession{}
	var (
		country  sql.NullString
		lastUsed sql.NullTime
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceName, &s.BrowserName, &s.IPAddress, &country,
		&s.RefreshToken, &s.ExpiresAt, &lastUsed, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if country.Valid {
		c := country.String
		s.Country = &c
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		s.LastUsedAt = &t
	}
	return s, nil
}

func (r *sessionRepository) Create(ctx context.Context, s *models.UserSession) error {
	const q = `
		INSERT INTO user_sessions (
			user_id, device_name, browser_name, ip_address, country,
			refresh_token, expires_at, last_used_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, q,
		s.UserID, s.DeviceName, s.BrowserName, s.IPAddress, s.Country,
		s.RefreshToken, s.ExpiresAt, s.LastUsedAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *sessionRepository) GetByID(ctx context.Context, id int64) (*models.UserSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	return scanSession(r.DB.QueryRowContext(ctx, q, id))
}

func (r *sessionRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.UserSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1 FOR UPDATE`
	return scanSession(r.DB.QueryRowContext(ctx, q, id))
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID int64) ([]*models.UserSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE user_id = $1 ORDER BY created_at, id`
	return r.list(ctx, q, userID)
}

func (r *sessionRepository) ListActive(ctx context.Context, now time.Time) ([]*models.UserSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE expires_at > $1 ORDER BY id`
	return r.list(ctx, q, now)
}

func (r *sessionRepository) list(ctx context.Context, q string, args ...any) ([]*models.UserSession, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.UserSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *sessionRepository) UpdateRefresh(ctx context.Context, id int64, cipherText string, usedAt time.Time) error {
	const q = `
		UPDATE user_sessions
		SET refresh_token=$1, last_used_at=$2, updated_at=NOW()
		WHERE id=$3
	`
	res, err := r.DB.ExecContext(ctx, q, cipherText, usedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepository) SetCountry(ctx context.Context, id int64, country string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE user_sessions SET country=$1, updated_at=NOW() WHERE id=$2`, country, id)
	return err
}

func (r *sessionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM user_sessions WHERE id=$1`, id)
	return err
}

func (r *sessionRepository) DeleteForUser(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM user_sessions WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sessionRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
