package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"invento/internal/models"
)

type AccessTokenRepository interface {
	Create(ctx context.Context, t *models.AccessToken) error
	Get(ctx context.Context, id string) (*models.AccessToken, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}

type accessTokenRepository struct {
	DB DBTX
}

func (r *accessTokenRepository) Create(ctx context.Context, t *models.AccessToken) error {
	abilities, err := json.Marshal(nonNil(t.Abilities))
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO access_tokens (id, user_id, name, abilities, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`
	return r.DB.QueryRowContext(ctx, q, t.ID, t.UserID, t.Name, abilities, t.ExpiresAt).Scan(&t.CreatedAt)
}

func (r *accessTokenRepository) Get(ctx context.Context, id string) (*models.AccessToken, error) {
	const q = `
		SELECT id, user_id, name, abilities, expires_at, last_used_at, created_at
		FROM access_tokens
		WHERE id = $1
	`
	t := &models.AccessToken{}
	var (
		abilities []byte
		lastUsed  sql.NullTime
	)
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.UserID, &t.Name, &abilities, &t.ExpiresAt, &lastUsed, &t.CreatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if len(abilities) > 0 {
		if err := json.Unmarshal(abilities, &t.Abilities); err != nil {
			return nil, fmt.Errorf("decode abilities: %w", err)
		}
	}
	if lastUsed.Valid {
		lt := lastUsed.Time
		t.LastUsedAt = &lt
	}
	return t, nil
}

func (r *accessTokenRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE access_tokens SET last_used_at=$1 WHERE id=$2`, at, id)
	return err
}

func (r *accessTokenRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM access_tokens WHERE id=$1`, id)
	return err
}

func (r *accessTokenRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM access_tokens WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
