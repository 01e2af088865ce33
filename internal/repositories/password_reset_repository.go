package repositories

import (
	"context"
	"database/sql"
	"time"

	"invento/internal/models"
)

type PasswordResetRepository interface {
	Create(ctx context.Context, pr *models.PasswordReset) error
	// GetByTokenHashForUpdate locks the row until the surrounding tx ends.
	GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*models.PasswordReset, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) error
	// DeleteForUser drops every outstanding token of the user.
	DeleteForUser(ctx context.Context, userID int64) (int64, error)
}

type passwordResetRepository struct {
	DB DBTX
}

func (r *passwordResetRepository) Create(ctx context.Context, pr *models.PasswordReset) error {
	const q = `
		INSERT INTO password_resets (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	return r.DB.QueryRowContext(ctx, q, pr.UserID, pr.TokenHash, pr.ExpiresAt).Scan(&pr.ID, &pr.CreatedAt)
}

func (r *passwordResetRepository) GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	const q = `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_resets
		WHERE token_hash = $1
		FOR UPDATE
	`
	pr := &models.PasswordReset{}
	var usedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, q, tokenHash).Scan(
		&pr.ID, &pr.UserID, &pr.TokenHash, &pr.ExpiresAt, &usedAt, &pr.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		pr.UsedAt = &t
	}
	return pr, nil
}

func (r *passwordResetRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE password_resets SET used_at = $1 WHERE id = $2`
	res, err := r.DB.ExecContext(ctx, q, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *passwordResetRepository) DeleteForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
