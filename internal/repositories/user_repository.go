package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"invento/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	// GetByIDForUpdate locks the row until the surrounding tx ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	RecordLogin(ctx context.Context, id int64, at time.Time, ip string) error
	SetTwoFactorCode(ctx context.Context, id int64, codeHash *string, expiresAt *time.Time, verified bool) error
	SetTwoFactorEnabled(ctx context.Context, id int64, enabled bool) error
	SetRecoveryCodes(ctx context.Context, id int64, cipherTexts []string) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	SetStatus(ctx context.Context, id int64, status string) error

	// soft delete
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	Restore(ctx context.Context, id int64) error
	ForceDelete(ctx context.Context, id int64) error
	// ListTrashed and GetTrashed only see rows whose agency_id is agencyID.
	ListTrashed(ctx context.Context, agencyID int64) ([]*models.User, error)
	GetTrashed(ctx context.Context, agencyID, id int64) (*models.User, error)
}

type userRepository struct {
	DB DBTX
}

const userColumns = `
	id, agency_id, name, email, COALESCE(phone,''), password, role, status,
	COALESCE(timezone,''), COALESCE(language,''), last_login_at, last_login_ip,
	two_factor_enabled, is_two_factor_verified, two_factor_secret,
	two_factor_code, two_factor_expires_at, two_factor_recovery_codes,
	created_at, updated_at, deleted_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var (
		agencyID    sql.NullInt64
		lastLoginAt sql.NullTime
		lastLoginIP sql.NullString
		secret      sql.NullString
		code        sql.NullString
		codeExp     sql.NullTime
		recovery    []byte
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&u.ID, &agencyID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Status,
		&u.Timezone, &u.Language, &lastLoginAt, &lastLoginIP,
		&u.TwoFactorEnabled, &u.TwoFactorVerified, &secret,
		&code, &codeExp, &recovery,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if agencyID.Valid {
		v := agencyID.Int64
		u.AgencyID = &v
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	if lastLoginIP.Valid {
		s := lastLoginIP.String
		u.LastLoginIP = &s
	}
	if secret.Valid {
		s := secret.String
		u.TwoFactorSecret = &s
	}
	if code.Valid {
		s := code.String
		u.TwoFactorCodeHash = &s
	}
	if codeExp.Valid {
		t := codeExp.Time
		u.TwoFactorExpiresAt = &t
	}
	if len(recovery) > 0 {
		if err := json.Unmarshal(recovery, &u.RecoveryCodesCipher); err != nil {
			return nil, fmt.Errorf("decode recovery codes: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	const q = `
		INSERT INTO users (
			agency_id, name, email, phone, password, role, status,
			timezone, language, two_factor_enabled, two_factor_recovery_codes
		)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at, updated_at
	`
	codes, err := json.Marshal(nonNil(user.RecoveryCodesCipher))
	if err != nil {
		return err
	}
	err = r.DB.QueryRowContext(ctx, q,
		user.AgencyID,
		user.Name,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.Timezone,
		user.Language,
		user.TwoFactorEnabled,
		codes,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(r.DB.QueryRowContext(ctx, q, id))
}

func (r *userRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return scanUser(r.DB.QueryRowContext(ctx, q, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	return scanUser(r.DB.QueryRowContext(ctx, q, email))
}

func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL)`
	var ok bool
	err := r.DB.QueryRowContext(ctx, q, email).Scan(&ok)
	return ok, err
}

func (r *userRepository) RecordLogin(ctx context.Context, id int64, at time.Time, ip string) error {
	const q = `
		UPDATE users
		SET last_login_at=$1, last_login_ip=$2, is_two_factor_verified=FALSE, updated_at=NOW()
		WHERE id=$3 AND deleted_at IS NULL
	`
	return r.execOne(ctx, q, at, ip, id)
}

func (r *userRepository) SetTwoFactorCode(ctx context.Context, id int64, codeHash *string, expiresAt *time.Time, verified bool) error {
	const q = `
		UPDATE users
		SET two_factor_code=$1, two_factor_expires_at=$2, is_two_factor_verified=$3, updated_at=NOW()
		WHERE id=$4 AND deleted_at IS NULL
	`
	return r.execOne(ctx, q, codeHash, expiresAt, verified, id)
}

func (r *userRepository) SetTwoFactorEnabled(ctx context.Context, id int64, enabled bool) error {
	const q = `UPDATE users SET two_factor_enabled=$1, updated_at=NOW() WHERE id=$2 AND deleted_at IS NULL`
	return r.execOne(ctx, q, enabled, id)
}

func (r *userRepository) SetRecoveryCodes(ctx context.Context, id int64, cipherTexts []string) error {
	codes, err := json.Marshal(nonNil(cipherTexts))
	if err != nil {
		return err
	}
	const q = `UPDATE users SET two_factor_recovery_codes=$1, updated_at=NOW() WHERE id=$2 AND deleted_at IS NULL`
	return r.execOne(ctx, q, codes, id)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password=$1, updated_at=NOW() WHERE id=$2 AND deleted_at IS NULL`
	return r.execOne(ctx, q, hash, id)
}

func (r *userRepository) SetStatus(ctx context.Context, id int64, status string) error {
	const q = `UPDATE users SET status=$1, updated_at=NOW() WHERE id=$2 AND deleted_at IS NULL`
	return r.execOne(ctx, q, status, id)
}

func (r *userRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET deleted_at=$1 WHERE id=$2 AND deleted_at IS NULL`
	return r.execOne(ctx, q, at, id)
}

func (r *userRepository) Restore(ctx context.Context, id int64) error {
	const q = `UPDATE users SET deleted_at=NULL WHERE id=$1 AND deleted_at IS NOT NULL`
	err := r.execOne(ctx, q, id)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepository) ForceDelete(ctx context.Context, id int64) error {
	return r.execOne(ctx, `DELETE FROM users WHERE id=$1`, id)
}

func (r *userRepository) GetTrashed(ctx context.Context, agencyID, id int64) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND agency_id = $2 AND deleted_at IS NOT NULL`
	return scanUser(r.DB.QueryRowContext(ctx, q, id, agencyID))
}

func (r *userRepository) ListTrashed(ctx context.Context, agencyID int64) ([]*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE agency_id = $1 AND deleted_at IS NOT NULL ORDER BY deleted_at DESC`
	rows, err := r.DB.QueryContext(ctx, q, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r *userRepository) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
