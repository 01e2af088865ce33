package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/authz"
	"invento/internal/models"
	"invento/internal/repositories"
)

type UserService interface {
	Profile(ctx context.Context, id int64) (*models.User, error)
	ActingAccount(ctx context.Context, user *models.User) (*models.User, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error

	// staff management, scoped to the acting account
	SetStatus(ctx context.Context, acting *models.User, id int64, status string) error
	Trash(ctx context.Context, acting *models.User, id int64) error
	Restore(ctx context.Context, acting *models.User, id int64) error
	ForceDelete(ctx context.Context, acting *models.User, id int64) error
	ListTrashed(ctx context.Context, acting *models.User) ([]*models.User, error)
}

type userService struct {
	store  repositories.Store
	hasher PasswordHasher
	notify Notifiers
	now    func() time.Time
}

func NewUserService(store repositories.Store, hasher PasswordHasher, notify Notifiers) UserService {
	return &userService{store: store, hasher: hasher, notify: notify, now: time.Now}
}

func (s *userService) Profile(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Users().GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *userService) ActingAccount(ctx context.Context, user *models.User) (*models.User, error) {
	return authz.ActingAccount(user, func(id int64) (*models.User, error) {
		u, err := s.store.Users().GetByID(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return u, err
	})
}

// ChangePassword replaces the hash and signs the user out everywhere in
// the same transaction.
func (s *userService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Check(user.PasswordHash, current) {
		return fieldError("current_password", "The current password is incorrect.")
	}
	if current == next {
		return fieldError("new_password", "The new password must be different from the current one.")
	}
	hash, err := hashPassword(s.hasher, "new_password", next)
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		if err := tx.Users().UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return s.signOut(ctx, tx, userID)
	})
	if err != nil {
		log.Error().Err(err).Str("component", "users").Str("op", "change_password").Int64("user_id", userID).Msg("rolled back")
		return ErrInternal
	}
	log.Info().Str("component", "users").Str("op", "change_password").Int64("user_id", userID).Msg("password changed")
	s.notify.PasswordChanged(ctx, user)
	return nil
}

func (s *userService) signOut(ctx context.Context, tx repositories.Store, userID int64) error {
	if _, err := tx.Sessions().DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	_, err := tx.AccessTokens().DeleteAllForUser(ctx, userID)
	return err
}

// staff loads a live user that belongs to acting.
func (s *userService) staff(ctx context.Context, q repositories.Store, acting *models.User, id int64) (*models.User, error) {
	if acting == nil {
		return nil, ErrUserNotFound
	}
	u, err := q.Users().GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.ID == acting.ID || u.AgencyID == nil || *u.AgencyID != acting.ID {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// SetStatus activates or deactivates a staff account. Deactivation ends
// every session of that account.
func (s *userService) SetStatus(ctx context.Context, acting *models.User, id int64, status string) error {
	if status != models.StatusActive && status != models.StatusInactive {
		return fieldError("status", "The selected status is invalid.")
	}
	return s.store.WithTx(ctx, func(tx repositories.Store) error {
		if _, err := s.staff(ctx, tx, acting, id); err != nil {
			return err
		}
		if err := tx.Users().SetStatus(ctx, id, status); err != nil {
			return err
		}
		if status == models.StatusInactive {
			return s.signOut(ctx, tx, id)
		}
		return nil
	})
}

func (s *userService) Trash(ctx context.Context, acting *models.User, id int64) error {
	return s.store.WithTx(ctx, func(tx repositories.Store) error {
		if _, err := s.staff(ctx, tx, acting, id); err != nil {
			return err
		}
		if err := tx.Users().SoftDelete(ctx, id, s.now()); err != nil {
			return err
		}
		return s.signOut(ctx, tx, id)
	})
}

func (s *userService) ListTrashed(ctx context.Context, acting *models.User) ([]*models.User, error) {
	if acting == nil {
		return []*models.User{}, nil
	}
	list, err := s.store.Users().ListTrashed(ctx, acting.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.User{}
	}
	return list, nil
}

func (s *userService) trashed(ctx context.Context, acting *models.User, id int64) error {
	if acting == nil {
		return ErrUserNotFound
	}
	_, err := s.store.Users().GetTrashed(ctx, acting.ID, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *userService) Restore(ctx context.Context, acting *models.User, id int64) error {
	if err := s.trashed(ctx, acting, id); err != nil {
		return err
	}
	err := s.store.Users().Restore(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repositories.ErrEmailTaken):
		return fieldError("email", "The email has already been taken.")
	}
	return err
}

// ForceDelete removes a trashed account for good.
func (s *userService) ForceDelete(ctx context.Context, acting *models.User, id int64) error {
	if err := s.trashed(ctx, acting, id); err != nil {
		return err
	}
	err := s.store.Users().ForceDelete(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
