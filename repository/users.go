package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStore implements [goVerify.UserStore] and [goVerify.PasswordUpdater]
// on the users table.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (goVerify.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", userID).Error; err != nil {
		return goVerify.User{}, userError(err)
	}
	return rec.toUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (goVerify.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "email = ?", strings.ToLower(email)).Error; err != nil {
		return goVerify.User{}, userError(err)
	}
	return rec.toUser(), nil
}

func (s *UserStore) CreateUser(ctx context.Context, input goVerify.CreateUserInput) (goVerify.User, error) {
	rec := userRecord{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(input.Email),
		Name:         input.Name,
		PasswordHash: input.PasswordHash,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return goVerify.User{}, goVerify.ErrUserExists
		}
		return goVerify.User{}, fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	return rec.toUser(), nil
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, userID, map[string]any{
		"email_verified":    true,
		"email_verified_at": &at,
	})
}

func (s *UserStore) SetSecondFactor(ctx context.Context, userID string, enabled bool) error {
	return s.update(ctx, userID, map[string]any{
		"second_factor_enabled": enabled,
	})
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.update(ctx, userID, map[string]any{
		"password_hash": hash,
	})
}

func (s *UserStore) update(ctx context.Context, userID string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return goVerify.ErrUserNotFound
	}
	return nil
}

func userError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goVerify.ErrUserNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
}

func (r userRecord) toUser() goVerify.User {
	u := goVerify.User{
		ID:                  r.ID,
		Email:               r.Email,
		Name:                r.Name,
		PasswordHash:        r.PasswordHash,
		SecondFactorEnabled: r.SecondFactorEnabled,
		EmailVerified:       r.EmailVerified,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.EmailVerifiedAt != nil {
		at := r.EmailVerifiedAt.UTC()
		u.EmailVerifiedAt = &at
	}
	return u
}
