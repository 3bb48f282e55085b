package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenStore implements [goVerify.TokenStore] on verification_tokens.
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Replace upserts t as the only token for its subject and purpose.
func (s *TokenStore) Replace(ctx context.Context, t goVerify.VerificationToken) error {
	rec := fromToken(t)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_key"}, {Name: "purpose"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"id", "code", "attempts", "verified", "created_at", "expires_at",
		}),
	}).Create(&rec).Error
	return storeError(err)
}

func (s *TokenStore) Find(ctx context.Context, subjectKey string, purpose goVerify.Purpose) (goVerify.VerificationToken, error) {
	var rec tokenRecord
	err := s.db.WithContext(ctx).
		Where("subject_key = ? AND purpose = ?", subjectKey, string(purpose)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return goVerify.VerificationToken{}, goVerify.ErrTokenNotFound
		}
		return goVerify.VerificationToken{}, storeError(err)
	}
	return rec.toToken(), nil
}

// ReserveAttempt takes one attempt in a single conditional UPDATE so two
// callers racing on the last slot cannot both win.
func (s *TokenStore) ReserveAttempt(ctx context.Context, t goVerify.VerificationToken, limit int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&tokenRecord{}).
		Where("id = ? AND attempts < ?", t.ID, limit).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
	if res.Error != nil {
		return false, storeError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *TokenStore) MarkVerified(ctx context.Context, t goVerify.VerificationToken) error {
	err := s.db.WithContext(ctx).Model(&tokenRecord{}).
		Where("id = ?", t.ID).
		UpdateColumn("verified", true).Error
	return storeError(err)
}

func (s *TokenStore) Delete(ctx context.Context, t goVerify.VerificationToken) error {
	return storeError(s.db.WithContext(ctx).Where("id = ?", t.ID).Delete(&tokenRecord{}).Error)
}

func (s *TokenStore) DeleteAll(ctx context.Context, subjectKey string, purpose goVerify.Purpose) error {
	err := s.db.WithContext(ctx).
		Where("subject_key = ? AND purpose = ?", subjectKey, string(purpose)).
		Delete(&tokenRecord{}).Error
	return storeError(err)
}

// ConsumeVerified deletes t only while it is still verified. RowsAffected
// tells concurrent consumers apart.
func (s *TokenStore) ConsumeVerified(ctx context.Context, t goVerify.VerificationToken) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND verified = ?", t.ID, true).
		Delete(&tokenRecord{})
	if res.Error != nil {
		return false, storeError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", before.UTC()).Delete(&tokenRecord{})
	if res.Error != nil {
		return 0, storeError(res.Error)
	}
	return res.RowsAffected, nil
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
}

func fromToken(t goVerify.VerificationToken) tokenRecord {
	return tokenRecord{
		ID:         t.ID,
		SubjectKey: t.SubjectKey,
		Purpose:    string(t.Purpose),
		Code:       t.Code,
		Attempts:   t.Attempts,
		Verified:   t.Verified,
		CreatedAt:  t.CreatedAt.UTC(),
		ExpiresAt:  t.ExpiresAt.UTC(),
	}
}

func (r tokenRecord) toToken() goVerify.VerificationToken {
	return goVerify.VerificationToken{
		ID:         r.ID,
		SubjectKey: r.SubjectKey,
		Purpose:    goVerify.Purpose(r.Purpose),
		Code:       r.Code,
		Attempts:   r.Attempts,
		Verified:   r.Verified,
		CreatedAt:  r.CreatedAt.UTC(),
		ExpiresAt:  r.ExpiresAt.UTC(),
	}
}
