package repository

import "time"

type userRecord struct {
	ID                  string `gorm:"primaryKey;size:36"`
	Email               string `gorm:"size:254;not null;uniqueIndex"`
	Name                string `gorm:"size:128"`
	PasswordHash        string `gorm:"not null"`
	SecondFactorEnabled bool   `gorm:"not null;default:false"`
	EmailVerified       bool   `gorm:"not null;default:false"`
	EmailVerifiedAt     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (userRecord) TableName() string { return "users" }

type tokenRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	SubjectKey string    `gorm:"size:254;not null;uniqueIndex:idx_verification_tokens_subject_purpose"`
	Purpose    string    `gorm:"size:32;not null;uniqueIndex:idx_verification_tokens_subject_purpose"`
	Code       string    `gorm:"size:16;not null"`
	Attempts   int       `gorm:"not null;default:0"`
	Verified   bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

func (tokenRecord) TableName() string { return "verification_tokens" }
