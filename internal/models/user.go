package models

import "time"

// User is the credential store row: identity, hashed password, profile
// attributes and recovery material.
type User struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     []byte
	FullName         string
	ProfileImage     *string
	Gender           *string
	Age              *int
	Height           *float64
	Weight           *float64
	MembershipType   string
	IsActive         bool
	ResetTokenHash   []byte
	ResetTokenExpiry *time.Time
	LastLogin        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Session struct {
	ID        string
	UserID    string
	TokenHash []byte
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BackupCode is one of a fixed set of single-use recovery codes. Only the
// bcrypt hash of the formatted code is stored.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  []byte
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}
