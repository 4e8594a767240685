package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"trackmate/internal/config"
	"trackmate/internal/ids"
	"trackmate/internal/mail"
	"trackmate/internal/models"
	"trackmate/internal/repository"
	"trackmate/internal/security"
)

var (
	ErrUserNotFound = errors.New("User not found")
	// ErrInvalidBackupCode covers unknown email, empty code set and wrong
	// code alike so the endpoint leaks nothing about account existence.
	ErrInvalidBackupCode = errors.New("Invalid email or backup code")
	ErrResetTokenMissing = errors.New("Invalid or expired reset token")
	ErrResetTokenExpired = errors.New("Reset token has expired. Please request a new one.")
	ErrResetTokenInvalid = errors.New("Invalid reset token")
)

type RecoveryUserStore interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	SetResetToken(ctx context.Context, id string, tokenHash []byte, expiry time.Time) error
	ResetPassword(ctx context.Context, id string, passwordHash []byte) error
}

type BackupCodeStore interface {
	Replace(ctx context.Context, userID string, codes []models.BackupCode) error
	ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error)
	Consume(ctx context.Context, codeID string) (bool, error)
}

// RecoveryService implements both recovery paths. Each ends by minting a
// time-limited reset token consumed by ResetPassword.
type RecoveryService struct {
	users  RecoveryUserStore
	codes  BackupCodeStore
	mailer mail.Mailer
	cfg    *config.AppConfig
	log    zerolog.Logger
}

func NewRecoveryService(users RecoveryUserStore, codes BackupCodeStore, mailer mail.Mailer, cfg *config.AppConfig, log zerolog.Logger) *RecoveryService {
	return &RecoveryService{
		users:  users,
		codes:  codes,
		mailer: mailer,
		cfg:    cfg,
		log:    log,
	}
}

// GenerateBackupCodes replaces the user's recovery code set and returns the
// plaintext codes. This is the only time they are visible; only bcrypt
// hashes are stored.
func (s *RecoveryService) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	count := s.cfg.Security.BackupCodeCount
	plain := make([]string, 0, count)
	records := make([]models.BackupCode, 0, count)

	for i := 0; i < count; i++ {
		code, err := security.GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		hash, err := security.HashPassword(code, s.cfg.Security.BcryptCost)
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		records = append(records, models.BackupCode{
			ID:       ids.New(),
			UserID:   user.ID,
			CodeHash: hash,
		})
	}

	if err := s.codes.Replace(ctx, user.ID, records); err != nil {
		return nil, err
	}

	return plain, nil
}

type ForgotPasswordResult struct {
	// DebugLink carries the reset link back to the caller in dev mode only;
	// in production the link travels by email and this stays empty.
	DebugLink string
}

// ForgotPassword starts the email recovery path. It reports success whether
// or not the email is registered.
func (s *RecoveryService) ForgotPassword(ctx context.Context, email string) (ForgotPasswordResult, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return ForgotPasswordResult{}, ErrInvalidEmail
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ForgotPasswordResult{}, nil
		}
		return ForgotPasswordResult{}, err
	}

	token, err := s.issueResetToken(ctx, user)
	if err != nil {
		return ForgotPasswordResult{}, err
	}

	resetLink := fmt.Sprintf("%s/reset-password.html?token=%s&email=%s",
		s.cfg.SiteURL, token, url.QueryEscape(user.Email))

	if s.cfg.DevMode {
		s.log.Info().Str("user_id", user.ID).Msg("reset link issued in dev mode")
		return ForgotPasswordResult{DebugLink: resetLink}, nil
	}

	if err := s.mailer.SendPasswordReset(user.Email, user.FullName, resetLink); err != nil {
		// Delivery failure must not become an enumeration oracle.
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("reset mail delivery failed")
	}
	return ForgotPasswordResult{}, nil
}

// VerifyBackupCode is the alternate recovery path: one unused code buys one
// reset token. Consume is a compare-and-swap, so two concurrent requests for
// the same code cannot both succeed.
func (s *RecoveryService) VerifyBackupCode(ctx context.Context, email, backupCode string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrInvalidBackupCode
		}
		return "", err
	}
	if !user.IsActive {
		return "", ErrInvalidBackupCode
	}

	unused, err := s.codes.ListUnused(ctx, user.ID)
	if err != nil {
		return "", err
	}

	for _, record := range unused {
		match, err := security.VerifyPassword(backupCode, record.CodeHash)
		if err != nil || !match {
			continue
		}

		consumed, err := s.codes.Consume(ctx, record.ID)
		if err != nil {
			return "", err
		}
		if !consumed {
			// Lost the race to a concurrent redeemer.
			return "", ErrInvalidBackupCode
		}

		return s.issueResetToken(ctx, user)
	}

	return "", ErrInvalidBackupCode
}

type ResetPasswordInput struct {
	Email           string
	Token           string
	Password        string
	ConfirmPassword string
}

// ResetPassword is the convergence point of both recovery paths.
func (s *RecoveryService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	input.Email = normalizeEmail(input.Email)
	if !validEmail(input.Email) {
		return ErrInvalidEmail
	}
	if len(input.Password) < 8 {
		return ErrPasswordTooShort
	}
	if input.Password != input.ConfirmPassword {
		return ErrPasswordMismatch
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrResetTokenMissing
		}
		return err
	}

	if len(user.ResetTokenHash) == 0 || user.ResetTokenExpiry == nil {
		return ErrResetTokenMissing
	}
	if user.ResetTokenExpiry.Before(time.Now()) {
		return ErrResetTokenExpired
	}

	match, err := security.VerifyPassword(input.Token, user.ResetTokenHash)
	if err != nil || !match {
		return ErrResetTokenInvalid
	}

	passwordHash, err := security.HashPassword(input.Password, s.cfg.Security.BcryptCost)
	if err != nil {
		return err
	}

	return s.users.ResetPassword(ctx, user.ID, passwordHash)
}

func (s *RecoveryService) issueResetToken(ctx context.Context, user models.User) (string, error) {
	token, _, err := security.GenerateToken()
	if err != nil {
		return "", err
	}

	// The reset token is verified with bcrypt like a password, not by
	// lookup hash: it is redeemed against a known user row.
	tokenHash, err := security.HashPassword(token, s.cfg.Security.BcryptCost)
	if err != nil {
		return "", err
	}

	expiry := time.Now().Add(s.cfg.Security.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiry); err != nil {
		return "", err
	}

	return token, nil
}
