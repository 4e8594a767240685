package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trackmate/internal/config"
	"trackmate/internal/ids"
	"trackmate/internal/models"
	"trackmate/internal/repository"
	"trackmate/internal/security"
)

// Service errors carry the user-facing message verbatim; handlers pass them
// through in the response envelope. Login and signup failures are worded so
// the same message covers the unknown-account and wrong-credential cases
// where enumeration resistance requires it.
var (
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrAccountDeactivated = errors.New("Account is deactivated. Please contact support.")
	ErrUsernameTaken      = errors.New("Username already exists")
	ErrEmailTaken         = errors.New("Email already registered")
	ErrInvalidEmail       = errors.New("Invalid email format")
	ErrInvalidUsername    = errors.New("Username must be 3-50 characters (letters, numbers, underscore only)")
	ErrPasswordTooShort   = errors.New("Password must be at least 8 characters")
	ErrPasswordMismatch   = errors.New("Passwords do not match")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// UserStore is the slice of the user repository the auth flow needs.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	TouchLastLogin(ctx context.Context, id string) error
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	DeleteByTokenHash(ctx context.Context, tokenHash []byte) error
}

type SessionCache interface {
	Put(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error
	Delete(ctx context.Context, tokenHash []byte) error
}

type AuthService struct {
	users    UserStore
	sessions SessionStore
	cache    SessionCache
	cfg      *config.AppConfig
	log      zerolog.Logger
}

func NewAuthService(users UserStore, sessions SessionStore, cache SessionCache, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		cache:    cache,
		cfg:      cfg,
		log:      log,
	}
}

type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
}

func (s *AuthService) Signup(ctx context.Context, input SignupInput) (models.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)
	input.FullName = strings.TrimSpace(input.FullName)

	if !validEmail(input.Email) {
		return models.User{}, ErrInvalidEmail
	}
	if !usernamePattern.MatchString(input.Username) {
		return models.User{}, ErrInvalidUsername
	}
	if len(input.Password) < 8 {
		return models.User{}, ErrPasswordTooShort
	}
	if input.Password != input.ConfirmPassword {
		return models.User{}, ErrPasswordMismatch
	}

	if taken, err := s.users.UsernameExists(ctx, input.Username); err != nil {
		return models.User{}, err
	} else if taken {
		return models.User{}, ErrUsernameTaken
	}
	if taken, err := s.users.EmailExists(ctx, input.Email); err != nil {
		return models.User{}, err
	} else if taken {
		return models.User{}, ErrEmailTaken
	}

	passwordHash, err := security.HashPassword(input.Password, s.cfg.Security.BcryptCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:             ids.New(),
		Username:       input.Username,
		Email:          input.Email,
		PasswordHash:   passwordHash,
		FullName:       input.FullName,
		MembershipType: "basic",
		IsActive:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, err
	}

	return user, nil
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	User         models.User
	SessionToken string
	ExpiresAt    time.Time
}

// Login verifies credentials and mints a new opaque session token. The same
// generic failure is returned whether the email is unknown or the password
// is wrong; only a deactivated account is reported distinctly.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	input.Email = normalizeEmail(input.Email)
	if !validEmail(input.Email) {
		return LoginResult{}, ErrInvalidEmail
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !user.IsActive {
		return LoginResult{}, ErrAccountDeactivated
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("touch last login failed")
	}

	token, tokenHash, err := security.GenerateToken()
	if err != nil {
		return LoginResult{}, err
	}

	session := models.Session{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: tokenHash,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		ExpiresAt: time.Now().Add(s.cfg.Security.SessionTTL),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, err
	}

	if err := s.cache.Put(ctx, tokenHash, user.ID, session.ExpiresAt); err != nil {
		s.log.Warn().Err(err).Msg("session cache put failed")
	}

	return LoginResult{
		User:         user,
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Logout destroys the session for the given bearer token. It is idempotent:
// an unknown token still succeeds from the caller's perspective.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	tokenHash := security.HashToken(token)
	if err := s.cache.Delete(ctx, tokenHash); err != nil {
		s.log.Warn().Err(err).Msg("session cache delete failed")
	}
	return s.sessions.DeleteByTokenHash(ctx, tokenHash)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
