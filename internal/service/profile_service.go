package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trackmate/internal/config"
	"trackmate/internal/media/avatar"
	"trackmate/internal/media/sniffer"
	"trackmate/internal/models"
	"trackmate/internal/repository"
	"trackmate/internal/storage"
)

const MaxAvatarBytes = 5 * 1024 * 1024

var (
	ErrIdentityTaken    = errors.New("Username or email already exists")
	ErrMissingFields    = errors.New("Full name, username, and email are required")
	ErrAvatarTooLarge   = errors.New("File size exceeds 5MB limit")
	ErrAvatarBadType    = errors.New("Invalid file type. Only JPG, PNG, GIF, and WebP are allowed")
	ErrAvatarProcessing = errors.New("Failed to process image. Please try a different image format.")
)

type ProfileUserStore interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	IdentityTaken(ctx context.Context, username, email, excludeID string) (bool, error)
	UpdateProfile(ctx context.Context, user models.User) error
	UpdateProfileImage(ctx context.Context, id string, imageKey string) error
}

type ProfileService struct {
	users ProfileUserStore
	blobs storage.BlobStore
	cfg   *config.AppConfig
	log   zerolog.Logger
}

func NewProfileService(users ProfileUserStore, blobs storage.BlobStore, cfg *config.AppConfig, log zerolog.Logger) *ProfileService {
	return &ProfileService{
		users: users,
		blobs: blobs,
		cfg:   cfg,
		log:   log,
	}
}

type ProfileInput struct {
	FullName string
	Username string
	Email    string
	Gender   *string
	Age      *int
	Height   *float64
	Weight   *float64
}

// UpdateProfile persists mutable profile fields. Absent optional fields are
// stored as NULL; username/email may collide only with the caller's own row.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (models.User, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)

	if input.FullName == "" || input.Username == "" || input.Email == "" {
		return models.User{}, ErrMissingFields
	}
	if !validEmail(input.Email) {
		return models.User{}, ErrInvalidEmail
	}
	if !usernamePattern.MatchString(input.Username) {
		return models.User{}, ErrInvalidUsername
	}

	taken, err := s.users.IdentityTaken(ctx, input.Username, input.Email, userID)
	if err != nil {
		return models.User{}, err
	}
	if taken {
		return models.User{}, ErrIdentityTaken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	user.FullName = input.FullName
	user.Username = input.Username
	user.Email = input.Email
	user.Gender = input.Gender
	user.Age = input.Age
	user.Height = input.Height
	user.Weight = input.Weight

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return models.User{}, err
	}

	return s.users.GetByID(ctx, userID)
}

// UploadImage validates, processes and stores a new profile picture and
// records its key on the user row. If the row update fails the just-written
// object is removed so no orphaned blob is left behind.
func (s *ProfileService) UploadImage(ctx context.Context, userID string, data []byte) (string, models.User, error) {
	if len(data) == 0 {
		return "", models.User{}, ErrAvatarBadType
	}
	if len(data) > MaxAvatarBytes {
		return "", models.User{}, ErrAvatarTooLarge
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if _, err := sniffer.DetectHead(head); err != nil {
		return "", models.User{}, ErrAvatarBadType
	}

	processed, err := avatar.Process(data)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("avatar processing failed")
		return "", models.User{}, ErrAvatarProcessing
	}

	key := fmt.Sprintf("profile-images/%s_%d.jpg", userID, time.Now().Unix())
	if err := s.blobs.Put(ctx, key, processed, "image/jpeg"); err != nil {
		return "", models.User{}, fmt.Errorf("store avatar: %w", err)
	}

	if err := s.users.UpdateProfileImage(ctx, userID, key); err != nil {
		if removeErr := s.blobs.Remove(ctx, key); removeErr != nil {
			s.log.Error().Err(removeErr).Str("key", key).Msg("orphaned avatar cleanup failed")
		}
		return "", models.User{}, fmt.Errorf("record avatar: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return key, models.User{}, err
	}
	return key, user, nil
}
