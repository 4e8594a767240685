package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"trackmate/internal/config"
	"trackmate/internal/log"
	"trackmate/internal/middleware"
	"trackmate/internal/models"
	"trackmate/internal/repository"
	"trackmate/internal/security"
	"trackmate/internal/service"
)

// memStore is an in-memory stand-in for the user repository, covering the
// slices every service consumes.
type memStore struct {
	users map[string]models.User
}

func newMemStore(users ...models.User) *memStore {
	m := &memStore{users: make(map[string]models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memStore) Create(ctx context.Context, user models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memStore) GetByID(ctx context.Context, id string) (models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) EmailExists(ctx context.Context, email string) (bool, error) {
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TouchLastLogin(ctx context.Context, id string) error { return nil }

func (m *memStore) SetResetToken(ctx context.Context, id string, tokenHash []byte, expiry time.Time) error {
	u := m.users[id]
	u.ResetTokenHash = tokenHash
	u.ResetTokenExpiry = &expiry
	m.users[id] = u
	return nil
}

func (m *memStore) ResetPassword(ctx context.Context, id string, passwordHash []byte) error {
	u := m.users[id]
	u.PasswordHash = passwordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
	m.users[id] = u
	return nil
}

func (m *memStore) IdentityTaken(ctx context.Context, username, email, excludeID string) (bool, error) {
	for _, u := range m.users {
		if u.ID != excludeID && (u.Username == username || u.Email == email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateProfile(ctx context.Context, user models.User) error {
	stored := m.users[user.ID]
	stored.FullName = user.FullName
	stored.Username = user.Username
	stored.Email = user.Email
	stored.Gender = user.Gender
	stored.Age = user.Age
	stored.Height = user.Height
	stored.Weight = user.Weight
	m.users[user.ID] = stored
	return nil
}

func (m *memStore) UpdateProfileImage(ctx context.Context, id string, imageKey string) error {
	u := m.users[id]
	u.ProfileImage = &imageKey
	m.users[id] = u
	return nil
}

type memSessions struct {
	sessions map[string]models.Session
}

func (m *memSessions) Create(ctx context.Context, session models.Session) error {
	m.sessions[string(session.TokenHash)] = session
	return nil
}

func (m *memSessions) DeleteByTokenHash(ctx context.Context, tokenHash []byte) error {
	delete(m.sessions, string(tokenHash))
	return nil
}

type memSessionCache struct{ entries map[string]string }

func (m *memSessionCache) Put(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error {
	m.entries[string(tokenHash)] = userID
	return nil
}

func (m *memSessionCache) Delete(ctx context.Context, tokenHash []byte) error {
	delete(m.entries, string(tokenHash))
	return nil
}

type memCodes struct{ codes map[string]models.BackupCode }

func (m *memCodes) Replace(ctx context.Context, userID string, codes []models.BackupCode) error {
	for id, c := range m.codes {
		if c.UserID == userID {
			delete(m.codes, id)
		}
	}
	for _, c := range codes {
		m.codes[c.ID] = c
	}
	return nil
}

func (m *memCodes) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	var out []models.BackupCode
	for _, c := range m.codes {
		if c.UserID == userID && !c.Used {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCodes) Consume(ctx context.Context, codeID string) (bool, error) {
	c, ok := m.codes[codeID]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	m.codes[codeID] = c
	return true, nil
}

type memBlobs struct{ objects map[string][]byte }

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Remove(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type memMailer struct{ sent []string }

func (m *memMailer) SendPasswordReset(to, fullName, resetLink string) error {
	m.sent = append(m.sent, to)
	return nil
}

type fixture struct {
	router  *gin.Engine
	store   *memStore
	codes   *memCodes
	blobs   *memBlobs
	mailer  *memMailer
	cfg     *config.AppConfig
	handler HandlerSet
}

func handlerConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		DevMode:     true,
		SiteURL:     "http://localhost:8080",
		Security: config.SecurityConfig{
			BcryptCost:      bcrypt.MinCost,
			SessionTTL:      24 * time.Hour,
			ResetTokenTTL:   time.Hour,
			BackupCodeCount: 10,
			CookieName:      "tm_session",
		},
		Classifier: config.ClassifierConfig{
			URL:     "http://127.0.0.1:1", // overridden where the test needs a live upstream
			Timeout: 5 * time.Second,
		},
	}
}

// newFixture wires the full handler set over in-memory stores. Profile routes
// run behind a stub that injects the given user, standing in for the session
// middleware.
func newFixture(t *testing.T, cfg *config.AppConfig, authedUser *models.User, users ...models.User) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:  newMemStore(users...),
		codes:  &memCodes{codes: make(map[string]models.BackupCode)},
		blobs:  &memBlobs{objects: make(map[string][]byte)},
		mailer: &memMailer{},
		cfg:    cfg,
	}

	logger := log.Nop()
	sessions := &memSessions{sessions: make(map[string]models.Session)}
	sessionCache := &memSessionCache{entries: make(map[string]string)}

	f.handler = HandlerSet{
		log:      logger,
		cfg:      cfg,
		auth:     service.NewAuthService(f.store, sessions, sessionCache, cfg, logger),
		recovery: service.NewRecoveryService(f.store, f.codes, f.mailer, cfg, logger),
		profile:  service.NewProfileService(f.store, f.blobs, cfg, logger),
		classify: service.NewClassifyService(cfg.Classifier, logger),
	}

	f.router = gin.New()
	auth := f.router.Group("/api/v1/auth")
	auth.POST("/signup", f.handler.Signup)
	auth.POST("/login", f.handler.Login)
	auth.POST("/logout", f.handler.Logout)
	auth.POST("/backup-codes", f.handler.GenerateBackupCodes)
	auth.POST("/forgot-password", f.handler.ForgotPassword)
	auth.POST("/verify-backup-code", f.handler.VerifyBackupCode)
	auth.POST("/reset-password", f.handler.ResetPassword)

	profile := f.router.Group("/api/v1/profile")
	profile.Use(func(c *gin.Context) {
		if authedUser != nil {
			c.Set(middleware.ContextUserKey, *authedUser)
		}
		c.Next()
	})
	profile.POST("", f.handler.UpdateProfile)
	profile.POST("/image", f.handler.UploadProfileImage)

	f.router.POST("/api/v1/activity/analyze", f.handler.AnalyzeActivity)

	return f
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func seededUser(t *testing.T, password string) models.User {
	t.Helper()
	hash, err := security.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return models.User{
		ID:             "u1",
		Username:       "alice",
		Email:          "a@x.com",
		PasswordHash:   hash,
		FullName:       "Alice A",
		MembershipType: "basic",
		IsActive:       true,
	}
}
