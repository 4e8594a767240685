package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackmate/internal/log"
	"trackmate/internal/models"
	"trackmate/internal/security"
)

func (f *fakeUserStore) SetResetToken(ctx context.Context, id string, tokenHash []byte, expiry time.Time) error {
	u := f.users[id]
	u.ResetTokenHash = tokenHash
	u.ResetTokenExpiry = &expiry
	f.users[id] = u
	return nil
}

func (f *fakeUserStore) ResetPassword(ctx context.Context, id string, passwordHash []byte) error {
	u := f.users[id]
	u.PasswordHash = passwordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
	f.users[id] = u
	return nil
}

type fakeBackupCodeStore struct {
	codes map[string]models.BackupCode // keyed by code id

	consumeDenied bool // force the compare-and-swap to report a lost race
}

func newFakeBackupCodeStore() *fakeBackupCodeStore {
	return &fakeBackupCodeStore{codes: make(map[string]models.BackupCode)}
}

func (f *fakeBackupCodeStore) Replace(ctx context.Context, userID string, codes []models.BackupCode) error {
	for id, c := range f.codes {
		if c.UserID == userID {
			delete(f.codes, id)
		}
	}
	for _, c := range codes {
		f.codes[c.ID] = c
	}
	return nil
}

func (f *fakeBackupCodeStore) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	var out []models.BackupCode
	for _, c := range f.codes {
		if c.UserID == userID && !c.Used {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeBackupCodeStore) Consume(ctx context.Context, codeID string) (bool, error) {
	if f.consumeDenied {
		return false, nil
	}
	c, ok := f.codes[codeID]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	f.codes[codeID] = c
	return true, nil
}

type fakeMailer struct {
	sent []string // recipient addresses
	err  error
}

func (f *fakeMailer) SendPasswordReset(to, fullName, resetLink string) error {
	f.sent = append(f.sent, to)
	return f.err
}

func newRecoveryService(users *fakeUserStore, codes *fakeBackupCodeStore, mailer *fakeMailer, devMode bool) *RecoveryService {
	cfg := testConfig()
	cfg.DevMode = devMode
	return NewRecoveryService(users, codes, mailer, cfg, log.Nop())
}

func TestGenerateBackupCodes(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	plain, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, plain, 10)
	require.Len(t, codes.codes, 10)

	// Only hashes are stored, and each hash verifies its own code.
	seen := make(map[string]bool)
	for _, code := range plain {
		assert.Regexp(t, `^[0-9A-F]{4}-[0-9A-F]{4}$`, code)
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true
	}
	for _, record := range codes.codes {
		assert.NotContains(t, plain, string(record.CodeHash))
	}
	match, err := security.VerifyPassword(plain[0], firstCodeFor(codes, plain[0]).CodeHash)
	require.NoError(t, err)
	assert.True(t, match)
}

func firstCodeFor(store *fakeBackupCodeStore, plain string) models.BackupCode {
	for _, c := range store.codes {
		if ok, _ := security.VerifyPassword(plain, c.CodeHash); ok {
			return c
		}
	}
	return models.BackupCode{}
}

func TestGenerateBackupCodesReplacesOldSet(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	first, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)
	_, err = svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, codes.codes, 10, "old set is replaced, not appended")
	_, err = svc.VerifyBackupCode(context.Background(), "a@x.com", first[0])
	assert.ErrorIs(t, err, ErrInvalidBackupCode, "codes from a replaced set no longer redeem")
}

func TestGenerateBackupCodesUnknownUser(t *testing.T) {
	svc := newRecoveryService(newFakeUserStore(), newFakeBackupCodeStore(), &fakeMailer{}, false)
	_, err := svc.GenerateBackupCodes(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestForgotPasswordUnknownEmailStillSucceeds(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newRecoveryService(newFakeUserStore(), newFakeBackupCodeStore(), mailer, false)

	result, err := svc.ForgotPassword(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, result.DebugLink)
	assert.Empty(t, mailer.sent)
}

func TestForgotPasswordSendsMailInProduction(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	mailer := &fakeMailer{}
	svc := newRecoveryService(users, newFakeBackupCodeStore(), mailer, false)

	result, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, result.DebugLink)
	assert.Equal(t, []string{"a@x.com"}, mailer.sent)

	stored := users.users["u1"]
	require.NotNil(t, stored.ResetTokenExpiry)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *stored.ResetTokenExpiry, time.Minute)
	assert.NotEmpty(t, stored.ResetTokenHash)
}

func TestForgotPasswordDevModeReturnsLink(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	mailer := &fakeMailer{}
	svc := newRecoveryService(users, newFakeBackupCodeStore(), mailer, true)

	result, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Contains(t, result.DebugLink, "reset-password.html?token=")
	assert.Contains(t, result.DebugLink, "email=a%40x.com")
	assert.Empty(t, mailer.sent, "dev mode skips delivery")
}

func TestForgotPasswordMailFailureIsSwallowed(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	mailer := &fakeMailer{err: errors.New("smtp down")}
	svc := newRecoveryService(users, newFakeBackupCodeStore(), mailer, false)

	result, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err, "delivery failure must not reach the caller")
	assert.Empty(t, result.DebugLink)
}

func TestVerifyBackupCodeHappyPath(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	plain, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)

	token, err := svc.VerifyBackupCode(context.Background(), "a@x.com", plain[3])
	require.NoError(t, err)
	assert.Len(t, token, 64)

	// The redeemed code is burned; the rest remain usable.
	unused, err := codes.ListUnused(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, unused, 9)

	_, err = svc.VerifyBackupCode(context.Background(), "a@x.com", plain[3])
	assert.ErrorIs(t, err, ErrInvalidBackupCode, "a code redeems exactly once")
}

func TestVerifyBackupCodeUniformFailureMessage(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	_, errUnknownEmail := svc.VerifyBackupCode(context.Background(), "nobody@x.com", "AAAA-BBBB")
	_, errNoCodes := svc.VerifyBackupCode(context.Background(), "a@x.com", "AAAA-BBBB")

	_, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)
	_, errWrongCode := svc.VerifyBackupCode(context.Background(), "a@x.com", "AAAA-BBBB")

	assert.ErrorIs(t, errUnknownEmail, ErrInvalidBackupCode)
	assert.ErrorIs(t, errNoCodes, ErrInvalidBackupCode)
	assert.ErrorIs(t, errWrongCode, ErrInvalidBackupCode)
}

func TestVerifyBackupCodeLostRace(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	plain, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)

	codes.consumeDenied = true
	_, err = svc.VerifyBackupCode(context.Background(), "a@x.com", plain[0])
	assert.ErrorIs(t, err, ErrInvalidBackupCode)
}

func TestVerifyBackupCodeDeactivatedAccount(t *testing.T) {
	user := testUser(t, "Password1!")
	users := newFakeUserStore(user)
	codes := newFakeBackupCodeStore()
	svc := newRecoveryService(users, codes, &fakeMailer{}, false)

	plain, err := svc.GenerateBackupCodes(context.Background(), "u1")
	require.NoError(t, err)

	user.IsActive = false
	users.users["u1"] = user

	_, err = svc.VerifyBackupCode(context.Background(), "a@x.com", plain[0])
	assert.ErrorIs(t, err, ErrInvalidBackupCode)
}

func TestResetPasswordHappyPath(t *testing.T) {
	users := newFakeUserStore(testUser(t, "OldPassword1"))
	svc := newRecoveryService(users, newFakeBackupCodeStore(), &fakeMailer{}, true)

	result, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	token := tokenFromLink(t, result.DebugLink)

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email:           "a@x.com",
		Token:           token,
		Password:        "NewPassword1",
		ConfirmPassword: "NewPassword1",
	})
	require.NoError(t, err)

	stored := users.users["u1"]
	assert.Nil(t, stored.ResetTokenExpiry, "token is single use")
	assert.Empty(t, stored.ResetTokenHash)

	ok, err := security.VerifyPassword("NewPassword1", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: token,
		Password: "Another1!", ConfirmPassword: "Another1!",
	})
	assert.ErrorIs(t, err, ErrResetTokenMissing, "a consumed token does not redeem again")
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	const marker = "token="
	start := len(link)
	for i := 0; i+len(marker) <= len(link); i++ {
		if link[i:i+len(marker)] == marker {
			start = i + len(marker)
			break
		}
	}
	require.Less(t, start, len(link))
	end := start
	for end < len(link) && link[end] != '&' {
		end++
	}
	return link[start:end]
}

func TestResetPasswordValidation(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	svc := newRecoveryService(users, newFakeBackupCodeStore(), &fakeMailer{}, false)

	err := svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: "x", Password: "short", ConfirmPassword: "short",
	})
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: "x", Password: "LongEnough1", ConfirmPassword: "Different1",
	})
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	// No token ever issued for this user.
	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: "x", Password: "LongEnough1", ConfirmPassword: "LongEnough1",
	})
	assert.ErrorIs(t, err, ErrResetTokenMissing)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	svc := newRecoveryService(users, newFakeBackupCodeStore(), &fakeMailer{}, true)

	result, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)
	token := tokenFromLink(t, result.DebugLink)

	expired := time.Now().Add(-time.Minute)
	stored := users.users["u1"]
	stored.ResetTokenExpiry = &expired
	users.users["u1"] = stored

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: token,
		Password: "NewPassword1", ConfirmPassword: "NewPassword1",
	})
	assert.ErrorIs(t, err, ErrResetTokenExpired)
}

func TestResetPasswordWrongToken(t *testing.T) {
	users := newFakeUserStore(testUser(t, "Password1!"))
	svc := newRecoveryService(users, newFakeBackupCodeStore(), &fakeMailer{}, true)

	_, err := svc.ForgotPassword(context.Background(), "a@x.com")
	require.NoError(t, err)

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{
		Email: "a@x.com", Token: "deadbeef",
		Password: "NewPassword1", ConfirmPassword: "NewPassword1",
	})
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}
