package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trackmate/internal/models"
	"trackmate/internal/service"
)

// userPayload is the profile shape returned by login, update-profile and
// upload-profile-image.
type userPayload struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	ProfileImage   *string  `json:"profile_image"`
	Gender         *string  `json:"gender"`
	Age            *int     `json:"age"`
	Height         *float64 `json:"height"`
	Weight         *float64 `json:"weight"`
	MembershipType string   `json:"membership_type"`
}

func toUserPayload(user models.User) userPayload {
	return userPayload{
		ID:             user.ID,
		UserID:         user.ID,
		Username:       user.Username,
		Email:          user.Email,
		FullName:       user.FullName,
		ProfileImage:   user.ProfileImage,
		Gender:         user.Gender,
		Age:            user.Age,
		Height:         user.Height,
		Weight:         user.Weight,
		MembershipType: user.MembershipType,
	}
}

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FullName        string `json:"full_name"`
}

func (h HandlerSet) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	required := []struct {
		label string
		value string
	}{
		{"Username", req.Username},
		{"Email", req.Email},
		{"Password", req.Password},
		{"Full name", req.FullName},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			fail(c, http.StatusOK, field.label+" is required")
			return
		}
	}

	user, err := h.auth.Signup(c.Request.Context(), service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FullName:        req.FullName,
	})
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("signup failed")
		fail(c, http.StatusOK, "An error occurred during registration")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Account created successfully! Please login.",
		"data": gin.H{
			"user_id":  user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusOK, "Email and password are required")
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		fail(c, http.StatusOK, "An error occurred during login")
		return
	}

	h.setSessionCookie(c, result.SessionToken)

	payload := toUserPayload(result.User)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"data": gin.H{
			"id":              payload.ID,
			"user_id":         payload.UserID,
			"username":        payload.Username,
			"email":           payload.Email,
			"full_name":       payload.FullName,
			"profile_image":   payload.ProfileImage,
			"gender":          payload.Gender,
			"age":             payload.Age,
			"height":          payload.Height,
			"weight":          payload.Weight,
			"membership_type": payload.MembershipType,
			"session_token":   result.SessionToken,
		},
	})
}

// Logout is idempotent: it succeeds whether or not a session is attached.
func (h HandlerSet) Logout(c *gin.Context) {
	if token := h.bearerOrCookieToken(c); token != "" {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil {
			h.log.Warn().Err(err).Msg("logout cleanup failed")
		}
	}

	h.clearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully",
	})
}

type generateBackupCodesRequest struct {
	UserID string `json:"user_id"`
}

// GenerateBackupCodes is the second step of signup: the client calls it with
// the fresh user id and shows the plaintext codes exactly once.
func (h HandlerSet) GenerateBackupCodes(c *gin.Context) {
	var req generateBackupCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		fail(c, http.StatusOK, "User ID is required")
		return
	}

	codes, err := h.recovery.GenerateBackupCodes(c.Request.Context(), req.UserID)
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("generate backup codes failed")
		fail(c, http.StatusOK, "An error occurred generating backup codes")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Backup codes generated successfully",
		"codes":   codes,
	})
}

func (h HandlerSet) bearerOrCookieToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := c.Cookie(h.cfg.Security.CookieName); err == nil {
		return cookie
	}
	return ""
}

func (h HandlerSet) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(
		h.cfg.Security.CookieName,
		token,
		int(h.cfg.Security.SessionTTL.Seconds()),
		"/",
		"",
		h.cfg.Security.CookieSecure,
		true,
	)
}

func (h HandlerSet) clearSessionCookie(c *gin.Context) {
	c.SetCookie(h.cfg.Security.CookieName, "", -1, "/", "", h.cfg.Security.CookieSecure, true)
}

// isBusinessError distinguishes user-facing service failures from internal
// ones. Business errors carry their message straight into the envelope.
func isBusinessError(err error) bool {
	switch err {
	case service.ErrInvalidCredentials,
		service.ErrAccountDeactivated,
		service.ErrUsernameTaken,
		service.ErrEmailTaken,
		service.ErrInvalidEmail,
		service.ErrInvalidUsername,
		service.ErrPasswordTooShort,
		service.ErrPasswordMismatch,
		service.ErrUserNotFound,
		service.ErrInvalidBackupCode,
		service.ErrResetTokenMissing,
		service.ErrResetTokenExpired,
		service.ErrResetTokenInvalid,
		service.ErrIdentityTaken,
		service.ErrMissingFields,
		service.ErrAvatarTooLarge,
		service.ErrAvatarBadType,
		service.ErrAvatarProcessing:
		return true
	}
	return false
}
