package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trackmate/internal/service"
)

const forgotPasswordMessage = "If the email exists, a password reset link has been sent."

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers identically whether or not the email is registered.
func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		fail(c, http.StatusOK, "Email is required")
		return
	}

	result, err := h.recovery.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("forgot password failed")
		fail(c, http.StatusOK, "An error occurred. Please try again later.")
		return
	}

	resp := gin.H{
		"success": true,
		"message": forgotPasswordMessage,
	}
	if result.DebugLink != "" {
		resp["debug_link"] = result.DebugLink
	}
	c.JSON(http.StatusOK, resp)
}

type verifyBackupCodeRequest struct {
	Email      string `json:"email"`
	BackupCode string `json:"backup_code"`
}

func (h HandlerSet) VerifyBackupCode(c *gin.Context) {
	var req verifyBackupCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusOK, "Email is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		fail(c, http.StatusOK, "Email is required")
		return
	}
	if strings.TrimSpace(req.BackupCode) == "" {
		fail(c, http.StatusOK, "Backup code is required")
		return
	}

	token, err := h.recovery.VerifyBackupCode(c.Request.Context(), req.Email, strings.TrimSpace(req.BackupCode))
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("verify backup code failed")
		fail(c, http.StatusOK, "An error occurred. Please try again later.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Backup code verified successfully!",
		"token":   token,
	})
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusOK, "Email is required")
		return
	}

	required := []struct {
		label string
		value string
	}{
		{"Email", req.Email},
		{"Token", req.Token},
		{"Password", req.Password},
		{"Confirm password", req.ConfirmPassword},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			fail(c, http.StatusOK, field.label+" is required")
			return
		}
	}

	err := h.recovery.ResetPassword(c.Request.Context(), service.ResetPasswordInput{
		Email:           req.Email,
		Token:           req.Token,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("reset password failed")
		fail(c, http.StatusOK, "An error occurred. Please try again later.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password reset successfully! You can now login with your new password.",
	})
}
