package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"trackmate/internal/middleware"
	"trackmate/internal/service"
)

type updateProfileRequest struct {
	FullName string   `json:"full_name"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Gender   *string  `json:"gender"`
	Age      *int     `json:"age"`
	Height   *float64 `json:"height"`
	Weight   *float64 `json:"weight"`
}

func (h HandlerSet) UpdateProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authenticated. Please login again.")
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Empty optional values become NULL, matching absent ones.
	if req.Gender != nil && *req.Gender == "" {
		req.Gender = nil
	}

	updated, err := h.profile.UpdateProfile(c.Request.Context(), user.ID, service.ProfileInput{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
		Gender:   req.Gender,
		Age:      req.Age,
		Height:   req.Height,
		Weight:   req.Weight,
	})
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("profile update failed")
		fail(c, http.StatusInternalServerError, "Database error occurred")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Profile updated successfully",
		"user":    toUserPayload(updated),
	})
}

func (h HandlerSet) UploadProfileImage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	file, header, err := c.Request.FormFile("profile_image")
	if err != nil {
		fail(c, http.StatusOK, "No file was uploaded")
		return
	}
	defer file.Close()

	// Size is checked from the multipart header before the body is read so
	// an oversized upload is rejected without any processing.
	if header.Size > service.MaxAvatarBytes {
		fail(c, http.StatusOK, service.ErrAvatarTooLarge.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, service.MaxAvatarBytes+1))
	if err != nil {
		fail(c, http.StatusOK, "File was only partially uploaded")
		return
	}

	key, updated, err := h.profile.UploadImage(c.Request.Context(), user.ID, data)
	if err != nil {
		if isBusinessError(err) {
			fail(c, http.StatusOK, err.Error())
			return
		}
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("avatar upload failed")
		serverError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Profile image uploaded successfully",
		"image_path": key,
		"user":       toUserPayload(updated),
	})
}
