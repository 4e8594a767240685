package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type analyzeRequest struct {
	Image string `json:"image"`
}

// AnalyzeActivity relays a camera snapshot to the external classification
// service and returns its JSON untouched.
func (h HandlerSet) AnalyzeActivity(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image data provided"})
		return
	}

	result, err := h.classify.Analyze(c.Request.Context(), req.Image)
	if err != nil {
		h.log.Error().Err(err).Msg("classifier call failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Cannot connect to AI server",
			"details": err.Error(),
			"message": "Make sure the classification service is running",
		})
		return
	}

	if result.StatusCode != http.StatusOK {
		c.JSON(result.StatusCode, gin.H{
			"error":     "AI server returned error",
			"http_code": result.StatusCode,
			"response":  string(result.Body),
		})
		return
	}

	c.Data(http.StatusOK, "application/json", result.Body)
}
