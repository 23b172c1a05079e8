// Package api exposes the transcription core over HTTP. Handlers are thin:
// they parse, delegate to a service and translate errors. Authentication is
// handled upstream; the user identity arrives via header.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxscribe/voxscribe/cmd/server/internal/pipeline"
	"github.com/voxscribe/voxscribe/cmd/server/internal/speakers"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
)

// currentUser resolves the acting user. An auth middleware may inject it
// into the context; otherwise the X-User header is trusted as-is.
func currentUser(c *gin.Context) string {
	if user, exists := c.Get("user"); exists {
		if username, ok := user.(string); ok && username != "" {
			return username
		}
	}
	if u := c.GetHeader("X-User"); u != "" {
		return u
	}
	return "system"
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// serviceError maps service sentinel errors onto HTTP status codes.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrRecordingNotFound),
		errors.Is(err, store.ErrExecutionNotFound),
		errors.Is(err, store.ErrSpeakerNotFound),
		errors.Is(err, store.ErrProfileNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrExecutionActive):
		errorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, speakers.ErrInvalidAction),
		errors.Is(err, speakers.ErrNameRequired),
		errors.Is(err, speakers.ErrMergeSelf),
		errors.Is(err, speakers.ErrMergeScope):
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
