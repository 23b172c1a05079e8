package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/similarity"
)

// CreateRecordingRequest registers an already-uploaded media file. Upload
// transport itself lives outside this service.
type CreateRecordingRequest struct {
	Filename    string `json:"filename" binding:"required"`
	StoragePath string `json:"storage_path" binding:"required"`
}

// HandleCreateRecording registers a new recording in pending state.
// POST /api/v1/recordings
func HandleCreateRecording(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRecordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		now := time.Now().UTC()
		rec := &models.Recording{
			ID:           uuid.NewString(),
			UserID:       currentUser(c),
			Filename:     req.Filename,
			StoragePath:  req.StoragePath,
			Status:       models.RecordingPending,
			CreatedAt:    now,
			LastUpdateAt: now,
		}
		if err := st.CreateRecording(c.Request.Context(), rec); err != nil {
			serviceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"data":    rec,
		})
	}
}

// HandleListRecordings lists the current user's recordings.
// GET /api/v1/recordings
func HandleListRecordings(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := st.ListRecordingsByUser(c.Request.Context(), currentUser(c))
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, recs)
	}
}

// HandleGetRecording returns one recording.
// GET /api/v1/recordings/:id
func HandleGetRecording(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := st.GetRecording(c.Request.Context(), c.Param("id"))
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, rec)
	}
}

// HandleDeleteRecording removes a recording, its executions, segments and
// speakers (relational cascade) and its voice index entries.
// DELETE /api/v1/recordings/:id
func HandleDeleteRecording(st *store.Store, indexes *similarity.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rec, err := st.GetRecording(c.Request.Context(), id)
		if err != nil {
			serviceError(c, err)
			return
		}
		if err := st.DeleteRecording(c.Request.Context(), id); err != nil {
			serviceError(c, err)
			return
		}
		idx := indexes.ForUser(rec.UserID)
		idx.DeleteByRecording(id)
		idx.SaveAsync()
		successResponse(c, gin.H{"deleted": id})
	}
}

// HandleGetTranscript returns the recording's transcript segments in
// temporal order.
// GET /api/v1/recordings/:id/transcript
func HandleGetTranscript(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := st.GetRecording(c.Request.Context(), id); err != nil {
			serviceError(c, err)
			return
		}
		segments, err := st.ListSegments(c.Request.Context(), id)
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, segments)
	}
}

// HandleListRecordingSpeakers returns the recording's speakers.
// GET /api/v1/recordings/:id/speakers
func HandleListRecordingSpeakers(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := st.GetRecording(c.Request.Context(), id); err != nil {
			serviceError(c, err)
			return
		}
		sps, err := st.ListSpeakersByRecording(c.Request.Context(), id)
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, sps)
	}
}
