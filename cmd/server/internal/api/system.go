package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
	"github.com/voxscribe/voxscribe/cmd/server/internal/monitor"
)

// HandleStuckScan runs the consistency detector once and reports findings
// without acting on them.
// GET /api/v1/system/stuck
func HandleStuckScan(detector *monitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		findings, err := detector.Scan(c.Request.Context(), time.Now().UTC())
		if err != nil {
			serviceError(c, err)
			return
		}
		if findings == nil {
			findings = []monitor.Finding{}
		}
		successResponse(c, findings)
	}
}

// HandleAbandonedScan reports recordings abandoned in processing for longer
// than older_than (Go duration string, default 24h), scoped to the current
// user when scope=user.
// GET /api/v1/system/abandoned
func HandleAbandonedScan(detector *monitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		olderThan := 24 * time.Hour
		if raw := c.Query("older_than"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				errorResponse(c, http.StatusBadRequest, "older_than must be a positive duration")
				return
			}
			olderThan = d
		}
		userID := ""
		if c.Query("scope") == "user" {
			userID = currentUser(c)
		}
		findings, err := detector.AbandonedFiles(c.Request.Context(), time.Now().UTC(), olderThan, userID)
		if err != nil {
			serviceError(c, err)
			return
		}
		if findings == nil {
			findings = []monitor.Finding{}
		}
		successResponse(c, findings)
	}
}

// HandleMemorySnapshot surfaces the accelerator memory state.
// GET /api/v1/system/memory
func HandleMemorySnapshot(devices *device.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		successResponse(c, devices.Snapshot())
	}
}

// HandleHealth is the liveness probe.
// GET /healthz
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
