package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxscribe/voxscribe/cmd/server/internal/pipeline"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
)

// HandleStartExecution starts a pipeline run for the recording. A second
// start while one is active is rejected with 409.
// POST /api/v1/recordings/:id/executions
func HandleStartExecution(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := orch.Start(c.Request.Context(), c.Param("id"))
		if err != nil {
			serviceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"data":    exec,
		})
	}
}

// HandleListExecutions lists all executions of a recording, newest first.
// GET /api/v1/recordings/:id/executions
func HandleListExecutions(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := st.GetRecording(c.Request.Context(), id); err != nil {
			serviceError(c, err)
			return
		}
		execs, err := st.ListExecutionsByRecording(c.Request.Context(), id)
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, execs)
	}
}

// HandleGetExecution returns one execution with stage, progress and any
// failure classification plus its remediation text.
// GET /api/v1/executions/:id
func HandleGetExecution(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := st.GetExecution(c.Request.Context(), c.Param("id"))
		if err != nil {
			serviceError(c, err)
			return
		}
		body := gin.H{"execution": exec}
		if exec.FailureKind != "" {
			body["remediation"] = pipeline.Remediation(pipeline.FailureKind(exec.FailureKind))
		}
		successResponse(c, body)
	}
}

// HandleCancelExecution requests cooperative cancellation of a running
// execution. Unknown or already-terminal executions return 404.
// POST /api/v1/executions/:id/cancel
func HandleCancelExecution(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !orch.Cancel(id) {
			errorResponse(c, http.StatusNotFound, "no running execution with that id")
			return
		}
		successResponse(c, gin.H{"cancelling": id})
	}
}
