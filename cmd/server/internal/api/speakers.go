package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxscribe/voxscribe/cmd/server/internal/speakers"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
)

// ResolveSpeakerRequest carries the user's identity decision.
type ResolveSpeakerRequest struct {
	Action string `json:"action" binding:"required"`
	Name   string `json:"name"`
}

// HandleResolveSpeaker applies an accept/reject/create_profile decision to a
// speaker.
// POST /api/v1/speakers/:id/resolve
func HandleResolveSpeaker(resolver *speakers.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveSpeakerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		sp, err := resolver.Resolve(c.Request.Context(), c.Param("id"),
			speakers.ResolveAction(req.Action), req.Name)
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, sp)
	}
}

// HandleMergeSpeakers merges the source speaker into the target within the
// same recording. The target survives with an averaged voice embedding.
// POST /api/v1/speakers/:id/merge/:target
func HandleMergeSpeakers(resolver *speakers.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := resolver.Merge(c.Request.Context(), c.Param("id"), c.Param("target"))
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, target)
	}
}

// HandleSpeakerSuggestions returns the consolidated identity suggestions for
// a speaker. Speakers with no voice embedding get an empty list.
// GET /api/v1/speakers/:id/suggestions
func HandleSpeakerSuggestions(resolver *speakers.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		suggestions, err := resolver.SuggestionsFor(c.Request.Context(), c.Param("id"))
		if err != nil {
			serviceError(c, err)
			return
		}
		if suggestions == nil {
			suggestions = []speakers.Suggestion{}
		}
		successResponse(c, suggestions)
	}
}

// HandleListProfiles lists the current user's speaker profiles.
// GET /api/v1/profiles
func HandleListProfiles(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		profiles, err := st.ListProfilesByUser(c.Request.Context(), currentUser(c))
		if err != nil {
			serviceError(c, err)
			return
		}
		successResponse(c, profiles)
	}
}
