package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/services"
)

type SessionHandler struct {
	sessionService services.SessionService
	log            *logger.Logger
}

func NewSessionHandler(sessionService services.SessionService, baseLog *logger.Logger) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, log: baseLog.With("handler", "SessionHandler")}
}

// Intro returns the introductory actions of a block without creating state,
// so landing pages can render before the participant commits.
func (sh *SessionHandler) Intro(c *gin.Context) {
	slug := c.Param("slug")
	acts, err := sh.sessionService.FirstRound(c.Request.Context(), slug)
	if err != nil {
		respondErr(c, sh.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": acts})
}

func (sh *SessionHandler) StartSession(c *gin.Context) {
	var req struct {
		ParticipantHash string     `json:"participant_hash"`
		BlockSlug       string     `json:"block_slug"`
		PlaylistID      *uuid.UUID `json:"playlist_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ParticipantHash == "" || req.BlockSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_hash and block_slug are required"})
		return
	}
	out, err := sh.sessionService.StartSession(c.Request.Context(), req.ParticipantHash, req.BlockSlug, req.PlaylistID)
	if err != nil {
		respondErr(c, sh.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (sh *SessionHandler) SubmitResult(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req struct {
		ResultID uuid.UUID              `json:"result_id"`
		Data     map[string]interface{} `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ResultID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "result_id is required"})
		return
	}
	acts, err := sh.sessionService.SubmitResult(c.Request.Context(), sessionID, req.ResultID, req.Data)
	if err != nil {
		respondErr(c, sh.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": acts})
}

func (sh *SessionHandler) NextRound(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	acts, err := sh.sessionService.GetNextRound(c.Request.Context(), sessionID)
	if err != nil {
		respondErr(c, sh.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": acts})
}

func respondErr(c *gin.Context, log *logger.Logger, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
