package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/services"
)

type PhaseHandler struct {
	phaseService services.PhaseService
	log          *logger.Logger
}

func NewPhaseHandler(phaseService services.PhaseService, baseLog *logger.Logger) *PhaseHandler {
	return &PhaseHandler{phaseService: phaseService, log: baseLog.With("handler", "PhaseHandler")}
}

func (ph *PhaseHandler) NextBlock(c *gin.Context) {
	phaseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phase id"})
		return
	}
	hash := c.Query("participant_hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_hash is required"})
		return
	}
	block, err := ph.phaseService.NextBlock(c.Request.Context(), phaseID, hash)
	if errors.Is(err, apperr.ErrPhaseComplete) {
		// Finishing the last block of a phase is a normal outcome, not a
		// failure.
		c.JSON(http.StatusOK, gin.H{"phase_complete": true})
		return
	}
	if err != nil {
		respondErr(c, ph.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"block": block, "phase_complete": false})
}

func (ph *PhaseHandler) Dashboard(c *gin.Context) {
	phaseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phase id"})
		return
	}
	dash, err := ph.phaseService.Dashboard(c.Request.Context(), phaseID)
	if err != nil {
		respondErr(c, ph.log, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}
