package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/services"
)

type AbilityHandler struct {
	log        *logger.Logger
	abilitySvc services.AbilityService
}

func NewAbilityHandler(log *logger.Logger, abilitySvc services.AbilityService) *AbilityHandler {
	return &AbilityHandler{
		log:        log.With("handler", "AbilityHandler"),
		abilitySvc: abilitySvc,
	}
}

func parseStudentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("studentId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_student_id", fmt.Errorf("invalid student id: %w", err))
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/students/:studentId/ability?competency=...
// Current estimate, uncertainty and convergence status.
func (h *AbilityHandler) GetAbility(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	snap, err := h.abilitySvc.Get(c.Request.Context(), studentID, c.Query("competency"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, snap)
}

// GET /api/students/:studentId/ability/prediction?competency=...
// One-step-ahead prediction with a 95% confidence interval.
func (h *AbilityHandler) GetPrediction(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	pred, err := h.abilitySvc.Predict(c.Request.Context(), studentID, c.Query("competency"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"student_id":            studentID,
		"predicted_ability":     pred.PredictedAbility,
		"predicted_uncertainty": pred.PredictedUncertainty,
		"confidence_low":        pred.ConfidenceLow,
		"confidence_high":       pred.ConfidenceHigh,
	})
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
