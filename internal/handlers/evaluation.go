package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/services"
)

type EvaluationHandler struct {
	log     *logger.Logger
	evalSvc services.EvaluationService
}

func NewEvaluationHandler(log *logger.Logger, evalSvc services.EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{
		log:     log.With("handler", "EvaluationHandler"),
		evalSvc: evalSvc,
	}
}

// POST /api/evaluations
// Run one scored evaluation through the full pipeline: estimator update,
// adapter feedback, ledger append.
func (h *EvaluationHandler) SubmitEvaluation(c *gin.Context) {
	var req services.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Score < 0 || req.Score > 100 {
		h.log.Warn("Out-of-range evaluation score", "student_id", req.StudentID, "score", req.Score)
	}
	result, err := h.evalSvc.Evaluate(c.Request.Context(), req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}
