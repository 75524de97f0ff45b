package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/services"
	"github.com/edifylabs/edify-backend/internal/types"
)

type AdapterHandler struct {
	log           *logger.Logger
	adaptationSvc services.AdaptationService
}

func NewAdapterHandler(log *logger.Logger, adaptationSvc services.AdaptationService) *AdapterHandler {
	return &AdapterHandler{
		log:           log.With("handler", "AdapterHandler"),
		adaptationSvc: adaptationSvc,
	}
}

// scopeFromQuery builds a scope from ?scope_type= and ?scope_id=. Absent
// parameters resolve to the global scope.
func scopeFromQuery(c *gin.Context) (types.Scope, bool) {
	scopeType := c.Query("scope_type")
	if scopeType == "" || scopeType == types.ScopeGlobal {
		return types.GlobalScope(), true
	}
	id, err := uuid.Parse(c.Query("scope_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_scope", fmt.Errorf("scope %q needs a valid scope_id", scopeType))
		return types.Scope{}, false
	}
	return types.Scope{Type: scopeType, ID: &id}, true
}

// GET /api/adapter/state?scope_type=&scope_id=
// Adapter weights, rates and controller states, resolved through the scope
// fallback chain.
func (h *AdapterHandler) GetState(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	snap, err := h.adaptationSvc.GetState(c.Request.Context(), scope)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, snap)
}

type difficultyRequest struct {
	// Pointer so a zero performance (the hard floor of the [0,1] scale) binds
	// as present rather than tripping the required check.
	Performance *float64 `json:"performance" binding:"required"`
}

// POST /api/adapter/difficulty?scope_type=&scope_id=
func (h *AdapterHandler) UpdateDifficulty(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	var req difficultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if *req.Performance < 0 || *req.Performance > 1 {
		RespondError(c, http.StatusBadRequest, "invalid_performance", fmt.Errorf("performance %v outside [0,1]", *req.Performance))
		return
	}
	if err := h.adaptationSvc.UpdateDifficulty(c.Request.Context(), scope, *req.Performance); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type biasRequest struct {
	Competency string  `json:"competency" binding:"required"`
	Bias       float64 `json:"bias"`
}

// POST /api/adapter/bias?scope_type=&scope_id=
func (h *AdapterHandler) UpdateBias(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	var req biasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.adaptationSvc.UpdateBias(c.Request.Context(), scope, req.Competency, req.Bias); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
