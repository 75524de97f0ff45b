package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/services"
)

type LedgerHandler struct {
	log           *logger.Logger
	ledgerSvc     services.LedgerService
	complianceSvc services.ComplianceService
}

func NewLedgerHandler(log *logger.Logger, ledgerSvc services.LedgerService, complianceSvc services.ComplianceService) *LedgerHandler {
	return &LedgerHandler{
		log:           log.With("handler", "LedgerHandler"),
		ledgerSvc:     ledgerSvc,
		complianceSvc: complianceSvc,
	}
}

// GET /api/students/:studentId/ledger/events?limit=&offset=
func (h *LedgerHandler) ListEvents(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	limit := parseLimit(c, 100)
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	events, err := h.ledgerSvc.ListEvents(c.Request.Context(), studentID, limit, offset)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"events": events, "count": len(events)})
}

// GET /api/students/:studentId/ledger/verify
// Full-chain verification report.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	report, err := h.ledgerSvc.VerifyChain(c.Request.Context(), studentID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, report)
}

// GET /api/students/:studentId/ledger/merkle-root?n=
// Merkle root over the last n events, or the whole chain when n is absent.
func (h *LedgerHandler) GetMerkleRoot(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	n := 0
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_window", fmt.Errorf("invalid window size %q", raw))
			return
		}
		n = parsed
	}
	tree, err := h.ledgerSvc.MerkleRoot(c.Request.Context(), studentID, n)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"student_id":  studentID,
		"merkle_root": tree.MerkleRoot,
		"leaf_count":  tree.LeafCount,
	})
}

// GET /api/students/:studentId/ledger/scores
// Latest confirmed assessment per competency.
func (h *LedgerHandler) GetLatestScores(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	scores, err := h.ledgerSvc.LatestCompetencyScores(c.Request.Context(), studentID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"student_id": studentID, "scores": scores})
}

// GET /api/ledger/events/:eventId/verify
func (h *LedgerHandler) VerifyEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_event_id", fmt.Errorf("invalid event id: %w", err))
		return
	}
	check, err := h.ledgerSvc.VerifyEvent(c.Request.Context(), eventID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, check)
}

type correctRequest struct {
	Payload json.RawMessage `json:"payload"`
	Actor   string          `json:"actor,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// POST /api/ledger/events/:eventId/correct
// Append a correction event superseding the original; the original is never
// rewritten, only marked corrected.
func (h *LedgerHandler) CorrectEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_event_id", fmt.Errorf("invalid event id: %w", err))
		return
	}
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	correction, err := h.ledgerSvc.Correct(c.Request.Context(), eventID, req.Payload, req.Actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, correction)
}

// GET /api/students/:studentId/anchors?limit=
// Integrity anchors written by the compliance sweep, newest first.
func (h *LedgerHandler) ListAnchors(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}
	anchors, err := h.complianceSvc.ListAnchors(c.Request.Context(), studentID, parseLimit(c, 20))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"student_id": studentID, "anchors": anchors})
}
