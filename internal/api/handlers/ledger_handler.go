package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/ledger"
	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// LedgerHandler handles audit ledger API requests
type LedgerHandler struct {
	ledger *ledger.Service
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerSvc *ledger.Service) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledgerSvc,
	}
}

// RecordEventRequest represents a direct (non-swap) ledger event
type RecordEventRequest struct {
	EventType string                 `json:"event_type" binding:"required"`
	EntityRef string                 `json:"entity_ref" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
	Actor     string                 `json:"actor" binding:"required"`
}

// RecordEvent appends a non-swap event to the ledger
// @Summary Record ledger event
// @Description Append a direct audit event, e.g. a KYC approval
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body RecordEventRequest true "Event"
// @Success 201 {object} models.LedgerEvent
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/ledger/events [post]
func (h *LedgerHandler) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	event, err := h.ledger.RecordEvent(c.Request.Context(), models.EventType(req.EventType), req.EntityRef, req.Payload, req.Actor)
	if err != nil {
		logger.Error("Failed to record ledger event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to record event",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, event)
}

// GetStatus returns chain head and counters
// @Summary Ledger status
// @Description Get the chain head, block and event counts, and integrity flag
// @Tags ledger
// @Accept json
// @Produce json
// @Success 200 {object} ledger.ChainStatus
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/ledger/status [get]
func (h *LedgerHandler) GetStatus(c *gin.Context) {
	status, err := h.ledger.Status(c.Request.Context())
	if err != nil {
		logger.Error("Failed to get ledger status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to retrieve ledger status",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// VerifyIntegrity walks the whole chain
// @Summary Verify ledger integrity
// @Description Recompute hashes across the chain and report tampering
// @Tags ledger
// @Accept json
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} VerifyResponse
// @Router /api/v1/ledger/verify [get]
func (h *LedgerHandler) VerifyIntegrity(c *gin.Context) {
	ok, err := h.ledger.VerifyIntegrity(c.Request.Context())
	if err != nil {
		logger.Error("Failed to verify ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to verify ledger",
			Message: err.Error(),
		})
		return
	}

	// A broken chain is an operational incident, not a client error
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, VerifyResponse{IntegrityOk: ok})
}

// GetEntityEvents lists the audit trail for one entity
// @Summary Entity audit trail
// @Description List ledger events recorded against an entity reference
// @Tags ledger
// @Accept json
// @Produce json
// @Param ref path string true "Entity reference"
// @Success 200 {array} models.LedgerEvent
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/ledger/entities/{ref}/events [get]
func (h *LedgerHandler) GetEntityEvents(c *gin.Context) {
	events, err := h.ledger.EventsForEntity(c.Request.Context(), c.Param("ref"))
	if err != nil {
		logger.Error("Failed to list entity events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to retrieve events",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, events)
}

// VerifyResponse reports the outcome of a chain walk
type VerifyResponse struct {
	IntegrityOk bool `json:"integrity_ok"`
}
