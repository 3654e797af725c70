package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/service"
	"github.com/yourusername/p2p-swap/swap-service/internal/util"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// SwapHandler handles swap lifecycle API requests
type SwapHandler struct {
	service *service.SwapService
}

// NewSwapHandler creates a new swap handler
func NewSwapHandler(service *service.SwapService) *SwapHandler {
	return &SwapHandler{
		service: service,
	}
}

// CreateSwapRequest represents the request to open a swap
type CreateSwapRequest struct {
	ClientRef   string `json:"client_ref" binding:"required"`
	AgentID     string `json:"agent_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	FromService string `json:"from_service" binding:"required"`
	ToService   string `json:"to_service" binding:"required"`
	DestNumber  string `json:"dest_number" binding:"required"`
}

// AgentActionRequest identifies the responding agent
type AgentActionRequest struct {
	AgentRef string `json:"agent_ref" binding:"required"`
	Reason   string `json:"reason"`
}

// ProofRequest carries a payment proof, raw SMS text or a base64 image
type ProofRequest struct {
	UploaderRef string `json:"uploader_ref" binding:"required"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
}

// CompleteSwapRequest identifies who finalizes a reviewed swap
type CompleteSwapRequest struct {
	ActorRef string `json:"actor_ref" binding:"required"`
}

// DisputeRequest represents a dispute escalation
type DisputeRequest struct {
	OpenedBy string `json:"opened_by" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Severity string `json:"severity"`
}

// RateSwapRequest represents the client rating for a completed swap
type RateSwapRequest struct {
	ClientRef string `json:"client_ref" binding:"required"`
	Rating    int    `json:"rating" binding:"required,min=1,max=5"`
}

// CreateSwap opens a new swap request
// @Summary Create swap
// @Description Create a swap request against a chosen agent
// @Tags swaps
// @Accept json
// @Produce json
// @Param request body CreateSwapRequest true "Swap request"
// @Success 201 {object} SwapResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps [post]
func (h *SwapHandler) CreateSwap(c *gin.Context) {
	var req CreateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "agent_id must be a UUID",
		})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "amount must be a decimal number",
		})
		return
	}

	swap, err := h.service.CreateSwap(c.Request.Context(), service.CreateSwapInput{
		ClientRef:   req.ClientRef,
		AgentID:     agentID,
		Amount:      amount,
		FromService: util.ServiceID(req.FromService),
		ToService:   util.ServiceID(req.ToService),
		DestNumber:  req.DestNumber,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to create swap")
		return
	}

	c.JSON(http.StatusCreated, toSwapResponse(swap))
}

// GetSwap retrieves a swap with its proof submissions
// @Summary Get swap
// @Description Get a swap and its proof submissions
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Success 200 {object} SwapDetailResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/swaps/{id} [get]
func (h *SwapHandler) GetSwap(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}

	swap, proofs, err := h.service.GetSwap(c.Request.Context(), swapID)
	if err != nil {
		respondServiceError(c, err, "Failed to get swap")
		return
	}

	proofResponses := make([]ProofResponse, len(proofs))
	for i := range proofs {
		proofResponses[i] = toProofResponse(&proofs[i])
	}

	c.JSON(http.StatusOK, SwapDetailResponse{
		Swap:   toSwapResponse(swap),
		Proofs: proofResponses,
	})
}

// AcceptSwap records the assigned agent accepting a pending swap
// @Summary Accept swap
// @Description Accept a pending swap as the assigned agent
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body AgentActionRequest true "Accepting agent"
// @Success 200 {object} SwapResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/accept [post]
func (h *SwapHandler) AcceptSwap(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req AgentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	swap, err := h.service.AcceptSwap(c.Request.Context(), swapID, req.AgentRef)
	if err != nil {
		respondServiceError(c, err, "Failed to accept swap")
		return
	}

	c.JSON(http.StatusOK, toSwapResponse(swap))
}

// RejectSwap records the assigned agent declining a pending swap
// @Summary Reject swap
// @Description Reject a pending swap as the assigned agent
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body AgentActionRequest true "Rejecting agent and optional reason"
// @Success 200 {object} SwapResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/reject [post]
func (h *SwapHandler) RejectSwap(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req AgentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	swap, err := h.service.RejectSwap(c.Request.Context(), swapID, req.AgentRef, req.Reason)
	if err != nil {
		respondServiceError(c, err, "Failed to reject swap")
		return
	}

	c.JSON(http.StatusOK, toSwapResponse(swap))
}

// SubmitClientProof uploads the client's payment proof
// @Summary Submit client proof
// @Description Upload the client's proof of payment to the agent
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body ProofRequest true "Proof payload"
// @Success 200 {object} ProofSubmissionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/proof/client [post]
func (h *SwapHandler) SubmitClientProof(c *gin.Context) {
	h.submitProof(c, h.service.SubmitClientProof)
}

// SubmitAgentProof uploads the agent's outbound payment proof
// @Summary Submit agent proof
// @Description Upload the agent's proof of sending funds to the client
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body ProofRequest true "Proof payload"
// @Success 200 {object} ProofSubmissionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/proof/agent [post]
func (h *SwapHandler) SubmitAgentProof(c *gin.Context) {
	h.submitProof(c, h.service.SubmitAgentProof)
}

type proofOp func(ctx context.Context, swapID uuid.UUID, uploaderRef string, input service.ProofInput) (*models.SwapRequest, *models.ProofSubmission, error)

func (h *SwapHandler) submitProof(c *gin.Context, op proofOp) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	var image []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "image_base64 is not valid base64",
			})
			return
		}
		image = decoded
	}

	swap, submission, err := op(c.Request.Context(), swapID, req.UploaderRef, service.ProofInput{
		Text:  req.Text,
		Image: image,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to submit proof")
		return
	}

	c.JSON(http.StatusOK, ProofSubmissionResponse{
		Swap:  toSwapResponse(swap),
		Proof: toProofResponse(submission),
	})
}

// CompleteSwap finalizes a swap held for manual review
// @Summary Complete swap
// @Description Finalize a swap whose agent proof needed manual review
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body CompleteSwapRequest true "Completing actor"
// @Success 200 {object} SwapResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/complete [post]
func (h *SwapHandler) CompleteSwap(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req CompleteSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	swap, err := h.service.CompleteSwap(c.Request.Context(), swapID, req.ActorRef)
	if err != nil {
		respondServiceError(c, err, "Failed to complete swap")
		return
	}

	c.JSON(http.StatusOK, toSwapResponse(swap))
}

// OpenDispute escalates a swap
// @Summary Open dispute
// @Description Open a dispute on a swap as one of its parties
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body DisputeRequest true "Dispute details"
// @Success 201 {object} DisputeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/dispute [post]
func (h *SwapHandler) OpenDispute(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	dispute, err := h.service.OpenDispute(c.Request.Context(), swapID, req.OpenedBy, req.Reason, models.DisputeSeverity(req.Severity))
	if err != nil {
		respondServiceError(c, err, "Failed to open dispute")
		return
	}

	c.JSON(http.StatusCreated, DisputeResponse{
		ID:       dispute.ID.String(),
		SwapID:   dispute.SwapID.String(),
		OpenedBy: dispute.OpenedBy,
		Reason:   dispute.Reason,
		Severity: string(dispute.Severity),
		Status:   string(dispute.Status),
	})
}

// RateSwap records the client rating on a completed swap
// @Summary Rate swap
// @Description Rate a completed swap 1-5 as the owning client
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Param request body RateSwapRequest true "Rating"
// @Success 200 {object} SwapResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/rate [post]
func (h *SwapHandler) RateSwap(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req RateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	swap, err := h.service.RateSwap(c.Request.Context(), swapID, req.ClientRef, req.Rating)
	if err != nil {
		respondServiceError(c, err, "Failed to rate swap")
		return
	}

	c.JSON(http.StatusOK, toSwapResponse(swap))
}

// ValidateProofs re-validates every proof on a swap
// @Summary Validate proofs
// @Description Re-validate all proof submissions against the swap terms
// @Tags swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap ID"
// @Success 200 {array} service.ProofValidation
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/swaps/{id}/validate-proofs [get]
func (h *SwapHandler) ValidateProofs(c *gin.Context) {
	swapID, ok := parseIDParam(c)
	if !ok {
		return
	}

	results, err := h.service.ValidateProofs(c.Request.Context(), swapID)
	if err != nil {
		respondServiceError(c, err, "Failed to validate proofs")
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetStats retrieves platform statistics
// @Summary Get platform statistics
// @Description Get aggregate counters for the swap platform
// @Tags admin
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/stats [get]
func (h *SwapHandler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to retrieve statistics",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HealthCheck performs health checks
// @Summary Health check
// @Description Check health of the database, ledger and extractor
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *SwapHandler) HealthCheck(c *gin.Context) {
	health := h.service.HealthCheck(c.Request.Context())

	allHealthy := true
	for _, v := range health {
		if !v {
			allHealthy = false
			break
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, HealthResponse{
		Status:     map[bool]string{true: "healthy", false: "unhealthy"}[allHealthy],
		Components: health,
	})
}

// Helpers

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "id must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps typed service errors onto HTTP status codes.
func respondServiceError(c *gin.Context, err error, action string) {
	logger.Error(action, zap.Error(err))

	status := http.StatusInternalServerError
	label := "Internal error"
	switch {
	case errors.Is(err, service.ErrValidation):
		status, label = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, service.ErrNotFound):
		status, label = http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrInvalidTransition):
		status, label = http.StatusConflict, "Invalid transition"
	case errors.Is(err, service.ErrCapacityExceeded):
		status, label = http.StatusConflict, "Capacity exceeded"
	case errors.Is(err, service.ErrAgentUnavailable):
		status, label = http.StatusConflict, "Agent unavailable"
	case errors.Is(err, service.ErrDuplicateDispute):
		status, label = http.StatusConflict, "Duplicate dispute"
	}

	c.JSON(status, ErrorResponse{
		Error:   label,
		Message: err.Error(),
	})
}

func toSwapResponse(swap *models.SwapRequest) SwapResponse {
	resp := SwapResponse{
		ID:           swap.ID.String(),
		Reference:    swap.Reference,
		ClientRef:    swap.ClientRef,
		AgentID:      swap.AgentID.String(),
		Amount:       swap.Amount.String(),
		FromService:  string(swap.FromService),
		ToService:    string(swap.ToService),
		DestNumber:   swap.DestNumber,
		Status:       string(swap.Status),
		PlatformFee:  swap.PlatformFee.String(),
		AgentFee:     swap.AgentFee.String(),
		RejectReason: swap.RejectReason,
		Rating:       swap.Rating,
		CreatedAt:    formatTime(&swap.CreatedAt),
	}
	resp.AgentResponseAt = formatTime(swap.AgentResponseAt)
	resp.ClientProofUploadedAt = formatTime(swap.ClientProofUploadedAt)
	resp.AgentProofUploadedAt = formatTime(swap.AgentProofUploadedAt)
	resp.CompletedAt = formatTime(swap.CompletedAt)
	return resp
}

func toProofResponse(p *models.ProofSubmission) ProofResponse {
	resp := ProofResponse{
		ID:                 p.ID.String(),
		UploadedBy:         p.UploadedBy,
		Kind:               string(p.Kind),
		ExtractedReference: p.ExtractedReference,
		ExtractedTxID:      p.ExtractedTxID,
		ExtractedAccount:   p.ExtractedAccount,
		Confidence:         p.Confidence,
		Provider:           p.Provider,
		Status:             string(p.Status),
		CreatedAt:          formatTime(&p.CreatedAt),
	}
	if p.ExtractedAmount.Valid {
		resp.ExtractedAmount = p.ExtractedAmount.Decimal.String()
	}
	return resp
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Response types

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SwapResponse struct {
	ID                    string `json:"id"`
	Reference             string `json:"reference"`
	ClientRef             string `json:"client_ref"`
	AgentID               string `json:"agent_id"`
	Amount                string `json:"amount"`
	FromService           string `json:"from_service"`
	ToService             string `json:"to_service"`
	DestNumber            string `json:"dest_number"`
	Status                string `json:"status"`
	PlatformFee           string `json:"platform_fee"`
	AgentFee              string `json:"agent_fee"`
	RejectReason          string `json:"reject_reason,omitempty"`
	Rating                *int   `json:"rating,omitempty"`
	CreatedAt             string `json:"created_at"`
	AgentResponseAt       string `json:"agent_response_at,omitempty"`
	ClientProofUploadedAt string `json:"client_proof_uploaded_at,omitempty"`
	AgentProofUploadedAt  string `json:"agent_proof_uploaded_at,omitempty"`
	CompletedAt           string `json:"completed_at,omitempty"`
}

type ProofResponse struct {
	ID                 string  `json:"id"`
	UploadedBy         string  `json:"uploaded_by"`
	Kind               string  `json:"kind"`
	ExtractedAmount    string  `json:"extracted_amount,omitempty"`
	ExtractedReference string  `json:"extracted_reference,omitempty"`
	ExtractedTxID      string  `json:"extracted_txid,omitempty"`
	ExtractedAccount   string  `json:"extracted_account,omitempty"`
	Confidence         float64 `json:"confidence"`
	Provider           string  `json:"provider,omitempty"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"created_at"`
}

type SwapDetailResponse struct {
	Swap   SwapResponse    `json:"swap"`
	Proofs []ProofResponse `json:"proofs"`
}

type ProofSubmissionResponse struct {
	Swap  SwapResponse  `json:"swap"`
	Proof ProofResponse `json:"proof"`
}

type DisputeResponse struct {
	ID       string `json:"id"`
	SwapID   string `json:"swap_id"`
	OpenedBy string `json:"opened_by"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

type HealthResponse struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}
