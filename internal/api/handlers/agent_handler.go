package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/recommend"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/internal/service"
	"github.com/yourusername/p2p-swap/swap-service/internal/trust"
	"github.com/yourusername/p2p-swap/swap-service/internal/util"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// AgentHandler handles agent discovery and trust API requests
type AgentHandler struct {
	service *service.SwapService
	engine  *recommend.Engine
	scorer  *trust.Scorer
	repo    *repository.SwapRepository
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(service *service.SwapService, engine *recommend.Engine, scorer *trust.Scorer, repo *repository.SwapRepository) *AgentHandler {
	return &AgentHandler{
		service: service,
		engine:  engine,
		scorer:  scorer,
		repo:    repo,
	}
}

// RecommendAgents ranks agents for a prospective swap
// @Summary Recommend agents
// @Description Rank verified online agents for a swap request
// @Tags agents
// @Accept json
// @Produce json
// @Param amount query string false "Swap amount"
// @Param service query string false "Target service"
// @Param lat query number false "Client latitude"
// @Param lng query number false "Client longitude"
// @Param max_results query int false "Maximum results" default(5)
// @Success 200 {array} recommend.Recommendation
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/agents/recommend [get]
func (h *AgentHandler) RecommendAgents(c *gin.Context) {
	amount := decimal.Zero
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "amount must be a decimal number",
			})
			return
		}
		amount = parsed
	}

	var client recommend.ClientLocation
	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if latRaw != "" && lngRaw != "" {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lng, lngErr := strconv.ParseFloat(lngRaw, 64)
		if latErr != nil || lngErr != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "lat and lng must be numbers",
			})
			return
		}
		client.Latitude = &lat
		client.Longitude = &lng
	}

	maxResults := 0
	if raw := c.Query("max_results"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "max_results must be between 1 and 50",
			})
			return
		}
		maxResults = parsed
	}

	recommendations, err := h.engine.Recommend(c.Request.Context(), client, amount, util.ServiceID(c.Query("service")), maxResults)
	if err != nil {
		logger.Error("Failed to recommend agents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to recommend agents",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, recommendations)
}

// GetAgentTrust returns the trust breakdown for one agent
// @Summary Get agent trust score
// @Description Get the weighted trust score breakdown for an agent
// @Tags agents
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} AgentTrustResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/agents/{id}/trust [get]
func (h *AgentHandler) GetAgentTrust(c *gin.Context) {
	agentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	agent, err := h.repo.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		logger.Error("Failed to get agent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to retrieve agent",
			Message: err.Error(),
		})
		return
	}
	if agent == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Agent not found",
			Message: "No agent exists with this id",
		})
		return
	}

	c.JSON(http.StatusOK, AgentTrustResponse{
		AgentID:   agent.ID.String(),
		Name:      agent.Name,
		Verified:  agent.Verified,
		IsOnline:  agent.IsOnline,
		Breakdown: h.scorer.Breakdown(agent),
	})
}

// ToggleAgentOnline flips an agent's availability
// @Summary Toggle agent availability
// @Description Flip the agent's online flag
// @Tags agents
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} ToggleOnlineResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/agents/{id}/toggle-online [post]
func (h *AgentHandler) ToggleAgentOnline(c *gin.Context) {
	agentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	online, err := h.service.ToggleAgentOnline(c.Request.Context(), agentID)
	if err != nil {
		respondServiceError(c, err, "Failed to toggle agent")
		return
	}

	c.JSON(http.StatusOK, ToggleOnlineResponse{
		AgentID:  agentID.String(),
		IsOnline: online,
	})
}

// Response types

type AgentTrustResponse struct {
	AgentID   string           `json:"agent_id"`
	Name      string           `json:"name"`
	Verified  bool             `json:"verified"`
	IsOnline  bool             `json:"is_online"`
	Breakdown *trust.Breakdown `json:"breakdown"`
}

type ToggleOnlineResponse struct {
	AgentID  string `json:"agent_id"`
	IsOnline bool   `json:"is_online"`
}
