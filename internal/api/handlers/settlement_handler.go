package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/service"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// SettlementHandler handles monthly settlement API requests
type SettlementHandler struct {
	settlement *service.SettlementService
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(settlement *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
	}
}

// GetReport returns the platform settlement report for a month
// @Summary Settlement report
// @Description Per-agent fee breakdown for a billing month, defaults to the previous month
// @Tags settlement
// @Accept json
// @Produce json
// @Param year query int false "Year, e.g. 2025"
// @Param month query int false "Month 1-12"
// @Success 200 {object} service.PlatformReport
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/settlement/report [get]
func (h *SettlementHandler) GetReport(c *gin.Context) {
	year, month, ok := parsePeriod(c)
	if !ok {
		return
	}

	report, err := h.settlement.PlatformReport(c.Request.Context(), year, month)
	if err != nil {
		respondServiceError(c, err, "Failed to build settlement report")
		return
	}

	c.JSON(http.StatusOK, report)
}

// GenerateInvoicesRequest optionally overrides the billing month
type GenerateInvoicesRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// GenerateInvoices creates invoices for all agents active in a month
// @Summary Generate monthly invoices
// @Description Create or refresh invoices for every agent with completed swaps in the month, defaults to the previous month
// @Tags settlement
// @Accept json
// @Produce json
// @Param request body GenerateInvoicesRequest false "Billing month override"
// @Success 200 {object} GenerateInvoicesResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/settlement/invoices [post]
func (h *SettlementHandler) GenerateInvoices(c *gin.Context) {
	year, month := service.PreviousMonth(time.Now())

	var req GenerateInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Error("Invalid request", zap.Error(err))
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: err.Error(),
			})
			return
		}
		if req.Year != 0 || req.Month != 0 {
			year, month = req.Year, time.Month(req.Month)
		}
	}

	generated, err := h.settlement.GenerateMonthlyInvoices(c.Request.Context(), year, month)
	if err != nil {
		respondServiceError(c, err, "Failed to generate invoices")
		return
	}

	c.JSON(http.StatusOK, GenerateInvoicesResponse{
		Generated: generated,
		Period:    time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("January 2006"),
	})
}

// parsePeriod reads year/month query params, defaulting to the previous month.
// Responds with a 400 itself when a param is present but malformed.
func parsePeriod(c *gin.Context) (int, time.Month, bool) {
	year, month := service.PreviousMonth(time.Now())

	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "year must be an integer",
			})
			return 0, 0, false
		}
		year = parsed
	}
	if raw := c.Query("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "month must be an integer",
			})
			return 0, 0, false
		}
		month = time.Month(parsed)
	}

	return year, month, true
}

// GenerateInvoicesResponse reports a bulk invoicing run
type GenerateInvoicesResponse struct {
	Generated int    `json:"generated"`
	Period    string `json:"period"`
}
