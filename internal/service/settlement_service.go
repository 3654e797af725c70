package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/notify"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// SettlementService bills agents for accrued platform fees. Money
// settles outside the platform, the invoice is the record of what is
// owed for a calendar month.
type SettlementService struct {
	repo       *repository.SwapRepository
	dispatcher *notify.Dispatcher
}

// NewSettlementService creates the settlement service
func NewSettlementService(repo *repository.SwapRepository, dispatcher *notify.Dispatcher) *SettlementService {
	return &SettlementService{
		repo:       repo,
		dispatcher: dispatcher,
	}
}

// AgentSettlement is one agent's slice of a platform report.
type AgentSettlement struct {
	AgentID      uuid.UUID       `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	SwapCount    int             `json:"swap_count"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	PlatformFees decimal.Decimal `json:"platform_fees"`
	AgentFees    decimal.Decimal `json:"agent_fees"`
}

// PlatformReport aggregates a month of completed swaps across agents.
type PlatformReport struct {
	Period            string            `json:"period"`
	PeriodStart       time.Time         `json:"period_start"`
	PeriodEnd         time.Time         `json:"period_end"`
	TotalSwaps        int               `json:"total_swaps"`
	TotalVolume       decimal.Decimal   `json:"total_volume"`
	TotalPlatformFees decimal.Decimal   `json:"total_platform_fees"`
	TotalAgentFees    decimal.Decimal   `json:"total_agent_fees"`
	Agents            []AgentSettlement `json:"agents"`
}

// GenerateAgentInvoice builds (or rebuilds) the invoice for one agent
// and one calendar month. Regeneration is idempotent: the invoice
// number is derived from agent and period, and totals are recomputed
// from completed swaps.
func (s *SettlementService) GenerateAgentInvoice(ctx context.Context, agentID uuid.UUID, year int, month time.Month) (*models.AgentInvoice, error) {
	start, end, err := monthBounds(year, month)
	if err != nil {
		return nil, err
	}

	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}

	swaps, err := s.repo.CompletedSwapsInPeriod(ctx, agentID, start, end)
	if err != nil {
		return nil, err
	}

	totalVolume := decimal.Zero
	platformFees := decimal.Zero
	agentFees := decimal.Zero
	for i := range swaps {
		totalVolume = totalVolume.Add(swaps[i].Amount)
		platformFees = platformFees.Add(swaps[i].PlatformFee)
		agentFees = agentFees.Add(swaps[i].AgentFee)
	}

	invoice := &models.AgentInvoice{
		AgentID:      agentID,
		Number:       fmt.Sprintf("INV-%s-%s", shortID(agentID), start.Format("200601")),
		PeriodStart:  start,
		PeriodEnd:    end,
		SwapCount:    len(swaps),
		TotalVolume:  totalVolume,
		PlatformFees: platformFees,
		AgentFees:    agentFees,
		DueDate:      start.AddDate(0, 0, 30),
		Status:       models.InvoicePending,
	}
	if err := s.repo.UpsertInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	notification := models.Notification{
		UserRef: agent.UserRef,
		Type:    models.NotifySystem,
		Channel: string(notify.ChannelSMS),
		Message: notify.InvoiceIssuedMessage(invoice),
	}
	if err := s.repo.CreateNotification(ctx, &notification); err != nil {
		logger.Warn("Failed to record invoice notification",
			zap.String("invoice", invoice.Number),
			zap.Error(err),
		)
	} else {
		s.dispatcher.Dispatch(agentRecipient(agent), notification)
	}

	logger.Info("Invoice generated",
		zap.String("invoice", invoice.Number),
		zap.Int("swaps", invoice.SwapCount),
		zap.String("platform_fees", invoice.PlatformFees.String()),
	)
	return invoice, nil
}

// GenerateMonthlyInvoices bills every agent who completed swaps in the
// given calendar month.
func (s *SettlementService) GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month) (int, error) {
	start, end, err := monthBounds(year, month)
	if err != nil {
		return 0, err
	}

	agentIDs, err := s.repo.AgentIDsWithCompletedInPeriod(ctx, start, end)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, agentID := range agentIDs {
		if _, err := s.GenerateAgentInvoice(ctx, agentID, year, month); err != nil {
			logger.Error("Failed to generate invoice",
				zap.String("agent", agentID.String()),
				zap.Error(err),
			)
			continue
		}
		generated++
	}

	logger.Info("Monthly invoicing run finished",
		zap.String("period", start.Format("January 2006")),
		zap.Int("invoices", generated),
	)
	return generated, nil
}

// PlatformReport summarizes a month across all agents, heaviest
// platform-fee earners first.
func (s *SettlementService) PlatformReport(ctx context.Context, year int, month time.Month) (*PlatformReport, error) {
	start, end, err := monthBounds(year, month)
	if err != nil {
		return nil, err
	}

	agentIDs, err := s.repo.AgentIDsWithCompletedInPeriod(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &PlatformReport{
		Period:            start.Format("January 2006"),
		PeriodStart:       start,
		PeriodEnd:         end,
		TotalVolume:       decimal.Zero,
		TotalPlatformFees: decimal.Zero,
		TotalAgentFees:    decimal.Zero,
		Agents:            []AgentSettlement{},
	}

	for _, agentID := range agentIDs {
		agent, err := s.repo.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		swaps, err := s.repo.CompletedSwapsInPeriod(ctx, agentID, start, end)
		if err != nil {
			return nil, err
		}

		entry := AgentSettlement{
			AgentID:      agentID,
			TotalVolume:  decimal.Zero,
			PlatformFees: decimal.Zero,
			AgentFees:    decimal.Zero,
		}
		if agent != nil {
			entry.AgentName = agent.Name
		}
		for i := range swaps {
			entry.SwapCount++
			entry.TotalVolume = entry.TotalVolume.Add(swaps[i].Amount)
			entry.PlatformFees = entry.PlatformFees.Add(swaps[i].PlatformFee)
			entry.AgentFees = entry.AgentFees.Add(swaps[i].AgentFee)
		}

		report.TotalSwaps += entry.SwapCount
		report.TotalVolume = report.TotalVolume.Add(entry.TotalVolume)
		report.TotalPlatformFees = report.TotalPlatformFees.Add(entry.PlatformFees)
		report.TotalAgentFees = report.TotalAgentFees.Add(entry.AgentFees)
		report.Agents = append(report.Agents, entry)
	}

	sort.SliceStable(report.Agents, func(i, j int) bool {
		return report.Agents[i].PlatformFees.GreaterThan(report.Agents[j].PlatformFees)
	})

	return report, nil
}

// monthBounds returns the UTC [start, end) window of a calendar month.
func monthBounds(year int, month time.Month) (time.Time, time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: month %d", ErrValidation, month)
	}
	if year < 2000 || year > 9999 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: year %d", ErrValidation, year)
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// PreviousMonth resolves the billing period for the monthly job.
func PreviousMonth(t time.Time) (int, time.Month) {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
