package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/notify"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

const (
	sweepActor    = "system"
	reminderAfter = 10 * time.Minute
)

// ExpirePending expires PENDING swaps the agent never answered. Each
// swap is handled in its own transaction so one failure does not block
// the rest of the sweep.
func (s *SwapService) ExpirePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.PendingTimeout)
	candidates, err := s.repo.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range candidates {
		if err := s.expireOne(ctx, candidates[i].ID); err != nil {
			logger.Error("Failed to expire swap",
				zap.String("swap", candidates[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.Info("Expired pending swaps", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *SwapService) expireOne(ctx context.Context, swapID uuid.UUID) error {
	unlock := s.lockSwap(swapID)
	defer unlock()

	var (
		swap         *models.SwapRequest
		notification models.Notification
	)
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		swap, err = s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		// Re-check under the lock, the agent may have responded since
		// the candidate list was built.
		if swap.Status != models.StatusPending {
			return nil
		}

		swap.Status = models.StatusExpired
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: swap.ClientRef,
			SwapID:  &swap.ID,
			Type:    models.NotifySystem,
			Channel: string(notify.ChannelSMS),
			Message: notify.SwapExpiredMessage(),
		}
		if err := txRepo.CreateNotification(ctx, &notification); err != nil {
			return err
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapExpired, swap.Reference, map[string]interface{}{
			"swap_ref": swap.Reference,
			"reason":   "agent_response_timeout",
		}, sweepActor)
		return err
	})
	if err != nil {
		return err
	}

	if swap.Status == models.StatusExpired {
		s.dispatcher.Dispatch(swap.ClientRef, notification)
	}
	return nil
}

// CancelStaleAccepted cancels ACCEPTED swaps whose client never
// uploaded payment proof.
func (s *SwapService) CancelStaleAccepted(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.AcceptedTimeout)
	candidates, err := s.repo.ListAcceptedStaleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i := range candidates {
		if err := s.cancelOne(ctx, candidates[i].ID); err != nil {
			logger.Error("Failed to cancel stale swap",
				zap.String("swap", candidates[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		logger.Info("Cancelled stale accepted swaps", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

func (s *SwapService) cancelOne(ctx context.Context, swapID uuid.UUID) error {
	unlock := s.lockSwap(swapID)
	defer unlock()

	var (
		swap          *models.SwapRequest
		notifications []models.Notification
		recipients    []string
	)
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		swap, err = s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusAccepted {
			return nil
		}

		agent, err := txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}

		swap.Status = models.StatusCancelled
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		notifications = []models.Notification{
			{UserRef: swap.ClientRef, SwapID: &swap.ID, Type: models.NotifySystem, Channel: string(notify.ChannelSMS), Message: notify.SwapCancelledClientMessage()},
			{UserRef: agent.UserRef, SwapID: &swap.ID, Type: models.NotifySystem, Channel: string(notify.ChannelSMS), Message: notify.SwapCancelledAgentMessage()},
		}
		recipients = []string{swap.ClientRef, agentRecipient(agent)}
		for i := range notifications {
			if err := txRepo.CreateNotification(ctx, &notifications[i]); err != nil {
				return err
			}
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapCancelled, swap.Reference, map[string]interface{}{
			"swap_ref": swap.Reference,
			"reason":   "client_proof_timeout",
		}, sweepActor)
		return err
	})
	if err != nil {
		return err
	}

	if swap.Status == models.StatusCancelled {
		for i := range notifications {
			s.dispatcher.Dispatch(recipients[i], notifications[i])
		}
	}
	return nil
}

// SendPendingReminders nudges agents sitting on a pending request.
// Each swap is reminded at most once.
func (s *SwapService) SendPendingReminders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-reminderAfter)
	candidates, err := s.repo.ListPendingForReminder(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range candidates {
		if err := s.remindOne(ctx, candidates[i].ID); err != nil {
			logger.Error("Failed to send reminder",
				zap.String("swap", candidates[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *SwapService) remindOne(ctx context.Context, swapID uuid.UUID) error {
	unlock := s.lockSwap(swapID)
	defer unlock()
	now := s.now()

	var (
		swap         *models.SwapRequest
		agent        *models.Agent
		notification models.Notification
	)
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		swap, err = s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusPending || swap.ReminderSentAt != nil {
			return nil
		}

		agent, err = txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}

		swap.ReminderSentAt = &now
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: agent.UserRef,
			SwapID:  &swap.ID,
			Type:    models.NotifySystem,
			Channel: string(notify.ChannelSMS),
			Message: notify.PendingReminderMessage(swap),
		}
		return txRepo.CreateNotification(ctx, &notification)
	})
	if err != nil {
		return err
	}

	if swap.ReminderSentAt != nil && agent != nil {
		s.dispatcher.Dispatch(agentRecipient(agent), notification)
	}
	return nil
}
