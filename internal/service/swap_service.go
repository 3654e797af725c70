package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/config"
	"github.com/yourusername/p2p-swap/swap-service/internal/ledger"
	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/notify"
	"github.com/yourusername/p2p-swap/swap-service/internal/proof"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/internal/util"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// Total service fee rate. The 25/75 split between platform and agent is
// configurable, the rate itself is a published platform constant.
var totalFeeRate = decimal.RequireFromString("0.006")

const referenceCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Policy carries the recognized swap lifecycle knobs.
type Policy struct {
	PlatformFeeShare decimal.Decimal
	AgentFeeShare    decimal.Decimal
	MinFeeFloor      decimal.Decimal
	MinSwapAmount    decimal.Decimal
	MaxSwapAmount    decimal.Decimal
	ClientDailyLimit decimal.Decimal
	PendingTimeout   time.Duration
	AcceptedTimeout  time.Duration
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		PlatformFeeShare: decimal.RequireFromString("0.25"),
		AgentFeeShare:    decimal.RequireFromString("0.75"),
		MinFeeFloor:      decimal.NewFromInt(50),
		MinSwapAmount:    decimal.NewFromInt(50),
		MaxSwapAmount:    decimal.NewFromInt(50000),
		ClientDailyLimit: decimal.NewFromInt(500000),
		PendingTimeout:   30 * time.Minute,
		AcceptedTimeout:  2 * time.Hour,
	}
}

// PolicyFromConfig builds a policy from environment configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		PlatformFeeShare: decimal.NewFromFloat(cfg.PlatformFeeShare),
		AgentFeeShare:    decimal.NewFromFloat(cfg.AgentFeeShare),
		MinFeeFloor:      decimal.NewFromFloat(cfg.MinFeeFloor),
		MinSwapAmount:    decimal.NewFromFloat(cfg.MinSwapAmount),
		MaxSwapAmount:    decimal.NewFromFloat(cfg.MaxSwapAmount),
		ClientDailyLimit: decimal.NewFromFloat(cfg.ClientDailyLimit),
		PendingTimeout:   time.Duration(cfg.PendingTimeoutMins) * time.Minute,
		AcceptedTimeout:  time.Duration(cfg.AcceptedTimeoutHours) * time.Hour,
	}
}

// HealthChecker is implemented by components that can report liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SwapService orchestrates the swap lifecycle: creation, agent response,
// proof submission, completion, disputes and timeout sweeps. Every
// transition commits its state change, counter updates and ledger event
// in one transaction.
type SwapService struct {
	repo       *repository.SwapRepository
	ledger     *ledger.Service
	parser     *proof.Parser
	dispatcher *notify.Dispatcher
	extractor  HealthChecker // nil when no OCR backend is configured
	policy     Policy

	// Per-swap mutexes serialize concurrent transitions, the loser of a
	// race observes the new status and fails with ErrInvalidTransition.
	locks sync.Map

	now func() time.Time
}

// NewSwapService creates the lifecycle service
func NewSwapService(
	repo *repository.SwapRepository,
	ledgerSvc *ledger.Service,
	parser *proof.Parser,
	dispatcher *notify.Dispatcher,
	extractor HealthChecker,
	policy Policy,
) *SwapService {
	return &SwapService{
		repo:       repo,
		ledger:     ledgerSvc,
		parser:     parser,
		dispatcher: dispatcher,
		extractor:  extractor,
		policy:     policy,
		now:        time.Now,
	}
}

func (s *SwapService) lockSwap(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateSwapInput is the request to open a new swap.
type CreateSwapInput struct {
	ClientRef   string
	AgentID     uuid.UUID
	Amount      decimal.Decimal
	FromService util.ServiceID
	ToService   util.ServiceID
	DestNumber  string
}

// CreateSwap validates the request, computes the fee split and persists
// the swap at PENDING. Fees are recorded for invoicing only, no money
// moves through the platform.
func (s *SwapService) CreateSwap(ctx context.Context, input CreateSwapInput) (*models.SwapRequest, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}
	now := s.now()

	agent, err := s.repo.GetAgent(ctx, input.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, input.AgentID)
	}
	if !agent.Verified || !agent.IsOnline {
		return nil, fmt.Errorf("%w: agent is offline or unverified", ErrAgentUnavailable)
	}
	if !agent.CanAcceptSwap(now) {
		return nil, fmt.Errorf("%w: agent has reached their daily swap limit", ErrCapacityExceeded)
	}

	platformFee, agentFee := s.computeFees(input.Amount)

	reference, err := s.uniqueReference(ctx)
	if err != nil {
		return nil, err
	}

	swap := &models.SwapRequest{
		ClientRef:   input.ClientRef,
		AgentID:     agent.ID,
		Amount:      input.Amount,
		FromService: input.FromService,
		ToService:   input.ToService,
		DestNumber:  input.DestNumber,
		Status:      models.StatusPending,
		Reference:   reference,
		PlatformFee: platformFee,
		AgentFee:    agentFee,
	}

	var notification models.Notification
	err = s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		if err := txRepo.CreateSwap(ctx, swap); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: agent.UserRef,
			SwapID:  &swap.ID,
			Type:    models.NotifySwapRequest,
			Channel: string(notify.ChannelSMS),
			Message: notify.NewSwapRequestMessage(swap),
		}
		if err := txRepo.CreateNotification(ctx, &notification); err != nil {
			return err
		}

		_, err := s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapCreated, swap.Reference, map[string]interface{}{
			"swap_ref":     swap.Reference,
			"amount":       swap.Amount.String(),
			"from_service": string(swap.FromService),
			"to_service":   string(swap.ToService),
			"platform_fee": platformFee.String(),
			"agent_fee":    agentFee.String(),
		}, input.ClientRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(agentRecipient(agent), notification)

	logger.Info("Swap created",
		zap.String("reference", swap.Reference),
		zap.String("client", swap.ClientRef),
		zap.String("amount", swap.Amount.String()),
	)
	return swap, nil
}

// AcceptSwap transitions a PENDING swap to ACCEPTED. Only the assigned
// agent may respond, and their capacity is re-checked at acceptance.
func (s *SwapService) AcceptSwap(ctx context.Context, swapID uuid.UUID, agentRef string) (*models.SwapRequest, error) {
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
		swap, agent, err = s.loadSwapForAgent(ctx, txRepo, swapID, agentRef)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusPending {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}
		if !agent.CanAcceptSwap(now) {
			return fmt.Errorf("%w: agent has reached their daily swap limit", ErrCapacityExceeded)
		}

		swap.Status = models.StatusAccepted
		swap.AgentResponseAt = &now

		agent.ResponseTimeSumSeconds += now.Sub(swap.CreatedAt).Seconds()
		agent.ResponseCount++
		agent.TotalAttempts++
		agent.DailySwapCount = agent.EffectiveDailyCount(now) + 1
		agent.CapacityDate = now

		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}
		if err := txRepo.SaveAgent(ctx, agent); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: swap.ClientRef,
			SwapID:  &swap.ID,
			Type:    models.NotifySwapAccepted,
			Channel: string(notify.ChannelSMS),
			Message: notify.SwapAcceptedMessage(swap, agent),
		}
		if err := txRepo.CreateNotification(ctx, &notification); err != nil {
			return err
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapReserved, swap.Reference, map[string]interface{}{
			"swap_ref": swap.Reference,
			"agent":    agentRef,
			"amount":   swap.Amount.String(),
		}, agentRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(swap.ClientRef, notification)

	logger.Info("Swap accepted",
		zap.String("reference", swap.Reference),
		zap.String("agent", agentRef),
	)
	return swap, nil
}

// RejectSwap transitions a PENDING swap to REJECTED with an optional
// reason. Rejections do not count against the agent's response metrics.
func (s *SwapService) RejectSwap(ctx context.Context, swapID uuid.UUID, agentRef, reason string) (*models.SwapRequest, error) {
	unlock := s.lockSwap(swapID)
	defer unlock()
	now := s.now()

	var (
		swap         *models.SwapRequest
		notification models.Notification
	)
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		var agent *models.Agent
		swap, agent, err = s.loadSwapForAgent(ctx, txRepo, swapID, agentRef)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusPending {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}

		swap.Status = models.StatusRejected
		swap.RejectReason = reason
		swap.AgentResponseAt = &now

		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: swap.ClientRef,
			SwapID:  &swap.ID,
			Type:    models.NotifySwapRejected,
			Channel: string(notify.ChannelSMS),
			Message: notify.SwapRejectedMessage(swap, agent),
		}
		if err := txRepo.CreateNotification(ctx, &notification); err != nil {
			return err
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapRejected, swap.Reference, map[string]interface{}{
			"swap_ref": swap.Reference,
			"reason":   reason,
		}, agentRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(swap.ClientRef, notification)

	logger.Info("Swap rejected",
		zap.String("reference", swap.Reference),
		zap.String("agent", agentRef),
	)
	return swap, nil
}

// ProofInput is a proof submission, either raw SMS text or image bytes.
type ProofInput struct {
	Text  string
	Image []byte
}

// SubmitClientProof attaches the client's payment proof to an ACCEPTED
// swap and moves it to CLIENT_PROOF_UPLOADED.
func (s *SwapService) SubmitClientProof(ctx context.Context, swapID uuid.UUID, uploaderRef string, input ProofInput) (*models.SwapRequest, *models.ProofSubmission, error) {
	unlock := s.lockSwap(swapID)
	defer unlock()
	now := s.now()

	extraction, kind, err := s.extract(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	var (
		swap         *models.SwapRequest
		submission   *models.ProofSubmission
		notification models.Notification
		agent        *models.Agent
	)
	err = s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		swap, err = s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusAccepted {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}
		if swap.ClientRef != uploaderRef {
			return fmt.Errorf("%w: only the client may submit payment proof", ErrValidation)
		}
		agent, err = txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}

		submission = newSubmission(swap.ID, uploaderRef, kind, input.Text, extraction)
		if submission.Confidence > 0.8 {
			submission.Status = models.ProofVerified
		}
		if err := txRepo.CreateProof(ctx, submission); err != nil {
			return err
		}

		swap.Status = models.StatusClientProofUploaded
		swap.ClientProofUploadedAt = &now
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		notification = models.Notification{
			UserRef: agent.UserRef,
			SwapID:  &swap.ID,
			Type:    models.NotifyPaymentReceived,
			Channel: string(notify.ChannelSMS),
			Message: notify.ClientProofUploadedMessage(swap),
		}
		if err := txRepo.CreateNotification(ctx, &notification); err != nil {
			return err
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapPaidBank, swap.Reference, map[string]interface{}{
			"swap_ref":   swap.Reference,
			"confidence": extraction.Confidence,
			"provider":   extraction.Provider,
		}, uploaderRef)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.dispatcher.Dispatch(agentRecipient(agent), notification)

	logger.Info("Client proof uploaded",
		zap.String("reference", swap.Reference),
		zap.Float64("confidence", submission.Confidence),
	)
	return swap, submission, nil
}

// SubmitAgentProof attaches the agent's outbound payment proof. High
// confidence extractions are auto-verified and cascade straight into
// completion.
func (s *SwapService) SubmitAgentProof(ctx context.Context, swapID uuid.UUID, uploaderRef string, input ProofInput) (*models.SwapRequest, *models.ProofSubmission, error) {
	unlock := s.lockSwap(swapID)
	defer unlock()
	now := s.now()

	extraction, kind, err := s.extract(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	var (
		swap          *models.SwapRequest
		submission    *models.ProofSubmission
		notifications []models.Notification
		recipients    []string
	)
	err = s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		var agent *models.Agent
		swap, agent, err = s.loadSwapForAgent(ctx, txRepo, swapID, uploaderRef)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusClientProofUploaded {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}

		submission = newSubmission(swap.ID, uploaderRef, kind, input.Text, extraction)
		if submission.Confidence > 0.8 {
			submission.Status = models.ProofVerified
		}
		if err := txRepo.CreateProof(ctx, submission); err != nil {
			return err
		}

		swap.Status = models.StatusAgentProofUploaded
		swap.AgentProofUploadedAt = &now
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		if _, err := s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapSentWallet, swap.Reference, map[string]interface{}{
			"swap_ref":   swap.Reference,
			"confidence": extraction.Confidence,
			"provider":   extraction.Provider,
		}, uploaderRef); err != nil {
			return err
		}

		// Both proofs verified: complete now
		if submission.Status == models.ProofVerified {
			verified, err := clientProofVerified(ctx, txRepo, swap)
			if err != nil {
				return err
			}
			if verified {
				notifications, recipients, err = s.completeInTx(ctx, txRepo, swap, agent, now, uploaderRef)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for i := range notifications {
		s.dispatcher.Dispatch(recipients[i], notifications[i])
	}

	logger.Info("Agent proof uploaded",
		zap.String("reference", swap.Reference),
		zap.Float64("confidence", submission.Confidence),
		zap.String("status", string(swap.Status)),
	)
	return swap, submission, nil
}

// CompleteSwap finalizes a swap whose agent proof needed manual review.
func (s *SwapService) CompleteSwap(ctx context.Context, swapID uuid.UUID, actorRef string) (*models.SwapRequest, error) {
	unlock := s.lockSwap(swapID)
	defer unlock()
	now := s.now()

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
		if swap.Status != models.StatusAgentProofUploaded {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}
		agent, err := txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}

		notifications, recipients, err = s.completeInTx(ctx, txRepo, swap, agent, now, actorRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range notifications {
		s.dispatcher.Dispatch(recipients[i], notifications[i])
	}
	return swap, nil
}

// completeInTx applies the COMPLETE transition inside an open
// transaction and returns the notifications to dispatch after commit.
func (s *SwapService) completeInTx(
	ctx context.Context,
	txRepo *repository.SwapRepository,
	swap *models.SwapRequest,
	agent *models.Agent,
	now time.Time,
	actorRef string,
) ([]models.Notification, []string, error) {
	swap.Status = models.StatusComplete
	swap.CompletedAt = &now
	if err := txRepo.SaveSwap(ctx, swap); err != nil {
		return nil, nil, err
	}

	agent.CompletedSwaps++
	if err := txRepo.SaveAgent(ctx, agent); err != nil {
		return nil, nil, err
	}

	notifications := []models.Notification{
		{
			UserRef: swap.ClientRef,
			SwapID:  &swap.ID,
			Type:    models.NotifyPaymentSent,
			Channel: string(notify.ChannelSMS),
			Message: notify.SwapCompletedClientMessage(swap),
		},
		{
			UserRef: agent.UserRef,
			SwapID:  &swap.ID,
			Type:    models.NotifyPaymentSent,
			Channel: string(notify.ChannelSMS),
			Message: notify.SwapCompletedAgentMessage(swap),
		},
	}
	recipients := []string{swap.ClientRef, agentRecipient(agent)}
	for i := range notifications {
		if err := txRepo.CreateNotification(ctx, &notifications[i]); err != nil {
			return nil, nil, err
		}
	}

	_, err := s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventSwapCompleted, swap.Reference, map[string]interface{}{
		"swap_ref":          swap.Reference,
		"platform_fee_owed": swap.PlatformFee.String(),
		"agent_fee_earned":  swap.AgentFee.String(),
	}, actorRef)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Swap completed",
		zap.String("reference", swap.Reference),
		zap.String("agent_fee", swap.AgentFee.String()),
	)
	return notifications, recipients, nil
}

// OpenDispute escalates a swap. One open dispute per swap, reason must
// carry enough substance to investigate.
func (s *SwapService) OpenDispute(ctx context.Context, swapID uuid.UUID, openerRef, reason string, severity models.DisputeSeverity) (*models.Dispute, error) {
	if len(reason) < 10 {
		return nil, fmt.Errorf("%w: dispute reason must be at least 10 characters", ErrValidation)
	}
	switch severity {
	case "":
		severity = models.SeverityMedium
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
	default:
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}

	unlock := s.lockSwap(swapID)
	defer unlock()

	var (
		dispute       *models.Dispute
		notifications []models.Notification
		recipients    []string
	)
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		swap, err := s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		exists, err := txRepo.OpenDisputeExists(ctx, swap.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: swap %s", ErrDuplicateDispute, swap.Reference)
		}
		if swap.Status.Terminal() {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}
		agent, err := txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}
		if openerRef != swap.ClientRef && (agent == nil || openerRef != agent.UserRef) {
			return fmt.Errorf("%w: only the swap parties may open a dispute", ErrValidation)
		}

		dispute = &models.Dispute{
			SwapID:   swap.ID,
			OpenedBy: openerRef,
			Reason:   reason,
			Severity: severity,
			Status:   models.DisputeOpen,
		}
		if err := txRepo.CreateDispute(ctx, dispute); err != nil {
			return err
		}

		swap.Status = models.StatusDispute
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		agent.DisputeCount++
		if err := txRepo.SaveAgent(ctx, agent); err != nil {
			return err
		}

		message := notify.DisputeOpenedMessage(swap, dispute)
		notifications = []models.Notification{
			{UserRef: swap.ClientRef, SwapID: &swap.ID, Type: models.NotifyDispute, Channel: string(notify.ChannelSMS), Message: message},
			{UserRef: agent.UserRef, SwapID: &swap.ID, Type: models.NotifyDispute, Channel: string(notify.ChannelSMS), Message: message},
		}
		recipients = []string{swap.ClientRef, agentRecipient(agent)}
		for i := range notifications {
			if err := txRepo.CreateNotification(ctx, &notifications[i]); err != nil {
				return err
			}
		}

		_, err = s.ledger.WithTx(txRepo.DB()).RecordEvent(ctx, models.EventDisputeOpened, swap.Reference, map[string]interface{}{
			"swap_ref": swap.Reference,
			"severity": string(severity),
			"opened_by": openerRef,
		}, openerRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range notifications {
		s.dispatcher.Dispatch(recipients[i], notifications[i])
	}

	logger.Warn("Dispute opened",
		zap.String("swap", swapID.String()),
		zap.String("severity", string(severity)),
	)
	return dispute, nil
}

// RateSwap records the client's 1-5 rating on a completed swap. A swap
// can be rated once.
func (s *SwapService) RateSwap(ctx context.Context, swapID uuid.UUID, clientRef string, rating int) (*models.SwapRequest, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	unlock := s.lockSwap(swapID)
	defer unlock()

	var swap *models.SwapRequest
	err := s.repo.Transaction(ctx, func(txRepo *repository.SwapRepository) error {
		var err error
		swap, err = s.loadSwap(ctx, txRepo, swapID)
		if err != nil {
			return err
		}
		if swap.Status != models.StatusComplete {
			return fmt.Errorf("%w: swap is %s", ErrInvalidTransition, swap.Status)
		}
		if swap.ClientRef != clientRef {
			return fmt.Errorf("%w: only the client may rate the swap", ErrValidation)
		}
		if swap.Rating != nil {
			return fmt.Errorf("%w: swap already rated", ErrValidation)
		}

		swap.Rating = &rating
		if err := txRepo.SaveSwap(ctx, swap); err != nil {
			return err
		}

		agent, err := txRepo.GetAgent(ctx, swap.AgentID)
		if err != nil {
			return err
		}
		agent.RatingSum += float64(rating)
		agent.RatingCount++
		return txRepo.SaveAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	return swap, nil
}

// ToggleAgentOnline flips the agent's availability flag and returns the
// new state.
func (s *SwapService) ToggleAgentOnline(ctx context.Context, agentID uuid.UUID) (bool, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	if agent == nil {
		return false, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}

	agent.IsOnline = !agent.IsOnline
	if err := s.repo.SaveAgent(ctx, agent); err != nil {
		return false, err
	}

	logger.Info("Agent availability toggled",
		zap.String("agent", agentID.String()),
		zap.Bool("online", agent.IsOnline),
	)
	return agent.IsOnline, nil
}

// GetSwap returns a swap with its proof submissions.
func (s *SwapService) GetSwap(ctx context.Context, swapID uuid.UUID) (*models.SwapRequest, []models.ProofSubmission, error) {
	swap, err := s.repo.GetSwap(ctx, swapID)
	if err != nil {
		return nil, nil, err
	}
	if swap == nil {
		return nil, nil, fmt.Errorf("%w: swap %s", ErrNotFound, swapID)
	}
	proofs, err := s.repo.ProofsForSwap(ctx, swapID)
	if err != nil {
		return nil, nil, err
	}
	return swap, proofs, nil
}

// ProofValidation pairs a stored proof with its validation outcome.
type ProofValidation struct {
	ProofID    uuid.UUID              `json:"proof_id"`
	UploadedBy string                 `json:"uploaded_by"`
	Result     proof.ValidationResult `json:"result"`
}

// ValidateProofs re-validates every proof on a swap against its terms.
func (s *SwapService) ValidateProofs(ctx context.Context, swapID uuid.UUID) ([]ProofValidation, error) {
	swap, proofs, err := s.GetSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}

	results := make([]ProofValidation, 0, len(proofs))
	for i := range proofs {
		results = append(results, ProofValidation{
			ProofID:    proofs[i].ID,
			UploadedBy: proofs[i].UploadedBy,
			Result:     s.parser.ValidateProof(&proofs[i], swap),
		})
	}
	return results, nil
}

// CheckCompliance runs the advisory platform checks for a prospective
// swap. Findings never block anything, they inform the caller.
func (s *SwapService) CheckCompliance(ctx context.Context, clientRef string, agentID uuid.UUID, amount decimal.Decimal) (bool, []string, error) {
	violations := []string{}

	if amount.LessThan(s.policy.MinSwapAmount) {
		violations = append(violations, fmt.Sprintf("Amount below minimum: MWK %s < MWK %s",
			amount.StringFixed(2), s.policy.MinSwapAmount.StringFixed(2)))
	}
	if amount.GreaterThan(s.policy.MaxSwapAmount) {
		violations = append(violations, fmt.Sprintf("Amount above maximum: MWK %s > MWK %s",
			amount.StringFixed(2), s.policy.MaxSwapAmount.StringFixed(2)))
	}

	dayStart := startOfDay(s.now())
	volume, err := s.repo.SumClientVolumeSince(ctx, clientRef, dayStart)
	if err != nil {
		return false, nil, err
	}
	if volume.Add(amount).GreaterThan(s.policy.ClientDailyLimit) {
		violations = append(violations, "Would exceed client's daily limit")
	}

	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return false, nil, err
	}
	if agent != nil && !agent.CanAcceptSwap(s.now()) {
		violations = append(violations, "Agent has reached daily swap capacity")
	}

	return len(violations) == 0, violations, nil
}

// Stats returns aggregate platform counters.
func (s *SwapService) Stats(ctx context.Context) (map[string]interface{}, error) {
	return s.repo.Stats(ctx)
}

// HealthCheck reports component health.
func (s *SwapService) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool)

	if _, err := s.repo.Stats(ctx); err != nil {
		logger.Error("Database health check failed", zap.Error(err))
		health["database"] = false
	} else {
		health["database"] = true
	}

	ok, err := s.ledger.VerifyIntegrity(ctx)
	if err != nil {
		logger.Error("Ledger health check failed", zap.Error(err))
		health["ledger"] = false
	} else {
		health["ledger"] = ok
	}

	if s.extractor != nil {
		if err := s.extractor.HealthCheck(ctx); err != nil {
			logger.Error("Extractor health check failed", zap.Error(err))
			health["extractor"] = false
		} else {
			health["extractor"] = true
		}
	}

	return health
}

// Helpers

func (s *SwapService) validateCreate(input CreateSwapInput) error {
	if input.ClientRef == "" {
		return fmt.Errorf("%w: client reference is required", ErrValidation)
	}
	if !input.FromService.Valid() || !input.ToService.Valid() {
		return fmt.Errorf("%w: unknown service", ErrValidation)
	}
	if input.FromService == input.ToService {
		return fmt.Errorf("%w: from and to services must differ", ErrValidation)
	}
	if input.Amount.LessThan(s.policy.MinSwapAmount) || input.Amount.GreaterThan(s.policy.MaxSwapAmount) {
		return fmt.Errorf("%w: amount must be between %s and %s",
			ErrValidation, s.policy.MinSwapAmount.StringFixed(2), s.policy.MaxSwapAmount.StringFixed(2))
	}
	if !input.ToService.ValidDestNumber(input.DestNumber) {
		return fmt.Errorf("%w: invalid destination number for %s", ErrValidation, input.ToService.DisplayName())
	}
	return nil
}

func (s *SwapService) computeFees(amount decimal.Decimal) (platformFee, agentFee decimal.Decimal) {
	totalFee := amount.Mul(totalFeeRate)
	if totalFee.LessThan(s.policy.MinFeeFloor) {
		totalFee = s.policy.MinFeeFloor
	}
	platformFee = totalFee.Mul(s.policy.PlatformFeeShare).Round(2)
	agentFee = totalFee.Mul(s.policy.AgentFeeShare).Round(2)
	return platformFee, agentFee
}

// uniqueReference generates a SWAP-prefixed code, retrying on the
// unlikely collision.
func (s *SwapService) uniqueReference(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		reference, err := randomReference()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.ReferenceExists(ctx, reference)
		if err != nil {
			return "", err
		}
		if !exists {
			return reference, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique reference")
}

func randomReference() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reference: %w", err)
	}
	for i, b := range buf {
		buf[i] = referenceCharset[int(b)%len(referenceCharset)]
	}
	return "SWAP" + string(buf), nil
}

func (s *SwapService) loadSwap(ctx context.Context, txRepo *repository.SwapRepository, swapID uuid.UUID) (*models.SwapRequest, error) {
	swap, err := txRepo.GetSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return nil, fmt.Errorf("%w: swap %s", ErrNotFound, swapID)
	}
	return swap, nil
}

// loadSwapForAgent fetches the swap and enforces that agentRef is the
// assigned agent.
func (s *SwapService) loadSwapForAgent(ctx context.Context, txRepo *repository.SwapRepository, swapID uuid.UUID, agentRef string) (*models.SwapRequest, *models.Agent, error) {
	swap, err := s.loadSwap(ctx, txRepo, swapID)
	if err != nil {
		return nil, nil, err
	}
	agent, err := txRepo.GetAgent(ctx, swap.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent == nil || agent.UserRef != agentRef {
		return nil, nil, fmt.Errorf("%w: only the assigned agent may respond", ErrInvalidTransition)
	}
	return swap, agent, nil
}

func (s *SwapService) extract(ctx context.Context, input ProofInput) (proof.ExtractionResult, models.ProofKind, error) {
	switch {
	case input.Text != "":
		return s.parser.ParseText(input.Text), models.ProofKindSMS, nil
	case len(input.Image) > 0:
		return s.parser.ParseImage(ctx, input.Image), models.ProofKindImage, nil
	default:
		return proof.ExtractionResult{}, "", fmt.Errorf("%w: proof requires sms text or an image", ErrValidation)
	}
}

func newSubmission(swapID uuid.UUID, uploaderRef string, kind models.ProofKind, rawText string, extraction proof.ExtractionResult) *models.ProofSubmission {
	return &models.ProofSubmission{
		SwapID:             swapID,
		UploadedBy:         uploaderRef,
		Kind:               kind,
		RawText:            rawText,
		ExtractedAmount:    extraction.Amount,
		ExtractedReference: extraction.Reference,
		ExtractedTxID:      extraction.TxID,
		ExtractedAccount:   extraction.Account,
		Confidence:         extraction.Confidence,
		Provider:           extraction.Provider,
		Status:             submissionStatus(extraction.Confidence),
	}
}

// Proofs the parser could barely read go straight to manual review.
func submissionStatus(confidence float64) models.ProofStatus {
	if confidence < 0.5 {
		return models.ProofNeedsReview
	}
	return models.ProofPending
}

func clientProofVerified(ctx context.Context, txRepo *repository.SwapRepository, swap *models.SwapRequest) (bool, error) {
	proofs, err := txRepo.ProofsForSwap(ctx, swap.ID)
	if err != nil {
		return false, err
	}
	for _, p := range proofs {
		if p.UploadedBy == swap.ClientRef && p.Status == models.ProofVerified {
			return true, nil
		}
	}
	return false, nil
}

// agentRecipient prefers the agent's phone for SMS delivery.
func agentRecipient(agent *models.Agent) string {
	if agent.PhoneNumber != "" {
		return agent.PhoneNumber
	}
	return agent.UserRef
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
