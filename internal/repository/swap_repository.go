package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
)

// SwapRepository handles swap, proof, dispute, agent, notification and
// invoice persistence.
type SwapRepository struct {
	db *gorm.DB
}

// NewSwapRepository creates a new swap repository
func NewSwapRepository(db *gorm.DB) *SwapRepository {
	return &SwapRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *SwapRepository) WithTx(tx *gorm.DB) *SwapRepository {
	return &SwapRepository{db: tx}
}

// Transaction runs fn inside a database transaction. The callback receives
// a repository bound to that transaction.
func (r *SwapRepository) Transaction(ctx context.Context, fn func(txRepo *SwapRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// DB exposes the underlying handle so collaborators can join the same
// transaction.
func (r *SwapRepository) DB() *gorm.DB {
	return r.db
}

// CreateSwap persists a new swap request
func (r *SwapRepository) CreateSwap(ctx context.Context, swap *models.SwapRequest) error {
	if err := r.db.WithContext(ctx).Create(swap).Error; err != nil {
		return fmt.Errorf("failed to create swap: %w", err)
	}
	return nil
}

// GetSwap retrieves a swap by ID, returns nil if not found
func (r *SwapRepository) GetSwap(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	var swap models.SwapRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&swap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return &swap, nil
}

// GetSwapByReference retrieves a swap by its reference code
func (r *SwapRepository) GetSwapByReference(ctx context.Context, reference string) (*models.SwapRequest, error) {
	var swap models.SwapRequest
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&swap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap by reference: %w", err)
	}
	return &swap, nil
}

// SaveSwap persists updates to an existing swap
func (r *SwapRepository) SaveSwap(ctx context.Context, swap *models.SwapRequest) error {
	if err := r.db.WithContext(ctx).Save(swap).Error; err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}
	return nil
}

// ReferenceExists reports whether a reference code is already taken
func (r *SwapRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Where("reference = ?", reference).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return count > 0, nil
}

// ListPendingOlderThan returns PENDING swaps created before the cutoff
func (r *SwapRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.SwapRequest, error) {
	var swaps []models.SwapRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Find(&swaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending swaps: %w", err)
	}
	return swaps, nil
}

// ListPendingForReminder returns PENDING swaps older than the cutoff that
// have not yet received a reminder.
func (r *SwapRepository) ListPendingForReminder(ctx context.Context, cutoff time.Time) ([]models.SwapRequest, error) {
	var swaps []models.SwapRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND reminder_sent_at IS NULL", models.StatusPending, cutoff).
		Find(&swaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps for reminder: %w", err)
	}
	return swaps, nil
}

// ListAcceptedStaleSince returns ACCEPTED swaps whose agent response is
// older than the cutoff and that still have no client proof.
func (r *SwapRepository) ListAcceptedStaleSince(ctx context.Context, cutoff time.Time) ([]models.SwapRequest, error) {
	var swaps []models.SwapRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND agent_response_at < ? AND client_proof_uploaded_at IS NULL", models.StatusAccepted, cutoff).
		Find(&swaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale accepted swaps: %w", err)
	}
	return swaps, nil
}

// CompletedSwapsInPeriod returns an agent's COMPLETE swaps finished in
// [start, end).
func (r *SwapRepository) CompletedSwapsInPeriod(ctx context.Context, agentID uuid.UUID, start, end time.Time) ([]models.SwapRequest, error) {
	var swaps []models.SwapRequest
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ? AND completed_at >= ? AND completed_at < ?",
			agentID, models.StatusComplete, start, end).
		Find(&swaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list completed swaps: %w", err)
	}
	return swaps, nil
}

// AgentIDsWithCompletedInPeriod returns agents with at least one COMPLETE
// swap finished in [start, end).
func (r *SwapRepository) AgentIDsWithCompletedInPeriod(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Where("status = ? AND completed_at >= ? AND completed_at < ?", models.StatusComplete, start, end).
		Distinct("agent_id").
		Pluck("agent_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list settling agents: %w", err)
	}
	return ids, nil
}

// SumClientVolumeSince totals a client's swap amounts created since the
// cutoff, ignoring rejected/cancelled/expired requests.
func (r *SwapRepository) SumClientVolumeSince(ctx context.Context, clientRef string, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("client_ref = ? AND created_at >= ? AND status NOT IN ?",
			clientRef, since, []models.SwapStatus{models.StatusRejected, models.StatusCancelled, models.StatusExpired}).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum client volume: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// CreateProof persists a new proof submission
func (r *SwapRepository) CreateProof(ctx context.Context, proof *models.ProofSubmission) error {
	if err := r.db.WithContext(ctx).Create(proof).Error; err != nil {
		return fmt.Errorf("failed to create proof: %w", err)
	}
	return nil
}

// ProofsForSwap returns all proofs attached to a swap, oldest first
func (r *SwapRepository) ProofsForSwap(ctx context.Context, swapID uuid.UUID) ([]models.ProofSubmission, error) {
	var proofs []models.ProofSubmission
	err := r.db.WithContext(ctx).
		Where("swap_id = ?", swapID).
		Order("created_at ASC").
		Find(&proofs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	return proofs, nil
}

// CreateDispute persists a new dispute
func (r *SwapRepository) CreateDispute(ctx context.Context, dispute *models.Dispute) error {
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

// OpenDisputeExists reports whether the swap already has an open dispute
func (r *SwapRepository) OpenDisputeExists(ctx context.Context, swapID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("swap_id = ? AND status IN ?", swapID,
			[]models.DisputeStatus{models.DisputeOpen, models.DisputeInvestigating, models.DisputeEscalated}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check open disputes: %w", err)
	}
	return count > 0, nil
}

// CreateAgent persists a new agent profile
func (r *SwapRepository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID, returns nil if not found
func (r *SwapRepository) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&agent).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// GetAgentByUserRef retrieves an agent by its external user identity
func (r *SwapRepository) GetAgentByUserRef(ctx context.Context, userRef string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("user_ref = ?", userRef).First(&agent).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent by user: %w", err)
	}
	return &agent, nil
}

// SaveAgent persists updates to an existing agent
func (r *SwapRepository) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if err := r.db.WithContext(ctx).Save(agent).Error; err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// ListEligibleAgents returns verified, online agents in creation order.
// The stable ordering doubles as the recommendation tie-break.
func (r *SwapRepository) ListEligibleAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	err := r.db.WithContext(ctx).
		Where("verified = ? AND is_online = ?", true, true).
		Order("created_at ASC").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible agents: %w", err)
	}
	return agents, nil
}

// CountActiveSwapsForAgents returns the number of active swaps per agent
func (r *SwapRepository) CountActiveSwapsForAgents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	type row struct {
		AgentID uuid.UUID
		Total   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Select("agent_id, COUNT(*) as total").
		Where("agent_id IN ? AND status IN ?", ids, models.ActiveStatuses).
		Group("agent_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count active swaps: %w", err)
	}
	for _, r := range rows {
		counts[r.AgentID] = r.Total
	}
	return counts, nil
}

// CreateNotification persists a notification record
func (r *SwapRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpsertInvoice creates or replaces the invoice with the same number,
// preserving the original identity and creation time on regeneration.
func (r *SwapRepository) UpsertInvoice(ctx context.Context, invoice *models.AgentInvoice) error {
	var existing models.AgentInvoice
	err := r.db.WithContext(ctx).Where("number = ?", invoice.Number).First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		if err := r.db.WithContext(ctx).Create(invoice).Error; err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up invoice: %w", err)
	}

	invoice.ID = existing.ID
	invoice.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(invoice).Error; err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return nil
}

// GetInvoiceByNumber retrieves an invoice, returns nil if not found
func (r *SwapRepository) GetInvoiceByNumber(ctx context.Context, number string) (*models.AgentInvoice, error) {
	var invoice models.AgentInvoice
	err := r.db.WithContext(ctx).Where("number = ?", number).First(&invoice).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &invoice, nil
}

// Stats returns aggregate marketplace statistics
func (r *SwapRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalSwaps int64
	if err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).Count(&totalSwaps).Error; err != nil {
		return nil, fmt.Errorf("failed to count swaps: %w", err)
	}
	stats["total_swaps"] = totalSwaps

	var completedSwaps int64
	if err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Where("status = ?", models.StatusComplete).
		Count(&completedSwaps).Error; err != nil {
		return nil, fmt.Errorf("failed to count completed swaps: %w", err)
	}
	stats["completed_swaps"] = completedSwaps

	var disputedSwaps int64
	if err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Where("status = ?", models.StatusDispute).
		Count(&disputedSwaps).Error; err != nil {
		return nil, fmt.Errorf("failed to count disputed swaps: %w", err)
	}
	stats["disputed_swaps"] = disputedSwaps

	var totalAgents int64
	if err := r.db.WithContext(ctx).Model(&models.Agent{}).Count(&totalAgents).Error; err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}
	stats["total_agents"] = totalAgents

	var onlineAgents int64
	if err := r.db.WithContext(ctx).Model(&models.Agent{}).
		Where("is_online = ?", true).
		Count(&onlineAgents).Error; err != nil {
		return nil, fmt.Errorf("failed to count online agents: %w", err)
	}
	stats["online_agents"] = onlineAgents

	var volume decimal.NullDecimal
	if err := r.db.WithContext(ctx).Model(&models.SwapRequest{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", models.StatusComplete).
		Scan(&volume).Error; err != nil {
		return nil, fmt.Errorf("failed to sum completed volume: %w", err)
	}
	if volume.Valid {
		stats["completed_volume"] = volume.Decimal.String()
	} else {
		stats["completed_volume"] = "0"
	}

	return stats, nil
}
