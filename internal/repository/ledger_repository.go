package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
)

// LedgerRepository handles block and event persistence for the audit chain.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

// Transaction runs fn inside a database transaction
func (r *LedgerRepository) Transaction(ctx context.Context, fn func(txRepo *LedgerRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// LatestBlock returns the highest-index block, nil when the chain is empty
func (r *LedgerRepository) LatestBlock(ctx context.Context) (*models.LedgerBlock, error) {
	var block models.LedgerBlock
	err := r.db.WithContext(ctx).Order("block_index DESC").First(&block).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return &block, nil
}

// CreateBlock appends a new block to the chain
func (r *LedgerRepository) CreateBlock(ctx context.Context, block *models.LedgerBlock) error {
	if err := r.db.WithContext(ctx).Create(block).Error; err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

// SaveBlock persists updates to an existing block
func (r *LedgerRepository) SaveBlock(ctx context.Context, block *models.LedgerBlock) error {
	if err := r.db.WithContext(ctx).Save(block).Error; err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// BlocksAscending returns the full chain in index order
func (r *LedgerRepository) BlocksAscending(ctx context.Context) ([]models.LedgerBlock, error) {
	var blocks []models.LedgerBlock
	if err := r.db.WithContext(ctx).Order("block_index ASC").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	return blocks, nil
}

// CreateEvent appends a new event record
func (r *LedgerRepository) CreateEvent(ctx context.Context, event *models.LedgerEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// EventsByBlock returns the events attached to one block
func (r *LedgerRepository) EventsByBlock(ctx context.Context, blockIndex int64) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("block_index = ?", blockIndex).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list block events: %w", err)
	}
	return events, nil
}

// EventsByEntity returns the audit trail for one entity reference
func (r *LedgerRepository) EventsByEntity(ctx context.Context, entityRef string) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("entity_ref = ?", entityRef).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entity events: %w", err)
	}
	return events, nil
}

// CountBlocks returns the total number of blocks
func (r *LedgerRepository) CountBlocks(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LedgerBlock{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// CountEvents returns the total number of events
func (r *LedgerRepository) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LedgerEvent{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountEventsByBlock returns the number of events attached to one block
func (r *LedgerRepository) CountEventsByBlock(ctx context.Context, blockIndex int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEvent{}).
		Where("block_index = ?", blockIndex).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count block events: %w", err)
	}
	return count, nil
}
