package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// ErrIntegrityViolation signals a broken hash chain. It must be escalated,
// never swallowed or auto-corrected.
var ErrIntegrityViolation = errors.New("ledger integrity violation")

// ZeroHash is the previous-hash of the genesis block.
var ZeroHash = strings.Repeat("0", 64)

// ChainStatus summarizes the audit chain.
type ChainStatus struct {
	LatestBlockIndex int64 `json:"latest_block_index"`
	TotalBlocks      int64 `json:"total_blocks"`
	TotalEvents      int64 `json:"total_events"`
	IntegrityOk      bool  `json:"integrity_ok"`
}

// Service appends business events to a hash-chained block log. Events
// attach to the latest open block; sealing closes a full block and opens a
// successor linked by hash.
type Service struct {
	repo          *repository.LedgerRepository
	signer        *Signer // nil = unsigned events
	sealThreshold int
	mu            *sync.Mutex // serializes block creation and sealing
	now           func() time.Time
}

// NewService creates a ledger service. signer may be nil.
func NewService(repo *repository.LedgerRepository, signer *Signer, sealThreshold int) *Service {
	if sealThreshold <= 0 {
		sealThreshold = 100
	}
	return &Service{
		repo:          repo,
		signer:        signer,
		sealThreshold: sealThreshold,
		mu:            &sync.Mutex{},
		now:           time.Now,
	}
}

// WithTx returns a copy of the service whose writes join the given
// transaction. The block mutex is shared with the parent.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{
		repo:          s.repo.WithTx(tx),
		signer:        s.signer,
		sealThreshold: s.sealThreshold,
		mu:            s.mu,
		now:           s.now,
	}
}

// RecordEvent hashes the payload, derives the event id and appends the
// event to the latest open block. The genesis block is synthesized on
// first use.
func (s *Service) RecordEvent(ctx context.Context, eventType models.EventType, entityRef string, payload map[string]interface{}, actor string) (*models.LedgerEvent, error) {
	payloadHash, err := HashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := s.ensureChain(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := s.now().UTC().Format(time.RFC3339Nano)
	eventData := map[string]interface{}{
		"event_type":   string(eventType),
		"timestamp":    timestamp,
		"entity_ref":   entityRef,
		"payload_hash": payloadHash,
		"actor":        actor,
	}
	dataHash, err := HashPayload(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash event: %w", err)
	}

	event := &models.LedgerEvent{
		EventID:     "evt" + dataHash[:16],
		BlockIndex:  block.Index,
		EventType:   eventType,
		Timestamp:   timestamp,
		EntityRef:   entityRef,
		PayloadHash: payloadHash,
		Actor:       actor,
	}

	if s.signer != nil {
		signature, err := s.signer.Sign(entityRef, string(eventType), payloadHash)
		if err != nil {
			return nil, err
		}
		event.Signature = signature
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	logger.Debug("Ledger event recorded",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(eventType)),
		zap.String("entity_ref", entityRef),
	)

	return event, nil
}

// SealIfFull closes the latest block once it holds enough events and opens
// a successor whose previous hash is the sealed block's hash. Invoked by
// the scheduler, not by event appends, so concurrent transactional writes
// never contend on block creation.
func (s *Service) SealIfFull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.repo.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}

	count, err := s.repo.CountEventsByBlock(ctx, latest.Index)
	if err != nil {
		return err
	}
	if count < int64(s.sealThreshold) {
		return nil
	}

	return s.repo.Transaction(ctx, func(txRepo *repository.LedgerRepository) error {
		latest.Sealed = true
		latest.EventCount = int(count)
		if err := txRepo.SaveBlock(ctx, latest); err != nil {
			return err
		}

		next := s.buildBlock(latest.Index+1, latest.Hash)
		if err := txRepo.CreateBlock(ctx, next); err != nil {
			return err
		}

		logger.Info("Ledger block sealed",
			zap.Int64("sealed_index", latest.Index),
			zap.Int64("next_index", next.Index),
			zap.Int64("events", count),
		)
		return nil
	})
}

// VerifyIntegrity walks the chain in ascending order checking the
// previous-hash linkage and each block's recomputed content hash. When a
// signer is configured, event signatures are checked as well. Returns
// false on the first mismatch.
func (s *Service) VerifyIntegrity(ctx context.Context) (bool, error) {
	blocks, err := s.repo.BlocksAscending(ctx)
	if err != nil {
		return false, err
	}

	previousHash := ZeroHash
	for i := range blocks {
		block := &blocks[i]
		if block.PreviousHash != previousHash {
			logger.Error("Ledger chain broken",
				zap.Int64("block_index", block.Index),
				zap.String("expected_previous", previousHash),
				zap.String("stored_previous", block.PreviousHash),
			)
			return false, nil
		}
		if computeBlockHash(block.Index, block.Timestamp, block.PreviousHash) != block.Hash {
			logger.Error("Ledger block hash mismatch", zap.Int64("block_index", block.Index))
			return false, nil
		}

		if s.signer != nil {
			ok, err := s.verifyBlockSignatures(ctx, block.Index)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}

		previousHash = block.Hash
	}

	return true, nil
}

// Status reports chain head, sizes and the integrity check result.
func (s *Service) Status(ctx context.Context) (*ChainStatus, error) {
	latest, err := s.repo.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}

	totalBlocks, err := s.repo.CountBlocks(ctx)
	if err != nil {
		return nil, err
	}

	totalEvents, err := s.repo.CountEvents(ctx)
	if err != nil {
		return nil, err
	}

	ok, err := s.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}

	status := &ChainStatus{
		TotalBlocks: totalBlocks,
		TotalEvents: totalEvents,
		IntegrityOk: ok,
	}
	if latest != nil {
		status.LatestBlockIndex = latest.Index
	}
	return status, nil
}

// EventsForEntity returns the audit trail for one entity reference.
func (s *Service) EventsForEntity(ctx context.Context, entityRef string) ([]models.LedgerEvent, error) {
	return s.repo.EventsByEntity(ctx, entityRef)
}

// ensureChain returns the latest block, creating the genesis block when
// the chain is empty. Idempotent.
func (s *Service) ensureChain(ctx context.Context) (*models.LedgerBlock, error) {
	latest, err := s.repo.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		return latest, nil
	}

	genesis := s.buildBlock(0, ZeroHash)
	genesis.NodeSignature = "genesis"
	if err := s.repo.CreateBlock(ctx, genesis); err != nil {
		// A concurrent writer may have won the race, re-read before failing.
		if existing, readErr := s.repo.LatestBlock(ctx); readErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	logger.Info("Ledger genesis block created", zap.String("hash", genesis.Hash))
	return genesis, nil
}

func (s *Service) buildBlock(index int64, previousHash string) *models.LedgerBlock {
	timestamp := s.now().UTC()
	block := &models.LedgerBlock{
		Index:        index,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Hash:         computeBlockHash(index, timestamp, previousHash),
	}
	if index > 0 && s.signer != nil {
		if signature, err := s.signer.Sign(fmt.Sprintf("block-%d", index), "BLOCK_SEALED", block.Hash); err == nil {
			block.NodeSignature = signature
		}
	}
	return block
}

func (s *Service) verifyBlockSignatures(ctx context.Context, blockIndex int64) (bool, error) {
	events, err := s.repo.EventsByBlock(ctx, blockIndex)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Signature == "" {
			continue
		}
		ok, err := s.signer.Verify(event.EntityRef, string(event.EventType), event.PayloadHash, event.Signature)
		if err != nil || !ok {
			logger.Error("Ledger event signature invalid", zap.String("event_id", event.EventID))
			return false, nil
		}
	}
	return true, nil
}

// HashPayload canonicalizes a payload (JSON with sorted keys) and returns
// its SHA-256 hex digest.
func HashPayload(payload map[string]interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// computeBlockHash hashes the block header fields. The timestamp is
// truncated to whole seconds so the hash survives a database round trip.
func computeBlockHash(index int64, timestamp time.Time, previousHash string) string {
	header := map[string]interface{}{
		"index":         index,
		"timestamp":     timestamp.UTC().Format(time.RFC3339),
		"previous_hash": previousHash,
	}
	data, _ := json.Marshal(header)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
