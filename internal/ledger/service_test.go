package ledger

import (
	"context"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

func init() {
	logger.Init()
}

func setupTestLedger(t *testing.T, signer *Signer, sealThreshold int) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&models.LedgerBlock{}, &models.LedgerEvent{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	repo := repository.NewLedgerRepository(db)
	return NewService(repo, signer, sealThreshold), db
}

func testSigner(t *testing.T) *Signer {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signer, err := NewSigner(hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return signer
}

func TestRecordEventCreatesGenesis(t *testing.T) {
	svc, db := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	event, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPABCD1234", map[string]interface{}{
		"swap_ref": "SWAPABCD1234",
		"amount":   "1000.00",
	}, "client-1")
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	if matched, _ := regexp.MatchString(`^evt[0-9a-f]{16}$`, event.EventID); !matched {
		t.Errorf("Unexpected event id format: %s", event.EventID)
	}
	if len(event.PayloadHash) != 64 {
		t.Errorf("Expected 64 hex char payload hash, got %d chars", len(event.PayloadHash))
	}

	var genesis models.LedgerBlock
	if err := db.Where("block_index = ?", 0).First(&genesis).Error; err != nil {
		t.Fatalf("Genesis block not created: %v", err)
	}
	if genesis.PreviousHash != ZeroHash {
		t.Errorf("Genesis previous hash = %s, want zero hash", genesis.PreviousHash)
	}
	if genesis.NodeSignature != "genesis" {
		t.Errorf("Genesis node signature = %s, want genesis", genesis.NodeSignature)
	}
	if event.BlockIndex != 0 {
		t.Errorf("Event attached to block %d, want 0", event.BlockIndex)
	}
}

func TestGenesisIdempotent(t *testing.T) {
	svc, db := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00001", map[string]interface{}{"n": i}, "actor")
		if err != nil {
			t.Fatalf("Failed to record event %d: %v", i, err)
		}
	}

	var blocks int64
	db.Model(&models.LedgerBlock{}).Count(&blocks)
	if blocks != 1 {
		t.Errorf("Expected a single block, got %d", blocks)
	}
}

func TestEventIDsUnique(t *testing.T) {
	svc, _ := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		event, err := svc.RecordEvent(ctx, models.EventSwapReserved, "SWAPREF00002", map[string]interface{}{"seq": i}, "agent-1")
		if err != nil {
			t.Fatalf("Failed to record event: %v", err)
		}
		if seen[event.EventID] {
			t.Errorf("Duplicate event id: %s", event.EventID)
		}
		seen[event.EventID] = true
	}
}

func TestVerifyIntegrityFreshChain(t *testing.T) {
	svc, _ := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	if _, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00003", map[string]interface{}{"a": 1}, "actor"); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	ok, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("Fresh chain should verify")
	}
}

func TestSealIfFullOpensNextBlock(t *testing.T) {
	svc, db := setupTestLedger(t, nil, 2)
	ctx := context.Background()

	// Below threshold, sealing is a no-op
	if _, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00004", map[string]interface{}{"n": 1}, "actor"); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}
	if err := svc.SealIfFull(ctx); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	var blocks int64
	db.Model(&models.LedgerBlock{}).Count(&blocks)
	if blocks != 1 {
		t.Fatalf("Expected 1 block below threshold, got %d", blocks)
	}

	// At threshold, the block seals and a successor opens
	if _, err := svc.RecordEvent(ctx, models.EventSwapReserved, "SWAPREF00004", map[string]interface{}{"n": 2}, "actor"); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}
	if err := svc.SealIfFull(ctx); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var genesis, next models.LedgerBlock
	if err := db.Where("block_index = ?", 0).First(&genesis).Error; err != nil {
		t.Fatalf("Missing genesis: %v", err)
	}
	if err := db.Where("block_index = ?", 1).First(&next).Error; err != nil {
		t.Fatalf("Missing successor block: %v", err)
	}

	if !genesis.Sealed {
		t.Error("Genesis should be sealed")
	}
	if genesis.EventCount != 2 {
		t.Errorf("Sealed event count = %d, want 2", genesis.EventCount)
	}
	if next.PreviousHash != genesis.Hash {
		t.Errorf("Successor previous hash = %s, want %s", next.PreviousHash, genesis.Hash)
	}

	// New events land in the open block
	event, err := svc.RecordEvent(ctx, models.EventSwapCompleted, "SWAPREF00004", map[string]interface{}{"n": 3}, "actor")
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}
	if event.BlockIndex != 1 {
		t.Errorf("Event attached to block %d, want 1", event.BlockIndex)
	}

	ok, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("Sealed chain should verify")
	}
}

func TestVerifyIntegrityDetectsPreviousHashTampering(t *testing.T) {
	svc, db := setupTestLedger(t, nil, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00005", map[string]interface{}{"n": i}, "actor"); err != nil {
			t.Fatalf("Failed to record event: %v", err)
		}
		if err := svc.SealIfFull(ctx); err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
	}

	// Tamper with a middle block's previous hash
	if err := db.Model(&models.LedgerBlock{}).
		Where("block_index = ?", 1).
		Update("previous_hash", "deadbeef").Error; err != nil {
		t.Fatalf("Failed to tamper: %v", err)
	}

	ok, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("Tampered chain should not verify")
	}
}

func TestVerifyIntegrityDetectsContentTampering(t *testing.T) {
	svc, db := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	if _, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00006", map[string]interface{}{"n": 0}, "actor"); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	// Rewriting a stored block hash must break verification
	if err := db.Model(&models.LedgerBlock{}).
		Where("block_index = ?", 0).
		Update("hash", ZeroHash).Error; err != nil {
		t.Fatalf("Failed to tamper: %v", err)
	}

	ok, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("Chain with rewritten block hash should not verify")
	}
}

func TestStatus(t *testing.T) {
	svc, _ := setupTestLedger(t, nil, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.RecordEvent(ctx, models.EventSwapCreated, "SWAPREF00007", map[string]interface{}{"n": i}, "actor"); err != nil {
			t.Fatalf("Failed to record event: %v", err)
		}
	}

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if status.TotalBlocks != 1 {
		t.Errorf("TotalBlocks = %d, want 1", status.TotalBlocks)
	}
	if status.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", status.TotalEvents)
	}
	if status.LatestBlockIndex != 0 {
		t.Errorf("LatestBlockIndex = %d, want 0", status.LatestBlockIndex)
	}
	if !status.IntegrityOk {
		t.Error("Expected integrity ok")
	}
}

func TestSignedEventsVerify(t *testing.T) {
	signer := testSigner(t)
	svc, _ := setupTestLedger(t, signer, 100)
	ctx := context.Background()

	event, err := svc.RecordEvent(ctx, models.EventSwapCompleted, "SWAPREF00008", map[string]interface{}{
		"platform_fee_owed": "1.50",
	}, "agent-1")
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	if event.Signature == "" {
		t.Fatal("Expected event signature")
	}

	ok, err := signer.Verify(event.EntityRef, string(event.EventType), event.PayloadHash, event.Signature)
	if err != nil {
		t.Fatalf("Signature verify failed: %v", err)
	}
	if !ok {
		t.Error("Signature should verify against the signing key")
	}

	// A different key must not verify the same signature
	other := testSigner(t)
	ok, err = other.Verify(event.EntityRef, string(event.EventType), event.PayloadHash, event.Signature)
	if err != nil {
		t.Fatalf("Signature verify failed: %v", err)
	}
	if ok {
		t.Error("Foreign key should not verify the signature")
	}

	valid, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !valid {
		t.Error("Signed chain should verify")
	}
}

func TestVerifyIntegrityDetectsSignatureTampering(t *testing.T) {
	signer := testSigner(t)
	svc, db := setupTestLedger(t, signer, 100)
	ctx := context.Background()

	event, err := svc.RecordEvent(ctx, models.EventSwapCompleted, "SWAPREF00009", map[string]interface{}{"n": 1}, "agent-1")
	if err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	// Attach a signature from a different key
	other := testSigner(t)
	forged, err := other.Sign(event.EntityRef, string(event.EventType), event.PayloadHash)
	if err != nil {
		t.Fatalf("Failed to forge signature: %v", err)
	}
	if err := db.Model(&models.LedgerEvent{}).
		Where("event_id = ?", event.EventID).
		Update("signature", forged).Error; err != nil {
		t.Fatalf("Failed to tamper: %v", err)
	}

	ok, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("Chain with forged signature should not verify")
	}
}

func TestHashPayloadStableOrdering(t *testing.T) {
	a, err := HashPayload(map[string]interface{}{"amount": "1000.00", "swap_ref": "SWAPX", "actor": "c1"})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := HashPayload(map[string]interface{}{"swap_ref": "SWAPX", "actor": "c1", "amount": "1000.00"})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a != b {
		t.Error("Payload hash should not depend on key insertion order")
	}
}
