package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/ledger"
	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/internal/notify"
	"github.com/yourusername/p2p-swap/swap-service/internal/proof"
	"github.com/yourusername/p2p-swap/swap-service/internal/repository"
	"github.com/yourusername/p2p-swap/swap-service/internal/util"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

func init() {
	logger.Init()
}

func setupTestService(t *testing.T) (*SwapService, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Agent{},
		&models.SwapRequest{},
		&models.ProofSubmission{},
		&models.Dispute{},
		&models.Notification{},
		&models.AgentInvoice{},
		&models.LedgerBlock{},
		&models.LedgerEvent{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	repo := repository.NewSwapRepository(db)
	ledgerSvc := ledger.NewService(repository.NewLedgerRepository(db), nil, 100)
	parser := proof.NewParser(nil)
	dispatcher := notify.NewDispatcher(notify.LogSink{})

	service := NewSwapService(repo, ledgerSvc, parser, dispatcher, nil, DefaultPolicy())
	return service, db
}

func seedAgent(t *testing.T, db *gorm.DB, userRef string) *models.Agent {
	agent := &models.Agent{
		UserRef:       userRef,
		Name:          "Chisomo Banda",
		PhoneNumber:   "0881000000",
		Verified:      true,
		IsOnline:      true,
		DailyCapacity: 10,
		BankName:      "National Bank",
		BankAccount:   "100200300",
		MpambaNumber:  "0881000000",
	}
	if err := db.Create(agent).Error; err != nil {
		t.Fatalf("Failed to seed agent: %v", err)
	}
	return agent
}

func validCreateInput(agentID uuid.UUID) CreateSwapInput {
	return CreateSwapInput{
		ClientRef:   "client-1",
		AgentID:     agentID,
		Amount:      decimal.NewFromInt(1000),
		FromService: util.NationalBank,
		ToService:   util.TNMMpamba,
		DestNumber:  "0881234567",
	}
}

func reloadAgent(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Agent {
	var agent models.Agent
	if err := db.First(&agent, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload agent: %v", err)
	}
	return &agent
}

func TestCreateSwap(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	if swap.Status != models.StatusPending {
		t.Errorf("Expected status %s, got %s", models.StatusPending, swap.Status)
	}
	if matched := regexp.MustCompile(`^SWAP[A-Z0-9]{8}$`).MatchString(swap.Reference); !matched {
		t.Errorf("Reference %q does not match the expected format", swap.Reference)
	}

	// 1000 x 0.006 = 6.00 is under the 50 floor, so the floor applies
	if !swap.PlatformFee.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("Expected platform fee 12.50, got %s", swap.PlatformFee)
	}
	if !swap.AgentFee.Equal(decimal.RequireFromString("37.50")) {
		t.Errorf("Expected agent fee 37.50, got %s", swap.AgentFee)
	}

	events, err := service.ledger.EventsForEntity(ctx, swap.Reference)
	if err != nil {
		t.Fatalf("Failed to read ledger events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.EventSwapCreated {
		t.Errorf("Expected one SWAP_CREATED event, got %d events", len(events))
	}
}

func TestCreateSwapValidation(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	tests := []struct {
		name   string
		mutate func(*CreateSwapInput)
	}{
		{"missing client", func(in *CreateSwapInput) { in.ClientRef = "" }},
		{"unknown service", func(in *CreateSwapInput) { in.FromService = "paypal" }},
		{"same services", func(in *CreateSwapInput) { in.ToService = in.FromService }},
		{"below minimum", func(in *CreateSwapInput) { in.Amount = decimal.NewFromInt(10) }},
		{"above maximum", func(in *CreateSwapInput) { in.Amount = decimal.NewFromInt(60000) }},
		{"bad destination prefix", func(in *CreateSwapInput) { in.DestNumber = "0991234567" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validCreateInput(agent.ID)
			tt.mutate(&input)

			_, err := service.CreateSwap(ctx, input)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateSwapAgentOffline(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	agent.IsOnline = false
	if err := db.Save(agent).Error; err != nil {
		t.Fatalf("Failed to update agent: %v", err)
	}

	_, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Errorf("Expected ErrAgentUnavailable, got %v", err)
	}
}

func TestCreateSwapAgentAtCapacity(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	agent.DailySwapCount = agent.DailyCapacity
	agent.CapacityDate = time.Now()
	if err := db.Save(agent).Error; err != nil {
		t.Fatalf("Failed to update agent: %v", err)
	}

	_, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded, got %v", err)
	}
}

func TestComputeFees(t *testing.T) {
	service, _ := setupTestService(t)

	tests := []struct {
		amount      string
		platformFee string
		agentFee    string
	}{
		{"1000", "12.50", "37.50"},   // floor, 0.6% would be 6.00
		{"5000", "12.50", "37.50"},   // floor, 0.6% would be 30.00
		{"10000", "15.00", "45.00"},  // rate, 0.6% = 60.00
		{"50000", "75.00", "225.00"}, // rate, 0.6% = 300.00
	}

	for _, tt := range tests {
		platformFee, agentFee := service.computeFees(decimal.RequireFromString(tt.amount))
		if !platformFee.Equal(decimal.RequireFromString(tt.platformFee)) {
			t.Errorf("Amount %s: expected platform fee %s, got %s", tt.amount, tt.platformFee, platformFee)
		}
		if !agentFee.Equal(decimal.RequireFromString(tt.agentFee)) {
			t.Errorf("Amount %s: expected agent fee %s, got %s", tt.amount, tt.agentFee, agentFee)
		}
	}
}

func TestSwapLifecycleGoldenPath(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	swap, err = service.AcceptSwap(ctx, swap.ID, "agent-1")
	if err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}
	if swap.Status != models.StatusAccepted {
		t.Errorf("Expected status %s, got %s", models.StatusAccepted, swap.Status)
	}
	if swap.AgentResponseAt == nil {
		t.Error("Expected agent response timestamp to be set")
	}

	updated := reloadAgent(t, db, agent.ID)
	if updated.TotalAttempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", updated.TotalAttempts)
	}
	if updated.ResponseCount != 1 {
		t.Errorf("Expected 1 response, got %d", updated.ResponseCount)
	}
	if updated.EffectiveDailyCount(time.Now()) != 1 {
		t.Errorf("Expected daily count 1, got %d", updated.EffectiveDailyCount(time.Now()))
	}

	swap, submission, err := service.SubmitClientProof(ctx, swap.ID, "client-1", ProofInput{
		Text: "RECEIVED K1,000.00 FROM 0881234567. TXN ID: XYZ789",
	})
	if err != nil {
		t.Fatalf("Failed to submit client proof: %v", err)
	}
	if swap.Status != models.StatusClientProofUploaded {
		t.Errorf("Expected status %s, got %s", models.StatusClientProofUploaded, swap.Status)
	}
	if submission.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %.2f", submission.Confidence)
	}
	if submission.ExtractedTxID != "XYZ789" {
		t.Errorf("Expected txn id XYZ789, got %q", submission.ExtractedTxID)
	}

	// High-confidence agent proof auto-verifies and cascades to COMPLETE
	swap, submission, err = service.SubmitAgentProof(ctx, swap.ID, "agent-1", ProofInput{
		Text: "SENT K1,000.00 TO 0881234567. TXN ID: AGT999",
	})
	if err != nil {
		t.Fatalf("Failed to submit agent proof: %v", err)
	}
	if submission.Status != models.ProofVerified {
		t.Errorf("Expected proof status %s, got %s", models.ProofVerified, submission.Status)
	}
	if swap.Status != models.StatusComplete {
		t.Errorf("Expected status %s, got %s", models.StatusComplete, swap.Status)
	}
	if swap.CompletedAt == nil {
		t.Error("Expected completion timestamp to be set")
	}

	updated = reloadAgent(t, db, agent.ID)
	if updated.CompletedSwaps != 1 {
		t.Errorf("Expected 1 completed swap, got %d", updated.CompletedSwaps)
	}

	events, err := service.ledger.EventsForEntity(ctx, swap.Reference)
	if err != nil {
		t.Fatalf("Failed to read ledger events: %v", err)
	}
	wantEvents := []models.EventType{
		models.EventSwapCreated,
		models.EventSwapReserved,
		models.EventSwapPaidBank,
		models.EventSwapSentWallet,
		models.EventSwapCompleted,
	}
	if len(events) != len(wantEvents) {
		t.Fatalf("Expected %d ledger events, got %d", len(wantEvents), len(events))
	}
	for i, want := range wantEvents {
		if events[i].EventType != want {
			t.Errorf("Event %d: expected %s, got %s", i, want, events[i].EventType)
		}
	}
}

func TestAcceptSwapWrongAgent(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")
	seedAgent(t, db, "agent-2")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	_, err = service.AcceptSwap(ctx, swap.ID, "agent-2")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestAcceptSwapTwice(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}

	_, err = service.AcceptSwap(ctx, swap.ID, "agent-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on second accept, got %v", err)
	}
}

func TestRejectSwap(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	swap, err = service.RejectSwap(ctx, swap.ID, "agent-1", "Out of float")
	if err != nil {
		t.Fatalf("Failed to reject swap: %v", err)
	}
	if swap.Status != models.StatusRejected {
		t.Errorf("Expected status %s, got %s", models.StatusRejected, swap.Status)
	}
	if swap.RejectReason != "Out of float" {
		t.Errorf("Expected reject reason to be stored, got %q", swap.RejectReason)
	}

	// Rejections do not count toward response metrics
	updated := reloadAgent(t, db, agent.ID)
	if updated.ResponseCount != 0 || updated.TotalAttempts != 0 {
		t.Errorf("Expected untouched metrics, got responses=%d attempts=%d",
			updated.ResponseCount, updated.TotalAttempts)
	}
}

func TestSubmitClientProofWrongStatus(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	_, _, err = service.SubmitClientProof(ctx, swap.ID, "client-1", ProofInput{Text: "RECEIVED MWK 1,000.00"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for proof on pending swap, got %v", err)
	}
}

func TestSubmitClientProofWrongUploader(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}

	_, _, err = service.SubmitClientProof(ctx, swap.ID, "intruder", ProofInput{Text: "RECEIVED MWK 1,000.00"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for wrong uploader, got %v", err)
	}
}

func TestSubmitProofRequiresContent(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}

	_, _, err = service.SubmitClientProof(ctx, swap.ID, "client-1", ProofInput{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty proof, got %v", err)
	}
}

func TestLowConfidenceAgentProofNeedsManualCompletion(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}
	if _, _, err := service.SubmitClientProof(ctx, swap.ID, "client-1", ProofInput{
		Text: "RECEIVED K1,000.00 FROM 0881234567. TXN ID: XYZ789",
	}); err != nil {
		t.Fatalf("Failed to submit client proof: %v", err)
	}

	swap, submission, err := service.SubmitAgentProof(ctx, swap.ID, "agent-1", ProofInput{
		Text: "sent the money, check your phone",
	})
	if err != nil {
		t.Fatalf("Failed to submit agent proof: %v", err)
	}
	if submission.Status != models.ProofNeedsReview {
		t.Errorf("Expected proof status %s, got %s", models.ProofNeedsReview, submission.Status)
	}
	if swap.Status != models.StatusAgentProofUploaded {
		t.Errorf("Expected status %s, got %s", models.StatusAgentProofUploaded, swap.Status)
	}

	swap, err = service.CompleteSwap(ctx, swap.ID, "operator-1")
	if err != nil {
		t.Fatalf("Failed to complete swap: %v", err)
	}
	if swap.Status != models.StatusComplete {
		t.Errorf("Expected status %s, got %s", models.StatusComplete, swap.Status)
	}

	updated := reloadAgent(t, db, agent.ID)
	if updated.CompletedSwaps != 1 {
		t.Errorf("Expected 1 completed swap, got %d", updated.CompletedSwaps)
	}
}

func TestOpenDispute(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}

	dispute, err := service.OpenDispute(ctx, swap.ID, "client-1", "Agent is not responding to calls", models.SeverityHigh)
	if err != nil {
		t.Fatalf("Failed to open dispute: %v", err)
	}
	if dispute.Status != models.DisputeOpen {
		t.Errorf("Expected dispute status %s, got %s", models.DisputeOpen, dispute.Status)
	}

	var reloaded models.SwapRequest
	if err := db.First(&reloaded, "id = ?", swap.ID).Error; err != nil {
		t.Fatalf("Failed to reload swap: %v", err)
	}
	if reloaded.Status != models.StatusDispute {
		t.Errorf("Expected status %s, got %s", models.StatusDispute, reloaded.Status)
	}

	updated := reloadAgent(t, db, agent.ID)
	if updated.DisputeCount != 1 {
		t.Errorf("Expected dispute count 1, got %d", updated.DisputeCount)
	}

	// Second dispute on the same swap is a duplicate
	_, err = service.OpenDispute(ctx, swap.ID, "client-1", "Still not responding to calls", models.SeverityHigh)
	if !errors.Is(err, ErrDuplicateDispute) {
		t.Errorf("Expected ErrDuplicateDispute, got %v", err)
	}
}

func TestOpenDisputeValidation(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	if _, err := service.OpenDispute(ctx, swap.ID, "client-1", "too short", models.SeverityLow); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for short reason, got %v", err)
	}
	if _, err := service.OpenDispute(ctx, swap.ID, "stranger", "I have nothing to do with this swap", models.SeverityLow); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for non-party opener, got %v", err)
	}
}

func TestRateSwap(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap := completeSwapForTest(t, service, agent)

	swap, err := service.RateSwap(ctx, swap.ID, "client-1", 5)
	if err != nil {
		t.Fatalf("Failed to rate swap: %v", err)
	}
	if swap.Rating == nil || *swap.Rating != 5 {
		t.Error("Expected rating 5 to be stored")
	}

	updated := reloadAgent(t, db, agent.ID)
	if updated.RatingCount != 1 || updated.RatingSum != 5 {
		t.Errorf("Expected rating sum 5 count 1, got sum=%.0f count=%d", updated.RatingSum, updated.RatingCount)
	}

	if _, err := service.RateSwap(ctx, swap.ID, "client-1", 4); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for second rating, got %v", err)
	}
	if _, err := service.RateSwap(ctx, swap.ID, "client-1", 6); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for out-of-range rating, got %v", err)
	}
}

func TestToggleAgentOnline(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	online, err := service.ToggleAgentOnline(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Failed to toggle agent: %v", err)
	}
	if online {
		t.Error("Expected agent to be offline after toggle")
	}

	online, err = service.ToggleAgentOnline(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Failed to toggle agent back: %v", err)
	}
	if !online {
		t.Error("Expected agent to be online after second toggle")
	}
}

func TestConcurrentAccept(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.AcceptSwap(ctx, swap.ID, "agent-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, lost int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidTransition):
			lost++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if succeeded != 1 || lost != 1 {
		t.Errorf("Expected exactly one winner and one loser, got %d/%d", succeeded, lost)
	}
}

func TestExpirePending(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	stale, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	fresh, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}

	backdateSwap(t, db, stale.ID, "created_at", time.Now().Add(-31*time.Minute))
	backdateSwap(t, db, fresh.ID, "created_at", time.Now().Add(-10*time.Minute))

	expired, err := service.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("Failed to run expiry sweep: %v", err)
	}
	if expired != 1 {
		t.Errorf("Expected 1 expired swap, got %d", expired)
	}

	assertSwapStatus(t, db, stale.ID, models.StatusExpired)
	assertSwapStatus(t, db, fresh.ID, models.StatusPending)

	events, err := service.ledger.EventsForEntity(ctx, stale.Reference)
	if err != nil {
		t.Fatalf("Failed to read ledger events: %v", err)
	}
	last := events[len(events)-1]
	if last.EventType != models.EventSwapExpired {
		t.Errorf("Expected SWAP_EXPIRED event, got %s", last.EventType)
	}
}

func TestCancelStaleAccepted(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, "agent-1"); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}

	backdateSwap(t, db, swap.ID, "agent_response_at", time.Now().Add(-3*time.Hour))

	cancelled, err := service.CancelStaleAccepted(ctx)
	if err != nil {
		t.Fatalf("Failed to run cancellation sweep: %v", err)
	}
	if cancelled != 1 {
		t.Errorf("Expected 1 cancelled swap, got %d", cancelled)
	}
	assertSwapStatus(t, db, swap.ID, models.StatusCancelled)
}

func TestSendPendingReminders(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	backdateSwap(t, db, swap.ID, "created_at", time.Now().Add(-11*time.Minute))

	sent, err := service.SendPendingReminders(ctx)
	if err != nil {
		t.Fatalf("Failed to run reminder sweep: %v", err)
	}
	if sent != 1 {
		t.Errorf("Expected 1 reminder, got %d", sent)
	}

	// A swap is reminded at most once
	sent, err = service.SendPendingReminders(ctx)
	if err != nil {
		t.Fatalf("Failed to run reminder sweep: %v", err)
	}
	if sent != 0 {
		t.Errorf("Expected no repeat reminder, got %d", sent)
	}
}

func TestCheckCompliance(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	compliant, violations, err := service.CheckCompliance(ctx, "client-1", agent.ID, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Failed to check compliance: %v", err)
	}
	if !compliant {
		t.Errorf("Expected compliant request, got violations %v", violations)
	}

	compliant, violations, err = service.CheckCompliance(ctx, "client-1", agent.ID, decimal.NewFromInt(600000))
	if err != nil {
		t.Fatalf("Failed to check compliance: %v", err)
	}
	if compliant {
		t.Error("Expected violations for oversized amount")
	}
	if !containsString(violations, "Would exceed client's daily limit") {
		t.Errorf("Expected daily limit violation, got %v", violations)
	}

	// Volume already swapped today counts toward the limit
	now := time.Now()
	prior := &models.SwapRequest{
		ClientRef:   "client-1",
		AgentID:     agent.ID,
		Amount:      decimal.NewFromInt(480000),
		FromService: util.NationalBank,
		ToService:   util.TNMMpamba,
		DestNumber:  "0881234567",
		Status:      models.StatusComplete,
		Reference:   "SWAPPRIOR01",
		CompletedAt: &now,
	}
	if err := db.Create(prior).Error; err != nil {
		t.Fatalf("Failed to seed prior swap: %v", err)
	}

	compliant, violations, err = service.CheckCompliance(ctx, "client-1", agent.ID, decimal.NewFromInt(30000))
	if err != nil {
		t.Fatalf("Failed to check compliance: %v", err)
	}
	if compliant {
		t.Error("Expected daily limit violation with prior volume")
	}
	if len(violations) != 1 || violations[0] != "Would exceed client's daily limit" {
		t.Errorf("Expected only the daily limit violation, got %v", violations)
	}
}

func TestHealthCheck(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	health := service.HealthCheck(ctx)
	if !health["database"] {
		t.Error("Expected database to be healthy")
	}
	if !health["ledger"] {
		t.Error("Expected ledger to be healthy")
	}
}

func TestValidateProofs(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, db, "agent-1")

	swap := completeSwapForTest(t, service, agent)

	results, err := service.ValidateProofs(ctx, swap.ID)
	if err != nil {
		t.Fatalf("Failed to validate proofs: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 proof validations, got %d", len(results))
	}
	for _, r := range results {
		if !r.Result.IsValid {
			t.Errorf("Expected valid proof, got errors %v", r.Result.Errors)
		}
	}
}

// Helpers

func completeSwapForTest(t *testing.T, service *SwapService, agent *models.Agent) *models.SwapRequest {
	t.Helper()
	ctx := context.Background()

	swap, err := service.CreateSwap(ctx, validCreateInput(agent.ID))
	if err != nil {
		t.Fatalf("Failed to create swap: %v", err)
	}
	if _, err := service.AcceptSwap(ctx, swap.ID, agent.UserRef); err != nil {
		t.Fatalf("Failed to accept swap: %v", err)
	}
	if _, _, err := service.SubmitClientProof(ctx, swap.ID, swap.ClientRef, ProofInput{
		Text: "RECEIVED K1,000.00 FROM 0881234567. TXN ID: XYZ789",
	}); err != nil {
		t.Fatalf("Failed to submit client proof: %v", err)
	}
	swap, _, err = service.SubmitAgentProof(ctx, swap.ID, agent.UserRef, ProofInput{
		Text: "SENT K1,000.00 TO 0881234567. TXN ID: AGT999",
	})
	if err != nil {
		t.Fatalf("Failed to submit agent proof: %v", err)
	}
	if swap.Status != models.StatusComplete {
		t.Fatalf("Expected completed swap, got %s", swap.Status)
	}
	return swap
}

func backdateSwap(t *testing.T, db *gorm.DB, id uuid.UUID, column string, value time.Time) {
	t.Helper()
	if err := db.Model(&models.SwapRequest{}).Where("id = ?", id).Update(column, value).Error; err != nil {
		t.Fatalf("Failed to backdate swap: %v", err)
	}
}

func assertSwapStatus(t *testing.T, db *gorm.DB, id uuid.UUID, want models.SwapStatus) {
	t.Helper()
	var swap models.SwapRequest
	if err := db.First(&swap, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload swap: %v", err)
	}
	if swap.Status != want {
		t.Errorf("Expected status %s, got %s", want, swap.Status)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestUniqueReferenceFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref, err := randomReference()
		if err != nil {
			t.Fatalf("Failed to generate reference: %v", err)
		}
		if !regexp.MustCompile(`^SWAP[A-Z0-9]{8}$`).MatchString(ref) {
			t.Fatalf("Reference %q does not match the expected format", ref)
		}
	}
}

func TestStartOfDay(t *testing.T) {
	at := time.Date(2025, 6, 15, 13, 45, 12, 0, time.UTC)
	got := startOfDay(at)
	want := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
