package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yourusername/p2p-swap/swap-service/internal/util"
)

// SwapStatus tracks a swap request through its lifecycle.
type SwapStatus string

const (
	StatusPending             SwapStatus = "PENDING"
	StatusAccepted            SwapStatus = "ACCEPTED"
	StatusClientProofUploaded SwapStatus = "CLIENT_PROOF_UPLOADED"
	StatusAgentProofUploaded  SwapStatus = "AGENT_PROOF_UPLOADED"
	StatusComplete            SwapStatus = "COMPLETE"
	StatusRejected            SwapStatus = "REJECTED"
	StatusCancelled           SwapStatus = "CANCELLED"
	StatusExpired             SwapStatus = "EXPIRED"
	StatusDispute             SwapStatus = "DISPUTE"
)

// Terminal reports whether the status permits no further transitions.
func (s SwapStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ActiveStatuses are the states counted against an agent's availability.
var ActiveStatuses = []SwapStatus{
	StatusPending,
	StatusAccepted,
	StatusClientProofUploaded,
	StatusAgentProofUploaded,
}

// SwapRequest represents one client-to-agent conversion. Fees are recorded
// for monthly invoicing only, the platform never moves money.
type SwapRequest struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ClientRef             string          `gorm:"index;not null" json:"client_ref"`
	AgentID               uuid.UUID       `gorm:"type:uuid;index;not null" json:"agent_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	FromService           util.ServiceID  `gorm:"not null" json:"from_service"`
	ToService             util.ServiceID  `gorm:"not null" json:"to_service"`
	DestNumber            string          `gorm:"not null" json:"dest_number"`
	Status                SwapStatus      `gorm:"index;default:'PENDING'" json:"status"`
	Reference             string          `gorm:"uniqueIndex;not null" json:"reference"`
	PlatformFee           decimal.Decimal `gorm:"type:decimal(10,2)" json:"platform_fee"`
	AgentFee              decimal.Decimal `gorm:"type:decimal(10,2)" json:"agent_fee"`
	RejectReason          string          `json:"reject_reason,omitempty"`
	Rating                *int            `json:"rating,omitempty"` // 1-5, set once on COMPLETE
	AgentResponseAt       *time.Time      `json:"agent_response_at,omitempty"`
	ClientProofUploadedAt *time.Time      `json:"client_proof_uploaded_at,omitempty"`
	AgentProofUploadedAt  *time.Time      `json:"agent_proof_uploaded_at,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	ReminderSentAt        *time.Time      `json:"reminder_sent_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (s *SwapRequest) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// NetAmount is what the client conceptually receives after fees.
func (s *SwapRequest) NetAmount() decimal.Decimal {
	return s.Amount.Sub(s.PlatformFee).Sub(s.AgentFee)
}

// ProofKind distinguishes raw SMS text from an uploaded image.
type ProofKind string

const (
	ProofKindSMS   ProofKind = "sms"
	ProofKindImage ProofKind = "image"
)

// ProofStatus is the verification state of a submitted proof.
type ProofStatus string

const (
	ProofPending     ProofStatus = "pending"
	ProofVerified    ProofStatus = "verified"
	ProofRejected    ProofStatus = "rejected"
	ProofNeedsReview ProofStatus = "needs_review"
)

// ProofSubmission is evidence of a payment attached to a swap. Extracted
// fields are immutable once set, only Status may change on review.
type ProofSubmission struct {
	ID                 uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	SwapID             uuid.UUID           `gorm:"type:uuid;index;not null" json:"swap_id"`
	UploadedBy         string              `gorm:"not null" json:"uploaded_by"`
	Kind               ProofKind           `gorm:"not null" json:"kind"`
	RawText            string              `json:"raw_text,omitempty"`
	ExtractedAmount    decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"extracted_amount"`
	ExtractedReference string              `json:"extracted_reference,omitempty"`
	ExtractedTxID      string              `json:"extracted_txid,omitempty"`
	ExtractedAccount   string              `json:"extracted_account,omitempty"`
	Confidence         float64             `json:"confidence"` // 0.0-1.0
	Provider           string              `json:"provider,omitempty"`
	Status             ProofStatus         `gorm:"default:'pending'" json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
}

func (p *ProofSubmission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// DisputeSeverity grades how serious a dispute is.
type DisputeSeverity string

const (
	SeverityLow    DisputeSeverity = "low"
	SeverityMedium DisputeSeverity = "medium"
	SeverityHigh   DisputeSeverity = "high"
)

// DisputeStatus is the resolution state of a dispute.
type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "open"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeResolved      DisputeStatus = "resolved"
	DisputeEscalated     DisputeStatus = "escalated"
)

// Dispute is an escalation record tied to a swap. At most one open
// dispute may exist per swap.
type Dispute struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SwapID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"swap_id"`
	OpenedBy   string          `gorm:"not null" json:"opened_by"`
	Reason     string          `gorm:"not null" json:"reason"`
	Severity   DisputeSeverity `gorm:"default:'medium'" json:"severity"`
	Status     DisputeStatus   `gorm:"index;default:'open'" json:"status"`
	Resolution string          `json:"resolution,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Agent is the performance and trust aggregate for a fulfilling agent.
// Counters are updated in the same transaction as the owning swap.
type Agent struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserRef                string    `gorm:"uniqueIndex;not null" json:"user_ref"`
	Name                   string    `gorm:"not null" json:"name"`
	PhoneNumber            string    `json:"phone_number"`
	Verified               bool      `gorm:"default:false" json:"verified"`
	IsOnline               bool      `gorm:"default:false" json:"is_online"`
	DailyCapacity          int       `gorm:"default:10" json:"daily_capacity"`
	DailySwapCount         int       `json:"daily_swap_count"`
	CapacityDate           time.Time `json:"capacity_date"` // day the counter belongs to
	ResponseTimeSumSeconds float64   `json:"response_time_sum_seconds"`
	ResponseCount          int       `json:"response_count"`
	CompletedSwaps         int       `json:"completed_swaps"`
	TotalAttempts          int       `json:"total_attempts"`
	DisputeCount           int       `json:"dispute_count"`
	RatingSum              float64   `json:"rating_sum"`
	RatingCount            int       `json:"rating_count"`
	Latitude               *float64  `json:"latitude,omitempty"`
	Longitude              *float64  `json:"longitude,omitempty"`
	Address                string    `json:"address,omitempty"`
	BankName               string    `json:"bank_name,omitempty"`
	BankAccount            string    `json:"bank_account,omitempty"`
	MpambaNumber           string    `json:"mpamba_number,omitempty"`
	AirtelNumber           string    `json:"airtel_number,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// EffectiveDailyCount returns today's accepted-swap count, treating a
// stale counter from a previous day as zero.
func (a *Agent) EffectiveDailyCount(now time.Time) int {
	if !sameDay(a.CapacityDate, now) {
		return 0
	}
	return a.DailySwapCount
}

// CanAcceptSwap reports whether the agent is under daily capacity.
func (a *Agent) CanAcceptSwap(now time.Time) bool {
	return a.EffectiveDailyCount(now) < a.DailyCapacity
}

// AvgResponseMinutes is the mean accept/reject latency in minutes.
func (a *Agent) AvgResponseMinutes() float64 {
	if a.ResponseCount == 0 {
		return 0
	}
	return a.ResponseTimeSumSeconds / float64(a.ResponseCount) / 60.0
}

// CompletionRate is completed swaps over total attempts, 1.0 when unproven.
func (a *Agent) CompletionRate() float64 {
	if a.TotalAttempts == 0 {
		return 1.0
	}
	return float64(a.CompletedSwaps) / float64(a.TotalAttempts)
}

// AverageRating defaults to 5.0 until the first rating lands.
func (a *Agent) AverageRating() float64 {
	if a.RatingCount == 0 {
		return 5.0
	}
	return a.RatingSum / float64(a.RatingCount)
}

// HasLocation reports whether the agent has usable coordinates.
func (a *Agent) HasLocation() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// PaymentDetails resolves the agent's receiving details for a source
// service, used in client notifications after acceptance.
func (a *Agent) PaymentDetails(service util.ServiceID) string {
	switch service {
	case util.TNMMpamba:
		if a.MpambaNumber != "" {
			return "TNM Mpamba " + a.MpambaNumber
		}
	case util.AirtelMoney:
		if a.AirtelNumber != "" {
			return "Airtel Money " + a.AirtelNumber
		}
	default:
		if a.BankName != "" && a.BankAccount != "" {
			return a.BankName + " Acc: " + a.BankAccount
		}
	}
	return ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// NotificationType categorizes persisted notifications.
type NotificationType string

const (
	NotifySwapRequest     NotificationType = "swap_request"
	NotifySwapAccepted    NotificationType = "swap_accepted"
	NotifySwapRejected    NotificationType = "swap_rejected"
	NotifyPaymentReceived NotificationType = "payment_received"
	NotifyPaymentSent     NotificationType = "payment_sent"
	NotifyDispute         NotificationType = "dispute"
	NotifySystem          NotificationType = "system"
)

// Notification is the durable record of a message owed to a user.
// Delivery through the sink is best-effort after the owning commit.
type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserRef   string           `gorm:"index;not null" json:"user_ref"`
	SwapID    *uuid.UUID       `gorm:"type:uuid;index" json:"swap_id,omitempty"`
	Type      NotificationType `gorm:"not null" json:"type"`
	Channel   string           `gorm:"default:'sms'" json:"channel"`
	Message   string           `gorm:"not null" json:"message"`
	IsRead    bool             `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// InvoiceStatus is the settlement state of a monthly invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
)

// AgentInvoice bills an agent for one month of platform fees. Settlement
// happens outside the platform.
type AgentInvoice struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID      uuid.UUID       `gorm:"type:uuid;index;not null" json:"agent_id"`
	Number       string          `gorm:"uniqueIndex;not null" json:"number"`
	PeriodStart  time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd    time.Time       `gorm:"not null" json:"period_end"`
	SwapCount    int             `json:"swap_count"`
	TotalVolume  decimal.Decimal `gorm:"type:decimal(14,2)" json:"total_volume"`
	PlatformFees decimal.Decimal `gorm:"type:decimal(12,2)" json:"platform_fees"`
	AgentFees    decimal.Decimal `gorm:"type:decimal(12,2)" json:"agent_fees"`
	DueDate      time.Time       `json:"due_date"`
	Status       InvoiceStatus   `gorm:"default:'pending'" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (i *AgentInvoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
