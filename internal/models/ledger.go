package models

import (
	"time"
)

// EventType enumerates the business actions recorded on the ledger.
type EventType string

const (
	EventSwapCreated     EventType = "SWAP_CREATED"
	EventSwapReserved    EventType = "SWAP_RESERVED"
	EventSwapPaidBank    EventType = "SWAP_PAID_BANK"
	EventSwapSentWallet  EventType = "SWAP_SENT_WALLET"
	EventSwapCompleted   EventType = "SWAP_COMPLETED"
	EventSwapRejected    EventType = "SWAP_REJECTED"
	EventSwapCancelled   EventType = "SWAP_CANCELLED"
	EventSwapExpired     EventType = "SWAP_EXPIRED"
	EventDisputeOpened   EventType = "DISPUTE_OPENED"
	EventDisputeResolved EventType = "DISPUTE_RESOLVED"
	EventKYCApproved     EventType = "KYC_APPROVED"
	EventAgentVerified   EventType = "AGENT_VERIFIED"
)

// LedgerBlock is one link in the hash chain. The genesis block carries a
// zero previous hash; every later block's PreviousHash equals the prior
// block's Hash.
type LedgerBlock struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Index         int64     `gorm:"column:block_index;uniqueIndex;not null" json:"index"`
	Timestamp     time.Time `gorm:"not null" json:"timestamp"`
	PreviousHash  string    `gorm:"not null" json:"previous_hash"` // 64 hex chars
	Hash          string    `gorm:"not null" json:"hash"`
	EventCount    int       `json:"event_count"`
	Sealed        bool      `gorm:"default:false" json:"sealed"`
	NodeSignature string    `json:"node_signature,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LedgerEvent is an immutable audit record. The timestamp string is kept
// exactly as hashed so the event id stays recomputable after a round trip.
type LedgerEvent struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	EventID     string    `gorm:"uniqueIndex;not null" json:"event_id"` // evt + 16 hex
	BlockIndex  int64     `gorm:"index;not null" json:"block_index"`
	EventType   EventType `gorm:"index;not null" json:"event_type"`
	Timestamp   string    `gorm:"not null" json:"timestamp"`
	EntityRef   string    `gorm:"index;not null" json:"entity_ref"`
	PayloadHash string    `gorm:"not null" json:"payload_hash"`
	Actor       string    `json:"actor"`
	Signature   string    `json:"signature,omitempty"` // hex ECDSA, optional
	CreatedAt   time.Time `json:"created_at"`
}
