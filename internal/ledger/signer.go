package ledger

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces and verifies ECDSA signatures over ledger events so an
// exported chain can be attributed to this node.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from a hex-encoded private key
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger signing key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signer's public address
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign creates a signature over the event's identifying fields
func (s *Signer) Sign(entityRef, eventType, payloadHash string) (string, error) {
	message := fmt.Sprintf("%s:%s:%s", entityRef, eventType, payloadHash)
	messageHash := crypto.Keccak256Hash([]byte(message))

	signature, err := crypto.Sign(messageHash.Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign event: %w", err)
	}
	return hex.EncodeToString(signature), nil
}

// Verify checks a signature against this signer's address
func (s *Signer) Verify(entityRef, eventType, payloadHash, signature string) (bool, error) {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("malformed signature: %w", err)
	}

	message := fmt.Sprintf("%s:%s:%s", entityRef, eventType, payloadHash)
	messageHash := crypto.Keccak256Hash([]byte(message))

	pubKey, err := crypto.SigToPub(messageHash.Bytes(), sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey) == s.address, nil
}
