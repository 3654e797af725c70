package proof

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// Confidence levels by extraction quality
const (
	TemplateConfidence = 0.9 // full provider template match
	FallbackConfidence = 0.3 // bare amount only
)

// ProviderUnknown marks extractions that matched no provider template.
const ProviderUnknown = "unknown"

// TextExtractor turns a proof image into text, typically via OCR.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// ExtractionResult is the structured outcome of parsing one proof.
type ExtractionResult struct {
	Amount     decimal.NullDecimal `json:"amount"`
	Reference  string              `json:"reference,omitempty"`
	TxID       string              `json:"txid,omitempty"`
	Account    string              `json:"account,omitempty"`
	Confidence float64             `json:"confidence"`
	Provider   string              `json:"provider,omitempty"`
}

// ValidationResult reports how well a proof matches its swap.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// template binds one provider SMS shape to its capture groups. A zero
// group index means the template does not capture that field.
type template struct {
	provider string
	re       *regexp.Regexp
	amount   int
	account  int
	ref      int
}

// Provider templates, tried in order against uppercased input.
// mo626 is National Bank's SMS service.
var templates = []template{
	{"mo626", regexp.MustCompile(`RECEIVED MWK\s*([\d,]+\.\d{2})\s*FROM\s*(.+?)\.\s*REF:\s*(\w+)`), 1, 2, 3},
	{"mo626", regexp.MustCompile(`DEPOSITED MWK\s*([\d,]+\.\d{2})\s*INTO YOUR ACCOUNT\.\s*REF:\s*(\w+)`), 1, 0, 2},
	{"mo626", regexp.MustCompile(`TRANSACTION:\s*MWK\s*([\d,]+\.\d{2})\s*REF:\s*(\w+)\s*FROM\s*(.+)`), 1, 3, 2},
	{"tnm", regexp.MustCompile(`RECEIVED K\s*([\d,]+\.\d{2})\s*FROM\s*(\d+)\.\s*TXN ID:\s*(\w+)`), 1, 2, 3},
	{"tnm", regexp.MustCompile(`SENT K\s*([\d,]+\.\d{2})\s*TO\s*(\d+)\.\s*TXN ID:\s*(\w+)`), 1, 2, 3},
	{"airtel", regexp.MustCompile(`RECEIVED\s*([\d,]+\.\d{2})\s*FROM\s*(\d+)\.\s*REF:\s*(\w+)`), 1, 2, 3},
	{"airtel", regexp.MustCompile(`SENT\s*([\d,]+\.\d{2})\s*TO\s*(\d+)\.\s*REF:\s*(\w+)`), 1, 2, 3},
	{"standard_bank", regexp.MustCompile(`CREDIT\s*MWK\s*([\d,]+\.\d{2})\s*FROM\s*(.+?)\s*REF:\s*(\w+)`), 1, 2, 3},
	{"standard_bank", regexp.MustCompile(`DEPOSIT\s*MWK\s*([\d,]+\.\d{2})\s*REF:\s*(\w+)`), 1, 0, 2},
}

// Mobile money providers carry the transaction id in the reference slot
var mobileProviders = map[string]bool{
	"tnm":    true,
	"airtel": true,
}

// Fallback amount patterns when no template matches
var (
	fallbackMWK = regexp.MustCompile(`MWK\s*([\d,]+\.\d{2})`)
	fallbackK   = regexp.MustCompile(`K\s*([\d,]+\.\d{2})`)
)

// Parser extracts transaction details from SMS text and proof images
type Parser struct {
	extractor TextExtractor
}

// NewParser creates a proof parser. The extractor may be nil when image
// proofs are not supported.
func NewParser(extractor TextExtractor) *Parser {
	return &Parser{extractor: extractor}
}

// ParseText extracts transaction details from free-form SMS text.
// A provider template match yields confidence 0.9, a bare amount 0.3,
// nothing extractable 0.0.
func (p *Parser) ParseText(text string) ExtractionResult {
	text = strings.ToUpper(strings.TrimSpace(text))

	for _, tpl := range templates {
		match := tpl.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		amount, err := parseAmount(match[tpl.amount])
		if err != nil {
			continue
		}

		result := ExtractionResult{
			Amount:     decimal.NullDecimal{Decimal: amount, Valid: true},
			Reference:  match[tpl.ref],
			Confidence: TemplateConfidence,
			Provider:   tpl.provider,
		}
		if tpl.account != 0 {
			result.Account = match[tpl.account]
		}
		if mobileProviders[tpl.provider] {
			result.TxID = result.Reference
		}
		return result
	}

	// No template matched, try to salvage just the amount
	match := fallbackMWK.FindStringSubmatch(text)
	if match == nil {
		match = fallbackK.FindStringSubmatch(text)
	}
	if match != nil {
		if amount, err := parseAmount(match[1]); err == nil {
			return ExtractionResult{
				Amount:     decimal.NullDecimal{Decimal: amount, Valid: true},
				Confidence: FallbackConfidence,
				Provider:   ProviderUnknown,
			}
		}
	}

	return ExtractionResult{}
}

// ParseImage runs OCR on an image and parses the recovered text.
// Extraction failures degrade to a zero-confidence result, never an error.
func (p *Parser) ParseImage(ctx context.Context, image []byte) ExtractionResult {
	if p.extractor == nil {
		logger.Warn("Image proof received but no text extractor configured")
		return ExtractionResult{}
	}

	text, err := p.extractor.ExtractText(ctx, image)
	if err != nil {
		logger.Error("OCR extraction failed", zap.Error(err))
		return ExtractionResult{}
	}

	return p.ParseText(text)
}

// ValidateProof compares a stored proof against its swap. Warnings never
// block acceptance, the proof is valid iff there are no errors.
func (p *Parser) ValidateProof(proof *models.ProofSubmission, swap *models.SwapRequest) ValidationResult {
	errors := []string{}
	warnings := []string{}

	if proof.ExtractedAmount.Valid {
		extracted := proof.ExtractedAmount.Decimal
		if !extracted.Equal(swap.Amount) {
			diff := extracted.Sub(swap.Amount).Abs()
			if diff.LessThanOrEqual(decimal.NewFromInt(1)) {
				warnings = append(warnings, fmt.Sprintf(
					"Small amount difference: proof shows %s, swap is %s", extracted, swap.Amount))
			} else {
				errors = append(errors, fmt.Sprintf(
					"Amount mismatch: proof shows %s, swap is %s", extracted, swap.Amount))
			}
		}
	} else {
		warnings = append(warnings, "Could not extract amount from proof")
	}

	// OCR noise makes bank reference mismatches advisory only
	if swap.FromService.IsBank() &&
		proof.ExtractedReference != "" &&
		proof.ExtractedReference != swap.Reference {
		warnings = append(warnings, fmt.Sprintf(
			"Reference mismatch: proof shows %s, swap reference is %s",
			proof.ExtractedReference, swap.Reference))
	}

	if proof.Confidence < 0.5 {
		warnings = append(warnings, fmt.Sprintf("Low confidence in proof parsing: %.2f", proof.Confidence))
	} else if proof.Confidence < 0.8 {
		warnings = append(warnings, fmt.Sprintf("Moderate confidence in proof parsing: %.2f", proof.Confidence))
	}

	return ValidationResult{
		IsValid:  len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
}
