package notify

import (
	"fmt"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
)

// Message builders for swap lifecycle notifications. The service layer
// persists these as Notification rows inside the owning transaction and
// dispatches them after commit.

func NewSwapRequestMessage(swap *models.SwapRequest) string {
	return fmt.Sprintf("New swap request: MWK %s from %s. Reference: %s",
		swap.Amount.StringFixed(2), swap.ClientRef, swap.Reference)
}

func SwapAcceptedMessage(swap *models.SwapRequest, agent *models.Agent) string {
	base := fmt.Sprintf("Agent %s accepted your swap request. Please send MWK %s to their account.",
		agent.Name, swap.Amount.StringFixed(2))

	if details := agent.PaymentDetails(swap.FromService); details != "" {
		return fmt.Sprintf("%s Send to: %s. Ref: %s", base, details, swap.Reference)
	}
	return fmt.Sprintf("%s Reference: %s", base, swap.Reference)
}

func SwapRejectedMessage(swap *models.SwapRequest, agent *models.Agent) string {
	msg := fmt.Sprintf("Agent %s rejected your swap request", agent.Name)
	if swap.RejectReason != "" {
		msg += ". Reason: " + swap.RejectReason
	}
	return msg
}

func ClientProofUploadedMessage(swap *models.SwapRequest) string {
	return fmt.Sprintf("Client uploaded payment proof for swap %s", swap.Reference)
}

func SwapCompletedClientMessage(swap *models.SwapRequest) string {
	return fmt.Sprintf("Swap %s completed! You received MWK %s on your %s.",
		swap.Reference, swap.NetAmount().StringFixed(2), swap.ToService.DisplayName())
}

func SwapCompletedAgentMessage(swap *models.SwapRequest) string {
	return fmt.Sprintf("Swap %s completed! You earned MWK %s in agent fees.",
		swap.Reference, swap.AgentFee.StringFixed(2))
}

func DisputeOpenedMessage(swap *models.SwapRequest, dispute *models.Dispute) string {
	return fmt.Sprintf("Dispute alert: Dispute opened for swap %s. Severity: %s. Reason: %s...",
		swap.Reference, dispute.Severity, truncate(dispute.Reason, 50))
}

func SwapExpiredMessage() string {
	return "Swap request expired - agent didn't respond in time"
}

func SwapCancelledClientMessage() string {
	return "Swap cancelled - payment proof not uploaded in time"
}

func SwapCancelledAgentMessage() string {
	return "Swap cancelled - client didn't upload proof in time"
}

func PendingReminderMessage(swap *models.SwapRequest) string {
	return fmt.Sprintf("Reminder: Pending swap request MWK %s from %s",
		swap.Amount.StringFixed(2), swap.ClientRef)
}

func InvoiceIssuedMessage(invoice *models.AgentInvoice) string {
	return fmt.Sprintf("Invoice %s issued for %d swaps, platform fee MWK %s due by %s",
		invoice.Number, invoice.SwapCount,
		invoice.PlatformFees.StringFixed(2), invoice.DueDate.Format("2006-01-02"))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
