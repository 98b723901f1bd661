package mandate

import (
	"strconv"

	"agoranet/core/types"
)

const (
	EventTypeIntentCreated  = "mandate.intent.created"
	EventTypeCartCreated    = "mandate.cart.created"
	EventTypePaymentCreated = "mandate.payment.created"
	EventTypePaymentSettled = "mandate.payment.settled"
	EventTypeChainCompleted = "mandate.chain.completed"
)

// NewIntentCreatedEvent returns the canonical payload for a new intent.
func NewIntentCreatedEvent(m *IntentMandate) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["id"] = m.ID
		attrs["budget"] = types.FormatAmount(m.Budget)
		attrs["token"] = m.Token
		attrs["expiresAt"] = strconv.FormatInt(m.ExpiresAt.Unix(), 10)
	}
	return &types.Event{Type: EventTypeIntentCreated, Attributes: attrs}
}

// NewCartCreatedEvent returns the canonical payload for a new cart.
func NewCartCreatedEvent(m *CartMandate) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["id"] = m.ID
		attrs["intentId"] = m.IntentID
		attrs["provider"] = m.Provider
		attrs["total"] = types.FormatAmount(m.Total)
		attrs["items"] = strconv.Itoa(len(m.Items))
	}
	return &types.Event{Type: EventTypeCartCreated, Attributes: attrs}
}

// NewPaymentCreatedEvent returns the canonical payload for a locked payment.
func NewPaymentCreatedEvent(m *PaymentMandate) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["id"] = m.ID
		attrs["cartId"] = m.CartID
		attrs["escrowId"] = m.EscrowID
		attrs["amount"] = types.FormatAmount(m.Amount)
		attrs["status"] = string(m.Status)
	}
	return &types.Event{Type: EventTypePaymentCreated, Attributes: attrs}
}

// NewPaymentSettledEvent returns the canonical payload for the terminal
// payment transition.
func NewPaymentSettledEvent(m *PaymentMandate) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["id"] = m.ID
		attrs["cartId"] = m.CartID
		attrs["status"] = string(m.Status)
		if m.SettlementRef != "" {
			attrs["settlementRef"] = m.SettlementRef
		}
	}
	return &types.Event{Type: EventTypePaymentSettled, Attributes: attrs}
}

// NewChainCompletedEvent returns the canonical payload for the completion
// write.
func NewChainCompletedEvent(outcome ChainOutcome, carts, payments int) *types.Event {
	return &types.Event{
		Type: EventTypeChainCompleted,
		Attributes: map[string]string{
			"outcome":  string(outcome),
			"carts":    strconv.Itoa(carts),
			"payments": strconv.Itoa(payments),
		},
	}
}
