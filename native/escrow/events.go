package escrow

import (
	"encoding/hex"
	"strconv"

	"agoranet/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowDelivery  = "escrow.delivery_submitted"
	EventTypeEscrowSettled   = "escrow.settled"
	EventTypeEscrowRefunded  = "escrow.refunded"
	EventTypeEscrowEncrypted = "escrow.encrypting"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCreated, e)
	if e != nil && e.Encrypted {
		evt.Attributes["encrypted"] = "true"
	}
	return evt
}

// NewDeliveryEvent returns the event payload emitted when the delivery proof
// is recorded against an escrow.
func NewDeliveryEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDelivery, e)
	if e != nil {
		evt.Attributes["deliveryHash"] = hex.EncodeToString(e.DeliveryHash[:])
	}
	return evt
}

// NewSettledEvent returns the event payload for a terminal settlement, using
// the settled or refunded type depending on the outcome.
func NewSettledEvent(e *Escrow, paid bool) *types.Event {
	eventType := EventTypeEscrowRefunded
	if paid {
		eventType = EventTypeEscrowSettled
	}
	evt := newEscrowEvent(eventType, e)
	if e != nil && e.SettlementRef != "" {
		evt.Attributes["settlementRef"] = e.SettlementRef
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["buyer"] = sanitized.Buyer
	attrs["seller"] = sanitized.Seller
	attrs["token"] = sanitized.Token
	attrs["amount"] = sanitized.Amount.String()
	attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	attrs["status"] = sanitized.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
