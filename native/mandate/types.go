package mandate

import (
	"math/big"
	"time"
)

// PaymentStatus tracks the single permitted transition on a payment mandate.
type PaymentStatus string

const (
	PaymentLocked   PaymentStatus = "locked"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentReleased || s == PaymentRefunded
}

// ChainOutcome is the terminal disposition of a whole mandate chain.
type ChainOutcome string

const (
	OutcomeSuccess ChainOutcome = "success"
	OutcomeFailure ChainOutcome = "failure"
	OutcomeExpired ChainOutcome = "expired"
)

// LineItem is one priced service inside a cart mandate.
type LineItem struct {
	Service string   `json:"service"`
	Price   *big.Int `json:"price"`
}

// IntentMandate is the root of the accountability chain: the buyer's
// recorded intention to procure work under a budget. Immutable once created.
type IntentMandate struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Budget      *big.Int      `json:"budget"`
	Token       string        `json:"token"`
	TTL         time.Duration `json:"ttl"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// CartMandate records the agreement-to-purchase with one provider. Immutable
// once created; parent is the chain's intent.
type CartMandate struct {
	ID        string     `json:"id"`
	IntentID  string     `json:"intentId"`
	Provider  string     `json:"provider"`
	Items     []LineItem `json:"items"`
	Total     *big.Int   `json:"total"`
	Endpoint  string     `json:"endpoint"`
	CreatedAt time.Time  `json:"createdAt"`
}

// PaymentMandate records the conditional payment backing one cart. The only
// permitted mutation is the locked -> released|refunded transition.
type PaymentMandate struct {
	ID            string        `json:"id"`
	CartID        string        `json:"cartId"`
	EscrowID      string        `json:"escrowId"`
	Amount        *big.Int      `json:"amount"`
	Status        PaymentStatus `json:"status"`
	SettlementRef string        `json:"settlementRef,omitempty"`
	RealizedCost  string        `json:"realizedCost,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	SettledAt     time.Time     `json:"settledAt,omitempty"`
}

// Snapshot is a deep copy of a completed (or in-flight) chain, consumed by
// receipt assembly and the audit archive.
type Snapshot struct {
	Intent      *IntentMandate    `json:"intent"`
	Carts       []*CartMandate    `json:"carts"`
	Payments    []*PaymentMandate `json:"payments"`
	Outcome     ChainOutcome      `json:"outcome,omitempty"`
	CompletedAt time.Time         `json:"completedAt,omitempty"`
}

func cloneIntent(m *IntentMandate) *IntentMandate {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Budget != nil {
		clone.Budget = new(big.Int).Set(m.Budget)
	}
	return &clone
}

func cloneCart(m *CartMandate) *CartMandate {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Total != nil {
		clone.Total = new(big.Int).Set(m.Total)
	}
	clone.Items = make([]LineItem, len(m.Items))
	for i, item := range m.Items {
		clone.Items[i] = LineItem{Service: item.Service}
		if item.Price != nil {
			clone.Items[i].Price = new(big.Int).Set(item.Price)
		}
	}
	return &clone
}

func clonePayment(m *PaymentMandate) *PaymentMandate {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}
