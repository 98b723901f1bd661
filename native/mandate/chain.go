package mandate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agoranet/core/events"
	"agoranet/core/types"
)

var (
	// ErrNoIntent is returned when a cart is created before an intent
	// exists, or against an unknown intent id.
	ErrNoIntent = errors.New("mandate chain: no matching intent")
	// ErrNoCart is returned when a payment references an unknown cart.
	ErrNoCart = errors.New("mandate chain: no matching cart")
	// ErrIntentExists guards the one-intent-per-chain invariant.
	ErrIntentExists = errors.New("mandate chain: intent already created")
	// ErrAlreadyComplete guards the at-most-one completion write.
	ErrAlreadyComplete = errors.New("mandate chain: outcome already set")
	// ErrPaymentsOpen rejects completion while a payment is still locked.
	ErrPaymentsOpen = errors.New("mandate chain: payments still locked")
)

type chainEvent struct {
	evt *types.Event
}

func (e chainEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e chainEvent) Event() *types.Event { return e.evt }

// Chain is the append-only, causally-linked record of Intent -> Cart ->
// Payment mandates for one procurement run. No mandate is ever deleted or
// mutated except the single permitted status transition on a payment and the
// single completion write on the chain itself.
type Chain struct {
	mu          sync.Mutex
	intent      *IntentMandate
	carts       []*CartMandate
	payments    []*PaymentMandate
	outcome     ChainOutcome
	completedAt time.Time
	emitter     events.Emitter
	nowFn       func() time.Time
	idFn        func() string
}

// NewChain constructs an empty mandate chain with a no-op emitter.
func NewChain() *Chain {
	return &Chain{
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		idFn:    func() string { return uuid.NewString() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to no-op.
func (c *Chain) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (c *Chain) SetNowFunc(now func() time.Time) {
	if now == nil {
		c.nowFn = time.Now
		return
	}
	c.nowFn = now
}

// SetIDFunc overrides mandate id generation, primarily for deterministic
// tests.
func (c *Chain) SetIDFunc(fn func() string) {
	if fn == nil {
		c.idFn = func() string { return uuid.NewString() }
		return
	}
	c.idFn = fn
}

func (c *Chain) emit(evt *types.Event) {
	if c == nil || c.emitter == nil || evt == nil {
		return
	}
	c.emitter.Emit(chainEvent{evt: evt})
}

// CreateIntent records the root mandate. A chain carries exactly one intent;
// a second call fails.
func (c *Chain) CreateIntent(description string, budget *big.Int, token string, ttl time.Duration) (*IntentMandate, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("mandate chain: description required")
	}
	normalizedToken, err := types.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, fmt.Errorf("mandate chain: budget must be positive")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("mandate chain: ttl must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent != nil {
		return nil, ErrIntentExists
	}
	now := c.nowFn()
	intent := &IntentMandate{
		ID:          c.idFn(),
		Description: description,
		Budget:      new(big.Int).Set(budget),
		Token:       normalizedToken,
		TTL:         ttl,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	c.intent = intent
	c.emit(NewIntentCreatedEvent(intent))
	return cloneIntent(intent), nil
}

// CreateCart records the agreement-to-purchase with one provider, parented to
// the chain's intent.
func (c *Chain) CreateCart(intentID, provider string, items []LineItem, endpoint string) (*CartMandate, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, fmt.Errorf("mandate chain: provider required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == nil || c.intent.ID != intentID {
		return nil, ErrNoIntent
	}
	total := big.NewInt(0)
	cartItems := make([]LineItem, len(items))
	for i, item := range items {
		price := big.NewInt(0)
		if item.Price != nil {
			if item.Price.Sign() < 0 {
				return nil, fmt.Errorf("mandate chain: negative line item price")
			}
			price = new(big.Int).Set(item.Price)
		}
		cartItems[i] = LineItem{Service: item.Service, Price: price}
		total.Add(total, price)
	}
	cart := &CartMandate{
		ID:        c.idFn(),
		IntentID:  intentID,
		Provider:  provider,
		Items:     cartItems,
		Total:     total,
		Endpoint:  endpoint,
		CreatedAt: c.nowFn(),
	}
	c.carts = append(c.carts, cart)
	c.emit(NewCartCreatedEvent(cart))
	return cloneCart(cart), nil
}

// CreatePayment records the locked conditional payment backing a cart.
func (c *Chain) CreatePayment(cartID, escrowID string, amount *big.Int) (*PaymentMandate, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("mandate chain: payment amount must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findCart(cartID) == nil {
		return nil, ErrNoCart
	}
	payment := &PaymentMandate{
		ID:        c.idFn(),
		CartID:    cartID,
		EscrowID:  escrowID,
		Amount:    new(big.Int).Set(amount),
		Status:    PaymentLocked,
		CreatedAt: c.nowFn(),
	}
	c.payments = append(c.payments, payment)
	c.emit(NewPaymentCreatedEvent(payment))
	return clonePayment(payment), nil
}

// SettlePayment applies the single permitted status transition. Unknown ids
// and already-terminal payments are tolerated no-ops (returning false): the
// mandate chain is best-effort bookkeeping, not the settlement source of
// truth.
func (c *Chain) SettlePayment(paymentID string, status PaymentStatus, settlementRef string) bool {
	if !status.Terminal() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, payment := range c.payments {
		if payment.ID != paymentID {
			continue
		}
		if payment.Status.Terminal() {
			return false
		}
		payment.Status = status
		payment.SettlementRef = settlementRef
		payment.SettledAt = c.nowFn()
		c.emit(NewPaymentSettledEvent(payment))
		return true
	}
	return false
}

// AnnotateRealizedCost records the realized purchase cost on a payment. A
// best-effort annotation; unknown ids are ignored.
func (c *Chain) AnnotateRealizedCost(paymentID, cost string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, payment := range c.payments {
		if payment.ID == paymentID {
			payment.RealizedCost = cost
			return
		}
	}
}

// Complete writes the chain outcome, at most once, and only after every
// payment reached a terminal status.
func (c *Chain) Complete(outcome ChainOutcome) error {
	switch outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeExpired:
	default:
		return fmt.Errorf("mandate chain: invalid outcome %q", outcome)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome != "" {
		return ErrAlreadyComplete
	}
	for _, payment := range c.payments {
		if !payment.Status.Terminal() {
			return fmt.Errorf("%w: payment %s", ErrPaymentsOpen, payment.ID)
		}
	}
	c.outcome = outcome
	c.completedAt = c.nowFn()
	c.emit(NewChainCompletedEvent(outcome, len(c.carts), len(c.payments)))
	return nil
}

func (c *Chain) findCart(id string) *CartMandate {
	for _, cart := range c.carts {
		if cart.ID == id {
			return cart
		}
	}
	return nil
}

// Intent returns a copy of the chain's root mandate, or nil.
func (c *Chain) Intent() *IntentMandate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneIntent(c.intent)
}

// Carts returns copies of all cart mandates in creation order.
func (c *Chain) Carts() []*CartMandate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CartMandate, len(c.carts))
	for i, cart := range c.carts {
		out[i] = cloneCart(cart)
	}
	return out
}

// Payments returns copies of all payment mandates in creation order.
func (c *Chain) Payments() []*PaymentMandate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PaymentMandate, len(c.payments))
	for i, payment := range c.payments {
		out[i] = clonePayment(payment)
	}
	return out
}

// Outcome returns the terminal disposition, empty while the chain is open.
func (c *Chain) Outcome() ChainOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Snapshot returns a deep copy of the entire chain.
func (c *Chain) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &Snapshot{
		Intent:      cloneIntent(c.intent),
		Carts:       make([]*CartMandate, len(c.carts)),
		Payments:    make([]*PaymentMandate, len(c.payments)),
		Outcome:     c.outcome,
		CompletedAt: c.completedAt,
	}
	for i, cart := range c.carts {
		snap.Carts[i] = cloneCart(cart)
	}
	for i, payment := range c.payments {
		snap.Payments[i] = clonePayment(payment)
	}
	return snap
}
