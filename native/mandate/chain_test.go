package mandate

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

func newTestChain() *Chain {
	chain := NewChain()
	base := time.Unix(1_700_000_000, 0)
	chain.SetNowFunc(func() time.Time { return base })
	seq := 0
	chain.SetIDFunc(func() string {
		seq++
		return fmt.Sprintf("mandate-%d", seq)
	})
	return chain
}

func TestCreateIntentOncePerChain(t *testing.T) {
	chain := newTestChain()
	intent, err := chain.CreateIntent("market research", big.NewInt(10_000), "USDC", time.Hour)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ExpiresAt.Sub(intent.CreatedAt) != time.Hour {
		t.Fatal("expiry must derive from ttl")
	}
	if _, err := chain.CreateIntent("second", big.NewInt(1), "USDC", time.Hour); !errors.Is(err, ErrIntentExists) {
		t.Fatalf("expected ErrIntentExists, got %v", err)
	}
}

func TestCreateCartRequiresIntent(t *testing.T) {
	chain := newTestChain()
	if _, err := chain.CreateCart("missing", "alpha", nil, "https://alpha"); !errors.Is(err, ErrNoIntent) {
		t.Fatalf("expected ErrNoIntent, got %v", err)
	}
	intent, err := chain.CreateIntent("q", big.NewInt(100), "USDC", time.Hour)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := chain.CreateCart("wrong-id", "alpha", nil, "https://alpha"); !errors.Is(err, ErrNoIntent) {
		t.Fatalf("expected ErrNoIntent for wrong parent, got %v", err)
	}
	cart, err := chain.CreateCart(intent.ID, "alpha", []LineItem{
		{Service: "analysis", Price: big.NewInt(40)},
		{Service: "report", Price: big.NewInt(60)},
	}, "https://alpha")
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if cart.IntentID != intent.ID {
		t.Fatal("cart must reference the chain intent")
	}
	if cart.Total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("cart total = %s", cart.Total)
	}
}

func TestCreatePaymentRequiresCart(t *testing.T) {
	chain := newTestChain()
	intent, _ := chain.CreateIntent("q", big.NewInt(100), "USDC", time.Hour)
	if _, err := chain.CreatePayment("missing", "escrow-1", big.NewInt(100)); !errors.Is(err, ErrNoCart) {
		t.Fatalf("expected ErrNoCart, got %v", err)
	}
	cart, _ := chain.CreateCart(intent.ID, "alpha", nil, "https://alpha")
	payment, err := chain.CreatePayment(cart.ID, "escrow-1", big.NewInt(100))
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if payment.Status != PaymentLocked {
		t.Fatalf("payment status = %s, want locked", payment.Status)
	}
}

func TestSettlePaymentTransitionsExactlyOnce(t *testing.T) {
	chain := newTestChain()
	intent, _ := chain.CreateIntent("q", big.NewInt(100), "USDC", time.Hour)
	cart, _ := chain.CreateCart(intent.ID, "alpha", nil, "https://alpha")
	payment, _ := chain.CreatePayment(cart.ID, "escrow-1", big.NewInt(100))

	if !chain.SettlePayment(payment.ID, PaymentReleased, "tx-1") {
		t.Fatal("first settlement must apply")
	}
	if chain.SettlePayment(payment.ID, PaymentRefunded, "tx-2") {
		t.Fatal("second settlement must be a no-op")
	}
	got := chain.Payments()[0]
	if got.Status != PaymentReleased || got.SettlementRef != "tx-1" {
		t.Fatalf("payment = %+v", got)
	}
	// Unknown ids are tolerated bookkeeping no-ops.
	if chain.SettlePayment("unknown", PaymentReleased, "tx-3") {
		t.Fatal("unknown payment id must be a no-op")
	}
	// Non-terminal target statuses are rejected.
	if chain.SettlePayment(payment.ID, PaymentLocked, "tx-4") {
		t.Fatal("locked is not a terminal status")
	}
}

func TestCompleteGuards(t *testing.T) {
	chain := newTestChain()
	intent, _ := chain.CreateIntent("q", big.NewInt(100), "USDC", time.Hour)
	cart, _ := chain.CreateCart(intent.ID, "alpha", nil, "https://alpha")
	payment, _ := chain.CreatePayment(cart.ID, "escrow-1", big.NewInt(100))

	if err := chain.Complete(OutcomeSuccess); !errors.Is(err, ErrPaymentsOpen) {
		t.Fatalf("expected ErrPaymentsOpen, got %v", err)
	}
	chain.SettlePayment(payment.ID, PaymentReleased, "tx-1")
	if err := chain.Complete("bogus"); err == nil {
		t.Fatal("expected invalid outcome to fail")
	}
	if err := chain.Complete(OutcomeSuccess); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := chain.Complete(OutcomeFailure); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("expected ErrAlreadyComplete, got %v", err)
	}
	if chain.Outcome() != OutcomeSuccess {
		t.Fatalf("outcome = %s", chain.Outcome())
	}
}

func TestSnapshotReferentialIntegrity(t *testing.T) {
	chain := newTestChain()
	intent, _ := chain.CreateIntent("q", big.NewInt(300), "USDC", time.Hour)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		cart, err := chain.CreateCart(intent.ID, name, []LineItem{{Service: "analysis", Price: big.NewInt(100)}}, "https://"+name)
		if err != nil {
			t.Fatalf("create cart: %v", err)
		}
		if _, err := chain.CreatePayment(cart.ID, "escrow-"+name, big.NewInt(100)); err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	snap := chain.Snapshot()
	carts := make(map[string]struct{})
	for _, cart := range snap.Carts {
		if cart.IntentID != snap.Intent.ID {
			t.Fatalf("cart %s references unknown intent %s", cart.ID, cart.IntentID)
		}
		carts[cart.ID] = struct{}{}
	}
	for _, payment := range snap.Payments {
		if _, ok := carts[payment.CartID]; !ok {
			t.Fatalf("payment %s references unknown cart %s", payment.ID, payment.CartID)
		}
	}
	// Snapshot is a deep copy.
	snap.Payments[0].Status = PaymentReleased
	if chain.Payments()[0].Status != PaymentLocked {
		t.Fatal("snapshot mutation leaked into the chain")
	}
}
