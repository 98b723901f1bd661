package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type mockState struct {
	mu      sync.Mutex
	escrows map[[32]byte]*Escrow
}

func newMockState() *mockState {
	return &mockState{escrows: make(map[[32]byte]*Escrow)}
}

func (s *mockState) EscrowPut(esc *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows[esc.ID] = esc.Clone()
	return nil
}

func (s *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

type mockLedger struct {
	mu          sync.Mutex
	seq         int
	settleCalls map[[32]byte]int
	settleErr   error
}

func newMockLedger() *mockLedger {
	return &mockLedger{settleCalls: make(map[[32]byte]int)}
}

func (l *mockLedger) ref(kind string) string {
	l.seq++
	return fmt.Sprintf("tx-%s-%d", kind, l.seq)
}

func (l *mockLedger) CreateEscrow(context.Context, *Escrow) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ref("create"), nil
}

func (l *mockLedger) SubmitDelivery(context.Context, [32]byte, [32]byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ref("delivery"), nil
}

func (l *mockLedger) Settle(_ context.Context, id [32]byte, _ bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settleErr != nil {
		return "", l.settleErr
	}
	l.settleCalls[id]++
	return l.ref("settle"), nil
}

func newTestEngine(t *testing.T) (*Engine, *mockLedger) {
	t.Helper()
	eng := NewEngine("buyer-1")
	eng.SetState(newMockState())
	ledger := newMockLedger()
	eng.SetLedger(ledger)
	now := int64(1_000)
	eng.SetNowFunc(func() int64 { return now })
	return eng, ledger
}

func testHash(seed string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(seed))
}

func TestCreateAndSettlePaid(t *testing.T) {
	eng, ledger := newTestEngine(t)
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Status != StatusCreated {
		t.Fatalf("status = %s", esc.Status)
	}
	if esc.TxRef == "" {
		t.Fatal("expected ledger tx reference")
	}
	delivery := testHash("delivery")
	if err := eng.SubmitDelivery(context.Background(), esc.ID, delivery); err != nil {
		t.Fatalf("submit delivery: %v", err)
	}
	ref, err := eng.Settle(context.Background(), esc.ID, true, delivery)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if ref == "" {
		t.Fatal("expected settlement reference")
	}
	settled, err := eng.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if settled.Status != StatusSettled {
		t.Fatalf("status = %s, want settled", settled.Status)
	}
	if ledger.settleCalls[esc.ID] != 1 {
		t.Fatalf("ledger settle calls = %d", ledger.settleCalls[esc.ID])
	}
}

func TestSettleTwiceFails(t *testing.T) {
	eng, ledger := newTestEngine(t)
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	delivery := testHash("delivery")
	if err := eng.SubmitDelivery(context.Background(), esc.ID, delivery); err != nil {
		t.Fatalf("submit delivery: %v", err)
	}
	if _, err := eng.Settle(context.Background(), esc.ID, true, delivery); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := eng.Settle(context.Background(), esc.ID, false, delivery); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if ledger.settleCalls[esc.ID] != 1 {
		t.Fatalf("funds moved %d times", ledger.settleCalls[esc.ID])
	}
}

func TestSettleMismatchDegradesToRefund(t *testing.T) {
	eng, _ := newTestEngine(t)
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.SubmitDelivery(context.Background(), esc.ID, testHash("delivery")); err != nil {
		t.Fatalf("submit delivery: %v", err)
	}
	if _, err := eng.Settle(context.Background(), esc.ID, true, testHash("tampered")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	settled, err := eng.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if settled.Status != StatusRefunded {
		t.Fatalf("status = %s, want refunded", settled.Status)
	}
}

func TestSettleRequiresSubmittedResponse(t *testing.T) {
	eng, _ := newTestEngine(t)
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.Settle(context.Background(), esc.ID, true, testHash("delivery")); err == nil {
		t.Fatal("expected settle to fail before delivery submission")
	}
}

func TestClaimRefundPastDeadline(t *testing.T) {
	eng, _ := newTestEngine(t)
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.ClaimRefund(context.Background(), esc.ID, 1_500); err == nil {
		t.Fatal("expected refund before deadline to fail")
	}
	if err := eng.ClaimRefund(context.Background(), esc.ID, 2_500); err != nil {
		t.Fatalf("claim refund: %v", err)
	}
	refunded, err := eng.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	// Terminal escrows tolerate repeated refund claims.
	if err := eng.ClaimRefund(context.Background(), esc.ID, 3_000); err != nil {
		t.Fatalf("idempotent claim refund: %v", err)
	}
}

func TestEmergencyRefundRequiresGrace(t *testing.T) {
	eng, _ := newTestEngine(t)
	// Created at 1000 with deadline 2000: window is 1000, grace ends at 5000.
	esc, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.EmergencyRefund(context.Background(), esc.ID, 4_999); err == nil {
		t.Fatal("expected emergency refund before grace to fail")
	}
	if err := eng.EmergencyRefund(context.Background(), esc.ID, 5_000); err != nil {
		t.Fatalf("emergency refund: %v", err)
	}
	refunded, err := eng.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	if err := eng.EmergencyRefund(context.Background(), esc.ID, 6_000); err != nil {
		t.Fatalf("idempotent emergency refund: %v", err)
	}
}

func TestEncryptedCreateRoutesThroughCommitHook(t *testing.T) {
	eng, _ := newTestEngine(t)
	var committed [][]byte
	eng.SetCommitFunc(func(_ context.Context, payload []byte) (string, error) {
		committed = append(committed, payload)
		return "commit-ref-1", nil
	})
	if _, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(committed) != 1 {
		t.Fatalf("commit hook invoked %d times, want 1", len(committed))
	}
}

func TestEncryptedCreateFailsWithoutHook(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.Create(context.Background(), "provider-a", "USDC", big.NewInt(100), 2_000, testHash("req"), true); err == nil {
		t.Fatal("expected encrypted create without hook to fail")
	}
}

func TestCreateValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.Create(context.Background(), "p", "USDC", big.NewInt(0), 2_000, testHash("req"), false); err == nil {
		t.Fatal("expected zero amount to fail")
	}
	if _, err := eng.Create(context.Background(), "p", "USDC", big.NewInt(10), 500, testHash("req"), false); err == nil {
		t.Fatal("expected past deadline to fail")
	}
	if _, err := eng.Create(context.Background(), "p", "DOGE", big.NewInt(10), 2_000, testHash("req"), false); err == nil {
		t.Fatal("expected unsupported token to fail")
	}
}
