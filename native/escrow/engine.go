package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agoranet/core/events"
	"agoranet/core/types"
)

var (
	// ErrAlreadySettled guards the at-most-one-settlement invariant. It is
	// returned when settle is invoked on a terminal escrow.
	ErrAlreadySettled = errors.New("escrow engine: already settled")
	// ErrNotFound is returned when the escrow id is unknown.
	ErrNotFound = errors.New("escrow engine: escrow not found")

	errNilState        = errors.New("escrow engine: state not configured")
	errNilLedger       = errors.New("escrow engine: ledger not configured")
	errNotSubmitted    = errors.New("escrow engine: settlement requires a submitted response")
	errDeliveryIllegal = errors.New("escrow engine: delivery only accepted on created escrows")
)

// emergencyGraceMultiple is the number of deadline windows that must elapse
// beyond the deadline itself before an administrative refund is allowed.
const emergencyGraceMultiple = 3

// Ledger is the external contract-execution primitive. Its settlement
// semantics (atomicity, fund custody) are outside this package; the engine
// only relies on each call returning an opaque transaction reference.
type Ledger interface {
	CreateEscrow(ctx context.Context, esc *Escrow) (string, error)
	SubmitDelivery(ctx context.Context, id [32]byte, deliveryHash [32]byte) (string, error)
	Settle(ctx context.Context, id [32]byte, pay bool) (string, error)
}

// CommitFunc routes an escrow-creation payload through the commitment layer
// when the encryption policy selects the escrow checkpoint. The mechanism
// guarantees confidentiality of the call; no round-trip verification is
// required on this path.
type CommitFunc func(ctx context.Context, payload []byte) (string, error)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the conditional-payment logic with external state, the ledger
// primitive and event emission. One engine serves one run; escrow ids are
// derived from run-scoped inputs so no two runs mutate the same escrow.
type Engine struct {
	state      engineState
	ledger     Ledger
	emitter    events.Emitter
	commitFn   CommitFunc
	buyer      string
	nowFn      func() int64
	nonceSeq   uint64
	deadlineBy time.Duration
}

// NewEngine creates an escrow engine for the given buyer identity with a
// no-op emitter. Callers can override collaborators via the setters.
func NewEngine(buyer string) *Engine {
	return &Engine{
		buyer:   buyer,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the external ledger primitive.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetCommitFunc configures the commitment-layer hook used for encrypted
// escrow creation. Passing nil disables the encrypted path.
func (e *Engine) SetCommitFunc(fn CommitFunc) { e.commitFn = fn }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Create initialises and persists a new escrow against the seller. When
// encrypted is true the creation payload is routed through the commitment
// layer before the ledger call.
func (e *Engine) Create(ctx context.Context, seller, token string, amount *big.Int, deadline int64, requestHash [32]byte, encrypted bool) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	normalizedToken, err := types.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	now := e.now()
	if deadline <= now {
		return nil, fmt.Errorf("escrow: deadline before creation time")
	}
	e.nonceSeq++
	nonce := big.NewInt(int64(e.nonceSeq)).Bytes()
	id := ethcrypto.Keccak256Hash([]byte(e.buyer), []byte(seller), requestHash[:], nonce)
	esc := &Escrow{
		ID:          id,
		Buyer:       e.buyer,
		Seller:      seller,
		Token:       normalizedToken,
		Amount:      amt,
		Deadline:    deadline,
		CreatedAt:   now,
		RequestHash: requestHash,
		Status:      StatusCreated,
		Encrypted:   encrypted,
	}
	if encrypted {
		if e.commitFn == nil {
			return nil, fmt.Errorf("escrow: encrypted creation requested without commitment hook")
		}
		payload, err := json.Marshal(creationPayload(esc))
		if err != nil {
			return nil, fmt.Errorf("escrow: encode creation payload: %w", err)
		}
		if _, err := e.commitFn(ctx, payload); err != nil {
			return nil, fmt.Errorf("escrow: commit creation payload: %w", err)
		}
	}
	txRef, err := e.ledger.CreateEscrow(ctx, esc.Clone())
	if err != nil {
		return nil, fmt.Errorf("escrow: ledger create: %w", err)
	}
	esc.TxRef = txRef
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

func creationPayload(esc *Escrow) map[string]string {
	return map[string]string{
		"buyer":       esc.Buyer,
		"seller":      esc.Seller,
		"token":       esc.Token,
		"amount":      esc.Amount.String(),
		"deadline":    big.NewInt(esc.Deadline).String(),
		"requestHash": fmt.Sprintf("%x", esc.RequestHash),
	}
}

// SubmitDelivery records the delivery proof hash against the escrow. Legal
// only while the escrow is still in the created state.
func (e *Engine) SubmitDelivery(ctx context.Context, id [32]byte, deliveryHash [32]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusCreated {
		return fmt.Errorf("%w: status %s", errDeliveryIllegal, esc.Status)
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if _, err := e.ledger.SubmitDelivery(ctx, id, deliveryHash); err != nil {
		return fmt.Errorf("escrow: ledger delivery: %w", err)
	}
	esc.DeliveryHash = deliveryHash
	esc.Status = StatusResponseSubmitted
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDeliveryEvent(esc))
	return nil
}

// Settle resolves the escrow to paid or refunded, exactly once. Paying
// requires the verify hash to match the submitted delivery proof; a mismatch
// degrades to a refund because tampering is an expected adversarial outcome,
// not a programming error.
func (e *Engine) Settle(ctx context.Context, id [32]byte, pay bool, verifyHash [32]byte) (string, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return "", err
	}
	if esc.Status.Terminal() {
		return "", fmt.Errorf("%w: escrow %x", ErrAlreadySettled, id[:8])
	}
	if esc.Status != StatusResponseSubmitted {
		return "", fmt.Errorf("%w: status %s", errNotSubmitted, esc.Status)
	}
	if e.ledger == nil {
		return "", errNilLedger
	}
	if pay && esc.DeliveryHash != verifyHash {
		pay = false
	}
	ref, err := e.ledger.Settle(ctx, id, pay)
	if err != nil {
		return "", fmt.Errorf("escrow: ledger settle: %w", err)
	}
	esc.SettlementRef = ref
	if pay {
		esc.Status = StatusSettled
	} else {
		esc.Status = StatusRefunded
	}
	if err := e.storeEscrow(esc); err != nil {
		return "", err
	}
	e.emit(NewSettledEvent(esc, pay))
	return ref, nil
}

// ClaimRefund lets the buyer reclaim a past-deadline escrow that never
// settled. The operation is an idempotent no-op on terminal escrows.
func (e *Engine) ClaimRefund(ctx context.Context, id [32]byte, now int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return nil
	}
	if now < esc.Deadline {
		return fmt.Errorf("escrow: deadline not reached")
	}
	return e.refund(ctx, esc)
}

// EmergencyRefund lets an administrative party refund an escrow stuck past a
// grace multiple of its deadline window. Idempotent no-op on terminal
// escrows.
func (e *Engine) EmergencyRefund(ctx context.Context, id [32]byte, now int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return nil
	}
	window := esc.Deadline - esc.CreatedAt
	if window < 0 {
		window = 0
	}
	if now < esc.Deadline+emergencyGraceMultiple*window {
		return fmt.Errorf("escrow: emergency grace period not reached")
	}
	return e.refund(ctx, esc)
}

func (e *Engine) refund(ctx context.Context, esc *Escrow) error {
	if e.ledger == nil {
		return errNilLedger
	}
	ref, err := e.ledger.Settle(ctx, esc.ID, false)
	if err != nil {
		return fmt.Errorf("escrow: ledger refund: %w", err)
	}
	esc.SettlementRef = ref
	esc.Status = StatusRefunded
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewSettledEvent(esc, false))
	return nil
}

// Get returns a copy of the escrow identified by id.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}
