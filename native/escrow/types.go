package escrow

import (
	"fmt"
	"math/big"

	"agoranet/core/types"
)

// Status represents the lifecycle states of a conditional-payment escrow.
type Status uint8

const (
	StatusCreated Status = iota
	StatusResponseSubmitted
	StatusSettled
	StatusRefunded
)

// String renders the canonical lowercase tag used in events and receipts.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusResponseSubmitted:
		return "responseSubmitted"
	case StatusSettled:
		return "settled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusResponseSubmitted, StatusSettled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the escrow can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRefunded
}

// Escrow captures the metadata and runtime status of a single conditional
// payment between the buyer and one provider. Escrows are mutated only by
// delivery submission and settlement, and never deleted: the full set forms
// the run's audit trail.
type Escrow struct {
	ID            [32]byte
	Buyer         string
	Seller        string
	Token         string
	Amount        *big.Int
	Deadline      int64
	CreatedAt     int64
	RequestHash   [32]byte
	DeliveryHash  [32]byte
	Status        Status
	Encrypted     bool
	TxRef         string
	SettlementRef string
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates and normalises the escrow definition, returning a cloned
// instance with canonical token casing and a non-nil amount.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	token, err := types.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}
