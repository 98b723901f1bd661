package procure

import (
	"fmt"
	"math/big"
	"time"

	"agoranet/core/types"
	"agoranet/native/commit"
	"agoranet/native/mandate"
	"agoranet/oracle"
)

// Provider is one candidate service provider for a run.
type Provider struct {
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	Price    *big.Int `json:"price"`
	Category string   `json:"category,omitempty"`
}

// RunConfig parameterises a single procurement run.
type RunConfig struct {
	Query          string
	Budget         *big.Int
	Token          string
	TTL            time.Duration
	Providers      []Provider
	Threshold      float64
	UnitAmount     *big.Int
	DeadlineWindow time.Duration
	PayPerCall     bool
}

const (
	defaultThreshold      = 5.0
	defaultTTL            = 10 * time.Minute
	defaultDeadlineWindow = 5 * time.Minute
)

func (cfg *RunConfig) normalize() error {
	if cfg == nil {
		return fmt.Errorf("procure: run config nil")
	}
	if cfg.Query == "" {
		return fmt.Errorf("procure: query required")
	}
	token, err := types.NormalizeToken(cfg.Token)
	if err != nil {
		return err
	}
	cfg.Token = token
	if cfg.Budget == nil || cfg.Budget.Sign() <= 0 {
		return fmt.Errorf("procure: budget must be positive")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("procure: at least one provider required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = defaultDeadlineWindow
	}
	if cfg.UnitAmount == nil || cfg.UnitAmount.Sign() <= 0 {
		// One whole token per escrow unless configured otherwise.
		cfg.UnitAmount = big.NewInt(100)
	}
	return nil
}

// ProviderResult summarises one provider's full lifecycle inside a run. Built
// once at the end of that lifecycle and consumed only by receipt assembly.
type ProviderResult struct {
	Name            string                `json:"name"`
	Handle          uint64                `json:"handle"`
	EscrowID        string                `json:"escrowId"`
	TxRef           string                `json:"txRef,omitempty"`
	Score           float64               `json:"score"`
	Passed          bool                  `json:"passed"`
	Reasoning       string                `json:"reasoning,omitempty"`
	Decision        string                `json:"decision"`
	SettlementRef   string                `json:"settlementRef,omitempty"`
	PaymentStatus   mandate.PaymentStatus `json:"paymentStatus"`
	ReputationDelta int64                 `json:"reputationDelta"`
	RealizedCost    string                `json:"realizedCost,omitempty"`
	ProtocolUsed    bool                  `json:"protocolUsed"`
}

// ExcludedProvider records a candidate dropped from the run at purchase time.
type ExcludedProvider struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Commitment is the receipt-level record of one verified commitment
// round-trip: the commit timestamps plus the decrypt-and-verify outcome.
type Commitment struct {
	Layer       commit.Layer `json:"layer"`
	Reference   string       `json:"reference"`
	SentAt      time.Time    `json:"sentAt"`
	ReceivedAt  time.Time    `json:"receivedAt"`
	DecryptedAt time.Time    `json:"decryptedAt"`
	Verified    bool         `json:"verified"`
}

// Commitments groups the batch-level commitment results by checkpoint.
type Commitments struct {
	Strategy    *Commitment `json:"strategy,omitempty"`
	Query       *Commitment `json:"query,omitempty"`
	Settlements *Commitment `json:"settlements,omitempty"`
}

// EncryptionDecision is the effective policy applied to the run after
// defaulting, plus the advisory provider selections.
type EncryptionDecision struct {
	Layers      []commit.Layer     `json:"layers"`
	Rationale   string             `json:"rationale,omitempty"`
	Sensitivity string             `json:"sensitivity,omitempty"`
	Selections  []oracle.Selection `json:"selections,omitempty"`
}

// Totals aggregates the run's monetary and accounting figures. Amounts are
// rendered as two-decimal strings; external reporting depends on this shape.
type Totals struct {
	PaidAmount           string `json:"paidAmount"`
	RefundedAmount       string `json:"refundedAmount"`
	ProvidersPaid        int    `json:"providersPaid"`
	ProvidersRefunded    int    `json:"providersRefunded"`
	EncryptionCount      int    `json:"encryptionCount"`
	CommitMessageCount   int    `json:"commitMessageCount"`
	PurchaseProtocolUses int    `json:"purchaseProtocolUses"`
	EscrowsCreated       int    `json:"escrowsCreated"`
}

// Receipt is the externally observable record of one procurement run.
type Receipt struct {
	ID                 string             `json:"id"`
	StartedAt          time.Time          `json:"startedAt"`
	DurationMs         int64              `json:"durationMs"`
	EncryptionDecision EncryptionDecision `json:"encryptionDecision"`
	Commitments        Commitments        `json:"commitments"`
	Providers          []ProviderResult   `json:"providers"`
	Excluded           []ExcludedProvider `json:"excluded,omitempty"`
	Synthesis          string             `json:"synthesis"`
	Chain              *mandate.Snapshot  `json:"mandateChain"`
	Totals             Totals             `json:"totals"`
}
