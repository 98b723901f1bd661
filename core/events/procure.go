package events

import (
	"math/big"
	"strconv"

	"agoranet/core/types"
)

const (
	TypeRunStarted        = "procure.run.started"
	TypeRunCompleted      = "procure.run.completed"
	TypePurchaseStarted   = "procure.purchase.started"
	TypePurchaseCompleted = "procure.purchase.completed"
	TypePurchaseFailed    = "procure.purchase.failed"
	TypeQualityEvaluated  = "procure.quality.evaluated"
	TypeSynthesisDone     = "procure.synthesis.completed"
)

// RunStarted marks the beginning of a procurement run.
type RunStarted struct {
	RunID  string
	Query  string
	Budget *big.Int
	Token  string
}

func (RunStarted) EventType() string { return TypeRunStarted }

func (e RunStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeRunStarted,
		Attributes: map[string]string{
			"runId":  e.RunID,
			"query":  e.Query,
			"budget": types.FormatAmount(e.Budget),
			"token":  e.Token,
		},
	}
}

// RunCompleted carries the terminal outcome of a run.
type RunCompleted struct {
	RunID      string
	Outcome    string
	DurationMs int64
	Paid       *big.Int
	Refunded   *big.Int
}

func (RunCompleted) EventType() string { return TypeRunCompleted }

func (e RunCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeRunCompleted,
		Attributes: map[string]string{
			"runId":      e.RunID,
			"outcome":    e.Outcome,
			"durationMs": strconv.FormatInt(e.DurationMs, 10),
			"paid":       types.FormatAmount(e.Paid),
			"refunded":   types.FormatAmount(e.Refunded),
		},
	}
}

// PurchaseStarted is emitted before a provider purchase call leaves the core.
type PurchaseStarted struct {
	RunID    string
	Provider string
	Endpoint string
}

func (PurchaseStarted) EventType() string { return TypePurchaseStarted }

func (e PurchaseStarted) Event() *types.Event {
	return &types.Event{
		Type: TypePurchaseStarted,
		Attributes: map[string]string{
			"runId":    e.RunID,
			"provider": e.Provider,
			"endpoint": e.Endpoint,
		},
	}
}

// PurchaseCompleted records a successful provider delivery.
type PurchaseCompleted struct {
	Provider     string
	RealizedCost string
	ProtocolUsed bool
}

func (PurchaseCompleted) EventType() string { return TypePurchaseCompleted }

func (e PurchaseCompleted) Event() *types.Event {
	attrs := map[string]string{
		"provider": e.Provider,
		"protocol": strconv.FormatBool(e.ProtocolUsed),
	}
	if e.RealizedCost != "" {
		attrs["realizedCost"] = e.RealizedCost
	}
	return &types.Event{Type: TypePurchaseCompleted, Attributes: attrs}
}

// PurchaseFailed records a provider that errored at purchase time and was
// dropped from the remainder of the run.
type PurchaseFailed struct {
	Provider string
	Reason   string
}

func (PurchaseFailed) EventType() string { return TypePurchaseFailed }

func (e PurchaseFailed) Event() *types.Event {
	return &types.Event{
		Type: TypePurchaseFailed,
		Attributes: map[string]string{
			"provider": e.Provider,
			"reason":   e.Reason,
		},
	}
}

// QualityEvaluated records the quality-gate verdict for one delivery.
type QualityEvaluated struct {
	Provider  string
	Score     float64
	Threshold float64
	Passed    bool
}

func (QualityEvaluated) EventType() string { return TypeQualityEvaluated }

func (e QualityEvaluated) Event() *types.Event {
	return &types.Event{
		Type: TypeQualityEvaluated,
		Attributes: map[string]string{
			"provider":  e.Provider,
			"score":     strconv.FormatFloat(e.Score, 'f', 2, 64),
			"threshold": strconv.FormatFloat(e.Threshold, 'f', 2, 64),
			"passed":    strconv.FormatBool(e.Passed),
		},
	}
}

// SynthesisCompleted marks the final narrative assembly.
type SynthesisCompleted struct {
	RunID     string
	Providers int
}

func (SynthesisCompleted) EventType() string { return TypeSynthesisDone }

func (e SynthesisCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthesisDone,
		Attributes: map[string]string{
			"runId":     e.RunID,
			"providers": strconv.Itoa(e.Providers),
		},
	}
}
