package commit

import (
	"fmt"
	"strings"
	"time"
)

// Layer identifies the logical checkpoint at which confidentiality is applied
// to part of the transaction.
type Layer string

const (
	LayerStrategy   Layer = "strategy"
	LayerEscrow     Layer = "escrow"
	LayerQuery      Layer = "query"
	LayerSettlement Layer = "settlement"
)

// AllLayers returns the full set of checkpoints in canonical order. This is
// the safe default applied when the encryption-policy oracle is unavailable.
func AllLayers() []Layer {
	return []Layer{LayerStrategy, LayerEscrow, LayerQuery, LayerSettlement}
}

// ParseLayer normalises a layer tag, rejecting unknown values.
func ParseLayer(raw string) (Layer, error) {
	switch Layer(strings.ToLower(strings.TrimSpace(raw))) {
	case LayerStrategy:
		return LayerStrategy, nil
	case LayerEscrow:
		return LayerEscrow, nil
	case LayerQuery:
		return LayerQuery, nil
	case LayerSettlement:
		return LayerSettlement, nil
	default:
		return "", fmt.Errorf("commit: unknown layer %q", raw)
	}
}

// Result captures one successful commit call. Immutable after creation and
// consumed by receipt assembly.
type Result struct {
	Layer      Layer     `json:"layer"`
	Reference  string    `json:"reference"`
	SentAt     time.Time `json:"sentAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// VerifyResult captures the outcome of an asynchronous decrypt-and-verify.
type VerifyResult struct {
	Reference   string    `json:"reference"`
	Verified    bool      `json:"verified"`
	Observed    []byte    `json:"observed"`
	DecryptedAt time.Time `json:"decryptedAt"`
}

// Stats reports run-level encryption accounting owned by one Committer.
type Stats struct {
	Count  int     `json:"count"`
	Layers []Layer `json:"layers"`
}
