// Package oracle defines the opaque external capabilities the procurement
// core consumes: encryption policy, provider selection, quality scoring and
// synthesis. The core treats each as a contract and owns the degradation
// rules applied when an oracle is unavailable or returns malformed output.
package oracle

import (
	"context"
	"math/big"
	"strings"

	"agoranet/native/commit"
)

// PolicyDecision is the encryption-policy oracle's answer for one query.
type PolicyDecision struct {
	Layers      []commit.Layer `json:"layers"`
	Rationale   string         `json:"rationale,omitempty"`
	Sensitivity string         `json:"sensitivity,omitempty"`
}

// Has reports whether the decision selects the given layer.
func (d PolicyDecision) Has(layer commit.Layer) bool {
	for _, candidate := range d.Layers {
		if candidate == layer {
			return true
		}
	}
	return false
}

// EncryptionPolicy decides which checkpoints of the transaction must be
// encrypted for a query.
type EncryptionPolicy interface {
	Decide(ctx context.Context, query string) (PolicyDecision, error)
}

// SanitizeDecision drops unknown layer tags and substitutes the all-layers
// default when the oracle errored or produced nothing usable. Encrypting
// everything is the safe direction to fail in.
func SanitizeDecision(decision PolicyDecision, err error) PolicyDecision {
	if err != nil {
		return PolicyDecision{Layers: commit.AllLayers(), Rationale: "policy oracle unavailable; defaulting to all layers"}
	}
	valid := make([]commit.Layer, 0, len(decision.Layers))
	seen := make(map[commit.Layer]struct{})
	for _, layer := range decision.Layers {
		parsed, parseErr := commit.ParseLayer(string(layer))
		if parseErr != nil {
			continue
		}
		if _, dup := seen[parsed]; dup {
			continue
		}
		seen[parsed] = struct{}{}
		valid = append(valid, parsed)
	}
	if len(valid) == 0 {
		return PolicyDecision{Layers: commit.AllLayers(), Rationale: "policy oracle returned no usable layers; defaulting to all layers"}
	}
	decision.Layers = valid
	return decision
}

// Selection annotates why a provider was recommended. Selections are
// advisory: they are recorded in the receipt but do not gate which providers
// are engaged.
type Selection struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// ProviderSelector recommends providers for a query under a budget.
type ProviderSelector interface {
	Select(ctx context.Context, candidates []string, budget *big.Int, query string) ([]Selection, error)
}

// Verdict is the quality-scoring oracle's judgement of one delivery.
type Verdict struct {
	Score     float64 `json:"score"`
	Passed    bool    `json:"passed"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// QualityScorer scores a delivered analysis against a threshold on the 0-10
// scale.
type QualityScorer interface {
	Score(ctx context.Context, delivery, provider string, threshold float64, category string) (Verdict, error)
}

// NormalizeVerdict clamps out-of-range scores into [0,10] and recomputes the
// pass flag from the threshold when the oracle's own flag disagrees with its
// score.
func NormalizeVerdict(v Verdict, threshold float64) Verdict {
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 10 {
		v.Score = 10
	}
	v.Passed = v.Score >= threshold
	return v
}

// Synthesizer combines the passing providers' outputs into one narrative.
type Synthesizer interface {
	Synthesize(ctx context.Context, passing []string, query string) (string, error)
}

// FallbackNarrative is used when synthesis is skipped: either no provider
// cleared the quality gate or no synthesizer is configured.
func FallbackNarrative(query string, passing int) string {
	if passing == 0 {
		return "No provider delivery cleared the quality gate for: " + strings.TrimSpace(query)
	}
	return "Synthesis unavailable; retaining individual provider deliveries for: " + strings.TrimSpace(query)
}
