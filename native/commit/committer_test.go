package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePrimitive struct {
	mu        sync.Mutex
	seq       int
	payloads  map[string][]byte
	pending   map[string]int
	commitErr error
	transform func([]byte) []byte
}

func newFakePrimitive() *fakePrimitive {
	return &fakePrimitive{
		payloads: make(map[string][]byte),
		pending:  make(map[string]int),
	}
}

func (p *fakePrimitive) Commit(_ context.Context, payload []byte, layer Layer) (string, error) {
	if p.commitErr != nil {
		return "", p.commitErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ref := fmt.Sprintf("ref-%s-%d", layer, p.seq)
	stored := append([]byte(nil), payload...)
	if p.transform != nil {
		stored = p.transform(stored)
	}
	p.payloads[ref] = stored
	return ref, nil
}

func (p *fakePrimitive) Fetch(_ context.Context, reference string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining := p.pending[reference]; remaining > 0 {
		p.pending[reference] = remaining - 1
		return nil, false, nil
	}
	payload, ok := p.payloads[reference]
	if !ok {
		return nil, false, errors.New("unknown reference")
	}
	return payload, true, nil
}

func fastCommitter(p Primitive) *Committer {
	return NewCommitter(p, nil, WithPollInterval(time.Millisecond), WithMaxAttempts(5))
}

func TestCommitRecordsStats(t *testing.T) {
	c := fastCommitter(newFakePrimitive())
	if _, err := c.Commit(context.Background(), []byte("plan"), LayerStrategy); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := c.Commit(context.Background(), []byte("query"), LayerQuery); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := c.Commit(context.Background(), []byte("again"), LayerQuery); err != nil {
		t.Fatalf("commit: %v", err)
	}
	stats := c.Stats()
	if stats.Count != 3 {
		t.Fatalf("expected 3 encryptions, got %d", stats.Count)
	}
	if len(stats.Layers) != 2 || stats.Layers[0] != LayerStrategy || stats.Layers[1] != LayerQuery {
		t.Fatalf("unexpected layers %v", stats.Layers)
	}
}

func TestCommitFailureWrapsSentinel(t *testing.T) {
	p := newFakePrimitive()
	p.commitErr = errors.New("primitive down")
	c := fastCommitter(p)
	_, err := c.Commit(context.Background(), []byte("x"), LayerStrategy)
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}
	if c.Stats().Count != 0 {
		t.Fatal("failed commit must not count as an encryption")
	}
}

func TestDecryptAndVerifyMatchesCommittedPayload(t *testing.T) {
	p := newFakePrimitive()
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("sensitive query"), LayerQuery)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	verify, err := c.DecryptAndVerify(context.Background(), result.Reference, []byte("sensitive query"), time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Verified {
		t.Fatal("expected verified=true for the committed payload")
	}
}

func TestDecryptAndVerifyRejectsTamperedPayload(t *testing.T) {
	p := newFakePrimitive()
	p.transform = func([]byte) []byte { return []byte("tampered") }
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("original"), LayerQuery)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	verify, err := c.DecryptAndVerify(context.Background(), result.Reference, []byte("original"), time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verify.Verified {
		t.Fatal("expected verified=false for a tampered payload")
	}
}

// The containment fallback tolerates oracle padding but weakens the strict
// equality guarantee; this test pins the lenient behaviour so a change to it
// is deliberate.
func TestDecryptAndVerifyAcceptsPaddedPayload(t *testing.T) {
	p := newFakePrimitive()
	p.transform = func(payload []byte) []byte {
		return append([]byte("PADDING:"), payload...)
	}
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("inner"), LayerSettlement)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	verify, err := c.DecryptAndVerify(context.Background(), result.Reference, []byte("inner"), time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Verified {
		t.Fatal("expected substring containment to verify")
	}
}

func TestDecryptAndVerifyNormalisesCaseAndPrefix(t *testing.T) {
	p := newFakePrimitive()
	p.transform = func(payload []byte) []byte {
		return []byte("0x" + string(payload))
	}
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("ABCDEF"), LayerQuery)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	verify, err := c.DecryptAndVerify(context.Background(), result.Reference, []byte("abcdef"), time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Verified {
		t.Fatal("expected normalised payloads to verify")
	}
}

func TestDecryptAndVerifyWaitsForSlowOracle(t *testing.T) {
	p := newFakePrimitive()
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("slow"), LayerStrategy)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	p.mu.Lock()
	p.pending[result.Reference] = 3
	p.mu.Unlock()
	verify, err := c.DecryptAndVerify(context.Background(), result.Reference, []byte("slow"), time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Verified {
		t.Fatal("expected verification after pending polls")
	}
}

func TestDecryptAndVerifyTimesOut(t *testing.T) {
	p := newFakePrimitive()
	c := fastCommitter(p)
	result, err := c.Commit(context.Background(), []byte("never"), LayerStrategy)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	p.mu.Lock()
	p.pending[result.Reference] = 100
	p.mu.Unlock()
	_, err = c.DecryptAndVerify(context.Background(), result.Reference, []byte("never"), 10*time.Millisecond)
	if !errors.Is(err, ErrDecryptTimeout) {
		t.Fatalf("expected ErrDecryptTimeout, got %v", err)
	}
}

func TestParseLayer(t *testing.T) {
	layer, err := ParseLayer(" Strategy ")
	if err != nil {
		t.Fatalf("ParseLayer: %v", err)
	}
	if layer != LayerStrategy {
		t.Fatalf("ParseLayer = %s", layer)
	}
	if _, err := ParseLayer("transport"); err == nil {
		t.Fatal("expected error for unknown layer")
	}
}
