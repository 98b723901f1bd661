package identity

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAssignsMonotonicHandles(t *testing.T) {
	reg := NewMemoryRegistry()
	a, err := reg.Register(context.Background(), ProviderMeta{Name: "alpha", Endpoint: "https://alpha"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := reg.Register(context.Background(), ProviderMeta{Name: "beta", Endpoint: "https://beta"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a == 0 || b == 0 || a == b {
		t.Fatalf("handles = %d, %d", a, b)
	}
}

func TestRegisterIsIdempotentPerName(t *testing.T) {
	reg := NewMemoryRegistry()
	first, _ := reg.Register(context.Background(), ProviderMeta{Name: "alpha"})
	second, _ := reg.Register(context.Background(), ProviderMeta{Name: "alpha"})
	if first != second {
		t.Fatalf("handles differ: %d vs %d", first, second)
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.Register(context.Background(), ProviderMeta{Name: "  "}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}
