package procure

import (
	"sync"

	"agoranet/native/escrow"
)

// escrowState is the run-scoped in-memory backend for the escrow engine.
// Escrows are stored as clones and never deleted.
type escrowState struct {
	mu      sync.Mutex
	escrows map[[32]byte]*escrow.Escrow
}

func newEscrowState() *escrowState {
	return &escrowState{escrows: make(map[[32]byte]*escrow.Escrow)}
}

func (s *escrowState) EscrowPut(esc *escrow.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows[esc.ID] = esc.Clone()
	return nil
}

func (s *escrowState) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}
