package reputation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agoranet/core/events"
	"agoranet/core/types"
)

// Service is the external reputation collaborator. Submissions are signed and
// tagged out of band; the engine only supplies the delta contract.
type Service interface {
	SubmitDelta(ctx context.Context, delta *Delta) error
}

// Delta is one reputation adjustment for a provider handle.
type Delta struct {
	Handle   uint64   `json:"handle"`
	Value    int64    `json:"value"`
	Tags     []string `json:"tags"`
	IssuedAt int64    `json:"issuedAt"`
}

// Validate ensures the delta payload is well formed before submission.
func (d *Delta) Validate() error {
	if d == nil {
		return errors.New("reputation: delta nil")
	}
	if d.Handle == 0 {
		return errors.New("reputation: handle required")
	}
	if d.Value == 0 {
		return errors.New("reputation: value must be non-zero")
	}
	if d.IssuedAt <= 0 {
		return errors.New("reputation: issuedAt must be positive")
	}
	return nil
}

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Engine derives and submits settlement-driven reputation deltas. Submission
// failures are logged, never propagated: reputation is best-effort
// bookkeeping and a run whose funds already moved must not abort on it.
type Engine struct {
	svc     Service
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() int64
}

// NewEngine constructs a reputation engine around the external service.
func NewEngine(svc Service, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		svc:     svc,
		emitter: events.NoopEmitter{},
		logger:  logger,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Submit derives the unit delta for a settlement outcome (+1 paid, -1
// refunded) and forwards it to the service. The derived value is returned so
// callers can record it in provider results.
func (e *Engine) Submit(ctx context.Context, handle uint64, paid bool, tags []string) int64 {
	if e == nil {
		return 0
	}
	value := int64(-1)
	if paid {
		value = 1
	}
	delta := &Delta{Handle: handle, Value: value, Tags: tags, IssuedAt: e.nowFn()}
	if err := delta.Validate(); err != nil {
		e.logger.Warn("skipping malformed reputation delta", "error", err)
		return value
	}
	if e.svc == nil {
		return value
	}
	if err := e.svc.SubmitDelta(ctx, delta); err != nil {
		e.logger.Warn("reputation submission failed", "handle", handle, "error", err)
		return value
	}
	e.emitter.Emit(reputationEvent{evt: NewDeltaSubmittedEvent(delta)})
	return value
}
