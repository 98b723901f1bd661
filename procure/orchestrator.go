package procure

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agoranet/core/events"
	"agoranet/core/types"
	"agoranet/identity"
	"agoranet/native/commit"
	"agoranet/native/escrow"
	"agoranet/native/mandate"
	"agoranet/native/reputation"
	"agoranet/observability"
	"agoranet/oracle"
	"agoranet/purchase"
)

var (
	errNilPrimitive = errors.New("procure: commitment primitive required")
	errNilLedger    = errors.New("procure: escrow ledger required")
	errNilScorer    = errors.New("procure: quality scorer required")
	errNilPurchaser = errors.New("procure: purchaser required")
	errNilRegistry  = errors.New("procure: identity registry required")
)

// Deps are the collaborators one orchestrator drives. Primitive, Ledger,
// Scorer, Purchaser and Registry are required; the rest degrade to safe
// defaults when nil.
type Deps struct {
	Primitive  commit.Primitive
	Ledger     escrow.Ledger
	Policy     oracle.EncryptionPolicy
	Selector   oracle.ProviderSelector
	Scorer     oracle.QualityScorer
	Synth      oracle.Synthesizer
	Purchaser  purchase.Purchaser
	Registry   identity.Registry
	Reputation reputation.Service
	Credential *purchase.CredentialSigner
	Sink       events.Emitter
	Logger     *slog.Logger
	Metrics    *observability.ProcurementMetrics
}

// Orchestrator drives the multi-provider procurement-settlement protocol. The
// ten phases of a run execute strictly sequentially; the per-provider
// purchases of phase 5 fan out to one goroutine per provider and are
// re-aggregated deterministically before escrow work begins.
type Orchestrator struct {
	deps         Deps
	buyer        string
	clock        func() time.Time
	tracer       trace.Tracer
	commitOpts   []commit.Option
	verifyBudget time.Duration
}

// Option tunes an orchestrator at construction time.
type Option func(*Orchestrator)

// WithBuyer overrides the buyer identity recorded on escrows.
func WithBuyer(buyer string) Option {
	return func(o *Orchestrator) {
		if buyer != "" {
			o.buyer = buyer
		}
	}
}

// WithClock overrides the time source, primarily for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithCommitOptions forwards tuning options to each run's committer.
func WithCommitOptions(opts ...commit.Option) Option {
	return func(o *Orchestrator) { o.commitOpts = opts }
}

// WithVerifyBudget overrides the wall-clock budget for decrypt-and-verify.
func WithVerifyBudget(budget time.Duration) Option {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.verifyBudget = budget
		}
	}
}

// NewOrchestrator validates the required collaborators and returns an
// orchestrator ready to execute runs.
func NewOrchestrator(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Primitive == nil {
		return nil, errNilPrimitive
	}
	if deps.Ledger == nil {
		return nil, errNilLedger
	}
	if deps.Scorer == nil {
		return nil, errNilScorer
	}
	if deps.Purchaser == nil {
		return nil, errNilPurchaser
	}
	if deps.Registry == nil {
		return nil, errNilRegistry
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	o := &Orchestrator{
		deps:         deps,
		buyer:        "agoranet-buyer",
		clock:        time.Now,
		tracer:       otel.Tracer("agoranet/procure"),
		verifyBudget: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// unit carries one provider's state across phases. No unit reads another
// unit's fields, which is what makes phase 5 safe to parallelise.
type unit struct {
	provider      Provider
	handle        uint64
	cart          *mandate.CartMandate
	delivery      *purchase.Delivery
	escrowID      [32]byte
	txRef         string
	payment       *mandate.PaymentMandate
	deliveryHash  [32]byte
	verdict       oracle.Verdict
	decision      string
	settlementRef string
	repDelta      int64
	paid          bool
}

// Run executes the ten-phase procurement-settlement protocol and returns the
// run receipt. A fatal error on a correctness-critical path (selected
// commitment layers, escrow creation or settlement) aborts the run with no
// partial receipt; already-created escrows and locked payments are left for
// out-of-band reconciliation.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (*Receipt, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	started := o.clock()
	logger := o.deps.Logger.With("runId", runID)
	ctx, span := o.tracer.Start(ctx, "procure.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.providers", len(cfg.Providers)),
	))
	defer span.End()

	log := events.NewLog(o.deps.Sink)
	log.Append(events.RunStarted{RunID: runID, Query: cfg.Query, Budget: cfg.Budget, Token: cfg.Token})

	chain := mandate.NewChain()
	chain.SetEmitter(log)
	chain.SetNowFunc(o.clock)

	committer := commit.NewCommitter(o.deps.Primitive, log, append([]commit.Option{commit.WithNowFunc(o.clock)}, o.commitOpts...)...)

	eng := escrow.NewEngine(o.buyer)
	eng.SetState(newEscrowState())
	eng.SetLedger(o.deps.Ledger)
	eng.SetEmitter(log)
	eng.SetNowFunc(func() int64 { return o.clock().Unix() })

	rep := reputation.NewEngine(o.deps.Reputation, logger)
	rep.SetEmitter(log)
	rep.SetNowFunc(func() int64 { return o.clock().Unix() })

	receipt, err := o.execute(ctx, runID, cfg, logger, log, chain, committer, eng, rep)
	duration := o.clock().Sub(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.deps.Metrics.ObserveRun("fatal", duration)
		logger.Error("procurement run aborted", "error", err)
		return nil, err
	}
	receipt.ID = runID
	receipt.StartedAt = started
	receipt.DurationMs = duration.Milliseconds()
	outcome := string(chain.Outcome())
	o.deps.Metrics.ObserveRun(outcome, duration)
	o.deps.Metrics.ObserveEncryptions(receipt.Totals.EncryptionCount)
	log.Append(events.RunCompleted{
		RunID:      runID,
		Outcome:    outcome,
		DurationMs: receipt.DurationMs,
		Paid:       mustAmount(receipt.Totals.PaidAmount),
		Refunded:   mustAmount(receipt.Totals.RefundedAmount),
	})
	logger.Info("procurement run completed",
		"outcome", outcome,
		"providers", len(receipt.Providers),
		"paid", receipt.Totals.PaidAmount,
		"refunded", receipt.Totals.RefundedAmount,
	)
	return receipt, nil
}

func (o *Orchestrator) execute(
	ctx context.Context,
	runID string,
	cfg RunConfig,
	logger *slog.Logger,
	log *events.Log,
	chain *mandate.Chain,
	committer *commit.Committer,
	eng *escrow.Engine,
	rep *reputation.Engine,
) (*Receipt, error) {
	receipt := &Receipt{}

	// Phase 0: intent mandate.
	intent, err := chain.CreateIntent(cfg.Query, cfg.Budget, cfg.Token, cfg.TTL)
	if err != nil {
		return nil, err
	}

	// Phase 1: encryption policy, defaulting to all four layers.
	decision := o.decidePolicy(ctx, cfg.Query, logger)
	receipt.EncryptionDecision = EncryptionDecision{
		Layers:      decision.Layers,
		Rationale:   decision.Rationale,
		Sensitivity: decision.Sensitivity,
	}
	if decision.Has(commit.LayerEscrow) {
		eng.SetCommitFunc(func(ctx context.Context, payload []byte) (string, error) {
			result, err := committer.Commit(ctx, payload, commit.LayerEscrow)
			if err != nil {
				return "", err
			}
			return result.Reference, nil
		})
	}

	// Phases 2 and 3: strategy and query commitments. Failures on selected
	// layers are correctness-critical and abort the run.
	if decision.Has(commit.LayerStrategy) {
		plan, err := json.Marshal(map[string]any{
			"query":     cfg.Query,
			"budget":    types.FormatAmount(cfg.Budget),
			"token":     cfg.Token,
			"providers": providerNames(cfg.Providers),
			"timestamp": o.clock().Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("procure: encode strategy plan: %w", err)
		}
		receipt.Commitments.Strategy, err = o.commitVerified(ctx, committer, plan, commit.LayerStrategy)
		if err != nil {
			return nil, err
		}
	}
	if decision.Has(commit.LayerQuery) {
		receipt.Commitments.Query, err = o.commitVerified(ctx, committer, []byte(cfg.Query), commit.LayerQuery)
		if err != nil {
			return nil, err
		}
	}

	// Phase 4: discovery. Register every candidate, open one cart per
	// provider, and record the advisory selection.
	units := o.discover(ctx, cfg, intent, chain, logger, &receipt.Excluded)
	receipt.EncryptionDecision.Selections = o.selectProviders(ctx, cfg, logger)

	// Phase 5: purchases fan out one goroutine per provider.
	units = o.purchaseAll(ctx, runID, cfg, units, log, logger, &receipt.Excluded)

	// Phase 6: escrows and locked payment mandates. Ledger failures here
	// are fatal.
	deadline := o.clock().Add(cfg.DeadlineWindow).Unix()
	for _, u := range units {
		requestHash := ethcrypto.Keccak256Hash([]byte(cfg.Query), []byte(u.provider.Name))
		esc, err := eng.Create(ctx, u.provider.Name, cfg.Token, cfg.UnitAmount, deadline, requestHash, decision.Has(commit.LayerEscrow))
		if err != nil {
			return nil, fmt.Errorf("procure: create escrow for %s: %w", u.provider.Name, err)
		}
		u.escrowID = esc.ID
		u.txRef = esc.TxRef
		u.payment, err = chain.CreatePayment(u.cart.ID, hex.EncodeToString(esc.ID[:]), cfg.UnitAmount)
		if err != nil {
			return nil, err
		}
		if u.delivery.RealizedCost != "" {
			chain.AnnotateRealizedCost(u.payment.ID, u.delivery.RealizedCost)
		}
	}

	// Phase 7: delivery proofs and the quality gate.
	for _, u := range units {
		u.deliveryHash = ethcrypto.Keccak256Hash([]byte(u.delivery.Payload))
		if err := eng.SubmitDelivery(ctx, u.escrowID, u.deliveryHash); err != nil {
			return nil, fmt.Errorf("procure: submit delivery for %s: %w", u.provider.Name, err)
		}
		verdict, err := o.deps.Scorer.Score(ctx, u.delivery.Payload, u.provider.Name, cfg.Threshold, u.provider.Category)
		if err != nil {
			logger.Warn("quality oracle unavailable; failing delivery", "provider", u.provider.Name, "error", err)
			verdict = oracle.Verdict{Score: 0, Reasoning: "quality oracle unavailable"}
		}
		u.verdict = oracle.NormalizeVerdict(verdict, cfg.Threshold)
		u.decision = "refund"
		if u.verdict.Passed {
			u.decision = "pay"
		}
		log.Append(events.QualityEvaluated{
			Provider:  u.provider.Name,
			Score:     u.verdict.Score,
			Threshold: cfg.Threshold,
			Passed:    u.verdict.Passed,
		})
	}

	// Phase 8: settlement-batch commitment covering every decision at once.
	if decision.Has(commit.LayerSettlement) && len(units) > 0 {
		batch := make([]map[string]any, len(units))
		for i, u := range units {
			batch[i] = map[string]any{
				"escrowId": hex.EncodeToString(u.escrowID[:]),
				"decision": u.decision,
				"score":    u.verdict.Score,
			}
		}
		payload, err := json.Marshal(batch)
		if err != nil {
			return nil, fmt.Errorf("procure: encode settlement batch: %w", err)
		}
		receipt.Commitments.Settlements, err = o.commitVerified(ctx, committer, payload, commit.LayerSettlement)
		if err != nil {
			return nil, err
		}
	}

	// Phase 9: settle each escrow exactly once and mirror the outcome onto
	// the payment mandate and the provider's reputation.
	for _, u := range units {
		pay := u.decision == "pay"
		ref, err := eng.Settle(ctx, u.escrowID, pay, u.deliveryHash)
		if err != nil {
			return nil, fmt.Errorf("procure: settle escrow for %s: %w", u.provider.Name, err)
		}
		u.settlementRef = ref
		settled, settleErr := eng.Get(u.escrowID)
		if settleErr != nil {
			return nil, settleErr
		}
		u.paid = settled.Status == escrow.StatusSettled
		status := mandate.PaymentRefunded
		decisionLabel := "refund"
		if u.paid {
			status = mandate.PaymentReleased
			decisionLabel = "pay"
		}
		chain.SettlePayment(u.payment.ID, status, ref)
		o.deps.Metrics.ObserveSettlement(decisionLabel)
		u.repDelta = rep.Submit(ctx, u.handle, u.paid, []string{"quality", u.provider.Name})
	}

	// Phase 10: synthesis, chain completion and receipt assembly.
	passing := make([]string, 0, len(units))
	paidCount := 0
	for _, u := range units {
		if u.paid {
			paidCount++
		}
		if u.verdict.Passed {
			passing = append(passing, u.delivery.Payload)
		}
	}
	receipt.Synthesis = o.synthesize(ctx, cfg.Query, passing, logger)
	log.Append(events.SynthesisCompleted{RunID: runID, Providers: len(passing)})

	outcome := mandate.OutcomeFailure
	if paidCount > 0 {
		outcome = mandate.OutcomeSuccess
	} else if o.clock().After(intent.ExpiresAt) {
		outcome = mandate.OutcomeExpired
	}
	if err := chain.Complete(outcome); err != nil {
		return nil, err
	}

	o.assemble(receipt, units, committer, chain, cfg)
	return receipt, nil
}

func (o *Orchestrator) decidePolicy(ctx context.Context, query string, logger *slog.Logger) oracle.PolicyDecision {
	if o.deps.Policy == nil {
		return oracle.SanitizeDecision(oracle.PolicyDecision{}, errors.New("no policy oracle configured"))
	}
	decision, err := o.deps.Policy.Decide(ctx, query)
	if err != nil {
		logger.Warn("encryption-policy oracle unavailable; defaulting to all layers", "error", err)
	}
	return oracle.SanitizeDecision(decision, err)
}

func (o *Orchestrator) commitVerified(ctx context.Context, committer *commit.Committer, payload []byte, layer commit.Layer) (*Commitment, error) {
	ctx, span := o.tracer.Start(ctx, "procure.commit", trace.WithAttributes(attribute.String("commit.layer", string(layer))))
	defer span.End()
	result, err := committer.Commit(ctx, payload, layer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	verify, err := committer.DecryptAndVerify(ctx, result.Reference, payload, o.verifyBudget)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Commitment{
		Layer:       layer,
		Reference:   result.Reference,
		SentAt:      result.SentAt,
		ReceivedAt:  result.ReceivedAt,
		DecryptedAt: verify.DecryptedAt,
		Verified:    verify.Verified,
	}, nil
}

func (o *Orchestrator) discover(ctx context.Context, cfg RunConfig, intent *mandate.IntentMandate, chain *mandate.Chain, logger *slog.Logger, excluded *[]ExcludedProvider) []*unit {
	providers := make([]Provider, len(cfg.Providers))
	copy(providers, cfg.Providers)
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })

	units := make([]*unit, 0, len(providers))
	for _, provider := range providers {
		handle, err := o.deps.Registry.Register(ctx, identity.ProviderMeta{
			Name:     provider.Name,
			Endpoint: provider.Endpoint,
			Category: provider.Category,
		})
		if err != nil {
			logger.Warn("provider registration failed; excluding from run", "provider", provider.Name, "error", err)
			*excluded = append(*excluded, ExcludedProvider{Name: provider.Name, Reason: "registration: " + err.Error()})
			continue
		}
		cart, err := chain.CreateCart(intent.ID, provider.Name, []mandate.LineItem{
			{Service: "analysis", Price: provider.Price},
		}, provider.Endpoint)
		if err != nil {
			logger.Warn("cart creation failed; excluding from run", "provider", provider.Name, "error", err)
			*excluded = append(*excluded, ExcludedProvider{Name: provider.Name, Reason: "cart: " + err.Error()})
			continue
		}
		units = append(units, &unit{provider: provider, handle: handle, cart: cart})
	}
	return units
}

func (o *Orchestrator) selectProviders(ctx context.Context, cfg RunConfig, logger *slog.Logger) []oracle.Selection {
	if o.deps.Selector == nil {
		return nil
	}
	selections, err := o.deps.Selector.Select(ctx, providerNames(cfg.Providers), cfg.Budget, cfg.Query)
	if err != nil {
		logger.Warn("provider-selection oracle unavailable; proceeding without annotations", "error", err)
		return nil
	}
	return selections
}

func (o *Orchestrator) purchaseAll(ctx context.Context, runID string, cfg RunConfig, units []*unit, log *events.Log, logger *slog.Logger, excluded *[]ExcludedProvider) []*unit {
	ctx, span := o.tracer.Start(ctx, "procure.purchase", trace.WithAttributes(attribute.Int("purchase.providers", len(units))))
	defer span.End()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	failures := make([]ExcludedProvider, 0)
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			log.Append(events.PurchaseStarted{RunID: runID, Provider: u.provider.Name, Endpoint: u.provider.Endpoint})
			credential := ""
			if cfg.PayPerCall && o.deps.Credential != nil {
				signed, err := o.deps.Credential.Sign(u.provider.Endpoint)
				if err != nil {
					o.recordPurchaseFailure(u, err, log, logger, &mu, &failures)
					return
				}
				credential = signed
			}
			delivery, err := o.deps.Purchaser.Purchase(ctx, u.provider.Endpoint, cfg.Query, credential)
			if err != nil {
				o.recordPurchaseFailure(u, err, log, logger, &mu, &failures)
				return
			}
			u.delivery = delivery
			o.deps.Metrics.ObservePurchase("ok")
			log.Append(events.PurchaseCompleted{
				Provider:     u.provider.Name,
				RealizedCost: delivery.RealizedCost,
				ProtocolUsed: delivery.ProtocolUsed,
			})
		}(u)
	}
	wg.Wait()

	// Deterministic aggregation: units keep their name-sorted order and
	// failed providers drop out of every later phase.
	remaining := make([]*unit, 0, len(units))
	for _, u := range units {
		if u.delivery != nil {
			remaining = append(remaining, u)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Name < failures[j].Name })
	*excluded = append(*excluded, failures...)
	return remaining
}

func (o *Orchestrator) recordPurchaseFailure(u *unit, err error, log *events.Log, logger *slog.Logger, mu *sync.Mutex, failures *[]ExcludedProvider) {
	o.deps.Metrics.ObservePurchase("failed")
	logger.Warn("provider purchase failed; excluding from run", "provider", u.provider.Name, "error", err)
	log.Append(events.PurchaseFailed{Provider: u.provider.Name, Reason: err.Error()})
	mu.Lock()
	*failures = append(*failures, ExcludedProvider{Name: u.provider.Name, Reason: "purchase: " + err.Error()})
	mu.Unlock()
}

func (o *Orchestrator) synthesize(ctx context.Context, query string, passing []string, logger *slog.Logger) string {
	if len(passing) == 0 {
		return oracle.FallbackNarrative(query, 0)
	}
	if o.deps.Synth == nil {
		return oracle.FallbackNarrative(query, len(passing))
	}
	narrative, err := o.deps.Synth.Synthesize(ctx, passing, query)
	if err != nil {
		logger.Warn("synthesis oracle unavailable; using fallback narrative", "error", err)
		return oracle.FallbackNarrative(query, len(passing))
	}
	return narrative
}

func (o *Orchestrator) assemble(receipt *Receipt, units []*unit, committer *commit.Committer, chain *mandate.Chain, cfg RunConfig) {
	stats := committer.Stats()
	paid := big.NewInt(0)
	refunded := big.NewInt(0)
	protocolUses := 0
	results := make([]ProviderResult, 0, len(units))
	for _, u := range units {
		status := mandate.PaymentRefunded
		if u.paid {
			status = mandate.PaymentReleased
			paid.Add(paid, cfg.UnitAmount)
		} else {
			refunded.Add(refunded, cfg.UnitAmount)
		}
		if u.delivery.ProtocolUsed {
			protocolUses++
		}
		results = append(results, ProviderResult{
			Name:            u.provider.Name,
			Handle:          u.handle,
			EscrowID:        hex.EncodeToString(u.escrowID[:]),
			TxRef:           u.txRef,
			Score:           u.verdict.Score,
			Passed:          u.verdict.Passed,
			Reasoning:       u.verdict.Reasoning,
			Decision:        u.decision,
			SettlementRef:   u.settlementRef,
			PaymentStatus:   status,
			ReputationDelta: u.repDelta,
			RealizedCost:    u.delivery.RealizedCost,
			ProtocolUsed:    u.delivery.ProtocolUsed,
		})
	}
	commitMessages := 0
	for _, c := range []*Commitment{receipt.Commitments.Strategy, receipt.Commitments.Query, receipt.Commitments.Settlements} {
		if c != nil {
			commitMessages++
		}
	}
	receipt.Providers = results
	receipt.Chain = chain.Snapshot()
	receipt.Totals = Totals{
		PaidAmount:           types.FormatAmount(paid),
		RefundedAmount:       types.FormatAmount(refunded),
		ProvidersPaid:        countPaid(units, true),
		ProvidersRefunded:    countPaid(units, false),
		EncryptionCount:      stats.Count,
		CommitMessageCount:   commitMessages,
		PurchaseProtocolUses: protocolUses,
		EscrowsCreated:       len(units),
	}
}

func countPaid(units []*unit, paid bool) int {
	n := 0
	for _, u := range units {
		if u.paid == paid {
			n++
		}
	}
	return n
}

func providerNames(providers []Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return names
}

func mustAmount(s string) *big.Int {
	v, err := types.ParseAmount(s)
	if err != nil {
		return big.NewInt(0)
	}
	return v
}
