package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"agoranet/config"
	"agoranet/core/types"
	"agoranet/identity"
	"agoranet/native/commit"
	"agoranet/native/escrow"
	"agoranet/observability"
	"agoranet/observability/logging"
	"agoranet/oracle"
	"agoranet/procure"
	"agoranet/purchase"
	"agoranet/storage"
)

func main() {
	configPath := flag.String("config", "agorad.yaml", "path to the service configuration")
	flag.Parse()
	query := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: agorad [-config path] <query>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Service, cfg.Environment)

	budget, err := types.ParseAmount(cfg.Run.Budget)
	if err != nil {
		logger.Error("invalid budget", "error", err)
		os.Exit(1)
	}
	providers := make([]procure.Provider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		price := big.NewInt(0)
		if strings.TrimSpace(p.Price) != "" {
			price, err = types.ParseAmount(p.Price)
			if err != nil {
				logger.Error("invalid provider price", "provider", p.Name, "error", err)
				os.Exit(1)
			}
		}
		providers[i] = procure.Provider{Name: p.Name, Endpoint: p.Endpoint, Price: price, Category: p.Category}
	}

	orch, err := procure.NewOrchestrator(procure.Deps{
		Primitive: &localPrimitive{payloads: make(map[string][]byte)},
		Ledger:    &localLedger{},
		Scorer:    localScorer{},
		Purchaser: purchase.NewHTTPPurchaser(nil, purchase.NewCredentialSigner([]byte("agorad-demo"), cfg.Service, 0)),
		Registry:  identity.NewMemoryRegistry(),
		Logger:    logger,
		Metrics:   observability.ProcureMetrics(),
	}, procure.WithCommitOptions(
		commit.WithPollInterval(cfg.Commit.PollInterval.Duration),
		commit.WithMaxAttempts(cfg.Commit.MaxAttempts),
	), procure.WithVerifyBudget(cfg.Commit.VerifyBudget.Duration))
	if err != nil {
		logger.Error("build orchestrator", "error", err)
		os.Exit(1)
	}

	unitAmount := big.NewInt(0)
	if strings.TrimSpace(cfg.Run.UnitAmount) != "" {
		unitAmount, err = types.ParseAmount(cfg.Run.UnitAmount)
		if err != nil {
			logger.Error("invalid unit amount", "error", err)
			os.Exit(1)
		}
	}

	receipt, err := orch.Run(context.Background(), procure.RunConfig{
		Query:          query,
		Budget:         budget,
		Token:          cfg.Run.Token,
		TTL:            cfg.Run.TTL.Duration,
		Providers:      providers,
		Threshold:      cfg.Run.Threshold,
		UnitAmount:     unitAmount,
		DeadlineWindow: cfg.Run.DeadlineWindow.Duration,
		PayPerCall:     cfg.Run.PayPerCall,
	})
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	archive, err := storage.Open(cfg.DatabasePath, nil)
	if err != nil {
		logger.Error("open archive", "error", err)
		os.Exit(1)
	}
	defer archive.Close()
	if err := archive.SaveRun(receipt); err != nil {
		logger.Error("persist receipt", "error", err)
		os.Exit(1)
	}

	encoded, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		logger.Error("encode receipt", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}

// localPrimitive is an in-process commitment primitive: payloads decrypt to
// themselves immediately. It stands in for the external service in demo mode.
type localPrimitive struct {
	mu       sync.Mutex
	seq      int
	payloads map[string][]byte
}

func (p *localPrimitive) Commit(_ context.Context, payload []byte, layer commit.Layer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ref := fmt.Sprintf("local-%s-%d", layer, p.seq)
	p.payloads[ref] = append([]byte(nil), payload...)
	return ref, nil
}

func (p *localPrimitive) Fetch(_ context.Context, reference string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.payloads[reference]
	if !ok {
		return nil, false, fmt.Errorf("unknown reference %s", reference)
	}
	return payload, true, nil
}

// localLedger acknowledges escrow calls with synthetic transaction refs.
type localLedger struct {
	mu  sync.Mutex
	seq int
}

func (l *localLedger) ref(kind string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return fmt.Sprintf("0xledger-%s-%d", kind, l.seq)
}

func (l *localLedger) CreateEscrow(context.Context, *escrow.Escrow) (string, error) {
	return l.ref("create"), nil
}

func (l *localLedger) SubmitDelivery(context.Context, [32]byte, [32]byte) (string, error) {
	return l.ref("delivery"), nil
}

func (l *localLedger) Settle(context.Context, [32]byte, bool) (string, error) {
	return l.ref("settle"), nil
}

// localScorer grades deliveries by length as a stand-in for the scoring
// oracle.
type localScorer struct{}

func (localScorer) Score(_ context.Context, delivery, _ string, threshold float64, _ string) (oracle.Verdict, error) {
	score := float64(len(delivery)) / 64
	if score > 10 {
		score = 10
	}
	return oracle.Verdict{Score: score, Passed: score >= threshold, Reasoning: "length heuristic"}, nil
}
