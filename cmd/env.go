package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/acquire"
	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/correlate"
	"github.com/sells-group/leadgen-cli/internal/ledger"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/task"
	"github.com/sells-group/leadgen-cli/internal/verifier"
	"github.com/sells-group/leadgen-cli/pkg/signalhire"
	"github.com/sells-group/leadgen-cli/pkg/trestle"
)

// leadEnv holds the initialized store, clients, and pipeline services
// needed by the search/serve/tasks commands.
type leadEnv struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Acquirer   *acquire.Acquirer
	Correlator *correlate.Correlator
	Service    *task.Service
	Collector  *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *leadEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, API clients, and the task pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*leadEnv, error) {
	if cfg.SignalHire.Key == "" {
		return nil, eris.New("signalhire API key is required (LEADGEN_SIGNALHIRE_KEY)")
	}
	if cfg.SignalHire.CallbackURL == "" {
		return nil, eris.New("signalhire callback URL is required (LEADGEN_SIGNALHIRE_CALLBACK_URL)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	shOpts := []signalhire.Option{}
	if cfg.SignalHire.BaseURL != "" {
		shOpts = append(shOpts, signalhire.WithBaseURL(cfg.SignalHire.BaseURL))
	}
	if cfg.SignalHire.RateRPS > 0 {
		shOpts = append(shOpts, signalhire.WithRateLimit(cfg.SignalHire.RateRPS, cfg.SignalHire.RateBurst))
	}
	shClient := signalhire.NewClient(cfg.SignalHire.Key, shOpts...)

	var trOpts []trestle.Option
	if cfg.Trestle.BaseURL != "" {
		trOpts = append(trOpts, trestle.WithBaseURL(cfg.Trestle.BaseURL))
	}
	trClient := trestle.NewClient(cfg.Trestle.Key, trOpts...)
	if cfg.Trestle.Key == "" {
		zap.L().Warn("LEADGEN_TRESTLE_KEY not set, revealed phones will stay unverified")
	}

	// Region policy file is optional; config defaults apply without it.
	var policy *acquire.Policy
	if cfg.Acquire.PolicyFile != "" {
		policy, err = acquire.LoadPolicy(cfg.Acquire.PolicyFile)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load acquisition policy")
		}
		zap.L().Info("acquisition policy loaded",
			zap.String("path", cfg.Acquire.PolicyFile),
			zap.Int("regions", len(policy.Regions)),
		)
	}

	led := ledger.New(st, cfg.Acquire.AssignmentExpiryDays)
	acq := acquire.New(st, led, shClient, cfg.Acquire, policy)
	ver := verifier.New(st, trClient, cfg.Trestle.VerifyMinScore)
	cor := correlate.New(st, shClient, ver, cfg.SignalHire.CallbackURL,
		revealExpiry(cfg.Reveal), cfg.Reveal.MaxConcurrentDispatch)
	svc := task.New(st, acq, cor)

	return &leadEnv{
		Store:      st,
		Ledger:     led,
		Acquirer:   acq,
		Correlator: cor,
		Service:    svc,
		Collector:  monitoring.NewCollector(st, cor),
	}, nil
}

func revealExpiry(c config.RevealConfig) time.Duration {
	return time.Duration(c.ExpiryMins) * time.Minute
}

