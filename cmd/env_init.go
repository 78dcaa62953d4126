package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/agent"
	"github.com/harborview/clinical-copilot/internal/billing"
	"github.com/harborview/clinical-copilot/internal/commit"
	"github.com/harborview/clinical-copilot/internal/intent"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/internal/transcriptarena"
	anthropicpkg "github.com/harborview/clinical-copilot/pkg/anthropic"
)

// copilotEnv holds the initialized ledger, record store, runner and commit
// pipeline needed by the serve/submit/resume/commit commands.
type copilotEnv struct {
	Ledger      store.Store
	Records     records.Store
	Runner      *agent.Runner
	Pipeline    *commit.Pipeline
	Transcripts *transcriptarena.Arena
}

// Close releases resources held by the environment.
func (ce *copilotEnv) Close() {
	if ce.Records != nil {
		_ = ce.Records.Close()
	}
	if ce.Ledger != nil {
		_ = ce.Ledger.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "copilot.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRecords(ctx context.Context) (records.Store, error) {
	switch cfg.Records.Driver {
	case "memory":
		zap.L().Warn("using in-memory record store, data will not survive restart")
		return records.NewMemory(), nil
	case "postgres":
		return records.NewPostgres(ctx, cfg.Records.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported records driver: %s", cfg.Records.Driver)
	}
}

// initEnv sets up the ledger, record store, Anthropic client and the two
// engines built on them. Callers should defer env.Close().
func initEnv(ctx context.Context) (*copilotEnv, error) {
	ledger, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		_ = ledger.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rs, err := initRecords(ctx)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	if cfg.Anthropic.Key == "" {
		_ = rs.Close()
		_ = ledger.Close()
		return nil, eris.New("anthropic API key is required (COPILOT_ANTHROPIC_KEY)")
	}
	ai := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithRateLimit(cfg.Anthropic.RateLimit))
	classifier := intent.NewClassifier(ai, cfg.Anthropic.HaikuModel)
	transcripts := transcriptarena.New()

	runner := agent.NewRunner(ledger, rs, ai, classifier, transcripts, agent.Config{
		Model:     cfg.Anthropic.SonnetModel,
		MaxTokens: cfg.Anthropic.MaxTokens,
		MaxSteps:  cfg.Agent.MaxSteps,
	})

	codes, err := billing.LoadTable(nil)
	if err != nil {
		_ = rs.Close()
		_ = ledger.Close()
		return nil, eris.Wrap(err, "load billing codes")
	}
	pipeline := commit.NewPipeline(ledger, rs, codes)

	zap.L().Info("environment initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("records_driver", cfg.Records.Driver),
		zap.String("model", cfg.Anthropic.SonnetModel),
	)

	return &copilotEnv{
		Ledger:      ledger,
		Records:     rs,
		Runner:      runner,
		Pipeline:    pipeline,
		Transcripts: transcripts,
	}, nil
}
