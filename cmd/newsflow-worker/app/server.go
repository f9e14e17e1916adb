package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kart-io/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"

	"github.com/kart-io/newsflow/cmd/newsflow-worker/app/options"
	"github.com/kart-io/newsflow/internal/analysis"
	"github.com/kart-io/newsflow/internal/cleaner"
	"github.com/kart-io/newsflow/internal/ingest"
	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
	"github.com/kart-io/newsflow/internal/provider/duckduckgo"
	"github.com/kart-io/newsflow/internal/provider/firecrawl"
	"github.com/kart-io/newsflow/internal/provider/rssfeed"
	"github.com/kart-io/newsflow/internal/provider/serperdev"
	"github.com/kart-io/newsflow/internal/store"
	"github.com/kart-io/newsflow/internal/vectorindex"
	"github.com/kart-io/newsflow/internal/watchdog"
	"github.com/kart-io/newsflow/internal/worker"
	milvuscomp "github.com/kart-io/newsflow/pkg/component/milvus"
	mongodbcomp "github.com/kart-io/newsflow/pkg/component/mongodb"
	"github.com/kart-io/newsflow/pkg/infra/app"
	"github.com/kart-io/newsflow/pkg/infra/pool"
	"github.com/kart-io/newsflow/pkg/llm/openai"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
)

const indexTimeout = 30 * time.Second

// newStore connects to MongoDB and ensures collection indexes.
func newStore(ctx context.Context, opts *options.WorkerOptions) (*store.Store, func(), error) {
	client, err := mongodbcomp.New(opts.MongoDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}

	st := store.New(client)

	idxCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()
	if err := st.EnsureIndexes(idxCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}

	closer := func() {
		if err := client.Close(); err != nil {
			logger.Warnw("failed to close mongodb client", "error", err)
		}
	}
	return st, closer, nil
}

// newIndexer connects to Milvus and builds the vector indexer.
func newIndexer(opts *options.WorkerOptions, st *store.Store) (*vectorindex.Indexer, func(), error) {
	mv, err := milvuscomp.New(opts.Milvus)
	if err != nil {
		return nil, nil, fmt.Errorf("connect milvus: %w", err)
	}

	embedder := resilience.NewResilientEmbeddingProvider(llmProvider(opts), retryConfig(opts), nil)
	idx := vectorindex.New(st, mv, embedder, opts.LLM.EmbeddingDim, opts.Milvus.UpsertBatchSize)

	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mv.Close(ctx); err != nil {
			logger.Warnw("failed to close milvus client", "error", err)
		}
	}
	return idx, closer, nil
}

// llmProvider builds the OpenAI compatible provider. Transport level
// retries stay off since the resilience wrappers and stage chains
// already retry.
func llmProvider(opts *options.WorkerOptions) *openai.Provider {
	return openai.NewProviderWithConfig(&openai.Config{
		BaseURL:    opts.LLM.BaseURL,
		APIKey:     opts.LLM.APIKey,
		EmbedModel: opts.LLM.EmbedModel,
		ChatModel:  opts.LLM.ChatModel,
		Timeout:    opts.LLM.Timeout,
		MaxRetries: 0,
	})
}

func retryConfig(opts *options.WorkerOptions) *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if opts.LLM.MaxRetries > 0 {
		cfg.MaxAttempts = opts.LLM.MaxRetries
	}
	return cfg
}

// searchProvider picks the search adapter. Serper is preferred when an
// API key is configured, otherwise the keyless DuckDuckGo endpoint is
// used.
func searchProvider(opts *options.WorkerOptions) provider.SearchProvider {
	if opts.Provider.SerperAPIKey != "" {
		return serperdev.New(&serperdev.Config{
			BaseURL:    opts.Provider.SerperBaseURL,
			APIKey:     opts.Provider.SerperAPIKey,
			Timeout:    opts.Provider.RequestTimeout,
			MaxRetries: opts.Provider.MaxRetries,
		})
	}
	return duckduckgo.New(&duckduckgo.Config{
		BaseURL:    opts.Provider.DuckDuckGoBaseURL,
		QuerySleep: opts.Provider.QuerySleep,
		Timeout:    opts.Provider.RequestTimeout,
		MaxRetries: opts.Provider.MaxRetries,
	})
}

func newIngestCoordinator(opts *options.WorkerOptions, st *store.Store, idx *vectorindex.Indexer) *ingest.Coordinator {
	base := llmProvider(opts)
	retry := retryConfig(opts)

	primary := resilience.NewResilientChatProvider(base, retry, nil)
	var fallback *resilience.ResilientChatProvider
	if opts.LLM.FallbackChatModel != "" && opts.LLM.FallbackChatModel != opts.LLM.ChatModel {
		fallback = resilience.NewResilientChatProvider(base.WithChatModel(opts.LLM.FallbackChatModel), retry, nil)
	}

	var contentCleaner *cleaner.Cleaner
	if fallback != nil {
		contentCleaner = cleaner.New(primary, fallback)
	} else {
		contentCleaner = cleaner.New(primary, nil)
	}

	converter := firecrawl.New(&firecrawl.Config{
		BaseURL:    opts.Provider.FirecrawlBaseURL,
		APIKey:     opts.Provider.FirecrawlAPIKey,
		Timeout:    opts.Provider.RequestTimeout,
		MaxRetries: opts.Provider.MaxRetries,
		RateLimit:  opts.Provider.ConvertRateLimit,
		RateWindow: opts.Provider.ConvertRateWindow,
	})

	return ingest.NewCoordinator(st, searchProvider(opts),
		rssfeed.New(opts.Provider.RequestTimeout), converter, contentCleaner, idx)
}

func newAnalysisCoordinator(opts *options.WorkerOptions, st *store.Store, idx *vectorindex.Indexer, p *pool.Pool) *analysis.Coordinator {
	limiter := rate.NewLimiter(rate.Limit(opts.LLM.RequestsPerSecond), opts.LLM.MaxConcurrency)
	stages := analysis.NewStages(llmProvider(opts), p, limiter, retryConfig(opts))

	cfg := analysis.Config{
		MinArticlesForClustering: opts.Worker.MinArticlesForClustering,
		OverviewArticles:         opts.Worker.OverviewArticles,
		MaxClusters:              opts.Worker.MaxClusters,
		IncludeSummaryThreshold:  opts.Worker.IncludeSummaryThreshold,
		StartersCount:            opts.Worker.StartersCount,
	}
	return analysis.NewCoordinator(st, idx, stages, cfg)
}

// runWatch runs the worker loop until a signal arrives or max runtime
// elapses.
func runWatch(opts *options.WorkerOptions) app.RunFunc {
	return func(_ []string) error {
		if err := opts.Log.Init(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, closeStore, err := newStore(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStore()

		idx, closeMilvus, err := newIndexer(opts, st)
		if err != nil {
			return err
		}
		defer closeMilvus()

		p, err := pool.NewPool("analysis", pool.AnalysisPool, pool.AnalysisPoolConfig(opts.LLM.MaxConcurrency))
		if err != nil {
			return fmt.Errorf("create analysis pool: %w", err)
		}
		defer p.Release()

		liveness := worker.NewLiveness(opts.Worker.LivenessAddr)
		liveness.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := liveness.Stop(shutdownCtx); err != nil {
				logger.Warnw("liveness shutdown failed", "error", err)
			}
		}()

		wd := watchdog.New(st, idx)
		go sweepStalledRuns(ctx, wd, opts.Worker.PollInterval, opts.Worker.StalledAfter)

		w := worker.New(st,
			newIngestCoordinator(opts, st, idx),
			newAnalysisCoordinator(opts, st, idx, p),
			opts.Worker.PollInterval, opts.Worker.MaxRuntime)

		logger.Infow("worker starting",
			"poll_interval", opts.Worker.PollInterval.String(),
			"max_runtime", opts.Worker.MaxRuntime.String(),
			"liveness_addr", opts.Worker.LivenessAddr)
		return w.Run(ctx)
	}
}

// sweepStalledRuns periodically marks long-running ingestion runs as
// failed while the watch loop is active.
func sweepStalledRuns(ctx context.Context, wd *watchdog.Watchdog, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := wd.TimeoutStalledRuns(ctx, threshold, nil, false); err != nil {
				logger.Errorw("stalled run sweep failed", "error", err)
			}
		}
	}
}

func runCreateIngestionTask(opts *options.WorkerOptions) app.RunFunc {
	return func(args []string) error {
		if err := opts.Log.Init(); err != nil {
			return err
		}

		configID, err := primitive.ObjectIDFromHex(args[0])
		if err != nil {
			return &app.ExitCodeError{Code: app.ExitUsage, Err: fmt.Errorf("invalid config id %q: %w", args[0], err)}
		}

		ctx := context.Background()
		st, closeStore, err := newStore(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStore()

		run, err := watchdog.New(st, nil).CreateIngestionTask(ctx, configID)
		if err != nil {
			return err
		}
		logger.Infow("ingestion run created", "run", run.ID.Hex())
		return nil
	}
}

func runCreateIngestionTasks(opts *options.WorkerOptions, flags *createTasksFlags) app.RunFunc {
	return func(_ []string) error {
		if err := opts.Log.Init(); err != nil {
			return err
		}

		workspaceID, err := workspaceFlag(flags.workspace)
		if err != nil {
			return err
		}

		var configType model.IngestionConfigType
		switch flags.configType {
		case "":
		case string(model.IngestionConfigSearch):
			configType = model.IngestionConfigSearch
		case string(model.IngestionConfigRSS):
			configType = model.IngestionConfigRSS
		default:
			return &app.ExitCodeError{Code: app.ExitUsage, Err: fmt.Errorf("invalid config type %q, want search or rss", flags.configType)}
		}

		ctx := context.Background()
		st, closeStore, err := newStore(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStore()

		runs, err := watchdog.New(st, nil).CreateIngestionTasks(ctx, workspaceID, configType)
		if err != nil {
			return err
		}
		logger.Infow("ingestion runs created", "count", len(runs))
		return nil
	}
}

func runSyncVectorDB(opts *options.WorkerOptions, flags *syncFlags) app.RunFunc {
	return func(_ []string) error {
		if err := opts.Log.Init(); err != nil {
			return err
		}

		workspaceID, err := workspaceFlag(flags.workspace)
		if err != nil {
			return err
		}

		exclude := make([]primitive.ObjectID, 0, len(flags.exclude))
		for _, raw := range flags.exclude {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				return &app.ExitCodeError{Code: app.ExitUsage, Err: fmt.Errorf("invalid excluded workspace id %q: %w", raw, err)}
			}
			exclude = append(exclude, id)
		}

		ctx := context.Background()
		st, closeStore, err := newStore(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStore()

		idx, closeMilvus, err := newIndexer(opts, st)
		if err != nil {
			return err
		}
		defer closeMilvus()

		return watchdog.New(st, idx).SyncVectorDB(ctx, workspaceID, exclude, flags.force)
	}
}

func runTimeoutStalledRuns(opts *options.WorkerOptions, flags *timeoutFlags) app.RunFunc {
	return func(_ []string) error {
		if err := opts.Log.Init(); err != nil {
			return err
		}

		workspaceID, err := workspaceFlag(flags.workspace)
		if err != nil {
			return err
		}

		threshold := opts.Worker.StalledAfter
		if flags.thresholdHours > 0 {
			threshold = time.Duration(flags.thresholdHours) * time.Hour
		}

		ctx := context.Background()
		st, closeStore, err := newStore(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStore()

		stalled, err := watchdog.New(st, nil).TimeoutStalledRuns(ctx, threshold, workspaceID, flags.dryRun)
		if err != nil {
			return err
		}
		logger.Infow("stalled run sweep finished", "stalled", len(stalled), "dry_run", flags.dryRun)
		return nil
	}
}

// workspaceFlag parses an optional workspace id flag value.
func workspaceFlag(raw string) (*primitive.ObjectID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return nil, &app.ExitCodeError{Code: app.ExitUsage, Err: fmt.Errorf("invalid workspace id %q: %w", raw, err)}
	}
	return &id, nil
}
