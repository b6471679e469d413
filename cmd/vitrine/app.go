package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/barekit/vitrine/pkg/analytics"
	"github.com/barekit/vitrine/pkg/assistant"
	"github.com/barekit/vitrine/pkg/cache"
	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/chunker"
	"github.com/barekit/vitrine/pkg/config"
	"github.com/barekit/vitrine/pkg/database"
	"github.com/barekit/vitrine/pkg/intent"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/knowledge/factory"
	kopenai "github.com/barekit/vitrine/pkg/knowledge/openai"
	lopenai "github.com/barekit/vitrine/pkg/llm/openai"
	"github.com/barekit/vitrine/pkg/observability"
	"github.com/barekit/vitrine/pkg/profile"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const version = "0.1.0"

// app holds the components built from one configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	provider *lopenai.Provider
	embedder *kopenai.Embedder
	chunker  *chunker.Chunker

	content   knowledge.VectorStore[knowledge.ChunkMetadata]
	aesthetic knowledge.VectorStore[profile.AestheticMetadata]
	visual    knowledge.VectorStore[profile.VisualMetadata]

	catalogDB *gorm.DB
	products  *catalog.Repository
	resolver  *catalog.Resolver

	cache     cache.Store
	analytics *analytics.Store
	tracing   *observability.TracerProvider

	closers []func(context.Context) error
}

// loadConfig reads and validates the configuration and installs the
// process logger. Warnings are logged; errors are fatal.
func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("configuration warning", "warning", w)
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = tp
	a.closers = append(a.closers, tp.Shutdown)

	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey), option.WithMaxRetries(2)}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	a.provider = lopenai.New(opts...)
	a.provider.SetModel(cfg.OpenAI.ChatModel)
	a.embedder = kopenai.NewEmbedder(opts...)
	a.embedder.SetModel(cfg.OpenAI.EmbeddingModel)

	a.chunker = chunker.New(
		chunker.WithMaxTokens(cfg.Chunker.Size),
		chunker.WithOverlapTokens(cfg.Chunker.Overlap),
	)

	if a.content, err = openStore[knowledge.ChunkMetadata](ctx, a, config.IndexContent); err != nil {
		return err
	}
	if a.aesthetic, err = openStore[profile.AestheticMetadata](ctx, a, config.IndexAesthetic); err != nil {
		return err
	}
	if a.visual, err = openStore[profile.VisualMetadata](ctx, a, config.IndexVisual); err != nil {
		return err
	}

	if cfg.Catalog.Enabled() {
		driver, dsn, err := cfg.Catalog.Connection()
		if err != nil {
			return err
		}
		db, err := database.Open(driver, dsn)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		a.catalogDB = db
		a.closers = append(a.closers, closeDB(db))
		a.products = catalog.NewRepository(db)
		a.resolver = catalog.NewResolver(a.products,
			catalog.WithBaseURL(cfg.Catalog.BaseURL),
			catalog.WithLogger(a.logger))
	} else {
		a.resolver = catalog.NewResolver(nil, catalog.WithLogger(a.logger))
	}

	if a.cache, err = a.newCache(); err != nil {
		return err
	}

	if cfg.Analytics.Enabled {
		driver, err := database.ParseDriver(cfg.Analytics.Driver)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		db, err := database.Open(driver, cfg.Analytics.DSN)
		if err != nil {
			return fmt.Errorf("open analytics: %w", err)
		}
		a.closers = append(a.closers, closeDB(db))
		if a.analytics, err = analytics.NewStore(ctx, db); err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
	}
	return nil
}

func openStore[M any](ctx context.Context, a *app, index string) (knowledge.VectorStore[M], error) {
	store, err := factory.NewStore[M](ctx, a.cfg.Vector.Store(index, a.logger))
	if err != nil {
		return nil, fmt.Errorf("open %s index: %w", index, err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
	return store, nil
}

func closeDB(db *gorm.DB) func(context.Context) error {
	return func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

func (a *app) newCache() (cache.Store, error) {
	cfg := a.cfg.Cache
	opts := []cache.Option{
		cache.WithTTL(cfg.TTL),
		cache.WithMaxSize(cfg.MaxSize),
		cache.WithLogger(a.logger),
	}
	if cfg.Type != "redis" {
		return cache.NewMemory(opts...), nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return cache.NewRedis(client, cfg.Prefix, opts...), nil
}

// assistant builds the answering pipeline over the app's components.
func (a *app) assistant() (*assistant.Assistant, error) {
	cfg := a.cfg

	classifier := intent.Default()
	if cfg.Intent.TablesPath != "" {
		tables, err := intent.LoadTables(cfg.Intent.TablesPath)
		if err != nil {
			return nil, err
		}
		classifier = intent.New(tables)
	}

	opts := []assistant.Option{
		assistant.WithProfileStores(a.aesthetic, a.visual),
		assistant.WithResolver(a.resolver),
		assistant.WithClassifier(classifier),
		assistant.WithCache(a.cache),
		assistant.WithLogger(a.logger),
		assistant.WithModel(cfg.OpenAI.ChatModel),
		assistant.WithVisionModel(cfg.OpenAI.VisionModel),
		assistant.WithTemperature(cfg.Assistant.Temperature),
		assistant.WithMaxTokens(cfg.Assistant.MaxTokens),
		assistant.WithTopK(cfg.Assistant.TopK),
		assistant.WithProductLimit(cfg.Assistant.ProductLimit),
		assistant.WithTimeout(cfg.Assistant.Timeout),
	}
	if a.analytics != nil {
		opts = append(opts, assistant.WithRecorder(a.analytics))
	}
	if cfg.Assistant.Seed {
		opts = append(opts, assistant.WithSeedDocuments(assistant.DefaultSeedDocuments()))
	}
	if cfg.Assistant.SystemPromptFile != "" {
		prompt, err := os.ReadFile(cfg.Assistant.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		opts = append(opts, assistant.WithSystemPrompt(string(prompt)))
	}
	return assistant.New(a.provider, a.embedder, a.content, opts...)
}

// builder returns the index builder, or an error without a catalog.
func (a *app) builder() (*profile.Builder, error) {
	if a.products == nil {
		return nil, errors.New("indexing needs a catalog database; set catalog.dsn or DB_HOST")
	}
	s := a.cfg.Scheduler
	return profile.NewBuilder(a.products, a.embedder,
		profile.WithAestheticStore(a.aesthetic),
		profile.WithVisualStore(a.visual, profile.NewAnalyzer(a.provider, a.cfg.OpenAI.VisionModel)),
		profile.WithContentStore(a.content, a.chunker),
		profile.WithBaseURL(a.cfg.Catalog.BaseURL),
		profile.WithConcurrency(s.Concurrency),
		profile.WithLogger(a.logger),
	), nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
