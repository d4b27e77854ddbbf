package cmd

import (
	"context"
	"database/sql"
	"time"

	"github.com/kyleking/sql-assist/internal/cache"
	"github.com/kyleking/sql-assist/internal/config"
	"github.com/kyleking/sql-assist/internal/embedding"
	"github.com/kyleking/sql-assist/internal/engine"
	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/llm"
	"github.com/kyleking/sql-assist/internal/logging"
	"github.com/kyleking/sql-assist/internal/pipeline"
	"github.com/kyleking/sql-assist/internal/prompt"
	"github.com/kyleking/sql-assist/internal/retrieval"
	"github.com/kyleking/sql-assist/internal/schema"
	"github.com/kyleking/sql-assist/internal/validate"
)

// app owns everything built from a configuration
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	db       *sql.DB
	store    *cache.FileCache
}

// newApp loads the schema, builds the retrieval index and opens the
// database. generator may be nil, in which case the configured LLM client
// is used.
func newApp(ctx context.Context, cfg *config.Config, generator llm.Generator) (*app, error) {
	logger := logging.GetLogger()

	model, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}

	if generator == nil {
		generator, err = llm.NewClient(llm.Config{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Timeout:     config.Duration(cfg.LLM.Timeout),
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
	}

	policy, err := validate.ParsePolicy(cfg.Validation.Policy)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	var index *retrieval.Index
	if cfg.Retrieval.Enabled {
		index, err = a.buildIndex(ctx, model)
		if err != nil {
			a.Close()
			return nil, err
		}

		logger.Debugf("indexed %d schema columns", index.Len())
	}

	a.db, err = engine.Open(ctx, cfg.Engine.Driver, cfg.Engine.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Model:     model,
		Index:     index,
		Generator: generator,
		Validator: validate.New(policy, cfg.Validation.ReadOnly),
		Executor: engine.NewExecutor(a.db, engine.Options{
			Timeout: config.Duration(cfg.Engine.QueryTimeout),
			MaxRows: cfg.Engine.MaxRows,
		}),
		TopK:     cfg.Retrieval.TopK,
		Examples: prompt.DefaultExamples,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func loadSchema(cfg *config.Config) (*schema.Model, error) {
	model, err := schema.LoadFile(cfg.Schema.Path, schema.Format(cfg.Schema.Format))
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Type == errors.ErrTypeSchemaLoad && len(e.Suggestions) == 0 {
			e.WithSuggestion("Point --schema or SQL_ASSIST_SCHEMA_PATH at your schema description")
		}

		return nil, err
	}

	return model, nil
}

func (a *app) buildIndex(ctx context.Context, model *schema.Model) (*retrieval.Index, error) {
	var store cache.Cache

	if a.cfg.Embedding.CacheEnabled && a.cfg.Embedding.Provider == "remote" {
		fc, err := cache.NewFileCache(
			a.cfg.Cache.Directory,
			a.cfg.Cache.MaxSizeMB,
			time.Duration(a.cfg.Cache.TTLHours)*time.Hour,
			config.Duration(a.cfg.Cache.CleanupFreq),
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to open embedding cache")
		}

		a.store = fc
		store = fc
	}

	provider, err := embedding.NewProvider(embedding.Config{
		Provider:   a.cfg.Embedding.Provider,
		Model:      a.cfg.Embedding.Model,
		BaseURL:    a.cfg.Embedding.BaseURL,
		APIKey:     a.cfg.Embedding.APIKey,
		Dimensions: a.cfg.Embedding.Dimensions,
		Timeout:    config.Duration(a.cfg.Embedding.Timeout),
	}, store)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to create embedding provider")
	}

	var index *retrieval.Index

	err = logging.LoggerMiddleware("build_index", func() error {
		var buildErr error
		index, buildErr = retrieval.BuildIndex(ctx, model, provider, retrieval.BuildOptions{Workers: a.cfg.Retrieval.Workers})

		return buildErr
	})

	return index, err
}

// Close releases the database and stops the cache cleanup goroutine
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.GetLogger().ErrorWithErr("failed to close database", err)
		}
	}

	if a.store != nil {
		_ = a.store.Close()
	}
}
