package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/chain"
	"github.com/modelgate/modelgate/config"
	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/gateway"
	"github.com/modelgate/modelgate/pkg/logger"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/provider/plugins/anthropic"
	"github.com/modelgate/modelgate/provider/plugins/azure"
	"github.com/modelgate/modelgate/provider/plugins/bedrock"
	"github.com/modelgate/modelgate/provider/plugins/openai"
	"github.com/modelgate/modelgate/registry"
	"github.com/modelgate/modelgate/semcache"
	"github.com/modelgate/modelgate/store"
	"github.com/modelgate/modelgate/telemetry"
	"github.com/modelgate/modelgate/usage"
	"github.com/modelgate/modelgate/webhook"
	"github.com/modelgate/modelgate/workflow"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config YAML (defaults apply when omitted)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return config.Parse(data)
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tel core.Telemetry
	if cfg.Observability.Tracing.Enabled {
		otelProv, err := telemetry.NewOTelProvider(telemetry.Options{
			ServiceName:   "modelgate",
			OTLPEndpoint:  cfg.Observability.Tracing.OTLPEndpoint,
			SamplingRatio: cfg.Observability.Tracing.SamplingRatio,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = otelProv.Shutdown(flushCtx)
		}()
		tel = otelProv
	}

	entityStore, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := registry.New(entityStore, log)

	plugins := provider.NewPluginRegistry(log)
	if cfg.Plugins.Settings.Enabled {
		if err := activatePlugins(ctx, plugins, cfg); err != nil {
			return err
		}
	}

	models, creds := gateway.Sources(reg)
	router := provider.NewRouter(plugins, models, creds, log)
	chains := chain.NewExecutor(router, chain.WithLogger(log))
	workflows := workflow.NewExecutor(router,
		workflow.WithLogger(log),
		workflow.WithMaxSteps(cfg.Workflow.MaxSteps),
	)
	dispatcher := webhook.NewDispatcher(reg, log)
	usageSvc := usage.NewService(reg, nil, dispatcher, log)
	cacheSvc := buildCache(cfg, log)

	svc := gateway.NewService(reg, chains, workflows, cacheSvc, usageSvc, dispatcher, log)
	srv := gateway.NewServer(svc, reg, tel, log)

	go dispatcher.RunRetryWorker(ctx, time.Duration(cfg.Webhooks.PollIntervalSecs)*time.Second)
	go usageSvc.RunPeriodSweeper(ctx, time.Minute)
	if cacheSvc != nil {
		go cacheSvc.RunJanitor(ctx, 5*time.Minute)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("Gateway listening", map[string]interface{}{
		"operation": "serve",
		"addr":      httpSrv.Addr,
		"storage":   cfg.Storage.Backend,
		"version":   version,
	})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("Shutting down", map[string]interface{}{"operation": "serve"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", map[string]interface{}{
			"operation": "serve",
			"error":     err.Error(),
		})
	}
	dispatcher.Flush()
	return nil
}

// openStore builds the configured persistence backend. The postgres
// path runs pending migrations before serving.
func openStore(ctx context.Context, cfg *config.Config, log core.Logger) (store.EntityStore, func(), error) {
	if cfg.Storage.Backend != "postgres" {
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := store.NewMigrator(pool, log).Run(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return store.NewPostgresStore(pool, log), pool.Close, nil
}

// activatePlugins registers and initializes the providers enabled in the
// config. A plugin that fails to initialize aborts startup.
func activatePlugins(ctx context.Context, plugins *provider.PluginRegistry, cfg *config.Config) error {
	activations := []struct {
		id      string
		enabled bool
		build   func() provider.Plugin
	}{
		{"openai", cfg.Plugins.Providers.OpenAI.Enabled, func() provider.Plugin { return openai.NewPlugin() }},
		{"anthropic", cfg.Plugins.Providers.Anthropic.Enabled, func() provider.Plugin { return anthropic.NewPlugin() }},
		{"azure_openai", cfg.Plugins.Providers.AzureOpenAI.Enabled, func() provider.Plugin { return azure.NewPlugin() }},
		{"bedrock", cfg.Plugins.Providers.Bedrock.Enabled, func() provider.Plugin { return bedrock.NewPlugin() }},
	}

	for _, a := range activations {
		if !a.enabled {
			continue
		}
		if err := plugins.Register(a.build()); err != nil {
			return fmt.Errorf("registering %s plugin: %w", a.id, err)
		}
		if err := plugins.Initialize(ctx, a.id); err != nil {
			return fmt.Errorf("initializing %s plugin: %w", a.id, err)
		}
	}
	return nil
}

// buildCache assembles the semantic cache when enabled. Embeddings need
// an OpenAI key from the environment; without one the cache is skipped
// rather than failing startup.
func buildCache(cfg *config.Config, log core.Logger) *semcache.Service {
	if !cfg.SemanticCache.Enabled {
		return nil
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Warn("Semantic cache disabled: OPENAI_API_KEY is not set", map[string]interface{}{
			"operation": "serve",
		})
		return nil
	}

	var backing semcache.Cache
	if addr := cfg.SemanticCache.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		backing = semcache.NewRedisCache(client, log)
	} else {
		backing = semcache.NewMemoryCache(cfg.SemanticCache.MaxEntries)
	}
	embedder := semcache.NewOpenAIEmbeddings(apiKey, "", cfg.SemanticCache.EmbeddingModel)
	return semcache.NewService(backing, embedder, cfg.SemanticCache, log)
}
