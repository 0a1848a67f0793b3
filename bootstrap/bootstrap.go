// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootstrap assembles the relayhub components from Settings. It
// is shared by relayhubd and relayctl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"relayhub/platform/chains"
	"relayhub/platform/chains/memory"
	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/config"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/shared/logger"
	"relayhub/platform/shared/settings"
)

// App holds the wired components
type App struct {
	Settings *settings.Settings
	Logger   *logger.Logger
	Secrets  config.SecretsManager
	Registry *registry.Registry
	Runner   *action.Runner
	Reporter *usage.Reporter
	History  memory.Store
	Chains   *chains.Service

	closers []func(context.Context) error
	slog    *zap.SugaredLogger
}

// New wires every component. Profiles from the connector file or the
// environment are registered; a profile that fails to connect is logged
// and skipped.
func New(ctx context.Context, s *settings.Settings, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.New("relayhub")
	}
	a := &App{Settings: s, Logger: log, slog: log.Sugared("bootstrap")}
	if err := a.init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	s := a.Settings

	secrets, err := config.NewSecretsManager(ctx, config.SecretsOptions{
		Provider: s.Secrets.Provider,
		Region:   s.Secrets.Region,
		CacheTTL: s.Secrets.CacheTTL,
	})
	if err != nil {
		return fmt.Errorf("secrets manager: %w", err)
	}
	a.Secrets = secrets
	resolver := config.NewCredentialResolver(secrets)

	sink, err := a.usageSink(ctx)
	if err != nil {
		return err
	}
	a.Reporter = usage.NewReporter(sink, usage.ReporterOptions{
		QueueSize:     s.Logging.QueueSize,
		BatchSize:     s.Logging.BatchSize,
		FlushInterval: s.Logging.FlushInterval,
		Logger:        a.Logger,
	})
	a.closers = append(a.closers, a.Reporter.Close)

	opts := []registry.Option{
		registry.WithCredentialSource(resolver),
		registry.WithRecorder(a.Reporter),
		registry.WithLogger(a.Logger.Sugared("registry")),
	}
	if s.Registry.PoolSize > 0 {
		opts = append(opts, registry.WithPoolSize(s.Registry.PoolSize))
	}
	if s.Registry.DatabaseURL != "" {
		storage, err := registry.NewPostgreSQLStorage(ctx, s.Registry.DatabaseURL)
		if err != nil {
			return fmt.Errorf("profile storage: %w", err)
		}
		if err := storage.InitSchema(ctx); err != nil {
			_ = storage.Close()
			return fmt.Errorf("profile storage schema: %w", err)
		}
		opts = append(opts, registry.WithStorage(storage))
	}
	a.Registry = registry.DefaultRegistry(opts...)
	// Registered after the reporter so it closes first and its last
	// events are still delivered.
	a.closers = append(a.closers, func(ctx context.Context) error {
		a.Registry.Close(ctx)
		return nil
	})

	if err := a.loadProfiles(ctx); err != nil {
		return err
	}
	if _, err := a.Registry.LoadFromStorage(ctx); err != nil {
		a.slog.Warnf("Failed to load stored profiles: %v", err)
	}

	a.Runner = action.NewRunner(a.Registry,
		action.WithCredentialSource(resolver),
		action.WithRecorder(a.Reporter),
		action.WithTenantRateLimit(s.Connectors.TenantRateLimit, s.Connectors.TenantRateBurst),
		action.WithTenantScopedRefs(s.Secrets.TenantScopedRefs),
		action.WithLogger(a.Logger.Sugared("action")),
	)

	if a.History, err = a.historyStore(ctx); err != nil {
		return err
	}

	builder := chains.NewBuilder(
		chains.WithStore(a.History),
		chains.WithActionRunner(a.Runner),
		chains.WithLLMDefaults(chains.LLMConfig{
			APIKey:  s.OpenAI.APIKey,
			Model:   s.OpenAI.Model,
			BaseURL: s.OpenAI.BaseURL,
		}),
		chains.WithDefaultProvider(s.LLM.Provider),
		chains.WithBedrockDefaults(chains.LLMConfig{
			Region:         s.Bedrock.Region,
			Model:          s.Bedrock.Model,
			EmbeddingModel: s.Bedrock.EmbeddingModel,
		}),
		chains.WithBuilderLogger(a.Logger.Sugared("chains")),
	)
	a.Chains = chains.NewService(builder,
		chains.WithRecorder(a.Reporter),
		chains.WithLogger(a.Logger.Sugared("chains")),
	)
	return nil
}

// usageSink picks the logging endpoint, then the usage_events table, then
// the structured log
func (a *App) usageSink(ctx context.Context) (usage.Sink, error) {
	s := a.Settings
	switch {
	case s.Logging.Endpoint != "":
		a.slog.Infof("Usage events go to %s", s.Logging.Endpoint)
		return usage.NewHTTPSink(s.Logging.Endpoint, s.Logging.APIKey, s.Logging.Timeout), nil
	case s.Registry.DatabaseURL != "":
		sink, err := usage.OpenSQLSink(ctx, s.Registry.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("usage sink: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
		return sink, nil
	default:
		return usage.LogSink{Logger: a.Logger}, nil
	}
}

func (a *App) loadProfiles(ctx context.Context) error {
	var file *config.YAMLConfigFileLoader
	if path := a.Settings.Connectors.File; path != "" {
		var err error
		if file, err = config.NewYAMLConfigFileLoader(path); err != nil {
			return fmt.Errorf("connector profiles: %w", err)
		}
	}
	loader := config.NewProfileLoader(file, a.Settings.Connectors.CacheTTL)
	profiles, source, err := loader.Load(ctx, "")
	if err != nil {
		return err
	}
	registered := 0
	for _, cfg := range profiles {
		if err := a.Registry.Register(ctx, cfg.Name, cfg); err != nil {
			a.slog.Warnf("Skipping profile %s: %v", cfg.Name, err)
			continue
		}
		registered++
	}
	if len(profiles) > 0 {
		a.slog.Infof("Registered %d of %d profile(s) from %s", registered, len(profiles), source)
	}
	return nil
}

func (a *App) historyStore(ctx context.Context) (memory.Store, error) {
	h := a.Settings.History
	switch h.Backend {
	case settings.HistoryRedis:
		store, err := memory.NewRedisStoreFromURL(ctx, h.RedisURL, memory.RedisOptions{TTL: h.TTL})
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case settings.HistoryMemory:
		return memory.NewInMemoryStore(), nil
	default:
		store, err := memory.NewFileStore(h.Dir)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		return store, nil
	}
}

// Close releases components in reverse order of creation
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
