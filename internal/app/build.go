// Package app wires configuration, storage, providers and the HTTP
// surface into one runnable service.
package app

import (
	"context"
	"fmt"

	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/events"
	"github.com/inkwell-labs/inkwell/internal/httpapi"
	"github.com/inkwell-labs/inkwell/internal/observability"
	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/ttsstream"
	"github.com/inkwell-labs/inkwell/internal/tutor"
)

// eventQueueSize bounds each SSE subscriber's buffer. Slow readers start
// dropping their oldest queued events past this.
const eventQueueSize = 256

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Store     store.Store
	Registry  *session.Registry
	Broker    *events.Broker
	Handles   *ttsstream.Registry
	Pipeline  *tutor.Pipeline
	Metrics   *observability.Metrics
	Providers ProviderInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	providers, info := resolveProviders(cfg)

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)
	broker := events.NewBroker(eventQueueSize)
	handles := ttsstream.NewRegistry(cfg.TTSHandleTTL)

	pipeline := tutor.New(tutor.Config{
		TranscribeDebounce: cfg.TranscribeDebounce,
		ReasoningDebounce:  cfg.ReasoningDebounce,
		TranscriptionWait:  cfg.TranscriptionWait,
	}, tutor.Deps{
		Store:      st,
		Registry:   registry,
		Broker:     broker,
		Handles:    handles,
		Recognizer: providers.recognizer,
		LLM:        providers.llm,
		Metrics:    metrics,
	})

	registry.SetEvictHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("evicted").Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
		pipeline.CleanupSession(s.ID)
	})
	handles.SetExpireHook(func(dropped int) {
		metrics.TTSHandles.WithLabelValues("expired").Add(float64(dropped))
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Store:    st,
		Registry: registry,
		Broker:   broker,
		Handles:  handles,
		Pipeline: pipeline,
		STT:      providers.stt,
		TTS:      providers.tts,
		Metrics:  metrics,
	})

	cleanup := func() error {
		pipeline.Close()
		if err := st.Close(); err != nil {
			return fmt.Errorf("store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Store:     st,
		Registry:  registry,
		Broker:    broker,
		Handles:   handles,
		Pipeline:  pipeline,
		Metrics:   metrics,
		Providers: info,
		Cleanup:   cleanup,
	}, nil
}
