package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nickmurray47/goose/internal/agent"
	agentcontext "github.com/nickmurray47/goose/internal/agent/context"
	"github.com/nickmurray47/goose/internal/agent/providers"
	"github.com/nickmurray47/goose/internal/agent/routing"
	"github.com/nickmurray47/goose/internal/config"
	"github.com/nickmurray47/goose/internal/extensions"
	"github.com/nickmurray47/goose/internal/observability"
	"github.com/nickmurray47/goose/internal/security"
	"github.com/nickmurray47/goose/internal/sessions"
	"github.com/nickmurray47/goose/pkg/models"
)

// engine assembles the runtime from config: providers, router,
// extension registry, dispatcher, stores, and telemetry.
type engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	providers  *agent.ProviderSet
	router     *routing.Router
	registry   *extensions.Registry
	dispatcher *extensions.Dispatcher
	store      sessions.Store
	scanner    *security.Scanner
	metrics    *observability.Metrics
	redactor   *observability.Redactor

	tracerShutdown func(context.Context) error
	metricsServer  *http.Server
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	providerSet, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	router, err := routing.NewRouter(routing.Config{
		Bindings:  cfg.Routing.Bindings,
		LeadTurns: cfg.Routing.LeadTurns,
	})
	if err != nil {
		return nil, err
	}

	store, err := sessions.Open(cfg.Sessions.Backend, cfg.Sessions.Path)
	if err != nil {
		return nil, err
	}

	registry := extensions.NewRegistry(logger)
	for _, spec := range cfg.Extensions {
		client := extensions.NewStdioClient(spec, logger)
		if err := registry.Register(ctx, spec, client); err != nil {
			logger.Warn("extension failed to start", "extension", spec.Name, "error", err)
		}
	}

	e := &engine{
		cfg:       cfg,
		logger:    logger,
		providers: providerSet,
		router:    router,
		registry:  registry,
		dispatcher: extensions.NewDispatcher(registry, extensions.DispatcherConfig{
			MaxInFlight: cfg.Dispatch.MaxInFlight,
			CallTimeout: cfg.Dispatch.CallTimeout,
		}, logger),
		store:    store,
		scanner:  security.NewScanner(cfg.Security.Enabled),
		redactor: observability.NewRedactor(),
	}

	_, e.tracerShutdown = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "goose",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       true,
	})

	if cfg.Telemetry.MetricsEnabled {
		e.metrics = observability.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		e.metricsServer = &http.Server{
			Addr:              cfg.Telemetry.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := e.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	return e, nil
}

func buildProviders(cfg *config.Config) (*agent.ProviderSet, error) {
	set := agent.NewProviderSet()
	for name, pc := range cfg.Providers {
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, err
			}
			set.Register(p)
		case "openai":
			p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, err
			}
			set.Register(p)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return set, nil
}

// contextManager builds the compaction manager, summarizing through the
// worker binding so compaction never competes with the lead model.
func (e *engine) contextManager() *agentcontext.Manager {
	binding, err := e.router.Resolve(models.ModelRoleWorker)
	var summarize agentcontext.SummarizeFunc
	if err == nil {
		provider, lookupErr := e.providers.Lookup(binding.Provider)
		if lookupErr == nil {
			summarize = agentcontext.NewSummarizer(func(ctx context.Context, system, prompt string) (string, models.TokenUsage, error) {
				return agent.CompleteText(ctx, provider, binding, system, prompt)
			})
		}
	}
	counterModel := ""
	if main, err := e.router.Resolve(models.ModelRoleMain); err == nil {
		counterModel = main.Model
	}
	return agentcontext.NewManager(agentcontext.ManagerConfig{
		Threshold:      e.cfg.Compaction.Threshold,
		ProtectedTurns: e.cfg.Compaction.ProtectedTurns,
	}, agentcontext.NewCounter(counterModel), summarize, e.logger)
}

// controller assembles a turn controller for one session with the
// terminal UI, optional metrics, and optional trace file as sinks.
func (e *engine) controller(sess *models.Session, ui *consoleUI) (*agent.Controller, func(), error) {
	sinks := agent.MultiSink{ui}
	if e.metrics != nil {
		sinks = append(sinks, e.metrics)
	}

	cleanup := func() {}
	if e.cfg.Trace.Path != "" {
		tw, err := agent.NewTraceWriter(e.cfg.Trace.Path, sess.ID, e.traceRedactor())
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, tw)
		cleanup = func() {
			if err := tw.Close(); err != nil {
				e.logger.Warn("trace close failed", "error", err)
			}
		}
	}

	ctrl, err := agent.NewController(agent.Options{
		Session:       sess,
		Providers:     e.providers,
		Router:        e.router,
		Registry:      e.registry,
		Dispatcher:    e.dispatcher,
		Context:       e.contextManager(),
		Scanner:       e.scanner,
		Persister:     e.store,
		Sink:          sinks,
		Logger:        e.logger,
		Asker:         ui,
		MaxTurns:      e.cfg.MaxTurns,
		RiskThreshold: e.cfg.Security.Threshold,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return ctrl, cleanup, nil
}

// traceRedactor strips secrets from tool arguments and content before
// events hit the trace file.
func (e *engine) traceRedactor() agent.Redactor {
	return func(ev *models.AgentEvent) *models.AgentEvent {
		if ev.Tool == nil {
			return ev
		}
		clone := *ev
		tool := *ev.Tool
		tool.Content = e.redactor.Redact(tool.Content)
		tool.ArgsJSON = []byte(e.redactor.Redact(string(tool.ArgsJSON)))
		clone.Tool = &tool
		return &clone
	}
}

func (e *engine) close(ctx context.Context) {
	for _, name := range e.registry.Names() {
		if err := e.registry.Deregister(name); err != nil {
			e.logger.Warn("extension shutdown failed", "extension", name, "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("session store close failed", "error", err)
	}
	if e.metricsServer != nil {
		_ = e.metricsServer.Shutdown(ctx)
	}
	if e.tracerShutdown != nil {
		_ = e.tracerShutdown(ctx)
	}
}
