package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sirenlab/dispatchd/internal/api"
	"github.com/sirenlab/dispatchd/internal/config"
	"github.com/sirenlab/dispatchd/internal/dispatch"
	"github.com/sirenlab/dispatchd/internal/greenwave"
	"github.com/sirenlab/dispatchd/internal/logging"
	"github.com/sirenlab/dispatchd/internal/routing"
	"github.com/sirenlab/dispatchd/internal/store"
	"github.com/sirenlab/dispatchd/internal/tracking"
	"github.com/sirenlab/dispatchd/internal/traffic"
	"github.com/sirenlab/dispatchd/internal/triage"
	"github.com/sirenlab/dispatchd/internal/triage/providers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

// stack bundles the wired pipeline for the commands that need it.
type stack struct {
	cfg       *config.Config
	store     *store.Store
	planner   *dispatch.Planner
	tracker   *tracking.Engine
	greenWave *greenwave.Coordinator
}

// buildStack loads configuration and wires the full pipeline. Configuration
// problems terminate the process with the configuration exit code.
func buildStack() *stack {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "dispatchd"})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(exitConfig)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "dispatchd",
	})

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
		os.Exit(exitConfig)
	}

	catalog, err := greenwave.LoadCatalog(cfg.IntersectionsFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.IntersectionsFile).
			Msg("Failed to load intersection catalog")
		os.Exit(exitConfig)
	}

	resolver := routing.NewResolver(cfg, logging.With("routing"))
	selector := dispatch.NewSelector(st, resolver, cfg.VehicleCandidates, cfg.AgentCandidates)
	adjuster := traffic.NewAdjuster(resolver, logging.With("traffic"))
	gw := greenwave.NewCoordinator(catalog, logging.With("greenwave"))
	tracker := tracking.NewEngine(st, cfg.Location(), logging.With("tracking"))
	gw.UseSpeedSource(tracker)
	planner := dispatch.NewPlanner(st, buildTriageEngine(cfg), selector, adjuster, gw,
		cfg.RoutingMaxResults, logging.With("dispatch"))

	return &stack{cfg: cfg, store: st, planner: planner, tracker: tracker, greenWave: gw}
}

// buildTriageEngine selects the classifier backend. Validate has already
// rejected cloud selections without credentials.
func buildTriageEngine(cfg *config.Config) *triage.Engine {
	if cfg.TriageProvider != config.TriageCloud {
		return triage.NewEngine()
	}
	switch cfg.AIProvider {
	case "ollama":
		return triage.NewEngineWithProvider(
			providers.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.AITimeout))
	default:
		return triage.NewEngineWithProvider(
			providers.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBase, cfg.AITimeout))
	}
}

func runServer() {
	s := buildStack()
	defer s.store.Close()

	api.Version = Version
	router := api.NewRouter(s.cfg, s.store, s.planner, s.tracker, s.greenWave, nil,
		logging.With("api"))

	addr := fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.ListenPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
		// ReadHeaderTimeout instead of ReadTimeout so the tracking
		// websocket is not cut off by a connection deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Str("version", Version).Msg("Starting dispatch server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Forced shutdown")
	}
}
