package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicenote/internal/config"
	"github.com/GriffinCanCode/voicenote/internal/disambiguation"
	"github.com/GriffinCanCode/voicenote/internal/enrichment"
	"github.com/GriffinCanCode/voicenote/internal/grpcclient"
	"github.com/GriffinCanCode/voicenote/internal/llm"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/session"
	"github.com/GriffinCanCode/voicenote/internal/proposal"
	"github.com/GriffinCanCode/voicenote/internal/server"
	"github.com/GriffinCanCode/voicenote/internal/speech"
	"github.com/GriffinCanCode/voicenote/internal/store"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	backend, err := grpcclient.New(cfg.SpeechAddr, grpcclient.DefaultConfig())
	if err != nil {
		slog.Error("failed to connect to speech backend", "addr", cfg.SpeechAddr, "error", err)
		return err
	}
	defer func() { _ = backend.Close() }()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	llmCfg := llm.DefaultConfig()
	llmCfg.Model = cfg.LLM.Model
	llmCfg.Temperature = cfg.LLM.Temperature
	llmCfg.MaxTokens = cfg.LLM.MaxTokens
	extractor := llm.NewExtractor(backend, llmCfg)

	speechMgr := speech.NewStreamManager(backend)
	analyzer := enrichment.NewAnalyzer(orchestrator.AnalyzerConfig(cfg), extractor, disambiguation.New(extractor))

	mgr := orchestrator.NewManager(cfg, session.Deps{
		Speech:    speechMgr,
		Analyzer:  analyzer,
		Proposals: proposal.NewBuilder(st),
		Contacts:  st,
	})
	mgr.Start(ctx)
	defer mgr.Stop()

	srv := server.New(mgr, speechMgr, st, cfg)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("voicenote server starting", "http", cfg.HTTPAddr, "speech", cfg.SpeechAddr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("http server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete", "stats", mgr.Stats())
	return nil
}
