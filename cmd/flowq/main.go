// Command flowq runs a flowq node with in-memory flow collaborators. A
// single enabled flow with id "demo" echoes its webhook body:
//
//	curl -X POST localhost:8080/v1/webhooks/demo/sync -d '{"hi":1}'
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petrijr/flowq"
	"github.com/petrijr/flowq/internal/memflow"
	"github.com/petrijr/flowq/pkg/api"
)

func main() {
	if err := run(); err != nil {
		slog.Error("flowq_exit", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	settings, err := flowq.LoadSettings()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flows := memflow.NewStore()
	flows.PutVersion(api.FlowVersion{ID: "demo-v1", FlowID: "demo", TriggerType: "webhook"})
	flows.PutFlow(api.Flow{ID: "demo", ProjectID: "demo", Status: api.FlowEnabled, PublishedVersionID: "demo-v1"})
	engine := memflow.NewEngine(flows, nil)
	engine.Logger = logger

	rt, err := flowq.New(ctx, settings, flowq.Deps{
		Flows:        flows,
		Versions:     flows,
		Hooks:        memflow.NewHooks(),
		Handshake:    engine,
		Extractor:    engine,
		Runs:         engine,
		Paused:       flows,
		Resumer:      engine,
		Engine:       engine,
		Poller:       engine,
		Interactions: engine,
	}, flowq.WithLogger(logger))
	if err != nil {
		return err
	}
	engine.Publisher = rt.Watcher()

	if err := rt.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_listening", slog.String("addr", settings.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http_serve_failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
