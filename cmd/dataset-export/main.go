// dataset-export submits a dataset export, waits for it and stores its artifacts.
package main

import (
	"context"
	"datasetclient/internal/config"
	"datasetclient/internal/notify"
	"datasetclient/internal/observability"
	"datasetclient/internal/sink"
	"datasetclient/pkg/apperrors"
	"datasetclient/pkg/backoff"
	"datasetclient/pkg/dataset"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var errExportFailed = errors.New("export failed")

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Export failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	clientCfg := config.LoadClientConfig()
	exportCfg := config.LoadExportConfig()

	fs := flag.NewFlagSet("dataset-export", flag.ContinueOnError)
	requestFile := fs.String("request", exportCfg.RequestFile, "YAML export request file")
	exportID := fs.String("export-id", "", "resume waiting on an existing export instead of submitting")
	output := fs.String("output", exportCfg.Output, "artifact directory or s3://bucket/prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: exportCfg.LogLevel})))

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}
	if exportCfg.MetricsPort != "" {
		stopMetrics := serveMetrics(exportCfg.MetricsPort, metricsHandler)
		defer stopMetrics()
	}

	client, err := dataset.New(clientCfg.Dataset(), dataset.WithMetrics(metrics))
	if err != nil {
		return err
	}
	if clientCfg.APIKey == "" {
		slog.Warn("No DATASET_API_KEY configured - requests are unauthenticated")
	}

	id := *exportID
	if id == "" {
		if *requestFile == "" {
			return fmt.Errorf("either -request or -export-id is required")
		}
		handle, err := submit(ctx, client, *requestFile, exportCfg.SubmitRetries)
		if err != nil {
			return err
		}
		id = handle.ID
	}

	logger := slog.With("exportId", id)
	logger.Info("Waiting for export", "interval", exportCfg.PollInterval, "timeout", exportCfg.WaitTimeout)

	handle, err := client.WaitForExport(ctx, id, exportCfg.PollInterval, exportCfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("wait for export %s: %w", id, err)
	}

	var locations map[string]string
	if handle.Status == dataset.StatusSucceeded {
		store, err := sink.Open(ctx, client, *output)
		if err != nil {
			return err
		}
		locations, err = sink.StoreAll(ctx, store, handle)
		if err != nil {
			return err
		}
		for url, location := range locations {
			logger.Info("Stored artifact", "url", url, "location", location)
		}
	}

	if exportCfg.NotifyURL != "" {
		if err := announce(ctx, exportCfg, handle, locations); err != nil {
			// Notification failures do not fail the export.
			logger.Error("Failed to send export event", "error", err)
		}
	}

	if handle.Status == dataset.StatusFailed {
		return fmt.Errorf("%w: %s: %s", errExportFailed, handle.ID, handle.Error)
	}
	logger.Info("Export complete", "artifacts", len(handle.Artifacts))
	return nil
}

// submit loads the request file and queues the export, retrying transient failures.
func submit(ctx context.Context, client *dataset.Client, path string, retries int) (dataset.ExportHandle, error) {
	req, err := config.LoadExportRequest(path)
	if err != nil {
		return dataset.ExportHandle{}, err
	}

	var handle dataset.ExportHandle
	err = backoff.Retry(ctx, &backoff.Config{Attempts: retries}, func(ctx context.Context) error {
		var err error
		handle, err = client.SubmitExport(ctx, req)
		if err != nil && apperrors.IsRetryable(err) {
			slog.Warn("Submit failed, retrying", "error", err)
		}
		return err
	}, apperrors.IsRetryable)
	if err != nil {
		return dataset.ExportHandle{}, fmt.Errorf("submit export: %w", err)
	}
	return handle, nil
}

func announce(ctx context.Context, cfg *config.ExportConfig, handle dataset.ExportHandle, locations map[string]string) error {
	sender := notify.NewSender(cfg.NotifyURL, cfg.NotifyKey, 10*time.Second)
	event := notify.NewExportEvent("/dataset-export", handle, locations)
	return backoff.Retry(ctx, &backoff.Config{Attempts: 3}, func(ctx context.Context) error {
		return sender.Send(ctx, event)
	}, notify.IsRetryable)
}

// serveMetrics starts the metrics server and returns a function that stops it.
func serveMetrics(port string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}
}
