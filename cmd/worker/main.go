package main

import (
	"flag"
	"log/slog"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/config"
	"dev/bravebird/mar-export/pkg/database"
	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/temporal/activities"
	"dev/bravebird/mar-export/pkg/temporal/workflows"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "json5 config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel)

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		logger.Error("Failed to create Temporal client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	// Run history is optional
	var history chunking.History
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Warn("Failed to connect to database, running without run history", "error", err)
	} else {
		defer db.Close()
		history = db
	}

	acts := activities.NewActivities(cfg.ChromeBin, cfg.ScreenshotDir, history)

	// One browser per session; chunks of a session run one at a time
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     5,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.ChunkedExportWorkflow)
	w.RegisterActivity(acts)

	logger.Info("Starting Temporal worker", "taskQueue", cfg.Temporal.TaskQueue, "host", cfg.Temporal.Host, "history", history != nil)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}
