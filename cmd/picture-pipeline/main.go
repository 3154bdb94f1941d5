// This file runs the picture-pipeline worker: it consumes post-commit bundles from
// JetStream and builds the picture renditions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/app"
	"github.com/book-expert/picture-pipeline/internal/config"
	"github.com/book-expert/picture-pipeline/internal/natsbus"
)

// configEnvVar names the variable holding the configuration file path or URL.
const configEnvVar = "PICTURE_PIPELINE_CONFIG"

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runErr := run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Fatal application error: %v", runErr)
		os.Exit(1)
	}

	log.Println("Application shut down gracefully.")
}

// run initializes all components and starts the message processing loop.
func run(ctx context.Context) error {
	cfg, appLogger, setupErr := setupConfigAndLogger()
	if setupErr != nil {
		return setupErr
	}
	defer func() {
		if closeErr := appLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close app logger: %v", closeErr)
		}
	}()

	if cfg.Renditions.Queue != config.QueueNATS {
		return fmt.Errorf("%w: the worker needs [renditions] queue = %q", config.ErrInvalidConfig, config.QueueNATS)
	}

	assembled, appErr := app.New(ctx, cfg, appLogger, app.Options{Executor: nil, Contributions: nil})
	if appErr != nil {
		return fmt.Errorf("failed to assemble the pipeline: %w", appErr)
	}
	defer func() {
		if closeErr := assembled.Close(); closeErr != nil {
			appLogger.Warn("Failed to release resources: %v", closeErr)
		}
	}()

	consumer, consumerErr := natsbus.Setup(ctx, assembled.JetStream, assembled.BusConfig())
	if consumerErr != nil {
		return fmt.Errorf("failed to set up JetStream resources: %w", consumerErr)
	}

	appLogger.Info("Worker is running, listening for bundles on '%s'...", assembled.BusConfig().Subject)

	return natsbus.NewWorker(consumer, assembled.HandleBundle, appLogger).Run(ctx)
}

// setupConfigAndLogger loads configuration and sets up the main application logger.
func setupConfigAndLogger() (*config.Config, *logger.Logger, error) {
	tempLogger, tempLoggerErr := logger.New(os.TempDir(), "picture-pipeline-bootstrap.log")
	if tempLoggerErr != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", tempLoggerErr)
	}
	defer func() {
		if closeErr := tempLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close temp logger: %v", closeErr)
		}
	}()

	cfg, loadErr := config.Load(os.Getenv(configEnvVar), tempLogger)
	if loadErr != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", loadErr)
	}

	appLogger, loggerErr := logger.New(cfg.Paths.BaseLogsDir, "picture-pipeline.log")
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", loggerErr)
	}

	return cfg, appLogger, nil
}
