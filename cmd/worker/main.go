package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/embedr/internal/app"
	"github.com/timmy/embedr/internal/config"
	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "embedr-worker",
	Short: "Image ingest worker",
	Long: `The worker claims ingest tasks from the queue, builds the JPEG2000 derivatives,
uploads them to object storage and finalizes items once all their tasks are done.

Examples:
  embedr-worker run
  embedr-worker process 6f1c2a.../3
  embedr-worker finalize <batch-id> <item-id> <task-count>`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Claim and process queued tasks until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var processCmd = &cobra.Command{
	Use:   "process <batch-id>/<task-id> | <batch-id> <task-id>",
	Short: "Process a single task",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runProcess,
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <batch-id> <item-id> <task-count>",
	Short: "Finalize one item of a batch",
	Args:  cobra.ExactArgs(3),
	RunE:  runFinalize,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config file")
	rootCmd.AddCommand(runCmd, processCmd, finalizeCmd)
}

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)

	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the pipeline components.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(ctx, cfg, logger.GetDefault())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	components, err := setup(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	appLogger := components.Logger
	cfg := components.Config

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: components.Metrics.Handler(),
	}
	go func() {
		appLogger.WithField("port", cfg.Server.MetricsPort).Info("Starting metrics server")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Error("Metrics server failed")
		}
	}()

	runErr := components.Runner.Run(appLogger.WithContext(ctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Metrics server forced to shutdown")
	}
	return runErr
}

func runProcess(cmd *cobra.Command, args []string) error {
	ref, err := parseRefArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	components, err := setup(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx = logger.SetBatchID(components.Logger.WithContext(ctx), ref.BatchID)
	if err := components.Worker.ProcessTask(ctx, ref); err != nil {
		return fmt.Errorf("failed to process task %s: %w", ref, err)
	}
	components.Logger.WithField("task", ref.String()).Info("Task processed")
	return nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	expected, err := strconv.Atoi(args[2])
	if err != nil || expected <= 0 {
		return fmt.Errorf("invalid task count %q", args[2])
	}

	ctx, cancel := signalContext()
	defer cancel()

	components, err := setup(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	batchID, itemID := args[0], args[1]
	ctx = logger.SetItemID(logger.SetBatchID(components.Logger.WithContext(ctx), batchID), itemID)
	if err := components.Finalizer.Finalize(ctx, batchID, itemID, expected); err != nil {
		return fmt.Errorf("failed to finalize item %s: %w", itemID, err)
	}
	components.Logger.WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		logger.FieldItemID:  itemID,
	}).Info("Item finalized")
	return nil
}

// parseRefArgs accepts either "<batch>/<task>" or the two parts as separate arguments.
func parseRefArgs(args []string) (domain.TaskRef, error) {
	if len(args) == 1 {
		return domain.ParseTaskRef(args[0])
	}
	return domain.ParseTaskRef(args[0] + "/" + args[1])
}
