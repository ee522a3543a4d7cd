package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gpu-mode/kernelboard/internal/config"
	"github.com/gpu-mode/kernelboard/internal/database"
	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/logging"
	"github.com/gpu-mode/kernelboard/internal/notify"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"github.com/gpu-mode/kernelboard/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	cfgFile  string
	seedMode bool
	testMode bool
	dryRun   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ranking-worker",
		Short: "Watches leaderboard podiums and announces ranking changes",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if seedMode && testMode {
				return errors.New("--seed and --test cannot be combined")
			}
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), viper.GetViper(), os.Stdout)
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.BoolVar(&seedMode, "seed", false, "Persist current standings once without sending notifications")
	flags.BoolVar(&testMode, "test", false, "Run a single cycle with notifications and exit")
	flags.BoolVar(&dryRun, "dry-run", false, "Print current standings and detected changes without side effects")
	flags.String("database-url", "", "Database URL (postgres:// or sqlite://)")
	flags.String("webhook-url", "", "Chat webhook URL for ranking announcements")
	flags.Duration("interval", defaults.GetDuration(config.KeyWorkerInterval), "Delay between loop cycles")
	flags.String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")

	bindFlag(cmd, config.KeyDatabaseURL, "database-url")
	bindFlag(cmd, config.KeyWebhookURL, "webhook-url")
	bindFlag(cmd, config.KeyWorkerInterval, "interval")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runWorker(ctx context.Context, configViper *viper.Viper, out io.Writer) error {
	workerConfig, err := config.LoadWorker(configViper, dryRun)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(workerConfig.LogLevel, "ranking-worker")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(workerConfig.DatabaseURL, logger)
	if err != nil {
		logger.Error("database open failed", zap.Error(err))
		return err
	}
	defer database.Close(db) //nolint:errcheck

	if err := prepareSnapshotSchema(db, logger); err != nil {
		logger.Error("snapshot schema migration failed", zap.Error(err))
		return err
	}

	catalog, err := leaderboard.NewCatalog(db)
	if err != nil {
		return err
	}
	computer, err := rankings.NewComputer(rankings.ComputerConfig{
		Database: db,
		Catalog:  catalog,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	snapshots, err := rankings.NewSnapshotStore(rankings.SnapshotStoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	composer, err := notify.NewComposer(notify.ComposerConfig{Templates: notify.DefaultTemplates()})
	if err != nil {
		return err
	}

	var notifier worker.Notifier
	if !dryRun {
		dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
			WebhookURL:        workerConfig.WebhookURL,
			Timeout:           workerConfig.WebhookTimeout,
			Limiter:           rate.NewLimiter(rate.Every(workerConfig.MessageSpacing), 1),
			DefaultRetryAfter: workerConfig.DefaultRetryAfter,
			MaxRetryAfter:     workerConfig.Interval,
			Logger:            logger,
		})
		if err != nil {
			return err
		}
		notifier = dispatcher
	}

	rankingWorker, err := worker.New(worker.Config{
		Rankings:  computer,
		Snapshots: snapshots,
		Composer:  composer,
		Notifier:  notifier,
		Interval:  workerConfig.Interval,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case dryRun:
		report, err := rankingWorker.Preview(signalCtx)
		if err != nil {
			return err
		}
		return worker.WriteReport(out, report)
	case seedMode:
		report, err := rankingWorker.RunCycle(signalCtx, worker.CycleOptions{})
		if err != nil {
			return err
		}
		logger.Info("snapshot seeded", zap.Int("entries", len(report.Current)))
		return nil
	case testMode:
		_, err := rankingWorker.RunCycle(signalCtx, worker.CycleOptions{Notify: true, SeedIfEmpty: true})
		return err
	default:
		logger.Info("ranking worker starting", zap.Duration("interval", workerConfig.Interval))
		return rankingWorker.Run(signalCtx)
	}
}

// prepareSnapshotSchema leaves existing snapshot rows untouched in dry-run mode.
func prepareSnapshotSchema(db *gorm.DB, logger *zap.Logger) error {
	if dryRun {
		return database.CreateSnapshotTable(db)
	}
	return database.EnsureSnapshotSchema(db, logger)
}
