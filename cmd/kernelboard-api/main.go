package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gpu-mode/kernelboard/internal/access"
	"github.com/gpu-mode/kernelboard/internal/auth"
	"github.com/gpu-mode/kernelboard/internal/config"
	"github.com/gpu-mode/kernelboard/internal/database"
	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/logging"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"github.com/gpu-mode/kernelboard/internal/server"
	"github.com/gpu-mode/kernelboard/internal/summaries"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kernelboard-api",
		Short: "Serves leaderboard summaries",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	flags.String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address")
	flags.String("database-url", "", "Database URL (postgres:// or sqlite://)")
	flags.String("redis-url", "", "Redis URL for caching concluded leaderboards")
	flags.String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	flags.String("session-signing-secret", "", "Session signing secret (overrides env)")
	flags.StringSlice("admin-identities", nil, "Identities allowed to force cache refreshes")

	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyDatabaseURL, "database-url")
	bindFlag(cmd, config.KeyRedisURL, "redis-url")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeySessionSigningSecret, "session-signing-secret")
	bindFlag(cmd, config.KeyAdminIdentities, "admin-identities")
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

func runServer(ctx context.Context) error {
	apiConfig, err := config.LoadAPI(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(apiConfig.LogLevel, "kernelboard-api")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(apiConfig.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

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

	var redisClient *redis.Client
	if apiConfig.RedisURL != "" {
		redisClient, err = summaries.NewRedisClient(apiConfig.RedisURL)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	summaryService, err := summaries.NewService(summaries.ServiceConfig{
		Catalog:  catalog,
		Rankings: computer,
		Cache:    summaries.NewResultCache(redisClient, logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Summaries: summaryService,
		Logger:    logger,
	}
	if apiConfig.SessionSigningSecret != "" {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(apiConfig.SessionSigningSecret),
			Issuer:        apiConfig.SessionIssuer,
			CookieName:    apiConfig.SessionCookieName,
		})
		if err != nil {
			return err
		}
		whitelist := access.NewWhitelist(apiConfig.AdminIdentities)
		deps.Sessions = validator
		deps.Admins = whitelist
		logger.Info("admin sessions enabled", zap.Int("admins", whitelist.Size()))
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              apiConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", apiConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
