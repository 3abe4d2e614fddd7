package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/garagetrack/garagetrack/internal/config"
	"github.com/garagetrack/garagetrack/internal/database"
	"github.com/garagetrack/garagetrack/internal/fleet"
	"github.com/garagetrack/garagetrack/internal/garage"
	"github.com/garagetrack/garagetrack/internal/i18n"
	"github.com/garagetrack/garagetrack/internal/localcache"
	"github.com/garagetrack/garagetrack/internal/logging"
	"github.com/garagetrack/garagetrack/internal/mailer"
	"github.com/garagetrack/garagetrack/internal/registry"
	"github.com/garagetrack/garagetrack/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "garage-api",
		Short: "GarageTrack vehicle maintenance backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Garage token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Garage token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the cache mirror (empty = in-process)")
	cmd.PersistentFlags().String("redis-password", "", "Redis password")
	cmd.PersistentFlags().String("registry-url", defaults.GetString("registry.url"), "National vehicle registry base URL")
	cmd.PersistentFlags().String("registry-api-key", "", "National vehicle registry API key")
	cmd.PersistentFlags().String("mail-mode", defaults.GetString("mail.mode"), "Mail delivery mode (simulated, disabled)")
	cmd.PersistentFlags().String("locales-dir", defaults.GetString("i18n.locales_dir"), "Directory holding messages.<locale>.toml files")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.password", "redis-password")
	bindFlag(cmd, "registry.url", "registry-url")
	bindFlag(cmd, "registry.api_key", "registry-api-key")
	bindFlag(cmd, "mail.mode", "mail-mode")
	bindFlag(cmd, "i18n.locales_dir", "locales-dir")
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
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	cache, err := buildCache(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	garageService, err := garage.NewService(garage.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer := garage.NewTokenIssuer(garage.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "garagetrack-auth",
		Audience:      "garagetrack-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	fleetService, err := fleet.NewService(fleet.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: fleet.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	syncService, err := fleet.NewSyncService(fleet.SyncServiceConfig{
		Database:   db,
		Cache:      cache,
		Fleet:      fleetService,
		Clock:      time.Now,
		IDProvider: fleet.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	translator, err := i18n.NewTranslator(appConfig.LocalesDir, appConfig.DefaultLocale, "en", "no")
	if err != nil {
		logger.Warn("locale files unavailable, responses fall back to message keys", zap.Error(err))
		translator = nil
	}

	var plateClient server.PlateLookup
	if appConfig.RegistryURL != "" {
		plateClient = registry.NewClient(registry.ClientConfig{
			BaseURL: appConfig.RegistryURL,
			APIKey:  appConfig.RegistryAPIKey,
			Timeout: appConfig.LookupTimeout,
			Logger:  logger,
		})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GarageService: garageService,
		TokenIssuer:   tokenIssuer,
		FleetService:  fleetService,
		SyncService:   syncService,
		Mailer:        buildMailer(appConfig, logger),
		PlateClient:   plateClient,
		Cache:         cache,
		Translator:    translator,
		Dispatcher:    server.NewEventDispatcher(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (localcache.Cache, error) {
	if appConfig.RedisAddress == "" {
		return localcache.NewMemory(), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cache, err := localcache.Dial(dialCtx, appConfig.RedisAddress, appConfig.RedisPassword)
	if err != nil {
		return nil, err
	}
	logger.Info("cache mirror backed by redis", zap.String("address", appConfig.RedisAddress))
	return cache, nil
}

func buildMailer(appConfig config.AppConfig, logger *zap.Logger) mailer.Mailer {
	if strings.EqualFold(strings.TrimSpace(appConfig.MailMode), "disabled") {
		return mailer.NewDisabledMailer()
	}
	return mailer.NewLogMailer(logger)
}
