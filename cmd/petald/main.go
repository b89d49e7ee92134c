package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/otakumori/petals/internal/collect"
	"github.com/otakumori/petals/internal/httpapi"
	"github.com/otakumori/petals/internal/obs"
	"github.com/otakumori/petals/internal/rewards"
	"github.com/otakumori/petals/internal/shop"
	"github.com/otakumori/petals/internal/store/gormstore"
	"github.com/otakumori/petals/internal/webhook"
	"github.com/otakumori/petals/pkg/petals"
)

const (
	flagListenAddr       = "listen-addr"
	flagDatabaseURL      = "database-url"
	flagAllowedOrigins   = "allowed-origins"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagJWTCookieName    = "jwt-cookie-name"
	flagWebhookSecret    = "webhook-secret"
	flagCollectMax       = "collect-max-petals"
	flagRateLimitPerUser = "rate-limit-per-user"
	flagRateLimitWindow  = "rate-limit-window"
	flagWalletHistory    = "wallet-history-limit"
	envPrefix            = "PETALD"

	defaultDatabaseURL = "sqlite:///tmp/petals.db"
	collectResultTTL   = 48 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL string
	HTTP        httpapi.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "petald: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "petald",
		Short:         "Petal virtual-currency ledger API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "postgres URL or sqlite path")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "session JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected session JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "session cookie name")
	cmd.Flags().String(flagWebhookSecret, "", "fulfillment webhook HMAC secret (required)")
	cmd.Flags().Int64(flagCollectMax, 0, "maximum petals per collect request")
	cmd.Flags().Int(flagRateLimitPerUser, 0, "mutating requests allowed per user per window")
	cmd.Flags().Duration(flagRateLimitWindow, 0, "rate limit window (e.g. 1m)")
	cmd.Flags().Int(flagWalletHistory, 0, "ledger entries returned by the wallet endpoint")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagJWTSigningKey,
		flagJWTIssuer, flagJWTCookieName, flagWebhookSecret, flagCollectMax,
		flagRateLimitPerUser, flagRateLimitWindow, flagWalletHistory,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.HTTP = httpapi.Config{
		ListenAddr:         strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:     httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey:  v.GetString(flagJWTSigningKey),
		SessionIssuer:      strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName:  strings.TrimSpace(v.GetString(flagJWTCookieName)),
		WebhookSecret:      v.GetString(flagWebhookSecret),
		CollectMaxPetals:   v.GetInt64(flagCollectMax),
		RateLimitPerUser:   v.GetInt(flagRateLimitPerUser),
		RateLimitWindow:    v.GetDuration(flagRateLimitWindow),
		WalletHistoryLimit: v.GetInt(flagWalletHistory),
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if driver == "sqlite" {
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	recorder := obs.NewRecorder(logger, registry)

	clock := func() int64 { return time.Now().UTC().Unix() }
	ledger, err := petals.NewService(store, clock, petals.WithOperationLogger(recorder))
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}

	collector, err := collect.New(ledger, collect.NewMemoryResultStore(collectResultTTL), collect.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("collector init: %w", err)
	}

	rewardService, err := rewards.NewService(collector, rewards.DefaultQuests(), rewards.DefaultAchievements(), func() time.Time { return time.Now().UTC() })
	if err != nil {
		return fmt.Errorf("rewards init: %w", err)
	}

	shopService, err := shop.NewService(ledger, store, shop.DefaultItems(), shop.DefaultVouchers(), shop.DefaultTiers())
	if err != nil {
		return fmt.Errorf("shop init: %w", err)
	}

	verifier, err := webhook.NewVerifier(cfg.HTTP.WebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook verifier init: %w", err)
	}
	processor, err := webhook.NewProcessor(collector)
	if err != nil {
		return fmt.Errorf("webhook processor init: %w", err)
	}

	server, err := httpapi.New(cfg.HTTP, httpapi.Dependencies{
		Logger:    logger,
		Ledger:    ledger,
		Collector: collector,
		Rewards:   rewardService,
		Shop:      shopService,
		Verifier:  verifier,
		Processor: processor,
		Gatherer:  registry,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "petals.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
