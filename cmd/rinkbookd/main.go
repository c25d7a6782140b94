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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/capacity"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/events"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/recurring"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/reschedule"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAMQPURL        = "amqp-url"
	flagAllowedOrigins = "allowed-origins"
	flagSweepInterval  = "sweep-interval"
	flagCancelWindow   = "cancel-window"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAMQPURL        = "amqp_url"
	configKeyAllowedOrigins = "allowed_origins"
	configKeySweepInterval  = "sweep_interval"
	configKeyCancelWindow   = "cancel_window"

	defaultDatabaseURL = "sqlite:///tmp/rinkbook.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AMQPURL        string
	AllowedOrigins []string
	SweepInterval  time.Duration
	CancelWindow   time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rinkbookd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "rinkbookd",
		Short:         "Session booking and capacity allocation server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for domain events (optional)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().Duration(flagSweepInterval, recurring.DefaultSweepInterval, "recurring schedule sweep interval")
	cmd.Flags().Duration(flagCancelWindow, booking.DefaultCancellationWindow, "refund boundary before session start")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "HTTP_LISTEN_ADDR",
		configKeyAMQPURL:        "AMQP_URL",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeySweepInterval:  "SWEEP_INTERVAL",
		configKeyCancelWindow:   "CANCEL_WINDOW",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAMQPURL:        flagAMQPURL,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeySweepInterval:  flagSweepInterval,
		configKeyCancelWindow:   flagCancelWindow,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins))
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	cfg.CancelWindow = viper.GetDuration(configKeyCancelWindow)
	return nil
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

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		publisher = events.NewAMQPPublisher(cfg.AMQPURL, logger)
	}

	clock := func() time.Time { return time.Now().UTC() }
	catalog := schedule.DefaultCatalog()

	ledger, err := credits.NewService(gormstore.NewCreditStore(gormDB), clock,
		credits.WithOperationLogger(newLedgerLogger(logger)))
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}

	bookingStore := gormstore.NewBookingStore(gormDB)
	registry, err := capacity.NewRegistry(bookingStore, catalog)
	if err != nil {
		return fmt.Errorf("registry init: %w", err)
	}
	bookings, err := booking.NewService(bookingStore, registry, ledger, publisher, clock,
		booking.WithCancellationWindow(cfg.CancelWindow))
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}
	matcher, err := pairing.NewMatcher(gormstore.NewPairingStore(gormDB), catalog, publisher, clock)
	if err != nil {
		return fmt.Errorf("matcher init: %w", err)
	}
	schedules, err := recurring.NewProcessor(gormstore.NewRecurringStore(gormDB), bookings, catalog, publisher, clock)
	if err != nil {
		return fmt.Errorf("processor init: %w", err)
	}
	changes, err := reschedule.NewManager(gormstore.NewChangeStore(gormDB), bookings, schedules, matcher, clock)
	if err != nil {
		return fmt.Errorf("manager init: %w", err)
	}

	runner, err := recurring.NewRunner(schedules, cfg.SweepInterval, logger)
	if err != nil {
		return fmt.Errorf("runner init: %w", err)
	}
	go runner.Run(ctx)

	server, err := httpapi.NewServer(httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, httpapi.Deps{
		Ledger:    ledger,
		Bookings:  bookings,
		Matcher:   matcher,
		Schedules: schedules,
		Changes:   changes,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return server.Run(ctx)
}

type ledgerLogger struct {
	logger *zap.Logger
}

func newLedgerLogger(logger *zap.Logger) *ledgerLogger {
	return &ledgerLogger{logger: logger}
}

func (ledgerLog *ledgerLogger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("owner", entry.Owner.String()),
		zap.Int("quantity", entry.Quantity),
		zap.String("status", entry.Status),
	}
	if entry.BookingRef != "" {
		fields = append(fields, zap.String("booking_ref", entry.BookingRef))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		ledgerLog.logger.Warn("ledger operation failed", fields...)
		return
	}
	ledgerLog.logger.Info("ledger operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
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
			path = "rinkbook.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
