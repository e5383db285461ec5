package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"sessionbot/internal/bot"
	"sessionbot/internal/config"
	"sessionbot/internal/flow"
	"sessionbot/internal/remote"
	"sessionbot/internal/remote/gogram"
	"sessionbot/internal/remote/gotd"
	"sessionbot/internal/session"
	"sessionbot/internal/storage"
	"sessionbot/internal/storage/ch"
	"sessionbot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config     *config.Config
	logger     *zap.Logger
	db         storage.Registry
	machine    *flow.Machine
	supervisor *flow.Supervisor
	bot        *bot.Bot
	server     *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting session bot...")

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	// Initialize bot and session flow
	if err := app.initBot(); err != nil {
		return nil, err
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// initDatabase initializes the database connection
func (a *App) initDatabase() error {
	var db storage.Registry
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB
	}

	ctx := context.Background()
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initBot wires the Bot API, both client libraries and the session flow
func (a *App) initBot() error {
	api, err := bot.NewAPI(a.config.TelegramToken, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	backends := remote.NewRegistry(
		gotd.NewConnector(a.logger.Named("gotd")),
		gogram.NewConnector(a.logger.Named("gogram")),
	)
	sender := bot.NewSender(api, backends.Backends())

	a.machine = flow.NewMachine(session.NewStore(), backends, sender, a.db, a.logger.Named("flow"), flow.Timeouts{
		Credential: a.config.CredentialTimeout,
		Code:       a.config.CodeTimeout,
		Connect:    a.config.ConnectTimeout,
	})
	a.supervisor = flow.NewSupervisor(a.machine, a.config.SweepInterval, a.logger.Named("supervisor"))

	gate := bot.NewGate(api, a.config.MustJoin, a.logger)
	a.bot = bot.NewBot(api, sender, a.machine, a.db, gate, a.config.AdminUserIDs, a.logger)

	a.logger.Info("Bot created successfully",
		zap.Int64s("admins", a.config.AdminUserIDs),
		zap.String("must_join", a.config.MustJoin),
	)
	return nil
}

// initHTTPServer initializes the HTTP server for health checks and webhook
func (a *App) initHTTPServer() {
	mux := http.NewServeMux()
	bot.NewHTTPServer(a.bot, a.config.WebhookMode).RegisterRoutes(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		return a.supervisor.Run(ctx)
	})

	// Start bot in appropriate mode
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			stop()
			_ = g.Wait()
			a.Shutdown()
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		g.Go(func() error {
			return a.bot.Start(ctx)
		})
	}

	err := g.Wait()
	a.logger.Info("Shutting down...")
	a.Shutdown()
	return err
}

// Shutdown drains queued updates, closes every live client and the database
func (a *App) Shutdown() {
	a.bot.Shutdown()
	a.machine.Shutdown()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
}
