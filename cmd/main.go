package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"smartdine/internal/config"
	"smartdine/internal/database"
	"smartdine/internal/logger"
	"smartdine/internal/messaging"
	"smartdine/internal/models"
	"smartdine/internal/seed"
	"smartdine/internal/services/api"
	"smartdine/internal/services/auth"
	"smartdine/internal/services/billing"
	"smartdine/internal/services/kitchen"
	"smartdine/internal/services/menu"
	"smartdine/internal/services/notification"
	"smartdine/internal/services/notify"
	"smartdine/internal/services/order"
	"smartdine/internal/services/report"
	"smartdine/internal/services/table"
	"smartdine/internal/store"
)

func main() {
	var (
		mode        = flag.String("mode", "", "Service mode (api-server, notification-subscriber, kitchen-display, migrate, seed)")
		configPath  = flag.String("config", "config.yaml", "Path to the configuration file")
		seedPath    = flag.String("seed", "seed.yaml", "Seed file; loaded by seed mode and by api-server on the memory driver")
		port        = flag.Int("port", 0, "HTTP port (overrides server.port)")
		displayName = flag.String("display-name", "kitchen", "Name shown by kitchen-display")
		prefetch    = flag.Int("prefetch", 10, "RabbitMQ prefetch count")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log := logger.New(*mode)
	log.SetLevel(cfg.Logging.Level)
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode":    *mode,
		"storage": cfg.Storage.Driver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api-server":
		err = runAPIServer(ctx, cfg, log, *seedPath)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log, *prefetch)
	case "kitchen-display":
		err = runKitchenDisplay(ctx, cfg, log, *displayName)
	case "migrate":
		err = runMigrate(ctx, cfg, log)
	case "seed":
		err = runSeed(ctx, cfg, log, *seedPath)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// openStore returns the configured entity store. The cleanup func closes the
// database pool when there is one.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func(ctx context.Context) error, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return store.NewMemory(), nil, func() {}, nil
	}

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database.NewStore(db, log), db.Ping, db.Close, nil
}

// runAPIServer runs the HTTP API and, when a broker is configured, the relay
// publishing change events
func runAPIServer(ctx context.Context, cfg *config.Config, log *logger.Logger, seedPath string) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	st, ping, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Storage.Driver == config.DriverMemory {
		f, err := seed.Load(seedPath)
		if err != nil {
			return fmt.Errorf("memory storage needs seed data: %w", err)
		}
		if _, err := seed.Apply(ctx, st, f, log); err != nil {
			return fmt.Errorf("failed to seed memory store: %w", err)
		}
	}

	tables := table.NewManager(st, log, cfg.Business.CleaningStep)
	services := api.Services{
		Tables:  tables,
		Menu:    menu.NewService(st, log),
		Orders:  order.NewService(st, tables, log),
		Bills:   billing.NewService(st, tables, log, cfg.Business.TaxRateBps),
		Changes: notify.NewCoordinator(st),
		Reports: report.NewService(st, log),
		Auth:    auth.NewService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, log),
		Health:  ping,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.PublishingEnabled() {
		conn, err := messaging.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()

		relay := notify.NewRelay(messaging.NewPublisher(conn, log), log, 256)
		relay.Attach(st)
		g.Go(func() error { return relay.Run(ctx) })
	} else {
		log.Info("publishing_disabled", "No RabbitMQ host configured, change events are poll-only", "", nil)
	}

	server := api.NewServer(services, api.Options{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, log)
	g.Go(func() error { return server.Run(ctx) })

	return g.Wait()
}

// runNotificationSubscriber prints change events from the broker
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	if !cfg.PublishingEnabled() {
		return errors.New("notification-subscriber needs rabbitmq.host")
	}

	conn, err := messaging.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	hostname, _ := os.Hostname()
	consumer := messaging.NewConsumer(conn, log, messaging.NotificationsQueue, "notifier-"+hostname, prefetch)
	return notification.NewSubscriber(consumer, os.Stdout, log).Start(ctx)
}

// runKitchenDisplay polls the orders collection and renders the kitchen queue.
// It reads the shared database, so it needs the postgres driver.
func runKitchenDisplay(ctx context.Context, cfg *config.Config, log *logger.Logger, name string) error {
	if cfg.Storage.Driver != config.DriverPostgres {
		return errors.New("kitchen-display reads the shared database and needs storage.driver postgres")
	}

	st, _, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	actor := models.Actor{UserID: "display:" + name, Role: models.RoleChef}
	poller := notify.NewPoller(notify.NewCoordinator(st), actor, models.CollectionOrders, cfg.Business.PollInterval, log)
	return kitchen.NewDisplay(name, poller, os.Stdout, log).Start(ctx)
}

func runMigrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	return db.RunMigrations(ctx)
}

func runSeed(ctx context.Context, cfg *config.Config, log *logger.Logger, seedPath string) error {
	if cfg.Storage.Driver != config.DriverPostgres {
		return errors.New("seed writes to the database and needs storage.driver postgres")
	}

	f, err := seed.Load(seedPath)
	if err != nil {
		return err
	}

	st, _, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	_, err = seed.Apply(ctx, st, f, log)
	return err
}
