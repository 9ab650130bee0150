package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salonbook/internal/api"
	"salonbook/internal/channels"
	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/logging"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/notification"
	"salonbook/internal/report"
	"salonbook/internal/repository"
	"salonbook/internal/scheduling"
	"salonbook/internal/service"
	"salonbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "export" {
		err = runExport(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// app is the wired service graph behind the API and workers.
type app struct {
	db            *database.DB
	redis         *redis.Client
	bookings      *service.BookingService
	notifications *service.NotificationService
	dispatcher    *worker.Dispatcher
	scanner       *worker.ReminderScanner
	exporter      *report.Exporter
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, only background workers will run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	backup := database.NewBackupService(a.db, cfg.Backup, logging.Component(logger, "backup"))
	go backup.Start(ctx)

	a.dispatcher.Start(ctx)
	a.scanner.Start(ctx)
	defer a.scanner.Stop()
	defer a.dispatcher.Stop()

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Bookings:      a.bookings,
		Notifications: a.notifications,
		Reports:       a.exporter,
		DB:            a.db,
		Location:      cfg.Booking.Location(),
	}, logger)

	return startServers(ctx, httpServer, cfg, logger)
}

// runExport writes the bookings workbook for a date range into the exports
// directory and exits.
func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fromRaw := fs.String("from", "", "first day, YYYY-MM-DD (default: today)")
	toRaw := fs.String("to", "", "last day, YYYY-MM-DD (default: from + 6 days)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc := cfg.Booking.Location()
	from := time.Now().In(loc)
	if *fromRaw != "" {
		if from, err = time.ParseInLocation("2006-01-02", *fromRaw, loc); err != nil {
			return fmt.Errorf("parse -from: %w", err)
		}
	}
	to := from.AddDate(0, 0, 6)
	if *toRaw != "" {
		if to, err = time.ParseInLocation("2006-01-02", *toRaw, loc); err != nil {
			return fmt.Errorf("parse -to: %w", err)
		}
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}
	path, err := report.NewExporter(db, loc, logging.Component(logger, "report")).Save(context.Background(), cfg.Exports.Path, from, to)
	if err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("bookings report saved")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "main"), closer, nil
}

func build(cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	ctx := context.Background()
	a := &app{}

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.redis = initRedis(ctx, cfg, logger)

	loc := cfg.Booking.Location()
	bus := events.NewEventBus(logging.Component(logger, "events"))

	validator := scheduling.NewConflictValidator(db, db, db, loc)
	availability := scheduling.NewAvailabilityCalculator(db, db, db, validator, loc)
	availability.SetLimits(cfg.Booking.SlotStepMinutes, cfg.Booking.MaxRangeDays)

	a.bookings = service.NewBookingService(service.BookingDeps{
		Services:     db,
		Clients:      db,
		Bookings:     db,
		Validator:    validator,
		Assigner:     scheduling.NewProfessionalAssigner(db, validator, loc),
		Availability: availability,
		Locker:       initLocker(a.redis, cfg, logger),
		EventBus:     bus,
	}, cfg.Booking, logging.Component(logger, "bookings"))

	router := initChannels(cfg, logger)
	templates := notification.DefaultRegistry()
	notifyLogger := logging.Component(logger, "notifications")

	var preferred []string
	for _, ch := range []string{models.ChannelTelegram, models.ChannelEmail, models.ChannelLog} {
		if router.Has(ch) {
			preferred = append(preferred, ch)
		}
	}

	a.notifications = service.NewNotificationService(
		notification.NewScheduler(db, templates, notifyLogger),
		db, db, db, db,
		service.NotificationSettings{
			ReminderLead:  cfg.Notifications.ReminderLead,
			FollowUpAfter: cfg.Notifications.FollowUpAfter,
			BusinessName:  cfg.Notifications.BusinessName,
			Location:      loc,
			Channels:      preferred,
		},
		notifyLogger,
	)
	a.notifications.Subscribe(bus)

	a.dispatcher = worker.NewDispatcher(db, db, templates, router, worker.DispatcherConfig{
		Interval:   cfg.Notifications.DispatchInterval,
		BatchSize:  cfg.Notifications.BatchSize,
		Retry:      worker.RetryPolicyFromConfig(cfg.Notifications),
		RateLimits: cfg.Notifications.RateLimits,
	}, logging.Component(logger, "dispatcher"))
	if a.redis != nil {
		a.dispatcher.SetDeadLetterSink(repository.NewRedisDeadLetterQueue(a.redis, cfg.Notifications.DeadLetterKey))
	}
	a.notifications.SetProcessor(a.dispatcher)

	a.scanner = worker.NewReminderScanner(db, a.notifications, worker.ReminderScannerConfig{
		Interval:   cfg.Notifications.ScanInterval,
		Lead:       cfg.Notifications.ReminderLead,
		Lookahead:  cfg.Notifications.ReminderLookahead,
		FireWindow: cfg.Notifications.ReminderFireWindow,
	}, logging.Component(logger, "reminders"))

	a.exporter = report.NewExporter(db, loc, logging.Component(logger, "report"))
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = repository.Close(a.redis)
	}
	if a.db != nil {
		a.db.Close()
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if len(cfg.BusinessHours) > 0 {
		if err := db.SetBusinessHours(ctx, cfg.BusinessHours); err != nil {
			db.Close()
			return nil, fmt.Errorf("store business hours: %w", err)
		}
	}

	catalog, err := loadCatalog(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if catalog != nil {
		if err := syncCatalog(ctx, db, catalog); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info().
			Int("services", len(catalog.Services)).
			Int("professionals", len(catalog.Professionals)).
			Int("clients", len(catalog.Clients)).
			Msg("catalog synced")
	}
	return db, nil
}

// loadCatalog returns nil when no catalog file is configured.
func loadCatalog(cfg *config.Config, logger *zerolog.Logger) (*config.Catalog, error) {
	path := os.Getenv("CATALOG_PATH")
	if path == "" {
		path = cfg.Catalog.Path
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", path).Msg("read catalog")
		return nil, err
	}

	var catalog config.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("catalog_path", path).Msg("parse catalog")
		return nil, err
	}
	if err := config.ValidateCatalog(catalog); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &catalog, nil
}

// syncCatalog upserts every entry and deactivates services dropped from the file.
func syncCatalog(ctx context.Context, db *database.DB, catalog *config.Catalog) error {
	listed := make(map[int64]bool, len(catalog.Services))
	for i := range catalog.Services {
		if err := db.UpsertService(ctx, &catalog.Services[i]); err != nil {
			return fmt.Errorf("sync service %d: %w", catalog.Services[i].ID, err)
		}
		listed[catalog.Services[i].ID] = true
	}
	stored, err := db.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, s := range stored {
		if s.IsActive && !listed[s.ID] {
			if err := db.DeactivateService(ctx, s.ID); err != nil {
				return fmt.Errorf("deactivate service %d: %w", s.ID, err)
			}
		}
	}
	for i := range catalog.Professionals {
		if err := db.UpsertProfessional(ctx, &catalog.Professionals[i]); err != nil {
			return fmt.Errorf("sync professional %d: %w", catalog.Professionals[i].ID, err)
		}
	}
	for i := range catalog.Clients {
		if err := db.UpsertClient(ctx, &catalog.Clients[i]); err != nil {
			return fmt.Errorf("sync client %d: %w", catalog.Clients[i].ID, err)
		}
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initLocker(client *redis.Client, cfg *config.Config, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLocker(cfg.Booking.LockTTL)
	if client == nil {
		return memory
	}
	return repository.NewFailoverLocker(
		repository.NewRedisLocker(client, cfg.Booking.LockTTL),
		memory,
		logging.Component(logger, "locker"),
	)
}

func initChannels(cfg *config.Config, logger *zerolog.Logger) *channels.Router {
	router := channels.NewRouter()
	channelLogger := logging.Component(logger, "channels")

	if cfg.Channels.Telegram.Enabled {
		bot, err := channels.NewTelegramBot(cfg.Channels.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, channel disabled")
		} else {
			router.Register(models.ChannelTelegram, channels.NewTelegramSender(bot, channelLogger))
		}
	}
	if cfg.Channels.Email.Enabled {
		if sender := channels.NewEmailSender(cfg.Channels.Email, channelLogger); sender != nil {
			router.Register(models.ChannelEmail, sender)
		}
	}
	// log channel is the fallback when nothing else is configured
	if cfg.Channels.Log.Enabled || (!router.Has(models.ChannelTelegram) && !router.Has(models.ChannelEmail)) {
		router.Register(models.ChannelLog, channels.NewLogSender(channelLogger))
	}
	return router
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled || !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("salonbook started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("salonbook stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
