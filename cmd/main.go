// @title GoSafe Backend API
// @version 1.0
// @description Journey tracking and companion matching for the GoSafe personal-safety app

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"gopkg.in/tomb.v2"

	_ "GOSAFE_BACK-END/docs" // This is required for swagger
	"GOSAFE_BACK-END/internal/broker"
	"GOSAFE_BACK-END/internal/config"
	"GOSAFE_BACK-END/internal/handlers"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/middleware"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/repository"
	"GOSAFE_BACK-END/internal/routes"
	"GOSAFE_BACK-END/internal/services"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	backend := flag.String("backend", "", "backend store: postgres or sqlite (overrides DB_DRIVER)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *backend != "" {
		cfg.Database.Driver = *backend
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tree, err := mirror.OpenBolt(cfg.Mirror.Path, mirror.Options{WatchBuffer: int(cfg.Mirror.SubscriberBuffer)})
	if err != nil {
		return err
	}
	defer tree.Close()
	syncer := mirror.NewSyncer(tree, int(cfg.Mirror.MaxRepairBacklog))

	var (
		bus    services.PositionBus
		status handlers.BrokerStatus
	)
	if cfg.NATS.URL != "" {
		nc, err := broker.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, "gosafe-backend")
		if err != nil {
			return err
		}
		defer nc.Close()
		bus, status = nc, nc
	}

	notify := services.NewNotifications(store)
	journeys := services.NewJourneys(store, syncer)
	if bus != nil {
		journeys.AnnounceClosures(bus)
	}
	participations := services.NewParticipations(store, syncer, notify)
	feed := services.NewFeed(store, tree, bus, int(cfg.Mirror.SubscriberBuffer))
	companions := services.NewCompanions(store, services.NewGroupProvisioner(store, tree, syncer), notify)

	mux := routes.SetupRoutes(routes.Handlers{
		Health:        handlers.NewHealthHandler(store, syncer, status),
		Locations:     handlers.NewLocationsHandler(services.NewLocations(store)),
		Journeys:      handlers.NewJourneysHandler(journeys, participations),
		Positions:     handlers.NewPositionsHandler(feed),
		Companions:    handlers.NewCompanionsHandler(companions),
		Notifications: handlers.NewNotificationsHandler(notify),
	}, &cfg.JWT)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           middleware.RequestLogger(c.Handler(mux)),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	var t tomb.Tomb
	services.NewSweeper(companions, syncer, services.SweeperConfig{
		Retention:      cfg.Companion.Retention,
		ExpiryInterval: cfg.Companion.SweepInterval,
		RepairInterval: cfg.Repair.Interval,
	}).Start(&t)
	t.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("backend", cfg.Database.Driver).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case <-t.Dying():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	t.Kill(nil)
	return t.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		return repository.OpenSQLite(ctx, cfg.Database.SQLitePath, int(cfg.Database.SQLitePool))
	case config.DriverPostgres:
		pcfg, err := pgxpool.ParseConfig(cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		// simple protocol is required behind PgBouncer
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		pcfg.ConnConfig.RuntimeParams["application_name"] = "gosafe-backend"
		pcfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.Database.QueryTimeout.Milliseconds())
		pcfg.MaxConns = cfg.Database.MaxConns
		pcfg.MinConns = cfg.Database.MinConns
		pcfg.MaxConnLifetime = cfg.Database.MaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		pg := repository.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Database.Driver)
}
