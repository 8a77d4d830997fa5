// Package main - точка входа HTTP-сервиса Journey Hub.
//
// Сервис принимает события взаимодействия студентов из мессенджер-платформы,
// ведёт прогресс по этапам онбординга и обучения и переводит студентов
// на следующие этапы по правилам переходов.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/application/command"
	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/application/eventhandler"
	"github.com/tap-lms/journey-hub/internal/application/query"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/internal/infrastructure/messaging"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/postgres"
	"github.com/tap-lms/journey-hub/internal/infrastructure/stageconfig"
	httpapi "github.com/tap-lms/journey-hub/internal/interface/http"
	"github.com/tap-lms/journey-hub/internal/interface/http/handlers"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ
	// Приложение пишет через pkg/logger, инфраструктура - через slog
	// с тем же обработчиком.
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.IsDevelopment(),
		Format:    cfg.Observability.LogFormat,
	}).With(logger.String("service", cfg.App.Name))
	slogger := log.Slog()
	slog.SetDefault(slogger)

	log.Info("starting journey hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Location.String()),
		logger.String("store", cfg.Store.Driver),
	)

	clock := timeutil.NewSystemClock(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ (PostgreSQL или память, опционально Redis)
	// ─────────────────────────────────────────────────────────────────────────
	backend, err := persistence.Open(ctx, cfg, slogger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	if backend.Postgres != nil && cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(backend.Postgres).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КАТАЛОГ ЭТАПОВ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Store.StagesFile != "" {
		if err := seedCatalog(ctx, cfg, backend, clock, log); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.Journey.EventWorkers,
		Logger:         slogger,
	})
	stats := eventhandler.NewJourneyStatsHandler(slogger)
	if err := stats.Register(bus); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ДВИЖОК, КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	eng := engine.New(engine.Deps{
		Stages:      backend.Stages,
		Progress:    backend.Progress,
		Journeys:    backend.Journeys,
		Transitions: backend.Transitions,
		Engagement:  backend.Engagement,
		Learning:    backend.Learning,
		Locker:      backend.Locker,
		Publisher:   bus,
		Clock:       clock,
		NewID:       uuid.NewString,
		Logger:      log,
	})
	finder := student.NewFinder(backend.Students)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	apiKeys, err := handlers.ParseAPIKeys(cfg.HTTP.APIKeys)
	if err != nil {
		return fmt.Errorf("invalid API_KEYS: %w", err)
	}
	if len(apiKeys) == 0 {
		log.Warn("API_KEYS is empty, journey endpoints are unauthenticated")
	}

	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	for name, check := range backend.Checks {
		checker.AddCheck(name, check)
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.APIKeys = apiKeys

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		TrackInteraction:   command.NewTrackInteractionHandler(finder, eng, backend.InteractionLogs, clock, uuid.NewString, log),
		UpdateStudentStage: command.NewUpdateStudentStageHandler(finder, eng, log),
		GetJourney: query.NewGetJourneyHandler(finder, backend.Progress, backend.Journeys,
			backend.Transitions, backend.Engagement, backend.Learning),
		Stats:         stats,
		BusMetrics:    bus,
		Logger:        log,
		HealthChecker: checker,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := bus.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event bus shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	snapshot := stats.Snapshot()
	log.Info("shutdown completed",
		logger.Int("stage_progressions", snapshot.StageProgressions),
		logger.Int("journeys_completed", snapshot.JourneysCompleted),
	)
	return nil
}

// seedCatalog загружает YAML-каталог этапов в хранилище. Студенты из файла
// заводятся только в памяти: в PostgreSQL ими владеет внешняя система.
func seedCatalog(ctx context.Context, cfg *config.Config, b *persistence.Backend, clock timeutil.Clock, log *logger.Logger) error {
	catalog, err := stageconfig.LoadFile(cfg.Store.StagesFile)
	if err != nil {
		return fmt.Errorf("failed to load stage catalog: %w", err)
	}
	for _, d := range catalog.Dangling {
		log.Warn("flow points to an undefined stage", logger.String("flow", d))
	}

	var students student.Repository
	if b.Driver == config.StoreMemory {
		students = b.Students
	}

	res, err := catalog.Seed(ctx, b.Stages, students, clock.Now())
	if err != nil {
		return fmt.Errorf("failed to seed stage catalog: %w", err)
	}
	log.Info("stage catalog loaded",
		logger.String("file", cfg.Store.StagesFile),
		logger.Int("onboarding", res.OnboardingStages),
		logger.Int("learning", res.LearningStages),
		logger.Int("students", res.Students),
	)
	return nil
}
