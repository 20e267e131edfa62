// Package main - точка входа фонового процесса (Worker) рейтингового ядра.
//
// Worker отвечает за периодические задачи:
// - Ночная материализация среза рейтинга за прошедший день
// - Дооценка игр, появившихся без явного триггера пересчёта
//
// Портал вызывает команды ядра (привязка игры, пересчёт) из своего кода;
// Worker следит, чтобы журнал и срезы оставались актуальными без него.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lasertag-hub/lasertag-rating-hub/config"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/application/command"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/application/eventhandler"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/application/query"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/infrastructure/messaging"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/infrastructure/persistence/postgres"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/infrastructure/persistence/redis"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/infrastructure/scheduler"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/infrastructure/scheduler/jobs"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/lock"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting lasertag rating hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	var dbConn *postgres.Connection
	if cfg.Database.URL != "" {
		dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	} else {
		dbConn, err = postgres.NewConnection(ctx, postgres.DefaultConfig())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var snapshotCache standings.SnapshotCache
	var ratingCache rating.Cache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			// Кеш - ускоритель, не источник истины: без Redis ядро работает
			// напрямую из PostgreSQL.
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		} else {
			defer redisCache.Close()
			standingsCache := redis.NewStandingsCache(redisCache)
			snapshotCache = standingsCache
			ratingCache = standingsCache
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busCfg := messaging.DefaultConfig()
	busCfg.AsyncMode = cfg.EventBus.AsyncMode
	busCfg.WorkerPoolSize = cfg.EventBus.WorkerPoolSize
	busCfg.HandlerTimeout = cfg.EventBus.HandlerTimeout
	busCfg.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. РЕПОЗИТОРИИ И ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories and handlers...")
	ledgerRepo := postgres.NewLedgerRepository(dbConn)
	gameStatsRepo := postgres.NewGameStatsRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)

	userLock := lock.NewUserLock()

	recalcHandler := command.NewRecalculateRatingHandler(
		gameStatsRepo, ledgerRepo, userLock, ratingCache, eventBus, log,
		cfg.Rating.RecalcLockTimeout,
	)
	linkHandler := command.NewLinkGameHandler(gameStatsRepo, recalcHandler, log)

	standingsHandler := query.NewGetStandingsHandler(
		snapshotRepo, ledgerRepo, snapshotCache, eventBus, log,
		cfg.Rating.StandingsCacheTTL,
	)
	rankHandler := query.NewGetPlayerRankHandler(snapshotRepo, standingsHandler, ledgerRepo, log)

	// Команды и запросы вызываются из кода портала; у Worker своего
	// транспорта нет.
	_ = linkHandler
	_ = rankHandler

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПОДПИСКА ОБРАБОТЧИКОВ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if snapshotCache != nil {
		invalidator := eventhandler.NewCacheInvalidator(snapshotCache, log)
		if err := invalidator.Register(eventBus); err != nil {
			return fmt.Errorf("failed to register cache invalidator: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ПЛАНИРОВЩИК ФОНОВЫХ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Info("initializing scheduler...")
		schedCfg := scheduler.DefaultSchedulerConfig()
		schedCfg.Logger = log
		sched = scheduler.NewScheduler(schedCfg)

		snapshotJobCfg := jobs.DefaultDailySnapshotConfig()
		snapshotJobCfg.Timeout = cfg.Scheduler.JobTimeout
		snapshotJob := jobs.NewDailySnapshotJob(
			standingsHandler, snapshotRepo, eventBus, log, snapshotJobCfg)

		sweepJobCfg := jobs.DefaultGradeSweepConfig()
		sweepJobCfg.BatchSize = cfg.Scheduler.SweepBatchSize
		sweepJobCfg.Timeout = cfg.Scheduler.JobTimeout
		sweepJob := jobs.NewGradeSweepJob(
			gameStatsRepo, recalcHandler, eventBus, log, sweepJobCfg)

		if err := sched.Register(snapshotJob,
			scheduler.NewDailySchedule(cfg.Scheduler.SnapshotHour, cfg.Scheduler.SnapshotMinute)); err != nil {
			return fmt.Errorf("failed to register snapshot job: %w", err)
		}
		if err := sched.Register(sweepJob,
			scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("lasertag rating hub worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	if sched != nil {
		log.Info("stopping scheduler...")
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.AddCaller = cfg.Observability.AddCaller
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}
