/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移以及各组件的装配
 * @architecture 分层架构 - 服务层
 * @stateFlow 连接数据库 -> 迁移 -> 装配例程/注册表/协调器/编排器 -> 启动传感器与定时任务
 * @rules 确保所有依赖服务正常启动后才提供API服务；可选组件（Redis、对象存储、消息通知）连接失败时降级
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 */

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"elt-service/service/cleanup"
	"elt-service/service/config"
	"elt-service/service/coordinator"
	"elt-service/service/database"
	"elt-service/service/distributed_lock"
	"elt-service/service/event"
	"elt-service/service/lifecycle"
	"elt-service/service/monitoring"
	"elt-service/service/notify"
	"elt-service/service/orchestrator"
	"elt-service/service/quality"
	"elt-service/service/rate_limiter"
	"elt-service/service/registry"
	"elt-service/service/routines"
	"elt-service/service/scheduler"
	"elt-service/service/sensor"
	"elt-service/service/storage"
	"elt-service/service/warehouse"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	DB                  *gorm.DB
	Settings            config.Settings
	GlobalConfigService *config.ConfigService
	GlobalWarehouse     *warehouse.Warehouse
	GlobalCatalog       *routines.Catalog
	GlobalRegistry      *registry.Registry
	GlobalRunLogs       *coordinator.RunLogStore
	GlobalQualityStore  *quality.Store
	GlobalDispatcher    *coordinator.Dispatcher
	GlobalOrchestrator  *orchestrator.Orchestrator
	GlobalScheduler     *scheduler.SchedulerService
	GlobalRetention     *cleanup.RetentionService
	GlobalRateLimiter   rate_limiter.Limiter
	GlobalHealthChecker *monitoring.HealthChecker
	GlobalNotifier      *notify.Fanout

	redisLock *distributed_lock.RedisLock
)

// Init 初始化全部服务，ctx 取消时后台任务退出
func Init(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	Settings = settings
	if err := initDatabase(); err != nil {
		return err
	}
	if err := database.AutoMigrate(DB); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库表结构迁移完成")

	return initServices(ctx, logger)
}

// initDatabase 初始化数据库连接
func initDatabase() error {
	var err error
	DB, err = gorm.Open(postgres.Open(config.DatabaseDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("数据库连接失败: %w", err)
	}
	slog.Info("数据库连接成功")
	return nil
}

// initServices 初始化服务
func initServices(ctx context.Context, logger *slog.Logger) error {
	var err error
	GlobalConfigService = config.NewConfigService(DB)
	GlobalHealthChecker = monitoring.NewHealthChecker(3 * time.Second)
	GlobalHealthChecker.Register("database", monitoring.DatabaseCheck(DB))

	GlobalWarehouse, err = warehouse.New(DB, Settings.LineageColumn)
	if err != nil {
		return err
	}

	objects, err := storage.NewObjectStore(storage.ObjectStoreConfig{
		Endpoint:  Settings.MinioEndpoint,
		AccessKey: Settings.MinioAccessKey,
		SecretKey: Settings.MinioSecretKey,
		UseSSL:    Settings.MinioUseSSL,
	})
	if err != nil {
		logger.Warn("对象存储初始化失败，仅支持本地目录", "error", err)
		objects = nil
	}
	resolver := storage.NewResolver(objects)

	GlobalCatalog = routines.NewCatalog(GlobalWarehouse, resolver, Settings.AllowedProcedures)
	GlobalRegistry = registry.NewRegistry(DB, GlobalCatalog, logger)
	GlobalRunLogs = coordinator.NewRunLogStore(DB)
	GlobalQualityStore = quality.NewStore(DB)

	locker, limiter := initLocking(logger)
	GlobalRateLimiter = limiter
	GlobalNotifier = initNotifier(logger)

	coord, err := coordinator.New(coordinator.Config{
		Logger:      logger,
		Extractor:   GlobalCatalog,
		Stager:      GlobalWarehouse,
		Gate:        quality.NewEngine(GlobalQualityStore, quality.NewSQLCounter(GlobalWarehouse), logger),
		Lifecycle:   lifecycle.NewManager(GlobalWarehouse, logger),
		Transformer: GlobalCatalog,
		Locker:      locker,
		RunLogs:     GlobalRunLogs,
		Notifier:    GlobalNotifier,
		RunTimeout:  Settings.RunTimeout,
	})
	if err != nil {
		return err
	}
	GlobalDispatcher = coordinator.NewDispatcher(context.WithoutCancel(ctx), coord, Settings.MaxConcurrentRuns, logger)
	monitoring.RegisterDispatcherGauges(GlobalDispatcher.Running, GlobalDispatcher.Waiting)

	GlobalOrchestrator, err = orchestrator.New(orchestrator.Config{
		Logger:         logger,
		Loader:         GlobalRegistry,
		Locator:        resolver,
		Cursors:        sensor.NewGormCursorStore(DB),
		Dispatcher:     GlobalDispatcher,
		PollInterval:   Settings.PollInterval,
		ListTimeout:    Settings.ListTimeout,
		ReloadInterval: Settings.ReloadInterval,
	})
	if err != nil {
		return err
	}

	GlobalScheduler = scheduler.NewSchedulerService(ctx, GlobalOrchestrator, logger)
	GlobalOrchestrator.OnReload(GlobalScheduler.Sync)
	GlobalScheduler.Start()

	if err := GlobalOrchestrator.Start(ctx); err != nil {
		return fmt.Errorf("启动编排器失败: %w", err)
	}

	GlobalRetention = cleanup.NewRetentionService(DB, GlobalConfigService, GlobalWarehouse, stagingTables, logger)
	if err := GlobalRetention.Start(ctx, Settings.RetentionCron); err != nil {
		logger.Warn("启动保留期清理失败", "error", err)
	}

	listener := event.NewConfigListener(config.DatabaseDSN(), func(ctx context.Context) error {
		_, err := GlobalOrchestrator.Reload(ctx)
		return err
	}, logger)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Warn("配置变更监听未启动，依赖定期重载", "error", err)
		}
	}()

	logger.Info("服务初始化完成")
	return nil
}

// initLocking 启用 Redis 时互斥区与限流跨实例生效
func initLocking(logger *slog.Logger) (distributed_lock.Locker, rate_limiter.Limiter) {
	local := distributed_lock.NewLocalLocker()
	localLimiter := rate_limiter.NewLocalRateLimiter(Settings.ManualTriggerLimit, Settings.ManualTriggerWindow, nil)
	if !Settings.RedisEnabled {
		return local, localLimiter
	}
	var err error
	redisLock, err = distributed_lock.NewRedisLock(distributed_lock.RedisOptions{
		Addr:     Settings.RedisAddr,
		Password: Settings.RedisPassword,
		DB:       Settings.RedisDB,
		TTL:      Settings.LockTTL,
	}, logger)
	if err != nil {
		logger.Warn("Redis不可用，互斥区仅在本实例内生效", "error", err)
		return local, localLimiter
	}
	GlobalHealthChecker.Register("redis", func(ctx context.Context) error {
		return redisLock.Client().Ping(ctx).Err()
	})
	limiter := rate_limiter.NewRedisRateLimiter(redisLock.Client(), Settings.ManualTriggerLimit, Settings.ManualTriggerWindow)
	return distributed_lock.NewLayered(local, redisLock), limiter
}

// initNotifier 按配置装配通知渠道
func initNotifier(logger *slog.Logger) *notify.Fanout {
	fanout := notify.NewFanout(logger)
	if Settings.FeedbackLogEnabled {
		fanout.Add(notify.NewFeedbackLog(Settings.FeedbackLogKeepDays))
	}
	if len(Settings.KafkaBrokers) > 0 {
		fanout.Add(notify.NewKafkaSink(Settings.KafkaBrokers, Settings.KafkaTopic))
	}
	if Settings.MQTTBroker != "" {
		hostname, _ := os.Hostname()
		sink, err := notify.NewMQTTSink(Settings.MQTTBroker, "elt-service-"+hostname, Settings.MQTTTopic)
		if err != nil {
			logger.Warn("MQTT通知不可用", "error", err)
		} else {
			fanout.Add(sink)
		}
	}
	if Settings.DaprPubSub != "" {
		sink, err := notify.NewDaprSink(Settings.DaprPubSub, Settings.DaprTopic)
		if err != nil {
			logger.Warn("Dapr通知不可用", "error", err)
		} else {
			fanout.Add(sink)
		}
	}
	logger.Info("通知渠道已装配", "count", fanout.Len())
	return fanout
}

// stagingTables 当前定义的暂存表
func stagingTables() map[string]string {
	res, _ := GlobalOrchestrator.Current()
	out := make(map[string]string, len(res.Definitions))
	for _, d := range res.Definitions {
		out[d.ImportName] = d.StagingTable
	}
	return out
}

// Shutdown 停止后台任务并等待正在执行的运行
func Shutdown() {
	if GlobalScheduler != nil {
		GlobalScheduler.Stop()
	}
	if GlobalRetention != nil {
		GlobalRetention.Stop()
	}
	if GlobalOrchestrator != nil {
		GlobalOrchestrator.Stop()
	}
	if GlobalDispatcher != nil {
		GlobalDispatcher.Stop()
	}
	if GlobalNotifier != nil {
		GlobalNotifier.Close()
	}
	if redisLock != nil {
		_ = redisLock.Close()
	}
}
