// Package app 组装并管理应用生命周期.
//
// 按配置把锁策略、容量服务、快照缓存、事件通知、调度任务和
// 指标服务拼装成一个可运行的进程，并负责优雅关闭.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tsukikage7/gather/capacity"
	"github.com/Tsukikage7/gather/database"
	"github.com/Tsukikage7/gather/lock"
	"github.com/Tsukikage7/gather/logger"
	"github.com/Tsukikage7/gather/media"
	"github.com/Tsukikage7/gather/metrics"
	"github.com/Tsukikage7/gather/notify"
	"github.com/Tsukikage7/gather/scheduler"
	"github.com/Tsukikage7/gather/worker"
)

// 关闭阶段的兜底超时.
const shutdownTimeout = 30 * time.Second

// closeStartedJob 周期关闭已开始资源的任务名.
const closeStartedJob = "close-started-resources"

// App 组装完成的应用.
type App struct {
	cfg       *Config
	log       logger.Logger
	db        database.Database
	redis     *redis.Client
	notifier  notify.Notifier
	pool      *worker.Pool
	sched     *scheduler.Scheduler
	collector *metrics.Collector
	service   *capacity.Service

	metricsServer *http.Server
}

// New 按配置组装应用.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&capacity.Resource{}, &capacity.Participation{}); err != nil {
		db.Close()
		return nil, err
	}

	a := &App{cfg: cfg, log: log, db: db}

	if err := a.build(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	collector, err := metrics.NewCollector(cfg.metricsConfig())
	if err != nil {
		return err
	}
	a.collector = collector

	locker, err := a.buildLocker()
	if err != nil {
		return err
	}

	a.pool = worker.New(
		worker.WithSize(cfg.Worker.Size),
		worker.WithQueueCapacity(cfg.Worker.QueueCapacity),
		worker.WithLogger(a.log),
	)

	snapshots, err := a.buildSnapshotStore()
	if err != nil {
		return err
	}

	a.notifier = notify.Noop()
	if cfg.Notify.URL != "" {
		notifier, err := notify.NewAMQP(&cfg.Notify, a.log)
		if err != nil {
			return err
		}
		a.notifier = notifier
	}

	cleaner := media.Noop()
	if cfg.Media.Endpoint != "" {
		cleaner, err = media.NewS3Cleaner(&cfg.Media, a.log)
		if err != nil {
			return err
		}
	}

	repo := capacity.NewRepository()
	cleanupOpts := []capacity.CleanupOption{
		capacity.WithMediaCleaner(cleaner),
		capacity.WithCleanupLogger(a.log),
	}
	if cfg.Capacity.CleanupThreshold > 0 {
		cleanupOpts = append(cleanupOpts, capacity.WithThreshold(cfg.Capacity.CleanupThreshold))
	}

	a.service, err = capacity.NewService(a.db, locker, repo,
		capacity.WithCleanupPolicy(capacity.NewCleanupPolicy(repo, cleanupOpts...)),
		capacity.WithSnapshotStore(snapshots),
		capacity.WithNotifier(a.notifier),
		capacity.WithWorkerPool(a.pool),
		capacity.WithCollector(collector),
		capacity.WithServiceLogger(a.log),
	)
	if err != nil {
		return err
	}

	a.sched = scheduler.New(scheduler.WithLogger(a.log))
	return a.sched.Add(&scheduler.Job{
		Name:     closeStartedJob,
		Schedule: cfg.Scheduler.CloseStartedSchedule,
		Handler: func(ctx context.Context) error {
			_, err := a.service.CloseStarted(ctx)
			return err
		},
	})
}

// buildLocker 按策略构建锁实现.
//
// advisory 策略按数据库驱动选择会话锁后端；
// sqlite 没有命名锁原语，退化为进程内会话锁.
func (a *App) buildLocker() (lock.Locker, error) {
	cfg := a.cfg

	policyOpts := []lock.KeyPolicyOption{lock.WithKeyPolicyLogger(a.log)}
	if cfg.Lock.Namespace != "" {
		policyOpts = append(policyOpts, lock.WithNamespace(cfg.Lock.Namespace))
	}
	if cfg.Lock.FallbackTimeout > 0 {
		policyOpts = append(policyOpts, lock.WithFallbackTimeout(cfg.Lock.FallbackTimeout))
	}

	timeouts := cfg.Lock.Timeouts
	if len(timeouts) == 0 {
		timeouts = map[string]time.Duration{
			capacity.KindGroup:        10 * time.Second,
			capacity.KindMeeting:      10 * time.Second,
			capacity.KindMeetingFlash: 15 * time.Second,
		}
	}
	policy := lock.NewKeyPolicy(timeouts, policyOpts...)

	if cfg.Lock.Strategy == StrategyRow {
		tables := map[string]string{
			capacity.TypeGroup:   capacity.Resource{}.TableName(),
			capacity.TypeMeeting: capacity.Resource{}.TableName(),
		}
		return lock.NewRowLock(a.db, tables,
			lock.WithRowLockLogger(a.log),
			lock.WithRowLockKeyPolicy(policy),
		)
	}

	var session lock.SessionLocker
	switch a.db.Driver() {
	case database.DriverMySQL:
		session = lock.NewMySQLSession()
	case database.DriverPostgres, database.DriverPostgreSQL:
		session = lock.NewPostgresSession()
	default:
		session = lock.NewMemorySession()
	}

	return lock.NewCoordinator(a.db, session, policy,
		lock.WithLogger(a.log),
		lock.WithCollector(a.collector),
	)
}

func (a *App) buildSnapshotStore() (capacity.SnapshotStore, error) {
	cfg := a.cfg

	if cfg.Redis.Addr == "" {
		return capacity.NewMemorySnapshotStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}
	a.redis = client

	opts := []capacity.SnapshotOption{capacity.WithSnapshotLogger(a.log)}
	if cfg.Redis.TTL > 0 {
		opts = append(opts, capacity.WithSnapshotTTL(cfg.Redis.TTL))
	}
	return capacity.NewRedisSnapshotStore(client, opts...)
}

// Service 返回容量服务，供传输层挂载.
func (a *App) Service() *capacity.Service {
	return a.service
}

// Run 启动应用并阻塞到收到退出信号.
func (a *App) Run() error {
	a.sched.Start()

	if a.cfg.Metrics.Addr != "" {
		a.metricsServer = &http.Server{
			Addr:    a.cfg.Metrics.Addr,
			Handler: a.collector.Handler(),
		}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.With(logger.F("error", err.Error())).Error("指标服务退出")
			}
		}()
		a.log.With(logger.F("addr", a.cfg.Metrics.Addr)).Info("指标服务已启动")
	}

	a.log.With(
		logger.F("service", a.cfg.ServiceName),
		logger.F("strategy", a.cfg.Lock.Strategy),
		logger.F("driver", a.db.Driver()),
	).Info("应用已启动")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	a.log.With(logger.F("signal", sig.String())).Info("收到退出信号")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown 优雅关闭：先停新流量来源，再排空旁路任务，最后释放连接.
func (a *App) Shutdown(ctx context.Context) error {
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.log.With(logger.F("error", err.Error())).Warn("关闭指标服务失败")
		}
	}

	if err := a.sched.Shutdown(ctx); err != nil {
		a.log.With(logger.F("error", err.Error())).Warn("关闭调度器失败")
	}

	if err := a.pool.Shutdown(ctx); err != nil {
		a.log.With(logger.F("error", err.Error())).Warn("关闭工作池失败")
	}

	a.closeResources()
	a.log.Info("应用已退出")
	a.log.Sync()
	return nil
}

func (a *App) closeResources() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.With(logger.F("error", err.Error())).Warn("关闭通知器失败")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.With(logger.F("error", err.Error())).Warn("关闭 redis 失败")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.With(logger.F("error", err.Error())).Warn("关闭数据库失败")
		}
	}
}
