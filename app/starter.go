package app

import (
	"fmt"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/backup"
	"academyops/internal/logging"
	"academyops/internal/maintenance"
	"academyops/internal/metrics"
	"academyops/internal/monitoring"
	"academyops/internal/performance"
	"academyops/internal/uptime"
	"academyops/pkg/core/config"
	"academyops/pkg/core/consts"
	"academyops/pkg/core/tracer"
	"academyops/pkg/notifier"
	"academyops/pkg/oss"
	"academyops/pkg/scheduler"
	"academyops/system/health"

	"go.uber.org/zap"
)

const (
	notifyTimeout   = 15 * time.Second
	healthCacheTTL  = 5 * time.Second
	databaseCheckID = "database"
	redisCheckID    = "redis"
)

// initInfrastructure 数据库、Redis、调度器与链路追踪
func (a *App) initInfrastructure() error {
	cfg := a.Configures.Config

	if cfg.Database.Enabled() {
		a.DB = a.Configures.EnableDB()
	}

	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Name = cfg.AppName
	schedCfg.Logger = a.Logger
	if cfg.Redis.Enabled() {
		a.RDB = a.Configures.EnableRedis()
		schedCfg.Locker = scheduler.NewRedisLocker(a.Configures.EnableLocker(a.RDB))
	}
	a.Scheduler = scheduler.NewScheduler(schedCfg)

	zt, err := config.InitZipkin(cfg.Zipkin, cfg.AppName, cfg.Host)
	if err != nil {
		return fmt.Errorf("初始化 zipkin 失败: %w", err)
	}
	a.Tracer = tracer.New(zt, cfg.AppName)
	return nil
}

func (a *App) initLogging() error {
	cfg := a.Configures.Config

	var shippers []logging.Shipper
	if cfg.Log.Sls {
		shippers = append(shippers, logging.NewSlsShipper(cfg.Log, cfg.AppName, cfg.Host))
	}
	if cfg.Log.Elastic {
		client, err := config.InitES(cfg.ES, cfg.Proxy)
		if err != nil {
			// ES 不可用不影响本地日志
			a.Logger.Warn("初始化 Elasticsearch 失败，跳过日志投递", zap.Error(err))
		} else {
			shippers = append(shippers, logging.NewElasticShipper(client, cfg.Log.ElasticIndex))
		}
	}

	logs, err := logging.NewLogger(logging.Config{
		Log:         cfg.Log,
		Service:     cfg.AppName,
		Environment: cfg.Env,
		Production:  a.Configures.IsProduction(),
		Console:     a.Logger,
		Scheduler:   a.Scheduler,
		Shippers:    shippers,
	})
	if err != nil {
		return fmt.Errorf("初始化集中日志失败: %w", err)
	}
	a.Logs = logs
	return nil
}

func (a *App) initMetrics() error {
	a.Exporter = metrics.NewExporter(MetricsNamespace)
	a.Metrics = metrics.NewRegistry(metrics.WithExporter(a.Exporter))
	return nil
}

func (a *App) initAlerting() error {
	cfg := a.Configures.Config
	notifiers, err := notifier.BuildNotifiers(cfg.Alert.Channels, cfg.Proxy.GetHTTPClient(notifyTimeout))
	if err != nil {
		return err
	}
	if len(notifiers) == 0 {
		a.Logger.Warn("未启用任何告警通道，告警只会记录在内存与日志中")
	}
	a.Alerts = alerting.NewService(alerting.Config{
		Alert:     cfg.Alert,
		Notifiers: notifiers,
		Scheduler: a.Scheduler,
		Logger:    a.Logger,
		Observer:  a.Exporter,
	})
	return nil
}

// initMonitoring 请求、查询与外部调用的统一入口，同时挂载 GORM 插件
func (a *App) initMonitoring() error {
	a.Monitor = monitoring.NewMonitor(monitoring.Config{
		Performance: a.Configures.Config.Performance,
		Registry:    a.Metrics,
		Events:      a.Logs,
		Alerter:     a.Alerts,
		Logger:      a.Logger,
	})
	if a.DB == nil {
		return nil
	}
	plugin := monitoring.NewQueryPlugin(monitoring.QueryPluginConfig{
		Recorder:    a.Monitor,
		UserPackage: "academyops",
		TraceKey:    consts.TraceKey,
		Logger:      a.Logger,
	})
	if err := a.DB.Use(plugin); err != nil {
		return fmt.Errorf("注册查询监控插件失败: %w", err)
	}
	return nil
}

func (a *App) initPerformance() error {
	cfg := a.Configures.Config
	pc := performance.Config{
		Performance: cfg.Performance,
		Thresholds:  cfg.Alert.Thresholds,
		Registry:    a.Metrics,
		Alerter:     a.Alerts,
		Scheduler:   a.Scheduler,
		Logger:      a.Logger,
	}
	sampler, err := performance.NewProcessSampler()
	if err != nil {
		a.Logger.Warn("创建进程采样器失败，跳过系统采样", zap.Error(err))
	} else {
		pc.Sampler = sampler
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return fmt.Errorf("获取数据库连接池失败: %w", err)
		}
		pc.DB = sqlDB
	}
	a.Performance = performance.NewMonitor(pc)
	return nil
}

func (a *App) initUptime() error {
	cfg := a.Configures.Config
	a.Uptime = uptime.NewMonitor(uptime.Config{
		Uptime:    cfg.Uptime,
		Alerter:   a.Alerts,
		Audit:     a.Logs,
		Registry:  a.Metrics,
		Scheduler: a.Scheduler,
		Logger:    a.Logger,
	})

	var targets []uptime.Target
	if a.DB != nil && cfg.Uptime.CheckDatabase {
		targets = append(targets, uptime.Target{
			ID: databaseCheckID, Name: "数据库", Type: uptime.CheckInternal,
			Critical: true, Enabled: true, Check: uptime.DatabaseCheck(a.DB),
		})
	}
	if a.RDB != nil && cfg.Uptime.CheckRedis {
		targets = append(targets, uptime.Target{
			ID: redisCheckID, Name: "Redis", Type: uptime.CheckInternal,
			Enabled: true, Check: uptime.RedisCheck(a.RDB),
		})
	}
	for _, t := range cfg.Uptime.Targets {
		targets = append(targets, uptime.TargetFromConfig(t))
	}
	for _, t := range targets {
		if err := a.Uptime.AddService(t); err != nil {
			return fmt.Errorf("添加监控目标 %s 失败: %w", t.ID, err)
		}
	}
	return nil
}

func (a *App) initBackup() error {
	cfg := a.Configures.Config
	if !cfg.Backup.Enabled {
		return nil
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("启用备份需要配置数据库")
	}

	bc := backup.Config{
		Backup:    cfg.Backup,
		Dumper:    backup.NewExecDumper(cfg.Database, cfg.Backup.DumpBinary, cfg.Backup.RestoreBinary),
		Alerter:   a.Alerts,
		Events:    a.Logs,
		Scheduler: a.Scheduler,
		Logger:    a.Logger,
	}
	switch cfg.Backup.Remote {
	case "oss":
		svc, err := oss.NewAliyunService(&cfg.Backup.Oss)
		if err != nil {
			return fmt.Errorf("初始化 OSS 失败: %w", err)
		}
		bc.Uploader = backup.NewOSSUploader(svc, cfg.Backup.RemotePrefix)
	case "sftp":
		uploader, err := backup.NewSFTPUploader(cfg.Backup.Sftp)
		if err != nil {
			return err
		}
		bc.Uploader = uploader
	}

	s, err := backup.NewScheduler(bc)
	if err != nil {
		return fmt.Errorf("初始化备份调度失败: %w", err)
	}
	a.Backup = s
	return nil
}

func (a *App) initMaintenance() error {
	cfg := a.Configures.Config
	if !cfg.Maintenance.Enabled {
		return nil
	}

	mc := maintenance.Config{
		Maintenance: cfg.Maintenance,
		Runner:      maintenance.ShellRunner{},
		Logs:        a.Logs,
		Alerter:     a.Alerts,
		Events:      a.Logs,
		Scheduler:   a.Scheduler,
		Logger:      a.Logger,
	}
	if a.Backup != nil {
		mc.Backup = a.Backup
	}
	if a.RDB != nil {
		mc.Cache = a.RDB
	}
	if a.DB != nil {
		mc.Optimizer = maintenance.NewGormOptimizer(a.DB)
	}

	s, err := maintenance.NewScheduler(mc)
	if err != nil {
		return fmt.Errorf("初始化维护调度失败: %w", err)
	}
	a.Maintenance = s
	return nil
}

func (a *App) initHealth() error {
	cfg := a.Configures.Config
	opts := health.Options{
		Version:      cfg.Version,
		Environment:  cfg.Env,
		Performance:  a.Performance,
		MaxTimeframe: cfg.Performance.WithDefaults().MetricsMaxAge,
		Uptime:       a.Uptime,
		Logging:      a.Logs,
		Alerts:       a.Alerts,
		Cache:        a.Configures.EnableCache(nil, healthCacheTTL),
		CacheTTL:     healthCacheTTL,
		Gatherer:     a.Exporter.Gatherer(),
	}
	if a.Backup != nil {
		opts.Backup = a.Backup
	}
	if a.Maintenance != nil {
		opts.Maintenance = a.Maintenance
	}
	if a.DB != nil {
		opts.DatabaseCheck = uptime.DatabaseCheck(a.DB)
	}
	if a.RDB != nil {
		opts.RedisCheck = uptime.RedisCheck(a.RDB)
	}
	a.HealthModule = health.NewModule(opts)
	return nil
}
