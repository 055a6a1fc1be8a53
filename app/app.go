package app

import (
	"academyops/internal/alerting"
	"academyops/internal/backup"
	"academyops/internal/logging"
	"academyops/internal/maintenance"
	"academyops/internal/metrics"
	"academyops/internal/monitoring"
	"academyops/internal/performance"
	"academyops/internal/uptime"
	"academyops/pkg/core/start"
	"academyops/pkg/core/tracer"
	"academyops/pkg/scheduler"
	"academyops/system/health"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MetricsNamespace Prometheus 指标前缀
const MetricsNamespace = "academyops"

// App 应用组合根，所有组件在这里显式创建并注入依赖
type App struct {
	Configures *start.Configures
	Logger     *zap.Logger
	Tracer     tracer.Tracer

	DB        *gorm.DB
	RDB       redis.UniversalClient
	Scheduler *scheduler.Scheduler

	Logs        *logging.Logger
	Exporter    *metrics.Exporter
	Metrics     *metrics.Registry
	Alerts      *alerting.Service
	Performance *performance.Monitor
	Uptime      *uptime.Monitor
	// Backup 与 Maintenance 未启用时为 nil
	Backup      *backup.Scheduler
	Maintenance *maintenance.Scheduler
	Monitor     *monitoring.Monitor

	HealthModule *health.Module

	components *ComponentManager
}

// NewApp 按依赖顺序创建所有组件，不启动任何后台任务
func NewApp(configures *start.Configures, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Configures: configures,
		Logger:     logger,
		components: NewComponentManager(logger),
	}

	steps := []func() error{
		a.initInfrastructure,
		a.initLogging,
		a.initMetrics,
		a.initAlerting,
		a.initMonitoring,
		a.initPerformance,
		a.initUptime,
		a.initBackup,
		a.initMaintenance,
		a.initHealth,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			// 已创建的日志文件句柄需要关闭
			if a.Logs != nil {
				_ = a.Logs.Close()
			}
			return nil, err
		}
	}
	a.registerComponents()
	return a, nil
}

// Start 启动顺序：日志 → 调度器 → 告警 → 性能 → 可用性 → 备份 → 维护
func (a *App) Start() error {
	return a.components.StartAll()
}

// Stop 逆序停止，日志最后刷写
func (a *App) Stop() error {
	return a.components.StopAll()
}

func (a *App) registerComponents() {
	r := a.components
	r.Register(NewComponent("logging", a.Logs.Start, a.Logs.Close))
	if a.DB != nil {
		r.Register(NewComponent("database", nil, func() error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}))
	}
	if a.RDB != nil {
		r.Register(NewComponent("redis", nil, a.RDB.Close))
	}
	r.Register(NewComponent("scheduler", a.Scheduler.Start, a.Scheduler.Stop))
	r.Register(NewComponent("alerting", a.Alerts.Start, a.Alerts.Stop))
	r.Register(NewComponent("performance", a.Performance.Start, a.Performance.Stop))
	r.Register(NewComponent("uptime", a.Uptime.Start, a.Uptime.Stop))
	if a.Backup != nil {
		r.Register(NewComponent("backup", a.Backup.Start, a.Backup.Stop))
	}
	if a.Maintenance != nil {
		r.Register(NewComponent("maintenance", a.Maintenance.Start, a.Maintenance.Stop))
	}
}
