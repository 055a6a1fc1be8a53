package controller

import (
	"academyops/pkg/core/logger"
	"academyops/pkg/core/result"
	"academyops/pkg/core/util"
	"academyops/system/health/internal/app"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthController 健康检查与指标导出
type HealthController struct {
	app *app.App
	log *logger.Log
}

func NewHealthController(app *app.App) *HealthController {
	return &HealthController{
		app: app,
		log: logger.GetLogger().WithEntryName("HealthController"),
	}
}

// RegisterRoutes 探针类接口挂在根路由上，不加鉴权
func (ctrl *HealthController) RegisterRoutes(router fiber.Router) {
	router.Get("/health", ctrl.Basic)

	healthRouter := router.Group("/health")
	healthRouter.Get("/detailed", ctrl.Detailed)
	healthRouter.Get("/ready", ctrl.Ready)
	healthRouter.Get("/live", ctrl.Live)
	healthRouter.Get("/performance", ctrl.Performance)
	healthRouter.Get("/uptime", ctrl.Uptime)
	healthRouter.Get("/backup", ctrl.Backup)
	healthRouter.Get("/logging", ctrl.Logging)
	healthRouter.Get("/alerts", ctrl.Alerts)
	healthRouter.Get("/maintenance", ctrl.Maintenance)

	if g := ctrl.app.Gatherer(); g != nil {
		router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

// Basic GET /health
func (ctrl *HealthController) Basic(c *fiber.Ctx) error {
	return result.Status(c, fiber.StatusOK, ctrl.app.Basic())
}

// Detailed GET /health/detailed，critical 时返回 503
func (ctrl *HealthController) Detailed(c *fiber.Ctx) error {
	h, err := ctrl.app.Detailed(util.Context(c))
	if err != nil {
		return err
	}
	code := fiber.StatusOK
	if app.IsCritical(h) {
		code = fiber.StatusServiceUnavailable
		ctrl.log.WithField("reason", h.Reason).Warn("健康状态为 critical")
	}
	return result.Status(c, code, h)
}

// Ready GET /health/ready
func (ctrl *HealthController) Ready(c *fiber.Ctx) error {
	st := ctrl.app.Ready(util.Context(c))
	code := fiber.StatusOK
	if !st.Ready {
		code = fiber.StatusServiceUnavailable
	}
	return result.Status(c, code, st)
}

// Live GET /health/live
func (ctrl *HealthController) Live(c *fiber.Ctx) error {
	return result.Status(c, fiber.StatusOK, ctrl.app.Live())
}

// Performance GET /health/performance?timeframe=1h
func (ctrl *HealthController) Performance(c *fiber.Ctx) error {
	summary, err := ctrl.app.Performance(c.Query("timeframe"))
	return result.Once(c, summary, err)
}

func (ctrl *HealthController) Uptime(c *fiber.Ctx) error {
	report, err := ctrl.app.Uptime()
	return result.Once(c, report, err)
}

func (ctrl *HealthController) Backup(c *fiber.Ctx) error {
	status, err := ctrl.app.Backup()
	return result.Once(c, status, err)
}

func (ctrl *HealthController) Logging(c *fiber.Ctx) error {
	stats, err := ctrl.app.Logging()
	return result.Once(c, stats, err)
}

// Alerts GET /health/alerts?limit=50
func (ctrl *HealthController) Alerts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	report, err := ctrl.app.Alerts(limit)
	return result.Once(c, report, err)
}

func (ctrl *HealthController) Maintenance(c *fiber.Ctx) error {
	status, err := ctrl.app.Maintenance()
	return result.Once(c, status, err)
}
