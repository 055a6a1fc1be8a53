package start

import (
	"academyops/pkg/core/fiber_handle"
	"academyops/pkg/core/logger"
	"academyops/pkg/core/tracer"

	"github.com/gofiber/fiber/v2"
	recover2 "github.com/gofiber/fiber/v2/middleware/recover"
)

// GetApp 创建带统一错误处理、跨域、崩溃恢复与链路追踪的 fiber 应用
func GetApp(appName string, t tracer.Tracer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      appName,
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: fiber_handle.ErrHandler,
	})
	app.Use(fiber_handle.Cors())
	app.Use(recover2.New(recover2.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			logger.GetLogger().WithEntryName("Recover").WithField("path", c.Path()).Errorf("请求处理崩溃: %v", e)
		},
	}))
	if t == nil {
		t = tracer.NewSimpleTracer()
	}
	app.Use(fiber_handle.NewApiTracer(fiber_handle.TracerConfig{Tracer: t, AppName: appName}))
	return app
}

// UseMonitor 请求监控中间件，跳过 OPTIONS 与健康检查
func UseMonitor(client fiber_handle.MonitorClient) fiber.Handler {
	return fiber_handle.NewAPIMonitorWithFilters(fiber_handle.MonitorConfig{
		Client: client,
	}, fiber_handle.SkipMethods("OPTIONS"), fiber_handle.SkipHealthCheck)
}
