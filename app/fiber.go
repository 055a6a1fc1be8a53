package app

import (
	"academyops/pkg/core/fiber_handle"
	"academyops/pkg/core/start"
	"academyops/pkg/core/tracer"

	"github.com/gofiber/fiber/v2"
)

// GetApp 创建挂好请求监控的 fiber 应用
func (a *App) GetApp() *fiber.App {
	return newFiberApp(a.Configures.Config.AppName, a.Tracer, a.Monitor)
}

func newFiberApp(appName string, t tracer.Tracer, monitor fiber_handle.MonitorClient) *fiber.App {
	f := start.GetApp(appName, t)
	if monitor != nil {
		f.Use(start.UseMonitor(monitor))
	}
	return f
}
