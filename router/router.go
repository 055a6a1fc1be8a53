package router

import (
	"academyops/app"
	"academyops/system/health"

	"github.com/gofiber/fiber/v2"
)

// Register 集中注册所有 HTTP 路由，只做分组与绑定
func Register(a *app.App, f *fiber.App) {
	api := f.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"msg": "ok"})
	})

	// 健康检查与 /metrics 挂在根路径，供负载均衡和 Prometheus 直接访问
	health.RegisterRoutes(a.HealthModule, f)
}
