package health

import (
	controller "academyops/system/health/external/http"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 健康检查与 /metrics 注册在根路由，供负载均衡与 Prometheus 直接访问
func RegisterRoutes(m *Module, root fiber.Router) {
	healthController := controller.NewHealthController(m.internalApp)
	healthController.RegisterRoutes(root)
}
