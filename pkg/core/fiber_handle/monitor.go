// Package fiber_handle 提供 Fiber 框架的中间件处理器
//
// 请求监控中间件用法：
//
//	app.Use(fiber_handle.NewAPIMonitorWithFilters(
//		fiber_handle.MonitorConfig{Client: monitor},
//		fiber_handle.SkipMethods("OPTIONS"),
//		fiber_handle.SkipHealthCheck,
//	))
package fiber_handle

import (
	"fmt"
	"strings"
	"time"

	"academyops/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
)

// MonitorClient 请求监控的接收方
type MonitorClient interface {
	RecordRequest(method, path string, durationMs float64, statusCode int, userID string)
	RecordHandlerError(err error, method, path string, statusCode int, userID, requestID string)
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Client MonitorClient
}

// FilterFunc 过滤器，返回 false 时跳过监控
type FilterFunc func(c *fiber.Ctx) bool

// NewAPIMonitorWithFilters 创建带过滤器列表的请求监控中间件
func NewAPIMonitorWithFilters(config MonitorConfig, filters ...FilterFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if config.Client == nil {
			return c.Next()
		}
		for _, filter := range filters {
			if !filter(c) {
				return c.Next()
			}
		}

		startTime := time.Now()
		err := c.Next()
		recordAPIMetrics(config, c, startTime, err)
		return err
	}
}

func recordAPIMetrics(config MonitorConfig, c *fiber.Ctx, startTime time.Time, handlerErr error) {
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000

	// 优先使用路由模板，避免路径参数撑爆指标基数
	path := c.Route().Path
	if path == "" || path == "/" {
		path = c.Path()
	}

	status := c.Response().StatusCode()
	if handlerErr != nil {
		// 错误处理器尚未执行，按错误类型推算最终状态码
		status = StatusOf(handlerErr)
	}

	var userID string
	if v := c.Locals("user_id"); v != nil {
		userID = safeStringConvert(v)
	} else if v := c.Locals("userID"); v != nil {
		userID = safeStringConvert(v)
	}

	config.Client.RecordRequest(c.Method(), path, durationMs, status, userID)

	if handlerErr != nil {
		requestID := safeStringConvert(c.Locals(consts.TraceKey))
		config.Client.RecordHandlerError(handlerErr, c.Method(), path, status, userID, requestID)
	}
}

func safeStringConvert(value interface{}) string {
	if value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", value)
}

// SkipHealthCheck 跳过健康检查与指标端点
func SkipHealthCheck(c *fiber.Ctx) bool {
	path := strings.ToLower(c.Path())
	return !strings.HasPrefix(path, "/health") && path != "/metrics"
}

// OnlyPathStartWith 仅监控指定前缀的路径
func OnlyPathStartWith(paths ...string) FilterFunc {
	return func(c *fiber.Ctx) bool {
		for _, path := range paths {
			if strings.HasPrefix(c.Path(), path) {
				return true
			}
		}
		return false
	}
}

// SkipMethods 跳过指定HTTP方法的监控
func SkipMethods(methods ...string) FilterFunc {
	skipMap := make(map[string]bool)
	for _, method := range methods {
		skipMap[strings.ToUpper(method)] = true
	}
	return func(c *fiber.Ctx) bool {
		return !skipMap[c.Method()]
	}
}
