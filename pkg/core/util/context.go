package util

import (
	"context"

	"academyops/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	uuid "github.com/satori/go.uuid"
)

// Context 请求上下文，追踪中间件未生效时补一个追踪ID
func Context(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx.Value(consts.TraceKey) != nil {
		return ctx
	}
	traceID, _ := c.Locals(consts.TraceKey).(string)
	if traceID == "" {
		traceID = c.Get(consts.CorrelationHeader)
	}
	if traceID == "" {
		traceID = uuid.NewV4().String()
	}
	return context.WithValue(ctx, consts.TraceKey, traceID)
}
