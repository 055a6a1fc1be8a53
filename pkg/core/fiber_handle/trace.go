package fiber_handle

import (
	"context"
	"strings"

	"academyops/pkg/core/consts"
	"academyops/pkg/core/tracer"

	"github.com/gofiber/fiber/v2"
)

type TracerConfig struct {
	Tracer  tracer.Tracer
	AppName string
}

// NewApiTracer 为每个请求建立追踪上下文，优先沿用调用方传入的关联ID
func NewApiTracer(config TracerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url := strings.SplitN(c.OriginalURL(), "?", 2)[0]
		ctx := c.UserContext()

		var (
			traceID string
			finish  = func() {}
		)
		if parent := c.Get(consts.TraceHeaderName); parent != "" {
			var err error
			ctx, traceID, finish, err = config.Tracer.StartTraceWithParent(ctx, url, parent)
			if err != nil {
				ctx, traceID, finish = config.Tracer.StartTrace(ctx, url)
			}
		} else {
			ctx, traceID, finish = config.Tracer.StartTrace(ctx, url)
		}
		defer finish()

		if correlation := c.Get(consts.CorrelationHeader); correlation != "" {
			traceID = correlation
		}

		ctx = context.WithValue(ctx, consts.TraceKey, traceID)
		c.SetUserContext(ctx)
		c.Locals(consts.TraceKey, traceID)
		c.Set(consts.CorrelationHeader, traceID)
		return c.Next()
	}
}
