package fiber_handle

import (
	"errors"

	errorc "academyops/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

// ErrHandler 统一错误响应，只返回消息与追踪ID，不暴露堆栈
func ErrHandler(ctx *fiber.Ctx, err error) error {
	var e *fiber.Error
	if errors.As(err, &e) {
		return ctx.Status(e.Code).JSON(fiber.Map{"status": e.Code, "message": e.Message})
	}

	cError := errorc.ParseError(err)
	code := StatusOf(err)
	return ctx.Status(code).JSON(fiber.Map{
		"status":  code,
		"message": cError.Msg,
		"traceId": cError.TraceID,
	})
}

// StatusOf 将处理器返回的错误映射为 HTTP 状态码
func StatusOf(err error) int {
	if err == nil {
		return fiber.StatusOK
	}
	var e *fiber.Error
	if errors.As(err, &e) {
		return e.Code
	}
	cError := errorc.ParseError(err)
	switch {
	case cError.ErrorCode == nil:
		return fiber.StatusInternalServerError
	case cError.Code == errorc.ErrorCodeDB.Code, cError.Code == errorc.ErrorCodeThird.Code:
		return fiber.StatusInternalServerError
	case cError.Code >= 400 && cError.Code < 600:
		return cError.Code
	default:
		return fiber.StatusInternalServerError
	}
}
