package result

import (
	"github.com/gofiber/fiber/v2"
)

func OK(c *fiber.Ctx, v interface{}) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": fiber.StatusOK, "data": v})
}

// Status 以指定 HTTP 状态码返回原始 JSON，供探针类接口使用
func Status(c *fiber.Ctx, code int, v interface{}) error {
	return c.Status(code).JSON(v)
}

// Once 有错误时交给 ErrorHandler，否则按 OK 返回
func Once(c *fiber.Ctx, v interface{}, err error) error {
	if err != nil {
		return err
	}
	return OK(c, v)
}
