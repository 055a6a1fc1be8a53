package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"academyops/internal/metrics"
	"academyops/internal/monitoring"
	errorc "academyops/pkg/core/err"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiberAppFeedsRequestMonitor(t *testing.T) {
	registry := metrics.NewRegistry()
	monitor := monitoring.NewMonitor(monitoring.Config{Registry: registry})
	f := newFiberApp("academyops-test", nil, monitor)

	f.Get("/api/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"msg": "ok"})
	})
	f.Get("/api/fail", func(c *fiber.Ctx) error {
		return errorc.New("查询训练计划失败", errors.New("db down"))
	})
	f.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for _, path := range []string{"/api/ping", "/api/fail", "/health"} {
		resp, err := f.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		resp.Body.Close()
	}

	records := registry.Query(metrics.CategoryAPIRequests, time.Hour)
	require.Len(t, records, 2, "健康检查不计入请求指标")

	byPath := map[string]metrics.Record{}
	for _, r := range records {
		byPath[r.Labels["path"]] = r
	}
	assert.EqualValues(t, http.StatusOK, byPath["/api/ping"].Value(metrics.FieldStatusCode))
	assert.False(t, byPath["/api/ping"].Flag(metrics.FieldError))
	assert.EqualValues(t, http.StatusInternalServerError, byPath["/api/fail"].Value(metrics.FieldStatusCode))
	assert.True(t, byPath["/api/fail"].Flag(metrics.FieldError))
}

func TestFiberAppHidesStackTraces(t *testing.T) {
	f := newFiberApp("academyops-test", nil, nil)
	f.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	resp, err := f.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
