package uptime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// 截断写入结果的响应体，避免错误信息过长
const maxErrorBody = 256

func expectedStatus(t *Target, code int) bool {
	if len(t.ExpectedStatus) == 0 {
		return code >= 200 && code < 400
	}
	for _, c := range t.ExpectedStatus {
		if c == code {
			return true
		}
	}
	return false
}

// probeHTTP 失败时按配置重试，两次尝试之间等待 retryDelay
func (m *Monitor) probeHTTP(ctx context.Context, t *Target) CheckResult {
	var res CheckResult
	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		res = m.httpOnce(ctx, t)
		res.Attempts = attempt
		if res.Success || attempt == m.cfg.RetryAttempts {
			break
		}
		if m.cfg.RetryDelay > 0 {
			timer := time.NewTimer(m.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Error = fmt.Sprintf("%s (重试已取消: %v)", res.Error, ctx.Err())
				return res
			case <-timer.C:
			}
		}
	}
	return res
}

func (m *Monitor) httpOnce(ctx context.Context, t *Target) CheckResult {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	method := t.Method
	if method == "" {
		method = fasthttp.MethodGet
	}
	req.Header.SetMethod(method)
	req.SetRequestURI(t.URL)
	req.Header.Set("User-Agent", "academyops-uptime")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	deadline := time.Now().Add(m.timeoutOf(t))
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := m.client.DoDeadline(req, resp, deadline)
	res := CheckResult{
		Timestamp:      m.now(),
		ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			res.Error = fmt.Sprintf("请求超时: %v", m.timeoutOf(t))
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.StatusCode = resp.StatusCode()
	if !expectedStatus(t, res.StatusCode) {
		res.Error = fmt.Sprintf("非预期状态码 %d: %s", res.StatusCode, truncate(resp.Body()))
		return res
	}
	if t.ExpectedBodyPath != "" {
		got := gjson.GetBytes(resp.Body(), t.ExpectedBodyPath)
		if !got.Exists() {
			res.Error = fmt.Sprintf("响应缺少字段 %s", t.ExpectedBodyPath)
			return res
		}
		if t.ExpectedBodyValue != "" && got.String() != t.ExpectedBodyValue {
			res.Error = fmt.Sprintf("字段 %s 为 %q，期望 %q", t.ExpectedBodyPath, got.String(), t.ExpectedBodyValue)
			return res
		}
	}
	res.Success = true
	return res
}

// probeInternal 内部探测每个周期只调用一次，不重试
func (m *Monitor) probeInternal(ctx context.Context, t *Target) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, m.timeoutOf(t))
	defer cancel()

	start := time.Now()
	res.Attempts = 1
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("探测发生panic: %v", r)
		}
		res.Timestamp = m.now()
		res.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	if err := t.Check(ctx); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (m *Monitor) timeoutOf(t *Target) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return m.cfg.Timeout
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
