package performance

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/metrics"
	"academyops/pkg/core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertCall struct {
	id  string
	sev alerting.Severity
}

type fakeAlerter struct {
	mu       sync.Mutex
	triggers []alertCall
	resolves []alertCall
	critical bool
}

func (f *fakeAlerter) TriggerAlert(id string, sev alerting.Severity, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, alertCall{id, sev})
	return nil
}

func (f *fakeAlerter) ResolveAlert(id string, sev alerting.Severity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, alertCall{id, sev})
	return true
}

func (f *fakeAlerter) HasRecentCritical(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.critical
}

func (f *fakeAlerter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers, f.resolves = nil, nil
}

type fakeSampler struct {
	sample SystemSample
}

func (f *fakeSampler) Sample(context.Context) (SystemSample, error) {
	return f.sample, nil
}

type fakeDB struct {
	stats sql.DBStats
}

func (f fakeDB) Stats() sql.DBStats { return f.stats }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func recordRequests(r *metrics.Registry, total, errors, slow int, durationMs float64) {
	for i := 0; i < total; i++ {
		r.Record(metrics.CategoryAPIRequests, metrics.Fields{
			Values: map[string]float64{metrics.FieldDuration: durationMs},
			Flags: map[string]bool{
				metrics.FieldError: i < errors,
				metrics.FieldSlow:  i < slow,
			},
		})
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *metrics.Registry, *fakeAlerter, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	reg := metrics.NewRegistry(metrics.WithClock(clk.now))
	alerter := &fakeAlerter{}
	m := NewMonitor(Config{
		Performance: config.PerformanceConfig{ApplicationInterval: time.Minute},
		Registry:    reg,
		Alerter:     alerter,
	})
	return m, reg, alerter, clk
}

func TestApplicationSampleTriggersPerMetricAlerts(t *testing.T) {
	m, reg, alerter, _ := newTestMonitor(t)
	recordRequests(reg, 10, 1, 0, 1500)

	require.NoError(t, m.SampleApplication(context.Background()))

	assert.ElementsMatch(t, []alertCall{
		{AlertHighErrorRate, alerting.SeverityCritical},
		{AlertSlowResponseTime, alerting.SeverityWarning},
	}, alerter.triggers)

	rec, ok := reg.Latest(metrics.CategoryApplication)
	require.True(t, ok)
	assert.Equal(t, 10.0, rec.Value("requests"))
	assert.Equal(t, 10.0, rec.Value("error_rate"))
	assert.Equal(t, 1500.0, rec.Value("avg_response_ms"))
}

func TestApplicationSampleWithoutTrafficSkipsEvaluation(t *testing.T) {
	m, reg, alerter, _ := newTestMonitor(t)

	require.NoError(t, m.SampleApplication(context.Background()))

	assert.Empty(t, alerter.triggers)
	assert.Empty(t, alerter.resolves)
	_, ok := reg.Latest(metrics.CategoryApplication)
	assert.True(t, ok)
}

func TestAlertResolvesWhenMetricRecovers(t *testing.T) {
	m, reg, alerter, clk := newTestMonitor(t)

	recordRequests(reg, 100, 6, 0, 100)
	require.NoError(t, m.SampleApplication(context.Background()))
	assert.Equal(t, []alertCall{{AlertHighErrorRate, alerting.SeverityWarning}}, alerter.triggers)

	alerter.reset()
	clk.advance(2 * time.Minute)
	recordRequests(reg, 100, 20, 0, 100)
	require.NoError(t, m.SampleApplication(context.Background()))
	assert.Equal(t, []alertCall{{AlertHighErrorRate, alerting.SeverityCritical}}, alerter.triggers)
	assert.Equal(t, []alertCall{{AlertHighErrorRate, alerting.SeverityWarning}}, alerter.resolves)

	alerter.reset()
	clk.advance(2 * time.Minute)
	recordRequests(reg, 100, 0, 0, 100)
	require.NoError(t, m.SampleApplication(context.Background()))
	assert.Empty(t, alerter.triggers)
	assert.Equal(t, []alertCall{{AlertHighErrorRate, alerting.SeverityCritical}}, alerter.resolves)

	// 已经恢复，不再重复解除
	alerter.reset()
	clk.advance(2 * time.Minute)
	recordRequests(reg, 10, 0, 0, 100)
	require.NoError(t, m.SampleApplication(context.Background()))
	assert.Empty(t, alerter.resolves)
}

func TestSystemSampleMemoryAndDBThresholds(t *testing.T) {
	m, reg, alerter, _ := newTestMonitor(t)
	m.sampler = &fakeSampler{sample: SystemSample{MemoryPercent: 85, RSSMB: 512, Goroutines: 42}}
	m.db = fakeDB{stats: sql.DBStats{MaxOpenConnections: 100, InUse: 96}}

	require.NoError(t, m.SampleSystem(context.Background()))

	assert.ElementsMatch(t, []alertCall{
		{AlertHighMemoryUsage, alerting.SeverityWarning},
		{AlertHighDBConnections, alerting.SeverityCritical},
	}, alerter.triggers)

	rec, ok := reg.Latest(metrics.CategorySystem)
	require.True(t, ok)
	assert.Equal(t, 85.0, rec.Value("memory_percent"))
	assert.Equal(t, 96.0, rec.Value("db_conn_percent"))
	assert.Equal(t, 42.0, rec.Value("goroutines"))

	latest, ok := m.LatestSystem()
	require.True(t, ok)
	assert.Equal(t, 512.0, latest.RSSMB)
}

func TestHeapUsageAlert(t *testing.T) {
	m, reg, alerter, _ := newTestMonitor(t)
	m.sampler = &fakeSampler{sample: SystemSample{MemoryPercent: 50, HeapPercent: 92, HeapAllocMB: 900}}

	require.NoError(t, m.SampleSystem(context.Background()))
	assert.Equal(t, []alertCall{{AlertHighHeapUsage, alerting.SeverityCritical}}, alerter.triggers)

	rec, ok := reg.Latest(metrics.CategorySystem)
	require.True(t, ok)
	assert.Equal(t, 92.0, rec.Value("heap_percent"))
	assert.Equal(t, 50.0, rec.Value("memory_percent"))
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 25.0, percentOf(256, 1024))
	assert.Equal(t, 0.0, percentOf(256, 0))
	assert.Equal(t, 0.0, percentOf(0, 1024))
}

func TestHealthStatusCascade(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		total    int
		errors   int
		slow     int
		duration float64
		want     string
	}{
		{name: "recent critical wins", critical: true, total: 10, want: StatusCritical},
		{name: "error rate", total: 100, errors: 6, duration: 100, want: StatusDegraded},
		{name: "avg response", total: 10, duration: 1200, want: StatusDegraded},
		{name: "slow rate", total: 100, slow: 11, duration: 200, want: StatusWarning},
		{name: "error rate at threshold is not degraded", total: 100, errors: 5, duration: 100, want: StatusHealthy},
		{name: "no traffic", want: StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reg, alerter, _ := newTestMonitor(t)
			alerter.critical = tt.critical
			recordRequests(reg, tt.total, tt.errors, tt.slow, tt.duration)

			h := m.GetHealthStatus()
			assert.Equal(t, tt.want, h.Status)
			if tt.want != StatusHealthy {
				assert.NotEmpty(t, h.Reason)
			}
		})
	}
}

func TestHealthUsesLatestSample(t *testing.T) {
	m, reg, _, clk := newTestMonitor(t)
	recordRequests(reg, 100, 10, 0, 100)
	require.NoError(t, m.SampleApplication(context.Background()))

	// 采样之后的流量不影响健康判断，直到下一次采样
	clk.advance(2 * time.Minute)
	recordRequests(reg, 100, 0, 0, 100)
	assert.Equal(t, StatusDegraded, m.GetHealthStatus().Status)

	require.NoError(t, m.SampleApplication(context.Background()))
	assert.Equal(t, StatusHealthy, m.GetHealthStatus().Status)
}

func TestGetSummary(t *testing.T) {
	m, reg, _, clk := newTestMonitor(t)
	m.sampler = &fakeSampler{sample: SystemSample{CPUPercent: 20, MemoryPercent: 40}}

	recordRequests(reg, 4, 0, 0, 100)
	require.NoError(t, m.SampleSystem(context.Background()))
	clk.advance(30 * time.Minute)
	m.sampler = &fakeSampler{sample: SystemSample{CPUPercent: 60, MemoryPercent: 50}}
	recordRequests(reg, 2, 2, 2, 2000)
	require.NoError(t, m.SampleSystem(context.Background()))

	s := m.GetSummary(time.Hour)
	assert.Equal(t, 6, s.Requests.Count)
	assert.Equal(t, 2, s.Requests.ErrorCount)
	assert.Equal(t, 2, s.System.Samples)
	assert.InDelta(t, 40.0, s.System.AvgCPUPercent, 0.001)
	assert.Equal(t, 60.0, s.System.MaxCPUPercent)
	require.NotNil(t, s.Latest)
	assert.Equal(t, 60.0, s.Latest.CPUPercent)

	short := m.GetSummary(15 * time.Minute)
	assert.Equal(t, 2, short.Requests.Count)
	assert.Equal(t, 1, short.System.Samples)
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	tests := []struct {
		in   string
		max  time.Duration
		want time.Duration
	}{
		{"6h", 0, 6 * time.Hour},
		{"30m", 0, 30 * time.Minute},
		{"2h", 0, 2 * time.Hour},
		{"12h", 0, 12 * time.Hour},
		{"1d", 0, 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour, 7 * 24 * time.Hour},
		{"90m", 2 * time.Hour, 90 * time.Minute},
	}
	for _, tc := range tests {
		d, err := ParseTimeframe(tc.in, tc.max)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, d, tc.in)
	}

	for _, bad := range []string{"2d", "48h", "0s", "-5m", "abc", "xd"} {
		_, err := ParseTimeframe(bad, 0)
		assert.Error(t, err, bad)
	}
	_, err = ParseTimeframe("3h", 2*time.Hour)
	assert.Error(t, err)
}
