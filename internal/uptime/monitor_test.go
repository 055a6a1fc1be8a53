package uptime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
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

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) LogAudit(_ context.Context, action, resource string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action+" "+resource)
}

// switchCheck 通过开关控制内部探测的结果
type switchCheck struct {
	fail atomic.Bool
}

func (s *switchCheck) check(context.Context) error {
	if s.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func newTestMonitor(t *testing.T, mutate func(c *config.UptimeConfig)) (*Monitor, *fakeAlerter, *fakeAudit) {
	t.Helper()
	cfg := config.UptimeConfig{RetryDelay: -1, Timeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	alerter := &fakeAlerter{}
	audit := &fakeAudit{}
	m := NewMonitor(Config{
		Uptime:   cfg,
		Alerter:  alerter,
		Audit:    audit,
		Registry: metrics.NewRegistry(),
	})
	return m, alerter, audit
}

func internalTarget(id string, critical bool, fn CheckFunc) Target {
	return Target{ID: id, Name: id, Type: CheckInternal, Critical: critical, Enabled: true, Check: fn}
}

func TestAddServiceValidation(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)

	err := m.AddService(Target{Name: "api", Type: CheckHTTP, URL: "http://localhost", Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id")

	err = m.AddService(Target{ID: "api", Name: "api", Type: CheckHTTP, Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")

	err = m.AddService(Target{ID: "api", Name: "api", Type: CheckHTTP, URL: "ftp://files", Enabled: true})
	assert.Error(t, err)

	err = m.AddService(Target{ID: "db", Name: "db", Type: CheckInternal, Enabled: true})
	assert.Error(t, err)

	err = m.AddService(Target{ID: "x", Name: "x", Type: "tcp"})
	assert.Error(t, err)

	require.NoError(t, m.AddService(internalTarget("db", true, func(context.Context) error { return nil })))
	err = m.AddService(internalTarget("db", true, func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrServiceExists)
}

func TestTargetFromConfig(t *testing.T) {
	target := TargetFromConfig(config.UptimeTarget{
		ID: "web", Name: "Web", URL: "https://academy.example.com/health", Critical: true, Disabled: true,
	})
	assert.Equal(t, CheckHTTP, target.Type)
	assert.False(t, target.Enabled)
	assert.True(t, target.Critical)
}

func TestHTTPProbeStatusAndRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/redirect":
			w.Header().Set("Location", "/elsewhere")
			w.WriteHeader(http.StatusFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m, _, _ := newTestMonitor(t, nil)
	require.NoError(t, m.AddService(Target{ID: "flaky", Name: "flaky", Type: CheckHTTP, URL: srv.URL + "/flaky", Enabled: true}))
	require.NoError(t, m.AddService(Target{ID: "redirect", Name: "redirect", Type: CheckHTTP, URL: srv.URL + "/redirect", Enabled: true}))
	require.NoError(t, m.AddService(Target{ID: "missing", Name: "missing", Type: CheckHTTP, URL: srv.URL + "/missing", Enabled: true}))

	res, err := m.CheckService(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())

	res, err = m.CheckService(context.Background(), "redirect")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusFound, res.StatusCode)

	res, err = m.CheckService(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Error, "404")

	_, err = m.CheckService(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestHTTPProbeBodyAssertion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
	}))
	defer srv.Close()

	m, _, _ := newTestMonitor(t, func(c *config.UptimeConfig) { c.RetryAttempts = 1 })
	base := Target{Type: CheckHTTP, URL: srv.URL, Enabled: true, Headers: map[string]string{"X-Api-Key": "secret"}}

	ok := base
	ok.ID, ok.Name, ok.ExpectedBodyPath, ok.ExpectedBodyValue = "ok", "ok", "data.status", "ok"
	bad := base
	bad.ID, bad.Name, bad.ExpectedBodyPath, bad.ExpectedBodyValue = "bad", "bad", "data.status", "healthy"
	absent := base
	absent.ID, absent.Name, absent.ExpectedBodyPath = "absent", "absent", "data.version"
	onlyCreated := base
	onlyCreated.ID, onlyCreated.Name, onlyCreated.ExpectedStatus = "created", "created", []int{201}

	for _, target := range []Target{ok, bad, absent, onlyCreated} {
		require.NoError(t, m.AddService(target))
	}

	res, _ := m.CheckService(context.Background(), "ok")
	assert.True(t, res.Success, res.Error)
	res, _ = m.CheckService(context.Background(), "bad")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "healthy")
	res, _ = m.CheckService(context.Background(), "absent")
	assert.False(t, res.Success)
	res, _ = m.CheckService(context.Background(), "created")
	assert.False(t, res.Success)
}

func TestHTTPProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	m, _, _ := newTestMonitor(t, func(c *config.UptimeConfig) { c.RetryAttempts = 1 })
	require.NoError(t, m.AddService(Target{ID: "slow", Name: "slow", Type: CheckHTTP, URL: srv.URL, Enabled: true, Timeout: 100 * time.Millisecond}))

	start := time.Now()
	res, err := m.CheckService(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIncidentLifecycle(t *testing.T) {
	m, alerter, audit := newTestMonitor(t, nil)
	sw := &switchCheck{}
	require.NoError(t, m.AddService(internalTarget("database", true, sw.check)))
	ctx := context.Background()

	st, _ := m.GetServiceStatus("database")
	assert.Equal(t, StatusUnknown, st.Status)

	sw.fail.Store(true)
	for i := 0; i < 2; i++ {
		_, err := m.CheckService(ctx, "database")
		require.NoError(t, err)
	}
	st, _ = m.GetServiceStatus("database")
	assert.Equal(t, StatusDown, st.Status)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Nil(t, st.CurrentIncident)
	assert.Empty(t, alerter.triggers)

	_, _ = m.CheckService(ctx, "database")
	st, _ = m.GetServiceStatus("database")
	require.NotNil(t, st.CurrentIncident)
	assert.Equal(t, "critical", st.CurrentIncident.Severity)
	assert.Equal(t, IncidentOpen, st.CurrentIncident.Status)
	assert.Equal(t, "connection refused", st.CurrentIncident.Details.Error)
	assert.Equal(t, []alertCall{{"service_down:database", alerting.SeverityCritical}}, alerter.triggers)
	incidentID := st.CurrentIncident.ID

	// 故障期间不重复开启
	_, _ = m.CheckService(ctx, "database")
	st, _ = m.GetServiceStatus("database")
	assert.Equal(t, incidentID, st.CurrentIncident.ID)
	assert.Len(t, alerter.triggers, 1)

	sw.fail.Store(false)
	_, _ = m.CheckService(ctx, "database")
	st, _ = m.GetServiceStatus("database")
	assert.Equal(t, StatusDown, st.Status)
	assert.NotNil(t, st.CurrentIncident)
	assert.Empty(t, alerter.resolves)

	_, _ = m.CheckService(ctx, "database")
	st, _ = m.GetServiceStatus("database")
	assert.Equal(t, StatusUp, st.Status)
	assert.Nil(t, st.CurrentIncident)
	assert.Equal(t, []alertCall{{"service_down:database", alerting.SeverityCritical}}, alerter.resolves)

	incidents := m.GetIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, incidentID, incidents[0].ID)
	assert.Equal(t, IncidentResolved, incidents[0].Status)
	require.NotNil(t, incidents[0].EndTime)

	assert.Equal(t, []string{"incident_opened service:database", "incident_resolved service:database"}, audit.actions)
	assert.InDelta(t, 33.33, st.UptimePercent, 0.01)
	assert.Equal(t, 6, st.TotalChecks)
}

func TestNonCriticalIncidentIsWarning(t *testing.T) {
	m, alerter, _ := newTestMonitor(t, nil)
	require.NoError(t, m.AddService(internalTarget("cache", false, func(context.Context) error {
		return errors.New("timeout")
	})))
	for i := 0; i < 3; i++ {
		_, _ = m.CheckService(context.Background(), "cache")
	}
	assert.Equal(t, []alertCall{{"service_down:cache", alerting.SeverityWarning}}, alerter.triggers)
}

func TestInternalCheckPanicAndTimeout(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	require.NoError(t, m.AddService(internalTarget("panics", false, func(context.Context) error {
		panic("boom")
	})))
	hang := internalTarget("hangs", false, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	hang.Timeout = 50 * time.Millisecond
	require.NoError(t, m.AddService(hang))

	res, err := m.CheckService(context.Background(), "panics")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")

	res, err = m.CheckService(context.Background(), "hangs")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestCheckServiceIsSerialized(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.AddService(internalTarget("slow", false, func(context.Context) error {
		close(entered)
		<-release
		return nil
	})))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.CheckService(context.Background(), "slow")
	}()
	<-entered

	_, err := m.CheckService(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrCheckInProgress)

	close(release)
	<-done
}

func TestCheckAllRunsConcurrently(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	sleepy := func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	require.NoError(t, m.AddService(internalTarget("a", true, sleepy)))
	require.NoError(t, m.AddService(internalTarget("b", true, sleepy)))
	require.NoError(t, m.AddService(internalTarget("c", false, func(context.Context) error { panic("isolated") })))
	disabled := internalTarget("off", true, func(context.Context) error { return errors.New("never called") })
	disabled.Enabled = false
	require.NoError(t, m.AddService(disabled))

	start := time.Now()
	st := m.CheckAll(context.Background())
	assert.Less(t, time.Since(start), 190*time.Millisecond)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Up)
	assert.Equal(t, 1, st.Down)
	assert.Equal(t, SystemPartialOutage, st.Status)

	off, _ := m.GetServiceStatus("off")
	assert.Equal(t, StatusUnknown, off.Status)

	rec, ok := m.registry.Latest(metrics.CategorySystemStatus)
	require.True(t, ok)
	assert.Equal(t, SystemPartialOutage, rec.Labels["status"])
	assert.Len(t, m.registry.Query(metrics.CategoryExternalAPIs, time.Minute), 3)
}

func TestSystemStatusAggregation(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("down") }
	slow := func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	tests := []struct {
		name    string
		targets []Target
		want    string
	}{
		{"all up", []Target{internalTarget("a", true, ok), internalTarget("b", false, ok)}, SystemOperational},
		{"critical down", []Target{internalTarget("a", true, fail), internalTarget("b", false, fail)}, SystemMajorOutage},
		{"non critical down", []Target{internalTarget("a", true, ok), internalTarget("b", false, fail)}, SystemPartialOutage},
		{"slow", []Target{internalTarget("a", true, slow)}, SystemDegradedPerformance},
		{"nothing registered", nil, SystemOperational},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMonitor(t, func(c *config.UptimeConfig) { c.DegradedResponseMs = 1 })
			for _, target := range tt.targets {
				require.NoError(t, m.AddService(target))
			}
			m.CheckAll(context.Background())
			assert.Equal(t, tt.want, m.GetSystemStatus().Status)
		})
	}
}

func TestHistoryWindowPruning(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewMonitor(Config{Uptime: config.UptimeConfig{RetryDelay: -1}, Clock: clock})
	require.NoError(t, m.AddService(internalTarget("db", true, func(context.Context) error { return nil })))

	for i := 0; i < 3; i++ {
		_, _ = m.CheckService(context.Background(), "db")
	}
	mu.Lock()
	now = now.Add(49 * time.Hour)
	mu.Unlock()
	_, _ = m.CheckService(context.Background(), "db")

	st, _ := m.GetServiceStatus("db")
	assert.Equal(t, 1, st.TotalChecks)
	assert.Len(t, m.GetHistory("db", time.Hour), 1)
}

func TestRemoveServiceResolvesOpenIncident(t *testing.T) {
	m, alerter, _ := newTestMonitor(t, nil)
	require.NoError(t, m.AddService(internalTarget("db", true, func(context.Context) error { return errors.New("down") })))
	for i := 0; i < 3; i++ {
		_, _ = m.CheckService(context.Background(), "db")
	}

	assert.True(t, m.RemoveService("db"))
	assert.False(t, m.RemoveService("db"))
	assert.Equal(t, []alertCall{{"service_down:db", alerting.SeverityCritical}}, alerter.resolves)
	assert.Empty(t, m.GetServices())

	incidents := m.GetIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, IncidentResolved, incidents[0].Status)
}

func TestHTTPOutageAndRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, alerter, _ := newTestMonitor(t, nil)
	require.NoError(t, m.AddService(Target{
		ID: "api", Name: "API", Type: CheckHTTP, URL: srv.URL + "/health", Critical: true, Enabled: true,
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.CheckAll(ctx)
	}
	assert.Equal(t, SystemMajorOutage, m.GetSystemStatus().Status)
	incidents := m.GetIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "critical", incidents[0].Severity)
	assert.Equal(t, IncidentOpen, incidents[0].Status)
	assert.Equal(t, http.StatusInternalServerError, incidents[0].Details.StatusCode)
	assert.Equal(t, []alertCall{{"service_down:api", alerting.SeverityCritical}}, alerter.triggers)

	failing.Store(false)
	for i := 0; i < 2; i++ {
		m.CheckAll(ctx)
	}
	assert.Equal(t, SystemOperational, m.GetSystemStatus().Status)
	incidents = m.GetIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, IncidentResolved, incidents[0].Status)
	assert.Equal(t, []alertCall{{"service_down:api", alerting.SeverityCritical}}, alerter.resolves)

	st, ok := m.GetServiceStatus("api")
	require.True(t, ok)
	assert.Equal(t, StatusUp, st.Status)
	assert.Nil(t, st.CurrentIncident)
}

func TestUptimePercentIsExact(t *testing.T) {
	m, alerter, _ := newTestMonitor(t, nil)
	sw := &switchCheck{}
	require.NoError(t, m.AddService(internalTarget("db", true, sw.check)))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sw.fail.Store(i == 3 || i == 7)
		_, err := m.CheckService(ctx, "db")
		require.NoError(t, err)
	}

	st, ok := m.GetServiceStatus("db")
	require.True(t, ok)
	assert.Equal(t, 10, st.TotalChecks)
	assert.Equal(t, 80.0, st.UptimePercent)
	assert.Empty(t, alerter.triggers)
}
