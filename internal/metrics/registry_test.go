package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func request(durationMs float64, failed, slow bool) Fields {
	return Fields{
		Values: map[string]float64{FieldDuration: durationMs},
		Flags:  map[string]bool{FieldError: failed, FieldSlow: slow},
	}
}

func TestRecordKeepsMostRecentThousand(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 1500; i++ {
		r.Record(CategoryAPIRequests, Fields{Values: map[string]float64{"seq": float64(i)}})
	}

	records := r.Query(CategoryAPIRequests, time.Hour)
	require.Len(t, records, 1000)
	assert.Equal(t, float64(500), records[0].Value("seq"))
	assert.Equal(t, float64(1499), records[999].Value("seq"))
	assert.Equal(t, 1000, r.Snapshot()[CategoryAPIRequests])
}

func TestQueryWindowAndOrder(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(WithClock(clock.Now))

	r.Record(CategorySystem, Fields{Values: map[string]float64{"n": 1}})
	clock.Advance(10 * time.Minute)
	r.Record(CategorySystem, Fields{Values: map[string]float64{"n": 2}})
	clock.Advance(time.Minute)
	r.Record(CategorySystem, Fields{Values: map[string]float64{"n": 3}})

	recent := r.Query(CategorySystem, 5*time.Minute)
	require.Len(t, recent, 2)
	assert.Equal(t, float64(2), recent[0].Value("n"))
	assert.Equal(t, float64(3), recent[1].Value("n"))

	// 返回的是副本
	recent[0] = Record{}
	again := r.Query(CategorySystem, 5*time.Minute)
	assert.Equal(t, float64(2), again[0].Value("n"))

	latest, ok := r.Latest(CategorySystem)
	require.True(t, ok)
	assert.Equal(t, float64(3), latest.Value("n"))

	_, ok = r.Latest(CategoryExternalAPIs)
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 20; i++ {
		r.Record(CategoryAPIRequests, request(float64(i*100), i%10 == 0, i > 15))
	}

	s := r.Summarize(CategoryAPIRequests, time.Hour)
	assert.Equal(t, 20, s.Count)
	assert.InDelta(t, 1050, s.MeanDuration, 0.001)
	assert.Equal(t, float64(2000), s.MaxDuration)
	assert.Equal(t, float64(1900), s.P95Duration)
	assert.Equal(t, 2, s.ErrorCount)
	assert.InDelta(t, 10, s.ErrorRate, 0.001)
	assert.InDelta(t, 25, s.SlowRate, 0.001)
}

func TestSummarizeEmptyWindowIsZero(t *testing.T) {
	r := NewRegistry()
	s := r.Summarize(CategoryDatabaseQueries, time.Minute)
	assert.Equal(t, Summary{}, s)
}

func TestSweepDropsOldRecords(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRegistry(WithClock(clock.Now))

	r.Record(CategoryApplication, Fields{})
	r.Record(CategoryExternalAPIs, Fields{})
	clock.Advance(25 * time.Hour)
	r.Record(CategoryApplication, Fields{})

	removed := r.Sweep(24 * time.Hour)
	assert.Equal(t, 2, removed)

	snap := r.Snapshot()
	assert.Equal(t, 1, snap[CategoryApplication])
	assert.Equal(t, 0, snap[CategoryExternalAPIs])
	assert.Equal(t, 0, snap[CategorySystemStatus])
}

func TestConcurrentRecordAndQuery(t *testing.T) {
	r := NewRegistry(WithMaxRecords(100))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Record(CategoryAPIRequests, request(10, false, false))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Summarize(CategoryAPIRequests, time.Minute)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Snapshot()[CategoryAPIRequests])
}

func TestExporterCounters(t *testing.T) {
	e := NewExporter("academyops")
	e.ObserveRequest("GET", "/players/:id", 200, 12)
	e.ObserveRequest("GET", "/players/:id", 200, 30)
	e.ObserveExternal("payments", false, 250)
	e.ObserveAlert("critical")

	assert.Equal(t, float64(2), testutil.ToFloat64(e.requests.WithLabelValues("GET", "/players/:id", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.externalCalls.WithLabelValues("payments", "false")))

	expected := `
# HELP academyops_alerts_total 告警触发次数
# TYPE academyops_alerts_total counter
academyops_alerts_total{severity="critical"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.Gatherer(), strings.NewReader(expected), "academyops_alerts_total"))
}
