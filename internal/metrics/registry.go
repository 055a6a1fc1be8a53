// Package metrics 进程内指标登记表，每个类别保存有界的时间序列
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Category 指标类别
type Category string

const (
	CategorySystem          Category = "system"
	CategoryApplication     Category = "application"
	CategoryAPIRequests     Category = "api_requests"
	CategoryDatabaseQueries Category = "database_queries"
	CategoryExternalAPIs    Category = "external_apis"
	CategorySystemStatus    Category = "system_status"
)

// Categories 固定的类别集合
var Categories = []Category{
	CategorySystem,
	CategoryApplication,
	CategoryAPIRequests,
	CategoryDatabaseQueries,
	CategoryExternalAPIs,
	CategorySystemStatus,
}

// 常用字段名
const (
	FieldDuration   = "duration_ms"
	FieldStatusCode = "status_code"
	FieldError      = "error"
	FieldSlow       = "slow"
)

// DefaultMaxRecords 每个类别最多保留的记录数
const DefaultMaxRecords = 1000

// Fields 一条记录的内容，数值、布尔标记与标签分开存放
type Fields struct {
	Values map[string]float64 `json:"values,omitempty"`
	Flags  map[string]bool    `json:"flags,omitempty"`
	Labels map[string]string  `json:"labels,omitempty"`
}

// Record 记录写入后不再修改
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Fields
}

// Value 读取数值字段，缺失时返回 0
func (r Record) Value(name string) float64 {
	return r.Values[name]
}

// Flag 读取布尔字段
func (r Record) Flag(name string) bool {
	return r.Flags[name]
}

// Summary 时间窗口内的聚合结果，百分比字段取值 0-100
type Summary struct {
	Count        int     `json:"count"`
	MeanDuration float64 `json:"meanDuration"`
	MaxDuration  float64 `json:"maxDuration"`
	P95Duration  float64 `json:"p95Duration"`
	ErrorCount   int     `json:"errorCount"`
	SlowCount    int     `json:"slowCount"`
	ErrorRate    float64 `json:"errorRate"`
	SlowRate     float64 `json:"slowRate"`
}

// Registry 指标登记表
type Registry struct {
	mu         sync.RWMutex
	maxRecords int
	series     map[Category][]Record
	now        func() time.Time
	exporter   *Exporter
}

// Option 登记表选项
type Option func(*Registry)

// WithMaxRecords 修改每个类别的容量
func WithMaxRecords(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxRecords = n
		}
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithExporter 同步写入 Prometheus 指标
func WithExporter(e *Exporter) Option {
	return func(r *Registry) { r.exporter = e }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		maxRecords: DefaultMaxRecords,
		series:     make(map[Category][]Record, len(Categories)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Exporter 返回关联的 Prometheus 导出器，可能为空
func (r *Registry) Exporter() *Exporter {
	return r.exporter
}

// Record 追加一条记录，超过容量时丢弃最旧的记录
func (r *Registry) Record(category Category, fields Fields) {
	rec := Record{Timestamp: r.now(), Fields: fields}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.series[category], rec)
	if over := len(buf) - r.maxRecords; over > 0 {
		// 复制到新切片，释放被淘汰记录占用的底层数组
		trimmed := make([]Record, r.maxRecords, r.maxRecords+r.maxRecords/4)
		copy(trimmed, buf[over:])
		buf = trimmed
	}
	r.series[category] = buf
}

// Query 返回最近 since 时间内的记录，按写入顺序排列
func (r *Registry) Query(category Category, since time.Duration) []Record {
	cutoff := r.now().Add(-since)

	r.mu.RLock()
	defer r.mu.RUnlock()

	buf := r.series[category]
	// 记录按时间追加，二分找到窗口起点
	start := sort.Search(len(buf), func(i int) bool {
		return buf[i].Timestamp.After(cutoff)
	})
	out := make([]Record, len(buf)-start)
	copy(out, buf[start:])
	return out
}

// Latest 返回类别中最新的一条记录
func (r *Registry) Latest(category Category) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	buf := r.series[category]
	if len(buf) == 0 {
		return Record{}, false
	}
	return buf[len(buf)-1], true
}

// Summarize 计算窗口内的耗时与错误/慢请求比例，空窗口返回零值
func (r *Registry) Summarize(category Category, since time.Duration) Summary {
	return Summarize(r.Query(category, since))
}

// Summarize 对一组记录做聚合
func Summarize(records []Record) Summary {
	var s Summary
	if len(records) == 0 {
		return s
	}

	durations := make([]float64, 0, len(records))
	var total float64
	for _, rec := range records {
		d := rec.Value(FieldDuration)
		durations = append(durations, d)
		total += d
		if d > s.MaxDuration {
			s.MaxDuration = d
		}
		if rec.Flag(FieldError) {
			s.ErrorCount++
		}
		if rec.Flag(FieldSlow) {
			s.SlowCount++
		}
	}

	s.Count = len(records)
	s.MeanDuration = total / float64(s.Count)
	s.ErrorRate = float64(s.ErrorCount) * 100 / float64(s.Count)
	s.SlowRate = float64(s.SlowCount) * 100 / float64(s.Count)

	sort.Float64s(durations)
	idx := int(math.Ceil(0.95*float64(len(durations)))) - 1
	if idx < 0 {
		idx = 0
	}
	s.P95Duration = durations[idx]
	return s
}

// Sweep 删除所有类别中超过 maxAge 的记录，返回删除数量
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for cat, buf := range r.series {
		start := sort.Search(len(buf), func(i int) bool {
			return !buf[i].Timestamp.Before(cutoff)
		})
		if start == 0 {
			continue
		}
		removed += start
		kept := make([]Record, len(buf)-start)
		copy(kept, buf[start:])
		r.series[cat] = kept
	}
	return removed
}

// Snapshot 每个类别当前的记录数
func (r *Registry) Snapshot() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Category]int, len(Categories))
	for _, cat := range Categories {
		out[cat] = len(r.series[cat])
	}
	for cat, buf := range r.series {
		out[cat] = len(buf)
	}
	return out
}
