package config

import "time"

// PerformanceConfig 性能采样配置
type PerformanceConfig struct {
	SystemInterval      time.Duration `yaml:"system-interval"`
	ApplicationInterval time.Duration `yaml:"application-interval"`
	SlowRequestMs       float64       `yaml:"slow-request-ms"`
	SlowQueryMs         float64       `yaml:"slow-query-ms"`
	SlowRateWarning     float64       `yaml:"slow-rate-warning"` // 百分比
	CriticalWindow      time.Duration `yaml:"critical-window"`
	SweepInterval       time.Duration `yaml:"sweep-interval"`
	MetricsMaxAge       time.Duration `yaml:"metrics-max-age"`
}

func (c PerformanceConfig) WithDefaults() PerformanceConfig {
	if c.SystemInterval <= 0 {
		c.SystemInterval = 30 * time.Second
	}
	if c.ApplicationInterval <= 0 {
		c.ApplicationInterval = 60 * time.Second
	}
	if c.SlowRequestMs <= 0 {
		c.SlowRequestMs = 1000
	}
	if c.SlowQueryMs <= 0 {
		c.SlowQueryMs = 1000
	}
	if c.SlowRateWarning <= 0 {
		c.SlowRateWarning = 10
	}
	if c.CriticalWindow <= 0 {
		c.CriticalWindow = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.MetricsMaxAge <= 0 {
		c.MetricsMaxAge = 24 * time.Hour
	}
	return c
}
