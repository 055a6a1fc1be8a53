package config

import "time"

// UptimeConfig 可用性探测配置
type UptimeConfig struct {
	CheckInterval      time.Duration  `yaml:"check-interval"`
	Timeout            time.Duration  `yaml:"timeout"`
	RetryAttempts      int            `yaml:"retry-attempts"`
	RetryDelay         time.Duration  `yaml:"retry-delay"`
	IncidentThreshold  int            `yaml:"incident-threshold"`
	RecoveryThreshold  int            `yaml:"recovery-threshold"`
	HistoryWindow      time.Duration  `yaml:"history-window"`
	DegradedResponseMs float64        `yaml:"degraded-response-ms"`
	CheckDatabase      bool           `yaml:"check-database"`
	CheckRedis         bool           `yaml:"check-redis"`
	Targets            []UptimeTarget `yaml:"targets"`
}

// UptimeTarget 配置文件中声明的 HTTP 探测目标
type UptimeTarget struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	URL               string            `yaml:"url"`
	Method            string            `yaml:"method"`
	Headers           map[string]string `yaml:"headers"`
	ExpectedStatus    []int             `yaml:"expected-status"`
	ExpectedBodyPath  string            `yaml:"expected-body-path"`
	ExpectedBodyValue string            `yaml:"expected-body-value"`
	Critical          bool              `yaml:"critical"`
	Disabled          bool              `yaml:"disabled"`
	Timeout           time.Duration     `yaml:"timeout"`
}

func (c UptimeConfig) WithDefaults() UptimeConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.IncidentThreshold <= 0 {
		c.IncidentThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 48 * time.Hour
	}
	if c.DegradedResponseMs <= 0 {
		c.DegradedResponseMs = 1000
	}
	return c
}
