package config

import "time"

// ThresholdPair 告警阈值的 warning / critical 两级
type ThresholdPair struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Level 根据数值返回命中的级别，未命中返回空串
func (t ThresholdPair) Level(v float64) string {
	switch {
	case t.Critical > 0 && v >= t.Critical:
		return "critical"
	case t.Warning > 0 && v >= t.Warning:
		return "warning"
	default:
		return ""
	}
}

type AlertThresholds struct {
	ErrorRate     ThresholdPair `yaml:"error-rate" json:"errorRate"`         // 百分比
	ResponseTime  ThresholdPair `yaml:"response-time" json:"responseTime"`   // 毫秒
	Memory        ThresholdPair `yaml:"memory" json:"memory"`                // 百分比
	DBConnections ThresholdPair `yaml:"db-connections" json:"dbConnections"` // 连接池占用百分比
}

// AlertConfig 告警服务配置
type AlertConfig struct {
	MaxAlertsPerHour    int                 `yaml:"max-alerts-per-hour"`
	SuppressionDefault  time.Duration       `yaml:"suppression-default"`
	EscalationThreshold int                 `yaml:"escalation-threshold"`
	HistorySize         int                 `yaml:"history-size"`
	Retention           time.Duration       `yaml:"retention"`
	SendTimeout         time.Duration       `yaml:"send-timeout"`
	Escalation          map[string][]string `yaml:"escalation"` // severity -> 通道类别，覆盖默认规则
	Thresholds          AlertThresholds     `yaml:"thresholds"`
	Channels            ChannelsConfig      `yaml:"channels"`
}

func (c AlertConfig) WithDefaults() AlertConfig {
	if c.MaxAlertsPerHour <= 0 {
		c.MaxAlertsPerHour = 50
	}
	if c.SuppressionDefault <= 0 {
		c.SuppressionDefault = 5 * time.Minute
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 10
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	return c
}

func (t AlertThresholds) WithDefaults() AlertThresholds {
	if t.ErrorRate == (ThresholdPair{}) {
		t.ErrorRate = ThresholdPair{Warning: 5, Critical: 10}
	}
	if t.ResponseTime == (ThresholdPair{}) {
		t.ResponseTime = ThresholdPair{Warning: 1000, Critical: 3000}
	}
	if t.Memory == (ThresholdPair{}) {
		t.Memory = ThresholdPair{Warning: 80, Critical: 90}
	}
	if t.DBConnections == (ThresholdPair{}) {
		t.DBConnections = ThresholdPair{Warning: 80, Critical: 95}
	}
	return t
}

// ChannelsConfig 各告警通道配置，未启用的通道不会被创建
type ChannelsConfig struct {
	Slack    SlackConfig    `yaml:"slack"`
	DingTalk DingTalkConfig `yaml:"dingtalk"`
	WeChat   WeChatConfig   `yaml:"wechat"`
	Email    EmailConfig    `yaml:"email"`
	SMS      SMSConfig      `yaml:"sms"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Pager    PagerConfig    `yaml:"pager"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook-url" validate:"required_if=Enabled true,omitempty,url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

type DingTalkConfig struct {
	Enabled    bool     `yaml:"enabled"`
	WebhookURL string   `yaml:"webhook-url" validate:"required_if=Enabled true,omitempty,url"`
	Secret     string   `yaml:"secret"`
	AtMobiles  []string `yaml:"at-mobiles"`
	AtAll      bool     `yaml:"at-all"`
}

type WeChatConfig struct {
	Enabled          bool     `yaml:"enabled"`
	WebhookURL       string   `yaml:"webhook-url" validate:"required_if=Enabled true,omitempty,url"`
	MentionedUserIDs []string `yaml:"mentioned-user-ids"`
	MentionAll       bool     `yaml:"mention-all"`
}

type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPServer string   `yaml:"smtp-server" validate:"required_if=Enabled true"`
	SMTPPort   int      `yaml:"smtp-port" validate:"required_if=Enabled true"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from" validate:"required_if=Enabled true,omitempty,email"`
	Recipients []string `yaml:"recipients" validate:"required_if=Enabled true,dive,email"`
}

// SMSConfig 通用 HTTP 短信网关
type SMSConfig struct {
	Enabled    bool     `yaml:"enabled"`
	GatewayURL string   `yaml:"gateway-url" validate:"required_if=Enabled true,omitempty,url"`
	APIKey     string   `yaml:"api-key"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients" validate:"required_if=Enabled true"`
}

type WebhookConfig struct {
	Enabled      bool              `yaml:"enabled"`
	URL          string            `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	BodyTemplate string            `yaml:"body-template"`
}

// PagerConfig PagerDuty Events API v2 风格的值班通道
type PagerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	EventsURL  string `yaml:"events-url"`
	RoutingKey string `yaml:"routing-key" validate:"required_if=Enabled true"`
	Source     string `yaml:"source"`
}
