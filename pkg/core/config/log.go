package config

import "time"

// LogConfig 日志配置，包含集中日志的缓冲、轮转与远端投递参数
type LogConfig struct {
	Level         string        `yaml:"level"`
	Dir           string        `yaml:"dir"`
	BufferSize    int           `yaml:"buffer-size"`
	FlushInterval time.Duration `yaml:"flush-interval"`
	MaxFileSizeMB int           `yaml:"max-file-size-mb"`
	MaxFiles      int           `yaml:"max-files"`
	Compress      bool          `yaml:"compress"`
	Console       bool          `yaml:"console"`

	// 阿里云 SLS 投递
	Sls          bool   `yaml:"sls"`
	Endpoint     string `yaml:"endpoint"`
	Project      string `yaml:"project"`
	Logstore     string `yaml:"logstore"`
	AccessKey    string `yaml:"access-key"`
	AccessSecret string `yaml:"access-secret"`

	// Elasticsearch 投递
	Elastic      bool   `yaml:"elastic"`
	ElasticIndex string `yaml:"elastic-index"`
}

// WithDefaults 填充未配置的默认值
func (c LogConfig) WithDefaults() LogConfig {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Dir == "" {
		c.Dir = "logs"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 50
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = 10
	}
	if c.Logstore == "" {
		c.Logstore = "prod"
	}
	if c.ElasticIndex == "" {
		c.ElasticIndex = "academyops-logs"
	}
	return c
}
