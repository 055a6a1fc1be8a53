package config

import "time"

// MaintenanceConfig 自动运维任务配置
type MaintenanceConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	SecurityUpdateCron      string        `yaml:"security-update-cron"`
	DependencyUpdateCron    string        `yaml:"dependency-update-cron"`
	CacheCleanupCron        string        `yaml:"cache-cleanup-cron"`
	LogCleanupCron          string        `yaml:"log-cleanup-cron"`
	SSLCheckCron            string        `yaml:"ssl-check-cron"`
	DBOptimizeCron          string        `yaml:"db-optimize-cron"`
	AutoApprovalLevel       string        `yaml:"auto-approval-level" validate:"omitempty,oneof=none patch minor major"`
	SecurityUpdateCommand   string        `yaml:"security-update-command"`
	DependencyUpdateCommand string        `yaml:"dependency-update-command"`
	TestCommand             string        `yaml:"test-command"`
	WorkDir                 string        `yaml:"work-dir"`
	ManifestFiles           []string      `yaml:"manifest-files"`
	CommandTimeout          time.Duration `yaml:"command-timeout"`
	LogRetentionDays        int           `yaml:"log-retention-days"`
	CachePrefixes           []string      `yaml:"cache-prefixes"`
	Certificates            []string      `yaml:"certificates"`
	CertWarningDays         int           `yaml:"cert-warning-days"`
}

func (c MaintenanceConfig) WithDefaults() MaintenanceConfig {
	if c.SecurityUpdateCron == "" {
		c.SecurityUpdateCron = "0 0 3 * * 1"
	}
	if c.DependencyUpdateCron == "" {
		c.DependencyUpdateCron = "0 0 4 1 * *"
	}
	if c.CacheCleanupCron == "" {
		c.CacheCleanupCron = "0 30 1 * * *"
	}
	if c.LogCleanupCron == "" {
		c.LogCleanupCron = "0 0 1 * * *"
	}
	if c.SSLCheckCron == "" {
		c.SSLCheckCron = "0 0 6 * * *"
	}
	if c.DBOptimizeCron == "" {
		c.DBOptimizeCron = "0 0 5 * * 0"
	}
	if c.AutoApprovalLevel == "" {
		c.AutoApprovalLevel = "patch"
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Minute
	}
	if c.LogRetentionDays <= 0 {
		c.LogRetentionDays = 30
	}
	if c.CertWarningDays <= 0 {
		c.CertWarningDays = 30
	}
	return c
}
