package config

import "time"

// BackupConfig 数据库备份配置
type BackupConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Dir                    string        `yaml:"dir"`
	DailyCron              string        `yaml:"daily-cron"`
	WeeklyCron             string        `yaml:"weekly-cron"`
	MonthlyCron            string        `yaml:"monthly-cron"`
	CleanupCron            string        `yaml:"cleanup-cron"`
	DailyRetentionDays     int           `yaml:"daily-retention-days"`
	WeeklyRetentionWeeks   int           `yaml:"weekly-retention-weeks"`
	MonthlyRetentionMonths int           `yaml:"monthly-retention-months"`
	Compress               bool          `yaml:"compress"`
	EncryptionKey          string        `yaml:"encryption-key"`
	Remote                 string        `yaml:"remote" validate:"omitempty,oneof=oss sftp"`
	RemotePrefix           string        `yaml:"remote-prefix"`
	DumpBinary             string        `yaml:"dump-binary"`
	RestoreBinary          string        `yaml:"restore-binary"`
	Timeout                time.Duration `yaml:"timeout"`
	Oss                    OssConfig     `yaml:"oss"`
	Sftp                   SftpConfig    `yaml:"sftp"`
}

func (c BackupConfig) WithDefaults() BackupConfig {
	if c.Dir == "" {
		c.Dir = "backups"
	}
	if c.DailyCron == "" {
		c.DailyCron = "0 0 2 * * *"
	}
	if c.WeeklyCron == "" {
		c.WeeklyCron = "0 0 3 * * 0"
	}
	if c.MonthlyCron == "" {
		c.MonthlyCron = "0 0 4 1 * *"
	}
	if c.CleanupCron == "" {
		c.CleanupCron = "0 0 5 * * *"
	}
	if c.DailyRetentionDays <= 0 {
		c.DailyRetentionDays = 7
	}
	if c.WeeklyRetentionWeeks <= 0 {
		c.WeeklyRetentionWeeks = 4
	}
	if c.MonthlyRetentionMonths <= 0 {
		c.MonthlyRetentionMonths = 12
	}
	if c.RemotePrefix == "" {
		c.RemotePrefix = "backups/"
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Hour
	}
	return c
}
