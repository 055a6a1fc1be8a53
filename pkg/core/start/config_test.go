package start

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("ALERT_SLACK_WEBHOOK", "https://hooks.slack.test/abc")

	raw := []byte(`
app-name: academy
log:
  level: debug
alert:
  max-alerts-per-hour: 20
  channels:
    slack:
      enabled: true
      webhook-url: ${ALERT_SLACK_WEBHOOK}
uptime:
  check-interval: 30s
`)
	cfg, err := ParseConfig(raw, "test")
	require.NoError(t, err, "解析配置失败")

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "https://hooks.slack.test/abc", cfg.Alert.Channels.Slack.WebhookURL)
	assert.Equal(t, 20, cfg.Alert.MaxAlertsPerHour)
	assert.Equal(t, 5*time.Minute, cfg.Alert.SuppressionDefault)
	assert.Equal(t, 30*time.Second, cfg.Uptime.CheckInterval)
	assert.Equal(t, 3, cfg.Uptime.IncidentThreshold)
	assert.Equal(t, 1000, cfg.Log.BufferSize)
	assert.Equal(t, float64(5), cfg.Alert.Thresholds.ErrorRate.Warning)
	assert.Equal(t, 7, cfg.Backup.DailyRetentionDays)
}

func TestParseConfigRejectsEnabledChannelWithoutURL(t *testing.T) {
	raw := []byte(`
alert:
  channels:
    dingtalk:
      enabled: true
`)
	_, err := ParseConfig(raw, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook-url")
}
