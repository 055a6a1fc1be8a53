package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"academyops/pkg/core/config"
)

const defaultPagerEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerNotifier PagerDuty Events API v2，告警 trigger，恢复 resolve
type PagerNotifier struct {
	cfg    config.PagerConfig
	client *http.Client
}

func NewPagerNotifier(cfg config.PagerConfig, client *http.Client) (*PagerNotifier, error) {
	if cfg.RoutingKey == "" {
		return nil, fmt.Errorf("值班通道routing key不能为空")
	}
	if cfg.EventsURL == "" {
		cfg.EventsURL = defaultPagerEventsURL
	}
	if cfg.Source == "" {
		cfg.Source = "academyops"
	}
	return &PagerNotifier{cfg: cfg, client: client}, nil
}

var pagerSeverity = map[NotificationLevel]string{
	NotificationLevelInfo:     "info",
	NotificationLevelWarning:  "warning",
	NotificationLevelCritical: "critical",
}

func (n *PagerNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	action := "trigger"
	if notification.Resolved {
		action = "resolve"
	}
	// dedup_key 使用告警键，保证 trigger 与 resolve 对应同一事件
	event := map[string]interface{}{
		"routing_key":  n.cfg.RoutingKey,
		"event_action": action,
		"dedup_key":    notification.ID,
	}
	if action == "trigger" {
		severity := pagerSeverity[notification.Level]
		if severity == "" {
			severity = "error"
		}
		event["payload"] = map[string]interface{}{
			"summary":        notification.Title,
			"source":         n.cfg.Source,
			"severity":       severity,
			"timestamp":      notification.CreatedAt.Format(time.RFC3339),
			"custom_details": notification.Data,
		}
	}

	_, err := postJSON(ctx, n.client, n.cfg.EventsURL, nil, event)
	return result.finish(start, err)
}

func (n *PagerNotifier) GetType() NotifierType { return NotifierTypePager }
func (n *PagerNotifier) GetKind() ChannelKind  { return KindPager }
func (n *PagerNotifier) GetName() string       { return "pager" }
