package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"academyops/pkg/core/config"
)

// SlackNotifier Slack incoming webhook
type SlackNotifier struct {
	cfg    config.SlackConfig
	client *http.Client
}

func NewSlackNotifier(cfg config.SlackConfig, client *http.Client) (*SlackNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("Slack Webhook URL不能为空")
	}
	return &SlackNotifier{cfg: cfg, client: client}, nil
}

var slackColors = map[NotificationLevel]string{
	NotificationLevelInfo:     "#2196F3",
	NotificationLevelWarning:  "#FF9800",
	NotificationLevelCritical: "#F44336",
}

func (n *SlackNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	title, err := render(titleTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}
	text, err := render(plainTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}

	color := slackColors[notification.Level]
	if notification.Resolved {
		color = "#4CAF50"
	}
	payload := map[string]interface{}{
		"text": title,
		"attachments": []map[string]interface{}{{
			"color": color,
			"text":  text,
			"ts":    notification.CreatedAt.Unix(),
		}},
	}
	if n.cfg.Channel != "" {
		payload["channel"] = n.cfg.Channel
	}
	if n.cfg.Username != "" {
		payload["username"] = n.cfg.Username
	}

	_, err = postJSON(ctx, n.client, n.cfg.WebhookURL, nil, payload)
	return result.finish(start, err)
}

func (n *SlackNotifier) GetType() NotifierType { return NotifierTypeSlack }
func (n *SlackNotifier) GetKind() ChannelKind  { return KindChat }
func (n *SlackNotifier) GetName() string       { return "slack" }
