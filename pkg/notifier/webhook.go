package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"academyops/pkg/core/config"
)

// 默认请求体，字符串字段经 toJSON 转义
const defaultWebhookBodyTemplate = `{
  "id": {{toJSON .ID}},
  "title": {{toJSON .Title}},
  "content": {{toJSON .Content}},
  "level": {{toJSON .Level}},
  "resolved": {{.Resolved}},
  "createdAt": {{toJSON (rfc3339 .CreatedAt)}},
  "labels": {{toJSON .Labels}},
  "data": {{toJSON .Data}}
}`

// WebhookNotifier 通用 webhook，请求体由模板渲染
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	body   *template.Template
}

func NewWebhookNotifier(cfg config.WebhookConfig, client *http.Client) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("Webhook URL不能为空")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	text := cfg.BodyTemplate
	if text == "" {
		text = defaultWebhookBodyTemplate
	}
	body, err := parseTemplate("webhook", text)
	if err != nil {
		return nil, err
	}
	return &WebhookNotifier{cfg: cfg, client: client, body: body}, nil
}

func (n *WebhookNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	body, err := render(n.body, notification)
	if err != nil {
		return result.finish(start, err)
	}
	_, err = sendBody(ctx, n.client, n.cfg.Method, n.cfg.URL, n.cfg.Headers, []byte(body))
	return result.finish(start, err)
}

func (n *WebhookNotifier) GetType() NotifierType { return NotifierTypeWebhook }
func (n *WebhookNotifier) GetKind() ChannelKind  { return KindWebhook }
func (n *WebhookNotifier) GetName() string       { return "webhook" }
