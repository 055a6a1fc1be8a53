package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"academyops/pkg/core/config"
)

// smsMaxRunes 超长内容截断，避免网关按多条计费
const smsMaxRunes = 300

// SMSNotifier 通用 HTTP 短信网关，请求体 {"from","to","message"}
type SMSNotifier struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSNotifier(cfg config.SMSConfig, client *http.Client) (*SMSNotifier, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("短信网关地址不能为空")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("短信接收人不能为空")
	}
	return &SMSNotifier{cfg: cfg, client: client}, nil
}

func (n *SMSNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	title, err := render(titleTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}
	message := title
	if notification.Content != "" {
		message += ": " + notification.Content
	}
	if utf8.RuneCountInString(message) > smsMaxRunes {
		message = string([]rune(message)[:smsMaxRunes])
	}

	headers := map[string]string{}
	if n.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + n.cfg.APIKey
	}
	_, err = postJSON(ctx, n.client, n.cfg.GatewayURL, headers, map[string]interface{}{
		"from":    n.cfg.From,
		"to":      n.cfg.Recipients,
		"message": message,
	})
	return result.finish(start, err)
}

func (n *SMSNotifier) GetType() NotifierType { return NotifierTypeSMS }
func (n *SMSNotifier) GetKind() ChannelKind  { return KindSMS }
func (n *SMSNotifier) GetName() string       { return "sms" }
