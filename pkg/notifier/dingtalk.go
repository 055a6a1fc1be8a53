package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"academyops/pkg/core/config"
)

// DingTalkNotifier 钉钉机器人
type DingTalkNotifier struct {
	cfg    config.DingTalkConfig
	client *http.Client
	now    func() time.Time
}

func NewDingTalkNotifier(cfg config.DingTalkConfig, client *http.Client) (*DingTalkNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("钉钉Webhook URL不能为空")
	}
	return &DingTalkNotifier{cfg: cfg, client: client, now: time.Now}, nil
}

func (n *DingTalkNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	title, err := render(titleTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}
	text, err := render(markdownTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}

	body := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	}
	if n.cfg.AtAll {
		body["at"] = map[string]interface{}{"isAtAll": true}
	} else if len(n.cfg.AtMobiles) > 0 {
		body["at"] = map[string]interface{}{"atMobiles": n.cfg.AtMobiles}
	}

	resp, err := postJSON(ctx, n.client, n.signedURL(), nil, body)
	if err != nil {
		return result.finish(start, err)
	}

	var ret struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(resp, &ret); err != nil {
		return result.finish(start, fmt.Errorf("解析响应失败: %w", err))
	}
	if ret.ErrCode != 0 {
		return result.finish(start, fmt.Errorf("钉钉接口返回错误: %s", ret.ErrMsg))
	}
	return result.finish(start, nil)
}

// signedURL 配置了加签密钥时附加 timestamp 与 sign 参数
func (n *DingTalkNotifier) signedURL() string {
	if n.cfg.Secret == "" {
		return n.cfg.WebhookURL
	}
	timestamp := n.now().UnixMilli()
	sign := dingTalkSign(timestamp, n.cfg.Secret)

	sep := "&"
	if !strings.Contains(n.cfg.WebhookURL, "?") {
		sep = "?"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", n.cfg.WebhookURL, sep, timestamp, url.QueryEscape(sign))
}

func dingTalkSign(timestamp int64, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(fmt.Sprintf("%d\n%s", timestamp, secret)))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (n *DingTalkNotifier) GetType() NotifierType { return NotifierTypeDingTalk }
func (n *DingTalkNotifier) GetKind() ChannelKind  { return KindChat }
func (n *DingTalkNotifier) GetName() string       { return "dingtalk" }
