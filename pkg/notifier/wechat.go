package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"academyops/pkg/core/config"
)

// WeChatNotifier 企业微信群机器人
type WeChatNotifier struct {
	cfg    config.WeChatConfig
	client *http.Client
}

func NewWeChatNotifier(cfg config.WeChatConfig, client *http.Client) (*WeChatNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("企业微信Webhook URL不能为空")
	}
	return &WeChatNotifier{cfg: cfg, client: client}, nil
}

func (n *WeChatNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	content, err := render(plainTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}

	text := map[string]interface{}{"content": content}
	mentioned := n.cfg.MentionedUserIDs
	if n.cfg.MentionAll {
		mentioned = append(append([]string{}, mentioned...), "@all")
	}
	if len(mentioned) > 0 {
		text["mentioned_list"] = mentioned
	}

	resp, err := postJSON(ctx, n.client, n.cfg.WebhookURL, nil, map[string]interface{}{
		"msgtype": "text",
		"text":    text,
	})
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
		return result.finish(start, fmt.Errorf("企业微信接口返回错误: %s", ret.ErrMsg))
	}
	return result.finish(start, nil)
}

func (n *WeChatNotifier) GetType() NotifierType { return NotifierTypeWeChat }
func (n *WeChatNotifier) GetKind() ChannelKind  { return KindChat }
func (n *WeChatNotifier) GetName() string       { return "wechat" }
