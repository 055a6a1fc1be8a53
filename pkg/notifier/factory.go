package notifier

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"academyops/pkg/core/config"
)

// BuildNotifiers 根据配置创建所有启用的通道，client 为空时使用 15 秒超时的默认客户端
func BuildNotifiers(cfg config.ChannelsConfig, client *http.Client) ([]Notifier, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	var (
		notifiers []Notifier
		errs      []error
	)
	add := func(n Notifier, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		notifiers = append(notifiers, n)
	}

	if cfg.Slack.Enabled {
		add(NewSlackNotifier(cfg.Slack, client))
	}
	if cfg.DingTalk.Enabled {
		add(NewDingTalkNotifier(cfg.DingTalk, client))
	}
	if cfg.WeChat.Enabled {
		add(NewWeChatNotifier(cfg.WeChat, client))
	}
	if cfg.Email.Enabled {
		add(NewEmailNotifier(cfg.Email))
	}
	if cfg.SMS.Enabled {
		add(NewSMSNotifier(cfg.SMS, client))
	}
	if cfg.Webhook.Enabled {
		add(NewWebhookNotifier(cfg.Webhook, client))
	}
	if cfg.Pager.Enabled {
		add(NewPagerNotifier(cfg.Pager, client))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("创建通知通道失败: %w", errors.Join(errs...))
	}
	return notifiers, nil
}
