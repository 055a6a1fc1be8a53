// Package notifier 告警通知通道，每种通道一个实现
package notifier

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotifierType 通道实现类型
type NotifierType string

const (
	NotifierTypeSlack    NotifierType = "slack"
	NotifierTypeDingTalk NotifierType = "dingtalk"
	NotifierTypeWeChat   NotifierType = "wechat"
	NotifierTypeEmail    NotifierType = "email"
	NotifierTypeSMS      NotifierType = "sms"
	NotifierTypeWebhook  NotifierType = "webhook"
	NotifierTypePager    NotifierType = "pager"
)

// ChannelKind 升级规则中使用的通道类别
type ChannelKind string

const (
	KindChat    ChannelKind = "chat"
	KindEmail   ChannelKind = "email"
	KindSMS     ChannelKind = "sms"
	KindWebhook ChannelKind = "webhook"
	KindPager   ChannelKind = "pager"
)

// NotificationLevel 通知级别，与告警级别一致
type NotificationLevel string

const (
	NotificationLevelInfo     NotificationLevel = "info"
	NotificationLevelWarning  NotificationLevel = "warning"
	NotificationLevelCritical NotificationLevel = "critical"
)

// Notification 一条待投递的通知
type Notification struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Level     NotificationLevel      `json:"level"`
	Resolved  bool                   `json:"resolved"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NotificationResult 单个通道的投递结果
type NotificationResult struct {
	NotifierName string       `json:"notifierName"`
	NotifierType NotifierType `json:"notifierType"`
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	Timestamp    int64        `json:"timestamp"`
	ResponseTime int64        `json:"responseTime"` // 毫秒
}

// Notifier 通知通道
type Notifier interface {
	// Send 投递通知，失败时返回 error，result 中同样记录失败原因
	Send(ctx context.Context, notification *Notification) (*NotificationResult, error)
	GetType() NotifierType
	GetKind() ChannelKind
	GetName() string
}

func newResult(name string, typ NotifierType) *NotificationResult {
	return &NotificationResult{
		NotifierName: name,
		NotifierType: typ,
		Timestamp:    time.Now().Unix(),
	}
}

// finish 填充耗时与错误信息
func (r *NotificationResult) finish(start time.Time, err error) (*NotificationResult, error) {
	r.ResponseTime = time.Since(start).Milliseconds()
	if err != nil {
		r.Error = err.Error()
		return r, err
	}
	r.Success = true
	return r, nil
}
