package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"academyops/pkg/core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type capture struct {
	mu     sync.Mutex
	bodies []string
	urls   []string
	status int
	reply  string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(body))
		c.urls = append(c.urls, r.URL.String())
		status, reply := c.status, c.reply
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[len(c.bodies)-1]
}

func sampleNotification() *Notification {
	return &Notification{
		ID:        "high_error_rate:critical",
		Title:     "错误率过高",
		Content:   "最近 5 分钟错误率 12.5%",
		Level:     NotificationLevelCritical,
		Data:      map[string]interface{}{"errorRate": 12.5},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSlackNotifier(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL, Channel: "#ops"}, srv.Client())
	require.NoError(t, err)

	res, err := n.Send(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, KindChat, n.GetKind())

	body := c.last()
	assert.Equal(t, "【critical】错误率过高", gjson.Get(body, "text").String())
	assert.Equal(t, "#ops", gjson.Get(body, "channel").String())
	assert.Equal(t, "#F44336", gjson.Get(body, "attachments.0.color").String())
}

func TestSlackNotifierReportsHTTPFailure(t *testing.T) {
	c := &capture{status: http.StatusInternalServerError}
	srv := c.server(t)

	n, err := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	res, err := n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "500")
}

func TestDingTalkSignedURLAndErrCode(t *testing.T) {
	c := &capture{reply: `{"errcode":310000,"errmsg":"sign not match"}`}
	srv := c.server(t)

	n, err := NewDingTalkNotifier(config.DingTalkConfig{
		WebhookURL: srv.URL + "/robot/send?access_token=abc",
		Secret:     "SEC123",
		AtMobiles:  []string{"13800000000"},
	}, srv.Client())
	require.NoError(t, err)
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }

	_, err = n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign not match")

	c.mu.Lock()
	u := c.urls[0]
	c.mu.Unlock()
	assert.Contains(t, u, "access_token=abc&timestamp=1700000000000&sign=")
	assert.Equal(t, "13800000000", gjson.Get(c.last(), "at.atMobiles.0").String())
	assert.Equal(t, "markdown", gjson.Get(c.last(), "msgtype").String())
}

func TestWeChatMentionAll(t *testing.T) {
	c := &capture{reply: `{"errcode":0,"errmsg":"ok"}`}
	srv := c.server(t)

	n, err := NewWeChatNotifier(config.WeChatConfig{WebhookURL: srv.URL, MentionAll: true}, srv.Client())
	require.NoError(t, err)

	_, err = n.Send(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.Equal(t, "@all", gjson.Get(c.last(), "text.mentioned_list.0").String())
	assert.Contains(t, gjson.Get(c.last(), "text.content").String(), "错误率过高")
}

func TestWebhookDefaultBodyIsValidJSON(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := NewWebhookNotifier(config.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "t"},
	}, srv.Client())
	require.NoError(t, err)

	notification := sampleNotification()
	notification.Content = `含 "引号" 的内容`
	_, err = n.Send(context.Background(), notification)
	require.NoError(t, err)

	body := c.last()
	require.True(t, gjson.Valid(body), body)
	assert.Equal(t, `含 "引号" 的内容`, gjson.Get(body, "content").String())
	assert.Equal(t, "2026-01-02T03:04:05Z", gjson.Get(body, "createdAt").String())
	assert.Equal(t, 12.5, gjson.Get(body, "data.errorRate").Float())
}

func TestWebhookCustomTemplate(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := NewWebhookNotifier(config.WebhookConfig{
		URL:          srv.URL,
		Method:       "put",
		BodyTemplate: `{"summary": {{toJSON .Title}}}`,
	}, srv.Client())
	require.NoError(t, err)

	_, err = n.Send(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.Equal(t, "错误率过高", gjson.Get(c.last(), "summary").String())

	_, err = NewWebhookNotifier(config.WebhookConfig{URL: srv.URL, BodyTemplate: "{{.Broken"}, nil)
	assert.Error(t, err)
}

func TestPagerTriggerAndResolve(t *testing.T) {
	c := &capture{status: http.StatusAccepted}
	srv := c.server(t)

	n, err := NewPagerNotifier(config.PagerConfig{EventsURL: srv.URL, RoutingKey: "rk"}, srv.Client())
	require.NoError(t, err)

	notification := sampleNotification()
	_, err = n.Send(context.Background(), notification)
	require.NoError(t, err)
	body := c.last()
	assert.Equal(t, "trigger", gjson.Get(body, "event_action").String())
	assert.Equal(t, "critical", gjson.Get(body, "payload.severity").String())
	assert.Equal(t, "high_error_rate:critical", gjson.Get(body, "dedup_key").String())

	notification.Resolved = true
	_, err = n.Send(context.Background(), notification)
	require.NoError(t, err)
	assert.Equal(t, "resolve", gjson.Get(c.last(), "event_action").String())
	assert.False(t, gjson.Get(c.last(), "payload").Exists())
}

func TestSMSTruncatesLongMessages(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n, err := NewSMSNotifier(config.SMSConfig{GatewayURL: srv.URL, Recipients: []string{"+8613800000000"}}, srv.Client())
	require.NoError(t, err)

	notification := sampleNotification()
	notification.Content = strings.Repeat("很", 500)
	_, err = n.Send(context.Background(), notification)
	require.NoError(t, err)

	msg := gjson.Get(c.last(), "message").String()
	assert.Equal(t, smsMaxRunes, len([]rune(msg)))
	assert.Equal(t, "+8613800000000", gjson.Get(c.last(), "to.0").String())
}

func TestBuildNotifiers(t *testing.T) {
	notifiers, err := BuildNotifiers(config.ChannelsConfig{
		Slack:   config.SlackConfig{Enabled: true, WebhookURL: "https://hooks.slack.test/x"},
		Webhook: config.WebhookConfig{Enabled: false, URL: "https://ignored.test"},
		Pager:   config.PagerConfig{Enabled: true, RoutingKey: "rk"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, notifiers, 2)
	assert.Equal(t, NotifierTypeSlack, notifiers[0].GetType())
	assert.Equal(t, KindPager, notifiers[1].GetKind())

	_, err = BuildNotifiers(config.ChannelsConfig{
		Email: config.EmailConfig{Enabled: true},
	}, nil)
	assert.Error(t, err)
}
