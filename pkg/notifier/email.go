package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"academyops/pkg/core/config"
)

// EmailNotifier SMTP 邮件
type EmailNotifier struct {
	cfg  config.EmailConfig
	body *template.Template
}

const defaultEmailBodyTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>{{if .Resolved}}【已恢复】{{else}}【{{.Level}}】{{end}}{{.Title}}</h2>
  <p>{{.Content}}</p>
  <p><strong>时间:</strong> {{formatTime .CreatedAt}}</p>
  {{if .Data}}
  <table style="border-collapse: collapse;">
    {{range $key, $value := .Data}}
    <tr><td style="padding: 4px 8px;">{{$key}}</td><td style="padding: 4px 8px;">{{$value}}</td></tr>
    {{end}}
  </table>
  {{end}}
  <p style="font-size: 12px; color: #999;">此邮件由运维监控系统自动发送，请勿回复。</p>
</body>
</html>`

func NewEmailNotifier(cfg config.EmailConfig) (*EmailNotifier, error) {
	if cfg.SMTPServer == "" || cfg.SMTPPort == 0 {
		return nil, fmt.Errorf("SMTP服务器地址与端口不能为空")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("发件人地址不能为空")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("收件人列表不能为空")
	}

	body, err := template.New("email").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	}).Parse(defaultEmailBodyTemplate)
	if err != nil {
		return nil, err
	}
	return &EmailNotifier{cfg: cfg, body: body}, nil
}

func (n *EmailNotifier) Send(ctx context.Context, notification *Notification) (*NotificationResult, error) {
	start := time.Now()
	result := newResult(n.GetName(), n.GetType())

	subject, err := render(titleTmpl, notification)
	if err != nil {
		return result.finish(start, err)
	}
	var body bytes.Buffer
	if err := n.body.Execute(&body, notification); err != nil {
		return result.finish(start, fmt.Errorf("渲染邮件正文失败: %w", err))
	}

	return result.finish(start, n.sendMail(ctx, n.buildMessage(subject, body.String())))
}

func (n *EmailNotifier) buildMessage(subject, body string) []byte {
	var msg bytes.Buffer
	msg.WriteString("From: " + n.cfg.From + "\r\n")
	msg.WriteString("To: " + strings.Join(n.cfg.Recipients, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

// sendMail 与 smtp.SendMail 流程一致，连接受 ctx 超时控制
func (n *EmailNotifier) sendMail(ctx context.Context, message []byte) error {
	addr := net.JoinHostPort(n.cfg.SMTPServer, strconv.Itoa(n.cfg.SMTPPort))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接SMTP服务器失败: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.SMTPServer}); err != nil {
			return fmt.Errorf("STARTTLS失败: %w", err)
		}
	}
	if n.cfg.Username != "" && n.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPServer)); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range n.cfg.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("收件人 %s 被拒绝: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *EmailNotifier) GetType() NotifierType { return NotifierTypeEmail }
func (n *EmailNotifier) GetKind() ChannelKind  { return KindEmail }
func (n *EmailNotifier) GetName() string       { return "email" }
