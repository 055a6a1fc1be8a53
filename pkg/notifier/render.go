package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"text/template"
	"time"
)

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
	"rfc3339": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
	"toJSON": func(v interface{}) string {
		if v == nil {
			return "null"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	},
}

const defaultTitleTemplate = `{{if .Resolved}}【已恢复】{{else}}【{{.Level}}】{{end}}{{.Title}}`

const defaultMarkdownTemplate = `### {{if .Resolved}}告警恢复{{else}}告警通知{{end}}

- **标题**: {{.Title}}
- **级别**: {{.Level}}
- **时间**: {{formatTime .CreatedAt}}

{{.Content}}
{{if .Data}}
{{range $key, $value := .Data}}- **{{$key}}**: {{$value}}
{{end}}{{end}}`

const defaultPlainTemplate = `{{if .Resolved}}[已恢复]{{else}}[{{.Level}}]{{end}} {{.Title}}
{{.Content}}
时间: {{formatTime .CreatedAt}}{{if .Data}}
{{range $key, $value := .Data}}{{$key}}: {{$value}}
{{end}}{{end}}`

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("解析%s模板失败: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, n *Notification) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("渲染%s模板失败: %w", t.Name(), err)
	}
	return buf.String(), nil
}

var (
	titleTmpl    = template.Must(template.New("title").Funcs(templateFuncs).Parse(defaultTitleTemplate))
	markdownTmpl = template.Must(template.New("markdown").Funcs(templateFuncs).Parse(defaultMarkdownTemplate))
	plainTmpl    = template.Must(template.New("plain").Funcs(templateFuncs).Parse(defaultPlainTemplate))
)

// doRequest 发送请求并检查 2xx 状态码，返回响应体
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("HTTP响应状态异常: %d", resp.StatusCode)
	}
	return body, nil
}

// postJSON 以 JSON 格式提交 payload
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	return sendBody(ctx, client, http.MethodPost, url, headers, data)
}

func sendBody(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "academyops-notifier/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req)
}
