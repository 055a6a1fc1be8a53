package logging

import (
	"context"
	"fmt"
	"time"

	"academyops/pkg/core/config"
	"academyops/pkg/core/logger"

	sls "github.com/aliyun/aliyun-log-go-sdk"
	"github.com/gogo/protobuf/proto"
	"github.com/olivere/elastic/v7"
)

// Shipper 把已落盘的一批日志投递到远端
type Shipper interface {
	Name() string
	Ship(ctx context.Context, entries []Entry) error
}

// SlsShipper 投递到阿里云日志服务
type SlsShipper struct {
	client   sls.ClientInterface
	project  string
	logstore string
	topic    string
	source   string
}

func NewSlsShipper(cfg config.LogConfig, topic, source string) *SlsShipper {
	cfg = cfg.WithDefaults()
	return &SlsShipper{
		client:   logger.NewSlsClient(cfg),
		project:  cfg.Project,
		logstore: cfg.Logstore,
		topic:    topic,
		source:   source,
	}
}

func (s *SlsShipper) Name() string { return "sls" }

func (s *SlsShipper) Ship(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	logs := make([]*sls.Log, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, toSlsLog(e))
	}
	group := &sls.LogGroup{
		Topic:  proto.String(s.topic),
		Source: proto.String(s.source),
		Logs:   logs,
	}
	return s.client.PutLogs(s.project, s.logstore, group)
}

func toSlsLog(e Entry) *sls.Log {
	kv := func(k, v string) *sls.LogContent {
		return &sls.LogContent{Key: proto.String(k), Value: proto.String(v)}
	}
	contents := []*sls.LogContent{
		kv("level", e.Level),
		kv("category", string(e.Category)),
		kv("message", e.Message),
		kv("correlationId", e.CorrelationID),
		kv("service", e.Service),
		kv("environment", e.Environment),
		kv("hostname", e.Hostname),
	}
	if e.UserID != "" {
		contents = append(contents, kv("userId", e.UserID))
	}
	if e.SessionID != "" {
		contents = append(contents, kv("sessionId", e.SessionID))
	}
	if e.RequestID != "" {
		contents = append(contents, kv("requestId", e.RequestID))
	}
	for k, v := range e.Metadata {
		contents = append(contents, kv(k, fmt.Sprintf("%v", v)))
	}
	return &sls.Log{
		Time:     proto.Uint32(uint32(e.Timestamp.Unix())),
		Contents: contents,
	}
}

// ElasticShipper 通过 bulk 接口写入 Elasticsearch，索引按天切分
type ElasticShipper struct {
	client *elastic.Client
	index  string
}

func NewElasticShipper(client *elastic.Client, index string) *ElasticShipper {
	return &ElasticShipper{client: client, index: index}
}

func (s *ElasticShipper) Name() string { return "elastic" }

func (s *ElasticShipper) indexFor(t time.Time) string {
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

func (s *ElasticShipper) Ship(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	bulk := s.client.Bulk()
	for _, e := range entries {
		bulk.Add(elastic.NewBulkIndexRequest().Index(s.indexFor(e.Timestamp)).Doc(e))
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return fmt.Errorf("bulk写入失败: %w", err)
	}
	if resp.Errors {
		failed := resp.Failed()
		reason := ""
		if len(failed) > 0 && failed[0].Error != nil {
			reason = failed[0].Error.Reason
		}
		return fmt.Errorf("bulk写入部分失败: %d/%d, %s", len(failed), len(entries), reason)
	}
	return nil
}
