package backup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type 备份类型
type Type string

const (
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
	TypeManual  Type = "manual"
	// TypeFull 维护任务变更前的全量备份
	TypeFull Type = "full"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypeDaily, TypeWeekly, TypeMonthly, TypeManual, TypeFull:
		return t, nil
	}
	return "", fmt.Errorf("未知的备份类型: %q", s)
}

// Record 备份文件
type Record struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Type       Type      `json:"type"`
	Database   string    `json:"database"`
	Compressed bool      `json:"compressed"`
	Encrypted  bool      `json:"encrypted"`
	Remote     string    `json:"remote,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Result 一次备份任务的结果
type Result struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Success    bool      `json:"success"`
	Record     *Record   `json:"record,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMs int64     `json:"durationMs"`
}

// Stats 累计统计
type Stats struct {
	TotalBackups    int        `json:"totalBackups"`
	Successful      int        `json:"successful"`
	Failed          int        `json:"failed"`
	TotalBytes      int64      `json:"totalBytes"`
	LastBackup      *time.Time `json:"lastBackup,omitempty"`
	LastSuccess     *time.Time `json:"lastSuccess,omitempty"`
	LastFailure     *time.Time `json:"lastFailure,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	CleanupRuns     int        `json:"cleanupRuns"`
	CleanupRemoved  int        `json:"cleanupRemoved"`
	RemoteUploads   int        `json:"remoteUploads"`
	RemoteFailures  int        `json:"remoteFailures"`
	LastCleanupTime *time.Time `json:"lastCleanupTime,omitempty"`
}

// CleanupResult 一次保留策略清理的结果
type CleanupResult struct {
	Removed []string `json:"removed"`
	Kept    int      `json:"kept"`
	Errors  []string `json:"errors,omitempty"`
}

const (
	extSQL       = ".sql"
	extGzip      = ".gz"
	extEncrypted = ".enc"
	timeLayout   = "2006-01-02T15-04-05"
)

// <db>_<type>_<2006-01-02T15-04-05-000Z>.sql[.gz][.enc]
var namePattern = regexp.MustCompile(`^(.+)_(daily|weekly|monthly|manual|full)_(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2})-(\d{3})Z\.sql(\.gz)?(\.enc)?$`)

func formatTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03dZ", t.Format(timeLayout), t.Nanosecond()/int(time.Millisecond))
}

// BuildName 生成备份文件名
func BuildName(database string, typ Type, t time.Time, compressed, encrypted bool) string {
	var sb strings.Builder
	sb.WriteString(database)
	sb.WriteByte('_')
	sb.WriteString(string(typ))
	sb.WriteByte('_')
	sb.WriteString(formatTimestamp(t))
	sb.WriteString(extSQL)
	if compressed {
		sb.WriteString(extGzip)
	}
	if encrypted {
		sb.WriteString(extEncrypted)
	}
	return sb.String()
}

// ParseName 解析备份文件名，不符合命名规则的文件返回 false
func ParseName(name string) (Record, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Record{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, m[3], time.UTC)
	if err != nil {
		return Record{}, false
	}
	ms, _ := strconv.Atoi(m[4])
	return Record{
		Name:       name,
		Database:   m[1],
		Type:       Type(m[2]),
		CreatedAt:  ts.Add(time.Duration(ms) * time.Millisecond),
		Compressed: m[5] != "",
		Encrypted:  m[6] != "",
	}, true
}
