package maintenance

import (
	"fmt"
	"strings"
	"time"
)

// 任务名称
const (
	JobSecurityUpdate   = "security-update"
	JobDependencyUpdate = "dependency-update"
	JobCacheCleanup     = "cache-cleanup"
	JobLogCleanup       = "log-cleanup"
	JobSSLCheck         = "ssl-check"
	JobDBOptimize       = "db-optimize"
)

// Jobs 全部任务，按注册顺序
var Jobs = []string{
	JobSecurityUpdate,
	JobDependencyUpdate,
	JobCacheCleanup,
	JobLogCleanup,
	JobSSLCheck,
	JobDBOptimize,
}

// Status 执行结果
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Record 一次维护任务的执行记录
type Record struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Status     Status                 `json:"status"`
	Manual     bool                   `json:"manual"`
	StartTime  time.Time              `json:"startTime"`
	EndTime    time.Time              `json:"endTime"`
	DurationMs int64                  `json:"durationMs"`
	Summary    string                 `json:"summary,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Stats 累计统计
type Stats struct {
	TotalRuns   int        `json:"totalRuns"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	RolledBack  int        `json:"rolledBack"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
}

// UpdateLevel 更新的影响级别，与自动审批级别比较
type UpdateLevel int

const (
	LevelNone UpdateLevel = iota
	LevelPatch
	LevelMinor
	LevelMajor
)

func (l UpdateLevel) String() string {
	switch l {
	case LevelPatch:
		return "patch"
	case LevelMinor:
		return "minor"
	case LevelMajor:
		return "major"
	}
	return "none"
}

// ParseLevel 解析 none|patch|minor|major
func ParseLevel(s string) (UpdateLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "patch":
		return LevelPatch, nil
	case "minor":
		return LevelMinor, nil
	case "major":
		return LevelMajor, nil
	}
	return LevelNone, fmt.Errorf("未知的自动审批级别: %q", s)
}

// Approves 自动审批级别不低于更新级别时放行，none 从不放行
func (l UpdateLevel) Approves(update UpdateLevel) bool {
	return l != LevelNone && update <= l
}
