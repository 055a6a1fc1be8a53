package backup

import (
	"time"
)

// JobInfo 备份任务的下一次执行时间
type JobInfo struct {
	Name    string    `json:"name"`
	Expr    string    `json:"expr"`
	NextRun time.Time `json:"nextRun"`
}

// ServiceStatus 备份服务状态
type ServiceStatus struct {
	Running    bool      `json:"running"`
	InProgress bool      `json:"inProgress"`
	Dir        string    `json:"dir"`
	Compress   bool      `json:"compress"`
	Encrypted  bool      `json:"encrypted"`
	Remote     string    `json:"remote,omitempty"`
	Stats      Stats     `json:"stats"`
	Backups    int       `json:"backups"`
	TotalSize  int64     `json:"totalSize"`
	Latest     *Record   `json:"latest,omitempty"`
	Recent     []Result  `json:"recent"`
	Jobs       []JobInfo `json:"jobs"`
}

// GetServiceStatus 统计信息与最近 100 次结果，新的在前
func (s *Scheduler) GetServiceStatus() ServiceStatus {
	st := ServiceStatus{
		InProgress: s.guard.Running(),
		Dir:        s.cfg.Dir,
		Compress:   s.cfg.Compress,
		Encrypted:  s.cfg.EncryptionKey != "",
	}
	if s.uploader != nil {
		st.Remote = s.uploader.Name()
	}

	s.mu.Lock()
	st.Running = s.started
	st.Stats = s.stats
	st.Recent = make([]Result, 0, len(s.results))
	for i := len(s.results) - 1; i >= 0; i-- {
		st.Recent = append(st.Recent, s.results[i])
	}
	s.mu.Unlock()

	for _, t := range s.tasks {
		st.Jobs = append(st.Jobs, JobInfo{Name: t.Name, Expr: t.Expr, NextRun: t.NextTime()})
	}

	if records, err := s.ListBackups(); err == nil {
		st.Backups = len(records)
		for _, r := range records {
			st.TotalSize += r.Size
		}
		if len(records) > 0 {
			latest := records[0]
			st.Latest = &latest
		}
	}
	return st
}
