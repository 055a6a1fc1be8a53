package maintenance

import "time"

// JobStatus 单个任务的调度状态
type JobStatus struct {
	Name    string    `json:"name"`
	Expr    string    `json:"expr"`
	NextRun time.Time `json:"nextRun"`
	Running bool      `json:"running"`
	LastRun *Record   `json:"lastRun,omitempty"`
}

// ServiceStatus 维护调度快照
type ServiceStatus struct {
	Enabled           bool        `json:"enabled"`
	Started           bool        `json:"started"`
	AutoApprovalLevel string      `json:"autoApprovalLevel"`
	Stats             Stats       `json:"stats"`
	Jobs              []JobStatus `json:"jobs"`
	Recent            []Record    `json:"recent"`
}

// GetMaintenanceStatus 最近记录按时间倒序
func (s *Scheduler) GetMaintenanceStatus() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ServiceStatus{
		Enabled:           s.cfg.Enabled,
		Started:           s.started,
		AutoApprovalLevel: s.approval.String(),
		Stats:             s.stats,
		Jobs:              make([]JobStatus, 0, len(s.order)),
		Recent:            make([]Record, 0, len(s.history)),
	}
	for _, name := range s.order {
		j := s.jobs[name]
		js := JobStatus{
			Name:    name,
			Expr:    j.task.Expr,
			NextRun: j.task.NextTime(),
			Running: j.guard.Running(),
		}
		if rec, ok := s.last[name]; ok {
			js.LastRun = &rec
		}
		st.Jobs = append(st.Jobs, js)
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		st.Recent = append(st.Recent, s.history[i])
	}
	return st
}

// History 最近 limit 条记录，按时间倒序
func (s *Scheduler) History(limit int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]Record, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}
