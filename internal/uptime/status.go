package uptime

import (
	"sort"
	"time"
)

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// snapshot 调用方需持有读锁
func (m *Monitor) snapshot(svc *service) ServiceStatus {
	st := ServiceStatus{
		ID:                   svc.target.ID,
		Name:                 svc.target.Name,
		Type:                 svc.target.Type,
		Critical:             svc.target.Critical,
		Enabled:              svc.target.Enabled,
		Status:               svc.status,
		ConsecutiveSuccesses: svc.consecutiveSuccesses,
		ConsecutiveFailures:  svc.consecutiveFailures,
		LastCheck:            timePtr(svc.lastCheck),
		LastSuccess:          timePtr(svc.lastSuccess),
		LastFailure:          timePtr(svc.lastFailure),
		LastError:            svc.lastError,
		LastResponseTimeMs:   svc.lastResponseMs,
		TotalChecks:          len(svc.history),
		// 尚未探测过的服务按 100% 计
		UptimePercent: 100,
	}
	if svc.incident != nil {
		inc := *svc.incident
		st.CurrentIncident = &inc
	}

	if len(svc.history) > 0 {
		up := 0
		var sum float64
		for _, r := range svc.history {
			if r.Success {
				up++
				sum += r.ResponseTimeMs
			}
		}
		st.UptimePercent = float64(up) * 100 / float64(len(svc.history))
		if up > 0 {
			st.AvgResponseTimeMs = sum / float64(up)
		}
	}
	return st
}

// GetServiceStatus 单个服务的状态
func (m *Monitor) GetServiceStatus(id string) (ServiceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[id]
	if !ok {
		return ServiceStatus{}, false
	}
	return m.snapshot(svc), true
}

// GetServices 按注册顺序返回所有服务
func (m *Monitor) GetServices() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.snapshot(m.services[id]))
	}
	return out
}

// GetHistory 服务最近 since 时间内的探测记录
func (m *Monitor) GetHistory(id string, since time.Duration) []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[id]
	if !ok {
		return nil
	}
	cutoff := m.now().Add(-since)
	start := sort.Search(len(svc.history), func(i int) bool {
		return svc.history[i].Timestamp.After(cutoff)
	})
	out := make([]CheckResult, len(svc.history)-start)
	copy(out, svc.history[start:])
	return out
}

// GetIncidents 未关闭的故障在前，其余按开始时间倒序
func (m *Monitor) GetIncidents() []Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Incident
	for _, id := range m.order {
		if inc := m.services[id].incident; inc != nil {
			out = append(out, *inc)
		}
	}
	open := len(out)
	for i := len(m.incidents) - 1; i >= 0; i-- {
		out = append(out, m.incidents[i])
	}
	sort.SliceStable(out[open:], func(i, j int) bool {
		return out[open+i].StartTime.After(out[open+j].StartTime)
	})
	return out
}

// GetSystemStatus 只统计启用的服务：
// 关键服务宕机 → major_outage；非关键服务宕机 → partial_outage；
// 平均响应超过阈值 → degraded_performance；否则 operational。
func (m *Monitor) GetSystemStatus() SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := SystemStatus{Timestamp: m.now(), Services: make([]ServiceStatus, 0, len(m.order))}
	var criticalDown, otherDown bool
	var sum float64
	var measured int
	for _, id := range m.order {
		svc := m.services[id]
		if !svc.target.Enabled {
			continue
		}
		snap := m.snapshot(svc)
		st.Services = append(st.Services, snap)
		st.Total++
		switch snap.Status {
		case StatusUp:
			st.Up++
		case StatusDown:
			st.Down++
			if snap.Critical {
				criticalDown = true
			} else {
				otherDown = true
			}
		default:
			st.Unknown++
		}
		if snap.CurrentIncident != nil {
			st.OpenIncidents++
		}
		if snap.AvgResponseTimeMs > 0 {
			sum += snap.AvgResponseTimeMs
			measured++
		}
	}
	if measured > 0 {
		st.AvgResponseTimeMs = sum / float64(measured)
	}

	switch {
	case criticalDown:
		st.Status = SystemMajorOutage
	case otherDown:
		st.Status = SystemPartialOutage
	case st.AvgResponseTimeMs > m.cfg.DegradedResponseMs:
		st.Status = SystemDegradedPerformance
	default:
		st.Status = SystemOperational
	}
	return st
}
