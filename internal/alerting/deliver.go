package alerting

import (
	"context"
	"fmt"
	"sync"

	"academyops/pkg/notifier"

	"go.uber.org/zap"
)

// resolveKinds 恢复通知只发往支持闭环的通道
var resolveKinds = map[notifier.ChannelKind]bool{
	notifier.KindChat:    true,
	notifier.KindWebhook: true,
	notifier.KindPager:   true,
}

func (s *Service) buildNotification(a *Alert, level Severity, resolved bool) *notifier.Notification {
	content := fmt.Sprintf("告警 %s 已出现 %d 次", a.ID, a.Occurrences)
	switch {
	case resolved:
		content = fmt.Sprintf("告警 %s 已恢复，共出现 %d 次", a.ID, a.Occurrences)
	case a.Escalated && level == SeverityCritical && a.Severity == SeverityWarning:
		content = fmt.Sprintf("告警 %s 持续出现 %d 次，已升级", a.ID, a.Occurrences)
	}

	return &notifier.Notification{
		ID:       a.Key(),
		Title:    a.Message,
		Content:  content,
		Level:    notifier.NotificationLevel(level),
		Resolved: resolved,
		Labels: map[string]string{
			"alertId":  a.ID,
			"severity": string(a.Severity),
		},
		Data:      a.Data,
		CreatedAt: s.now(),
	}
}

// targets 按级别选择通道
func (s *Service) targets(level Severity, resolved bool) []notifier.Notifier {
	kinds := make(map[notifier.ChannelKind]bool)
	for _, k := range s.escalation[level] {
		if resolved && !resolveKinds[k] {
			continue
		}
		kinds[k] = true
	}

	var out []notifier.Notifier
	for _, n := range s.notifiers {
		if kinds[n.GetKind()] {
			out = append(out, n)
		}
	}
	return out
}

// deliver 每个通道独立投递并设置超时，单个通道失败不影响其他通道
func (s *Service) deliver(n *notifier.Notification, level Severity, resolved bool) (delivered, failed []string) {
	targets := s.targets(level, resolved)
	if len(targets) == 0 {
		return nil, nil
	}

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t notifier.Notifier) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- outcome{name: t.GetName(), err: fmt.Errorf("通道崩溃: %v", r)}
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
			defer cancel()
			_, err := t.Send(ctx, n)
			results <- outcome{name: t.GetName(), err: err}
		}(target)
	}
	wg.Wait()
	close(results)

	s.mu.Lock()
	defer s.mu.Unlock()
	for r := range results {
		cs := s.stats.Channels[r.name]
		s.stats.TotalNotifications++
		if r.err != nil {
			cs.Failed++
			s.stats.FailedNotifications++
			failed = append(failed, r.name)
			s.logger.Warn("告警通知发送失败", zap.String("channel", r.name),
				zap.String("alert", n.ID), zap.Error(r.err))
		} else {
			cs.Sent++
			delivered = append(delivered, r.name)
		}
		s.stats.Channels[r.name] = cs
	}
	return delivered, failed
}
