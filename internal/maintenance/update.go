package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"academyops/internal/alerting"
	"academyops/internal/backup"

	"go.uber.org/zap"
)

// manifestSnapshot 更新前的依赖清单内容，nil 表示文件原本不存在
type manifestSnapshot map[string][]byte

func (s *Scheduler) snapshotManifests() (manifestSnapshot, error) {
	snap := make(manifestSnapshot, len(s.cfg.ManifestFiles))
	for _, name := range s.cfg.ManifestFiles {
		path := filepath.Join(s.cfg.WorkDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				snap[path] = nil
				continue
			}
			return nil, fmt.Errorf("读取 %s 失败: %w", name, err)
		}
		snap[path] = data
	}
	return snap, nil
}

func (snap manifestSnapshot) restore() error {
	var errs []error
	for path, data := range snap {
		if data == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updateJob 审批、快照、更新、测试，测试失败时回滚清单与数据库
func (s *Scheduler) updateJob(command string, level UpdateLevel) jobFunc {
	return func(ctx context.Context, manual bool) (jobResult, error) {
		details := map[string]interface{}{"level": level.String(), "command": command}
		if command == "" {
			return jobResult{summary: "未配置更新命令", details: details}, errSkipped
		}
		if !manual && !s.approval.Approves(level) {
			s.alert(AlertApprovalRequired, alerting.SeverityInfo, map[string]interface{}{
				"message":      fmt.Sprintf("%s 级别的更新需要人工审批", level),
				"level":        level.String(),
				"autoApproval": s.approval.String(),
			})
			return jobResult{summary: "等待人工审批", details: details}, errSkipped
		}

		snap, err := s.snapshotManifests()
		if err != nil {
			return jobResult{details: details}, err
		}

		var backupName string
		if s.backup != nil {
			res, err := s.backup.CreateBackup(ctx, backup.TypeFull)
			if err != nil {
				return jobResult{details: details}, fmt.Errorf("更新前备份失败: %w", err)
			}
			if !res.Success {
				return jobResult{details: details}, fmt.Errorf("更新前备份失败: %s", res.Error)
			}
			backupName = res.Record.Name
			details["backup"] = backupName
		}

		cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		out, err := s.runner.Run(cmdCtx, s.cfg.WorkDir, command)
		cancel()
		details["updateOutput"] = out
		if err != nil {
			return jobResult{details: details}, s.rollback(ctx, snap, backupName, details, fmt.Errorf("更新失败: %w", err))
		}

		if s.cfg.TestCommand != "" {
			testCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
			out, err := s.runner.Run(testCtx, s.cfg.WorkDir, s.cfg.TestCommand)
			cancel()
			details["testOutput"] = out
			if err != nil {
				return jobResult{details: details}, s.rollback(ctx, snap, backupName, details, fmt.Errorf("更新后测试失败: %w", err))
			}
		}
		return jobResult{summary: "更新完成并通过测试", details: details}, nil
	}
}

// rollback 恢复依赖清单与更新前的数据库备份，返回包含原因的错误
func (s *Scheduler) rollback(ctx context.Context, snap manifestSnapshot, backupName string, details map[string]interface{}, cause error) error {
	s.logger.Warn("更新失败，开始回滚", zap.Error(cause), zap.String("backup", backupName))

	var errs []error
	if err := snap.restore(); err != nil {
		errs = append(errs, fmt.Errorf("恢复依赖清单失败: %w", err))
	}
	if backupName != "" {
		// 原 ctx 可能已经超时，回滚使用独立的超时
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommandTimeout)
		err := s.backup.RestoreBackup(restoreCtx, backupName)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("恢复数据库备份失败: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		details["rolledBack"] = false
		s.alert(AlertRollbackFailed, alerting.SeverityCritical, map[string]interface{}{
			"message": "维护回滚失败，需要人工介入: " + err.Error(),
			"cause":   cause.Error(),
			"backup":  backupName,
		})
		return fmt.Errorf("%w; 回滚失败: %v", cause, err)
	}
	details["rolledBack"] = true
	return fmt.Errorf("%w; 已回滚", cause)
}
