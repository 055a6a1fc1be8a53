package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"academyops/internal/alerting"

	"github.com/go-acme/lego/v4/certcrypto"
	"go.uber.org/zap"
)

const (
	scanCount       = 500
	certCriticalDay = 7
)

func (s *Scheduler) cacheCleanup(ctx context.Context, _ bool) (jobResult, error) {
	if s.cache == nil || len(s.cfg.CachePrefixes) == 0 {
		return jobResult{summary: "未配置缓存清理"}, errSkipped
	}

	removed := make(map[string]interface{}, len(s.cfg.CachePrefixes))
	total := int64(0)
	var errs []error
	for _, prefix := range s.cfg.CachePrefixes {
		n, err := s.deleteByPrefix(ctx, prefix)
		removed[prefix] = n
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}
	res := jobResult{
		summary: fmt.Sprintf("删除 %d 个缓存键", total),
		details: map[string]interface{}{"removed": removed, "total": total},
	}
	return res, errors.Join(errs...)
}

// deleteByPrefix 用 SCAN 游标分批删除，避免 KEYS 阻塞
func (s *Scheduler) deleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := s.cache.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := s.cache.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *Scheduler) logCleanup(_ context.Context, _ bool) (jobResult, error) {
	if s.logs == nil {
		return jobResult{summary: "未配置日志清理"}, errSkipped
	}
	maxAge := time.Duration(s.cfg.LogRetentionDays) * 24 * time.Hour
	n, err := s.logs.CleanupRotated(maxAge)
	return jobResult{
		summary: fmt.Sprintf("删除 %d 个过期日志文件", n),
		details: map[string]interface{}{"removed": n, "retentionDays": s.cfg.LogRetentionDays},
	}, err
}

// CertInfo 证书到期信息
type CertInfo struct {
	File     string    `json:"file"`
	Subject  string    `json:"subject"`
	DNSNames []string  `json:"dnsNames,omitempty"`
	NotAfter time.Time `json:"notAfter"`
	DaysLeft int       `json:"daysLeft"`
}

func (s *Scheduler) sslCheck(_ context.Context, _ bool) (jobResult, error) {
	if len(s.cfg.Certificates) == 0 {
		return jobResult{summary: "未配置证书"}, errSkipped
	}

	now := s.now()
	var certs []CertInfo
	var errs []error
	expiring := 0
	for _, file := range s.cfg.Certificates {
		info, err := loadCert(file, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		certs = append(certs, info)

		id := AlertCertExpiring + ":" + filepath.Base(file)
		sev := certSeverity(info.DaysLeft, s.cfg.CertWarningDays)
		if sev == "" {
			if s.alerter != nil {
				s.alerter.ResolveAlert(id, alerting.SeverityWarning)
				s.alerter.ResolveAlert(id, alerting.SeverityCritical)
			}
			continue
		}
		expiring++
		s.logger.Warn("证书即将过期", zap.String("file", file), zap.Int("days_left", info.DaysLeft))
		s.alert(id, sev, map[string]interface{}{
			"message":  fmt.Sprintf("证书 %s 将在 %d 天后过期", info.Subject, info.DaysLeft),
			"file":     file,
			"notAfter": info.NotAfter,
			"daysLeft": info.DaysLeft,
		})
	}

	res := jobResult{
		summary: fmt.Sprintf("检查 %d 个证书，%d 个即将过期", len(certs), expiring),
		details: map[string]interface{}{"certificates": certs, "expiring": expiring},
	}
	return res, errors.Join(errs...)
}

func certSeverity(daysLeft, warningDays int) alerting.Severity {
	switch {
	case daysLeft <= certCriticalDay:
		return alerting.SeverityCritical
	case daysLeft <= warningDays:
		return alerting.SeverityWarning
	}
	return ""
}

func loadCert(file string, now time.Time) (CertInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return CertInfo{}, fmt.Errorf("读取证书失败: %w", err)
	}
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return CertInfo{}, fmt.Errorf("解析证书 %s 失败: %w", file, err)
	}
	return CertInfo{
		File:     file,
		Subject:  cert.Subject.CommonName,
		DNSNames: cert.DNSNames,
		NotAfter: cert.NotAfter,
		DaysLeft: int(cert.NotAfter.Sub(now).Hours() / 24),
	}, nil
}

func (s *Scheduler) dbOptimize(ctx context.Context, _ bool) (jobResult, error) {
	if s.optimizer == nil {
		return jobResult{summary: "未配置数据库"}, errSkipped
	}
	details, err := s.optimizer.Optimize(ctx)
	if err != nil {
		return jobResult{details: details}, fmt.Errorf("数据库优化失败: %w", err)
	}
	return jobResult{summary: "数据库统计信息已更新", details: details}, nil
}
