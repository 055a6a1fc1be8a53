package maintenance

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// GormOptimizer 对所有表执行 ANALYZE 并返回连接池状态
type GormOptimizer struct {
	db *gorm.DB
}

func NewGormOptimizer(db *gorm.DB) *GormOptimizer {
	return &GormOptimizer{db: db}
}

func (o *GormOptimizer) Optimize(ctx context.Context) (map[string]interface{}, error) {
	db := o.db.WithContext(ctx)
	tables, err := db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("获取表列表失败: %w", err)
	}

	postgres := db.Dialector.Name() == "postgres"
	analyzed := 0
	var failed []string
	for _, table := range tables {
		if err := db.Exec(analyzeSQL(table, postgres)).Error; err != nil {
			failed = append(failed, table)
			continue
		}
		analyzed++
	}

	details := map[string]interface{}{"tables": len(tables), "analyzed": analyzed}
	if sqlDB, err := db.DB(); err == nil {
		st := sqlDB.Stats()
		details["pool"] = map[string]interface{}{
			"open":         st.OpenConnections,
			"inUse":        st.InUse,
			"idle":         st.Idle,
			"waitCount":    st.WaitCount,
			"waitDuration": st.WaitDuration.String(),
		}
	}
	if len(failed) > 0 {
		details["failed"] = failed
		return details, fmt.Errorf("%d 个表分析失败: %s", len(failed), strings.Join(failed, ", "))
	}
	return details, nil
}

func analyzeSQL(table string, postgres bool) string {
	if postgres {
		return `ANALYZE "` + strings.ReplaceAll(table, `"`, `""`) + `"`
	}
	return "ANALYZE TABLE `" + strings.ReplaceAll(table, "`", "``") + "`"
}
