package health

import (
	"academyops/system/health/internal/app"
)

// Options 健康模块依赖，未启用的组件留空
type Options = app.Options

// Module 健康检查模块门面
type Module struct {
	internalApp *app.App
}

// NewModule 创建健康检查模块
func NewModule(opts Options) *Module {
	return &Module{internalApp: app.NewApp(opts)}
}
