package app

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Component 有启停生命周期的组件
type Component interface {
	Name() string
	Start() error
	Stop() error
}

type funcComponent struct {
	name  string
	start func() error
	stop  func() error
}

func (c *funcComponent) Name() string { return c.name }

func (c *funcComponent) Start() error {
	if c.start == nil {
		return nil
	}
	return c.start()
}

func (c *funcComponent) Stop() error {
	if c.stop == nil {
		return nil
	}
	return c.stop()
}

// NewComponent start、stop 可以为空
func NewComponent(name string, start, stop func() error) Component {
	return &funcComponent{name: name, start: start, stop: stop}
}

// ComponentManager 按注册顺序启动，逆序停止
type ComponentManager struct {
	mu      sync.Mutex
	order   []Component
	started []Component
	logger  *zap.Logger
}

func NewComponentManager(logger *zap.Logger) *ComponentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComponentManager{logger: logger.Named("components")}
}

// Register 启动后注册的组件不会被自动启动
func (r *ComponentManager) Register(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, c)
}

// Names 注册顺序
func (r *ComponentManager) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.order))
	for _, c := range r.order {
		names = append(names, c.Name())
	}
	return names
}

// StartAll 任一组件启动失败时，逆序停止已启动的组件并返回错误
func (r *ComponentManager) StartAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.started) > 0 {
		return errors.New("组件已启动")
	}

	for _, c := range r.order {
		if err := c.Start(); err != nil {
			r.logger.Error("组件启动失败", zap.String("component", c.Name()), zap.Error(err))
			startErr := fmt.Errorf("启动组件 %s 失败: %w", c.Name(), err)
			if stopErr := r.stopLocked(); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		r.started = append(r.started, c)
		r.logger.Info("组件已启动", zap.String("component", c.Name()))
	}
	return nil
}

// StopAll 逆序停止，单个组件失败不影响其余组件，可重复调用
func (r *ComponentManager) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *ComponentManager) stopLocked() error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		c := r.started[i]
		if err := c.Stop(); err != nil {
			r.logger.Error("组件停止失败", zap.String("component", c.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		r.logger.Info("组件已停止", zap.String("component", c.Name()))
	}
	r.started = nil
	return errors.Join(errs...)
}
