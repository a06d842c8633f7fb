// Package tools 实现工具调用子管线: 注册中心, 有界并发执行器与审计日志.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ToolFunc 是工具函数签名.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ParamSpec 描述一个工具参数, 用于渲染给模型的工具说明和参数校验.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // number, integer, string, boolean
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// RateLimitConfig 定义工具级速率限制.
type RateLimitConfig struct {
	MaxCalls int           // 窗口内最大调用次数
	Window   time.Duration // 时间窗口
}

// Metadata 描述工具元数据.
type Metadata struct {
	Description string           // 工具说明, 渲染进模型提示词
	Params      []ParamSpec      // 参数定义
	RateLimit   *RateLimitConfig // 速率限制 (可选)
	Timeout     time.Duration    // 执行超时 (默认 30s)
}

// RequiredParams 返回必填参数名列表, 按声明顺序.
func (m Metadata) RequiredParams() []string {
	var names []string
	for _, p := range m.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// DefaultParams 返回带默认值的可选参数表.
func (m Metadata) DefaultParams() map[string]any {
	defaults := make(map[string]any)
	for _, p := range m.Params {
		if !p.Required && p.Default != nil {
			defaults[p.Name] = p.Default
		}
	}
	return defaults
}

// Descriptor 是工具的对外描述, List 输出给模型做工具选择.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
}

// Registry 是工具注册中心.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]Metadata
	limiters map[string]*rate.Limiter // 工具级别的速率限制器
	logger   *zap.Logger
}

// NewRegistry 创建工具注册中心.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册一个工具.
func (r *Registry) Register(name string, fn ToolFunc, metadata Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if fn == nil {
		return fmt.Errorf("tool %s: nil function", name)
	}

	// 设置默认超时
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata

	// 初始化速率限制器
	if rl := metadata.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		limit := rate.Limit(float64(rl.MaxCalls) / rl.Window.Seconds())
		r.limiters[name] = rate.NewLimiter(limit, rl.MaxCalls)
	}

	r.logger.Info("tool registered",
		zap.String("name", name),
		zap.Duration("timeout", metadata.Timeout))
	return nil
}

// Unregister 注销一个工具.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.limiters, name)

	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

// Get 返回工具函数及其元数据.
func (r *Registry) Get(name string) (ToolFunc, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, Metadata{}, false
	}
	return fn, r.metadata[name], true
}

// Has 检查工具是否已注册.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names 返回已注册的工具名, 按字典序.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 返回全部工具描述, 按名称排序保证输出稳定.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.metadata))
	for name, meta := range r.metadata {
		descriptors = append(descriptors, Descriptor{
			Name:        name,
			Description: meta.Description,
			Params:      meta.Params,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Len 返回已注册的工具数.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// allowCall 检查速率限制, 超限返回结构化错误.
func (r *Registry) allowCall(name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	meta := r.metadata[name]
	r.mu.RUnlock()

	if !ok {
		return nil // 没有速率限制
	}
	if !limiter.Allow() {
		window := 60
		if meta.RateLimit != nil {
			window = int(meta.RateLimit.Window.Seconds())
		}
		return NewRateLimitError(name, window)
	}
	return nil
}
