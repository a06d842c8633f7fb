package tools

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

// Invocation 是一次工具调用请求.
type Invocation struct {
	ConversationID string
	UserID         string
	ToolName       string
	Args           map[string]any
}

// ExecutorConfig 配置工具执行器.
type ExecutorConfig struct {
	// 并发执行槽位数
	MaxConcurrent int
	// 默认超时, 工具元数据未指定时使用
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig 返回默认配置.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:  5,
		DefaultTimeout: 30 * time.Second,
	}
}

// Executor 以固定槽位数执行工具调用, 每次调用带超时和审计.
type Executor struct {
	registry *Registry
	auditor  Auditor
	slots    *semaphore.Weighted
	config   ExecutorConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewExecutor 创建执行器. auditor 为 nil 时退化为内存审计, m 允许为 nil.
func NewExecutor(registry *Registry, auditor Auditor, config ExecutorConfig, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if auditor == nil {
		auditor = NewMemoryAuditStore(0)
	}
	return &Executor{
		registry: registry,
		auditor:  auditor,
		slots:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
		config:   config,
		metrics:  m,
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

// Execute 执行一次工具调用. 无论成败, 每次尝试恰好写一条审计记录.
// 未注册的工具立即返回 TOOL_NOT_FOUND, 不占用执行槽位.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	start := time.Now()

	argsJSON, _ := json.Marshal(inv.Args)

	// 1. 查找工具. 不存在时直接产出审计记录, 不进入执行槽位.
	fn, meta, ok := e.registry.Get(inv.ToolName)
	if !ok {
		err := NewNotFoundError(inv.ToolName, e.registry.Names())
		e.audit(ctx, inv, argsJSON, nil, err, start)
		return nil, err
	}

	// 2. 速率限制
	if err := e.registry.allowCall(inv.ToolName); err != nil {
		toolErr := AsToolError(inv.ToolName, err)
		e.audit(ctx, inv, argsJSON, nil, toolErr, start)
		e.logger.Warn("tool rate limited", zap.String("name", inv.ToolName))
		return nil, toolErr
	}

	// 3. 获取执行槽位
	if err := e.slots.Acquire(ctx, 1); err != nil {
		toolErr := NewExecutionError(inv.ToolName, err)
		e.audit(ctx, inv, argsJSON, nil, toolErr, start)
		return nil, toolErr
	}
	defer e.slots.Release(1)

	// 4. 默认参数填充: 显式参数优先
	merged := make(map[string]any, len(inv.Args))
	for k, v := range meta.DefaultParams() {
		merged[k] = v
	}
	for k, v := range inv.Args {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		toolErr := NewValidationError(inv.ToolName, map[string]string{"args": err.Error()})
		e.audit(ctx, inv, argsJSON, nil, toolErr, start)
		return nil, toolErr
	}

	// 5. 带超时执行
	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 带缓冲的 channel 防止 goroutine 泄漏:
	// 超时后即使没人接收, goroutine 也能退出
	type outcome struct {
		res json.RawMessage
		err error
	}
	doneChan := make(chan outcome, 1)

	go func() {
		res, err := fn(execCtx, mergedJSON)
		select {
		case doneChan <- outcome{res, err}:
		case <-execCtx.Done():
			// 上下文已取消, 结果作废
		}
	}()

	select {
	case done := <-doneChan:
		if done.err != nil {
			toolErr := AsToolError(inv.ToolName, done.err)
			if toolErr.Code == types.ErrToolUnknown {
				toolErr = NewExecutionError(inv.ToolName, done.err)
			}
			e.audit(ctx, inv, mergedJSON, nil, toolErr, start)
			e.logger.Error("tool execution failed",
				zap.String("name", inv.ToolName),
				zap.Error(done.err),
				zap.Duration("duration", time.Since(start)))
			return nil, toolErr
		}
		e.audit(ctx, inv, mergedJSON, done.res, nil, start)
		e.logger.Info("tool executed",
			zap.String("name", inv.ToolName),
			zap.Duration("duration", time.Since(start)))
		return done.res, nil

	case <-execCtx.Done():
		toolErr := NewTimeoutError(inv.ToolName, timeout.Seconds())
		e.audit(ctx, inv, mergedJSON, nil, toolErr, start)
		e.logger.Error("tool execution timeout",
			zap.String("name", inv.ToolName),
			zap.Duration("timeout", timeout))
		return nil, toolErr
	}
}

// ValidateArgs 检查必填参数是否齐全, 返回缺失的参数名.
// 工具不存在时同样返回 false.
func (e *Executor) ValidateArgs(toolName string, args map[string]any) (missing []string, ok bool) {
	_, meta, found := e.registry.Get(toolName)
	if !found {
		return nil, false
	}
	for _, name := range meta.RequiredParams() {
		if v, present := args[name]; !present || v == nil {
			missing = append(missing, name)
		}
	}
	return missing, true
}

// audit 写入一条审计记录并上报调用指标. 写失败只记日志, 不影响调用结果.
func (e *Executor) audit(ctx context.Context, inv Invocation, args json.RawMessage, result json.RawMessage, toolErr *types.Error, start time.Time) {
	e.metrics.ObserveToolCall(inv.ToolName, callStatus(toolErr), time.Since(start))

	record := &types.ToolAuditRecord{
		ConversationID:  inv.ConversationID,
		UserID:          inv.UserID,
		ToolName:        inv.ToolName,
		Args:            args,
		Result:          result,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Status:          types.AuditStatusSuccess,
	}
	if toolErr != nil {
		record.Status = types.AuditStatusError
		record.Error = toolErr.Error()
	}
	if err := e.auditor.Log(ctx, record); err != nil {
		e.logger.Error("failed to write audit record",
			zap.String("tool", inv.ToolName),
			zap.Error(err))
	}
}

// callStatus 把调用结果折算成指标状态标签.
func callStatus(toolErr *types.Error) string {
	if toolErr == nil {
		return "success"
	}
	switch toolErr.Code {
	case types.ErrToolTimeout:
		return "timeout"
	case types.ErrToolNotFound:
		return "not_found"
	case types.ErrToolRateLimitExceeded:
		return "rate_limited"
	default:
		return "error"
	}
}
