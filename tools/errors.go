package tools

import (
	"fmt"

	"github.com/BaSui01/ragflow/types"
)

// 工具错误构造器. Message 是可直接展示给最终用户的文案,
// 技术细节放在 Details / Cause 里只进日志.

// NewTimeoutError 构造超时错误.
func NewTimeoutError(toolName string, timeoutSeconds float64) *types.Error {
	return types.NewError(types.ErrToolTimeout,
		fmt.Sprintf("工具 '%s' 执行超时（%g秒）", toolName, timeoutSeconds)).
		WithDetail("tool_name", toolName).
		WithDetail("timeout_seconds", timeoutSeconds).
		WithRetryable(true)
}

// NewNotFoundError 构造工具不存在错误.
func NewNotFoundError(toolName string, availableTools []string) *types.Error {
	return types.NewError(types.ErrToolNotFound,
		fmt.Sprintf("工具 '%s' 不存在", toolName)).
		WithDetail("tool_name", toolName).
		WithDetail("available_tools", availableTools)
}

// NewRateLimitError 构造速率超限错误.
func NewRateLimitError(toolName string, windowSeconds int) *types.Error {
	return types.NewError(types.ErrToolRateLimitExceeded,
		fmt.Sprintf("工具 '%s' 调用频率超限，请%d秒后重试", toolName, windowSeconds)).
		WithDetail("tool_name", toolName).
		WithDetail("time_window_seconds", windowSeconds).
		WithRetryable(true)
}

// NewValidationError 构造参数验证错误.
func NewValidationError(toolName string, validationErrors map[string]string) *types.Error {
	return types.NewError(types.ErrToolValidation,
		fmt.Sprintf("工具 '%s' 参数验证失败", toolName)).
		WithDetail("tool_name", toolName).
		WithDetail("validation_errors", validationErrors)
}

// NewExecutionError 构造执行失败错误.
func NewExecutionError(toolName string, cause error) *types.Error {
	return types.NewError(types.ErrToolExecution,
		fmt.Sprintf("工具 '%s' 执行失败: %s", toolName, cause.Error())).
		WithDetail("tool_name", toolName).
		WithCause(cause)
}

// NewPermissionDeniedError 构造权限拒绝错误.
func NewPermissionDeniedError(toolName, userRole string) *types.Error {
	return types.NewError(types.ErrToolPermissionDenied,
		fmt.Sprintf("用户角色 '%s' 无权调用工具 '%s'", userRole, toolName)).
		WithDetail("tool_name", toolName).
		WithDetail("user_role", userRole)
}

// AsToolError 把任意错误归一为工具错误. 已经是 types.Error 的原样返回,
// 其他错误包装为 TOOL_UNKNOWN_ERROR.
func AsToolError(toolName string, err error) *types.Error {
	if te, ok := err.(*types.Error); ok {
		return te
	}
	return types.NewError(types.ErrToolUnknown,
		fmt.Sprintf("工具 '%s' 发生未知错误", toolName)).
		WithDetail("tool_name", toolName).
		WithCause(err)
}
