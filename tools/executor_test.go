package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

func echoTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func newTestExecutor(t *testing.T, auditor Auditor) (*Executor, *Registry) {
	t.Helper()
	registry := NewRegistry(nil)
	return NewExecutor(registry, auditor, DefaultExecutorConfig(), nil, nil), registry
}

func TestExecuteSuccessWritesOneAuditRecord(t *testing.T) {
	audit := NewMemoryAuditStore(0)
	exec, registry := newTestExecutor(t, audit)
	require.NoError(t, registry.Register("echo", echoTool, Metadata{Description: "回显"}))

	result, err := exec.Execute(context.Background(), Invocation{
		ConversationID: "conv-1",
		UserID:         "user-1",
		ToolName:       "echo",
		Args:           map[string]any{"msg": "你好"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(result), "你好")

	records, err := audit.Query(context.Background(), AuditFilter{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.AuditStatusSuccess, records[0].Status)
	assert.Equal(t, "echo", records[0].ToolName)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestExecuteTimeout(t *testing.T) {
	audit := NewMemoryAuditStore(0)
	exec, registry := newTestExecutor(t, audit)

	// 不响应取消的工具, 模拟卡死的外部调用
	blocker := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		time.Sleep(300 * time.Millisecond)
		return json.RawMessage(`{}`), nil
	}
	require.NoError(t, registry.Register("slow", blocker, Metadata{
		Description: "慢工具",
		Timeout:     50 * time.Millisecond,
	}))

	_, err := exec.Execute(context.Background(), Invocation{ToolName: "slow", UserID: "u"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolTimeout, types.GetErrorCode(err))

	// 超时也恰好写一条审计记录
	records, qerr := audit.Query(context.Background(), AuditFilter{ToolName: "slow"})
	require.NoError(t, qerr)
	require.Len(t, records, 1)
	assert.Equal(t, types.AuditStatusError, records[0].Status)
	assert.Contains(t, records[0].Error, "TOOL_TIMEOUT")
	assert.GreaterOrEqual(t, records[0].ExecutionTimeMs, int64(0))
}

func TestExecuteToolNotFound(t *testing.T) {
	audit := NewMemoryAuditStore(0)
	exec, registry := newTestExecutor(t, audit)
	require.NoError(t, registry.Register("echo", echoTool, Metadata{}))

	_, err := exec.Execute(context.Background(), Invocation{ToolName: "missing"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(err))

	var te *types.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{"echo"}, te.Details["available_tools"])

	// 未注册的工具同样产出审计记录
	records, qerr := audit.Query(context.Background(), AuditFilter{ToolName: "missing"})
	require.NoError(t, qerr)
	require.Len(t, records, 1)
	assert.Equal(t, types.AuditStatusError, records[0].Status)
}

func TestExecuteToolError(t *testing.T) {
	audit := NewMemoryAuditStore(0)
	exec, registry := newTestExecutor(t, audit)

	failing := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("后端连接失败")
	}
	require.NoError(t, registry.Register("broken", failing, Metadata{}))

	_, err := exec.Execute(context.Background(), Invocation{ToolName: "broken"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolExecution, types.GetErrorCode(err))

	records, _ := audit.Query(context.Background(), AuditFilter{ToolName: "broken"})
	require.Len(t, records, 1)
	assert.Equal(t, types.AuditStatusError, records[0].Status)
}

func TestExecuteMergesDefaultParams(t *testing.T) {
	exec, registry := newTestExecutor(t, nil)

	var captured map[string]any
	capture := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		_ = json.Unmarshal(args, &captured)
		return json.RawMessage(`{}`), nil
	}
	require.NoError(t, registry.Register("cap", capture, Metadata{
		Params: []ParamSpec{
			{Name: "age", Type: "integer", Required: true},
			{Name: "blood_pressure", Type: "string", Default: "正常"},
			{Name: "smoking", Type: "boolean", Default: false},
		},
	}))

	_, err := exec.Execute(context.Background(), Invocation{
		ToolName: "cap",
		Args:     map[string]any{"age": 50, "smoking": true},
	})
	require.NoError(t, err)

	// 默认值填充缺省参数, 显式参数优先
	assert.Equal(t, "正常", captured["blood_pressure"])
	assert.Equal(t, true, captured["smoking"])
	assert.EqualValues(t, 50, captured["age"])
}

func TestExecuteRateLimit(t *testing.T) {
	audit := NewMemoryAuditStore(0)
	exec, registry := newTestExecutor(t, audit)
	require.NoError(t, registry.Register("limited", echoTool, Metadata{
		RateLimit: &RateLimitConfig{MaxCalls: 2, Window: time.Hour},
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := exec.Execute(ctx, Invocation{ToolName: "limited"})
		require.NoError(t, err)
	}
	_, err := exec.Execute(ctx, Invocation{ToolName: "limited"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolRateLimitExceeded, types.GetErrorCode(err))

	// 三次尝试, 三条审计记录
	records, _ := audit.Query(ctx, AuditFilter{ToolName: "limited"})
	assert.Len(t, records, 3)
}

func TestExecuteConcurrencyBounded(t *testing.T) {
	registry := NewRegistry(nil)
	exec := NewExecutor(registry, nil, ExecutorConfig{MaxConcurrent: 2, DefaultTimeout: 5 * time.Second}, nil, nil)

	var active, peak int64
	var mu sync.Mutex
	slow := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		cur := atomic.AddInt64(&active, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return json.RawMessage(`{}`), nil
	}
	require.NoError(t, registry.Register("slow", slow, Metadata{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = exec.Execute(context.Background(), Invocation{ToolName: "slow"})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds slot limit 2", peak)
	}
}

func TestExecuteRecordsCallMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	registry := NewRegistry(nil)
	exec := NewExecutor(registry, nil, DefaultExecutorConfig(), m, nil)

	require.NoError(t, registry.Register("echo", echoTool, Metadata{}))
	require.NoError(t, registry.Register("slow", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		time.Sleep(300 * time.Millisecond)
		return json.RawMessage(`{}`), nil
	}, Metadata{Timeout: 50 * time.Millisecond}))

	_, err := exec.Execute(context.Background(), Invocation{ToolName: "echo"})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), Invocation{ToolName: "slow"})
	require.Error(t, err)
	_, err = exec.Execute(context.Background(), Invocation{ToolName: "missing"})
	require.Error(t, err)

	// 每次尝试按结果打一个状态标签
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("slow", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("missing", "not_found")))
}

func TestValidateArgs(t *testing.T) {
	exec, registry := newTestExecutor(t, nil)
	require.NoError(t, RegisterRiskTools(registry))

	missing, ok := exec.ValidateArgs("diabetes_risk_assessment", map[string]any{"age": 50})
	require.True(t, ok)
	assert.Equal(t, []string{"bmi"}, missing)

	missing, ok = exec.ValidateArgs("diabetes_risk_assessment", map[string]any{"age": 50, "bmi": 26.0})
	require.True(t, ok)
	assert.Empty(t, missing)

	_, ok = exec.ValidateArgs("nonexistent", nil)
	assert.False(t, ok)
}
