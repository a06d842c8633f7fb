package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/memory"
	"github.com/BaSui01/ragflow/persistence"
	"github.com/BaSui01/ragflow/retrieval"
	"github.com/BaSui01/ragflow/tools"
	"github.com/BaSui01/ragflow/types"
)

// Config 配置编排引擎.
type Config struct {
	// 默认检索模式, 输入未指定时使用
	DefaultRetrievalMode types.RetrievalMode
	// 单轮超时, 0 表示不限制
	TurnTimeout time.Duration
	// 事件通道缓冲
	EventBuffer int
	// 子问题扩展上限
	MaxSubquestions int
}

// DefaultEngineConfig 返回默认配置.
func DefaultEngineConfig() Config {
	return Config{
		DefaultRetrievalMode: types.RetrievalModeAuto,
		TurnTimeout:          120 * time.Second,
		EventBuffer:          64,
		MaxSubquestions:      3,
	}
}

// Options 组装引擎依赖. Fusion/Registry/Executor 允许为 nil,
// 对应能力 (检索 / 工具调用) 退化为关闭.
type Options struct {
	Provider llm.Provider
	Fusion   *retrieval.FusionEngine
	Registry *tools.Registry
	Executor *tools.Executor
	Memory   *memory.Manager
	Store    persistence.MessageLog
	Metrics  *metrics.Metrics
	Config   Config
	Logger   *zap.Logger
}

// Engine 驱动每轮对话的阶段状态机.
type Engine struct {
	provider llm.Provider
	fusion   *retrieval.FusionEngine
	registry *tools.Registry
	executor *tools.Executor
	memory   *memory.Manager
	store    persistence.MessageLog
	metrics  *metrics.Metrics
	config   Config
	logger   *zap.Logger
}

// NewEngine 创建编排引擎.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.DefaultRetrievalMode == "" {
		cfg.DefaultRetrievalMode = types.RetrievalModeAuto
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.MaxSubquestions <= 0 {
		cfg.MaxSubquestions = 3
	}
	return &Engine{
		provider: opts.Provider,
		fusion:   opts.Fusion,
		registry: opts.Registry,
		executor: opts.Executor,
		memory:   opts.Memory,
		store:    opts.Store,
		metrics:  opts.Metrics,
		config:   cfg,
		logger:   logger.With(zap.String("component", "turn_engine")),
	}
}

// ProcessTurn 处理一轮对话, 事件通过返回的通道推送, 结束时关闭.
// 错误同样以事件形式送出, 通道保证最终关闭.
func (e *Engine) ProcessTurn(ctx context.Context, input TurnInput) <-chan TurnEvent {
	events := make(chan TurnEvent, e.config.EventBuffer)
	go func() {
		defer close(events)
		if e.config.TurnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.config.TurnTimeout)
			defer cancel()
		}
		e.run(ctx, input, events)
	}()
	return events
}

// run 执行状态机. 所有阶段顺序修改同一个 TurnState.
func (e *Engine) run(ctx context.Context, input TurnInput, events chan<- TurnEvent) {
	start := time.Now()

	if strings.TrimSpace(input.Message) == "" || input.ConversationID == "" {
		err := types.NewError(types.ErrInvalidRequest, "会话 ID 和消息内容不能为空")
		e.emit(ctx, events, TurnEvent{Type: EventError, Err: err})
		e.metrics.ObserveTurn("error", time.Since(start))
		return
	}

	mode := input.RetrievalMode
	if mode == "" {
		mode = e.config.DefaultRetrievalMode
	}

	state := &TurnState{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Question:       input.Message,
		RetrievalMode:  mode,
	}

	if err := e.ensureConversation(ctx, input); err != nil {
		e.emit(ctx, events, TurnEvent{Type: EventError, Err: err})
		e.metrics.ObserveTurn("error", time.Since(start))
		return
	}

	// 先组装上下文再写入用户消息, 避免当前消息在上下文里出现两次
	history, err := e.memory.BuildContext(ctx, input.ConversationID, input.Message)
	if err != nil {
		e.logger.Warn("failed to build context, proceeding with current message only",
			zap.String("conversation_id", input.ConversationID),
			zap.Error(err))
		history = []types.Message{types.NewUserMessage(input.Message)}
	}
	state.History = history

	if err := e.saveDialog(ctx, state, types.RoleUser, input.Message); err != nil {
		e.emit(ctx, events, TurnEvent{Type: EventError, Err: err})
		e.metrics.ObserveTurn("error", time.Since(start))
		return
	}

	e.enterStage(ctx, state, StageStart, events)

	// 工具路径优先于检索路径
	e.enterStage(ctx, state, StageCheckToolNeeded, events)
	e.checkToolNeeded(ctx, state)

	outcome := "answered"
	if state.NeedTool {
		e.enterStage(ctx, state, StageToolCalling, events)
		e.callTool(ctx, state)
		outcome = "tool"
		if state.Err != nil {
			outcome = "error"
		}
	} else {
		e.runRetrievalPath(ctx, state, events)
		if !state.NeedRetrieval {
			outcome = "direct"
		}
	}

	e.enterStage(ctx, state, StageEnd, events)

	if err := e.saveDialog(ctx, state, types.RoleAssistant, state.Answer); err != nil {
		e.logger.Error("failed to persist assistant answer",
			zap.String("conversation_id", state.ConversationID),
			zap.Error(err))
	}

	if len(state.Sources) > 0 {
		e.emit(ctx, events, TurnEvent{Type: EventSources, Sources: state.Sources})
	}
	e.emit(ctx, events, TurnEvent{Type: EventFinal, Answer: state.Answer, Sources: state.Sources, Err: state.Err})
	e.metrics.ObserveTurn(outcome, time.Since(start))
}

// runRetrievalPath 执行检索判断到答案生成的主路径.
func (e *Engine) runRetrievalPath(ctx context.Context, state *TurnState, events chan<- TurnEvent) {
	e.enterStage(ctx, state, StageCheckRetrievalNeeded, events)
	e.checkRetrievalNeeded(ctx, state)

	if !state.NeedRetrieval {
		e.enterStage(ctx, state, StageDirectAnswer, events)
		e.directAnswer(ctx, state, events)
		return
	}

	e.enterStage(ctx, state, StageExpandSubquestions, events)
	e.expandSubquestions(ctx, state)

	if state.RetrievalMode == types.RetrievalModeAuto {
		e.enterStage(ctx, state, StageClassifyQuestionType, events)
		e.classifyQuestionType(ctx, state)
	}

	switch state.RetrievalMode {
	case types.RetrievalModeGraphOnly:
		e.enterStage(ctx, state, StageGraphRetrieval, events)
		if e.fusion != nil {
			state.GraphResults = e.fusion.FetchGraph(ctx, state.OriginalQuestion, state.Subquestions)
		}
		state.EvidenceDocuments = state.GraphResults
	default:
		e.enterStage(ctx, state, StageVectorRetrieval, events)
		if e.fusion != nil {
			state.VectorResults = e.fusion.FetchVector(ctx, state.OriginalQuestion, state.Subquestions)
		}
		state.EvidenceDocuments = state.VectorResults
	}
	e.metrics.ObserveRetrieval(len(state.EvidenceDocuments))

	e.enterStage(ctx, state, StageGenerateAnswer, events)
	e.generateAnswer(ctx, state, events)
}

// ensureConversation 确保会话存在, 不存在时用消息前缀作为标题创建.
func (e *Engine) ensureConversation(ctx context.Context, input TurnInput) *types.Error {
	_, err := e.store.GetConversation(ctx, input.ConversationID)
	if err == nil {
		if touchErr := e.store.TouchConversation(ctx, input.ConversationID); touchErr != nil {
			e.logger.Warn("failed to touch conversation", zap.Error(touchErr))
		}
		return nil
	}
	if !errors.Is(err, persistence.ErrConversationNotFound) {
		return types.NewError(types.ErrPersistence, "读取会话失败").WithCause(err)
	}

	title := []rune(input.Message)
	if len(title) > 20 {
		title = title[:20]
	}
	if createErr := e.store.CreateConversation(ctx, &types.ConversationRecord{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Title:          string(title),
	}); createErr != nil {
		return types.NewError(types.ErrPersistence, "创建会话失败").WithCause(createErr)
	}
	return nil
}

// enterStage 记录阶段进入: 指标, 事件, stage-update 记录.
func (e *Engine) enterStage(ctx context.Context, state *TurnState, stage Stage, events chan<- TurnEvent) {
	e.metrics.ObserveStage(string(stage))
	e.emit(ctx, events, TurnEvent{Type: EventStage, Stage: stage})

	if err := e.store.SaveMessage(ctx, &types.MessageRecord{
		ConversationID: state.ConversationID,
		Role:           types.RoleAssistant,
		Type:           types.MessageTypeStageUpdate,
		Content:        stageLabel(stage),
		Extra:          map[string]any{"stage": string(stage)},
	}); err != nil {
		e.logger.Warn("failed to persist stage update",
			zap.String("stage", string(stage)),
			zap.Error(err))
	}
}

func (e *Engine) saveDialog(ctx context.Context, state *TurnState, role types.Role, content string) *types.Error {
	if err := e.store.SaveMessage(ctx, &types.MessageRecord{
		ConversationID: state.ConversationID,
		Role:           role,
		Type:           types.MessageTypeDialog,
		Content:        content,
	}); err != nil {
		return types.NewError(types.ErrPersistence, "消息持久化失败").WithCause(err)
	}
	return nil
}

// emit 推送事件, 上下文取消时放弃.
func (e *Engine) emit(ctx context.Context, events chan<- TurnEvent, ev TurnEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
