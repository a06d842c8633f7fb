package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/tools"
	"github.com/BaSui01/ragflow/types"
)

// 生成失败时返回给用户的兜底文案
const (
	answerFallback = "抱歉，在生成答案时遇到了技术问题。请稍后重试。"
	directFallback = "抱歉，在生成答案时遇到了问题。请稍后重试。"
)

// checkToolNeeded 判断本轮是否走工具路径.
// 判断失败按不需要工具处理; 必填参数缺失时记入 MissingParams 并落回检索路径.
func (e *Engine) checkToolNeeded(ctx context.Context, state *TurnState) {
	if e.registry == nil || e.executor == nil || e.registry.Len() == 0 {
		state.NeedTool = false
		return
	}

	prompt := fmt.Sprintf(toolNeedPrompt, renderToolCatalog(e.registry.List()), state.Question)
	var decision toolNeedDecision
	if err := e.provider.GenerateStructured(ctx, []types.Message{types.NewUserMessage(prompt)}, &decision); err != nil {
		e.logger.Warn("tool decision failed, skipping tool path", zap.Error(err))
		state.NeedTool = false
		return
	}

	if !decision.NeedTool || decision.SelectedTool == "" {
		state.NeedTool = false
		return
	}
	if !e.registry.Has(decision.SelectedTool) {
		e.logger.Warn("model selected unknown tool",
			zap.String("tool", decision.SelectedTool))
		state.NeedTool = false
		return
	}

	state.SelectedTool = decision.SelectedTool
	state.ToolArgs = decision.Args

	missing, ok := e.executor.ValidateArgs(decision.SelectedTool, decision.Args)
	if !ok || len(missing) > 0 {
		state.MissingParams = missing
		state.NeedTool = false
		e.logger.Info("tool call skipped, required params missing",
			zap.String("tool", decision.SelectedTool),
			zap.Strings("missing", missing))
		return
	}

	state.NeedTool = true
}

// callTool 执行强制工具调用并把结果转述为答案.
// 工具失败时把结构化错误的用户文案作为答案, 不再落回检索.
func (e *Engine) callTool(ctx context.Context, state *TurnState) {
	_, meta, _ := e.registry.Get(state.SelectedTool)

	prompt := fmt.Sprintf(toolCallPrompt,
		state.SelectedTool,
		meta.Description,
		renderParamGuide(meta.Params),
		state.Question,
		state.SelectedTool)

	args := state.ToolArgs
	var req toolCallRequest
	if err := e.provider.GenerateStructured(ctx, []types.Message{types.NewUserMessage(prompt)}, &req); err != nil {
		e.logger.Warn("tool call request generation failed, using decision args", zap.Error(err))
	} else if len(req.Args) > 0 {
		args = req.Args
	}
	state.ToolArgs = args

	result, err := e.executor.Execute(ctx, tools.Invocation{
		ConversationID: state.ConversationID,
		UserID:         state.UserID,
		ToolName:       state.SelectedTool,
		Args:           args,
	})
	if err != nil {
		toolErr := tools.AsToolError(state.SelectedTool, err)
		state.Err = toolErr
		state.Answer = toolErr.Message
		return
	}

	state.Sources = append(state.Sources, toolEvidence(state.SelectedTool, result))

	explainPrompt := fmt.Sprintf(toolExplainPrompt, state.SelectedTool, string(result))
	answer, err := e.provider.Generate(ctx, []types.Message{types.NewUserMessage(explainPrompt)})
	if err != nil || strings.TrimSpace(answer) == "" {
		// 转述失败时直接给出原始结果
		state.Answer = string(result)
		return
	}
	state.Answer = answer
}

// checkRetrievalNeeded 确定是否检索和核心问题.
// 非 auto 模式直接按模式决定; auto 模式判断失败时默认执行检索.
func (e *Engine) checkRetrievalNeeded(ctx context.Context, state *TurnState) {
	state.OriginalQuestion = state.Question

	switch state.RetrievalMode {
	case types.RetrievalModeNone:
		state.NeedRetrieval = false
		state.NeedRetrievalReason = "用户设置为不需要检索模式"
		return
	case types.RetrievalModeVectorOnly, types.RetrievalModeGraphOnly:
		state.NeedRetrieval = true
		state.NeedRetrievalReason = fmt.Sprintf("用户设置为%s检索模式，直接进行检索", state.RetrievalMode)
		return
	}

	prompt := fmt.Sprintf(retrievalNeedPrompt, state.Question)
	var decision retrievalNeedDecision
	if err := e.provider.GenerateStructured(ctx, []types.Message{types.NewUserMessage(prompt)}, &decision); err != nil {
		// 判断失败时宁可多检索
		e.logger.Warn("retrieval-need decision failed, defaulting to retrieval", zap.Error(err))
		state.NeedRetrieval = true
		state.NeedRetrievalReason = "检索需求判断失败，默认执行检索"
		return
	}

	state.NeedRetrieval = decision.NeedRetrieval
	state.NeedRetrievalReason = decision.Reasoning
	if q := strings.TrimSpace(decision.ExtractedQuestion); q != "" {
		state.OriginalQuestion = q
	}
}

// expandSubquestions 把核心问题分解为子问题:
// 去空白, 去重保留首次出现; 失败或结果为空时退化为核心问题本身.
// 核心问题为空时整个阶段是空操作.
func (e *Engine) expandSubquestions(ctx context.Context, state *TurnState) {
	if strings.TrimSpace(state.OriginalQuestion) == "" {
		state.Subquestions = nil
		return
	}

	prompt := fmt.Sprintf(subquestionExpansionPrompt, state.OriginalQuestion)
	var expansion subquestionExpansion
	if err := e.provider.GenerateStructured(ctx, []types.Message{types.NewUserMessage(prompt)}, &expansion); err != nil {
		e.logger.Warn("subquestion expansion failed", zap.Error(err))
		state.Subquestions = []string{state.OriginalQuestion}
		return
	}

	seen := make(map[string]struct{}, len(expansion.Subquestions))
	var subquestions []string
	for _, q := range expansion.Subquestions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		subquestions = append(subquestions, q)
		if len(subquestions) >= e.config.MaxSubquestions {
			break
		}
	}
	if len(subquestions) == 0 {
		subquestions = []string{state.OriginalQuestion}
	}
	state.Subquestions = subquestions
}

// classifyQuestionType 在 auto 模式下选择检索类型.
// 判断失败或返回未知类型时回落为向量检索.
func (e *Engine) classifyQuestionType(ctx context.Context, state *TurnState) {
	prompt := fmt.Sprintf(retrievalTypePrompt, state.OriginalQuestion)
	var decision retrievalTypeDecision
	if err := e.provider.GenerateStructured(ctx, []types.Message{types.NewUserMessage(prompt)}, &decision); err != nil {
		e.logger.Warn("retrieval-type decision failed, falling back to vector", zap.Error(err))
		state.RetrievalMode = types.RetrievalModeVectorOnly
		return
	}

	switch types.RetrievalMode(decision.RetrievalType) {
	case types.RetrievalModeGraphOnly:
		state.RetrievalMode = types.RetrievalModeGraphOnly
	default:
		state.RetrievalMode = types.RetrievalModeVectorOnly
	}
}

// generateAnswer 基于证据文档生成答案, 支持流式推送.
func (e *Engine) generateAnswer(ctx context.Context, state *TurnState, events chan<- TurnEvent) {
	prompt := fmt.Sprintf(answerGenerationPrompt,
		state.OriginalQuestion,
		len(state.EvidenceDocuments),
		renderDocuments(state.EvidenceDocuments))
	base := historyWithoutCurrent(state)
	messages := make([]types.Message, 0, len(base)+1)
	messages = append(messages, base...)
	messages = append(messages, types.NewUserMessage(prompt))

	if sp, ok := e.provider.(llm.StreamProvider); ok {
		if answer, streamed := e.streamAnswer(ctx, sp, messages, events); streamed {
			state.Answer = answer
			state.Sources = buildCitations(state.EvidenceDocuments)
			return
		}
	}

	answer, err := e.provider.Generate(ctx, messages)
	if err != nil {
		// 合成失败时给兜底文案, 并清空引用
		e.logger.Error("answer generation failed", zap.Error(err))
		state.Answer = answerFallback
		state.Sources = nil
		return
	}
	state.Answer = answer
	state.Sources = buildCitations(state.EvidenceDocuments)
}

// 引用内容截断长度 (按字符数)
const (
	graphCitationLimit  = 300
	vectorCitationLimit = 400
)

// buildCitations 把证据文档转成引用条目: 图谱来源截断到 300 字,
// 其他来源 400 字, 元数据补充原始内容长度.
func buildCitations(docs []types.EvidenceDocument) []types.EvidenceDocument {
	citations := make([]types.EvidenceDocument, 0, len(docs))
	for _, doc := range docs {
		limit := vectorCitationLimit
		if doc.Source() == "graph" {
			limit = graphCitationLimit
		}

		metadata := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata["length"] = len([]rune(doc.Content))

		content := doc.Content
		if runes := []rune(content); len(runes) > limit {
			content = string(runes[:limit]) + "..."
		}
		citations = append(citations, types.EvidenceDocument{
			Content:  content,
			Metadata: metadata,
		})
	}
	return citations
}

// directAnswer 无检索直接回答, 携带对话历史.
func (e *Engine) directAnswer(ctx context.Context, state *TurnState, events chan<- TurnEvent) {
	historyText := renderHistory(historyWithoutCurrent(state))
	prompt := fmt.Sprintf(directAnswerPrompt, historyText, state.Question)
	messages := []types.Message{types.NewUserMessage(prompt)}

	if sp, ok := e.provider.(llm.StreamProvider); ok {
		if answer, streamed := e.streamAnswer(ctx, sp, messages, events); streamed {
			state.Answer = answer
			return
		}
	}

	answer, err := e.provider.Generate(ctx, messages)
	if err != nil {
		e.logger.Error("direct answer failed", zap.Error(err))
		state.Answer = directFallback
		return
	}
	state.Answer = answer
}

// streamAnswer 逐 token 推送并累积完整答案.
// 启动失败返回 streamed=false, 由调用方回落到非流式生成.
func (e *Engine) streamAnswer(ctx context.Context, sp llm.StreamProvider, messages []types.Message, events chan<- TurnEvent) (string, bool) {
	tokenCh, err := sp.GenerateStream(ctx, messages)
	if err != nil {
		e.logger.Warn("stream generation unavailable, falling back", zap.Error(err))
		return "", false
	}

	var sb strings.Builder
	for token := range tokenCh {
		sb.WriteString(token)
		e.emit(ctx, events, TurnEvent{Type: EventToken, Token: token})
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// toolEvidence 把工具结果包装成证据文档, 结构化字段并入元数据.
func toolEvidence(toolName string, result json.RawMessage) types.EvidenceDocument {
	metadata := map[string]any{
		"source":        "tool",
		"document_name": toolName,
	}
	var payload map[string]any
	if err := json.Unmarshal(result, &payload); err == nil {
		for k, v := range payload {
			if k == "source" || k == "document_name" {
				continue
			}
			metadata[k] = v
		}
	}
	return types.EvidenceDocument{
		Content:  string(result),
		Metadata: metadata,
	}
}

// historyWithoutCurrent 返回去掉末尾当前消息的历史.
func historyWithoutCurrent(state *TurnState) []types.Message {
	history := state.History
	if n := len(history); n > 0 && history[n-1].Role == types.RoleUser && history[n-1].Content == state.Question {
		return history[:n-1]
	}
	return history
}
