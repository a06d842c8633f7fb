// Package memory 实现会话记忆: 对话/摘要拆分, 一次性压缩与短期窗口组装.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/persistence"
	"github.com/BaSui01/ragflow/types"
)

// 对话摘要提示词. 摘要仅在当前会话内使用, 不跨会话共享.
const summaryPromptTemplate = `
你是一个对话总结助手。下面是一段同一会话中较早的多轮对话内容，请你用简洁的中文总结：
- 用户的大致身份或角色（如果有提到）
- 本轮对话的主要目标或主题
- 已经达成的重要结论或共识
不要逐句复述原文，只保留对后续对话有用的关键信息，控制在 3~5 句话之内。

【对话历史】
%s
`

// Config 配置记忆管理器.
type Config struct {
	// 触发压缩的对话条数阈值
	CompactThreshold int
	// 压缩时保留的最近对话条数 (阈值之前的部分被总结)
	CompactKeep int
	// 短期窗口: 组装进上下文的最近对话条数
	ShortTermWindow int
	// Token 预算, 0 表示不限制
	TokenBudget int
	// tiktoken 编码名
	Encoding string
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		CompactThreshold: 12,
		CompactKeep:      8,
		ShortTermWindow:  10,
		TokenBudget:      4000,
		Encoding:         "cl100k_base",
	}
}

// Manager 维护会话记忆: 加载历史, 触发压缩, 组装模型输入.
type Manager struct {
	store    persistence.MessageLog
	provider llm.Provider
	config   Config
	encoder  *tiktoken.Tiktoken
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewManager 创建记忆管理器. 编码器初始化失败时退化为按字符估算 token,
// m 允许为 nil.
func NewManager(store persistence.MessageLog, provider llm.Provider, config Config, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CompactThreshold <= 0 {
		config.CompactThreshold = 12
	}
	if config.CompactKeep <= 0 {
		config.CompactKeep = 8
	}
	if config.ShortTermWindow <= 0 {
		config.ShortTermWindow = 10
	}
	if config.Encoding == "" {
		config.Encoding = "cl100k_base"
	}

	mgr := &Manager{
		store:    store,
		provider: provider,
		config:   config,
		metrics:  m,
		logger:   logger.With(zap.String("component", "memory_manager")),
	}
	encoder, err := tiktoken.GetEncoding(config.Encoding)
	if err != nil {
		mgr.logger.Warn("tiktoken encoding unavailable, falling back to rune count",
			zap.String("encoding", config.Encoding),
			zap.Error(err))
	} else {
		mgr.encoder = encoder
	}
	return mgr
}

// BuildContext 组装一轮对话的模型输入:
// [摘要作为 system 消息?] ++ 最近对话 ++ 当前用户消息.
// 必要时先做一次性压缩; 压缩失败不阻塞本轮, 继续无摘要组装.
func (m *Manager) BuildContext(ctx context.Context, conversationID, currentMessage string) ([]types.Message, error) {
	records, err := m.store.LoadMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	dialog := filterDialog(records)
	summary := latestSummary(records)

	// 无摘要且对话超过阈值时压缩一次; 摘要生成后不再重做
	if summary == "" && len(dialog) > m.config.CompactThreshold {
		summary = m.compact(ctx, conversationID, dialog)
	}

	recent := dialog
	if len(recent) > m.config.ShortTermWindow {
		recent = recent[len(recent)-m.config.ShortTermWindow:]
	}

	messages := assemble(summary, recent, currentMessage)

	// Token 预算: 超出时从最旧的短期对话开始丢弃
	if m.config.TokenBudget > 0 {
		for len(recent) > 0 && m.countMessages(messages) > m.config.TokenBudget {
			recent = recent[1:]
			messages = assemble(summary, recent, currentMessage)
		}
	}

	return messages, nil
}

// compact 压缩较早的对话并持久化摘要记录. 返回摘要文本, 失败返回空串.
func (m *Manager) compact(ctx context.Context, conversationID string, dialog []types.MessageRecord) string {
	older := dialog[:len(dialog)-m.config.CompactKeep]

	var sb strings.Builder
	for _, record := range older {
		sb.WriteString(roleLabel(record.Role))
		sb.WriteString("：")
		sb.WriteString(record.Content)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(summaryPromptTemplate, sb.String())
	summary, err := m.provider.Generate(ctx, []types.Message{types.NewUserMessage(prompt)})
	if err != nil {
		m.logger.Warn("conversation compaction failed, proceeding without summary",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return ""
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}

	if err := m.store.SaveMessage(ctx, &types.MessageRecord{
		ConversationID: conversationID,
		Role:           types.RoleSystem,
		Type:           types.MessageTypeSummary,
		Content:        summary,
		Extra:          map[string]any{"compacted_count": len(older)},
	}); err != nil {
		m.logger.Error("failed to persist summary record",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	m.metrics.ObserveCompaction()
	m.logger.Info("conversation compacted",
		zap.String("conversation_id", conversationID),
		zap.Int("compacted", len(older)),
		zap.Int("kept", m.config.CompactKeep))
	return summary
}

// CountTokens 计算文本的 token 数.
func (m *Manager) CountTokens(text string) int {
	if m.encoder != nil {
		return len(m.encoder.Encode(text, nil, nil))
	}
	return len([]rune(text))
}

func (m *Manager) countMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.CountTokens(msg.Content)
	}
	return total
}

// RenderHistory 把对话记录渲染成提示词里的历史文本.
func RenderHistory(records []types.MessageRecord) string {
	var sb strings.Builder
	for _, record := range records {
		sb.WriteString(roleLabel(record.Role))
		sb.WriteString("：")
		sb.WriteString(record.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func assemble(summary string, recent []types.MessageRecord, currentMessage string) []types.Message {
	messages := make([]types.Message, 0, len(recent)+2)
	if summary != "" {
		messages = append(messages, types.NewSystemMessage("以下是本会话较早内容的摘要：\n"+summary))
	}
	for _, record := range recent {
		messages = append(messages, types.NewMessage(record.Role, record.Content))
	}
	messages = append(messages, types.NewUserMessage(currentMessage))
	return messages
}

// filterDialog 取出 user/assistant 的对话记录, 保持顺序.
func filterDialog(records []types.MessageRecord) []types.MessageRecord {
	var dialog []types.MessageRecord
	for _, record := range records {
		if record.IsDialog() {
			dialog = append(dialog, record)
		}
	}
	return dialog
}

// latestSummary 返回最后一条摘要记录的内容, 没有返回空串.
func latestSummary(records []types.MessageRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == types.MessageTypeSummary {
			return records[i].Content
		}
	}
	return ""
}

func roleLabel(role types.Role) string {
	switch role {
	case types.RoleUser:
		return "用户"
	case types.RoleAssistant:
		return "助手"
	default:
		return string(role)
	}
}
