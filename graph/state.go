// Package graph 实现每轮对话的编排状态机:
// start → check_tool_needed → {tool_calling | check_retrieval_needed},
// check_retrieval_needed → {expand_subquestions | direct_answer},
// expand_subquestions → classify_question_type → {vector_retrieval | graph_retrieval}
// → generate_answer → end.
package graph

import (
	"github.com/BaSui01/ragflow/types"
)

// Stage 是管线阶段标识.
type Stage string

const (
	StageStart                Stage = "start"
	StageCheckToolNeeded      Stage = "check_tool_needed"
	StageToolCalling          Stage = "tool_calling"
	StageCheckRetrievalNeeded Stage = "check_retrieval_needed"
	StageExpandSubquestions   Stage = "expand_subquestions"
	StageClassifyQuestionType Stage = "classify_question_type"
	StageVectorRetrieval      Stage = "vector_retrieval"
	StageGraphRetrieval       Stage = "graph_retrieval"
	StageGenerateAnswer       Stage = "generate_answer"
	StageDirectAnswer         Stage = "direct_answer"
	StageEnd                  Stage = "end"
)

// TurnInput 是一轮处理的输入.
type TurnInput struct {
	ConversationID string
	UserID         string
	Message        string
	// RetrievalMode 为空时使用引擎默认模式
	RetrievalMode types.RetrievalMode
}

// TurnState 是单轮处理的全部可变状态, 由各阶段顺序修改, 不跨轮共享.
type TurnState struct {
	ConversationID string
	UserID         string
	// Question 是用户本轮的原始消息
	Question string
	// History 是组装好的模型输入上下文 (摘要 + 短期对话)
	History []types.Message

	// 检索模式, auto 模式下最多被 classify 阶段改写一次
	RetrievalMode types.RetrievalMode

	// 工具决策
	NeedTool      bool
	SelectedTool  string
	ToolArgs      map[string]any
	MissingParams []string

	// 检索决策
	NeedRetrieval       bool
	NeedRetrievalReason string
	// OriginalQuestion 是提取出的核心问题, 检索和答案生成都用它
	OriginalQuestion string
	Subquestions     []string

	// 检索结果: 检索模式决定填充哪一路, EvidenceDocuments 指向被选中的一路
	EvidenceDocuments []types.EvidenceDocument
	VectorResults     []types.EvidenceDocument
	GraphResults      []types.EvidenceDocument

	// 最终产出
	Answer  string
	Sources []types.EvidenceDocument
	Err     *types.Error
}
