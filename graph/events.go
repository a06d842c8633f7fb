package graph

import (
	"github.com/BaSui01/ragflow/types"
)

// EventType 标识事件种类.
type EventType string

const (
	// EventStage 表示管线进入了一个新阶段
	EventStage EventType = "stage"
	// EventToken 是流式生成的一段增量文本
	EventToken EventType = "token"
	// EventSources 携带本轮引用的证据文档
	EventSources EventType = "sources"
	// EventFinal 携带完整答案和引用列表, 每轮恰好一条
	EventFinal EventType = "final"
	// EventError 表示本轮以错误结束
	EventError EventType = "error"
)

// TurnEvent 是 ProcessTurn 推送的事件. 按 Type 取对应字段.
type TurnEvent struct {
	Type    EventType                `json:"type"`
	Stage   Stage                    `json:"stage,omitempty"`
	Token   string                   `json:"token,omitempty"`
	Sources []types.EvidenceDocument `json:"sources,omitempty"`
	Answer  string                   `json:"answer,omitempty"`
	Err     *types.Error             `json:"error,omitempty"`
}

// stageLabel 返回阶段的用户可见描述, 持久化为 stage-update 记录.
func stageLabel(stage Stage) string {
	switch stage {
	case StageStart:
		return "开始处理"
	case StageCheckToolNeeded:
		return "正在判断是否需要调用工具"
	case StageToolCalling:
		return "正在调用工具"
	case StageCheckRetrievalNeeded:
		return "正在判断是否需要检索"
	case StageExpandSubquestions:
		return "正在分解问题"
	case StageClassifyQuestionType:
		return "正在选择检索方式"
	case StageVectorRetrieval:
		return "正在进行向量检索"
	case StageGraphRetrieval:
		return "正在进行图谱检索"
	case StageGenerateAnswer:
		return "正在生成答案"
	case StageDirectAnswer:
		return "正在直接回答"
	case StageEnd:
		return "处理完成"
	default:
		return string(stage)
	}
}
