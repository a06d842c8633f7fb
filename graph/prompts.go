package graph

import (
	"fmt"
	"strings"

	"github.com/BaSui01/ragflow/tools"
	"github.com/BaSui01/ragflow/types"
)

// 各阶段提示词模板. 结构化输出的字段定义见同文件的 decision 结构体.

const retrievalNeedPrompt = `
你是一个智能的检索需求判断助手。你的任务是分析用户的问题，判断是否需要进行外部知识检索来回答这个问题。

请根据以下标准进行判断：

**需要检索的情况：**
1. 问题涉及具体的事实信息、数据、统计数字
2. 问题询问特定的人物、事件、地点、组织等
3. 问题需要最新的信息或时事
4. 问题涉及专业领域的具体知识
5. 问题询问具体的产品、服务、技术细节
6. 问题需要引用权威资料或文档

**不需要检索的情况：**
1. 纯粹的数学计算或逻辑推理
2. 一般性的概念解释或常识问题
3. 创意性问题（如写作、头脑风暴）
4. 个人观点或主观判断
5. 简单的定义或解释
6. 程序代码编写或调试（基础层面）

**用户问题：**
%s

请分析这个问题，判断是否需要进行检索，并提取出核心问题。

请按照以下JSON格式返回结果：
{
    "need_retrieval": true或false,
    "extracted_question": "提取的核心问题",
    "reasoning": "判断是否需要检索的理由"
}
`

const retrievalTypePrompt = `
你是一个智能的检索类型判断助手。你的任务是分析用户的问题，判断应该使用向量检索还是图检索来获取最相关的信息。

**向量检索 (vector_only) 适用场景：**
1. 语义相似性查询：寻找意思相近的内容
2. 模糊匹配：关键词不完全匹配但语义相关
3. 概念性问题：需要理解概念含义的查询
4. 文本内容检索：主要基于文档内容进行匹配
5. 跨语言查询：不同语言但相同含义的查询
6. 长文本查询：复杂的自然语言描述

**图检索 (graph_only) 适用场景：**
1. 关系查询：询问实体之间的关系
2. 路径查询：需要通过多个节点找到答案
3. 结构化查询：基于明确的实体和属性
4. 精确匹配：需要准确的实体或属性值
5. 层次查询：涉及分类、层级关系的问题
6. 连接查询：需要连接多个相关实体的信息

**用户问题：**
%s

请分析这个问题的特点，判断应该使用哪种检索方式，并说明理由。

请按照以下JSON格式返回结果：
{
    "retrieval_type": "vector_only" 或 "graph_only",
    "reasoning": "选择该检索类型的详细理由"
}
`

const subquestionExpansionPrompt = `
你是一个专业的问题分析助手。请根据用户的原始问题，将其分解为多个具体的子问题，以便更好地进行信息检索和回答。

分解原则：
1. 子问题应该涵盖原始问题的各个方面
2. 每个子问题应该具体明确，便于检索
3. 子问题之间应该相互补充，避免重复
4. 子问题数量通常在2-5个之间
5. 如果原始问题已经足够具体，可以只生成1个子问题（即原问题本身）

原始问题：%s

请将上述问题分解为具体的子问题列表，按照以下JSON格式返回结果：
{
    "subquestions": ["子问题1", "子问题2"]
}
`

const answerGenerationPrompt = `
你是一个专业的知识整合助手。请基于检索到的相关文档，为用户问题提供准确、全面的答案。

**回答要求：**
1. 答案应该准确、客观、有条理
2. 优先使用检索到的权威信息
3. 如果信息不足，请明确指出
4. 提供信息来源和参考依据
5. 保持回答的简洁性和可读性

**用户问题：**
%s

**检索到的相关文档（共%d个）：**
%s
`

const directAnswerPrompt = `你是一个专业且友好的AI助手。下面是你和用户的对话历史（时间从早到晚）：

%s

现在用户的最新问题是：
%s

请结合上面的对话历史，提供准确、清晰的回答。如果问题不清楚，可以要求用户提供更多信息；如果用户之前已经给出相关信息（如名字、偏好），请保持前后一致。`

const toolNeedPrompt = `
你是一个智能的工具调用判断助手。你的任务是分析用户的问题，判断是否需要调用工具来完成请求。

**可用工具列表：**
%s

**用户问题：**
%s

判断规则：
1. 只有当用户的请求与某个工具的功能明确匹配时才需要调用工具
2. 一般性的咨询、解释类问题不需要调用工具
3. 如果需要调用工具，请从用户的问题中提取参数；无法提取的必填参数列入 missing_params

请按照以下JSON格式返回结果：
{
    "need_tool": true或false,
    "selected_tool": "工具名称，不需要时为空字符串",
    "args": {"参数名": "参数值"},
    "missing_params": ["缺失的必填参数名"],
    "reasoning": "判断理由"
}
`

const toolCallPrompt = `
现在必须调用工具 '%s' 来完成用户的请求，不允许拒绝或改用其他方式回答。

**工具说明：**
%s

**参数说明：**
%s

**用户问题：**
%s

请从用户问题中提取参数，按照以下JSON格式返回调用请求：
{
    "tool": "%s",
    "args": {"参数名": "参数值"}
}
`

const toolExplainPrompt = `
你是一个专业且友好的健康助手。下面是工具 '%s' 的结构化评估结果，请把它转述成一段面向普通用户的、通俗易懂的中文说明：
1. 不要使用技术术语和字段名
2. 保留关键结论（风险等级、主要风险因素、建议）
3. 语气友好，条理清晰

**评估结果（JSON）：**
%s
`

// 结构化决策输出

type retrievalNeedDecision struct {
	NeedRetrieval     bool   `json:"need_retrieval"`
	ExtractedQuestion string `json:"extracted_question"`
	Reasoning         string `json:"reasoning"`
}

type retrievalTypeDecision struct {
	RetrievalType string `json:"retrieval_type"`
	Reasoning     string `json:"reasoning"`
}

type subquestionExpansion struct {
	Subquestions []string `json:"subquestions"`
}

type toolNeedDecision struct {
	NeedTool      bool           `json:"need_tool"`
	SelectedTool  string         `json:"selected_tool"`
	Args          map[string]any `json:"args"`
	MissingParams []string       `json:"missing_params"`
	Reasoning     string         `json:"reasoning"`
}

type toolCallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// renderToolCatalog 把工具描述渲染进判断提示词.
func renderToolCatalog(descriptors []tools.Descriptor) string {
	var sb strings.Builder
	for _, d := range descriptors {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", d.Name, d.Description))
		for _, p := range d.Params {
			required := "可选"
			if p.Required {
				required = "必填"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s, %s): %s\n", p.Name, p.Type, required, p.Description))
		}
	}
	return strings.TrimSpace(sb.String())
}

// renderParamGuide 渲染单个工具的参数说明.
func renderParamGuide(params []tools.ParamSpec) string {
	var sb strings.Builder
	for _, p := range params {
		required := "可选"
		if p.Required {
			required = "必填"
		} else if p.Default != nil {
			required = fmt.Sprintf("可选，默认 %v", p.Default)
		}
		sb.WriteString(fmt.Sprintf("- %s (%s, %s): %s\n", p.Name, p.Type, required, p.Description))
	}
	return strings.TrimSpace(sb.String())
}

// renderDocuments 把证据文档渲染成编号列表, 无文档时用占位文本.
func renderDocuments(docs []types.EvidenceDocument) string {
	if len(docs) == 0 {
		return "暂无检索到的相关文档。"
	}
	var sb strings.Builder
	for i, doc := range docs {
		source := doc.DocumentName()
		if source == "" {
			source = fmt.Sprintf("文档%d", i+1)
		}
		sb.WriteString(fmt.Sprintf("\n[文档 %d - %s]:\n%s\n", i+1, source, doc.Content))
	}
	return sb.String()
}

// renderHistory 把上下文消息渲染成对话历史文本.
func renderHistory(messages []types.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			sb.WriteString("用户：")
		case types.RoleAssistant:
			sb.WriteString("助手：")
		default:
			sb.WriteString(string(msg.Role) + "：")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "（无历史对话）"
	}
	return strings.TrimSpace(sb.String())
}
