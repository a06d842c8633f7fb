// Package llm 定义引擎对大语言模型的最小能力契约.
// 引擎的所有决策 (是否检索 / 检索类型 / 工具选择) 和生成
// (子问题扩展 / 答案合成 / 历史摘要) 都通过这两个方法完成.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/ragflow/types"
)

// Provider 是模型提供方接口.
type Provider interface {
	// Generate 基于消息序列生成一段自由文本.
	Generate(ctx context.Context, messages []types.Message) (string, error)

	// GenerateStructured 生成 JSON 并解码到 out.
	// 模型输出允许带 markdown 代码围栏, 实现负责剥离后解码.
	GenerateStructured(ctx context.Context, messages []types.Message, out any) error

	// Name 返回提供方名称, 用于日志.
	Name() string
}

// StreamProvider 是可选的流式扩展, 逐 token 推送生成内容.
type StreamProvider interface {
	Provider

	// GenerateStream 返回 token 通道, 生成结束或出错时关闭.
	GenerateStream(ctx context.Context, messages []types.Message) (<-chan string, error)
}

// DecodeStructured 从模型原始输出中提取 JSON 并解码.
// 兼容三种形态: 纯 JSON, ```json 围栏包裹, 前后带解释文字.
func DecodeStructured(raw string, out any) error {
	cleaned := StripCodeFence(raw)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	// 截取第一个 { 到最后一个 } 之间的内容再试一次
	start := strings.IndexAny(cleaned, "{[")
	end := strings.LastIndexAny(cleaned, "}]")
	if start >= 0 && end > start {
		return json.Unmarshal([]byte(cleaned[start:end+1]), out)
	}

	return types.NewError(types.ErrDecisionParse, "模型输出不是有效的 JSON").
		WithDetail("raw", truncate(raw, 200))
}

// StripCodeFence 去掉 ```json ... ``` 这类围栏.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// 第一行可能是语言标记 (json)
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
