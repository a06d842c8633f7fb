// Package retrieval 实现证据获取: 向量检索的多查询扇出与去重合并,
// 以及图谱检索的单次调用与片段提取.
package retrieval

import (
	"context"

	"github.com/BaSui01/ragflow/types"
)

// VectorSearcher 是向量检索后端接口.
// 实现方通常封装 Milvus / pgvector / Weaviate 等向量库客户端.
type VectorSearcher interface {
	// Search 对单个查询返回最多 topK 条证据文档.
	Search(ctx context.Context, query string, topK int) ([]types.EvidenceDocument, error)
}

// GraphSearcher 是知识图谱检索后端接口.
type GraphSearcher interface {
	// Query 执行一次图谱查询. mode 指定检索模式 (hybrid / local / global),
	// promptOnly 为 true 时只返回拼好的上下文文本, 不做答案生成.
	Query(ctx context.Context, text string, mode string, promptOnly bool) (string, error)
}
