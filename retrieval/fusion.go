package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// 图谱检索返回的上下文中, 文档片段区的分隔标记.
// 标记之前是实体/关系摘要, 只保留标记之后的片段正文.
const chunkMarker = "-----Document Chunks(DC)-----"

// 图谱证据的展示名
const graphDocumentName = "知识图谱检索结果"

// FusionConfig 配置融合引擎
type FusionConfig struct {
	// 每个查询返回的最大文档数
	MaxDocsPerQuery int
	// 图谱检索模式
	GraphMode string
}

// DefaultFusionConfig 返回默认配置
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		MaxDocsPerQuery: 3,
		GraphMode:       "hybrid",
	}
}

// FusionEngine 将原始问题和子问题扇出到检索后端, 合并去重后输出证据集.
type FusionEngine struct {
	vector VectorSearcher
	graph  GraphSearcher
	config FusionConfig
	logger *zap.Logger
}

// NewFusionEngine 创建融合引擎. vector 和 graph 允许为 nil,
// 对应路径的检索会直接返回空结果.
func NewFusionEngine(vector VectorSearcher, graph GraphSearcher, config FusionConfig, logger *zap.Logger) *FusionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDocsPerQuery <= 0 {
		config.MaxDocsPerQuery = 3
	}
	if config.GraphMode == "" {
		config.GraphMode = "hybrid"
	}
	return &FusionEngine{
		vector: vector,
		graph:  graph,
		config: config,
		logger: logger.With(zap.String("component", "fusion_engine")),
	}
}

// FetchVector 对 [原始问题] ++ 子问题逐一检索, 按调用顺序拼接并去重.
// 单个查询失败只记日志并跳过, 不影响其他查询; 整体永不返回错误.
func (f *FusionEngine) FetchVector(ctx context.Context, originalQuestion string, subquestions []string) []types.EvidenceDocument {
	if f.vector == nil {
		return nil
	}

	queries := make([]string, 0, 1+len(subquestions))
	if strings.TrimSpace(originalQuestion) != "" {
		queries = append(queries, originalQuestion)
	}
	queries = append(queries, subquestions...)

	var collected []types.EvidenceDocument
	for _, q := range queries {
		docs, err := f.vector.Search(ctx, q, f.config.MaxDocsPerQuery)
		if err != nil {
			f.logger.Warn("向量检索失败, 跳过该查询",
				zap.String("query", q),
				zap.Error(err))
			continue
		}
		for _, doc := range docs {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			if _, ok := doc.Metadata["source"]; !ok {
				doc.Metadata["source"] = "vector"
			}
			collected = append(collected, doc)
		}
	}

	deduped := DedupDocuments(collected)
	f.logger.Info("向量检索完成",
		zap.Int("queries", len(queries)),
		zap.Int("raw", len(collected)),
		zap.Int("deduped", len(deduped)))
	return deduped
}

// FetchGraph 执行一次图谱检索. 返回的上下文若包含片段分隔标记,
// 只保留标记之后的正文. 非空时产出恰好一条 source="graph" 的证据文档;
// 任何错误都吞掉并返回空结果, 检索失败不终止整轮.
func (f *FusionEngine) FetchGraph(ctx context.Context, originalQuestion string, subquestions []string) []types.EvidenceDocument {
	if f.graph == nil {
		return nil
	}

	query := strings.TrimSpace(originalQuestion)
	if query == "" && len(subquestions) > 0 {
		query = subquestions[0]
	}
	if query == "" {
		return nil
	}

	raw, err := f.graph.Query(ctx, query, f.config.GraphMode, true)
	if err != nil {
		f.logger.Warn("图谱检索失败", zap.Error(err))
		return nil
	}

	content := ExtractChunks(raw)
	if content == "" {
		f.logger.Info("图谱检索无结果")
		return nil
	}

	return []types.EvidenceDocument{{
		Content: content,
		Metadata: map[string]any{
			"source":         "graph",
			"retrieval_mode": f.config.GraphMode,
			"document_name":  graphDocumentName,
		},
	}}
}

// ExtractChunks 提取图谱上下文中片段标记之后的正文并去掉首尾空白.
// 没有标记时返回整段去空白后的文本.
func ExtractChunks(raw string) string {
	if idx := strings.Index(raw, chunkMarker); idx >= 0 {
		return strings.TrimSpace(raw[idx+len(chunkMarker):])
	}
	return strings.TrimSpace(raw)
}

// DedupDocuments 按主键去重, 保留首次出现的文档.
// 主键取 metadata["pk"], 回落 metadata["id"]; 无主键的文档全部保留.
func DedupDocuments(docs []types.EvidenceDocument) []types.EvidenceDocument {
	seen := make(map[string]struct{}, len(docs))
	out := make([]types.EvidenceDocument, 0, len(docs))
	for _, doc := range docs {
		key := doc.PrimaryKey()
		if key == nil {
			out = append(out, doc)
			continue
		}
		// 主键可能是字符串或整型, 统一转为字符串比较
		ks := fmt.Sprintf("%T:%v", key, key)
		if _, dup := seen[ks]; dup {
			continue
		}
		seen[ks] = struct{}{}
		out = append(out, doc)
	}
	return out
}
