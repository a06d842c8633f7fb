package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/ragflow/types"
)

// InMemoryVectorStore 是用于开发和测试的内存检索后端.
// 用字符二元组重叠度近似相似度打分, 不做真正的向量计算.
type InMemoryVectorStore struct {
	mu   sync.RWMutex
	docs []types.EvidenceDocument
}

// NewInMemoryVectorStore 创建空的内存存储.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{}
}

// Add 追加文档.
func (s *InMemoryVectorStore) Add(docs ...types.EvidenceDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
}

// Len 返回存储的文档数.
func (s *InMemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search 按二元组重叠度返回得分最高的 topK 条文档, 得分为 0 的不返回.
func (s *InMemoryVectorStore) Search(ctx context.Context, query string, topK int) ([]types.EvidenceDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	qgrams := bigrams(query)
	if len(qgrams) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   types.EvidenceDocument
		score float64
		order int
	}
	var results []scored
	for i, doc := range s.docs {
		sc := overlap(qgrams, bigrams(doc.Content))
		if sc > 0 {
			results = append(results, scored{doc: doc, score: sc, order: i})
		}
	}

	// 得分降序, 同分保持插入顺序
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]types.EvidenceDocument, 0, len(results))
	for _, r := range results {
		out = append(out, r.doc)
	}
	return out, nil
}

// bigrams 把文本切成小写字符二元组集合, 对中英文都适用.
func bigrams(text string) map[string]struct{} {
	runes := []rune(strings.ToLower(strings.TrimSpace(text)))
	set := make(map[string]struct{})
	if len(runes) == 1 {
		set[string(runes)] = struct{}{}
		return set
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// overlap 计算查询二元组在文档中命中的比例.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	hits := 0
	for g := range query {
		if _, ok := doc[g]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
