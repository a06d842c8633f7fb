package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/BaSui01/ragflow/types"
)

// fakeVectorSearcher 按查询返回预设结果, 并记录调用次数.
type fakeVectorSearcher struct {
	results map[string][]types.EvidenceDocument
	errOn   map[string]error
	calls   []string
}

func (f *fakeVectorSearcher) Search(ctx context.Context, query string, topK int) ([]types.EvidenceDocument, error) {
	f.calls = append(f.calls, query)
	if err, ok := f.errOn[query]; ok {
		return nil, err
	}
	docs := f.results[query]
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

type fakeGraphSearcher struct {
	response string
	err      error
	lastMode string
	lastOnly bool
	calls    int
}

func (f *fakeGraphSearcher) Query(ctx context.Context, text, mode string, promptOnly bool) (string, error) {
	f.calls++
	f.lastMode = mode
	f.lastOnly = promptOnly
	return f.response, f.err
}

func doc(pk any, content string) types.EvidenceDocument {
	md := map[string]any{}
	if pk != nil {
		md["pk"] = pk
	}
	return types.EvidenceDocument{Content: content, Metadata: md}
}

func TestFetchVectorFanOutAndDedup(t *testing.T) {
	vs := &fakeVectorSearcher{
		results: map[string][]types.EvidenceDocument{
			"原始问题": {doc("a", "甲"), doc("b", "乙"), doc("c", "丙")},
			"子问题一": {doc("a", "甲"), doc("b", "乙")},
		},
	}
	engine := NewFusionEngine(vs, nil, DefaultFusionConfig(), nil)

	got := engine.FetchVector(context.Background(), "原始问题", []string{"子问题一"})

	if len(got) != 3 {
		t.Fatalf("got %d docs, want 3 (overlapping pks deduped)", len(got))
	}
	if len(vs.calls) != 2 {
		t.Fatalf("got %d searches, want 2", len(vs.calls))
	}
	if vs.calls[0] != "原始问题" {
		t.Errorf("original question must be queried first, got %q", vs.calls[0])
	}
	// 首次出现的文档保留
	if got[0].Metadata["pk"] != "a" || got[1].Metadata["pk"] != "b" || got[2].Metadata["pk"] != "c" {
		t.Errorf("dedup must keep first occurrence in call order: %+v", got)
	}
	for _, d := range got {
		if d.Source() != "vector" {
			t.Errorf("doc missing vector source tag: %+v", d.Metadata)
		}
	}
}

func TestFetchVectorSkipsFailedQueries(t *testing.T) {
	vs := &fakeVectorSearcher{
		results: map[string][]types.EvidenceDocument{
			"好查询": {doc("x", "内容")},
		},
		errOn: map[string]error{
			"坏查询": errors.New("milvus unavailable"),
		},
	}
	engine := NewFusionEngine(vs, nil, DefaultFusionConfig(), nil)

	got := engine.FetchVector(context.Background(), "坏查询", []string{"好查询"})
	if len(got) != 1 {
		t.Fatalf("failed query should be skipped, got %d docs", len(got))
	}
	if got[0].Metadata["pk"] != "x" {
		t.Errorf("unexpected doc: %+v", got[0])
	}
}

func TestFetchVectorKeylessNeverDeduped(t *testing.T) {
	keyless1 := types.EvidenceDocument{Content: "无键一"}
	keyless2 := types.EvidenceDocument{Content: "无键二"}
	vs := &fakeVectorSearcher{
		results: map[string][]types.EvidenceDocument{
			"q": {keyless1, keyless2, keyless1},
		},
	}
	engine := NewFusionEngine(vs, nil, DefaultFusionConfig(), nil)

	got := engine.FetchVector(context.Background(), "q", nil)
	if len(got) != 3 {
		t.Fatalf("keyless docs must never be deduped, got %d", len(got))
	}
}

func TestFetchGraphChunkExtraction(t *testing.T) {
	gs := &fakeGraphSearcher{
		response: "-----Entities-----\n实体摘要...\n" + chunkMarker + "\n  片段一\n片段二  \n",
	}
	engine := NewFusionEngine(nil, gs, DefaultFusionConfig(), nil)

	got := engine.FetchGraph(context.Background(), "高血压和糖尿病的关系", nil)
	if len(got) != 1 {
		t.Fatalf("got %d docs, want exactly 1", len(got))
	}
	if got[0].Content != "片段一\n片段二" {
		t.Errorf("content = %q, want trimmed text after marker", got[0].Content)
	}
	if got[0].Source() != "graph" {
		t.Errorf("source = %q", got[0].Source())
	}
	if got[0].DocumentName() != "知识图谱检索结果" {
		t.Errorf("document_name = %q", got[0].DocumentName())
	}
	if gs.calls != 1 {
		t.Errorf("graph must be queried exactly once, got %d", gs.calls)
	}
	if gs.lastMode != "hybrid" || !gs.lastOnly {
		t.Errorf("query mode = %q promptOnly = %v", gs.lastMode, gs.lastOnly)
	}
}

func TestFetchGraphEmptyAndError(t *testing.T) {
	engine := NewFusionEngine(nil, &fakeGraphSearcher{response: "   "}, DefaultFusionConfig(), nil)
	if got := engine.FetchGraph(context.Background(), "q", nil); len(got) != 0 {
		t.Errorf("empty response must yield no docs, got %d", len(got))
	}

	engine = NewFusionEngine(nil, &fakeGraphSearcher{err: errors.New("lightrag down")}, DefaultFusionConfig(), nil)
	if got := engine.FetchGraph(context.Background(), "q", nil); got != nil {
		t.Errorf("error must yield empty result, got %v", got)
	}
}

func TestFetchGraphFallsBackToFirstSubquestion(t *testing.T) {
	gs := &fakeGraphSearcher{response: "一些内容"}
	engine := NewFusionEngine(nil, gs, DefaultFusionConfig(), nil)

	got := engine.FetchGraph(context.Background(), "  ", []string{"子问题"})
	if len(got) != 1 {
		t.Fatalf("got %d docs", len(got))
	}
	// 无标记时保留整段文本
	if got[0].Content != "一些内容" {
		t.Errorf("content = %q", got[0].Content)
	}
}

func TestExtractChunks(t *testing.T) {
	if got := ExtractChunks("没有标记的文本 "); got != "没有标记的文本" {
		t.Errorf("got %q", got)
	}
	if got := ExtractChunks("头部" + chunkMarker + "  尾部 "); got != "尾部" {
		t.Errorf("got %q", got)
	}
	if got := ExtractChunks(chunkMarker); got != "" {
		t.Errorf("got %q", got)
	}
}

// 去重不变量: 输出中任意两条文档不共享非空主键, 无主键文档全部保留,
// 输出顺序是输入顺序的子序列.
func TestDedupDocumentsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		docs := make([]types.EvidenceDocument, 0, n)
		for i := 0; i < n; i++ {
			var md map[string]any
			switch rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("kind%d", i)) {
			case 0:
				md = map[string]any{"pk": rapid.StringMatching(`[a-c]{1,2}`).Draw(t, fmt.Sprintf("pk%d", i))}
			case 1:
				md = map[string]any{"id": rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("id%d", i))}
			default:
				md = nil
			}
			docs = append(docs, types.EvidenceDocument{
				Content:  fmt.Sprintf("doc-%d", i),
				Metadata: md,
			})
		}

		out := DedupDocuments(docs)

		seen := make(map[string]bool)
		keyless := 0
		for _, d := range out {
			key := d.PrimaryKey()
			if key == nil {
				keyless++
				continue
			}
			ks := fmt.Sprintf("%T:%v", key, key)
			if seen[ks] {
				t.Fatalf("duplicate key %s in output", ks)
			}
			seen[ks] = true
		}

		wantKeyless := 0
		for _, d := range docs {
			if d.PrimaryKey() == nil {
				wantKeyless++
			}
		}
		if keyless != wantKeyless {
			t.Fatalf("keyless docs: got %d, want %d", keyless, wantKeyless)
		}

		// 子序列检查
		j := 0
		for _, d := range docs {
			if j < len(out) && out[j].Content == d.Content {
				j++
			}
		}
		if j != len(out) {
			t.Fatalf("output is not a subsequence of input")
		}
	})
}

func TestInMemoryVectorStore(t *testing.T) {
	store := NewInMemoryVectorStore()
	store.Add(
		types.EvidenceDocument{Content: "糖尿病的诊断标准包括空腹血糖", Metadata: map[string]any{"pk": "1"}},
		types.EvidenceDocument{Content: "高血压的分级与管理", Metadata: map[string]any{"pk": "2"}},
		types.EvidenceDocument{Content: "今天天气很好", Metadata: map[string]any{"pk": "3"}},
	)

	got, err := store.Search(context.Background(), "糖尿病诊断", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one hit")
	}
	if got[0].Metadata["pk"] != "1" {
		t.Errorf("best match pk = %v, want 1", got[0].Metadata["pk"])
	}
	for _, d := range got {
		if !strings.Contains(d.Content, "糖") && !strings.Contains(d.Content, "诊") {
			t.Errorf("irrelevant doc returned: %q", d.Content)
		}
	}
}
