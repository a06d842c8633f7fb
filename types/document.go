package types

// 检索模式控制单轮检索管线的行为.
type RetrievalMode string

const (
	// RetrievalModeAuto 由模型判断是否检索以及检索类型
	RetrievalModeAuto RetrievalMode = "auto"
	// RetrievalModeVectorOnly 强制向量检索
	RetrievalModeVectorOnly RetrievalMode = "vector_only"
	// RetrievalModeGraphOnly 强制图谱检索
	RetrievalModeGraphOnly RetrievalMode = "graph_only"
	// RetrievalModeNone 跳过所有检索
	RetrievalModeNone RetrievalMode = "no_retrieval"
)

// ParseRetrievalMode 解析字符串为检索模式, 未知值回落为 auto.
func ParseRetrievalMode(s string) RetrievalMode {
	switch RetrievalMode(s) {
	case RetrievalModeVectorOnly, RetrievalModeGraphOnly, RetrievalModeNone, RetrievalModeAuto:
		return RetrievalMode(s)
	default:
		return RetrievalModeAuto
	}
}

// EvidenceDocument 是检索得到的一段证据文本及其元数据.
// 元数据是开放的 map, 常见键: pk, id, source, document_name, chunk_index.
type EvidenceDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PrimaryKey 返回去重键: 优先 metadata["pk"], 回落 metadata["id"], 都没有返回 nil.
// 没有键的文档永远不会被去重.
func (d EvidenceDocument) PrimaryKey() any {
	if d.Metadata == nil {
		return nil
	}
	if pk, ok := d.Metadata["pk"]; ok && pk != nil {
		return pk
	}
	if id, ok := d.Metadata["id"]; ok && id != nil {
		return id
	}
	return nil
}

// Source 返回证据来源标签 (vector / graph / tool), 无则为空串.
func (d EvidenceDocument) Source() string {
	return d.metaString("source")
}

// DocumentName 返回文档展示名, 无则为空串.
func (d EvidenceDocument) DocumentName() string {
	return d.metaString("document_name")
}

// ChunkIndex 返回文档分片序号, 无或类型不对时返回 -1.
func (d EvidenceDocument) ChunkIndex() int {
	if d.Metadata == nil {
		return -1
	}
	switch v := d.Metadata["chunk_index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}

func (d EvidenceDocument) metaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	if v, ok := d.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
