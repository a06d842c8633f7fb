package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestEvidenceDocumentPrimaryKey(t *testing.T) {
	tests := []struct {
		name string
		doc  EvidenceDocument
		want any
	}{
		{
			name: "pk preferred over id",
			doc:  EvidenceDocument{Metadata: map[string]any{"pk": int64(42), "id": "chunk-1"}},
			want: int64(42),
		},
		{
			name: "id fallback",
			doc:  EvidenceDocument{Metadata: map[string]any{"id": "chunk-1"}},
			want: "chunk-1",
		},
		{
			name: "nil pk falls through to id",
			doc:  EvidenceDocument{Metadata: map[string]any{"pk": nil, "id": "chunk-2"}},
			want: "chunk-2",
		},
		{
			name: "no metadata",
			doc:  EvidenceDocument{Content: "text"},
			want: nil,
		},
		{
			name: "empty metadata",
			doc:  EvidenceDocument{Metadata: map[string]any{}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.doc.PrimaryKey(); got != tt.want {
				t.Errorf("PrimaryKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvidenceDocumentHelpers(t *testing.T) {
	doc := EvidenceDocument{
		Content: "chunk",
		Metadata: map[string]any{
			"source":        "vector",
			"document_name": "指南.pdf",
			"chunk_index":   3,
		},
	}
	if doc.Source() != "vector" {
		t.Errorf("Source() = %q", doc.Source())
	}
	if doc.DocumentName() != "指南.pdf" {
		t.Errorf("DocumentName() = %q", doc.DocumentName())
	}
	// 非字符串值不 panic
	empty := EvidenceDocument{Metadata: map[string]any{"source": 7}}
	if empty.Source() != "" {
		t.Errorf("non-string source should yield empty, got %q", empty.Source())
	}
}

func TestParseRetrievalMode(t *testing.T) {
	if got := ParseRetrievalMode("vector_only"); got != RetrievalModeVectorOnly {
		t.Errorf("got %v", got)
	}
	if got := ParseRetrievalMode("bogus"); got != RetrievalModeAuto {
		t.Errorf("unknown mode should fall back to auto, got %v", got)
	}
	if got := ParseRetrievalMode(""); got != RetrievalModeAuto {
		t.Errorf("empty mode should fall back to auto, got %v", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrToolExecution, "工具执行失败").
		WithCause(cause).
		WithDetail("tool", "diabetes_risk_assessment")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the cause chain")
	}
	if GetErrorCode(err) != ErrToolExecution {
		t.Errorf("GetErrorCode = %v", GetErrorCode(err))
	}
	wrapped := fmt.Errorf("turn failed: %w", err)
	if GetErrorCode(wrapped) != ErrToolExecution {
		t.Error("GetErrorCode should unwrap nested errors")
	}
	if IsRetryable(err) {
		t.Error("not retryable by default")
	}
	if !IsRetryable(NewError(ErrToolRateLimitExceeded, "x").WithRetryable(true)) {
		t.Error("WithRetryable(true) not honored")
	}
}

func TestMessageRecordIsDialog(t *testing.T) {
	if !(MessageRecord{Role: RoleUser, Type: MessageTypeDialog}).IsDialog() {
		t.Error("user dialog record should be dialog")
	}
	if (MessageRecord{Role: RoleSystem, Type: MessageTypeDialog}).IsDialog() {
		t.Error("system record is never dialog")
	}
	if (MessageRecord{Role: RoleAssistant, Type: MessageTypeStageUpdate}).IsDialog() {
		t.Error("stage-update is not dialog")
	}
}
