package llm

import (
	"testing"

	"github.com/BaSui01/ragflow/types"
)

func TestDecodeStructured(t *testing.T) {
	type decision struct {
		NeedRetrieval bool   `json:"need_retrieval"`
		Reasoning     string `json:"reasoning"`
	}

	tests := []struct {
		name    string
		raw     string
		want    bool
		wantErr bool
	}{
		{"plain json", `{"need_retrieval": true, "reasoning": "专业问题"}`, true, false},
		{"fenced json", "```json\n{\"need_retrieval\": true}\n```", true, false},
		{"fence without language tag", "```\n{\"need_retrieval\": true}\n```", true, false},
		{"json surrounded by prose", "判断结果如下:\n{\"need_retrieval\": true}\n以上。", true, false},
		{"garbage", "我不知道该怎么回答", false, true},
		{"empty", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d decision
			err := DecodeStructured(tt.raw, &d)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if types.GetErrorCode(err) != types.ErrDecisionParse {
					t.Errorf("code = %v, want DECISION_PARSE", types.GetErrorCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStructured: %v", err)
			}
			if d.NeedRetrieval != tt.want {
				t.Errorf("need_retrieval = %v, want %v", d.NeedRetrieval, tt.want)
			}
		})
	}
}

func TestDecodeStructuredList(t *testing.T) {
	var subs []string
	raw := "```json\n[\"糖尿病的诊断标准\", \"糖尿病的症状\"]\n```"
	if err := DecodeStructured(raw, &subs); err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subquestions", len(subs))
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := StripCodeFence("no fence here"); got != "no fence here" {
		t.Errorf("got %q", got)
	}
	if got := StripCodeFence("```json\n{}\n```"); got != "{}" {
		t.Errorf("got %q", got)
	}
}
