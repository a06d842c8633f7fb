package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	}, nil)
}

func TestOpenAIGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		fmt.Fprint(w, `{"choices": [{"message": {"content": "你好，有什么可以帮您？"}}]}`)
	})

	answer, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("你好")})
	require.NoError(t, err)
	assert.Equal(t, "你好，有什么可以帮您？", answer)
}

func TestOpenAIGenerateStructured(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// 带围栏的 JSON 输出也要能解码
		content := "```json\n{\"need_retrieval\": true, \"extracted_question\": \"核心问题\"}\n```"
		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	var out struct {
		NeedRetrieval     bool   `json:"need_retrieval"`
		ExtractedQuestion string `json:"extracted_question"`
	}
	require.NoError(t, p.GenerateStructured(context.Background(), []types.Message{types.NewUserMessage("问题")}, &out))
	assert.True(t, out.NeedRetrieval)
	assert.Equal(t, "核心问题", out.ExtractedQuestion)
}

func TestOpenAIServerErrorRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "overloaded"}}`)
	})

	_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("你好")})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIEmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})

	_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("你好")})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderError, types.GetErrorCode(err))
}

func TestOpenAIGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"你好", "，", "世界"}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\": [{\"delta\": {\"content\": %q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	tokens, err := p.GenerateStream(context.Background(), []types.Message{types.NewUserMessage("你好")})
	require.NoError(t, err)

	var sb strings.Builder
	for token := range tokens {
		sb.WriteString(token)
	}
	assert.Equal(t, "你好，世界", sb.String())
}
