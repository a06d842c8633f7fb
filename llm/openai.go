package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// OpenAIConfig 配置 OpenAI 兼容提供方.
// DeepSeek / Qwen / GLM 等兼容端点都可以直接使用.
type OpenAIConfig struct {
	// APIKey 鉴权密钥
	APIKey string
	// BaseURL 形如 https://api.deepseek.com
	BaseURL string
	// Model 模型名
	Model string
	// Timeout HTTP 超时, 默认 60s
	Timeout time.Duration
	// EndpointPath 默认 /v1/chat/completions
	EndpointPath string
	// Temperature 采样温度
	Temperature float64
}

// OpenAIProvider 通过 OpenAI 兼容接口实现 Provider 和 StreamProvider.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容提供方.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

// Name 返回提供方名称.
func (p *OpenAIProvider) Name() string { return "openai-compat" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate 发起一次非流式对话补全.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []types.Message) (string, error) {
	body, err := p.doRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", types.NewError(types.ErrProviderError, "读取模型响应失败").WithCause(err).WithRetryable(true)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", types.NewError(types.ErrProviderError, "模型响应不是有效的 JSON").WithCause(err)
	}
	if resp.Error != nil {
		return "", types.NewError(types.ErrProviderError, "模型调用失败").
			WithDetail("provider_error", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrProviderError, "模型未返回任何结果")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStructured 生成并解码 JSON 输出.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []types.Message, out any) error {
	raw, err := p.Generate(ctx, messages)
	if err != nil {
		return err
	}
	return DecodeStructured(raw, out)
}

// GenerateStream 发起流式补全, 逐 token 推送.
// 通道在生成结束或出错时关闭; 传输中途的错误只记日志, 已推送内容不回收.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []types.Message) (<-chan string, error) {
	body, err := p.doRequest(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	tokens := make(chan string, 16)
	go func() {
		defer close(tokens)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				p.logger.Warn("skipping malformed stream chunk", zap.Error(err))
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case tokens <- delta:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			p.logger.Error("stream read failed", zap.Error(err))
		}
	}()
	return tokens, nil
}

// doRequest 发送补全请求, 返回响应体. 非 2xx 状态映射为结构化错误.
func (p *OpenAIProvider) doRequest(ctx context.Context, messages []types.Message, stream bool) (io.ReadCloser, error) {
	reqBody := chatRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		Stream:      stream,
	}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "请求序列化失败").WithCause(err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "构造请求失败").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrProviderError, "模型服务不可达").WithCause(err).WithRetryable(true)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.NewError(types.ErrProviderError,
			fmt.Sprintf("模型调用失败 (HTTP %d)", resp.StatusCode)).
			WithDetail("body", string(data)).
			WithRetryable(retryable)
	}
	return resp.Body, nil
}
