package llms

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

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/httpclient"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIProvider implements Provider for the OpenAI chat completions API and
// for vLLM servers, which expose the same wire format.
type OpenAIProvider struct {
	config       *config.LLMConfig
	chatURL      string
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// NewOpenAIProvider creates a provider for openai or vllm configurations.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	var chatURL string
	switch cfg.Provider {
	case config.LLMProviderVLLM:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("vLLM endpoint is required")
		}
		chatURL = strings.TrimRight(cfg.Endpoint, "/") + "/v1/chat/completions"
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOpenAIEndpoint
		}
		chatURL = strings.TrimRight(endpoint, "/") + "/chat/completions"
	}

	return &OpenAIProvider{
		config:  cfg,
		chatURL: chatURL,
		httpClient: createHTTPClient(cfg, time.Duration(cfg.Timeout)*time.Second,
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders)),
		streamClient: createHTTPClient(cfg, time.Duration(cfg.StreamTimeout)*time.Second,
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders)),
	}, nil
}

// Generate performs a non-streaming chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	req := p.buildRequest(prompt, contextText, false)

	resp, body, err := p.makeRequest(ctx, p.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return parsed.Choices[0].Message.Content, nil
}

// GenerateStreaming performs a streaming chat completion.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, prompt, contextText string) (<-chan StreamChunk, error) {
	req := p.buildRequest(prompt, contextText, true)

	chunks := make(chan StreamChunk, 10)

	go func() {
		defer close(chunks)

		resp, _, err := p.makeStreamingRequest(ctx, req)
		if err != nil {
			chunks <- StreamChunk{Type: ChunkTypeError, Error: err}
			return
		}
		defer resp.Body.Close()

		parseOpenAIStream(resp.Body, chunks)
	}()

	return chunks, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) buildRequest(prompt, contextText string, stream bool) openAIRequest {
	return openAIRequest{
		Model:       p.config.Model,
		Messages:    []openAIMessage{{Role: "user", Content: BuildPrompt(prompt, contextText)}},
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, client *httpclient.Client, request openAIRequest) (*http.Response, []byte, error) {
	resp, err := p.post(ctx, client, request)
	if err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, body, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest) (*http.Response, []byte, error) {
	resp, err := p.post(ctx, p.streamClient, request)
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

func (p *OpenAIProvider) post(ctx context.Context, client *httpclient.Client, request openAIRequest) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil && httpclient.IsRetryable(err) {
		// Exhausted retries keep their error type so callers can map it to
		// an unavailable-upstream status.
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		message := string(body)
		var errResp struct {
			Error *openAIError `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
			message = errResp.Error.Message
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, message)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, message)
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

// parseOpenAIStream reads SSE lines and forwards text deltas. A final "done"
// chunk carries the total token count when the server reports usage.
func parseOpenAIStream(body io.Reader, chunks chan<- StreamChunk) {
	reader := bufio.NewReader(body)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				chunks <- StreamChunk{Type: ChunkTypeError, Error: fmt.Errorf("failed to read stream: %w", err)}
				return
			}
			break
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if streamResp.Error != nil {
			chunks <- StreamChunk{Type: ChunkTypeError, Error: fmt.Errorf("API error: %s", streamResp.Error.Message)}
			return
		}
		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}
		if len(streamResp.Choices) == 0 {
			continue
		}
		if text := streamResp.Choices[0].Delta.Content; text != "" {
			chunks <- StreamChunk{Type: ChunkTypeText, Text: text}
		}
	}

	chunks <- StreamChunk{Type: ChunkTypeDone, Tokens: totalTokens}
}

var _ Provider = (*OpenAIProvider)(nil)
