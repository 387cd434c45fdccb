package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/httpclient"
)

const (
	defaultGeminiHost = "https://generativelanguage.googleapis.com"

	// Well-formed Gemini keys carry this prefix.
	geminiKeyPrefix = "AIza"
)

// GeminiProvider implements Provider for the Gemini REST API with API key
// rotation. Rate-limited keys are cooled down and the next key in the pool is
// tried; keys rejected with 403 are dropped from rotation.
type GeminiProvider struct {
	config       *config.LLMConfig
	host         string
	keyring      *Keyring
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// geminiRetryStrategy keeps 429 out of the HTTP-level retry loop so key
// rotation can react to it instead.
func geminiRetryStrategy(statusCode int) httpclient.RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests:
		return httpclient.NoRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return httpclient.ConservativeRetry
	default:
		return httpclient.NoRetry
	}
}

// NewGeminiProvider creates a provider over the configured key pool.
func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if len(cfg.GeminiKeys) == 0 {
		return nil, fmt.Errorf("at least one Gemini API key is required")
	}

	host := cfg.Endpoint
	if host == "" {
		host = defaultGeminiHost
	}

	opts := []httpclient.Option{
		httpclient.WithHeaderParser(httpclient.ParseGeminiHeaders),
		httpclient.WithRetryStrategy(geminiRetryStrategy),
	}

	return &GeminiProvider{
		config:       cfg,
		host:         strings.TrimRight(host, "/"),
		keyring:      NewKeyring(cfg.GeminiKeys),
		httpClient:   createHTTPClient(cfg, time.Duration(cfg.Timeout)*time.Second, opts...),
		streamClient: createHTTPClient(cfg, time.Duration(cfg.StreamTimeout)*time.Second, opts...),
	}, nil
}

// Keyring exposes the rotation pool for key management.
func (p *GeminiProvider) Keyring() *Keyring {
	return p.keyring
}

// Generate performs a non-streaming request, rotating keys on rate limits.
func (p *GeminiProvider) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	req := p.buildRequest(prompt, contextText)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		key, err := p.keyring.Next()
		if err != nil {
			if lastErr != nil {
				return "", fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return "", err
		}

		endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			p.host, p.config.Model, key.Key)

		resp, err := p.post(ctx, p.httpClient, endpoint, req)
		if err != nil {
			lastErr = err
			continue
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			resp.Body.Close()
			p.keyring.Cooldown(key.ID, rateLimitCooldown(attempt))
			lastErr = fmt.Errorf("key %s rate limited", key.MaskedKey())
			continue
		case http.StatusForbidden:
			resp.Body.Close()
			p.keyring.Disable(key.ID)
			lastErr = fmt.Errorf("key %s rejected", key.MaskedKey())
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return "", fmt.Errorf("failed to read response: %w", readErr)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("Gemini API error (HTTP %d): %s", resp.StatusCode, string(body))
		}

		return parseGeminiBody(body)
	}

	return "", fmt.Errorf("all Gemini keys exhausted: %w", lastErr)
}

// GenerateStreaming performs a streaming request. Key rotation applies to the
// connection attempt; once the stream is open it runs on the chosen key.
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, prompt, contextText string) (<-chan StreamChunk, error) {
	req := p.buildRequest(prompt, contextText)

	chunks := make(chan StreamChunk, 10)

	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
			key, err := p.keyring.Next()
			if err != nil {
				if lastErr != nil {
					err = fmt.Errorf("%w (last error: %v)", err, lastErr)
				}
				chunks <- StreamChunk{Type: ChunkTypeError, Error: err}
				return
			}

			endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
				p.host, p.config.Model, key.Key)

			resp, err := p.post(ctx, p.streamClient, endpoint, req)
			if err != nil {
				lastErr = err
				continue
			}

			switch resp.StatusCode {
			case http.StatusTooManyRequests:
				resp.Body.Close()
				p.keyring.Cooldown(key.ID, rateLimitCooldown(attempt))
				lastErr = fmt.Errorf("key %s rate limited", key.MaskedKey())
				continue
			case http.StatusForbidden:
				resp.Body.Close()
				p.keyring.Disable(key.ID)
				lastErr = fmt.Errorf("key %s rejected", key.MaskedKey())
				continue
			}

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				chunks <- StreamChunk{Type: ChunkTypeError,
					Error: fmt.Errorf("Gemini API error (HTTP %d): %s", resp.StatusCode, string(body))}
				return
			}

			parseGeminiStream(resp.Body, chunks)
			resp.Body.Close()
			return
		}

		chunks <- StreamChunk{Type: ChunkTypeError, Error: fmt.Errorf("all Gemini keys exhausted: %w", lastErr)}
	}()

	return chunks, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

// ValidateKey probes a key against the models listing endpoint.
func (p *GeminiProvider) ValidateKey(ctx context.Context, key string) (KeyStatus, error) {
	return ValidateGeminiKey(ctx, p.host, key)
}

// ValidateGeminiKey checks a key's format, then probes the models listing
// endpoint to classify it.
func ValidateGeminiKey(ctx context.Context, host, key string) (KeyStatus, error) {
	if !strings.HasPrefix(key, geminiKeyPrefix) {
		return KeyStatusInvalid, nil
	}
	if host == "" {
		host = defaultGeminiHost
	}

	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s", strings.TrimRight(host, "/"), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return KeyStatusError, err
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return KeyStatusError, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return KeyStatusValid, nil
	case http.StatusBadRequest:
		return KeyStatusInvalid, nil
	case http.StatusForbidden:
		return KeyStatusForbidden, nil
	default:
		return KeyStatusError, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (p *GeminiProvider) buildRequest(prompt, contextText string) *geminiRequest {
	return &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: BuildPrompt(prompt, contextText)}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     p.config.Temperature,
			MaxOutputTokens: p.config.MaxTokens,
		},
	}
}

func (p *GeminiProvider) post(ctx context.Context, client *httpclient.Client, endpoint string, request *geminiRequest) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

func parseGeminiBody(body []byte) (string, error) {
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse Gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("Gemini API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// parseGeminiStream reads SSE lines carrying partial responses. The stream
// ends at EOF rather than a sentinel line.
func parseGeminiStream(body io.Reader, chunks chan<- StreamChunk) {
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

		var streamResp geminiResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if streamResp.Error != nil {
			chunks <- StreamChunk{Type: ChunkTypeError, Error: fmt.Errorf("Gemini API error: %s", streamResp.Error.Message)}
			return
		}
		if streamResp.UsageMetadata != nil {
			totalTokens = streamResp.UsageMetadata.TotalTokenCount
		}
		if len(streamResp.Candidates) == 0 {
			continue
		}
		for _, part := range streamResp.Candidates[0].Content.Parts {
			if part.Text != "" {
				chunks <- StreamChunk{Type: ChunkTypeText, Text: part.Text}
			}
		}
	}

	chunks <- StreamChunk{Type: ChunkTypeDone, Tokens: totalTokens}
}

func rateLimitCooldown(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * 5 * time.Second
}

var _ Provider = (*GeminiProvider)(nil)
