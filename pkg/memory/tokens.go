package memory

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lks21c/hdsp-agent/pkg/llms"
)

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

// TokenCounter counts tokens with the tokenizer of a specific model. Models
// without a known encoding fall back to cl100k_base, which is close enough
// for budget decisions.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTokenCounter creates a counter for a model, caching encodings across
// instances since loading one is expensive.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[model]
	encodingCacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = encoding
	encodingCacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the exact token count for text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list, including the per-message
// role overhead the chat format adds.
func (tc *TokenCounter) CountMessages(messages []llms.Message) int {
	const tokensPerMessage = 3

	total := 3 // reply priming
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	return total
}

// Model returns the model this counter was built for.
func (tc *TokenCounter) Model() string {
	return tc.model
}
