package llms

import (
	"fmt"

	"github.com/lks21c/hdsp-agent/pkg/config"
)

// New creates a provider from configuration.
func New(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI, config.LLMProviderVLLM:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, vllm, gemini)", cfg.Provider)
	}
}
