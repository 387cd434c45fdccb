// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderVLLM   LLMProvider = "vllm"
	LLMProviderGemini LLMProvider = "gemini"
)

// MaxGeminiKeys caps the rotation pool size.
const MaxGeminiKeys = 10

// LLMConfig configures the LLM gateway.
type LLMConfig struct {
	// Provider type (openai, vllm, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=openai,enum=vllm,enum=gemini,default=gemini"`

	// Model name (e.g. "gpt-4o", "gemini-2.0-flash").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for the openai provider. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// Endpoint overrides the default API endpoint. Required for vllm.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,description=Custom base URL"`

	// GeminiKeys is the rotation pool for the gemini provider.
	GeminiKeys []GeminiKey `yaml:"gemini_keys,omitempty" json:"gemini_keys,omitempty" jsonschema:"title=Gemini Keys,description=API key rotation pool"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=4096"`

	// Timeout in seconds for non-streaming requests.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=60"`

	// StreamTimeout in seconds for streaming requests.
	StreamTimeout int `yaml:"stream_timeout,omitempty" json:"stream_timeout,omitempty" jsonschema:"title=Stream Timeout,default=120"`

	// MaxRetries per request.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,default=3"`
}

// GeminiKey is one credential in the rotation pool.
type GeminiKey struct {
	ID      string `yaml:"id" json:"id"`
	Key     string `yaml:"key" json:"key"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// MaskedKey returns the key with all but the last four characters hidden.
func (k GeminiKey) MaskedKey() string {
	return MaskSecret(k.Key)
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.Model = "gpt-4o"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		case LLMProviderVLLM:
			c.Model = "default"
		}
	}

	if c.APIKey == "" && c.Provider == LLMProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Endpoint == "" && c.Provider == LLMProviderVLLM {
		c.Endpoint = os.Getenv("VLLM_ENDPOINT")
	}
	if len(c.GeminiKeys) == 0 && c.Provider == LLMProviderGemini {
		if key := geminiKeyFromEnv(); key != "" {
			c.GeminiKeys = []GeminiKey{{ID: "env", Key: key, Enabled: true}}
		}
	}

	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderVLLM, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, vllm, gemini)", c.Provider)
	}

	if c.Provider == LLMProviderVLLM && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for provider %q", c.Provider)
	}
	if len(c.GeminiKeys) > MaxGeminiKeys {
		return fmt.Errorf("at most %d gemini keys are supported", MaxGeminiKeys)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

// detectProviderFromEnv detects provider based on available credentials.
func detectProviderFromEnv() LLMProvider {
	if geminiKeyFromEnv() != "" {
		return LLMProviderGemini
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("VLLM_ENDPOINT") != "" {
		return LLMProviderVLLM
	}
	return LLMProviderGemini
}

func geminiKeyFromEnv() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}

// MaskSecret hides a secret for display, keeping only the last four
// characters. Short secrets are fully masked.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// IsMasked reports whether a submitted value is a masked placeholder rather
// than a real secret.
func IsMasked(value string) bool {
	return strings.HasPrefix(value, "****")
}
