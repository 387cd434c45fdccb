// Package memory compresses conversation history into a provider's context
// budget before prompt assembly.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lks21c/hdsp-agent/pkg/llms"
)

// Strategy selects how history is compressed.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyTruncate  Strategy = "truncate"
	StrategySummarize Strategy = "summarize"
	StrategyAdaptive  Strategy = "adaptive"
)

// Per-provider context budgets in tokens.
const (
	defaultTokenLimit = 4000
	geminiTokenLimit  = 30000
)

// summarize keeps this many recent messages verbatim.
const recentKeepCount = 3

const summaryPrefix = "[Previous conversation summary]"

// tokensPerWord is the heuristic used when no exact counter is configured.
const tokensPerWord = 1.3

// Stats records the outcome of one condense call.
type Stats struct {
	OriginalTokens   int     `json:"original_tokens"`
	CompressedTokens int     `json:"compressed_tokens"`
	StrategyUsed     string  `json:"strategy_used"`
	MessagesKept     int     `json:"messages_kept"`
	MessagesRemoved  int     `json:"messages_removed"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Condenser compresses message history to fit a token budget. Safe for
// concurrent use.
type Condenser struct {
	provider string
	counter  *TokenCounter

	mu      sync.Mutex
	history []Stats
}

// Option configures a Condenser.
type Option func(*Condenser)

// WithTokenCounter switches token estimation to an exact tokenizer.
func WithTokenCounter(tc *TokenCounter) Option {
	return func(c *Condenser) {
		c.counter = tc
	}
}

// NewCondenser creates a condenser for a provider. The provider decides the
// default token budget.
func NewCondenser(provider string, opts ...Option) *Condenser {
	c := &Condenser{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the configured provider name.
func (c *Condenser) Provider() string {
	return c.provider
}

// SetProvider changes the provider, and with it the default token budget.
func (c *Condenser) SetProvider(provider string) {
	c.mu.Lock()
	c.provider = provider
	c.mu.Unlock()
}

// TokenLimit returns the provider's context budget.
func (c *Condenser) TokenLimit() int {
	if c.provider == "gemini" {
		return geminiTokenLimit
	}
	return defaultTokenLimit
}

// EstimateTokens estimates the token count of text. With an exact counter
// configured the tokenizer is used, otherwise a words-based heuristic.
func (c *Condenser) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.counter != nil {
		return c.counter.Count(text)
	}
	return int(float64(len(strings.Fields(text))) * tokensPerWord)
}

// Condense compresses messages to fit targetTokens. A non-positive target
// uses the provider's default budget.
func (c *Condenser) Condense(messages []llms.Message, targetTokens int, strategy Strategy) ([]llms.Message, Stats) {
	if targetTokens <= 0 {
		targetTokens = c.TokenLimit()
	}

	original := c.countMessages(messages)

	var (
		out   []llms.Message
		stats Stats
	)
	switch {
	case len(messages) == 0 || original <= targetTokens:
		out = messages
		stats = Stats{
			OriginalTokens:   original,
			CompressedTokens: original,
			StrategyUsed:     string(StrategyNone),
			MessagesKept:     len(messages),
			CompressionRatio: 1.0,
		}
	default:
		if strategy == StrategyAdaptive || strategy == "" {
			strategy = c.selectStrategy(original, targetTokens)
		}
		if strategy == StrategySummarize {
			out, stats = c.summarize(messages, targetTokens, original)
		} else {
			out, stats = c.truncate(messages, targetTokens, original)
		}
	}

	c.mu.Lock()
	c.history = append(c.history, stats)
	c.mu.Unlock()

	return out, stats
}

// selectStrategy picks truncate for moderate compression and summarize when
// more than half the history has to go.
func (c *Condenser) selectStrategy(original, target int) Strategy {
	if original == 0 {
		return StrategyTruncate
	}
	if float64(target)/float64(original) >= 0.5 {
		return StrategyTruncate
	}
	return StrategySummarize
}

// truncate drops oldest messages until the remainder fits.
func (c *Condenser) truncate(messages []llms.Message, target, original int) ([]llms.Message, Stats) {
	kept := make([]llms.Message, 0, len(messages))
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := c.EstimateTokens(messages[i].Content)
		if total+tokens > target {
			break
		}
		kept = append([]llms.Message{messages[i]}, kept...)
		total += tokens
	}

	return kept, c.buildStats(original, total, StrategyTruncate, len(kept), len(messages)-len(kept))
}

// summarize replaces older messages with one system summary, keeping the
// most recent messages verbatim. Falls back to truncate when even the
// summary plus recent messages overrun the budget.
func (c *Condenser) summarize(messages []llms.Message, target, original int) ([]llms.Message, Stats) {
	keep := recentKeepCount
	if keep > len(messages) {
		keep = len(messages)
	}
	recent := messages[len(messages)-keep:]
	older := messages[:len(messages)-keep]

	summary := llms.Message{
		Role:    "system",
		Content: c.summarizeMessages(older),
	}

	total := c.EstimateTokens(summary.Content)
	for _, m := range recent {
		total += c.EstimateTokens(m.Content)
	}
	if total > target {
		return c.truncate(messages, target, original)
	}

	out := make([]llms.Message, 0, keep+1)
	out = append(out, summary)
	out = append(out, recent...)

	return out, c.buildStats(original, total, StrategySummarize, keep, len(older))
}

// summarizeMessages renders a compact digest of dropped messages.
func (c *Condenser) summarizeMessages(messages []llms.Message) string {
	var b strings.Builder
	b.WriteString(summaryPrefix)
	b.WriteString(fmt.Sprintf("\nThe earlier conversation had %d messages:", len(messages)))
	for _, m := range messages {
		b.WriteString(fmt.Sprintf("\n- %s: %s", m.Role, firstWords(m.Content, 12)))
	}
	return b.String()
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}

func (c *Condenser) countMessages(messages []llms.Message) int {
	total := 0
	for _, m := range messages {
		total += c.EstimateTokens(m.Content)
	}
	return total
}

func (c *Condenser) buildStats(original, compressed int, strategy Strategy, kept, removed int) Stats {
	ratio := 1.0
	if original > 0 {
		ratio = float64(compressed) / float64(original)
	}
	return Stats{
		OriginalTokens:   original,
		CompressedTokens: compressed,
		StrategyUsed:     string(strategy),
		MessagesKept:     kept,
		MessagesRemoved:  removed,
		CompressionRatio: ratio,
	}
}

// StatsHistory returns a copy of all recorded compression stats.
func (c *Condenser) StatsHistory() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Stats, len(c.history))
	copy(out, c.history)
	return out
}

// ClearStatsHistory drops recorded stats.
func (c *Condenser) ClearStatsHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}
