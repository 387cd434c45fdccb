package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lks21c/hdsp-agent/pkg/llms"
)

func sampleMessages() []llms.Message {
	return []llms.Message{
		{Role: "user", Content: "Hello, how are you today?"},
		{Role: "assistant", Content: "I'm doing well, thank you for asking!"},
		{Role: "user", Content: "Can you help me with Python programming?"},
		{Role: "assistant", Content: "Of course! I'd be happy to help with Python."},
		{Role: "user", Content: "How do I read a file in Python?"},
	}
}

func longMessages() []llms.Message {
	long := strings.Repeat("This is a long message. ", 100)
	return []llms.Message{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "Final short message."},
	}
}

func TestTokenLimits(t *testing.T) {
	assert.Equal(t, 4000, NewCondenser("default").TokenLimit())
	assert.Equal(t, 4000, NewCondenser("openai").TokenLimit())
	assert.Equal(t, 30000, NewCondenser("gemini").TokenLimit())

	c := NewCondenser("default")
	c.SetProvider("gemini")
	assert.Equal(t, 30000, c.TokenLimit())
}

func TestEstimateTokens(t *testing.T) {
	c := NewCondenser("default")

	assert.Equal(t, 0, c.EstimateTokens(""))

	// 100 words at 1.3 tokens per word
	text := strings.TrimSpace(strings.Repeat("word ", 100))
	assert.Equal(t, 130, c.EstimateTokens(text))
}

func TestCondense_UnderLimit(t *testing.T) {
	c := NewCondenser("default")
	msgs := sampleMessages()

	out, stats := c.Condense(msgs, 1000, StrategyAdaptive)

	assert.Equal(t, msgs, out)
	assert.Equal(t, "none", stats.StrategyUsed)
	assert.InDelta(t, 1.0, stats.CompressionRatio, 1e-9)
	assert.Equal(t, len(msgs), stats.MessagesKept)
	assert.Equal(t, 0, stats.MessagesRemoved)
}

func TestCondense_Empty(t *testing.T) {
	c := NewCondenser("default")

	out, stats := c.Condense(nil, 0, StrategyAdaptive)

	assert.Empty(t, out)
	assert.Equal(t, 0, stats.OriginalTokens)
	assert.Equal(t, 0, stats.CompressedTokens)
}

func TestTruncate_KeepsRecent(t *testing.T) {
	c := NewCondenser("default")

	out, stats := c.Condense(longMessages(), 100, StrategyTruncate)

	assert.Equal(t, "truncate", stats.StrategyUsed)
	assert.LessOrEqual(t, stats.CompressedTokens, 100)
	require.NotEmpty(t, out)
	assert.Equal(t, "Final short message.", out[len(out)-1].Content)
	assert.Greater(t, stats.MessagesRemoved, 0)
}

func TestSummarize_CreatesSummaryMessage(t *testing.T) {
	c := NewCondenser("default")

	old := strings.Repeat("This is old message content that should be summarized. ", 10)
	msgs := []llms.Message{
		{Role: "user", Content: old},
		{Role: "assistant", Content: old},
		{Role: "user", Content: old},
		{Role: "assistant", Content: old},
		{Role: "user", Content: "Short recent 1."},
		{Role: "assistant", Content: "Short recent 2."},
		{Role: "user", Content: "Short recent 3."},
	}

	out, stats := c.Condense(msgs, 150, StrategySummarize)

	assert.Equal(t, "summarize", stats.StrategyUsed)
	assert.Equal(t, 3, stats.MessagesKept)
	assert.Equal(t, 4, stats.MessagesRemoved)

	var system []llms.Message
	for _, m := range out {
		if m.Role == "system" {
			system = append(system, m)
		}
	}
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Content, "[Previous conversation summary]")

	assert.Equal(t, "Short recent 3.", out[len(out)-1].Content)
}

func TestSummarize_FallsBackToTruncate(t *testing.T) {
	c := NewCondenser("default")

	long := strings.Repeat("Recent content. ", 200)
	msgs := []llms.Message{
		{Role: "user", Content: "Old 1"},
		{Role: "assistant", Content: "Old 2"},
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: long},
	}

	_, stats := c.Condense(msgs, 50, StrategySummarize)
	assert.Equal(t, "truncate", stats.StrategyUsed)
}

func TestAdaptive_StrategySelection(t *testing.T) {
	c := NewCondenser("default")

	assert.Equal(t, StrategyTruncate, c.selectStrategy(1000, 600))
	assert.Equal(t, StrategyTruncate, c.selectStrategy(1000, 500))
	assert.Equal(t, StrategySummarize, c.selectStrategy(1000, 300))
}

func TestAdaptive_EndToEnd(t *testing.T) {
	c := NewCondenser("default")

	_, stats := c.Condense(longMessages(), 100, StrategyAdaptive)

	assert.Contains(t, []string{"truncate", "summarize"}, stats.StrategyUsed)
	assert.LessOrEqual(t, stats.CompressedTokens, 100)
}

func TestStatsHistory(t *testing.T) {
	c := NewCondenser("default")

	assert.Empty(t, c.StatsHistory())

	c.Condense(longMessages(), 100, StrategyAdaptive)
	assert.Len(t, c.StatsHistory(), 1)

	c.Condense(longMessages(), 50, StrategyAdaptive)
	assert.Len(t, c.StatsHistory(), 2)

	h1 := c.StatsHistory()
	h2 := c.StatsHistory()
	h1[0].OriginalTokens = -1
	assert.NotEqual(t, h1[0], h2[0], "history must be a copy")

	c.ClearStatsHistory()
	assert.Empty(t, c.StatsHistory())
}

func TestCompressionRatio(t *testing.T) {
	c := NewCondenser("default")

	_, stats := c.Condense(longMessages(), 100, StrategyAdaptive)
	require.Greater(t, stats.OriginalTokens, 0)
	assert.InDelta(t,
		float64(stats.CompressedTokens)/float64(stats.OriginalTokens),
		stats.CompressionRatio, 0.01)
}
