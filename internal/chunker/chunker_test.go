package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	t.Run("empty input returns empty slice", func(t *testing.T) {
		c := New(500, 50)
		assert.Empty(t, c.ChunkText(""))
		assert.Empty(t, c.ChunkText("   \n\t  "))
	})

	t.Run("short text becomes a single chunk", func(t *testing.T) {
		c := New(500, 50)
		chunks := c.ChunkText("This is a short sentence.")
		require.Len(t, chunks, 1)
		assert.Equal(t, "This is a short sentence", chunks[0])
	})

	t.Run("sentences accumulate until the size limit", func(t *testing.T) {
		c := New(45, 0)
		chunks := c.ChunkText("First sentence here. Second sentence here. Third sentence here.")
		require.Len(t, chunks, 2)
		assert.Equal(t, "First sentence here Second sentence here", chunks[0])
		assert.Equal(t, "Third sentence here.", chunks[1])
	})

	t.Run("sentence order is preserved across chunks", func(t *testing.T) {
		c := New(30, 0)
		text := "alpha one. beta two. gamma three. delta four. epsilon five."
		chunks := c.ChunkText(text)
		joined := strings.Join(chunks, " ")
		wantOrder := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
		last := -1
		for _, w := range wantOrder {
			idx := strings.Index(joined, w)
			require.Greater(t, idx, last, "word %q out of order", w)
			last = idx
		}
	})

	t.Run("oversized sentence passes through whole", func(t *testing.T) {
		c := New(20, 0)
		long := strings.Repeat("x", 80)
		chunks := c.ChunkText("tiny. " + long + ". tail.")
		require.Len(t, chunks, 3)
		assert.Contains(t, chunks[1], long)
	})

	t.Run("chunks stay within the limit except oversized sentences", func(t *testing.T) {
		c := New(50, 0)
		text := "one two three. four five six. seven eight nine. ten eleven twelve. thirteen fourteen."
		for _, chunk := range c.ChunkText(text) {
			// 累积阈值判断发生在追加前，块长上界为 chunkSize + 单句长度
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 50+len("thirteen fourteen"))
		}
	})
}

func TestChunkTextWithOverlap(t *testing.T) {
	t.Run("empty input returns empty slice", func(t *testing.T) {
		c := New(500, 50)
		assert.Empty(t, c.ChunkTextWithOverlap("  "))
	})

	t.Run("windows step by window minus overlap", func(t *testing.T) {
		// chunkSize=20 → 4 词窗口，chunkOverlap=5 → 1 词重叠，步长 3
		c := New(20, 5)
		words := []string{"w0", "w1", "w2", "w3", "w4", "w5", "w6"}
		chunks := c.ChunkTextWithOverlap(strings.Join(words, " "))
		require.Len(t, chunks, 2)
		assert.Equal(t, "w0 w1 w2 w3", chunks[0])
		assert.Equal(t, "w3 w4 w5 w6", chunks[1])
	})

	t.Run("invalid overlap falls back to non-overlapping windows", func(t *testing.T) {
		// 重叠词数不小于窗口词数时步长退化为窗口大小
		c := New(10, 50)
		chunks := c.ChunkTextWithOverlap("a b c d")
		require.Len(t, chunks, 2)
		assert.Equal(t, "a b", chunks[0])
		assert.Equal(t, "c d", chunks[1])
	})

	t.Run("short input yields one window", func(t *testing.T) {
		c := New(500, 50)
		chunks := c.ChunkTextWithOverlap("just a few words")
		require.Len(t, chunks, 1)
		assert.Equal(t, "just a few words", chunks[0])
	})
}
