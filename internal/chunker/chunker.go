// Package chunker 将长文本切分为适合向量化的有界分块。
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Chunker 按配置的分块大小与重叠度切分文本。长度均以 rune 计。
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New 创建一个 Chunker。chunkSize/chunkOverlap 非法时回落到缺省值 500/50。
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 {
		chunkOverlap = 50
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// ChunkText 按句子边界切分文本：以 "." 分句，逐句累积到缓冲区，
// 超过 chunkSize 时落盘当前缓冲并以该句开启新块，最后的残余作为末块。
// 空白输入返回空切片。单句超过 chunkSize 时整句保留，不做截断。
func (c *Chunker) ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	var sentences []string
	for _, s := range strings.Split(text, ".") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	chunks := []string{}
	current := ""
	for _, sentence := range sentences {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(sentence) < c.chunkSize {
			current += sentence + " "
		} else {
			if strings.TrimSpace(current) != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = sentence + ". "
		}
	}

	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	return chunks
}

// ChunkTextWithOverlap 按固定词窗切分文本，相邻窗口之间保留词级重叠，
// 适用于需要跨块词汇连续性的场景。窗口大小与重叠度从字符配置粗略换算为词数。
func (c *Chunker) ChunkTextWithOverlap(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	words := strings.Fields(text)
	wordsPerChunk := c.chunkSize / 5
	if wordsPerChunk < 1 {
		wordsPerChunk = 1
	}
	overlapWords := c.chunkOverlap / 5

	step := wordsPerChunk - overlapWords
	if step < 1 {
		// 重叠度不小于窗口时退化为不重叠切分
		step = wordsPerChunk
	}

	chunks := []string{}
	for i := 0; i < len(words); i += step {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
