package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/chunker"
)

func newChunker(t *testing.T, target, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(chunker.Config{TargetWords: target, OverlapWords: overlap})
	require.NoError(t, err)
	return c
}

// numberedWords builds "w000 w001 ..." with single-space separators.
func numberedWords(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, fmt.Sprintf("w%03d", i))
	}
	return strings.Join(parts, " ")
}

func TestConfigValidate(t *testing.T) {
	_, err := chunker.New(chunker.Config{TargetWords: -1})
	assert.Error(t, err)

	_, err = chunker.New(chunker.Config{TargetWords: 100, OverlapWords: 100})
	assert.Error(t, err)

	c, err := chunker.New(chunker.Config{})
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestSplitEmptyInput(t *testing.T) {
	c := newChunker(t, 100, 20)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("  \n\n\t "))
}

func TestSplitSingleChunk(t *testing.T) {
	c := newChunker(t, 100, 20)
	text := "alpha beta gamma"

	chunks := c.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ByteStart)
	assert.Equal(t, len(text), chunks[0].ByteEnd)
}

func TestSplitOverlapAndHardCuts(t *testing.T) {
	c := newChunker(t, 100, 20)
	text := numberedWords(0, 250) // no sentence or paragraph boundaries

	chunks := c.Split(text)
	require.Len(t, chunks, 3)

	w0 := strings.Fields(chunks[0].Text)
	w1 := strings.Fields(chunks[1].Text)
	w2 := strings.Fields(chunks[2].Text)
	assert.Len(t, w0, 100)
	assert.Len(t, w1, 100)
	assert.Len(t, w2, 90)

	// tail of one chunk is the head of the next
	assert.Equal(t, w0[80:], w1[:20])
	assert.Equal(t, w1[80:], w2[:20])

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	c := newChunker(t, 100, 20)
	var paras []string
	for p := 0; p < 6; p++ {
		paras = append(paras, numberedWords(p*30, (p+1)*30))
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	// cut lands on the last paragraph break within the budget, not at word 100
	assert.Equal(t, 90, chunker.WordCount(chunks[0].Text))
	assert.True(t, strings.HasSuffix(chunks[0].Text, "w089"))
}

func TestSplitFallsBackToSentenceBoundaries(t *testing.T) {
	c := newChunker(t, 100, 0)
	var sents []string
	for i := 0; i < 30; i++ {
		sents = append(sents, fmt.Sprintf("Sent%02d has exactly eight words in this line.", i))
	}
	text := strings.Join(sents, " ") // one paragraph, 240 words

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 96, chunker.WordCount(chunks[0].Text))
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."))
}

func TestSplitByteRangesSliceBackToInput(t *testing.T) {
	c := newChunker(t, 100, 20)
	var paras []string
	for p := 0; p < 6; p++ {
		paras = append(paras, numberedWords(p*30, (p+1)*30))
	}
	text := strings.Join(paras, "\n\n")

	for _, ch := range c.Split(text) {
		assert.Equal(t, ch.Text, text[ch.ByteStart:ch.ByteEnd])
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := newChunker(t, 100, 20)
	text := numberedWords(0, 500)

	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestSplitIgnoresBlankLinesInsideFences(t *testing.T) {
	c := newChunker(t, 100, 0)
	var b strings.Builder
	b.WriteString(numberedWords(0, 70))
	b.WriteString("\n```\n")
	b.WriteString(numberedWords(70, 75))
	b.WriteString("\n\n") // blank line inside the fence must not attract a cut
	b.WriteString(numberedWords(75, 80))
	b.WriteString("\n```\n")
	b.WriteString(numberedWords(80, 200))

	chunks := c.Split(b.String())
	require.NotEmpty(t, chunks)
	assert.Equal(t, 100, chunker.WordCount(chunks[0].Text))
}

func TestPreprocessMarkdown(t *testing.T) {
	in := "---\ntitle: Notes\ndate: 2024-01-01\n---\n\n# Heading\n\n\n\nBody text here.\n~~~go\nfmt.Println(1)\n~~~\n"

	out := chunker.PreprocessMarkdown(in)
	assert.False(t, strings.Contains(out, "title:"))
	assert.True(t, strings.HasPrefix(out, "# Heading"))
	assert.True(t, strings.Contains(out, "```go"))
	assert.False(t, strings.Contains(out, "~~~"))
	assert.False(t, strings.Contains(out, "\n\n\n"))
}

func TestPreprocessMarkdownWithoutFrontmatter(t *testing.T) {
	in := "# Plain doc\r\n\r\nNo frontmatter here."
	out := chunker.PreprocessMarkdown(in)
	assert.Equal(t, "# Plain doc\n\nNo frontmatter here.", out)
}

func TestWordCountAndTokenEstimate(t *testing.T) {
	assert.Equal(t, 0, chunker.WordCount(""))
	assert.Equal(t, 3, chunker.WordCount("  one\ttwo\nthree  "))
	assert.Equal(t, 0, chunker.EstimateTokens(""))
	assert.Equal(t, 1, chunker.EstimateTokens("ab"))
	assert.Equal(t, 3, chunker.EstimateTokens("twelve chars"))
}
