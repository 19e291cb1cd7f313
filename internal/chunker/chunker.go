// Package chunker splits documents into overlapping word-budget chunks.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"kgraph/internal/kgerrors"
)

// charsPerToken approximates GPT-family tokenizers for cost estimation.
const charsPerToken = 4

// Config holds chunking parameters.
type Config struct {
	// TargetWords is the approximate chunk size in words.
	TargetWords int

	// OverlapWords is the tail-head overlap between consecutive chunks.
	OverlapWords int
}

// DefaultConfig returns the standard chunking parameters.
func DefaultConfig() Config {
	return Config{TargetWords: 1000, OverlapWords: 200}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TargetWords <= 0 {
		return kgerrors.Validation("target_words must be positive, got %d", c.TargetWords)
	}
	if c.OverlapWords < 0 {
		return kgerrors.Validation("overlap_words must not be negative, got %d", c.OverlapWords)
	}
	if c.OverlapWords >= c.TargetWords {
		return kgerrors.Validation("overlap_words (%d) must be less than target_words (%d)", c.OverlapWords, c.TargetWords)
	}
	return nil
}

// Chunk is one contiguous slice of the input text. ByteStart and ByteEnd
// are offsets into the exact string passed to Split, so
// text[ByteStart:ByteEnd] == Text always holds.
type Chunk struct {
	Index     int
	Text      string
	ByteStart int
	ByteEnd   int
}

// Chunker produces deterministic chunk sequences: the same input and the
// same Config always yield the same chunks.
type Chunker struct {
	config Config
}

// New creates a Chunker. A zero-valued Config selects the defaults.
func New(cfg Config) (*Chunker, error) {
	if cfg.TargetWords == 0 && cfg.OverlapWords == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Markdown normalization applied before chunking.
var (
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n.+?\n---\n*`)
	tildeFencePattern  = regexp.MustCompile(`(?m)^([ \t]*)~~~+`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// PreprocessMarkdown strips YAML frontmatter, rewrites tilde fences to
// backtick fences, and collapses runs of blank lines. Call it before Split
// for markdown input; byte ranges then refer to the preprocessed text.
func PreprocessMarkdown(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = frontmatterPattern.ReplaceAllString(text, "")
	text = tildeFencePattern.ReplaceAllString(text, "$1```")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return text
}

type wordSpan struct {
	start int
	end   int
}

type boundary uint8

const (
	boundNone boundary = iota
	boundSentence
	boundParagraph
)

// Split chunks text into approximately TargetWords-sized pieces. Cut points
// prefer paragraph breaks, then sentence ends, then plain word boundaries,
// searching backwards from the word budget down to half of it. Consecutive
// chunks share OverlapWords words of context. Returns nil for empty input.
func (c *Chunker) Split(text string) []Chunk {
	words := scanWords(text)
	if len(words) == 0 {
		return nil
	}

	bounds := classifyBoundaries(text, words)

	var chunks []Chunk
	start := 0
	for start < len(words) {
		end := start + c.config.TargetWords
		if end >= len(words) {
			end = len(words)
		} else {
			end = c.cutPoint(bounds, start, end)
		}

		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      text[words[start].start:words[end-1].end],
			ByteStart: words[start].start,
			ByteEnd:   words[end-1].end,
		})

		if end == len(words) {
			break
		}
		next := end - c.config.OverlapWords
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cutPoint picks the exclusive word index to cut at, searching from the
// budget back to half the budget: paragraph break first, sentence end next,
// hard word cut last.
func (c *Chunker) cutPoint(bounds []boundary, start, ideal int) int {
	min := start + (c.config.TargetWords+1)/2
	if min <= start {
		min = start + 1
	}
	for j := ideal; j >= min; j-- {
		if bounds[j-1] == boundParagraph {
			return j
		}
	}
	for j := ideal; j >= min; j-- {
		if bounds[j-1] == boundSentence {
			return j
		}
	}
	return ideal
}

// WordCount reports the number of whitespace-delimited words in text.
func WordCount(text string) int {
	return len(scanWords(text))
}

// EstimateTokens approximates the LLM token count of text for pre-flight
// cost estimation.
func EstimateTokens(text string) int {
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// scanWords finds maximal non-whitespace runs with their byte offsets.
func scanWords(text string) []wordSpan {
	var words []wordSpan
	inWord := false
	wordStart := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, wordSpan{start: wordStart, end: i})
				inWord = false
			}
		} else if !inWord {
			wordStart = i
			inWord = true
		}
		i += size
	}
	if inWord {
		words = append(words, wordSpan{start: wordStart, end: len(text)})
	}
	return words
}

// classifyBoundaries labels the gap after each word. bounds[i] describes the
// separator between words[i] and words[i+1]; the final entry is boundNone.
// Gaps inside fenced code blocks never count as boundaries, so a blank line
// in a code listing cannot attract a cut.
func classifyBoundaries(text string, words []wordSpan) []boundary {
	fences := fenceRegions(text)
	bounds := make([]boundary, len(words))
	for i := 0; i+1 < len(words); i++ {
		gapStart := words[i].end
		if inRegion(fences, gapStart) {
			continue
		}
		sep := text[gapStart:words[i+1].start]
		if strings.Count(sep, "\n") >= 2 {
			bounds[i] = boundParagraph
			continue
		}
		if endsSentence(text[words[i].start:words[i].end]) && startsFresh(sep, text[words[i+1].start:words[i+1].end]) {
			bounds[i] = boundSentence
		}
	}
	return bounds
}

// endsSentence reports whether a word ends with terminal punctuation,
// ignoring trailing quotes and closing brackets.
func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]`+"”’»")
	if trimmed == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	return r == '.' || r == '!' || r == '?'
}

// startsFresh guards against abbreviation dots: the gap must cross a line
// or the next word must start a new sentence shape.
func startsFresh(sep, next string) bool {
	if strings.Contains(sep, "\n") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(strings.TrimLeft(next, `"'(“‘«`))
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

// fenceRegions returns byte ranges covered by ``` code fences. An unclosed
// fence extends to the end of the text.
func fenceRegions(text string) [][2]int {
	var regions [][2]int
	open := -1
	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		if lineEnd < 0 {
			line = text[offset:]
			lineEnd = len(text) - offset
		} else {
			line = text[offset : offset+lineEnd]
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
			if open < 0 {
				open = offset
			} else {
				regions = append(regions, [2]int{open, offset + lineEnd})
				open = -1
			}
		}
		offset += lineEnd + 1
	}
	if open >= 0 {
		regions = append(regions, [2]int{open, len(text)})
	}
	return regions
}

func inRegion(regions [][2]int, pos int) bool {
	for _, r := range regions {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
