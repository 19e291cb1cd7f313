package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// defaultMockDimension matches nothing in particular; it only has to be
// stable for the life of a graph built against it.
const defaultMockDimension = 256

// MockEmbedder derives deterministic unit vectors from a hash of the input.
// It lets the engine run end to end without a model backend: equal inputs
// embed identically across processes, so dedup and search stay consistent,
// the vectors just carry no semantics.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = defaultMockDimension
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector([]byte(strings.ToLower(strings.TrimSpace(t))))
	}
	return out, nil
}

func (m *MockEmbedder) EmbedImage(_ context.Context, _ string, data []byte) ([]float32, error) {
	return m.vector(data), nil
}

func (m *MockEmbedder) Dimension() int { return m.dimension }
func (m *MockEmbedder) Name() string   { return "mock" }

// vector expands a 64-bit content hash into a unit vector with an xorshift
// generator.
func (m *MockEmbedder) vector(data []byte) []float32 {
	h := fnv.New64a()
	h.Write(data)
	state := h.Sum64() | 1

	v := make([]float32, m.dimension)
	var norm float64
	for i := range v {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v[i] = float32(int64(state)) / float32(math.MaxInt64)
		norm += float64(v[i]) * float64(v[i])
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// MockChat answers every completion with an empty extraction result, so an
// ingestion run against it completes cleanly without creating anything.
type MockChat struct{}

func NewMockChat() MockChat { return MockChat{} }

func (MockChat) Complete(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{
		Content:      `{"concepts":[],"instances":[],"relationships":[]}`,
		Model:        "mock",
		FinishReason: "stop",
	}, nil
}

func (MockChat) Name() string { return "mock" }
