package vector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/vector"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, vector.Cosine(tc.a, tc.b), 1e-9)
		})
	}
}

func TestIndex_SearchRanksBySimilarity(t *testing.T) {
	// Arrange
	ix := vector.NewIndex(vector.DefaultParams())
	ix.Add("default", "c_exact", []float32{1, 0, 0})
	ix.Add("default", "c_close", []float32{0.9, 0.1, 0})
	ix.Add("default", "c_far", []float32{0, 0, 1})

	// Act
	matches := ix.Search("default", []float32{1, 0, 0}, 2)

	// Assert
	require.Len(t, matches, 2)
	assert.Equal(t, "c_exact", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, "c_close", matches[1].ID)
}

func TestIndex_OntologiesAreIsolated(t *testing.T) {
	ix := vector.NewIndex(vector.DefaultParams())
	ix.Add("physics", "c_a", []float32{1, 0})
	ix.Add("biology", "c_b", []float32{1, 0})

	matches := ix.Search("physics", []float32{1, 0}, 10)

	require.Len(t, matches, 1)
	assert.Equal(t, "c_a", matches[0].ID)
	assert.Equal(t, 1, ix.Len("physics"))
	assert.Equal(t, 1, ix.Len("biology"))
}

func TestIndex_RemoveOrphansEntry(t *testing.T) {
	ix := vector.NewIndex(vector.DefaultParams())
	ix.Add("default", "c_a", []float32{1, 0})
	ix.Add("default", "c_b", []float32{0.99, 0.01})

	ix.Remove("default", "c_a")
	matches := ix.Search("default", []float32{1, 0}, 10)

	require.Len(t, matches, 1)
	assert.Equal(t, "c_b", matches[0].ID)
	assert.Equal(t, 1, ix.Len("default"))
}

func TestIndex_ReAddReplacesEmbedding(t *testing.T) {
	ix := vector.NewIndex(vector.DefaultParams())
	ix.Add("default", "c_a", []float32{1, 0})
	ix.Add("default", "c_a", []float32{0, 1})

	matches := ix.Search("default", []float32{0, 1}, 1)

	require.Len(t, matches, 1)
	assert.Equal(t, "c_a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, 1, ix.Len("default"))
}

func TestIndex_RenameOntologyMovesShard(t *testing.T) {
	ix := vector.NewIndex(vector.DefaultParams())
	ix.Add("draft", "c_a", []float32{1, 0})

	ix.RenameOntology("draft", "final")

	assert.Equal(t, 0, ix.Len("draft"))
	assert.Equal(t, 1, ix.Len("final"))
	require.Len(t, ix.Search("final", []float32{1, 0}, 1), 1)
}

func TestIndex_SearchUnknownOntology(t *testing.T) {
	ix := vector.NewIndex(vector.DefaultParams())
	assert.Empty(t, ix.Search("nope", []float32{1, 0}, 5))
}
