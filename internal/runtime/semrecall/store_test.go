package semrecall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndRecall(t *testing.T) {
	s := New(WithEmbeddingFunc(localHashEmbedding))

	require.NoError(t, s.Index("conv", "user", "the deployment pipeline failed on staging"))
	require.NoError(t, s.Index("conv", "assistant", "restarting the staging deployment pipeline"))
	require.NoError(t, s.Index("conv", "user", "what is your favorite ice cream flavor"))

	hits, err := s.Recall("conv", "staging deployment pipeline", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, h, "pipeline")
	}
}

func TestRecallOnEmptyMemory(t *testing.T) {
	s := New(WithEmbeddingFunc(localHashEmbedding))
	hits, err := s.Recall("empty", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoriesAreIsolated(t *testing.T) {
	s := New(WithEmbeddingFunc(localHashEmbedding))
	require.NoError(t, s.Index("a", "user", "alpha content"))
	require.NoError(t, s.Index("b", "user", "beta content"))

	hits, err := s.Recall("a", "alpha", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha content", hits[0])
}
