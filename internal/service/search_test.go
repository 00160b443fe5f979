package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/repository"
)

// completeMeme registers path and stores description and embedding for it.
func completeMeme(t *testing.T, env *testEnv, path, description string, embedding []float32) *domain.Meme {
	t.Helper()
	m := registerFile(t, env, path)
	_, err := env.memeRepo.Claim(context.Background(), m.ID)
	require.NoError(t, err)
	require.NoError(t, env.memeRepo.Complete(context.Background(), m.ID, description, embedding, nil))
	return m
}

func TestSearchEmptyQueryMakesNoCalls(t *testing.T) {
	env := newTestEnv(t)
	embedder := &fakeEmbedder{}
	s := NewSearchService(env.memeRepo, embedder, nil, nil)

	for _, mode := range []string{"", SearchModeVector, SearchModeText, "fuzzy"} {
		resp, err := s.Search(context.Background(), &SearchRequest{Query: "   ", Mode: mode})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	}
	assert.Zero(t, embedder.calls.Load())
}

func TestSearchUnknownMode(t *testing.T) {
	env := newTestEnv(t)
	s := NewSearchService(env.memeRepo, &fakeEmbedder{}, nil, nil)

	_, err := s.Search(context.Background(), &SearchRequest{Query: "cat", Mode: "fuzzy"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSearchFilenameBoostBeatsHigherSimilarity(t *testing.T) {
	env := newTestEnv(t)
	drake := completeMeme(t, env, "/data/memes/drake.jpg", "Two-panel comparison meme, person approving/disapproving.", axis(0))
	other := completeMeme(t, env, "/data/memes/unrelated.png", "A cat on a sofa.", axis(1))

	// The query sits much closer to the unrelated item.
	query := blend(0, 0.3, 1, 0.95)
	s := NewSearchService(env.memeRepo, &fakeEmbedder{embed: func(string) ([]float32, error) { return query, nil }}, nil, nil)

	resp, err := s.Search(context.Background(), &SearchRequest{Query: "drake", Mode: SearchModeVector})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, drake.ID, resp.Results[0].ID)
	assert.Equal(t, other.ID, resp.Results[1].ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearchIncludesLexicalOnlyMatches(t *testing.T) {
	env := newTestEnv(t)
	pending := registerFile(t, env, "/data/memes/distracted_boyfriend.png")
	completeMeme(t, env, "/data/memes/x.png", "something", axis(1))

	s := NewSearchService(env.memeRepo, &fakeEmbedder{embed: func(string) ([]float32, error) { return axis(2), nil }}, nil, nil)

	resp, err := s.Search(context.Background(), &SearchRequest{Query: "Distracted Girlfriend"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, pending.ID, resp.Results[0].ID)
	// One of two tokens matched: 0.3 + 0.4 * 1/2.
	assert.InDelta(t, 0.5, resp.Results[0].Score, 1e-9)
}

func TestSearchLimit(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		completeMeme(t, env, filepath.Join(dir, string(rune('a'+i))+".png"), "meme", axis(i))
	}
	s := NewSearchService(env.memeRepo, &fakeEmbedder{}, nil, &SearchConfig{DefaultLimit: 2, MaxLimit: 3})

	resp, err := s.Search(context.Background(), &SearchRequest{Query: "meme"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	resp, err = s.Search(context.Background(), &SearchRequest{Query: "meme", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearchEmbedFailureIsUpstream(t *testing.T) {
	env := newTestEnv(t)
	s := NewSearchService(env.memeRepo, &fakeEmbedder{embed: func(string) ([]float32, error) {
		return nil, errors.New("dial tcp: refused")
	}}, nil, nil)

	_, err := s.Search(context.Background(), &SearchRequest{Query: "cat"})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSearchTextMode(t *testing.T) {
	env := newTestEnv(t)
	dog := completeMeme(t, env, "/memes/x.png", "Two dogs run across a field", axis(0))
	completeMeme(t, env, "/memes/y.png", "A cat sleeping", axis(1))
	embedder := &fakeEmbedder{}
	s := NewSearchService(env.memeRepo, embedder, nil, nil)

	resp, err := s.Search(context.Background(), &SearchRequest{Query: "running dog", Mode: "TEXT"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, dog.ID, resp.Results[0].ID)
	assert.Equal(t, SearchModeText, resp.Mode)
	assert.Zero(t, embedder.calls.Load())
}

func TestSearchUsesIndexAndFallsBack(t *testing.T) {
	env := newTestEnv(t)
	a := completeMeme(t, env, "/memes/a.png", "first", axis(0))
	b := completeMeme(t, env, "/memes/b.png", "second", axis(1))
	stale := registerFile(t, env, "/memes/stale.png")

	index := &fakeIndex{hits: []repository.VectorHit{
		{MemeID: b.ID, Score: 0.9},
		{MemeID: stale.ID, Score: 0.8},
		{MemeID: "deleted", Score: 0.7},
	}}
	s := NewSearchService(env.memeRepo, &fakeEmbedder{}, index, nil)

	resp, err := s.Search(context.Background(), &SearchRequest{Query: "zzz"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, b.ID, resp.Results[0].ID)
	assert.InDelta(t, 0.9, resp.Results[0].Score, 1e-6)

	index.err = errors.New("qdrant unavailable")
	resp, err = s.Search(context.Background(), &SearchRequest{Query: "zzz"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, a.ID, resp.Results[0].ID)
}

func TestNameBoost(t *testing.T) {
	tests := []struct {
		name     string
		tokens   []string
		filePath string
		title    string
		want     float64
	}{
		{"no tokens", nil, "/a/drake.png", "", 0},
		{"no match", []string{"cat"}, "/a/drake.png", "", 0},
		{"full match", []string{"drake"}, "/a/Drake.png", "", 0.7},
		{"half match in title", []string{"hotline", "cat"}, "/a/x.png", "Hotline Bling", 0.5},
		{"folder is ignored", []string{"memes"}, "/memes/x.png", "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, nameBoost(tc.tokens, tc.filePath, tc.title), 1e-9)
		})
	}
}
