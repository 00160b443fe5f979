package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/repository"
)

// Search modes.
const (
	SearchModeVector = "vector"
	SearchModeText   = "text"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100

	boostBase  = 0.3
	boostRange = 0.4
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query string `json:"query" form:"q"`
	Mode  string `json:"mode" form:"mode"`
	Limit int    `json:"limit" form:"limit"`
}

// SearchResponse represents a search response.
type SearchResponse struct {
	Results []domain.MemeSearchResult `json:"results"`
	Total   int                       `json:"total"`
	Query   string                    `json:"query"`
	Mode    string                    `json:"mode"`
}

// SearchService ranks memes against a free-text query.
type SearchService struct {
	memeRepo     *repository.MemeRepository
	embedder     Embedder
	index        VectorIndex
	defaultLimit int
	maxLimit     int
}

// NewSearchService creates a new search service.
// Parameters:
//   - memeRepo: repository for meme records and store-side ranking.
//   - embedder: embedding client used for the query vector.
//   - index: optional vector index; nil uses the store for nearest neighbours.
//   - cfg: search limits; nil uses 20 and 100.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	memeRepo *repository.MemeRepository,
	embedder Embedder,
	index VectorIndex,
	cfg *SearchConfig,
) *SearchService {
	s := &SearchService{
		memeRepo:     memeRepo,
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultSearchLimit,
		maxLimit:     maxSearchLimit,
	}
	if cfg != nil {
		if cfg.DefaultLimit > 0 {
			s.defaultLimit = cfg.DefaultLimit
		}
		if cfg.MaxLimit > 0 {
			s.maxLimit = cfg.MaxLimit
		}
	}
	return s
}

// Search runs a vector or text search.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: query, mode (vector when empty) and limit (default when <= 0).
//
// Returns:
//   - *SearchResponse: ranked results, best first.
//   - error: ErrValidation for an unknown mode with a non-empty query,
//     ErrUpstreamUnavailable when the query cannot be embedded.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = SearchModeVector
	}
	query := strings.TrimSpace(req.Query)
	resp := &SearchResponse{Results: []domain.MemeSearchResult{}, Query: query, Mode: mode}
	// An empty query is answered before anything else, whatever the mode.
	if query == "" {
		return resp, nil
	}
	if mode != SearchModeVector && mode != SearchModeText {
		return nil, fmt.Errorf("%w: unknown search mode %q", domain.ErrValidation, req.Mode)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	ctx = logger.SetComponent(ctx, "search")
	start := time.Now()

	var results []domain.MemeSearchResult
	var err error
	if mode == SearchModeText {
		results, err = s.memeRepo.TextRank(ctx, query, limit)
	} else {
		results, err = s.vectorSearch(ctx, query, limit)
	}
	if err != nil {
		return nil, err
	}

	resp.Results = results
	resp.Total = len(results)
	logger.With(logger.Fields{
		"mode":  mode,
		"limit": limit,
	}).WithCount(len(results)).WithDuration(start).Debug(ctx, "Search completed: query=%q", query)
	return resp, nil
}

func (s *SearchService) vectorSearch(ctx context.Context, query string, limit int) ([]domain.MemeSearchResult, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, upstreamError("embed query", err)
	}

	nearest, err := s.nearest(ctx, vector, 3*limit)
	if err != nil {
		return nil, err
	}

	tokens := queryTokens(query)
	lexical, err := s.memeRepo.LexicalMatches(ctx, tokens, 2*limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(nearest)+len(lexical))
	merged := make([]domain.MemeSearchResult, 0, len(nearest)+len(lexical))
	for _, r := range nearest {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}
	for _, m := range lexical {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, domain.MemeSearchResult{Meme: m})
	}

	for i := range merged {
		merged[i].Score += nameBoost(tokens, merged[i].FilePath, merged[i].Title)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// nearest asks the vector index when one is configured and falls back to
// the store when the index fails.
func (s *SearchService) nearest(ctx context.Context, vector []float32, limit int) ([]domain.MemeSearchResult, error) {
	if s.index != nil {
		results, err := s.nearestFromIndex(ctx, vector, limit)
		if err == nil {
			return results, nil
		}
		logger.CtxWarn(ctx, "Vector index search failed, using store: %v", err)
	}
	return s.memeRepo.NearestByEmbedding(ctx, vector, limit)
}

func (s *SearchService) nearestFromIndex(ctx context.Context, vector []float32, limit int) ([]domain.MemeSearchResult, error) {
	hits, err := s.index.Search(ctx, vector, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.MemeID)
	}
	memes, err := s.memeRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Meme, len(memes))
	for _, m := range memes {
		byID[m.ID] = m
	}

	results := make([]domain.MemeSearchResult, 0, len(hits))
	for _, hit := range hits {
		m, ok := byID[hit.MemeID]
		// The index can lag behind deletes and resets.
		if !ok || !m.HasEmbedding() {
			continue
		}
		results = append(results, domain.MemeSearchResult{Meme: m, Score: float64(hit.Score)})
	}
	return results, nil
}

// nameBoost rewards memes whose file name or title contains query tokens.
// It is 0 with no match, otherwise between 0.3 and 0.7.
func nameBoost(tokens []string, filePath, title string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(domain.FileNameOf(filePath) + " " + title)
	matches := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	return boostBase + boostRange*float64(matches)/float64(len(tokens))
}
