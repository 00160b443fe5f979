package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/timmy/memeindex/internal/domain"
)

// substringBonus is added to the text rank when the whole query appears in
// the title or path.
const substringBonus = 0.5

// NearestByEmbedding returns up to limit memes with an embedding, ordered by
// cosine similarity to query (highest first). Score is the similarity.
func (r *MemeRepository) NearestByEmbedding(ctx context.Context, query []float32, limit int) ([]domain.MemeSearchResult, error) {
	if limit <= 0 {
		return []domain.MemeSearchResult{}, nil
	}
	if !isPostgres(r.db) {
		return r.nearestInProcess(ctx, query, limit)
	}

	vec := pgvector.NewVector(query)
	var results []domain.MemeSearchResult
	err := r.db.WithContext(ctx).Raw(
		`SELECT *, 1 - (embedding <=> CAST(? AS vector)) AS score
		FROM memes
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> CAST(? AS vector)
		LIMIT ?`,
		vec, vec, limit,
	).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	return results, nil
}

// LexicalMatches returns up to limit memes whose lowercase title||file_path
// matches any of tokens. Tokens are matched literally.
func (r *MemeRepository) LexicalMatches(ctx context.Context, tokens []string, limit int) ([]domain.Meme, error) {
	pattern := TokenPattern(tokens)
	if pattern == "" || limit <= 0 {
		return []domain.Meme{}, nil
	}
	if !isPostgres(r.db) {
		return r.lexicalInProcess(ctx, pattern, limit)
	}

	var memes []domain.Meme
	if err := r.db.WithContext(ctx).
		Where("lower(coalesce(title, '') || file_path) ~ ?", pattern).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	return memes, nil
}

// TextRank ranks memes by full-text relevance of their description to
// query, plus a bonus when the query appears in title||file_path. Only
// positive scores are returned, best first.
func (r *MemeRepository) TextRank(ctx context.Context, query string, limit int) ([]domain.MemeSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []domain.MemeSearchResult{}, nil
	}
	if !isPostgres(r.db) {
		return r.textRankInProcess(ctx, query, limit)
	}

	like := "%" + escapeLike(strings.ToLower(query)) + "%"
	var results []domain.MemeSearchResult
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM (
			SELECT memes.*,
				ts_rank(to_tsvector('english', coalesce(description, '')), plainto_tsquery('english', ?))
				+ CASE WHEN lower(coalesce(title, '') || file_path) LIKE ? THEN ? ELSE 0 END AS score
			FROM memes
		) ranked
		WHERE score > 0
		ORDER BY score DESC, id
		LIMIT ?`,
		query, like, substringBonus, limit,
	).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to run text search: %w", err)
	}
	return results, nil
}

// TokenPattern builds the alternation of the quoted lowercase tokens.
func TokenPattern(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(tok))
	}
	return strings.Join(quoted, "|")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
