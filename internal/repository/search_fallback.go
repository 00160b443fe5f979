package repository

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"github.com/pgvector/pgvector-go"
	"github.com/timmy/memeindex/internal/domain"
)

// SQLite has no vector, regex or full-text operators, so these run the same
// ranking over the rows in Go.

type scoredID struct {
	id    string
	score float64
}

func (r *MemeRepository) nearestInProcess(ctx context.Context, query []float32, limit int) ([]domain.MemeSearchResult, error) {
	scored, err := r.collectScores(ctx, []string{"id", "embedding"}, "embedding IS NOT NULL", func(scan func(...interface{}) error) (scoredID, bool, error) {
		var id string
		var vec pgvector.Vector
		if err := scan(&id, &vec); err != nil {
			return scoredID{}, false, err
		}
		return scoredID{id: id, score: cosine(query, vec.Slice())}, true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	return r.hydrate(ctx, topScores(scored, limit))
}

func (r *MemeRepository) lexicalInProcess(ctx context.Context, pattern string, limit int) ([]domain.Meme, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad token pattern: %v", domain.ErrValidation, err)
	}
	rows, err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Select("id", "title", "file_path").
		Order("created_at ASC, id ASC").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	ids, err := matchingIDs(rows, re, limit)
	if err != nil {
		return nil, err
	}
	return r.GetByIDs(ctx, ids)
}

// rowIterator is the part of *sql.Rows the fallback scans use.
type rowIterator interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// matchingIDs reads (id, title, file_path) rows and returns up to limit ids
// whose lowercased title and path match re. rows is always closed.
func matchingIDs(rows rowIterator, re *regexp.Regexp, limit int) ([]string, error) {
	defer rows.Close()
	var ids []string
	for len(ids) < limit && rows.Next() {
		var id, title, filePath string
		if err := rows.Scan(&id, &title, &filePath); err != nil {
			return nil, fmt.Errorf("failed to scan meme row: %w", err)
		}
		if re.MatchString(strings.ToLower(title + filePath)) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meme rows: %w", err)
	}
	return ids, rows.Close()
}

func (r *MemeRepository) textRankInProcess(ctx context.Context, query string, limit int) ([]domain.MemeSearchResult, error) {
	terms := stemTerms(query)
	lowered := strings.ToLower(query)
	scored, err := r.collectScores(ctx, []string{"id", "title", "file_path", "description"}, "", func(scan func(...interface{}) error) (scoredID, bool, error) {
		var id, title, filePath, description string
		if err := scan(&id, &title, &filePath, &description); err != nil {
			return scoredID{}, false, err
		}
		score := termOverlap(terms, description)
		if strings.Contains(strings.ToLower(title+filePath), lowered) {
			score += substringBonus
		}
		return scoredID{id: id, score: score}, score > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run text search: %w", err)
	}
	return r.hydrate(ctx, topScores(scored, limit))
}

// collectScores streams the selected columns of every row matching where
// through score and keeps the rows it accepts.
func (r *MemeRepository) collectScores(
	ctx context.Context,
	columns []string,
	where string,
	score func(scan func(...interface{}) error) (scoredID, bool, error),
) ([]scoredID, error) {
	q := r.db.WithContext(ctx).Model(&domain.Meme{}).Select(columns)
	if where != "" {
		q = q.Where(where)
	}
	rows, err := q.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scoredID
	for rows.Next() {
		s, keep, err := score(rows.Scan)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}

func (r *MemeRepository) hydrate(ctx context.Context, scored []scoredID) ([]domain.MemeSearchResult, error) {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.id
	}
	memes, err := r.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(scored))
	for _, s := range scored {
		scores[s.id] = s.score
	}
	results := make([]domain.MemeSearchResult, 0, len(memes))
	for _, m := range memes {
		results = append(results, domain.MemeSearchResult{Meme: m, Score: scores[m.ID]})
	}
	return results, nil
}

func topScores(scored []scoredID, limit int) []scoredID {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].id < scored[j].id
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "she": {}, "that": {}, "the": {}, "their": {}, "they": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

// stemTerms splits text into lowercase words, drops stop words and returns
// the distinct English stems.
func stemTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		stem, err := snowball.Stem(w, "english", true)
		if err != nil || stem == "" {
			stem = w
		}
		if _, ok := seen[stem]; ok {
			continue
		}
		seen[stem] = struct{}{}
		terms = append(terms, stem)
	}
	return terms
}

// termOverlap is the share of query stems present in the document, scaled
// down to the range ts_rank usually produces.
func termOverlap(queryTerms []string, document string) float64 {
	if len(queryTerms) == 0 || document == "" {
		return 0
	}
	docTerms := make(map[string]struct{})
	for _, t := range stemTerms(document) {
		docTerms[t] = struct{}{}
	}
	matched := 0
	for _, t := range queryTerms {
		if _, ok := docTerms[t]; ok {
			matched++
		}
	}
	return 0.1 * float64(matched) / float64(len(queryTerms))
}
