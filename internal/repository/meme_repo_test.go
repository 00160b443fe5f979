package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/config"
	"github.com/timmy/memeindex/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "memes.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func unitVector(i int) []float32 {
	v := make([]float32, domain.EmbeddingDimensions)
	v[i%domain.EmbeddingDimensions] = 1
	return v
}

func insertMeme(t *testing.T, repo *MemeRepository, path string) *domain.Meme {
	t.Helper()
	m := &domain.Meme{ID: uuid.New().String(), FilePath: path}
	added, err := repo.InsertIfAbsent(context.Background(), m)
	require.NoError(t, err)
	require.True(t, added)
	return m
}

// completeMeme claims id and stores description and embedding for it.
func completeMeme(t *testing.T, repo *MemeRepository, id, description string, embedding []float32) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.Claim(ctx, id)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, id, description, embedding, nil))
}

func TestInsertIfAbsent(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()

	first := insertMeme(t, repo, "/memes/reactions/drake.png")

	dup := &domain.Meme{ID: uuid.New().String(), FilePath: "/memes/reactions/drake.png"}
	added, err := repo.InsertIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, added)

	got, err := repo.GetByFilePath(ctx, "/memes/reactions/drake.png")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "/memes/reactions", got.Folder)
	assert.Equal(t, domain.MemeStatusPending, got.Status)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	m := insertMeme(t, repo, "/memes/a.png")

	claimed, err := repo.Claim(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemeStatusProcessing, claimed.Status)

	_, err = repo.Claim(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.Claim(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteAndMarkError(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	m := insertMeme(t, repo, "/memes/a.png")
	require.NoError(t, repo.MergeMeta(ctx, m.ID, domain.Meta{"width": 10}))

	t.Run("requires a processing meme", func(t *testing.T) {
		err := repo.Complete(ctx, m.ID, "a cat", unitVector(0), nil)
		assert.ErrorIs(t, err, domain.ErrConflict)
		err = repo.MarkError(ctx, m.ID, "boom")
		assert.ErrorIs(t, err, domain.ErrConflict)

		got, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MemeStatusPending, got.Status)
		assert.False(t, got.HasEmbedding())
	})

	_, err := repo.Claim(ctx, m.ID)
	require.NoError(t, err)

	t.Run("rejects wrong dimensions", func(t *testing.T) {
		err := repo.Complete(ctx, m.ID, "a cat", []float32{1, 2, 3}, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("rejects empty description", func(t *testing.T) {
		err := repo.Complete(ctx, m.ID, "  ", unitVector(0), nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("error keeps content empty", func(t *testing.T) {
		require.NoError(t, repo.MarkError(ctx, m.ID, "model offline"))
		got, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MemeStatusError, got.Status)
		assert.Empty(t, got.Description)
		assert.False(t, got.HasEmbedding())
		assert.Equal(t, "model offline", got.Meta["last_error"])
		assert.EqualValues(t, 10, got.Meta["width"])
	})

	t.Run("complete writes everything at once", func(t *testing.T) {
		_, err := repo.Claim(ctx, m.ID)
		require.NoError(t, err)
		err = repo.Complete(ctx, m.ID, "a cat", unitVector(3), domain.Meta{"last_error": nil, "embedded_by": "test"})
		require.NoError(t, err)
		got, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MemeStatusComplete, got.Status)
		assert.Equal(t, "a cat", got.Description)
		require.True(t, got.HasEmbedding())
		assert.Len(t, got.Embedding.Slice(), domain.EmbeddingDimensions)
		assert.NotContains(t, got.Meta, "last_error")
		assert.Equal(t, "test", got.Meta["embedded_by"])
		assert.EqualValues(t, 10, got.Meta["width"])
	})
}

func TestCompleteAfterResetIsConflict(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	m := insertMeme(t, repo, "/memes/a.png")

	_, err := repo.Claim(ctx, m.ID)
	require.NoError(t, err)
	_, err = repo.ResetStatus(ctx, domain.MemeStatusProcessing, domain.MemeStatusPending)
	require.NoError(t, err)

	// The stale run finishes after the reset and must not write.
	err = repo.Complete(ctx, m.ID, "stale", unitVector(0), nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	err = repo.MarkError(ctx, m.ID, "stale")
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemeStatusPending, got.Status)
	assert.Empty(t, got.Description)
	assert.NotContains(t, got.Meta, "last_error")
}

func TestResetStatus(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	a := insertMeme(t, repo, "/memes/a.png")
	b := insertMeme(t, repo, "/memes/b.png")
	insertMeme(t, repo, "/memes/c.png")
	done := insertMeme(t, repo, "/memes/done.png")
	completeMeme(t, repo, done.ID, "a cat", unitVector(0))

	_, err := repo.Claim(ctx, a.ID)
	require.NoError(t, err)
	_, err = repo.Claim(ctx, b.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkError(ctx, b.ID, "boom"))

	n, err := repo.ResetStatus(ctx, domain.MemeStatusProcessing, domain.MemeStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.ResetStatus(ctx, domain.MemeStatusProcessing, domain.MemeStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounts{Pending: 2, Complete: 1, Error: 1, Total: 4}, counts)

	n, err = repo.ResetStatus(ctx, domain.MemeStatusError, domain.MemeStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemeStatusComplete, got.Status)
	assert.Equal(t, "a cat", got.Description)
	assert.True(t, got.HasEmbedding())
}

func TestListFilterAndFolders(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	a := insertMeme(t, repo, "/memes/cats/a.png")
	insertMeme(t, repo, "/memes/cats/b.png")
	insertMeme(t, repo, "/memes/dogs/c.png")

	starred := true
	_, err := repo.ApplyEdit(ctx, a.ID, domain.MemeEdit{Starred: &starred})
	require.NoError(t, err)

	memes, total, err := repo.List(ctx, MemeFilter{Folder: "/memes/cats"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, memes, 2)

	memes, total, err = repo.List(ctx, MemeFilter{Starred: &starred})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, a.ID, memes[0].ID)

	_, _, err = repo.List(ctx, MemeFilter{Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = repo.List(ctx, MemeFilter{Offset: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	folders, err := repo.Folders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/memes/cats", "/memes/dogs"}, folders)
}

func TestApplyEdit(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	m := insertMeme(t, repo, "/memes/a.png")
	require.NoError(t, repo.MergeMeta(ctx, m.ID, domain.Meta{"format": "png"}))

	title := "  Surprised Pikachu  "
	tags := []string{"pokemon", " shock ", "pokemon", ""}
	got, err := repo.ApplyEdit(ctx, m.ID, domain.MemeEdit{
		Title: &title,
		Tags:  &tags,
		Meta:  domain.Meta{"source": "reddit"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Surprised Pikachu", got.Title)
	assert.Equal(t, domain.StringArray{"pokemon", "shock"}, got.Tags)
	assert.Equal(t, "png", got.Meta["format"])
	assert.Equal(t, "reddit", got.Meta["source"])
	assert.Equal(t, "/memes", got.Folder)

	_, err = repo.ApplyEdit(ctx, "missing", domain.MemeEdit{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPageVisitsEveryRow(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	for _, p := range []string{"/m/1.png", "/m/2.png", "/m/3.png", "/m/4.png", "/m/5.png"} {
		insertMeme(t, repo, p)
	}

	seen := map[string]bool{}
	after := ""
	for {
		page, err := repo.ListPage(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			seen[m.FilePath] = true
		}
		after = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)
}

func TestDelete(t *testing.T) {
	repo := NewMemeRepository(newTestDB(t))
	ctx := context.Background()
	m := insertMeme(t, repo, "/memes/a.png")

	require.NoError(t, repo.Delete(ctx, m.ID))
	assert.ErrorIs(t, repo.Delete(ctx, m.ID), domain.ErrNotFound)
}
