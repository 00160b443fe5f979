package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/timmy/memeindex/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemeRepository handles meme data operations.
type MemeRepository struct {
	db *gorm.DB
}

// NewMemeRepository creates a new MemeRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *MemeRepository: repository instance bound to db.
func NewMemeRepository(db *gorm.DB) *MemeRepository {
	return &MemeRepository{db: db}
}

// InsertIfAbsent inserts meme unless a row with the same file_path exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - meme: meme record to persist; ID must be set.
//
// Returns:
//   - bool: true when a new row was written.
//   - error: non-nil if the insert fails.
func (r *MemeRepository) InsertIfAbsent(ctx context.Context, meme *domain.Meme) (bool, error) {
	if meme.Status == "" {
		meme.Status = domain.MemeStatusPending
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_path"}},
		DoNothing: true,
	}).Create(meme)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert meme %s: %w", meme.FilePath, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetByID retrieves a meme by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme ID.
//
// Returns:
//   - *domain.Meme: meme record if found.
//   - error: wraps domain.ErrNotFound when no row matches.
func (r *MemeRepository) GetByID(ctx context.Context, id string) (*domain.Meme, error) {
	var meme domain.Meme
	if err := r.db.WithContext(ctx).First(&meme, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "meme %s", id)
	}
	return &meme, nil
}

// GetByFilePath retrieves a meme by its unique file path.
func (r *MemeRepository) GetByFilePath(ctx context.Context, filePath string) (*domain.Meme, error) {
	var meme domain.Meme
	if err := r.db.WithContext(ctx).First(&meme, "file_path = ?", filePath).Error; err != nil {
		return nil, translateError(err, "meme at %s", filePath)
	}
	return &meme, nil
}

// GetByIDs retrieves memes by a list of IDs, in the order given.
// Unknown IDs are skipped.
func (r *MemeRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Meme, error) {
	if len(ids) == 0 {
		return []domain.Meme{}, nil
	}
	var memes []domain.Meme
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("failed to get memes by IDs: %w", err)
	}
	byID := make(map[string]domain.Meme, len(memes))
	for _, m := range memes {
		byID[m.ID] = m
	}
	ordered := make([]domain.Meme, 0, len(memes))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
		}
	}
	return ordered, nil
}

// List returns one page of memes matching filter, newest first, and the
// total number of matches.
func (r *MemeRepository) List(ctx context.Context, filter MemeFilter) ([]domain.Meme, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	var total int64
	if err := filter.apply(r.db.WithContext(ctx).Model(&domain.Meme{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count memes: %w", err)
	}
	var memes []domain.Meme
	if err := filter.apply(r.db.WithContext(ctx)).
		Order("created_at DESC, id").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&memes).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list memes: %w", err)
	}
	return memes, total, nil
}

// ListPending returns up to limit pending memes, oldest first.
func (r *MemeRepository) ListPending(ctx context.Context, limit int) ([]domain.Meme, error) {
	var memes []domain.Meme
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.MemeStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending memes: %w", err)
	}
	return memes, nil
}

// ListPage walks the whole table in id order. Pass the last id of the
// previous page as afterID, or "" for the first page.
func (r *MemeRepository) ListPage(ctx context.Context, afterID string, limit int) ([]domain.Meme, error) {
	var memes []domain.Meme
	if err := r.db.WithContext(ctx).
		Select("id", "file_path", "folder", "title", "status").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("failed to page memes: %w", err)
	}
	return memes, nil
}

// Claim moves a meme into processing. It fails with ErrConflict when the
// meme is already processing and with ErrNotFound when it does not exist.
func (r *MemeRepository) Claim(ctx context.Context, id string) (*domain.Meme, error) {
	var claimed domain.Meme
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Meme{}).
			Where("id = ? AND status <> ?", id, domain.MemeStatusProcessing).
			Update("status", domain.MemeStatusProcessing)
		if res.Error != nil {
			return fmt.Errorf("failed to claim meme %s: %w", id, res.Error)
		}
		if err := tx.First(&claimed, "id = ?", id).Error; err != nil {
			return translateError(err, "meme %s", id)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: meme %s is already processing", domain.ErrConflict, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Complete stores the description and embedding and marks the meme
// complete in a single UPDATE. metaPatch is merged into meta. The meme must
// still be processing; otherwise ErrConflict is returned and nothing changes.
func (r *MemeRepository) Complete(ctx context.Context, id, description string, embedding []float32, metaPatch domain.Meta) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description must not be empty", domain.ErrValidation)
	}
	if len(embedding) != domain.EmbeddingDimensions {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", domain.ErrValidation, len(embedding), domain.EmbeddingDimensions)
	}
	vec := pgvector.NewVector(embedding)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockProcessing(tx, id)
		if err != nil {
			return err
		}
		return updateProcessing(tx, id, map[string]interface{}{
			"description": description,
			"embedding":   vec,
			"status":      domain.MemeStatusComplete,
			"meta":        current.Meta.Merge(metaPatch),
		})
	})
}

// MarkError records a processing failure. Description and embedding are
// left as they are. Like Complete, it only applies to a processing meme.
func (r *MemeRepository) MarkError(ctx context.Context, id, message string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockProcessing(tx, id)
		if err != nil {
			return err
		}
		meta := current.Meta.Merge(domain.Meta{
			"last_error":    message,
			"last_error_at": time.Now().UTC().Format(time.RFC3339),
		})
		return updateProcessing(tx, id, map[string]interface{}{
			"status": domain.MemeStatusError,
			"meta":   meta,
		})
	})
}

// MergeMeta merges patch into the meme's meta bag.
func (r *MemeRepository) MergeMeta(ctx context.Context, id string, patch domain.Meta) error {
	if len(patch) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockForUpdate(tx, id)
		if err != nil {
			return err
		}
		return tx.Model(&domain.Meme{}).Where("id = ?", id).
			Update("meta", current.Meta.Merge(patch)).Error
	})
}

// ApplyEdit applies a user edit and returns the updated meme.
func (r *MemeRepository) ApplyEdit(ctx context.Context, id string, edit domain.MemeEdit) (*domain.Meme, error) {
	var updated domain.Meme
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockForUpdate(tx, id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if edit.Title != nil {
			updates["title"] = strings.TrimSpace(*edit.Title)
		}
		if edit.Tags != nil {
			updates["tags"] = domain.StringArray(*edit.Tags).Normalize()
		}
		if edit.Starred != nil {
			updates["starred"] = *edit.Starred
		}
		if edit.Status != nil {
			updates["status"] = *edit.Status
		}
		if len(edit.Meta) > 0 {
			updates["meta"] = current.Meta.Merge(edit.Meta)
		}
		if len(updates) > 0 {
			if err := tx.Model(&domain.Meme{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update meme %s: %w", id, err)
			}
		}
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ResetStatus moves every meme in status from to status to with one bulk
// UPDATE and returns how many rows changed.
func (r *MemeRepository) ResetStatus(ctx context.Context, from, to domain.MemeStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("status = ?", from).
		Update("status", to)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset %s memes: %w", from, res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes a meme by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme ID to delete.
//
// Returns:
//   - error: wraps domain.ErrNotFound when no row matched.
func (r *MemeRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Meme{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete meme %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: meme %s", domain.ErrNotFound, id)
	}
	return nil
}

// Folders returns the distinct non-empty folders, sorted.
func (r *MemeRepository) Folders(ctx context.Context) ([]string, error) {
	var folders []string
	if err := r.db.WithContext(ctx).
		Model(&domain.Meme{}).
		Where("folder <> ''").
		Distinct("folder").
		Order("folder").
		Pluck("folder", &folders).Error; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// CountByStatus counts memes per status.
func (r *MemeRepository) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	var rows []struct {
		Status domain.MemeStatus
		Count  int64
	}
	var counts domain.StatusCounts
	if err := r.db.WithContext(ctx).
		Model(&domain.Meme{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return counts, fmt.Errorf("failed to count memes: %w", err)
	}
	for _, row := range rows {
		switch row.Status {
		case domain.MemeStatusPending:
			counts.Pending = row.Count
		case domain.MemeStatusProcessing:
			counts.Processing = row.Count
		case domain.MemeStatusComplete:
			counts.Complete = row.Count
		case domain.MemeStatusError:
			counts.Error = row.Count
		}
		counts.Total += row.Count
	}
	return counts, nil
}

// lockForUpdate loads the columns needed for a read-modify-write. Postgres
// takes a row lock; SQLite transactions already serialize writers.
// lockProcessing locks the row and fails with ErrConflict unless the meme
// is still processing, e.g. after a reset handed it to another claim.
func lockProcessing(tx *gorm.DB, id string) (*domain.Meme, error) {
	m, err := lockForUpdate(tx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MemeStatusProcessing {
		return nil, fmt.Errorf("%w: meme %s is %s, not processing", domain.ErrConflict, id, m.Status)
	}
	return m, nil
}

func updateProcessing(tx *gorm.DB, id string, updates map[string]interface{}) error {
	res := tx.Model(&domain.Meme{}).
		Where("id = ? AND status = ?", id, domain.MemeStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update meme %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: meme %s is no longer processing", domain.ErrConflict, id)
	}
	return nil
}

func lockForUpdate(tx *gorm.DB, id string) (*domain.Meme, error) {
	q := tx.Select("id", "status", "meta")
	if isPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m domain.Meme
	if err := q.First(&m, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "meme %s", id)
	}
	return &m, nil
}
