package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/storage"
)

// MemeService handles reads, user edits, deletes and uploads.
type MemeService struct {
	memeRepo  *repository.MemeRepository
	storage   storage.Storage
	index     VectorIndex
	uploadDir string
}

// NewMemeService creates a new meme service. index may be nil.
func NewMemeService(
	memeRepo *repository.MemeRepository,
	store storage.Storage,
	index VectorIndex,
	uploadDir string,
) *MemeService {
	return &MemeService{
		memeRepo:  memeRepo,
		storage:   store,
		index:     index,
		uploadDir: uploadDir,
	}
}

// Get returns one meme.
func (s *MemeService) Get(ctx context.Context, id string) (*domain.Meme, error) {
	return s.memeRepo.GetByID(ctx, id)
}

// List returns one page of memes and the total matching filter.
func (s *MemeService) List(ctx context.Context, filter repository.MemeFilter) ([]domain.Meme, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	return s.memeRepo.List(ctx, filter)
}

// Edit applies a user edit. Users may only move status back to pending;
// every other status is owned by the processor.
func (s *MemeService) Edit(ctx context.Context, id string, edit domain.MemeEdit) (*domain.Meme, error) {
	if edit.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}
	if edit.Status != nil && *edit.Status != domain.MemeStatusPending {
		return nil, fmt.Errorf("%w: status can only be set to %s", domain.ErrValidation, domain.MemeStatusPending)
	}
	return s.memeRepo.ApplyEdit(ctx, id, edit)
}

// Delete removes a meme record. The image file is left in place.
func (s *MemeService) Delete(ctx context.Context, id string) error {
	if err := s.memeRepo.Delete(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			logger.CtxWarn(ctx, "Failed to delete vector: id=%s, error=%v", id, err)
		}
	}
	return nil
}

// Folders returns the distinct folders that hold memes.
func (s *MemeService) Folders(ctx context.Context) ([]string, error) {
	return s.memeRepo.Folders(ctx)
}

// Stats returns meme counts per status.
func (s *MemeService) Stats(ctx context.Context) (domain.StatusCounts, error) {
	return s.memeRepo.CountByStatus(ctx)
}

// Upload stores an image in the upload directory and registers it as a
// pending meme.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fileName: client-supplied file name; only its base name is used.
//   - r: image content.
//
// Returns:
//   - *domain.Meme: the new pending meme.
//   - error: ErrValidation for an unsupported format, ErrConflict when a
//     file with the same name was already uploaded.
func (s *MemeService) Upload(ctx context.Context, fileName string, r io.Reader) (*domain.Meme, error) {
	name := sanitizeFileName(fileName)
	format, ok := storage.ImageFormat(name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported image type %q", domain.ErrValidation, filepath.Ext(name))
	}
	if s.uploadDir == "" {
		return nil, fmt.Errorf("%w: upload directory is not configured", domain.ErrValidation)
	}

	dest := joinStoragePath(s.uploadDir, name)
	if _, err := s.storage.Stat(ctx, dest); err == nil {
		return nil, fmt.Errorf("%w: %s already exists", domain.ErrConflict, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %w", domain.ErrIO, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrValidation)
	}
	// Save refuses to replace a file a concurrent upload wrote after Stat.
	if err := s.storage.Save(ctx, dest, bytes.NewReader(data), int64(len(data)), storage.ContentType(format)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s already exists", domain.ErrConflict, dest)
		}
		return nil, err
	}

	meta := fileMeta(storage.Object{Path: dest, Size: int64(len(data)), ModTime: time.Now(), Format: format})
	if width, height, err := imageDimensions(bytes.NewReader(data)); err == nil {
		meta["width"] = width
		meta["height"] = height
	}
	meme := &domain.Meme{
		ID:       uuid.New().String(),
		FilePath: dest,
		Status:   domain.MemeStatusPending,
		Tags:     domain.StringArray{},
		Meta:     meta,
	}
	added, err := s.memeRepo.InsertIfAbsent(ctx, meme)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("%w: %s is already indexed", domain.ErrConflict, dest)
	}

	logger.With(nil).WithSize(len(data)).Info(ctx, "Meme uploaded: id=%s, path=%s", meme.ID, dest)
	return s.memeRepo.GetByID(ctx, meme.ID)
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" || name == "/" {
		return ""
	}
	return name
}

func joinStoragePath(dir, name string) string {
	if strings.HasPrefix(dir, storage.S3Scheme) {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return filepath.Join(dir, name)
}
