package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/storage"
)

const cleanupPageSize = 200

// Embedder turns text into a normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// VectorIndex is an optional nearest-neighbour mirror of stored embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, vector []float32, payload repository.VectorPayload) error
	Delete(ctx context.Context, memeID string) error
	Search(ctx context.Context, vector []float32, topK int) ([]repository.VectorHit, error)
}

// BatchStatus is the state of the most recent batch run.
type BatchStatus string

const (
	BatchStatusIdle     BatchStatus = "idle"
	BatchStatusRunning  BatchStatus = "running"
	BatchStatusComplete BatchStatus = "complete"
	BatchStatusError    BatchStatus = "error"
)

// BatchResult summarizes one batch run.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// BatchProgress is a point-in-time snapshot of a batch run.
type BatchProgress struct {
	BatchResult
	Status     BatchStatus `json:"status"`
	BatchID    string      `json:"batch_id,omitempty"`
	Current    string      `json:"current,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// CleanupResult summarizes one cleanup sweep.
type CleanupResult struct {
	Checked int `json:"checked"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// ProcessorConfig holds configuration for the processor.
type ProcessorConfig struct {
	MaxBatchSize int
}

// Processor drives memes through pending, processing, complete and error.
type Processor struct {
	memeRepo     *repository.MemeRepository
	storage      storage.Storage
	describer    Describer
	embedder     Embedder
	index        VectorIndex
	maxBatchSize int

	mu    sync.Mutex
	batch BatchProgress
}

// NewProcessor creates a new processor. index may be nil.
func NewProcessor(
	memeRepo *repository.MemeRepository,
	store storage.Storage,
	describer Describer,
	embedder Embedder,
	index VectorIndex,
	cfg *ProcessorConfig,
) *Processor {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Processor{
		memeRepo:     memeRepo,
		storage:      store,
		describer:    describer,
		embedder:     embedder,
		index:        index,
		maxBatchSize: maxBatch,
		batch:        BatchProgress{Status: BatchStatusIdle},
	}
}

// Generate describes and embeds one meme. It fails with ErrNotFound for an
// unknown id and ErrConflict when the meme is already processing. Any
// later failure marks the meme as error and is returned. A run whose claim
// was reset while in flight writes nothing and returns ErrConflict.
func (p *Processor) Generate(ctx context.Context, id string) (*domain.Meme, error) {
	ctx = logger.SetMemeID(logger.SetComponent(ctx, "processor"), id)

	meme, err := p.memeRepo.Claim(ctx, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := p.process(ctx, meme); err != nil {
		if markErr := p.memeRepo.MarkError(context.WithoutCancel(ctx), id, err.Error()); markErr != nil {
			logger.CtxError(ctx, "Failed to record processing error: %v", markErr)
		}
		logger.FromContext(ctx).WithError(err).Warn("Processing failed")
		return nil, err
	}
	logger.With(nil).WithDuration(start).Info(ctx, "Meme processed")
	return p.memeRepo.GetByID(ctx, id)
}

func (p *Processor) process(ctx context.Context, meme *domain.Meme) error {
	data, err := p.readImage(ctx, meme.FilePath)
	if err != nil {
		return err
	}
	format, _ := storage.ImageFormat(meme.FilePath)

	description, err := p.describer.Describe(ctx, data, format)
	if err != nil {
		return upstreamError("describe", err)
	}

	embedding, err := p.embedder.Embed(ctx, buildEmbeddingText(meme.FilePath, description))
	if err != nil {
		return upstreamError("embed", err)
	}

	patch := domain.Meta{
		"described_by":  p.describer.GetModel(),
		"embedded_by":   p.embedder.GetModel(),
		"processed_at":  time.Now().UTC().Format(time.RFC3339),
		"last_error":    nil,
		"last_error_at": nil,
	}
	if err := p.memeRepo.Complete(ctx, meme.ID, description, embedding, patch); err != nil {
		return err
	}

	if p.index != nil {
		payload := repository.VectorPayload{MemeID: meme.ID, FilePath: meme.FilePath, Title: meme.Title}
		if err := p.index.Upsert(ctx, embedding, payload); err != nil {
			logger.CtxWarn(ctx, "Failed to mirror embedding to vector index: %v", err)
		}
	}
	return nil
}

func (p *Processor) readImage(ctx context.Context, path string) ([]byte, error) {
	rc, err := p.storage.Open(ctx, path)
	if err != nil {
		return nil, ioError("open", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ioError("read", path, err)
	}
	return data, nil
}

func ioError(op, path string, err error) error {
	if errors.Is(err, domain.ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrIO, op, path, err)
}

// upstreamError keeps a classified error as is and tags anything else as
// an upstream failure.
func upstreamError(op string, err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, op, err)
}

// BatchProgress returns a copy of the current batch progress.
func (p *Processor) BatchProgress() BatchProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batch
}

// GenerateBatch processes up to the configured batch size of pending
// memes, oldest first, one at a time. Individual failures are counted and
// skipped. The run ignores cancellation of ctx.
func (p *Processor) GenerateBatch(ctx context.Context) (BatchResult, error) {
	batchID, err := p.beginBatch()
	if err != nil {
		return BatchResult{}, err
	}
	ctx = logger.SetBatchID(logger.SetComponent(context.WithoutCancel(ctx), "processor"), batchID)
	start := time.Now()

	health := p.describer.Health(ctx)
	if !health.Available {
		err := fmt.Errorf("%w: description model %s unreachable: %s", domain.ErrUpstreamUnavailable, health.Model, health.Error)
		p.finishBatch(err)
		return BatchResult{}, err
	}

	pending, err := p.memeRepo.ListPending(ctx, p.maxBatchSize)
	if err != nil {
		p.finishBatch(err)
		return BatchResult{}, err
	}
	p.updateBatch(func(b *BatchProgress) { b.Total = len(pending) })

	for _, meme := range pending {
		p.updateBatch(func(b *BatchProgress) { b.Current = meme.ID })
		_, genErr := p.Generate(ctx, meme.ID)
		p.updateBatch(func(b *BatchProgress) {
			if genErr != nil {
				b.Failed++
			} else {
				b.Processed++
			}
		})
	}

	final := p.finishBatch(nil)
	logger.With(logger.Fields{
		"processed": final.Processed,
		"failed":    final.Failed,
		"total":     final.Total,
	}).WithDuration(start).Info(ctx, "Batch completed")
	return final.BatchResult, nil
}

func (p *Processor) beginBatch() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.batch.Status == BatchStatusRunning {
		return "", fmt.Errorf("%w: a batch is already running", domain.ErrConflict)
	}
	now := time.Now().UTC()
	p.batch = BatchProgress{
		Status:    BatchStatusRunning,
		BatchID:   uuid.New().String(),
		StartedAt: &now,
	}
	return p.batch.BatchID, nil
}

func (p *Processor) updateBatch(fn func(b *BatchProgress)) {
	p.mu.Lock()
	fn(&p.batch)
	p.mu.Unlock()
}

func (p *Processor) finishBatch(err error) BatchProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.batch.FinishedAt = &now
	p.batch.Current = ""
	if err != nil {
		p.batch.Status = BatchStatusError
		p.batch.Error = err.Error()
	} else {
		p.batch.Status = BatchStatusComplete
	}
	return p.batch
}

// ResetProcessing returns every processing meme to pending.
func (p *Processor) ResetProcessing(ctx context.Context) (int64, error) {
	return p.memeRepo.ResetStatus(ctx, domain.MemeStatusProcessing, domain.MemeStatusPending)
}

// ResetErrors returns every errored meme to pending.
func (p *Processor) ResetErrors(ctx context.Context) (int64, error) {
	return p.memeRepo.ResetStatus(ctx, domain.MemeStatusError, domain.MemeStatusPending)
}

// Cleanup deletes memes whose file no longer exists. Files that cannot be
// checked for other reasons are counted as failed and kept.
func (p *Processor) Cleanup(ctx context.Context) (CleanupResult, error) {
	ctx = logger.SetComponent(ctx, "cleanup")
	start := time.Now()
	var result CleanupResult

	after := ""
	for {
		page, err := p.memeRepo.ListPage(ctx, after, cleanupPageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		for _, meme := range page {
			result.Checked++
			_, statErr := p.storage.Stat(ctx, meme.FilePath)
			switch {
			case statErr == nil:
			case errors.Is(statErr, fs.ErrNotExist):
				if err := p.remove(ctx, meme.ID); err != nil {
					logger.CtxWarn(ctx, "Failed to delete missing meme: id=%s, error=%v", meme.ID, err)
					result.Failed++
					continue
				}
				result.Deleted++
			default:
				logger.CtxWarn(ctx, "Cannot check file: path=%s, error=%v", meme.FilePath, statErr)
				result.Failed++
			}
		}
		after = page[len(page)-1].ID
	}

	logger.With(logger.Fields{
		"checked": result.Checked,
		"deleted": result.Deleted,
		"failed":  result.Failed,
	}).WithDuration(start).Info(ctx, "Cleanup completed")
	return result, nil
}

// remove deletes a meme from the store and the vector index.
func (p *Processor) remove(ctx context.Context, id string) error {
	if err := p.memeRepo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if p.index != nil {
		if err := p.index.Delete(ctx, id); err != nil {
			logger.CtxWarn(ctx, "Failed to delete vector: id=%s, error=%v", id, err)
		}
	}
	return nil
}
