package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/storage"
)

// ScanStatus is the state of the most recent scan.
type ScanStatus string

const (
	ScanStatusIdle     ScanStatus = "idle"
	ScanStatusScanning ScanStatus = "scanning"
	ScanStatusComplete ScanStatus = "complete"
	ScanStatusError    ScanStatus = "error"
)

// ScanProgress is a point-in-time snapshot of a scan.
type ScanProgress struct {
	Status     ScanStatus `json:"status"`
	ScanID     string     `json:"scan_id,omitempty"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	Added      int        `json:"added"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
	Roots      []string   `json:"roots"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Scanner discovers image files under the configured roots and registers
// each new one as a pending meme. Only one scan runs at a time.
type Scanner struct {
	memeRepo     *repository.MemeRepository
	settings     *SettingsService
	storage      storage.Storage
	defaultRoots []string

	mu       sync.Mutex
	progress ScanProgress
}

// NewScanner creates a new scanner. defaultRoots are used when neither the
// caller nor the scan_paths setting provides any.
func NewScanner(
	memeRepo *repository.MemeRepository,
	settings *SettingsService,
	store storage.Storage,
	defaultRoots []string,
) *Scanner {
	return &Scanner{
		memeRepo:     memeRepo,
		settings:     settings,
		storage:      store,
		defaultRoots: cleanRoots(defaultRoots),
		progress:     ScanProgress{Status: ScanStatusIdle, Roots: []string{}},
	}
}

// Progress returns a copy of the current scan progress.
func (s *Scanner) Progress() ScanProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Scanner) snapshot() ScanProgress {
	p := s.progress
	p.Roots = append([]string(nil), s.progress.Roots...)
	return p
}

// Start begins a scan in the background and returns immediately. It fails
// with ErrConflict while another scan is running.
func (s *Scanner) Start(ctx context.Context, roots ...string) (ScanProgress, error) {
	resolved, err := s.resolveRoots(ctx, roots)
	if err != nil {
		return ScanProgress{}, err
	}
	scanID, err := s.begin(resolved)
	if err != nil {
		return ScanProgress{}, err
	}

	bg := logger.SetScanID(context.WithoutCancel(ctx), scanID)
	go func() {
		if _, err := s.run(bg, resolved); err != nil {
			logger.CtxError(bg, "Scan failed: %v", err)
		}
	}()
	return s.Progress(), nil
}

// Scan runs a scan to completion on the calling goroutine.
func (s *Scanner) Scan(ctx context.Context, roots ...string) (ScanProgress, error) {
	resolved, err := s.resolveRoots(ctx, roots)
	if err != nil {
		return ScanProgress{}, err
	}
	scanID, err := s.begin(resolved)
	if err != nil {
		return ScanProgress{}, err
	}
	return s.run(logger.SetScanID(ctx, scanID), resolved)
}

func (s *Scanner) resolveRoots(ctx context.Context, roots []string) ([]string, error) {
	if resolved := cleanRoots(roots); len(resolved) > 0 {
		return resolved, nil
	}
	if s.settings != nil {
		stored, err := s.settings.ScanPaths(ctx)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			return stored, nil
		}
	}
	if len(s.defaultRoots) > 0 {
		return append([]string(nil), s.defaultRoots...), nil
	}
	return nil, fmt.Errorf("%w: no scan roots given or configured", domain.ErrValidation)
}

func (s *Scanner) begin(roots []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.Status == ScanStatusScanning {
		return "", fmt.Errorf("%w: a scan is already running", domain.ErrConflict)
	}
	now := time.Now().UTC()
	s.progress = ScanProgress{
		Status:    ScanStatusScanning,
		ScanID:    uuid.New().String(),
		Roots:     append([]string(nil), roots...),
		StartedAt: &now,
	}
	return s.progress.ScanID, nil
}

func (s *Scanner) update(fn func(p *ScanProgress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.mu.Unlock()
}

func (s *Scanner) finish(err error) ScanProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.progress.FinishedAt = &now
	if err != nil {
		s.progress.Status = ScanStatusError
		s.progress.Error = err.Error()
	} else {
		s.progress.Status = ScanStatusComplete
	}
	return s.snapshot()
}

// run counts matching files first so progress has a total, then walks
// again and inserts the new ones.
func (s *Scanner) run(ctx context.Context, roots []string) (ScanProgress, error) {
	start := time.Now()
	ctx = logger.SetComponent(ctx, "scanner")
	logger.CtxInfo(ctx, "Starting scan: roots=%v", roots)

	total := 0
	for _, root := range roots {
		for _, err := range s.storage.Walk(ctx, root) {
			if err != nil {
				return s.finish(err), err
			}
			total++
		}
	}
	s.update(func(p *ScanProgress) { p.Total = total })

	for _, root := range roots {
		for obj, err := range s.storage.Walk(ctx, root) {
			if err != nil {
				return s.finish(err), err
			}
			added, err := s.register(ctx, obj)
			if err != nil {
				return s.finish(err), err
			}
			s.update(func(p *ScanProgress) {
				p.Processed++
				if added {
					p.Added++
				} else {
					p.Skipped++
				}
			})
		}
	}

	final := s.finish(nil)
	logger.With(logger.Fields{
		"total":   final.Total,
		"added":   final.Added,
		"skipped": final.Skipped,
	}).WithDuration(start).Info(ctx, "Scan completed")
	return final, nil
}

// register inserts obj as a pending meme unless its path is already known.
func (s *Scanner) register(ctx context.Context, obj storage.Object) (bool, error) {
	meme := &domain.Meme{
		ID:       uuid.New().String(),
		FilePath: obj.Path,
		Status:   domain.MemeStatusPending,
		Tags:     domain.StringArray{},
		Meta:     fileMeta(obj),
	}
	added, err := s.memeRepo.InsertIfAbsent(ctx, meme)
	if err != nil || !added {
		return added, err
	}

	if dims, ok := s.readDimensions(ctx, obj.Path); ok {
		if err := s.memeRepo.MergeMeta(ctx, meme.ID, dims); err != nil {
			logger.CtxWarn(ctx, "Failed to store image dimensions: path=%s, error=%v", obj.Path, err)
		}
	}
	return true, nil
}

func (s *Scanner) readDimensions(ctx context.Context, path string) (domain.Meta, bool) {
	rc, err := s.storage.Open(ctx, path)
	if err != nil {
		logger.CtxDebug(ctx, "Cannot open image for dimensions: path=%s, error=%v", path, err)
		return nil, false
	}
	defer rc.Close()
	width, height, err := imageDimensions(rc)
	if err != nil {
		logger.CtxDebug(ctx, "Cannot decode image header: path=%s, error=%v", path, err)
		return nil, false
	}
	return domain.Meta{"width": width, "height": height}, true
}
