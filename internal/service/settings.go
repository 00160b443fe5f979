package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/repository"
)

// SettingsService exposes the key/value settings store.
type SettingsService struct {
	repo *repository.SettingRepository
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo *repository.SettingRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

func (s *SettingsService) Get(ctx context.Context, key string) (*domain.Setting, error) {
	return s.repo.Get(ctx, key)
}

func (s *SettingsService) List(ctx context.Context) ([]domain.Setting, error) {
	return s.repo.List(ctx)
}

// Put stores value under key. scan_paths must be a JSON array of strings.
func (s *SettingsService) Put(ctx context.Context, key, value string) (*domain.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: setting key is required", domain.ErrValidation)
	}
	if key == domain.SettingScanPaths {
		if _, err := parseScanPaths(value); err != nil {
			return nil, err
		}
	}
	return s.repo.Put(ctx, key, value)
}

// ScanPaths returns the roots stored in the scan_paths setting, or nil when
// the setting is absent.
func (s *SettingsService) ScanPaths(ctx context.Context) ([]string, error) {
	setting, err := s.repo.Get(ctx, domain.SettingScanPaths)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseScanPaths(setting.Value)
}

func parseScanPaths(value string) ([]string, error) {
	var paths []string
	if err := json.Unmarshal([]byte(value), &paths); err != nil {
		return nil, fmt.Errorf("%w: scan_paths must be a JSON array of strings: %v", domain.ErrValidation, err)
	}
	return cleanRoots(paths), nil
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
