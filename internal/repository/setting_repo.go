package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/memeindex/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository reads and writes the key/value settings table.
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get returns the setting stored under key.
func (r *SettingRepository) Get(ctx context.Context, key string) (*domain.Setting, error) {
	var s domain.Setting
	if err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error; err != nil {
		return nil, translateError(err, "setting %q", key)
	}
	return &s, nil
}

// Put creates or overwrites the setting stored under key.
func (r *SettingRepository) Put(ctx context.Context, key, value string) (*domain.Setting, error) {
	s := domain.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store setting %q: %w", key, err)
	}
	return &s, nil
}

// List returns every setting ordered by key.
func (r *SettingRepository) List(ctx context.Context) ([]domain.Setting, error) {
	var settings []domain.Setting
	if err := r.db.WithContext(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
