package repository

import (
	"fmt"

	"github.com/timmy/memeindex/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// MemeFilter selects memes for listing. Zero values mean "any".
type MemeFilter struct {
	Status  domain.MemeStatus
	Starred *bool
	Folder  string
	Limit   int
	Offset  int
}

// Validate normalizes limits and rejects impossible filters.
func (f *MemeFilter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, f.Status)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", domain.ErrValidation)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", domain.ErrValidation)
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return nil
}

func (f MemeFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Starred != nil {
		q = q.Where("starred = ?", *f.Starred)
	}
	if f.Folder != "" {
		q = q.Where("folder = ?", f.Folder)
	}
	return q
}
