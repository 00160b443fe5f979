package domain

import "time"

// Well-known setting keys.
const (
	SettingScanPaths      = "scan_paths"
	SettingVLMModel       = "vlm_model"
	SettingEmbeddingModel = "embedding_model"
)

// Setting is one row of the generic key/value settings store.
type Setting struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
