package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingDimensions is the fixed length of every stored embedding.
const EmbeddingDimensions = 384

// MemeStatus represents the processing status of a meme record.
// Values include MemeStatusPending, MemeStatusProcessing, MemeStatusComplete, and MemeStatusError.
type MemeStatus string

const (
	MemeStatusPending    MemeStatus = "pending"
	MemeStatusProcessing MemeStatus = "processing"
	MemeStatusComplete   MemeStatus = "complete"
	MemeStatusError      MemeStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s MemeStatus) Valid() bool {
	switch s {
	case MemeStatusPending, MemeStatusProcessing, MemeStatusComplete, MemeStatusError:
		return true
	}
	return false
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Normalize trims, drops empty entries and removes duplicates while keeping order.
func (a StringArray) Normalize() StringArray {
	seen := make(map[string]struct{}, len(a))
	out := make(StringArray, 0, len(a))
	for _, tag := range a {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Meta is an open key/value bag stored as a JSON object.
type Meta map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *Meta) Scan(value interface{}) error {
	if value == nil {
		*m = Meta{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Meta")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// Merge returns a copy of m with every key of patch applied on top.
// A nil value in patch removes the key.
func (m Meta) Merge(patch Meta) Meta {
	merged := make(Meta, len(m)+len(patch))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Meme represents one indexed image file.
type Meme struct {
	ID          string           `gorm:"type:text;primaryKey" json:"id"`
	FilePath    string           `gorm:"type:text;not null;uniqueIndex:idx_memes_file_path" json:"file_path"`
	Folder      string           `gorm:"type:text;index:idx_memes_folder" json:"folder"`
	Title       string           `gorm:"type:text" json:"title,omitempty"`
	Description string           `gorm:"type:text" json:"description,omitempty"`
	Embedding   *pgvector.Vector `gorm:"type:vector(384)" json:"-"`
	Tags        StringArray      `gorm:"type:text" json:"tags"`
	Starred     bool             `gorm:"default:false;index:idx_memes_starred" json:"starred"`
	Status      MemeStatus       `gorm:"type:text;index:idx_memes_status;default:pending" json:"status"`
	Meta        Meta             `gorm:"type:text" json:"meta"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Meme.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Meme) TableName() string {
	return "memes"
}

// BeforeSave keeps the derived folder column in sync with file_path.
func (m *Meme) BeforeSave(tx *gorm.DB) error {
	if m.FilePath != "" {
		m.Folder = FolderOf(m.FilePath)
	}
	return nil
}

// HasEmbedding reports whether the meme carries a stored vector.
func (m *Meme) HasEmbedding() bool {
	return m.Embedding != nil && len(m.Embedding.Slice()) > 0
}

// FileName returns the final path segment of the meme's file path.
func (m *Meme) FileName() string {
	return FileNameOf(m.FilePath)
}

// FolderOf strips the final segment from a slash or backslash separated path.
func FolderOf(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	if idx == 0 {
		return "/"
	}
	return p[:idx]
}

// FileNameOf returns the final segment of a slash or backslash separated path.
func FileNameOf(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

// MemeSearchResult represents a search result with a relevance score.
type MemeSearchResult struct {
	Meme
	Score float64 `json:"score"`
}

// MemeEdit is a partial user edit. Nil fields are left unchanged and Meta
// is merged into the existing bag.
type MemeEdit struct {
	Title   *string     `json:"title,omitempty"`
	Tags    *[]string   `json:"tags,omitempty"`
	Starred *bool       `json:"starred,omitempty"`
	Status  *MemeStatus `json:"status,omitempty"`
	Meta    Meta        `json:"meta,omitempty"`
}

// Empty reports whether the edit changes nothing.
func (e MemeEdit) Empty() bool {
	return e.Title == nil && e.Tags == nil && e.Starred == nil && e.Status == nil && len(e.Meta) == 0
}

// StatusCounts holds the number of memes per status.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Complete   int64 `json:"complete"`
	Error      int64 `json:"error"`
	Total      int64 `json:"total"`
}
