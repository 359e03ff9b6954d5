package repository

import (
	"context"
	"time"
)

// PhotoStatus 描述照片上传生命周期。
type PhotoStatus string

const (
	PhotoStatusPending PhotoStatus = "pending"
	PhotoStatusStored  PhotoStatus = "stored"
	PhotoStatusFailed  PhotoStatus = "failed"
	PhotoStatusDeleted PhotoStatus = "deleted"
)

// PhotoRecord 代表数据库中的植物照片元数据。
type PhotoRecord struct {
	ID           string         `json:"id"`
	OriginalName string         `json:"original_name"`
	StoredName   string         `json:"stored_name"`
	MimeType     string         `json:"mime_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	StoragePath  string         `json:"storage_path"`
	URL          string         `json:"url"`
	PlantHint    *string        `json:"plant_hint,omitempty"`
	Status       PhotoStatus    `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ListPhotosParams 用于分页检索照片。
type ListPhotosParams struct {
	Statuses []PhotoStatus
	Limit    int
	Offset   int
}

// PhotoRepository 统一照片元数据持久层接口。
type PhotoRepository interface {
	Create(ctx context.Context, record *PhotoRecord) (*PhotoRecord, error)
	GetByID(ctx context.Context, id string) (*PhotoRecord, error)
	List(ctx context.Context, params ListPhotosParams) ([]PhotoRecord, error)
	UpdateStatus(ctx context.Context, id string, status PhotoStatus) error
}
