package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"floradrop/internal/repository"
	"floradrop/internal/storage"
	"github.com/google/uuid"
)

// PhotoService 封装植物照片元数据的业务流程。
type PhotoService struct {
	repo  repository.PhotoRepository
	store storage.Storage
}

func NewPhotoService(repo repository.PhotoRepository, store storage.Storage) *PhotoService {
	return &PhotoService{repo: repo, store: store}
}

// RegisterPhotoInput 描述登记一张照片所需的信息。
type RegisterPhotoInput struct {
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Width        int
	Height       int
	PlantHint    *string
	Metadata     map[string]any
	Reader       io.Reader
}

// RegisterPhoto 把照片内容写入存储并创建元数据记录。
// 存储写入失败时不会留下元数据。
func (s *PhotoService) RegisterPhoto(ctx context.Context, input RegisterPhotoInput) (*repository.PhotoRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("photo service not initialized")
	}
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storedName := id + path.Ext(input.OriginalName)
	storagePath := storedKey(storedName)

	now := time.Now().UTC()
	record := &repository.PhotoRecord{
		ID:           id,
		OriginalName: input.OriginalName,
		StoredName:   storedName,
		MimeType:     input.MimeType,
		SizeBytes:    input.SizeBytes,
		Width:        input.Width,
		Height:       input.Height,
		StoragePath:  storagePath,
		PlantHint:    input.PlantHint,
		Status:       repository.PhotoStatusPending,
		Metadata:     normalizeMetadata(input.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if s.store != nil && input.Reader != nil {
		loc, err := s.store.Write(ctx, storagePath, input.MimeType, input.Reader)
		if err != nil {
			return nil, fmt.Errorf("write storage: %w", err)
		}
		record.URL = loc.URL
		record.Status = repository.PhotoStatusStored
	}

	return s.repo.Create(ctx, record)
}

// ListPhotos 以分页形式列出照片。
func (s *PhotoService) ListPhotos(ctx context.Context, params repository.ListPhotosParams) ([]repository.PhotoRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("photo service not initialized")
	}
	return s.repo.List(ctx, params)
}

// GetPhoto 返回单张照片的元数据。
func (s *PhotoService) GetPhoto(ctx context.Context, id string) (*repository.PhotoRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("photo service not initialized")
	}
	return s.repo.GetByID(ctx, id)
}

// GetPhotoContent 打开照片在存储中的内容。
func (s *PhotoService) GetPhotoContent(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("photo storage not initialized")
	}
	return s.store.Read(ctx, storagePath)
}

// DeletePhoto 软删除指定照片。
func (s *PhotoService) DeletePhoto(ctx context.Context, id string) error {
	if s == nil || s.repo == nil {
		return errors.New("photo service not initialized")
	}
	return s.repo.UpdateStatus(ctx, id, repository.PhotoStatusDeleted)
}

func validateRegisterInput(input RegisterPhotoInput) error {
	switch {
	case input.OriginalName == "":
		return fmt.Errorf("original_name is required")
	case input.MimeType == "":
		return fmt.Errorf("mime_type is required")
	case input.SizeBytes <= 0:
		return fmt.Errorf("size_bytes must be positive")
	default:
		return nil
	}
}

func storedKey(storedName string) string {
	return path.Join("photos", storedName)
}

func normalizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
