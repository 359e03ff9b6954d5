package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"floradrop/internal/repository"
	"floradrop/internal/storage"
)

type mockPhotoRepo struct {
	createRecord *repository.PhotoRecord
	createErr    error
	updatedID    string
	updatedTo    repository.PhotoStatus
	listParams   repository.ListPhotosParams
	listResult   []repository.PhotoRecord
	listErr      error
}

func (m *mockPhotoRepo) Create(ctx context.Context, record *repository.PhotoRecord) (*repository.PhotoRecord, error) {
	m.createRecord = record
	if m.createErr != nil {
		return nil, m.createErr
	}
	return record, nil
}

func (m *mockPhotoRepo) GetByID(ctx context.Context, id string) (*repository.PhotoRecord, error) {
	return nil, repository.ErrNotFound
}

func (m *mockPhotoRepo) List(ctx context.Context, params repository.ListPhotosParams) ([]repository.PhotoRecord, error) {
	m.listParams = params
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockPhotoRepo) UpdateStatus(ctx context.Context, id string, status repository.PhotoStatus) error {
	m.updatedID = id
	m.updatedTo = status
	return nil
}

type mockStore struct {
	key         string
	contentType string
	data        []byte
	err         error
}

func (s *mockStore) Write(ctx context.Context, key, contentType string, r io.Reader) (storage.Location, error) {
	s.contentType = contentType
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	s.key = key
	s.data = body
	if s.err != nil {
		return storage.Location{}, s.err
	}
	return storage.Location{Path: key, URL: "http://files.local/" + key}, nil
}

func (s *mockStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestPhotoService_RegisterPhoto_WritesStorageAndRepository(t *testing.T) {
	repo := &mockPhotoRepo{}
	store := &mockStore{}
	svc := NewPhotoService(repo, store)

	payload := []byte("jpeg bytes")
	record, err := svc.RegisterPhoto(context.Background(), RegisterPhotoInput{
		OriginalName: "monstera.jpg",
		MimeType:     "image/jpeg",
		SizeBytes:    int64(len(payload)),
		Width:        800,
		Height:       600,
		Reader:       bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("RegisterPhoto returned error: %v", err)
	}
	if record == nil {
		t.Fatalf("expected record, got nil")
	}
	if repo.createRecord == nil {
		t.Fatalf("repository Create was not called")
	}
	if record.Status != repository.PhotoStatusStored {
		t.Fatalf("expected stored status, got %s", record.Status)
	}
	if !strings.HasPrefix(store.key, "photos/") {
		t.Fatalf("unexpected storage key: %s", store.key)
	}
	if !strings.HasSuffix(record.StoredName, ".jpg") {
		t.Fatalf("stored name should keep extension, got %s", record.StoredName)
	}
	if record.URL == "" {
		t.Fatal("expected storage URL on record")
	}
	if store.contentType != "image/jpeg" {
		t.Fatalf("expected content type to reach storage, got %q", store.contentType)
	}
	if string(store.data) != string(payload) {
		t.Fatalf("expected store data %q, got %q", payload, store.data)
	}
}

func TestPhotoService_RegisterPhoto_Validation(t *testing.T) {
	svc := NewPhotoService(&mockPhotoRepo{}, &mockStore{})
	_, err := svc.RegisterPhoto(context.Background(), RegisterPhotoInput{})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestPhotoService_RegisterPhoto_StorageError(t *testing.T) {
	repo := &mockPhotoRepo{}
	store := &mockStore{err: errors.New("boom")}
	svc := NewPhotoService(repo, store)

	_, err := svc.RegisterPhoto(context.Background(), RegisterPhotoInput{
		OriginalName: "boom.jpg",
		MimeType:     "image/jpeg",
		SizeBytes:    4,
		Reader:       bytes.NewReader([]byte("data")),
	})
	if err == nil {
		t.Fatal("expected storage error, got nil")
	}
	if repo.createRecord != nil {
		t.Fatal("repository should not be called when storage fails")
	}
}

func TestPhotoService_ListPhotos_DelegatesToRepo(t *testing.T) {
	repo := &mockPhotoRepo{
		listResult: []repository.PhotoRecord{{ID: "1", OriginalName: "a.jpg"}},
	}
	svc := NewPhotoService(repo, nil)

	params := repository.ListPhotosParams{Limit: 5}
	records, err := svc.ListPhotos(context.Background(), params)
	if err != nil {
		t.Fatalf("ListPhotos returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if repo.listParams.Limit != params.Limit {
		t.Fatalf("repository received wrong params: %+v", repo.listParams)
	}
}

func TestPhotoService_DeletePhoto_SoftDeletes(t *testing.T) {
	repo := &mockPhotoRepo{}
	svc := NewPhotoService(repo, nil)

	if err := svc.DeletePhoto(context.Background(), "p1"); err != nil {
		t.Fatalf("DeletePhoto returned error: %v", err)
	}
	if repo.updatedID != "p1" || repo.updatedTo != repository.PhotoStatusDeleted {
		t.Fatalf("expected soft delete of p1, got %s -> %s", repo.updatedID, repo.updatedTo)
	}
}
