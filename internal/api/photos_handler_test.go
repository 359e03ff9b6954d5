package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"floradrop/internal/repository"
	"floradrop/internal/service"
	"floradrop/internal/storage"
	"floradrop/internal/uploader/validate"
)

type handlerRepo struct {
	createRecord *repository.PhotoRecord
	listResult   []repository.PhotoRecord
}

func (m *handlerRepo) Create(ctx context.Context, record *repository.PhotoRecord) (*repository.PhotoRecord, error) {
	m.createRecord = record
	return record, nil
}

func (m *handlerRepo) GetByID(ctx context.Context, id string) (*repository.PhotoRecord, error) {
	return nil, repository.ErrNotFound
}

func (m *handlerRepo) List(ctx context.Context, params repository.ListPhotosParams) ([]repository.PhotoRecord, error) {
	return m.listResult, nil
}

func (m *handlerRepo) UpdateStatus(ctx context.Context, id string, status repository.PhotoStatus) error {
	return nil
}

type handlerStore struct {
	calls int
}

func (s *handlerStore) Write(ctx context.Context, key, contentType string, r io.Reader) (storage.Location, error) {
	_, _ = io.ReadAll(r)
	s.calls++
	return storage.Location{Path: key, URL: "http://files.local/" + key}, nil
}

func (s *handlerStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("mock content"))), nil
}

func testValidator(maxBytes int64) *validate.Validator {
	return validate.New(validate.Config{
		MaxSizeBytes:     maxBytes,
		AllowedMimeTypes: validate.AllowTypes("image/jpeg", "image/png"),
	}, nil, time.Second)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPhotoHandler_CreatePhoto(t *testing.T) {
	repo := &handlerRepo{}
	store := &handlerStore{}
	svc := service.NewPhotoService(repo, store)
	handler := NewPhotoHandler(svc, testValidator(1024*1024), 1024*1024)

	content := pngBytes(t, 4, 3)
	req := newMultipartRequest(t, map[string]string{
		"metadata":   `{"env":"test"}`,
		"plant_hint": "monstera",
	}, "photo", "leaf.png", "image/png", content)
	rec := httptest.NewRecorder()

	handler.CreatePhoto(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.createRecord == nil {
		t.Fatal("expected repository Create to be invoked")
	}
	if repo.createRecord.OriginalName != "leaf.png" {
		t.Fatalf("unexpected original name: %s", repo.createRecord.OriginalName)
	}
	if repo.createRecord.SizeBytes != int64(len(content)) {
		t.Fatalf("unexpected size recorded: %d", repo.createRecord.SizeBytes)
	}
	if repo.createRecord.Width != 4 || repo.createRecord.Height != 3 {
		t.Fatalf("unexpected dimensions: %dx%d", repo.createRecord.Width, repo.createRecord.Height)
	}
	if repo.createRecord.PlantHint == nil || *repo.createRecord.PlantHint != "monstera" {
		t.Fatalf("expected plant hint, got %+v", repo.createRecord.PlantHint)
	}
	if repo.createRecord.Metadata["env"] != "test" {
		t.Fatalf("expected metadata env, got %+v", repo.createRecord.Metadata)
	}
	if store.calls != 1 {
		t.Fatalf("expected store to be called once, got %d", store.calls)
	}
}

func TestPhotoHandler_CreatePhoto_RejectsWrongType(t *testing.T) {
	svc := service.NewPhotoService(&handlerRepo{}, &handlerStore{})
	handler := NewPhotoHandler(svc, testValidator(1024*1024), 1024*1024)

	req := newMultipartRequest(t, nil, "photo", "doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	rec := httptest.NewRecorder()

	handler.CreatePhoto(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPhotoHandler_CreatePhoto_RejectsOversize(t *testing.T) {
	repo := &handlerRepo{}
	svc := service.NewPhotoService(repo, &handlerStore{})
	handler := NewPhotoHandler(svc, testValidator(16), 1024*1024)

	req := newMultipartRequest(t, nil, "photo", "big.png", "image/png", pngBytes(t, 8, 8))
	rec := httptest.NewRecorder()

	handler.CreatePhoto(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if repo.createRecord != nil {
		t.Fatal("oversize upload must not reach the repository")
	}
}

func TestPhotoHandler_ListPhotos(t *testing.T) {
	repo := &handlerRepo{
		listResult: []repository.PhotoRecord{{
			ID:           "1",
			OriginalName: "a.jpg",
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}},
	}
	svc := service.NewPhotoService(repo, nil)
	handler := NewPhotoHandler(svc, testValidator(1024), 1024)

	req := httptest.NewRequest(http.MethodGet, "/photos?limit=1", nil)
	rec := httptest.NewRecorder()

	handler.ListPhotos(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data []repository.PhotoRecord `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Data))
	}
}

func newMultipartRequest(t *testing.T, fields map[string]string, fieldName, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/photos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
