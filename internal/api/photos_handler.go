package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"floradrop/internal/repository"
	"floradrop/internal/service"
	"floradrop/internal/uploader/media"
	"floradrop/internal/uploader/validate"

	"github.com/go-chi/chi/v5"
)

// PhotoHandler 提供植物照片相关的 HTTP 端点。
// 服务端用与客户端相同的校验器复核体积、类型与像素尺寸，
// 不信任客户端已经做过的检查。
type PhotoHandler struct {
	service   *service.PhotoService
	validator *validate.Validator
	maxBytes  int64
}

func NewPhotoHandler(s *service.PhotoService, v *validate.Validator, maxBytes int64) *PhotoHandler {
	return &PhotoHandler{service: s, validator: v, maxBytes: maxBytes}
}

func (h *PhotoHandler) RegisterRoutes(r chi.Router) {
	r.Route("/photos", func(r chi.Router) {
		r.Get("/", h.ListPhotos)
		r.Post("/", h.CreatePhoto)
		r.Get("/{id}", h.GetPhoto)
		r.Get("/{id}/download", h.DownloadPhoto)
		r.Delete("/{id}", h.DeletePhoto)
	})
}

const multipartMemoryBudget int64 = 16 * 1024 * 1024

// CreatePhoto 接受 multipart/form-data 上传，复核校验后登记照片。
func (h *PhotoHandler) CreatePhoto(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo field is required")
		return
	}
	defer file.Close()

	sizeBytes, err := determineFileSize(file, header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sizeBytes <= 0 {
		writeError(w, http.StatusBadRequest, "photo must not be empty")
		return
	}

	mimeType, err := resolveMimeType(header, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidate := media.FromReadSeeker(header.Filename, mimeType, sizeBytes, file)

	if outcome := h.validator.Check(candidate); !outcome.OK {
		writeValidationError(w, outcome)
		return
	}

	width, height, outcome := h.validator.Measure(r.Context(), candidate)
	if !outcome.OK {
		writeValidationError(w, outcome)
		return
	}

	if err := rewindFile(file); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to read uploaded photo")
		return
	}

	metadata, err := parseMetadataField(r.FormValue("metadata"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid metadata: "+err.Error())
		return
	}

	record, err := h.service.RegisterPhoto(r.Context(), service.RegisterPhotoInput{
		OriginalName: header.Filename,
		MimeType:     mimeType,
		SizeBytes:    sizeBytes,
		Width:        width,
		Height:       height,
		PlantHint:    optionalString(r.FormValue("plant_hint")),
		Metadata:     metadata,
		Reader:       file,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: record})
}

// ListPhotos 返回照片集合。
func (h *PhotoHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	params := repository.ListPhotosParams{}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			params.Offset = offset
		}
	}

	statuses := r.URL.Query()["status"]
	if len(statuses) == 0 {
		if combined := r.URL.Query().Get("statuses"); combined != "" {
			statuses = strings.Split(combined, ",")
		}
	}
	for _, raw := range statuses {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		params.Statuses = append(params.Statuses, repository.PhotoStatus(trimmed))
	}

	photos, err := h.service.ListPhotos(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: photos})
}

// GetPhoto 返回单张照片的元数据。
func (h *PhotoHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "photo id is required")
		return
	}

	photo, err := h.service.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: photo})
}

// DownloadPhoto 返回照片内容以供下载。
func (h *PhotoHandler) DownloadPhoto(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "photo id is required")
		return
	}

	photo, err := h.service.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	if photo.Status != repository.PhotoStatusStored {
		writeError(w, http.StatusNotFound, "photo not available for download")
		return
	}

	content, err := h.service.GetPhotoContent(r.Context(), photo.StoragePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read photo")
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", photo.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", photo.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(photo.SizeBytes, 10))

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}

// DeletePhoto 软删除指定照片。
func (h *PhotoHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "photo id is required")
		return
	}

	if err := h.service.DeletePhoto(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"id": id, "deleted": true}})
}

func writeValidationError(w http.ResponseWriter, outcome validate.Outcome) {
	status := http.StatusBadRequest
	if outcome.Field == validate.FieldSize {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, errorEnvelope{Error: outcome.Error()})
}

func determineFileSize(file multipart.File, header *multipart.FileHeader) (int64, error) {
	if header != nil && header.Size > 0 {
		return header.Size, nil
	}

	seeker, ok := file.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("cannot determine photo size")
	}

	size, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure photo: %w", err)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind photo: %w", err)
	}

	return size, nil
}

func resolveMimeType(header *multipart.FileHeader, file multipart.File) (string, error) {
	if header != nil {
		if value := header.Header.Get("Content-Type"); value != "" {
			return value, nil
		}
	}

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("detect mime: %w", err)
	}

	if err := rewindFile(file); err != nil {
		return "", err
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}

func rewindFile(file multipart.File) error {
	seeker, ok := file.(io.Seeker)
	if !ok {
		return fmt.Errorf("upload reader is not seekable")
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err
}

func parseMetadataField(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func optionalString(raw string) *string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	return &value
}
