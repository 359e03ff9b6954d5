package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"floradrop/internal/repository"
)

// NewPhotoRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewPhotoRepository(db *sql.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// PhotoRepository 实现 repository.PhotoRepository。
type PhotoRepository struct {
	db *sql.DB
}

var photoSelectColumns = []string{
	"id",
	"original_name",
	"stored_name",
	"mime_type",
	"size_bytes",
	"width",
	"height",
	"storage_path",
	"url",
	"plant_hint",
	"status",
	"metadata",
	"created_at",
	"updated_at",
}

var photoInsertColumns = []string{
	"id",
	"original_name",
	"stored_name",
	"mime_type",
	"size_bytes",
	"width",
	"height",
	"storage_path",
	"url",
	"plant_hint",
	"status",
	"metadata",
}

// Create 插入照片记录并返回数据库生成字段（如时间戳）。
func (r *PhotoRepository) Create(ctx context.Context, record *repository.PhotoRecord) (*repository.PhotoRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("photo record is nil")
	}

	metadataBytes, err := encodeMetadata(record.Metadata)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(photoInsertColumns))
	for i := range photoInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO photos (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(photoInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(photoSelectColumns, ","),
	)

	var plantHint sql.NullString
	if record.PlantHint != nil {
		plantHint = sql.NullString{String: *record.PlantHint, Valid: true}
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.OriginalName,
		record.StoredName,
		record.MimeType,
		record.SizeBytes,
		record.Width,
		record.Height,
		record.StoragePath,
		record.URL,
		plantHint,
		record.Status,
		metadataBytes,
	)

	return scanPhotoRecord(row)
}

// GetByID 通过主键查询照片记录。
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*repository.PhotoRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM photos WHERE id = $1`, strings.Join(photoSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, id)
	photo, err := scanPhotoRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return photo, nil
}

// List 支持按状态过滤并分页。
func (r *PhotoRepository) List(ctx context.Context, params repository.ListPhotosParams) ([]repository.PhotoRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := make([]any, 0, len(params.Statuses)+2)
	whereClause := ""
	if len(params.Statuses) > 0 {
		placeholders := make([]string, len(params.Statuses))
		for i, status := range params.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		whereClause = "WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	} else {
		// 默认排除已删除的照片
		args = append(args, repository.PhotoStatusDeleted)
		whereClause = fmt.Sprintf("WHERE status != $%d", len(args))
	}

	args = append(args, limit)
	limitPlaceholder := fmt.Sprintf("$%d", len(args))
	tail := fmt.Sprintf("ORDER BY created_at DESC LIMIT %s", limitPlaceholder)

	if params.Offset > 0 {
		args = append(args, params.Offset)
		offsetPlaceholder := fmt.Sprintf("$%d", len(args))
		tail += fmt.Sprintf(" OFFSET %s", offsetPlaceholder)
	}

	query := fmt.Sprintf(`SELECT %s FROM photos %s %s`, strings.Join(photoSelectColumns, ","), whereClause, tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.PhotoRecord
	for rows.Next() {
		rec, err := scanPhotoRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateStatus 更新照片状态。
func (r *PhotoRepository) UpdateStatus(ctx context.Context, id string, status repository.PhotoStatus) error {
	query := `UPDATE photos SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhotoRecord(rs rowScanner) (*repository.PhotoRecord, error) {
	var (
		rec       repository.PhotoRecord
		plantHint sql.NullString
		metadata  []byte
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.OriginalName,
		&rec.StoredName,
		&rec.MimeType,
		&rec.SizeBytes,
		&rec.Width,
		&rec.Height,
		&rec.StoragePath,
		&rec.URL,
		&plantHint,
		&rec.Status,
		&metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if plantHint.Valid {
		rec.PlantHint = &plantHint.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, err
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	return &rec, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}
