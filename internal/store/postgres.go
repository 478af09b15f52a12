package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

const imageSchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	original_name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'processed',
	error TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL DEFAULT '',
	operations JSONB NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS images_owner_uploaded_idx ON images (owner_id, uploaded_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS images_file_name_idx ON images (file_name) WHERE file_name <> '';
`

const imageColumns = `id, owner_id, original_name, status, error, file_name, storage_path, operations, size_bytes, uploaded_at, updated_at`

type PostgresImageStore struct {
	db *sql.DB
}

func NewPostgresImageStore(ctx context.Context, dsn string) (*PostgresImageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresImageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresImageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, imageSchemaSQL); err != nil {
		return fmt.Errorf("ensure images schema: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresImageStore) Create(ctx context.Context, rec domain.ImageRecord) error {
	operationsJSON, err := json.Marshal(rec.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO images (`+imageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID,
		rec.OwnerID,
		rec.OriginalName,
		string(rec.Status),
		rec.Error,
		rec.FileName,
		rec.StoragePath,
		operationsJSON,
		rec.SizeBytes,
		rec.UploadedAt,
		updatedAt(rec),
	)
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) Update(ctx context.Context, rec domain.ImageRecord) error {
	operationsJSON, err := json.Marshal(rec.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE images
		 SET owner_id = $2, original_name = $3, status = $4, error = $5, file_name = $6,
		     storage_path = $7, operations = $8, size_bytes = $9, uploaded_at = $10, updated_at = $11
		 WHERE id = $1`,
		rec.ID,
		rec.OwnerID,
		rec.OriginalName,
		string(rec.Status),
		rec.Error,
		rec.FileName,
		rec.StoragePath,
		operationsJSON,
		rec.SizeBytes,
		rec.UploadedAt,
		updatedAt(rec),
	)
	if err != nil {
		return fmt.Errorf("update image record: %w", err)
	}
	return expectOneRow(res, "update image record")
}

func (s *PostgresImageStore) UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) (domain.ImageRecord, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE images
		 SET status = $1, error = $2, updated_at = $3
		 WHERE id = $4`,
		string(status),
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("update image status: %w", err)
	}
	if err := expectOneRow(res, "update image status"); err != nil {
		return domain.ImageRecord{}, err
	}

	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if !ok {
		return domain.ImageRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *PostgresImageStore) Get(ctx context.Context, id string) (domain.ImageRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	rec, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ImageRecord{}, false, nil
		}
		return domain.ImageRecord{}, false, fmt.Errorf("query image record: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresImageStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.ImageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+imageColumns+`
		 FROM images
		 WHERE owner_id = $1
		 ORDER BY uploaded_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query owner images: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ImageRecord, 0)
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owner images: %w", err)
	}
	return out, nil
}

func (s *PostgresImageStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image record: %w", err)
	}
	return expectOneRow(res, "delete image record")
}

func (s *PostgresImageStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete owner images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete owner images: %w", err)
	}
	return int(n), nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func updatedAt(rec domain.ImageRecord) time.Time {
	if rec.UpdatedAt.IsZero() {
		return rec.UploadedAt
	}
	return rec.UpdatedAt
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (domain.ImageRecord, error) {
	var (
		rec            domain.ImageRecord
		status         string
		operationsJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.OriginalName,
		&status,
		&rec.Error,
		&rec.FileName,
		&rec.StoragePath,
		&operationsJSON,
		&rec.SizeBytes,
		&rec.UploadedAt,
		&rec.UpdatedAt,
	); err != nil {
		return domain.ImageRecord{}, err
	}

	if err := json.Unmarshal(operationsJSON, &rec.Operations); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("unmarshal operations: %w", err)
	}
	rec.Status = domain.Status(status)
	rec.UploadedAt = rec.UploadedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
