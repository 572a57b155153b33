package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plate_detections (
    id            TEXT PRIMARY KEY,
    input_path    TEXT NOT NULL,
    source        TEXT,
    total_plates  INTEGER NOT NULL DEFAULT 0,
    plate_numbers TEXT NOT NULL DEFAULT '[]',
    provinces     TEXT NOT NULL DEFAULT '[]',
    document      TEXT,
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plate_detections_created_at ON plate_detections (created_at);
`

type sqliteDetectionRepo struct {
	db *sql.DB
}

// NewSQLiteDetectionRepo stores detections in a SQLite file. Text arrays are kept as JSON.
func NewSQLiteDetectionRepo(ctx context.Context, db *sql.DB) (DetectionRepo, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &sqliteDetectionRepo{db: db}, nil
}

func (r *sqliteDetectionRepo) Create(ctx context.Context, d *models.PlateDetection) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	plates, err := json.Marshal(nonNil(d.PlateNumbers))
	if err != nil {
		return err
	}
	provinces, err := json.Marshal(nonNil(d.Provinces))
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO plate_detections
            (id, input_path, source, total_plates, plate_numbers, provinces, document, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, d.ID.String(), d.InputPath, d.Source, d.TotalPlates, string(plates), string(provinces),
		string(d.Document), d.CreatedAt.UTC())
	return err
}

func (r *sqliteDetectionRepo) GetByID(ctx context.Context, id string) (*models.PlateDetection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetectionID, err)
	}

	row := r.db.QueryRowContext(ctx, `
        SELECT id, input_path, source, total_plates, plate_numbers, provinces, document, created_at
        FROM plate_detections WHERE id = ?
    `, id)
	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDetectionNotFound
	}
	return d, err
}

func (r *sqliteDetectionRepo) List(ctx context.Context, limit int) ([]models.PlateDetection, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, input_path, source, total_plates, plate_numbers, provinces, document, created_at
        FROM plate_detections ORDER BY created_at DESC LIMIT ?
    `, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.PlateDetection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *d)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDetection(row rowScanner) (*models.PlateDetection, error) {
	var (
		d                 models.PlateDetection
		id                string
		source, document  sql.NullString
		plates, provinces string
	)
	if err := row.Scan(&id, &d.InputPath, &source, &d.TotalPlates, &plates, &provinces, &document, &d.CreatedAt); err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt detection id %q: %w", id, err)
	}
	d.ID = uid
	d.Source = source.String
	if document.Valid {
		d.Document = []byte(document.String)
	}

	var list []string
	if err := json.Unmarshal([]byte(plates), &list); err != nil {
		return nil, fmt.Errorf("corrupt plate_numbers: %w", err)
	}
	d.PlateNumbers = nonNil(list)

	list = nil
	if err := json.Unmarshal([]byte(provinces), &list); err != nil {
		return nil, fmt.Errorf("corrupt provinces: %w", err)
	}
	d.Provinces = nonNil(list)

	return &d, nil
}

func nonNil(list []string) pq.StringArray {
	if list == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(list)
}
