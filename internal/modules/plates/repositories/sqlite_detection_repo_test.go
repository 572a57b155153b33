package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/modules/plates/models"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/database"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func newTestRepo(t *testing.T) DetectionRepo {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLiteDetectionRepo(context.Background(), db.DB)
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestSQLiteDetectionRepoRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := &models.PlateDetection{
		InputPath:    "input/car1.jpg",
		Source:       "api",
		TotalPlates:  2,
		PlateNumbers: pq.StringArray{"กข 1234", "ABC1234"},
		Provinces:    pq.StringArray{"กรุงเทพมหานคร", ""},
		Document:     []byte(`{"total_plates":2}`),
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == uuid.Nil {
		t.Fatal("Create should assign an ID")
	}

	got, err := repo.GetByID(ctx, rec.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if got.InputPath != rec.InputPath || got.TotalPlates != 2 || got.Source != "api" {
		t.Errorf("got %+v", got)
	}
	if len(got.PlateNumbers) != 2 || got.PlateNumbers[0] != "กข 1234" {
		t.Errorf("plate numbers: got %v, want %v", got.PlateNumbers, rec.PlateNumbers)
	}
	if got.Provinces[0] != "กรุงเทพมหานคร" {
		t.Errorf("provinces: got %v", got.Provinces)
	}
	if string(got.Document) != `{"total_plates":2}` {
		t.Errorf("document: got %s", got.Document)
	}
}

func TestSQLiteDetectionRepoNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrDetectionNotFound) {
		t.Errorf("got %v, want %v", err, ErrDetectionNotFound)
	}

	if _, err := repo.GetByID(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidDetectionID) {
		t.Errorf("got %v, want %v", err, ErrInvalidDetectionID)
	}
}

func TestSQLiteDetectionRepoListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &models.PlateDetection{
			InputPath: []string{"a.jpg", "b.jpg", "c.jpg"}[i],
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d records, want 2", len(list))
	}
	if list[0].InputPath != "c.jpg" || list[1].InputPath != "b.jpg" {
		t.Errorf("order: got %s, %s", list[0].InputPath, list[1].InputPath)
	}
	if list[0].PlateNumbers == nil {
		t.Error("empty arrays should decode as empty, not nil")
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{-1: defaultListLimit, 0: defaultListLimit, 10: 10, 10000: maxListLimit}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d): got %d, want %d", in, got, want)
		}
	}
}
