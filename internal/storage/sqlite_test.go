package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

func newTestSQLite(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "diary.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_CRUD(t *testing.T) {
	store := newTestSQLite(t, WithDimensions(3))
	ctx := context.Background()

	rec := models.Record{ID: 1, Text: "2025-08-22 : 아이가 처음 걸었다", Date: "2025-08-22", Vector: []float32{1, 0, 0}}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Text != rec.Text || got.Date != rec.Date || len(got.Vector) != 3 || got.Vector[0] != 1 {
		t.Errorf("got %+v", got)
	}

	rec.Text = "replaced"
	rec.Vector = []float32{0, 1, 0}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	n, _ := store.Count(ctx)
	if n != 1 {
		t.Errorf("upsert of same id should replace, count = %d", n)
	}
	got, _, _ = store.Get(ctx, 1)
	if got.Text != "replaced" || got.Vector[1] != 1 {
		t.Errorf("after replace: %+v", got)
	}

	deleted, err := store.Delete(ctx, 1)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.Delete(ctx, 1)
	if err != nil || deleted {
		t.Errorf("second Delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := store.Get(ctx, 1); ok {
		t.Error("record should be gone")
	}
}

func TestSQLiteStore_ScanOrderAndRestart(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	for _, id := range []int64{5, 3, 9} {
		if err := store.Upsert(ctx, models.Record{ID: id, Text: "t", Vector: []float32{1, 2}}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := All(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{5, 3, 9}
	if len(all) != len(want) {
		t.Fatalf("got %d records", len(all))
	}
	for i, r := range all {
		if r.ID != want[i] {
			t.Errorf("scan[%d] = %d, want %d", i, r.ID, want[i])
		}
	}

	if _, err := store.Delete(ctx, 3); err != nil {
		t.Fatal(err)
	}
	all, _ = All(ctx, store)
	if len(all) != 2 {
		t.Errorf("rescan after delete: %d records", len(all))
	}
}

func TestSQLiteStore_StopScan(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		_ = store.Upsert(ctx, models.Record{ID: id, Text: "t", Vector: []float32{1}})
	}
	seen := 0
	err := store.Scan(ctx, func(models.Record) error {
		seen++
		return ErrStopScan
	})
	if err != nil || seen != 1 {
		t.Errorf("seen=%d err=%v", seen, err)
	}
}

func TestSQLiteStore_DimensionMismatch(t *testing.T) {
	store := newTestSQLite(t, WithDimensions(3))
	err := store.Upsert(context.Background(), models.Record{ID: 1, Text: "t", Vector: []float32{1, 2}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSQLiteStore_SkipsCorruptRows(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	_ = store.Upsert(ctx, models.Record{ID: 1, Text: "good", Vector: []float32{1, 0}})
	if _, err := store.db.Exec(
		`INSERT INTO diary_embeddings (diary_id, text, embedding) VALUES (2, 'bad', '{broken')`); err != nil {
		t.Fatal(err)
	}
	// JSON text written by other tools decodes as well
	if _, err := store.db.Exec(
		`INSERT INTO diary_embeddings (diary_id, text, embedding, date) VALUES (3, 'json', '[0.5, 0.5]', '2025-08-14')`); err != nil {
		t.Fatal(err)
	}

	all, err := All(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 3 {
		t.Fatalf("expected ids [1 3], got %+v", all)
	}
	if all[1].Date != "2025-08-14" {
		t.Errorf("date = %q", all[1].Date)
	}
	if _, ok, err := store.Get(ctx, 2); ok || err != nil {
		t.Errorf("corrupt row Get: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStore_NonFiniteRowIsSkipped(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	nan := vector.EncodeBinary([]float32{float32(math.NaN()), 1})
	if _, err := store.db.Exec(
		`INSERT INTO diary_embeddings (diary_id, text, embedding) VALUES (7, 'nan', ?)`, nan); err != nil {
		t.Fatal(err)
	}
	_ = store.Upsert(ctx, models.Record{ID: 8, Text: "good", Vector: []float32{1, 0}})

	all, err := All(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != 8 {
		t.Fatalf("expected only id 8, got %+v", all)
	}
	if got := store.DecodeFailures(); got != 1 {
		t.Errorf("DecodeFailures = %d, want 1", got)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	_ = store.Upsert(ctx, models.Record{ID: 7, Text: "t", Vector: []float32{1}})
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("count = %d", n)
	}
}
