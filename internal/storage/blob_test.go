package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/diaryrag/internal/metrics"
	"github.com/hyperjump/diaryrag/internal/models"
)

func TestBlobStore_DirSource(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"1.json":     `{"id": 1, "vector": [1, 0], "payload": {"text": "first", "date": "2025-08-14"}}`,
		"2.json":     `[0, 1]`,
		"3.json":     `{"broken": `,
		"4.json":     `{"embedding": [1, 1], "content": "nested"}`,
		"notes.txt":  `[1, 1]`,
		"5.json":     `[1, 2, 3]`,
		".tmp.json~": `[1]`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	src, err := NewDirBlobSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	store := NewBlobStore(src, WithDimensions(2), WithMetrics(m))
	ctx := context.Background()

	all, err := All(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	gotIDs := make([]int64, len(all))
	for i, r := range all {
		gotIDs[i] = r.ID
	}
	want := []int64{1, 2, 4}
	if len(gotIDs) != len(want) {
		t.Fatalf("ids = %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("ids = %v, want %v", gotIDs, want)
		}
	}
	if all[0].Text != "first" || all[0].Date != "2025-08-14" || all[2].Text != "nested" {
		t.Errorf("unexpected records: %+v", all)
	}
	// 3.json is malformed, 5.json has the wrong dimension
	if got := store.DecodeFailures(); got != 2 {
		t.Errorf("DecodeFailures = %d, want 2", got)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestBlobStore_WriteThenRead(t *testing.T) {
	src, err := NewDirBlobSource(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	store := NewBlobStore(src)
	ctx := context.Background()

	rec := models.Record{ID: 42, Text: "2025-08-22 : 아이가 처음 걸었다", Date: "2025-08-22", Vector: []float32{0.6, 0.8}}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.Get(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Text != rec.Text || got.Date != rec.Date || len(got.Vector) != 2 {
		t.Errorf("got %+v", got)
	}

	deleted, err := store.Delete(ctx, 42)
	if err != nil || !deleted {
		t.Fatalf("Delete: %v %v", deleted, err)
	}
	if deleted, _ := store.Delete(ctx, 42); deleted {
		t.Error("second delete should report false")
	}
	if _, ok, _ := store.Get(ctx, 42); ok {
		t.Error("record should be gone")
	}
}

func TestBlobStore_SQLiteSource(t *testing.T) {
	src, err := NewSQLiteBlobSource(filepath.Join(t.TempDir(), "collection", "storage.sqlite"), "points")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := src.Put(ctx, "10", []byte(`{"vector": [1, 0, 0], "payload": {"combined_text": "ten"}}`)); err != nil {
		t.Fatal(err)
	}
	if err := src.Put(ctx, "11", []byte{0x80, 0x04, 0x95}); err != nil {
		t.Fatal(err)
	}
	store := NewBlobStore(src)
	defer store.Close()

	all, err := All(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != 10 || all[0].Text != "ten" {
		t.Errorf("got %+v", all)
	}
	if store.DecodeFailures() != 1 {
		t.Errorf("DecodeFailures = %d, want 1", store.DecodeFailures())
	}

	if err := store.Upsert(ctx, models.Record{ID: 10, Text: "replaced", Vector: []float32{0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := store.Get(ctx, 10)
	if !ok || got.Text != "replaced" {
		t.Errorf("after upsert: %+v", got)
	}
}

func TestNewSQLiteBlobSource_RejectsBadTable(t *testing.T) {
	if _, err := NewSQLiteBlobSource(filepath.Join(t.TempDir(), "x.db"), "points; DROP TABLE x"); err == nil {
		t.Error("expected error for invalid table name")
	}
}
