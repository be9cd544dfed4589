package storage

import (
	"context"
	"os"
	"testing"

	"github.com/hyperjump/diaryrag/internal/models"
)

// Runs only against a real pgvector-enabled database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DIARYRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DIARYRAG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn, "diary_embeddings_test", WithDimensions(2))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	t.Cleanup(func() {
		_, _ = store.conn.Exec(`DROP TABLE IF EXISTS diary_embeddings_test`)
	})

	for _, r := range []models.Record{
		{ID: 1, Text: "one", Date: "2025-08-01", Vector: []float32{1, 0}},
		{ID: 2, Text: "two", Vector: []float32{0, 1}},
		{ID: 3, Text: "three", Vector: []float32{1, 0}},
	} {
		if err := store.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := store.Search(ctx, []float32{1, 0}, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != 1 || hits[1].ID != 3 {
		t.Errorf("Search = %+v", hits)
	}

	all, err := All(ctx, store)
	if err != nil || len(all) != 3 {
		t.Fatalf("All = %d records, %v", len(all), err)
	}

	if deleted, err := store.Delete(ctx, 2); err != nil || !deleted {
		t.Errorf("Delete(2) = %v %v", deleted, err)
	}
	if _, ok, _ := store.Get(ctx, 2); ok {
		t.Error("record 2 should be gone")
	}
}
