package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(1)
	c.Set("a", []float32{1})
	v, _ := c.Get("a")
	v[0] = 99
	again, _ := c.Get("a")
	if again[0] != 1 {
		t.Errorf("cached value mutated through returned slice: %v", again)
	}
}

type countingEmbedder struct {
	*MockEmbedder
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("boom")
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, c, texts)
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(16)}
	e := NewCachedEmbedder(inner, 10)

	first, err := e.Embed(ctx, "걸음마")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Embed(ctx, "걸음마")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached embedding differs from computed one")
		}
	}

	batch, err := e.EmbedBatch(ctx, []string{"걸음마", "이유식", "산책"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 || inner.calls != 3 {
		t.Errorf("batch len=%d inner calls=%d, want 3 and 3", len(batch), inner.calls)
	}
	if e.Dimensions() != 16 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}

	inner.fail = true
	if _, err := e.Embed(ctx, "새 문장"); err == nil {
		t.Error("expected inner error to propagate")
	}
}
