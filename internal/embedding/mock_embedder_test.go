package embedding

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(64)
	a, _ := e.Embed(ctx, "아이가 처음 걸었다")
	b, _ := e.Embed(ctx, "아이가 처음 걸었다")
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should give the same vector")
		}
	}
	if n := cosine(a, a); math.Abs(n-1) > 1e-6 {
		t.Errorf("self similarity = %v, want 1", n)
	}
}

func TestMockEmbedder_SharedCharactersAreSimilar(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(256)
	q, _ := e.Embed(ctx, "아이가 걸을 수 있나요?")
	related, _ := e.Embed(ctx, "아이가 처음 걸었다")
	unrelated, _ := e.Embed(ctx, "8월 13일 : 잠깐 혼자 앉으려는 시도를 했다.")
	if got := cosine(q, related); got < 0.4 {
		t.Errorf("related similarity = %v, want >= 0.4", got)
	}
	if cosine(q, related) <= cosine(q, unrelated) {
		t.Error("related text should score above unrelated text")
	}
}

func TestMockEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewMockEmbedder(8)
	v, err := e.Embed(context.Background(), " ?! ")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
}

func TestMockEmbedder_HashesRunesNotWords(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(64)
	tests := []struct {
		name string
		a, b string
	}{
		{"word order", "아이가 처음 걸었다", "걸었다 처음 아이가"},
		{"case and punctuation", "Walk, Alone!", "alone walk"},
		{"word boundaries", "ab cd", "a bcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			va, _ := e.Embed(ctx, tt.a)
			vb, _ := e.Embed(ctx, tt.b)
			for i := range va {
				if va[i] != vb[i] {
					t.Fatalf("%q and %q should embed identically", tt.a, tt.b)
				}
			}
		})
	}
}

func TestMockEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("expected context error")
	}
}

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("meanPool = %v, want [2 3]", got)
	}
	empty := meanPool(hidden, []int64{0, 0, 0}, 2)
	if empty[0] != 0 || empty[1] != 0 {
		t.Errorf("all-masked meanPool = %v, want zeros", empty)
	}
}
