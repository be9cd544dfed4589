package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/diaryrag/internal/models"
)

// Embedder turns texts into vectors. It matches embedding.Embedder.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// builtinDiaries is the canned dataset served when every configured backend is empty.
var builtinDiaries = []models.Record{
	{ID: 20, Date: "2025-08-14", Text: `오늘은 거실 한가운데서 혼자 4초나 섰다! 예전 같으면 바로 엉덩방아를 찧었을 텐데, 눈빛이 "나 이제 할 수 있어" 하는 것 같았다.`},
	{ID: 21, Date: "2025-08-15", Text: "소파에 기대서 잡고 걷는 게 훨씬 안정적이 됐다. 한 손은 장난감 들고, 한 손으로만 잡는데도 안 넘어지다니… 대견하다."},
	{ID: 22, Date: "2025-08-16", Text: "아침에 처음으로 아무것도 잡지 않고 한 발을 떼었다. 비록 한 걸음뿐이었지만, 순간 심장이 두근거렸다."},
	{ID: 23, Date: "2025-08-17", Text: "오늘은 외출해서 놀이터에 갔다. 모래 위에서 발을 툭툭 구르며 균형 잡는 모습이 너무 귀여웠다. 신발이 조금 큰지 자꾸 벗겨져서 웃음이 났다."},
	{ID: 24, Date: "2025-08-18", Text: `책장 앞에서 책을 꺼내려다, 무심코 두 걸음을 걸었다! 나도 깜짝 놀라서 "와!" 하고 박수쳤더니, 아이가 씩 웃으며 다시 앉았다.`},
	{ID: 25, Date: "2025-08-19", Text: "아침에 기저귀 갈다가 갑자기 일어나서 나를 향해 세 걸음을 걸어왔다. 아직 몸이 덜 안정돼서 비틀거렸지만, 분명한 진전이다."},
	{ID: 26, Date: "2025-08-20", Text: "오늘은 집 안 여기저기를 손으로 짚으며 순회(?)했다. 장난감을 소파에 올려놓고, 다시 와서 가져가는 모습이 마치 집안 일을 하는 것처럼 보였다."},
	{ID: 27, Date: "2025-08-21", Text: "거실에서 놀이하다가 혼자서 서 있는 시간이 10초를 넘겼다! 눈을 반짝이며 주위를 둘러보는 표정이 꼭 탐험가 같았다."},
	{ID: 28, Date: "2025-08-22", Text: "오늘은 걷기보다 무릎 꿇고 일어나기 연습을 많이 했다. 몇 번은 실패했지만, 성공할 때마다 엄청나게 뿌듯한 표정을 지었다."},
	{ID: 29, Date: "2025-08-23", Text: "드디어! 짧지만 네 걸음을 혼자 걸었다. 나는 휴대폰을 들고 있었지만, 순간 그걸 내려놓고 아이를 꼭 안아줬다. 감격의 순간."},
}

// BuiltinDiaries returns a copy of the canned fallback records, without vectors.
func BuiltinDiaries() []models.Record {
	return append([]models.Record(nil), builtinDiaries...)
}

// FallbackDataset is a read-only store over the built-in diaries. Vectors are
// computed with the configured embedder on first read so they always live in
// the same space as the queries.
type FallbackDataset struct {
	embedder Embedder

	mu    sync.Mutex
	store *MemoryStore
}

var _ Store = (*FallbackDataset)(nil)

// NewFallbackDataset returns the built-in dataset embedded with e.
func NewFallbackDataset(e Embedder) *FallbackDataset {
	return &FallbackDataset{embedder: e}
}

func (f *FallbackDataset) load(ctx context.Context) (*MemoryStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store != nil {
		return f.store, nil
	}

	texts := make([]string, len(builtinDiaries))
	for i, r := range builtinDiaries {
		texts[i] = r.Text
	}
	vectors, err := f.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed fallback dataset: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	store := NewMemoryStore()
	for i, r := range builtinDiaries {
		r.Vector = vectors[i]
		if err := store.Upsert(ctx, r); err != nil {
			return nil, err
		}
	}
	f.store = store
	return store, nil
}

func (f *FallbackDataset) Kind() Kind { return KindKeyValue }

func (f *FallbackDataset) Upsert(context.Context, models.Record) error { return ErrReadOnly }

func (f *FallbackDataset) Delete(context.Context, int64) (bool, error) { return false, ErrReadOnly }

func (f *FallbackDataset) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	store, err := f.load(ctx)
	if err != nil {
		return models.Record{}, false, err
	}
	return store.Get(ctx, id)
}

func (f *FallbackDataset) Scan(ctx context.Context, fn func(models.Record) error) error {
	store, err := f.load(ctx)
	if err != nil {
		return err
	}
	return store.Scan(ctx, fn)
}

func (f *FallbackDataset) Count(context.Context) (int, error) { return len(builtinDiaries), nil }

func (f *FallbackDataset) Close() error { return nil }
