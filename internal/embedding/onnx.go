//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/diaryrag/pkg/utils"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"last_hidden_state"}
)

// onnxTensors are the fixed-shape buffers bound to the session. Each Embed
// call overwrites the inputs in place and reads the hidden state back.
type onnxTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	hidden        *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (*onnxTensors, error) {
	t := &onnxTensors{}
	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	for _, dst := range []**ort.Tensor[int64]{&t.inputIDs, &t.attentionMask, &t.tokenTypeIDs} {
		if *dst, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
			t.destroy()
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
	}
	if t.hidden, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxTokens), int64(dimensions))); err != nil {
		t.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	return t, nil
}

func (t *onnxTensors) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{t.inputIDs, t.attentionMask, t.tokenTypeIDs}
}

func (t *onnxTensors) load(inputIDs, attentionMask, tokenTypeIDs []int64) {
	copy(t.inputIDs.GetData(), inputIDs)
	copy(t.attentionMask.GetData(), attentionMask)
	copy(t.tokenTypeIDs.GetData(), tokenTypeIDs)
}

func (t *onnxTensors) destroy() {
	for _, in := range []*ort.Tensor[int64]{t.inputIDs, t.attentionMask, t.tokenTypeIDs} {
		if in != nil {
			_ = in.Destroy()
		}
	}
	if t.hidden != nil {
		_ = t.hidden.Destroy()
	}
	*t = onnxTensors{}
}

// ONNXEmbedder runs a Korean sentence-embedding model (ko-sroberta style) with
// ONNX Runtime. The last hidden state is mean-pooled over the attention mask
// and L2-normalized, so cosine similarity equals the inner product.
// It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *onnxTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath and tokenizes with tok. The
// runtime environment is initialized on first use.
func NewONNXEmbedder(modelPath string, tok Tokenizer, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if tok == nil {
		return nil, fmt.Errorf("no tokenizer for %s", modelPath)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}
	if maxTokens <= 2 {
		maxTokens = defaultMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		tensors.inputs(), []ort.ArbitraryTensor{tensors.hidden}, nil)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  tok,
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the pooled, normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: embedder is closed", ErrModelUnavailable)
	}

	inputIDs, attentionMask, tokenTypeIDs, err := e.tokenizer.Tokenize(text, e.maxTokens)
	if err != nil {
		return nil, err
	}
	e.tensors.load(inputIDs, attentionMask, tokenTypeIDs)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	vec := meanPool(e.tensors.hidden.GetData(), attentionMask, e.dimensions)
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return err
}
