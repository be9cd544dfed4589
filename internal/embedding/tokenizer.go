package embedding

import (
	"fmt"
	"path/filepath"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64, err error)
}

const defaultMaxTokens = 256

// TokenizerFile is the file name looked up next to the model when no tokenizer path is configured.
const TokenizerFile = "tokenizer.json"

// TokenizerPathFor returns configured, or tokenizer.json in the model's directory when empty.
func TokenizerPathFor(modelPath, configured string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(filepath.Dir(modelPath), TokenizerFile)
}

type encoder interface {
	EncodeSingle(input string, addSpecialTokensOpt ...bool) (*tokenizer.Encoding, error)
}

// HFTokenizer wraps the model's own Hugging Face tokenizer.json so ids match
// the vocabulary the model was trained with.
type HFTokenizer struct {
	enc encoder
}

// LoadHFTokenizer reads a tokenizer.json file.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{enc: tk}, nil
}

// Tokenize encodes text with special tokens, truncates to maxTokens keeping the
// closing separator, and zero-pads every slice to exactly maxTokens.
func (t *HFTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64, err error) {
	if maxTokens <= 2 {
		maxTokens = defaultMaxTokens
	}
	en, err := t.enc.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := en.Ids
	if len(ids) == 0 {
		return nil, nil, nil, fmt.Errorf("tokenize: encoder returned no tokens")
	}

	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	n := len(ids)
	if n > maxTokens {
		n = maxTokens
	}
	for i := 0; i < n; i++ {
		inputIDs[i] = int64(ids[i])
		attentionMask[i] = 1
		if i < len(en.AttentionMask) {
			attentionMask[i] = int64(en.AttentionMask[i])
		}
		if i < len(en.TypeIds) {
			tokenTypeIDs[i] = int64(en.TypeIds[i])
		}
	}
	if len(ids) > maxTokens {
		inputIDs[maxTokens-1] = int64(ids[len(ids)-1])
	}
	return inputIDs, attentionMask, tokenTypeIDs, nil
}
