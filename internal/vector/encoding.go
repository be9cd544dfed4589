package vector

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite is returned when a decoded vector holds NaN or an infinity.
var ErrNonFinite = errors.New("vector has a non-finite component")

func checkFinite(v []float32) error {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	return nil
}

// EncodeJSON encodes a vector as a JSON float list, the format of the
// diary_embeddings.embedding column.
func EncodeJSON(v []float32) ([]byte, error) {
	if v == nil {
		v = []float32{}
	}
	return json.Marshal(v)
}

// DecodeJSON parses a JSON float list.
func DecodeJSON(b []byte) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode json vector: %w", err)
	}
	if err := checkFinite(v); err != nil {
		return nil, fmt.Errorf("decode json vector: %w", err)
	}
	return v, nil
}

// EncodeBinary encodes a vector as little-endian float32 values.
func EncodeBinary(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(x))
	}
	return out
}

// DecodeBinary decodes little-endian float32 values. The length must be a multiple of 4.
func DecodeBinary(b []byte) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("decode binary vector: length %d is not a multiple of %d", len(b), size)
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	if err := checkFinite(out); err != nil {
		return nil, fmt.Errorf("decode binary vector: %w", err)
	}
	return out, nil
}

// Decode accepts either encoding: a JSON array (leading '[') or raw little-endian floats.
// Binary data that happens to start with '[' is retried as binary.
func Decode(b []byte) ([]float32, error) {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			v, err := DecodeJSON(b)
			if err == nil {
				return v, nil
			}
			if bv, berr := DecodeBinary(b); berr == nil {
				return bv, nil
			}
			return nil, err
		}
		break
	}
	return DecodeBinary(b)
}
