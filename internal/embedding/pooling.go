package embedding

// meanPool averages token vectors from a [tokens x dimensions] row-major hidden state,
// counting only positions whose attention mask is set.
func meanPool(hidden []float32, attentionMask []int64, dimensions int) []float32 {
	out := make([]float32, dimensions)
	if dimensions <= 0 {
		return out
	}
	sums := make([]float64, dimensions)
	var count float64
	for tok, mask := range attentionMask {
		if mask == 0 {
			continue
		}
		offset := tok * dimensions
		if offset+dimensions > len(hidden) {
			break
		}
		for d := 0; d < dimensions; d++ {
			sums[d] += float64(hidden[offset+d])
		}
		count++
	}
	if count == 0 {
		return out
	}
	for d := range sums {
		out[d] = float32(sums[d] / count)
	}
	return out
}
