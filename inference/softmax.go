package inference

import "github.com/chewxy/math32"

// Softmax converts logits into probabilities. The maximum logit is subtracted before
// exponentiation so large logits do not overflow.
//
// Arguments:
//   - logits: The raw model outputs.
//
// Returns:
//   - []float32: Probabilities in [0, 1] summing to 1, in the same order as logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}

	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		probs[i] = math32.Exp(v - peak)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value. Ties go to the lowest index; an empty
// slice yields -1.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}
