package inference

import (
	"fmt"
	"sort"

	"github.com/nvr-ai/go-classify/labels"
)

// Prediction is a single ranked class.
type Prediction struct {
	Index      int
	Label      string
	Confidence float32
}

// String renders the prediction as "<label>: <percent>%" with one decimal.
func (p Prediction) String() string {
	return fmt.Sprintf("%s: %.1f%%", p.Label, p.Confidence*100)
}

// Result is the outcome of classifying one image.
type Result struct {
	Prediction

	// RequestID identifies the request in logs.
	RequestID string
	// Probabilities is the softmax output for every class.
	Probabilities []float32

	labels labels.Table
}

// Top returns the k most probable classes, highest first. Equal probabilities keep
// index order. k larger than the number of classes returns every class.
func (r *Result) Top(k int) []Prediction {
	if k <= 0 {
		return nil
	}
	order := make([]int, len(r.Probabilities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return r.Probabilities[order[a]] > r.Probabilities[order[b]]
	})
	if k > len(order) {
		k = len(order)
	}

	top := make([]Prediction, k)
	for i, idx := range order[:k] {
		top[i] = Prediction{Index: idx, Label: r.labels.Name(idx), Confidence: r.Probabilities[idx]}
	}
	return top
}
