package session

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LinearModel is a linear classifier over per-channel image means, stored as YAML.
//
// For an input x of shape [1, C, H, W] the logits are W·mean(x) + b, where mean(x) is the
// C-vector of channel means.
//
//	input:
//	  name: pixel_values
//	  shape: [1, 3, 224, 224]
//	output: logits
//	weights:
//	  - [0.2, -0.1, 0.4]
//	  - [-0.3, 0.5, 0.0]
//	bias: [0.0, 0.1]
type LinearModel struct {
	Input struct {
		Name  string  `yaml:"name"`
		Shape []int64 `yaml:"shape"`
	} `yaml:"input"`
	Output  string      `yaml:"output"`
	Weights [][]float32 `yaml:"weights"`
	Bias    []float32   `yaml:"bias"`
}

// Validate checks that the declared shape is static [1, C, H, W] and that the weights
// are a K x C matrix with K biases.
func (m *LinearModel) Validate() error {
	if m.Input.Name == "" || m.Output == "" {
		return errors.New("input and output names are required")
	}
	s := m.Input.Shape
	if len(s) != 4 || s[0] != 1 {
		return errors.Errorf("input shape %v is not [1, C, H, W]", s)
	}
	for _, d := range s[1:] {
		if d <= 0 {
			return errors.Errorf("input shape %v must be static", s)
		}
	}
	if len(m.Weights) == 0 {
		return errors.New("weights are empty")
	}
	for i, row := range m.Weights {
		if int64(len(row)) != s[1] {
			return errors.Errorf("weights row %d has %d columns, want %d", i, len(row), s[1])
		}
	}
	if len(m.Bias) != len(m.Weights) {
		return errors.Errorf("bias has %d values, want %d", len(m.Bias), len(m.Weights))
	}
	return nil
}

// LinearLoader opens LinearModel YAML files and runs them as gorgonia graphs.
type LinearLoader struct{}

// Load implements Loader.
func (LinearLoader) Load(path string) (Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}

	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ModelLoadError{Path: path, Err: errors.Wrap(err, "parse linear model")}
	}
	if err := m.Validate(); err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}

	b, err := newLinearBackend(&m)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: errors.Wrap(err, "build graph")}
	}
	return b, nil
}

// Close implements Loader.
func (LinearLoader) Close() error { return nil }

type linearBackend struct {
	meta   Metadata
	input  *G.Node
	logits *G.Node
	vm     G.VM
}

func newLinearBackend(m *LinearModel) (*linearBackend, error) {
	c, h, w := int(m.Input.Shape[1]), int(m.Input.Shape[2]), int(m.Input.Shape[3])
	k := len(m.Weights)
	plane := h * w

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, c, h, w), G.WithName("input"))

	flat, err := G.Reshape(input, tensor.Shape{c, plane})
	if err != nil {
		return nil, err
	}

	avg := make([]float32, plane)
	for i := range avg {
		avg[i] = 1 / float32(plane)
	}
	avgNode := G.NewVector(g, tensor.Float32, G.WithShape(plane), G.WithName("avg"),
		G.WithValue(tensor.New(tensor.WithShape(plane), tensor.WithBacking(avg))))

	// (C, HW) x (HW) -> channel means (C)
	means, err := G.Mul(flat, avgNode)
	if err != nil {
		return nil, err
	}

	weights := make([]float32, 0, k*c)
	for _, row := range m.Weights {
		weights = append(weights, row...)
	}
	wNode := G.NewMatrix(g, tensor.Float32, G.WithShape(k, c), G.WithName("weights"),
		G.WithValue(tensor.New(tensor.WithShape(k, c), tensor.WithBacking(weights))))
	bNode := G.NewVector(g, tensor.Float32, G.WithShape(k), G.WithName("bias"),
		G.WithValue(tensor.New(tensor.WithShape(k), tensor.WithBacking(append([]float32(nil), m.Bias...)))))

	projected, err := G.Mul(wNode, means)
	if err != nil {
		return nil, err
	}
	logits, err := G.Add(projected, bNode)
	if err != nil {
		return nil, err
	}

	return &linearBackend{
		meta: Metadata{
			InputName:  m.Input.Name,
			InputShape: append([]int64(nil), m.Input.Shape...),
			OutputName: m.Output,
		},
		input:  input,
		logits: logits,
		vm:     G.NewTapeMachine(g),
	}, nil
}

func (b *linearBackend) Metadata() Metadata { return b.meta }

func (b *linearBackend) Run(input []float32, shape []int64) ([]float32, error) {
	if !equalShape(shape, b.meta.InputShape) {
		return nil, errors.Errorf("input shape %v does not match declared shape %v", shape, b.meta.InputShape)
	}
	defer b.vm.Reset()

	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	x := tensor.New(tensor.WithShape(dims...), tensor.Of(tensor.Float32),
		tensor.WithBacking(append([]float32(nil), input...)))
	if err := G.Let(b.input, x); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}
	if err := b.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run graph")
	}

	out, ok := b.logits.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("graph produced %T, want []float32", b.logits.Value().Data())
	}
	return append([]float32(nil), out...), nil
}

func (b *linearBackend) Close() error {
	return b.vm.Close()
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
