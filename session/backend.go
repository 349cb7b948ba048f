package session

// Metadata describes the tensors a model consumes and produces.
type Metadata struct {
	// InputName is the name of the first graph input.
	InputName string
	// InputShape is the declared input shape. Dynamic dimensions are -1.
	InputShape []int64
	// OutputName is the name of the first graph output.
	OutputName string
}

// Backend is an opened model that can be executed.
//
// Implementations need not be safe for concurrent use; Handle serializes calls to Run.
type Backend interface {
	// Metadata returns the input and output description of the model.
	Metadata() Metadata
	// Run executes the model with input bound to the declared input name and returns the
	// first output flattened.
	Run(input []float32, shape []int64) ([]float32, error)
	// Close releases the model.
	Close() error
}

// Loader opens model files.
type Loader interface {
	// Load opens the model at path. Failures should be reported as *ModelLoadError.
	Load(path string) (Backend, error)
	// Close releases process-wide resources held by the loader.
	Close() error
}

// LoaderFunc adapts a function to the Loader interface. Its Close is a no-op.
type LoaderFunc func(path string) (Backend, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (Backend, error) { return f(path) }

// Close implements Loader.
func (LoaderFunc) Close() error { return nil }
