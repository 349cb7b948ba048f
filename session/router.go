package session

import (
	stderrors "errors"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Router dispatches model loading to a Loader by file extension.
type Router struct {
	routes  map[string]Loader
	loaders []Loader
}

// NewRouter returns a router with no routes.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Loader)}
}

// NewDefaultRouter routes .onnx files to an ONNX Runtime loader and .yaml/.yml files to
// the linear model loader.
func NewDefaultRouter(cfg ONNXConfig) *Router {
	r := NewRouter()
	r.Register(NewONNXLoader(cfg), ".onnx")
	r.Register(LinearLoader{}, ".yaml", ".yml")
	return r
}

// Register routes each extension, e.g. ".onnx", to loader. Extensions are case-insensitive.
func (r *Router) Register(loader Loader, exts ...string) {
	r.loaders = append(r.loaders, loader)
	for _, ext := range exts {
		r.routes[strings.ToLower(ext)] = loader
	}
}

// Load implements Loader.
func (r *Router) Load(path string) (Backend, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := r.routes[ext]
	if !ok {
		return nil, &ModelLoadError{Path: path, Err: errors.Errorf("unsupported model format %q", ext)}
	}
	return loader.Load(path)
}

// Close closes every registered loader once per Register call.
func (r *Router) Close() error {
	var errs []error
	for _, l := range r.loaders {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
