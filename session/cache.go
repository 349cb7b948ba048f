// Package session - Loads models once per path and keeps them ready for repeat inference.
package session

import (
	stderrors "errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Cache maps model paths to loaded handles.
//
// The first request for a path loads the model; later requests reuse the handle.
// Two goroutines racing on the first request for the same path may both load it. The
// first to insert wins and the other closes its copy.
type Cache struct {
	loader Loader
	log    logrus.FieldLogger

	mu      sync.RWMutex
	handles map[string]*Handle
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCache creates an empty cache backed by loader.
//
// Arguments:
//   - loader: Opens model files on a cache miss, e.g. a *Router.
//   - opts: Optional settings.
//
// Returns:
//   - *Cache: The empty cache.
//
// @example
//
//	cache := session.NewCache(session.NewDefaultRouter(session.ONNXConfig{}))
//	defer cache.Close()
//	h, err := cache.GetOrLoad("models/mobilenet.onnx")
func NewCache(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:  loader,
		log:     logrus.StandardLogger(),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad returns the handle for path, loading the model on first use.
//
// Arguments:
//   - path: The model file path. Paths are compared after filepath.Clean.
//
// Returns:
//   - *Handle: The cached handle.
//   - error: A *ModelLoadError if the model cannot be opened.
func (c *Cache) GetOrLoad(path string) (*Handle, error) {
	key := filepath.Clean(path)

	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	start := time.Now()
	backend, err := c.loader.Load(key)
	if err != nil {
		var loadErr *ModelLoadError
		if stderrors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &ModelLoadError{Path: key, Err: err}
	}
	loaded := newHandle(key, backend)

	c.mu.Lock()
	if existing, ok := c.handles[key]; ok {
		c.mu.Unlock()
		if err := loaded.Close(); err != nil {
			c.log.WithError(err).WithField("model", key).Warn("closing duplicate model session")
		}
		return existing, nil
	}
	c.handles[key] = loaded
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"model":    key,
		"input":    loaded.InputName(),
		"shape":    loaded.InputShape(),
		"output":   loaded.OutputName(),
		"duration": time.Since(start),
	}).Info("loaded model session")

	return loaded, nil
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// EvictAll closes every cached handle and empties the cache.
//
// It is safe on an empty cache and may be called repeatedly. Close failures are
// collected and returned together after every handle has been closed.
func (c *Cache) EvictAll() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]*Handle)
	c.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(handles) > 0 {
		c.log.WithField("count", len(handles)).Info("evicted model sessions")
	}
	return stderrors.Join(errs...)
}

// Close evicts every handle and releases the loader.
func (c *Cache) Close() error {
	evictErr := c.EvictAll()
	if err := c.loader.Close(); err != nil {
		return stderrors.Join(evictErr, errors.Wrap(err, "close loader"))
	}
	return evictErr
}
