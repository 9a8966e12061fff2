package tmpl

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache holds compiled templates keyed by fingerprint. Concurrent first use of the
// same body compiles it once; every caller gets the same *Template.
type Cache struct {
	mu           sync.RWMutex
	compiled     map[string]*Template
	group        singleflight.Group
	compilations atomic.Int64
	onCompile    func(fingerprint string)
}

type CacheOption func(*Cache)

// WithCompileHook registers a callback run after every real compilation.
func WithCompileHook(fn func(fingerprint string)) CacheOption {
	return func(c *Cache) { c.onCompile = fn }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{compiled: make(map[string]*Template)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the compiled form of src, compiling it on first use. Syntax errors are
// returned and not cached.
func (c *Cache) Get(src string) (*Template, error) {
	fp := Fingerprint(src)
	if t, ok := c.lookup(fp); ok {
		return t, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		if t, ok := c.lookup(fp); ok {
			return t, nil
		}
		t, err := Compile(src)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.compiled[fp] = t
		c.mu.Unlock()

		c.compilations.Add(1)
		if c.onCompile != nil {
			c.onCompile(fp)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

func (c *Cache) lookup(fp string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.compiled[fp]
	return t, ok
}

// Compilations counts real compilations since the cache was created.
func (c *Cache) Compilations() int64 { return c.compilations.Load() }

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}
