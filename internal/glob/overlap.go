package glob

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled patterns kept by the default cache.
const DefaultCacheSize = 4096

type compiled struct {
	m   *Matcher
	err error
}

// Cache memoizes Compile results, including failures, in a bounded LRU.
// It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, compiled]
}

// NewCache returns a cache holding at most size compiled patterns.
// A non-positive size selects DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, compiled](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Cache{entries: entries}
}

var defaultCache = NewCache(DefaultCacheSize)

// Compile returns the cached Matcher for pattern, compiling it on first use.
func (c *Cache) Compile(pattern string) (*Matcher, error) {
	if hit, ok := c.entries.Get(pattern); ok {
		return hit.m, hit.err
	}
	m, err := Compile(pattern)
	c.entries.Add(pattern, compiled{m: m, err: err})
	return m, err
}

// Match reports whether path matches pattern. An invalid pattern matches
// nothing and its compile error is returned for logging.
func (c *Cache) Match(pattern, path string) (bool, error) {
	m, err := c.Compile(pattern)
	if err != nil {
		return false, err
	}
	return m.Match(path), nil
}

// Overlap reports whether patterns a and b possibly cover a common path.
//
// The test is a conservative heuristic rather than language intersection:
// the patterns overlap if they are equal, or if either one, compiled, matches
// the other's literal text. A direction whose pattern fails to compile is
// skipped; the returned error reports it while the remaining checks still
// decide the result.
func (c *Cache) Overlap(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	var errs []error
	if ok, err := c.Match(a, b); err != nil {
		errs = append(errs, err)
	} else if ok {
		return true, errors.Join(errs...)
	}
	if ok, err := c.Match(b, a); err != nil {
		errs = append(errs, err)
	} else if ok {
		return true, errors.Join(errs...)
	}
	return false, errors.Join(errs...)
}

// Len returns the number of cached patterns.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Match reports whether path matches pattern using the package cache.
func Match(pattern, path string) (bool, error) {
	return defaultCache.Match(pattern, path)
}

// Overlap applies Cache.Overlap using the package cache.
func Overlap(a, b string) (bool, error) {
	return defaultCache.Overlap(a, b)
}
