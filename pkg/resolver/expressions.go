package resolver

import (
	"sync"

	"github.com/gofhir/fhirpath"
)

// expressionCache remembers the compile outcome of invariant expressions.
// The same invariant (ele-1, dom-2, ...) repeats across most types, so each
// distinct expression is parsed once per resolution. Expressions are never
// evaluated.
type expressionCache struct {
	mu      sync.RWMutex
	results map[string]error
}

func newExpressionCache() *expressionCache {
	return &expressionCache{results: make(map[string]error)}
}

// check returns the compile error of expr, or nil.
func (c *expressionCache) check(expr string) error {
	c.mu.RLock()
	err, ok := c.results[expr]
	c.mu.RUnlock()
	if ok {
		return err
	}

	_, err = fhirpath.Compile(expr)

	c.mu.Lock()
	c.results[expr] = err
	c.mu.Unlock()
	return err
}
