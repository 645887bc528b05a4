package definition

import (
	"sort"
	"sync"
)

// OverridePolicy decides which record wins when two records share a
// canonical URL.
type OverridePolicy int

const (
	// OverrideNewer replaces the existing record with the incoming one.
	// Packages loaded later are more specific, so this is the default.
	OverrideNewer OverridePolicy = iota
	// OverrideKeepExisting keeps the first record and discards the incoming one.
	OverrideKeepExisting
)

// Override records one collision resolved by the override policy.
type Override struct {
	URL      string
	Previous *Record
	Current  *Record
	Policy   OverridePolicy
}

// views holds the cached partitions of the collection.
type views struct {
	primitives []*Record
	complex    []*Record
	resources  []*Record
	valueSets  []*Record
	all        []*Record
}

// Collection owns all definition records of one FHIR version.
//
// Records live in an arena; indexes map canonical URL and short name to a
// slot. Overrides reuse the slot of the record they replace, so slot numbers
// handed out by the resolver stay valid.
type Collection struct {
	mu        sync.RWMutex
	version   string
	records   []*Record
	byURL     map[string]int
	byName    map[string]int
	overrides []Override

	views *views
}

// NewCollection creates an empty collection for a FHIR version.
func NewCollection(version string) *Collection {
	return &Collection{
		version: version,
		byURL:   make(map[string]int),
		byName:  make(map[string]int),
	}
}

// Version returns the FHIR version the collection was created for.
func (c *Collection) Version() string {
	return c.version
}

// Insert adds r, applying policy if a record with the same canonical URL
// exists. It returns the record that lost the collision, or nil.
func (c *Collection) Insert(r *Record, policy OverridePolicy) (replaced *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.views = nil

	slot, exists := c.byURL[r.URL]
	if !exists {
		slot = len(c.records)
		c.records = append(c.records, r)
		c.byURL[r.URL] = slot
		c.indexName(r, slot, policy)
		return nil
	}

	existing := c.records[slot]
	if policy == OverrideKeepExisting {
		c.overrides = append(c.overrides, Override{URL: r.URL, Previous: r, Current: existing, Policy: policy})
		return r
	}

	c.records[slot] = r
	c.overrides = append(c.overrides, Override{URL: r.URL, Previous: existing, Current: r, Policy: policy})
	dropped := c.dropNames(existing, slot)
	c.indexName(r, slot, policy)
	c.reindexNames(dropped, policy)
	return existing
}

// dropNames removes the short names of r that point at slot and returns
// them. Must be called with mu held.
func (c *Collection) dropNames(r *Record, slot int) []string {
	var dropped []string
	for _, name := range recordNames(r) {
		if cur, ok := c.byName[name]; ok && cur == slot {
			delete(c.byName, name)
			dropped = append(dropped, name)
		}
	}
	return dropped
}

// reindexNames gives names no record claims back to other records carrying
// them, in slot order. Must be called with mu held.
func (c *Collection) reindexNames(names []string, policy OverridePolicy) {
	for _, name := range names {
		if _, ok := c.byName[name]; ok {
			continue
		}
		for slot, r := range c.records {
			for _, n := range recordNames(r) {
				if n == name {
					c.indexOne(name, r, slot, policy)
					break
				}
			}
		}
	}
}

func recordNames(r *Record) []string {
	names := []string{r.Name}
	if !r.IsConstraint() && r.Type != "" && r.Type != r.Name {
		names = append(names, r.Type)
	}
	return names
}

// indexName registers the record's short names. Must be called with mu
// held.
func (c *Collection) indexName(r *Record, slot int, policy OverridePolicy) {
	for _, name := range recordNames(r) {
		c.indexOne(name, r, slot, policy)
	}
}

// indexOne points name at slot. Base definitions win over profiles for the
// same name; otherwise the override policy applies.
func (c *Collection) indexOne(name string, r *Record, slot int, policy OverridePolicy) {
	if name == "" {
		return
	}
	cur, ok := c.byName[name]
	if !ok || cur == slot {
		c.byName[name] = slot
		return
	}
	existing := c.records[cur]
	switch {
	case existing.IsConstraint() && !r.IsConstraint():
		c.byName[name] = slot
	case !existing.IsConstraint() && r.IsConstraint():
	case policy == OverrideNewer:
		c.byName[name] = slot
	}
}

// ByCanonicalName looks a record up by canonical URL, then by short name.
func (c *Collection) ByCanonicalName(name string) (*Record, bool) {
	slot, ok := c.Slot(name)
	if !ok {
		return nil, false
	}
	return c.At(slot), true
}

// Slot returns the arena slot for a canonical URL or short name.
func (c *Collection) Slot(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot, ok := c.byURL[name]; ok {
		return slot, true
	}
	slot, ok := c.byName[name]
	return slot, ok
}

// At returns the record stored at slot.
func (c *Collection) At(slot int) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot < 0 || slot >= len(c.records) {
		return nil
	}
	return c.records[slot]
}

// Len returns the number of distinct canonical URLs.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Overrides returns the collisions resolved so far, in insertion order.
func (c *Collection) Overrides() []Override {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Override, len(c.overrides))
	copy(out, c.overrides)
	return out
}

// AllOfKind returns the records of a kind sorted by canonical URL.
func (c *Collection) AllOfKind(kind Kind) []*Record {
	var out []*Record
	for _, r := range c.All() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// All returns every record sorted by canonical URL.
func (c *Collection) All() []*Record {
	return c.cachedViews().all
}

// Primitives returns primitive types sorted by canonical URL.
func (c *Collection) Primitives() []*Record {
	return c.cachedViews().primitives
}

// ComplexTypes returns complex types (including extensions and logical
// models) sorted by canonical URL.
func (c *Collection) ComplexTypes() []*Record {
	return c.cachedViews().complex
}

// Resources returns resources sorted by canonical URL.
func (c *Collection) Resources() []*Record {
	return c.cachedViews().resources
}

// ValueSets returns value sets sorted by canonical URL.
func (c *Collection) ValueSets() []*Record {
	return c.cachedViews().valueSets
}

// cachedViews returns the partitions, building them on first use after a
// mutation. Callers must treat the returned slices as read-only.
func (c *Collection) cachedViews() *views {
	c.mu.RLock()
	v := c.views
	c.mu.RUnlock()
	if v != nil {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views != nil {
		return c.views
	}

	v = &views{all: make([]*Record, len(c.records))}
	copy(v.all, c.records)
	sort.Slice(v.all, func(i, j int) bool { return v.all[i].URL < v.all[j].URL })
	for _, r := range v.all {
		switch r.Kind {
		case KindPrimitive:
			v.primitives = append(v.primitives, r)
		case KindComplex, KindExtension, KindLogical:
			v.complex = append(v.complex, r)
		case KindResource:
			v.resources = append(v.resources, r)
		case KindValueSet:
			v.valueSets = append(v.valueSets, r)
		}
	}
	c.views = v
	return v
}
