package domain

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ClassAvailability tags the outcome of a class-catalog lookup
type ClassAvailability int

const (
	ClassesOK ClassAvailability = iota
	ClassesUnavailable
	ClassesRetrievalFailed
)

// ClassOptions is the result of asking which class names a task can produce.
// Expected branching ("no classes for this task") is a variant, not an error.
type ClassOptions struct {
	Availability ClassAvailability
	Names        []string
	Reason       error
}

// OKClasses wraps a successful lookup
func OKClasses(names []string) ClassOptions {
	return ClassOptions{Availability: ClassesOK, Names: names}
}

// UnavailableClasses marks a task with no published class list
func UnavailableClasses() ClassOptions {
	return ClassOptions{Availability: ClassesUnavailable}
}

// FailedClasses wraps a retrieval failure
func FailedClasses(reason error) ClassOptions {
	return ClassOptions{Availability: ClassesRetrievalFailed, Reason: reason}
}

// ClassCatalog maps task identifiers to their class names
type ClassCatalog struct {
	Tasks map[string][]string `yaml:"tasks"`
}

// LoadClassCatalog reads a task-to-classes catalog from a YAML file
func LoadClassCatalog(path string) (*ClassCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading class catalog: %w", err)
	}
	var cat ClassCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing class catalog: %w", err)
	}
	return &cat, nil
}

// ClassesFor looks up the class names for a task
func (c *ClassCatalog) ClassesFor(task string) ClassOptions {
	if task == "" {
		task = "total"
	}
	names, ok := c.Tasks[task]
	if !ok {
		return UnavailableClasses()
	}
	return OKClasses(names)
}

// ClassCacheKey identifies one catalog lookup. The cache is owned by the
// orchestrator's caller, never by the pipeline itself.
type ClassCacheKey struct {
	Interpreter string
	Task        string
}

// ClassCache memoizes catalog lookups per interpreter and task
type ClassCache struct {
	mu      sync.Mutex
	entries map[ClassCacheKey]ClassOptions
}

// NewClassCache creates an empty cache
func NewClassCache() *ClassCache {
	return &ClassCache{entries: make(map[ClassCacheKey]ClassOptions)}
}

// Get returns a memoized lookup, computing it on first use
func (c *ClassCache) Get(key ClassCacheKey, fetch func() ClassOptions) ClassOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts, ok := c.entries[key]; ok {
		return opts
	}
	opts := fetch()
	// Failed retrievals are not cached so a transient failure can recover
	if opts.Availability != ClassesRetrievalFailed {
		c.entries[key] = opts
	}
	return opts
}
