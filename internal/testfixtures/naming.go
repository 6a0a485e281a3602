package testfixtures

import (
	"fmt"
	"sync"
)

// NameGenerator produces deterministic physical names for tests.
type NameGenerator struct {
	mu      sync.Mutex
	counter uint64
}

// NewNameGenerator constructs a generator that yields sequential names.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{}
}

// TableName returns the next table name in the sequence.
func (g *NameGenerator) TableName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("t_test%06d", g.counter)
}

// ColumnName returns the next column name in the sequence.
func (g *NameGenerator) ColumnName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("c_test%06d", g.counter)
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *NameGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}
