// ABOUTME: Registry for heap layout parsers
// ABOUTME: Manages parser plugins and selects the parser for a fixture

package heapdump

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrNoParser is returned when no parser can handle the fixture format
	ErrNoParser = errors.New("no parser found for layout format")
)

// previewSize is how much of the input format detection sees
const previewSize = 4096

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// Global registry instance
var registry = &parserRegistry{
	parsers: make([]Parser, 0),
}

// Register adds a parser to the registry
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Formats returns the names of the registered parsers
func Formats() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.parsers))
	for _, p := range registry.parsers {
		names = append(names, p.Name())
	}
	return names
}

// Open reads a layout fixture with the first registered parser that
// recognizes its format.
func Open(r io.Reader) (*Layout, error) {
	// Buffer a preview since several parsers may look at it
	preview := make([]byte, previewSize)
	n, err := io.ReadFull(r, preview)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	preview = preview[:n]

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if parser.CanParse(bytes.NewReader(preview)) {
			layout, err := parser.Parse(io.MultiReader(bytes.NewReader(preview), r))
			if err != nil {
				return nil, fmt.Errorf("%s layout: %w", parser.Name(), err)
			}
			return layout, nil
		}
	}

	return nil, ErrNoParser
}

// Load opens the fixture at path
func Load(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	layout, err := Open(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return layout, nil
}
