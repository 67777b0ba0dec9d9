// ABOUTME: Parser interface for heap layout formats
// ABOUTME: Defines the contract for pluggable fixture parsers

package heapdump

import (
	"io"
)

// Parser is the interface for heap layout parsers
type Parser interface {
	// Name identifies the format
	Name() string

	// CanParse checks if this parser can handle the given format.
	// The reader is a preview: implementations read a small amount to
	// detect the format and must not expect the entire stream.
	CanParse(r io.Reader) bool

	// Parse reads the fixture from a fresh reader positioned at the start
	Parse(r io.Reader) (*Layout, error)
}
