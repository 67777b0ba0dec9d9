// ABOUTME: Tests for the parser registry system
// ABOUTME: Validates parser registration and selection

package heapdump

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// mockParser is a test parser implementation
type mockParser struct {
	name string
}

func (p *mockParser) Name() string { return p.name }

func (p *mockParser) CanParse(r io.Reader) bool {
	// Check if first line contains parser name
	buf := make([]byte, 100)
	n, _ := r.Read(buf)
	return strings.Contains(string(buf[:n]), p.name)
}

func (p *mockParser) Parse(r io.Reader) (*Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &Layout{Roots: []string{p.name, string(data)}}, nil
}

// withRegistry swaps in an empty registry for the duration of a test
func withRegistry(t *testing.T) {
	t.Helper()
	saved := registry
	registry = &parserRegistry{
		parsers: make([]Parser, 0),
	}
	t.Cleanup(func() { registry = saved })
}

func TestRegister(t *testing.T) {
	withRegistry(t)

	Register(&mockParser{name: "parser1"})
	Register(&mockParser{name: "parser2"})

	if len(registry.parsers) != 2 {
		t.Errorf("Expected 2 parsers registered, got %d", len(registry.parsers))
	}
	if got := strings.Join(Formats(), ","); got != "parser1,parser2" {
		t.Errorf("Formats() = %s", got)
	}
}

func TestOpen(t *testing.T) {
	withRegistry(t)

	Register(&mockParser{name: "json"})
	Register(&mockParser{name: "yaml"})

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "JSON file",
			content: "json layout data",
			want:    "json",
		},
		{
			name:    "YAML file",
			content: "yaml layout data",
			want:    "yaml",
		},
		{
			name:    "Unknown format",
			content: "unknown format",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Open(strings.NewReader(tt.content))
			if tt.wantErr {
				if !errors.Is(err, ErrNoParser) {
					t.Errorf("Expected ErrNoParser, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if layout.Roots[0] != tt.want {
				t.Errorf("Parsed by %s, want %s", layout.Roots[0], tt.want)
			}
			if layout.Roots[1] != tt.content {
				t.Errorf("Parser saw %q, want the whole input", layout.Roots[1])
			}
		})
	}
}

func TestOpenPassesLongInputThrough(t *testing.T) {
	withRegistry(t)
	Register(&mockParser{name: "json"})

	content := "json " + strings.Repeat("x", 3*previewSize)
	layout, err := Open(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(layout.Roots[1]) != len(content) {
		t.Errorf("Parser saw %d bytes, want %d", len(layout.Roots[1]), len(content))
	}
}

func TestParserSelection(t *testing.T) {
	withRegistry(t)

	// The first parser that recognizes the input wins
	Register(&mockParser{name: "specific"})
	Register(&mockParser{name: "spec"})

	layout, err := Open(strings.NewReader("specific format data"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if layout.Roots[0] != "specific" {
		t.Errorf("Selected %s, want specific", layout.Roots[0])
	}
}

func TestThreadSafeRegistry(t *testing.T) {
	withRegistry(t)

	// Concurrent registration should be safe
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			Register(&mockParser{name: string(rune('a' + id))})
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if len(registry.parsers) != 10 {
		t.Errorf("Expected 10 parsers after concurrent registration, got %d", len(registry.parsers))
	}
}

func TestBuiltinFormats(t *testing.T) {
	got := strings.Join(Formats(), ",")
	if !strings.Contains(got, "json") || !strings.Contains(got, "yaml") {
		t.Errorf("Formats() = %s, want json and yaml", got)
	}
}
