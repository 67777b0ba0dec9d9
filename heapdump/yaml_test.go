// ABOUTME: Tests for the YAML layout format
// ABOUTME: Checks it decodes to the same layout as the JSON format

package heapdump

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const yamlLayoutData = `# two objects and a cycle
objects:
  - name: root
    space: old
    slots: [child, null]
  - name: child
    space: new
    slots: [root]
  - name: fn
    space: code
    kind: code
    relocs:
      - {mode: full-embedded-object, pc: 8, target: child}
roots: [root]
`

const jsonLayoutData = `{
	"objects": [
		{"name": "root", "space": "old", "slots": ["child", null]},
		{"name": "child", "space": "new", "slots": ["root"]},
		{"name": "fn", "space": "code", "kind": "code",
		 "relocs": [{"mode": "full-embedded-object", "pc": 8, "target": "child"}]}
	],
	"roots": ["root"]
}`

func TestYAMLMatchesJSON(t *testing.T) {
	fromYAML, err := (&YAMLFormat{}).Parse(strings.NewReader(yamlLayoutData))
	if err != nil {
		t.Fatalf("YAML parse failed: %v", err)
	}
	fromJSON, err := (&JSONFormat{}).Parse(strings.NewReader(jsonLayoutData))
	if err != nil {
		t.Fatalf("JSON parse failed: %v", err)
	}
	if !reflect.DeepEqual(fromYAML, fromJSON) {
		t.Errorf("YAML layout %+v differs from JSON layout %+v", fromYAML, fromJSON)
	}
}

func TestYAMLCanParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"layout", yamlLayoutData, true},
		{"document marker", "---\nobjects: []\n", true},
		{"nested objects key", "world:\n  objects: []\n", false},
		{"json", jsonLayoutData, false},
		{"empty", "", false},
	}

	parser := &YAMLFormat{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parser.CanParse(strings.NewReader(tt.content)); got != tt.want {
				t.Errorf("CanParse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad syntax", "objects: [\n"},
		{"unknown field", "objects:\n  - name: a\n    colour: red\n"},
		{"missing name", "objects:\n  - space: old\n"},
		{"unknown kind", "objects:\n  - name: a\n    kind: closure\n"},
	}

	parser := &YAMLFormat{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(strings.NewReader(tt.content))
			if !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("Expected ErrInvalidLayout, got %v", err)
			}
		})
	}
}
