// ABOUTME: JSON layout format read with gjson
// ABOUTME: Objects are listed by name with their space, kind and references

package heapdump

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/prateek/markbarrier/heap"
)

// JSONFormat parses layouts of the form
//
//	{"objects": [{"name": "a", "space": "old", "slots": ["b", null]}], "roots": ["a"]}
type JSONFormat struct{}

// Name returns "json"
func (p *JSONFormat) Name() string { return "json" }

// CanParse checks if the input looks like a JSON layout
func (p *JSONFormat) CanParse(r io.Reader) bool {
	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		return false
	}
	data := bytes.TrimSpace(buf[:n])
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	// The preview may be truncated; gjson reads what is there.
	return gjson.GetBytes(data, "objects").Exists()
}

// Parse reads a JSON layout
func (p *JSONFormat) Parse(r io.Reader) (*Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidLayout)
	}

	doc := gjson.ParseBytes(data)
	objects := doc.Get("objects")
	if !objects.IsArray() {
		return nil, fmt.Errorf("%w: objects must be an array", ErrInvalidLayout)
	}

	layout := &Layout{}
	for i, o := range objects.Array() {
		spec, err := parseJSONObject(o)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		layout.Objects = append(layout.Objects, spec)
	}
	for _, root := range doc.Get("roots").Array() {
		layout.Roots = append(layout.Roots, root.String())
	}
	return layout, nil
}

func parseJSONObject(o gjson.Result) (ObjectSpec, error) {
	spec := ObjectSpec{
		Name:      o.Get("name").String(),
		Capacity:  int(o.Get("capacity").Int()),
		Extension: o.Get("extension").Uint(),
	}
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: missing name", ErrInvalidLayout)
	}

	space := o.Get("space").String()
	if space == "" {
		space = heap.OldSpace.String()
	}
	var err error
	if spec.Space, err = heap.ParseSpace(space); err != nil {
		return spec, err
	}
	if spec.Kind, err = parseKind(o.Get("kind").String()); err != nil {
		return spec, err
	}

	for _, s := range o.Get("slots").Array() {
		spec.Slots = append(spec.Slots, s.String())
	}
	for _, rel := range o.Get("relocs").Array() {
		mode, err := parseRelocMode(rel.Get("mode").String())
		if err != nil {
			return spec, err
		}
		spec.Relocs = append(spec.Relocs, RelocEntry{
			Mode:           mode,
			PCOffset:       uint32(rel.Get("pc").Uint()),
			InConstantPool: rel.Get("const_pool").Bool(),
			Target:         rel.Get("target").String(),
		})
	}
	for _, d := range o.Get("descriptors").Array() {
		entry := d.Array()
		if len(entry) != 3 {
			return spec, fmt.Errorf("%w: descriptor needs key, details and value", ErrInvalidLayout)
		}
		spec.Descriptors = append(spec.Descriptors, [3]string{entry[0].String(), entry[1].String(), entry[2].String()})
	}
	return spec, nil
}

// init registers the JSON format
func init() {
	Register(&JSONFormat{})
}
