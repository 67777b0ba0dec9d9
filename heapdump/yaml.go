// ABOUTME: YAML layout format decoded with yaml.v3
// ABOUTME: Same object model as the JSON format, written as YAML documents

package heapdump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/prateek/markbarrier/heap"
)

// YAMLFormat parses layouts of the form
//
//	objects:
//	  - name: a
//	    space: old
//	    slots: [b, null]
//	roots: [a]
type YAMLFormat struct{}

type yamlLayout struct {
	Objects []yamlObject `yaml:"objects"`
	Roots   []string     `yaml:"roots"`
}

type yamlObject struct {
	Name        string      `yaml:"name"`
	Space       string      `yaml:"space"`
	Kind        string      `yaml:"kind"`
	Slots       []*string   `yaml:"slots"`
	Relocs      []yamlReloc `yaml:"relocs"`
	Capacity    int         `yaml:"capacity"`
	Descriptors [][]string  `yaml:"descriptors"`
	Extension   uint64      `yaml:"extension"`
}

type yamlReloc struct {
	Mode      string `yaml:"mode"`
	PC        uint32 `yaml:"pc"`
	ConstPool bool   `yaml:"const_pool"`
	Target    string `yaml:"target"`
}

// Name returns "yaml"
func (p *YAMLFormat) Name() string { return "yaml" }

// CanParse checks for a top-level objects key
func (p *YAMLFormat) CanParse(r io.Reader) bool {
	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(buf[:n]))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || trimmed == "---" {
			continue
		}
		if strings.HasPrefix(line, "objects:") {
			return true
		}
		if strings.HasPrefix(trimmed, "{") {
			return false
		}
	}
	return false
}

// Parse reads a YAML layout
func (p *YAMLFormat) Parse(r io.Reader) (*Layout, error) {
	var doc yamlLayout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	layout := &Layout{Roots: doc.Roots}
	for i, o := range doc.Objects {
		spec, err := o.spec()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		layout.Objects = append(layout.Objects, spec)
	}
	return layout, nil
}

func (o yamlObject) spec() (ObjectSpec, error) {
	spec := ObjectSpec{Name: o.Name, Capacity: o.Capacity, Extension: o.Extension}
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: missing name", ErrInvalidLayout)
	}
	space := o.Space
	if space == "" {
		space = heap.OldSpace.String()
	}
	var err error
	if spec.Space, err = heap.ParseSpace(space); err != nil {
		return spec, err
	}
	if spec.Kind, err = parseKind(o.Kind); err != nil {
		return spec, err
	}
	for _, s := range o.Slots {
		if s == nil {
			spec.Slots = append(spec.Slots, "")
			continue
		}
		spec.Slots = append(spec.Slots, *s)
	}
	for _, rel := range o.Relocs {
		mode, err := parseRelocMode(rel.Mode)
		if err != nil {
			return spec, err
		}
		spec.Relocs = append(spec.Relocs, RelocEntry{
			Mode: mode, PCOffset: rel.PC, InConstantPool: rel.ConstPool, Target: rel.Target,
		})
	}
	for _, d := range o.Descriptors {
		if len(d) != 3 {
			return spec, fmt.Errorf("%w: descriptor needs key, details and value", ErrInvalidLayout)
		}
		spec.Descriptors = append(spec.Descriptors, [3]string{d[0], d[1], d[2]})
	}
	return spec, nil
}

// init registers the YAML format
func init() {
	Register(&YAMLFormat{})
}
