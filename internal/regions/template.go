// Package regions proposes the boxes on a normalized card where each
// field is read: fixed template ratios, boxes derived from a full-page OCR
// pass, and a coarse grid as the last resort.
package regions

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"idcard-ocr/internal/idcard"
	"idcard-ocr/pkg/geometry"
)

// Box is a field box as fractions of the card width and height.
type Box struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
}

// Validate checks 0 <= left < right <= 1 and 0 <= top < bottom <= 1.
func (b Box) Validate() error {
	if b.Left < 0 || b.Right > 1 || b.Left >= b.Right {
		return fmt.Errorf("horizontal bounds [%.3f, %.3f] out of order or outside [0,1]", b.Left, b.Right)
	}
	if b.Top < 0 || b.Bottom > 1 || b.Top >= b.Bottom {
		return fmt.Errorf("vertical bounds [%.3f, %.3f] out of order or outside [0,1]", b.Top, b.Bottom)
	}
	return nil
}

// Rect converts to a relative rectangle.
func (b Box) Rect() geometry.Rect {
	return geometry.Rect{X: b.Left, Y: b.Top, Width: b.Right - b.Left, Height: b.Bottom - b.Top}
}

// Template is a named set of field boxes for one card layout.
type Template struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      map[idcard.Field]Box `yaml:"fields" json:"fields"`
}

// CCCD returns the layout of the chip-based citizen identity card.
func CCCD() Template {
	return Template{
		Name:        "cccd",
		Description: "Căn cước công dân, front side",
		Fields: map[idcard.Field]Box{
			idcard.FieldIDNumber:     {Left: 0.55, Top: 0.12, Right: 0.95, Bottom: 0.22},
			idcard.FieldFullName:     {Left: 0.05, Top: 0.22, Right: 0.75, Bottom: 0.32},
			idcard.FieldDOB:          {Left: 0.05, Top: 0.32, Right: 0.45, Bottom: 0.42},
			idcard.FieldGender:       {Left: 0.46, Top: 0.32, Right: 0.65, Bottom: 0.38},
			idcard.FieldNationality:  {Left: 0.05, Top: 0.42, Right: 0.50, Bottom: 0.50},
			idcard.FieldPlaceOfBirth: {Left: 0.05, Top: 0.50, Right: 0.90, Bottom: 0.70},
		},
	}
}

// Validate checks the name, field names and every box.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("template %s has no fields", t.Name)
	}
	for f, b := range t.Fields {
		if _, ok := idcard.ParseField(string(f)); !ok {
			return fmt.Errorf("template %s: unknown field %q", t.Name, f)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("template %s field %s: %w", t.Name, f, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	c := t
	c.Fields = make(map[idcard.Field]Box, len(t.Fields))
	for f, b := range t.Fields {
		c.Fields[f] = b
	}
	return c
}

// Fingerprint hashes the field boxes. Templates with equal boxes share a
// fingerprint whatever their name.
func (t Template) Fingerprint() string {
	h := sha256.New()
	for _, f := range idcard.AllFields {
		if b, ok := t.Fields[f]; ok {
			fmt.Fprintf(h, "%s=%.4f,%.4f,%.4f,%.4f;", f, b.Left, b.Top, b.Right, b.Bottom)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Parse reads a YAML template.
func Parse(data []byte) (Template, error) {
	var t Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Template{}, fmt.Errorf("failed to parse template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

// LoadFile reads a YAML template from disk.
func LoadFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("failed to read template: %w", err)
	}
	return Parse(data)
}

// WriteYAML writes the template as YAML.
func (t Template) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return err
	}
	return enc.Close()
}

// Registry holds templates by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns a registry containing the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	_ = r.Register(CCCD())
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t.Clone()
	return nil
}

// Lookup returns a template by name.
func (r *Registry) Lookup(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, false
	}
	return t.Clone(), true
}

// Names lists registered template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns a registered template, or loads nameOrPath as a YAML
// file when no template has that name.
func (r *Registry) Resolve(nameOrPath string) (Template, error) {
	if t, ok := r.Lookup(nameOrPath); ok {
		return t, nil
	}
	if _, err := os.Stat(nameOrPath); err != nil {
		return Template{}, fmt.Errorf("unknown template %q (known: %v)", nameOrPath, r.Names())
	}
	return LoadFile(nameOrPath)
}
