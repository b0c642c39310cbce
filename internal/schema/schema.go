// Package schema holds the declarative per-kind field rules that drive draft
// defaults, validation, and submission payloads.
//
// Schemas are data, not code: the built-in set is decoded from the embedded
// kinds.yaml, and alternative sets can be loaded with Load.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

//go:embed kinds.yaml
var builtin []byte

// Field types.
const (
	TypeString = "string"
	TypeText   = "text"
	TypeNumber = "number"
	TypeBool   = "bool"
	TypeRef    = "ref"
	TypeRefs   = "refs"
	TypeDate   = "date"
)

// Field formats.
const (
	FormatUUID  = "uuid"
	FormatEmail = "email"
)

// Rule names used as keys in Field.Messages.
const (
	RuleType      = "type"
	RuleRequired  = "required"
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleFormat    = "format"
	RuleMin       = "min"
	RuleMax       = "max"
	RuleKnown     = "known"
)

// Field describes one editable (or read-only) field of a kind.
type Field struct {
	Name      string            `yaml:"name"`
	Label     string            `yaml:"label"`
	Type      string            `yaml:"type"`
	Ref       string            `yaml:"ref,omitempty"`      // referenced kind for ref and refs
	Required  bool              `yaml:"required,omitempty"` // empty values fail
	Nullable  bool              `yaml:"nullable,omitempty"` // empty values are sent as null
	ReadOnly  bool              `yaml:"readonly,omitempty"` // never submitted
	MinLength *int              `yaml:"min_length,omitempty"`
	MaxLength *int              `yaml:"max_length,omitempty"`
	Min       *float64          `yaml:"min,omitempty"`
	Max       *float64          `yaml:"max,omitempty"`
	Format    string            `yaml:"format,omitempty"`
	Known     bool              `yaml:"known,omitempty"` // ids must exist in the Ref collection
	Default   any               `yaml:"default,omitempty"`
	Messages  map[string]string `yaml:"messages,omitempty"`
}

// Schema is the field set and endpoint naming of one kind.
type Schema struct {
	Kind       string  `yaml:"kind"`
	Label      string  `yaml:"label"`
	Collection string  `yaml:"collection"`
	Record     string  `yaml:"record"`
	Subject    string  `yaml:"subject"`
	Channel    bool    `yaml:"channel,omitempty"`
	Fields     []Field `yaml:"fields"`
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Writable returns the fields that are submitted to the backend.
func (s *Schema) Writable() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.ReadOnly {
			out = append(out, f)
		}
	}
	return out
}

// Defaults returns a fresh draft for a record being created.
func (s *Schema) Defaults() types.Draft {
	d := types.Draft{"id": ""}
	for _, f := range s.Fields {
		d[f.Name] = f.zero()
		if f.Default == nil {
			continue
		}
		switch f.Type {
		case TypeNumber:
			if n, ok := toFloat(f.Default); ok {
				d[f.Name] = n
			}
		case TypeBool:
			if b, ok := f.Default.(bool); ok {
				d[f.Name] = b
			}
		case TypeString, TypeText, TypeRef:
			if str, ok := f.Default.(string); ok {
				d[f.Name] = str
			}
		}
	}
	return d
}

// zero is the empty draft value for the field's type.
func (f Field) zero() any {
	switch f.Type {
	case TypeNumber:
		return float64(0)
	case TypeBool:
		return false
	case TypeRefs:
		return []string{}
	case TypeDate:
		return zeroTime
	default:
		return ""
	}
}

// Registry maps kinds to their schemas.
type Registry struct {
	kinds map[string]*Schema
	order []string
}

var knownTypes = []string{TypeString, TypeText, TypeNumber, TypeBool, TypeRef, TypeRefs, TypeDate}

// Load decodes a YAML list of schemas and checks that every field is
// well-formed.
func Load(r io.Reader) (*Registry, error) {
	var list []*Schema
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding schemas: %w", err)
	}

	reg := &Registry{kinds: make(map[string]*Schema, len(list))}
	for _, s := range list {
		if s.Kind == "" {
			return nil, errors.New("schema without kind")
		}
		if _, dup := reg.kinds[s.Kind]; dup {
			return nil, fmt.Errorf("duplicate schema for kind %q", s.Kind)
		}
		if s.Collection == "" || s.Record == "" {
			return nil, fmt.Errorf("schema %s: collection and record endpoints are required", s.Kind)
		}
		for _, f := range s.Fields {
			if !slices.Contains(knownTypes, f.Type) {
				return nil, fmt.Errorf("schema %s: field %s has unknown type %q", s.Kind, f.Name, f.Type)
			}
			if (f.Type == TypeRef || f.Type == TypeRefs) && f.Ref == "" {
				return nil, fmt.Errorf("schema %s: reference field %s names no kind", s.Kind, f.Name)
			}
			if f.Format != "" && f.Format != FormatUUID && f.Format != FormatEmail {
				return nil, fmt.Errorf("schema %s: field %s has unknown format %q", s.Kind, f.Name, f.Format)
			}
		}
		reg.kinds[s.Kind] = s
		reg.order = append(reg.order, s.Kind)
	}

	for _, s := range list {
		for _, f := range s.Fields {
			if f.Known {
				if _, ok := reg.kinds[f.Ref]; !ok {
					return nil, fmt.Errorf("schema %s: field %s references unknown kind %q", s.Kind, f.Name, f.Ref)
				}
			}
		}
	}
	return reg, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the registry decoded from the embedded schemas.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Load(bytes.NewReader(builtin))
	})
	return defaultReg, defaultErr
}

// MustDefault is like Default but panics on a malformed embedded file.
func MustDefault() *Registry {
	reg, err := Default()
	if err != nil {
		panic(err)
	}
	return reg
}

// Kind returns the schema for kind.
func (r *Registry) Kind(kind string) (*Schema, error) {
	s, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
	}
	return s, nil
}

// Kinds returns every registered kind in declaration order.
func (r *Registry) Kinds() []string {
	return slices.Clone(r.order)
}
