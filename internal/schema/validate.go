package schema

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

var zeroTime time.Time

// Lookup answers which ids exist for a kind. A nil or empty set means the
// collection is not loaded and disables the known rule for that kind.
type Lookup interface {
	KnownIDs(kind string) map[string]bool
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(kind string) map[string]bool

func (f LookupFunc) KnownIDs(kind string) map[string]bool { return f(kind) }

// Validate checks every writable field of d and returns one message per
// failing field. An empty result means the draft is valid. Validate is pure;
// lookup may be nil.
func (s *Schema) Validate(d types.Draft, lookup Lookup) types.ValidationErrors {
	errs := types.ValidationErrors{}
	for _, f := range s.Fields {
		if f.ReadOnly {
			continue
		}
		if msg := f.check(d[f.Name], lookup); msg != "" {
			errs[f.Name] = msg
		}
	}
	return errs
}

// check returns the message for the first rule v fails, or "".
func (f Field) check(v any, lookup Lookup) string {
	if v == nil {
		v = f.zero()
	}

	switch f.Type {
	case TypeString, TypeText, TypeRef:
		s, ok := v.(string)
		if !ok {
			return f.message(RuleType, "")
		}
		if s == "" {
			return f.emptyMessage()
		}
		n := utf8.RuneCountInString(s)
		if f.MinLength != nil && n < *f.MinLength {
			return f.message(RuleMinLength, fmt.Sprintf("%s must be at least %d characters", f.Label, *f.MinLength))
		}
		if f.MaxLength != nil && n > *f.MaxLength {
			return f.message(RuleMaxLength, fmt.Sprintf("%s must be %d characters or less", f.Label, *f.MaxLength))
		}
		if msg := f.checkFormat(s); msg != "" {
			return msg
		}
		if f.Type == TypeRef {
			return f.checkKnown([]string{s}, lookup)
		}

	case TypeRefs:
		ids, ok := v.([]string)
		if !ok {
			return f.message(RuleType, "")
		}
		if len(ids) == 0 {
			return f.emptyMessage()
		}
		for _, id := range ids {
			if msg := f.checkFormat(id); msg != "" {
				return msg
			}
		}
		return f.checkKnown(ids, lookup)

	case TypeNumber:
		n, ok := toFloat(v)
		if !ok {
			return f.message(RuleType, "")
		}
		if f.Min != nil && n < *f.Min {
			return f.message(RuleMin, "Must be "+formatNumber(*f.Min)+" or greater")
		}
		if f.Max != nil && n > *f.Max {
			return f.message(RuleMax, "Must be "+formatNumber(*f.Max)+" or less")
		}

	case TypeBool:
		if _, ok := v.(bool); !ok {
			return f.message(RuleType, "")
		}

	case TypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return f.message(RuleType, "")
		}
		if t.IsZero() {
			return f.emptyMessage()
		}
	}
	return ""
}

// emptyMessage reports a missing required value. Empty optional values skip
// the remaining rules.
func (f Field) emptyMessage() string {
	if !f.Required {
		return ""
	}
	return f.message(RuleRequired, f.Label+" is required")
}

func (f Field) checkFormat(s string) string {
	switch f.Format {
	case FormatUUID:
		if _, err := uuid.Parse(s); err != nil {
			return f.message(RuleFormat, "Must be a valid "+f.Label)
		}
	case FormatEmail:
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return f.message(RuleFormat, "Must be a valid email")
		}
	}
	return ""
}

func (f Field) checkKnown(ids []string, lookup Lookup) string {
	if !f.Known || lookup == nil {
		return ""
	}
	known := lookup.KnownIDs(f.Ref)
	if len(known) == 0 {
		return ""
	}
	for _, id := range ids {
		if !known[id] {
			return f.message(RuleKnown, "Must be a known "+f.Label)
		}
	}
	return ""
}

func (f Field) message(rule, fallback string) string {
	if msg, ok := f.Messages[rule]; ok {
		return msg
	}
	if fallback == "" {
		return f.Label + " has an invalid value"
	}
	return fallback
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Parse converts command-line text into the draft value for field.
func (s *Schema) Parse(field, text string) (any, error) {
	f, ok := s.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, s.Kind, field)
	}
	switch f.Type {
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", field, err)
		}
		return n, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", field, err)
		}
		return b, nil
	case TypeRefs:
		ids := []string{}
		for _, part := range strings.Split(text, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
		return ids, nil
	case TypeDate:
		ts, err := types.ParseTimestamp(text)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", field, err)
		}
		return ts.Time, nil
	default:
		return text, nil
	}
}
