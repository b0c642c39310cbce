package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is an entity instance of one kind. RecordID returns the
// server-assigned identifier; an empty id denotes a record that has not been
// persisted. Draft denormalizes the record into flat editable fields.
//
// Implementations must tolerate a nil receiver in RecordID so that
// collections decoded from JSON arrays containing null can be filtered.
type Record interface {
	RecordID() string
	Draft() Draft
}

// Ref is a reference to another record: its id and a display name. The
// backend nests referenced records as objects; only these two fields are
// retained.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts null (the empty Ref), a bare id string, or an object.
// The display name is taken from name, title, first_name/last_name, or email,
// in that order.
func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}

	var raw struct {
		ID        *string `json:"id"`
		Name      *string `json:"name"`
		Title     *string `json:"title"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Email     *string `json:"email"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decoding reference: %w", err)
	}

	*r = Ref{ID: deref(raw.ID)}
	switch {
	case deref(raw.Name) != "":
		r.Name = deref(raw.Name)
	case deref(raw.Title) != "":
		r.Name = deref(raw.Title)
	case deref(raw.FirstName) != "" || deref(raw.LastName) != "":
		r.Name = strings.TrimSpace(deref(raw.FirstName) + " " + deref(raw.LastName))
	default:
		r.Name = deref(raw.Email)
	}
	return nil
}

// IsZero reports whether the reference points nowhere.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// RefIDs returns the ids of refs, never nil.
func RefIDs(refs []Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// timestampLayouts are tried in order when decoding server timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// Timestamp is a server timestamp. JSON null and "" decode to the zero value,
// which also encodes back to null.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses an ISO-8601 timestamp in any of the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Draft is the flat editable projection of a record. Values are one of:
// string (scalars and single references, "" when empty), bool, float64,
// []string (multi-reference ids, never nil), or time.Time (zero when unset).
type Draft map[string]any

// Clone returns a copy of the draft. Slice values are copied too.
func (d Draft) Clone() Draft {
	if d == nil {
		return nil
	}
	out := make(Draft, len(d))
	for k, v := range d {
		if ids, ok := v.([]string); ok {
			v = append([]string{}, ids...)
		}
		out[k] = v
	}
	return out
}

// String returns the string value of field, or "" if absent or not a string.
func (d Draft) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// IDs returns the multi-reference value of field, or nil.
func (d Draft) IDs(field string) []string {
	ids, _ := d[field].([]string)
	return ids
}
