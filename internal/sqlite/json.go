package sqlite

import (
	"encoding/json"
	"fmt"
	"time"
)

// Body fields the storage layer reads or maintains itself.
const (
	fieldID      = "id"
	fieldCreated = "created"
	fieldEdited  = "edited"
)

// Body is one stored record: the JSON object the API reads and writes.
type Body map[string]any

// ID returns the record id, or "" when absent.
func (b Body) ID() string {
	id, _ := b[fieldID].(string)
	return id
}

// Clone returns a shallow copy of b.
func (b Body) Clone() Body {
	out := make(Body, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func decodeBody(raw []byte) (Body, error) {
	var b Body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("decoding record: not an object")
	}
	return b, nil
}

func encodeBody(b Body) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", b.ID(), err)
	}
	return raw, nil
}

// timestampOf reads an RFC 3339 body field, falling back to fallback.
func timestampOf(b Body, field string, fallback time.Time) time.Time {
	s, _ := b[field].(string)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return fallback
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
