package schema

import (
	"time"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Payload converts a draft into the JSON body submitted to the backend.
// Only writable fields are included. Empty nullable values become null,
// dates become RFC 3339 strings, and multi-references are never null.
func (s *Schema) Payload(d types.Draft) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Writable() {
		v, ok := d[f.Name]
		if !ok || v == nil {
			v = f.zero()
		}

		switch f.Type {
		case TypeRefs:
			ids, _ := v.([]string)
			if ids == nil {
				ids = []string{}
			}
			out[f.Name] = ids
		case TypeDate:
			t, _ := v.(time.Time)
			if t.IsZero() {
				out[f.Name] = nil
			} else {
				out[f.Name] = t.UTC().Format(time.RFC3339)
			}
		case TypeString, TypeText, TypeRef:
			str, _ := v.(string)
			if str == "" && f.Nullable {
				out[f.Name] = nil
			} else {
				out[f.Name] = str
			}
		default:
			out[f.Name] = v
		}
	}
	return out
}

// DraftFromPayload maps a decoded JSON body onto a draft of s. Values that
// cannot be converted are kept as received so that Validate reports them.
// Reference objects are reduced to their id.
func (s *Schema) DraftFromPayload(body map[string]any) types.Draft {
	d := s.Defaults()
	if id, ok := body["id"].(string); ok {
		d["id"] = id
	}
	for _, f := range s.Fields {
		raw, present := body[f.Name]
		if !present {
			continue
		}
		if raw == nil {
			d[f.Name] = f.zero()
			continue
		}

		switch f.Type {
		case TypeRef:
			d[f.Name] = refID(raw)
		case TypeRefs:
			list, ok := raw.([]any)
			if !ok {
				d[f.Name] = raw
				continue
			}
			ids := make([]string, 0, len(list))
			for _, item := range list {
				if id, ok := refID(item).(string); ok && id != "" {
					ids = append(ids, id)
				}
			}
			d[f.Name] = ids
		case TypeDate:
			str, ok := raw.(string)
			if !ok {
				d[f.Name] = raw
				continue
			}
			ts, err := types.ParseTimestamp(str)
			if err != nil {
				d[f.Name] = raw
				continue
			}
			d[f.Name] = ts.Time
		default:
			d[f.Name] = raw
		}
	}
	return d
}

func refID(v any) any {
	switch r := v.(type) {
	case string:
		return r
	case map[string]any:
		if r["id"] == nil {
			return ""
		}
		return r["id"]
	default:
		return v
	}
}
