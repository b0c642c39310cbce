package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Ref
	}{
		{"null is empty", `null`, Ref{}},
		{"bare id", `"S1"`, Ref{ID: "S1"}},
		{"name field", `{"id":"S1","name":"Open"}`, Ref{ID: "S1", Name: "Open"}},
		{"title field", `{"id":"m1","title":"Weekly check"}`, Ref{ID: "m1", Name: "Weekly check"}},
		{"person names", `{"id":"u1","first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"}`, Ref{ID: "u1", Name: "Ada Lovelace"}},
		{"email fallback", `{"id":"u1","email":"ada@example.com"}`, Ref{ID: "u1", Name: "ada@example.com"}},
		{"null id", `{"id":null,"name":null,"address":null}`, Ref{}},
		{"extra fields dropped", `{"id":"f1","name":"North","address":"1 Main St"}`, Ref{ID: "f1", Name: "North"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Ref
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefIDs(t *testing.T) {
	assert.Equal(t, []string{}, RefIDs(nil))
	assert.Equal(t, []string{"a", "b"}, RefIDs([]Ref{{ID: "a"}, {}, {ID: "b", Name: "B"}}))
}

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
		{"rfc3339", `"2024-03-01T10:20:30Z"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"offset converted to utc", `"2024-03-01T12:20:30+02:00"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"fractional seconds", `"2024-03-01T10:20:30.123456Z"`, time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC)},
		{"no zone", `"2024-03-01T10:20:30"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"date only", `"2024-03-01"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.True(t, tt.want.Equal(got.Time), "got %v", got.Time)
		})
	}

	var bad Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestTimestampMarshal(t *testing.T) {
	b, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(Timestamp{time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-01T10:00:00Z"`, string(b))
}

func TestDraftClone(t *testing.T) {
	d := Draft{"name": "Lathe", "executors": []string{"u1"}}
	c := d.Clone()
	c["name"] = "Press"
	c.IDs("executors")[0] = "u2"

	assert.Equal(t, "Lathe", d.String("name"))
	assert.Equal(t, []string{"u1"}, d.IDs("executors"))
	assert.Nil(t, Draft(nil).Clone())
}
