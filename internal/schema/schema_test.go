package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	typeID   = "0190c6a4-2b6e-7c3a-9f2e-1d2c3b4a5f60"
	statusID = "0190c6a4-2b6e-7c3a-9f2e-1d2c3b4a5f61"
)

func machines(t *testing.T) *Schema {
	t.Helper()
	s, err := MustDefault().Kind(types.KindMachines)
	require.NoError(t, err)
	return s
}

func TestDefault_CoversEveryKind(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	for _, kind := range append(append([]string{}, types.PrimaryKinds...), types.LookupKinds...) {
		s, err := reg.Kind(kind)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, s.Collection)
		assert.NotEmpty(t, s.Record)
		assert.NotEmpty(t, s.Fields)
	}

	_, err = reg.Kind("widgets")
	assert.ErrorIs(t, err, types.ErrUnknownKind)
}

func TestLoad_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing kind", `- {collection: a, record: b}`},
		{"missing endpoints", `- {kind: a}`},
		{"bad type", `- {kind: a, collection: a, record: b, fields: [{name: x, type: blob}]}`},
		{"ref without kind", `- {kind: a, collection: a, record: b, fields: [{name: x, type: ref}]}`},
		{"unknown known kind", `- {kind: a, collection: a, record: b, fields: [{name: x, type: ref, ref: z, known: true}]}`},
		{"bad format", `- {kind: a, collection: a, record: b, fields: [{name: x, type: string, format: phone}]}`},
		{"duplicate", "- {kind: a, collection: a, record: b}\n- {kind: a, collection: a, record: b}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefaults(t *testing.T) {
	reg := MustDefault()

	roles, err := reg.Kind(types.KindRoles)
	require.NoError(t, err)
	d := roles.Defaults()
	assert.Equal(t, "", d["id"])
	assert.Equal(t, float64(0), d["level"])
	assert.Equal(t, true, d["has_password"])
	assert.Equal(t, false, d["machine_view"])

	tasks, err := reg.Kind(types.KindTasks)
	require.NoError(t, err)
	d = tasks.Defaults()
	assert.Equal(t, []string{}, d["executors"])
	assert.True(t, d["due_at"].(time.Time).IsZero())
}

func TestValidate_EmptyNameIsRequired(t *testing.T) {
	s := machines(t)
	d := s.Defaults()
	d["machine_type"] = typeID
	d["status"] = statusID

	assert.Equal(t, types.ValidationErrors{"name": "Name is required"}, s.Validate(d, nil))
}

func TestValidate_MachineRules(t *testing.T) {
	s := machines(t)
	valid := func() types.Draft {
		d := s.Defaults()
		d["name"] = "Lathe"
		d["machine_type"] = typeID
		d["status"] = statusID
		return d
	}

	tests := []struct {
		name   string
		mutate func(types.Draft)
		want   types.ValidationErrors
	}{
		{"valid", func(types.Draft) {}, types.ValidationErrors{}},
		{"name too long", func(d types.Draft) { d["name"] = strings.Repeat("x", 256) },
			types.ValidationErrors{"name": "Name must be 255 characters or less"}},
		{"required before format", func(d types.Draft) { d["machine_type"] = "" },
			types.ValidationErrors{"machine_type": "Machine Type is required"}},
		{"bad uuid", func(d types.Draft) { d["machine_type"] = "T1" },
			types.ValidationErrors{"machine_type": "Must be a valid Machine Type"}},
		{"empty optional skips format", func(d types.Draft) { d["facility"] = "" }, types.ValidationErrors{}},
		{"optional still checked when set", func(d types.Draft) { d["facility"] = "north" },
			types.ValidationErrors{"facility": "Must be a valid Facility"}},
		{"wrong type", func(d types.Draft) { d["make"] = 12 },
			types.ValidationErrors{"make": "Make has an invalid value"}},
		{"read-only ignored", func(d types.Draft) { d["created"] = "garbage" }, types.ValidationErrors{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			assert.Equal(t, tt.want, s.Validate(d, nil))
		})
	}
}

func TestValidate_CustomMessagesAndNumbers(t *testing.T) {
	reg := MustDefault()

	tasks, _ := reg.Kind(types.KindTasks)
	d := tasks.Defaults()
	d["title"] = "Oil"
	d["description"] = "Oil the lathe"
	errs := tasks.Validate(d, nil)
	assert.Equal(t, "Type must be set", errs["task_type"])
	assert.Equal(t, "Status must be set", errs["status"])

	roles, _ := reg.Kind(types.KindRoles)
	d = roles.Defaults()
	d["name"] = "Operator"
	d["level"] = float64(-1)
	assert.Equal(t, types.ValidationErrors{"level": "Must be 0 or greater"}, roles.Validate(d, nil))

	users, _ := reg.Kind(types.KindUsers)
	d = users.Defaults()
	d["first_name"] = "Ada"
	d["last_name"] = "Lovelace"
	d["email"] = "not an email"
	d["role"] = typeID
	assert.Equal(t, types.ValidationErrors{"email": "Must be a valid email"}, users.Validate(d, nil))
}

func TestValidate_KnownIDs(t *testing.T) {
	s := machines(t)
	d := s.Defaults()
	d["name"] = "Lathe"
	d["machine_type"] = typeID
	d["status"] = statusID

	lookup := LookupFunc(func(kind string) map[string]bool {
		switch kind {
		case types.KindMachineTypes:
			return map[string]bool{typeID: true}
		case types.KindMachineStatuses:
			return map[string]bool{"0190c6a4-2b6e-7c3a-9f2e-000000000000": true}
		}
		return nil
	})

	errs := s.Validate(d, lookup)
	assert.Equal(t, types.ValidationErrors{"status": "Must be a known Status"}, errs)
}

func TestValidate_IsPure(t *testing.T) {
	s := machines(t)
	d := types.Draft{"name": "", "machine_type": "T1"}
	before := d.Clone()

	first := s.Validate(d, nil)
	second := s.Validate(d, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, before, d)
}

func TestPayload_RoundTrip(t *testing.T) {
	var m types.Machine
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "m1", "name": "Lathe", "make": null,
		"machine_type": {"id": "T1", "name": "Turning"},
		"status": {"id": "S1", "name": "Open"},
		"facility": null,
		"created": "2024-03-01T10:00:00Z", "edited": "2024-03-01T10:00:00Z"
	}`), &m))

	d := m.Draft()
	assert.Equal(t, "S1", d["status"])

	p := machines(t).Payload(d)
	assert.Equal(t, "S1", p["status"])
	assert.Equal(t, "T1", p["machine_type"])
	assert.Nil(t, p["make"], "empty nullable scalar is sent as null")
	assert.Nil(t, p["facility"])
	assert.NotContains(t, p, "created")
	assert.NotContains(t, p, "id")
}

func TestPayload_TaskValues(t *testing.T) {
	tasks, _ := MustDefault().Kind(types.KindTasks)
	d := tasks.Defaults()
	d["due_at"] = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	delete(d, "executors")

	p := tasks.Payload(d)
	assert.Equal(t, "2024-05-01T08:00:00Z", p["due_at"])
	assert.Equal(t, []string{}, p["executors"])
	assert.Equal(t, false, p["archived"])
	assert.Nil(t, p["machine"])
}

func TestDraftFromPayload(t *testing.T) {
	tasks, _ := MustDefault().Kind(types.KindTasks)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"title": "Oil", "task_type": {"id": "TT"}, "status": "TS",
		"executors": ["u1", {"id": "u2"}], "due_at": "2024-05-01T08:00:00Z",
		"archived": "yes"
	}`), &body))

	d := tasks.DraftFromPayload(body)
	assert.Equal(t, "Oil", d["title"])
	assert.Equal(t, "TT", d["task_type"])
	assert.Equal(t, "TS", d["status"])
	assert.Equal(t, []string{"u1", "u2"}, d["executors"])
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), d["due_at"])
	assert.Equal(t, "", d["description"], "absent fields take defaults")

	errs := tasks.Validate(d, nil)
	assert.Equal(t, "Must be checked or unchecked", errs["archived"])
}

func TestParse(t *testing.T) {
	tasks, _ := MustDefault().Kind(types.KindTasks)

	v, err := tasks.Parse("executors", "u1, u2,,")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, v)

	v, err = tasks.Parse("archived", "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = tasks.Parse("due_at", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), v)

	_, err = tasks.Parse("archived", "maybe")
	assert.Error(t, err)

	_, err = tasks.Parse("colour", "red")
	assert.ErrorIs(t, err, types.ErrUnknownField)
}
