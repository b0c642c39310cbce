package types

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machineJSON = `{
	"id": "m1",
	"name": "Lathe",
	"make": null,
	"machine_type": {"id": "T1", "name": "Turning"},
	"status": {"id": "S1", "name": "Open"},
	"created": "2024-03-01T10:00:00Z",
	"edited": "2024-03-02T10:00:00Z",
	"facility": null,
	"image": null
}`

func TestMachineDecodeAndDraft(t *testing.T) {
	var m Machine
	require.NoError(t, json.Unmarshal([]byte(machineJSON), &m))

	d := m.Draft()
	assert.Equal(t, "m1", d["id"])
	assert.Equal(t, "Lathe", d["name"])
	assert.Equal(t, "", d["make"], "missing optional scalar becomes empty string")
	assert.Equal(t, "T1", d["machine_type"])
	assert.Equal(t, "S1", d["status"])
	assert.Equal(t, "", d["facility"], "null reference collapses to empty id")
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), d["created"])
}

func TestTaskDraftExecutors(t *testing.T) {
	var task Task
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "t1", "title": "Oil", "description": "Oil the lathe",
		"task_type": {"id": "TT"}, "status": {"id": "TS"}, "archived": false,
		"creator": {"id": "u1", "first_name": "Ada", "last_name": "L", "email": "a@x", "image": null},
		"executors": null, "machine": {"id": null, "name": null, "make": null, "image": null},
		"created": "2024-03-01T10:00:00Z", "edited": "2024-03-01T10:00:00Z", "due_at": null
	}`), &task))

	d := task.Draft()
	assert.Equal(t, []string{}, d["executors"])
	assert.Equal(t, "", d["machine"])
	assert.Equal(t, "u1", d["creator"])
	assert.True(t, d["due_at"].(time.Time).IsZero())
}

func TestNilRecordID(t *testing.T) {
	var m *Machine
	var r *Role
	assert.Equal(t, "", m.RecordID())
	assert.Equal(t, "", r.RecordID())
}

func TestRoleJSON(t *testing.T) {
	in := `{"id":"r1","name":"Operator","level":2,"has_password":true,
		"machine_view":true,"machine_edit":true,"task_view":true,"user_delete":false}`

	var r Role
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	assert.Equal(t, "Operator", r.Name)
	assert.Equal(t, 2, r.Level)
	assert.True(t, r.HasPassword)
	assert.True(t, r.Allows(SubjectMachine, ActionEdit))
	assert.False(t, r.Allows(SubjectMachine, ActionDelete))
	assert.False(t, r.Allows(SubjectUser, ActionDelete))

	d := r.Draft()
	assert.Equal(t, float64(2), d["level"])
	assert.Equal(t, true, d["machine_view"])
	assert.Equal(t, false, d["facility_delete"])

	out, err := json.Marshal(r)
	require.NoError(t, err)
	var back Role
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, r.Permissions[PermissionKey(SubjectTask, ActionView)], back.Permissions[PermissionKey(SubjectTask, ActionView)])
	assert.Len(t, back.Permissions, len(PermissionSubjects)*len(PermissionActions))
}

func TestAccountAllows(t *testing.T) {
	var none *Account
	assert.True(t, none.Allows("", ActionDelete))
	assert.False(t, none.Allows(SubjectMachine, ActionView))

	a := &Account{Role: Role{Permissions: map[string]bool{"machine_view": true}}}
	assert.True(t, a.Allows(SubjectMachine, ActionView))
	assert.False(t, a.Allows(SubjectMachine, ActionCreate))
}

func TestAPIErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		name string
		err  *APIError
		want error
	}{
		{"network", &APIError{Err: cause}, ErrTransport},
		{"server error", &APIError{Status: http.StatusInternalServerError}, ErrTransport},
		{"unauthorized", &APIError{Status: http.StatusUnauthorized}, ErrUnauthorized},
		{"forbidden", &APIError{Status: http.StatusForbidden}, ErrForbidden},
		{"not found", &APIError{Status: http.StatusNotFound}, ErrNotFound},
		{"conflict", &APIError{Status: http.StatusConflict}, ErrRejected},
		{"bad request", &APIError{Status: http.StatusBadRequest}, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}
	assert.ErrorIs(t, &APIError{Err: cause}, cause)
	assert.Contains(t, (&APIError{Status: 409, Message: "This email is already taken"}).Error(), "409 Conflict: This email is already taken")
}

func TestValidationErrors(t *testing.T) {
	v := ValidationErrors{"name": "Name is required", "email": "Must be a valid email"}
	assert.ErrorIs(t, v, ErrValidation)
	assert.Equal(t, "validation failed: email: Must be a valid email; name: Name is required", v.Error())

	c := v.Clone()
	delete(c, "name")
	assert.Len(t, v, 2)
	assert.NotNil(t, ValidationErrors(nil).Clone())
}
