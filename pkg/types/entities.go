package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time checks that every entity implements Record.
var (
	_ Record = (*Machine)(nil)
	_ Record = (*Task)(nil)
	_ Record = (*Report)(nil)
	_ Record = (*User)(nil)
	_ Record = (*Role)(nil)
	_ Record = (*Facility)(nil)
	_ Record = (*Category)(nil)
)

// Machine is a tracked physical asset.
type Machine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Make        string    `json:"make"`
	MachineType Ref       `json:"machine_type"`
	Status      Ref       `json:"status"`
	Facility    Ref       `json:"facility"`
	Image       string    `json:"image"`
	Created     Timestamp `json:"created"`
	Edited      Timestamp `json:"edited"`
}

func (m *Machine) RecordID() string {
	if m == nil {
		return ""
	}
	return m.ID
}

func (m *Machine) Draft() Draft {
	return Draft{
		"id":           m.ID,
		"name":         m.Name,
		"make":         m.Make,
		"machine_type": m.MachineType.ID,
		"status":       m.Status.ID,
		"facility":     m.Facility.ID,
		"created":      m.Created.Time,
		"edited":       m.Edited.Time,
	}
}

// Task is a maintenance task, optionally tied to a machine.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TaskType    Ref       `json:"task_type"`
	Status      Ref       `json:"status"`
	Archived    bool      `json:"archived"`
	Creator     Ref       `json:"creator"`
	Executors   []Ref     `json:"executors"`
	Machine     Ref       `json:"machine"`
	Created     Timestamp `json:"created"`
	Edited      Timestamp `json:"edited"`
	DueAt       Timestamp `json:"due_at"`
}

func (t *Task) RecordID() string {
	if t == nil {
		return ""
	}
	return t.ID
}

func (t *Task) Draft() Draft {
	return Draft{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"task_type":   t.TaskType.ID,
		"status":      t.Status.ID,
		"archived":    t.Archived,
		"creator":     t.Creator.ID,
		"executors":   RefIDs(t.Executors),
		"machine":     t.Machine.ID,
		"created":     t.Created.Time,
		"edited":      t.Edited.Time,
		"due_at":      t.DueAt.Time,
	}
}

// Report is a filed report about equipment or operations.
type Report struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ReportType  Ref       `json:"report_type"`
	Status      Ref       `json:"status"`
	Archived    bool      `json:"archived"`
	Creator     Ref       `json:"creator"`
	Machine     Ref       `json:"machine"`
	Created     Timestamp `json:"created"`
	Edited      Timestamp `json:"edited"`
}

func (r *Report) RecordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *Report) Draft() Draft {
	return Draft{
		"id":          r.ID,
		"title":       r.Title,
		"description": r.Description,
		"report_type": r.ReportType.ID,
		"status":      r.Status.ID,
		"archived":    r.Archived,
		"creator":     r.Creator.ID,
		"machine":     r.Machine.ID,
		"created":     r.Created.Time,
		"edited":      r.Edited.Time,
	}
}

// User is a console user. The role is kept as a reference; the full role is
// only carried by Account.
type User struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Role       Ref       `json:"role"`
	Active     bool      `json:"active"`
	LastLogin  Timestamp `json:"last_login"`
	Occupation string    `json:"occupation"`
	Image      string    `json:"image"`
	Facility   Ref       `json:"facility"`
}

func (u *User) RecordID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

func (u *User) Draft() Draft {
	return Draft{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"email":      u.Email,
		"phone":      u.Phone,
		"role":       u.Role.ID,
		"active":     u.Active,
		"last_login": u.LastLogin.Time,
		"occupation": u.Occupation,
		"facility":   u.Facility.ID,
	}
}

// Facility is a site that houses machines and users.
type Facility struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (f *Facility) RecordID() string {
	if f == nil {
		return ""
	}
	return f.ID
}

func (f *Facility) Draft() Draft {
	return Draft{
		"id":      f.ID,
		"name":    f.Name,
		"address": f.Address,
	}
}

// Category is a lookup record such as a machine type or a task status.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Category) RecordID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

func (c *Category) Draft() Draft {
	return Draft{
		"id":   c.ID,
		"name": c.Name,
	}
}

// Role is a named permission set. The backend serializes permissions as flat
// boolean fields named "<subject>_<action>".
type Role struct {
	ID          string
	Name        string
	Level       int
	HasPassword bool
	Permissions map[string]bool
}

func (r *Role) RecordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *Role) Draft() Draft {
	d := Draft{
		"id":           r.ID,
		"name":         r.Name,
		"level":        float64(r.Level),
		"has_password": r.HasPassword,
	}
	for _, subject := range PermissionSubjects {
		for _, action := range PermissionActions {
			key := PermissionKey(subject, action)
			d[key] = r.Permissions[key]
		}
	}
	return d
}

// Allows reports whether the role grants action on subject.
func (r *Role) Allows(subject, action string) bool {
	if r == nil {
		return false
	}
	return r.Permissions[PermissionKey(subject, action)]
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Role) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decoding role: %w", err)
	}
	if raw == nil {
		*r = Role{}
		return nil
	}

	var out Role
	fields := []struct {
		key string
		dst any
	}{
		{"id", &out.ID},
		{"name", &out.Name},
		{"level", &out.Level},
		{"has_password", &out.HasPassword},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("decoding role field %s: %w", f.key, err)
		}
	}

	out.Permissions = make(map[string]bool)
	for _, subject := range PermissionSubjects {
		for _, action := range PermissionActions {
			key := PermissionKey(subject, action)
			v, ok := raw[key]
			if !ok || string(v) == "null" {
				continue
			}
			var allowed bool
			if err := json.Unmarshal(v, &allowed); err != nil {
				return fmt.Errorf("decoding role field %s: %w", key, err)
			}
			out.Permissions[key] = allowed
		}
	}
	*r = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Role) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":           r.ID,
		"name":         r.Name,
		"level":        r.Level,
		"has_password": r.HasPassword,
	}
	for _, subject := range PermissionSubjects {
		for _, action := range PermissionActions {
			key := PermissionKey(subject, action)
			out[key] = r.Permissions[key]
		}
	}
	return json.Marshal(out)
}

// Account is the currently authenticated user together with the full role
// that governs what the console may do.
type Account struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	LastLogin Timestamp `json:"last_login"`
}

// Allows reports whether the account's role grants action on subject. An
// empty subject is always allowed.
func (a *Account) Allows(subject, action string) bool {
	if subject == "" {
		return true
	}
	if a == nil {
		return false
	}
	return a.Role.Allows(subject, action)
}

// Change is a notification pushed on a live channel when a record of Kind
// was created, updated, or deleted.
type Change struct {
	Kind string    `json:"kind"`
	Op   string    `json:"op"`
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
}

// Change operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)
