package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/sqlite"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const fieldCreator = "creator"

// resource serves the REST endpoints of one kind.
type resource struct {
	server *Server
	schema *schema.Schema
}

func (rs *resource) table(w http.ResponseWriter) (*sqlite.Table, bool) {
	t, err := rs.server.backend.Table(rs.schema.Kind)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return t, true
}

func (rs *resource) permit(w http.ResponseWriter, r *http.Request, action string) bool {
	if principalFrom(r.Context()).allows(rs.schema.Subject, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "permission denied", nil)
	return false
}

func (rs *resource) list(w http.ResponseWriter, r *http.Request) {
	if !rs.permit(w, r, types.ActionView) {
		return
	}
	t, ok := rs.table(w)
	if !ok {
		return
	}
	rows, err := t.Fetch()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]sqlite.Body, len(rows))
	for i, row := range rows {
		out[i] = rs.server.expand(rs.schema, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (rs *resource) get(w http.ResponseWriter, r *http.Request) {
	if !rs.permit(w, r, types.ActionView) {
		return
	}
	t, ok := rs.table(w)
	if !ok {
		return
	}
	row, err := t.Get(r.URL.Query().Get("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs.server.expand(rs.schema, row))
}

func (rs *resource) create(w http.ResponseWriter, r *http.Request) {
	if !rs.permit(w, r, types.ActionCreate) {
		return
	}
	t, ok := rs.table(w)
	if !ok {
		return
	}
	in, ok := decodeObject(w, r)
	if !ok {
		return
	}
	body, ok := rs.validate(w, "", in)
	if !ok {
		return
	}
	if _, has := rs.schema.Field(fieldCreator); has {
		body[fieldCreator] = principalFrom(r.Context()).user.ID()
	}

	row, err := t.Create(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rs.server.hub.Publish(types.Change{Kind: rs.schema.Kind, Op: types.OpCreate, ID: row.ID(), At: rs.server.now().UTC()})
	writeJSON(w, http.StatusCreated, rs.server.expand(rs.schema, row))
}

func (rs *resource) update(w http.ResponseWriter, r *http.Request) {
	if !rs.permit(w, r, types.ActionEdit) {
		return
	}
	t, ok := rs.table(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	existing, err := t.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	in, ok := decodeObject(w, r)
	if !ok {
		return
	}
	merged := existing.Clone()
	for k, v := range in {
		merged[k] = v
	}
	body, ok := rs.validate(w, id, merged)
	if !ok {
		return
	}

	row, err := t.Update(id, body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rs.server.hub.Publish(types.Change{Kind: rs.schema.Kind, Op: types.OpUpdate, ID: id, At: rs.server.now().UTC()})
	writeJSON(w, http.StatusOK, rs.server.expand(rs.schema, row))
}

func (rs *resource) remove(w http.ResponseWriter, r *http.Request) {
	if !rs.permit(w, r, types.ActionDelete) {
		return
	}
	t, ok := rs.table(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := t.Delete(id); err != nil {
		writeStoreError(w, err)
		return
	}
	rs.server.hub.Publish(types.Change{Kind: rs.schema.Kind, Op: types.OpDelete, ID: id, At: rs.server.now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

// validate runs the kind's field rules over in and returns the normalized
// body to store. On failure it writes the response and returns false.
func (rs *resource) validate(w http.ResponseWriter, id string, in map[string]any) (sqlite.Body, bool) {
	draft := rs.schema.DraftFromPayload(in)
	if errs := rs.schema.Validate(draft, rs.server); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "validation failed", errs)
		return nil, false
	}
	if rs.schema.Kind == types.KindUsers {
		if msg := rs.server.emailTaken(id, draft.String("email")); msg != "" {
			writeError(w, http.StatusConflict, "email already in use", map[string]string{"email": msg})
			return nil, false
		}
	}
	return sqlite.Body(rs.schema.Payload(draft)), true
}

// KnownIDs implements schema.Lookup over the stored records.
func (s *Server) KnownIDs(kind string) map[string]bool {
	t, err := s.backend.Table(kind)
	if err != nil {
		return nil
	}
	rows, err := t.Fetch()
	if err != nil {
		glog.Warningf("devserver: loading %s ids: %v", kind, err)
		return nil
	}
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		ids[row.ID()] = true
	}
	return ids
}

func (s *Server) emailTaken(id, email string) string {
	users, err := s.backend.Table(types.KindUsers)
	if err != nil || email == "" {
		return ""
	}
	found, err := users.FindBy("email", email)
	if err != nil {
		return ""
	}
	for _, u := range found {
		if u.ID() != id {
			return "Email is already in use"
		}
	}
	return ""
}

// expand replaces reference ids with the referenced records.
func (s *Server) expand(sch *schema.Schema, row sqlite.Body) sqlite.Body {
	out := row.Clone()
	for _, f := range sch.Fields {
		if f.Ref == "" {
			continue
		}
		switch f.Type {
		case schema.TypeRef:
			if id, _ := row[f.Name].(string); id != "" {
				if ref, ok := s.lookup(f.Ref, id); ok {
					out[f.Name] = ref
				}
			}
		case schema.TypeRefs:
			list, _ := row[f.Name].([]any)
			refs := make([]any, 0, len(list))
			for _, item := range list {
				id, _ := item.(string)
				if ref, ok := s.lookup(f.Ref, id); ok {
					refs = append(refs, ref)
				} else {
					refs = append(refs, item)
				}
			}
			out[f.Name] = refs
		}
	}
	return out
}

func (s *Server) lookup(kind, id string) (sqlite.Body, bool) {
	t, err := s.backend.Table(kind)
	if err != nil || id == "" {
		return nil, false
	}
	ref, err := t.Get(id)
	return ref, err == nil
}

func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in == nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object", nil)
		return nil, false
	}
	return in, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("devserver: writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	body := map[string]any{"message": msg}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidID):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		glog.Errorf("devserver: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}
