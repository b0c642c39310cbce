package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Operation names used in logs and metric labels.
const (
	OpFetchAll = "fetch_all"
	OpFetchOne = "fetch_one"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpSession  = "session"
	OpLogin    = "login"
)

// Endpoints names the REST resources of one kind: GET and POST go to
// Collection, single-record reads, updates and deletes go to Record.
type Endpoints struct {
	Collection string
	Record     string

	// SingleViaList makes FetchOne filter the collection instead of calling
	// the single-record endpoint, for backends without one.
	SingleViaList bool
}

// Gateway performs typed record operations for one kind.
type Gateway[T types.Record] struct {
	client *Client
	kind   string
	ep     Endpoints
}

// New creates a gateway for kind on top of c.
func New[T types.Record](c *Client, kind string, ep Endpoints) *Gateway[T] {
	return &Gateway[T]{client: c, kind: kind, ep: ep}
}

// Kind returns the entity kind served by g.
func (g *Gateway[T]) Kind() string {
	return g.kind
}

// FetchAll returns every record of the kind. On failure it returns an empty,
// non-nil slice together with the error, and reports the error.
func (g *Gateway[T]) FetchAll(ctx context.Context) ([]T, error) {
	var records []T
	err := g.client.do(ctx, call{
		kind:   g.kind,
		op:     OpFetchAll,
		method: http.MethodGet,
		url:    g.client.endpoint(nil, g.ep.Collection),
		out:    &records,
	})
	if err != nil {
		g.client.report(g.kind, err)
		return []T{}, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// FetchOne returns the record with id. A 404, an empty response, or a
// response for a different id yields an error wrapping types.ErrNotFound.
func (g *Gateway[T]) FetchOne(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, types.ErrInvalidID
	}

	if g.ep.SingleViaList {
		records, err := g.FetchAll(ctx)
		if err != nil {
			return zero, err
		}
		for _, r := range records {
			if r.RecordID() == id {
				return r, nil
			}
		}
		return zero, fmt.Errorf("%w: %s %s", types.ErrNotFound, g.kind, id)
	}

	var raw json.RawMessage
	err := g.client.do(ctx, call{
		kind:   g.kind,
		op:     OpFetchOne,
		method: http.MethodGet,
		url:    g.client.endpoint(url.Values{"id": {id}}, g.ep.Record),
		out:    &raw,
	})
	if err != nil {
		return zero, err
	}

	rec, err := decodeOne[T](raw)
	if err != nil {
		return zero, fmt.Errorf("%w: %s %s: %w", types.ErrNotFound, g.kind, id, err)
	}
	if rec.RecordID() != id {
		return zero, fmt.Errorf("%w: %s %s: response carried id %q", types.ErrNotFound, g.kind, id, rec.RecordID())
	}
	return rec, nil
}

// decodeOne accepts an object or a one-element array.
func decodeOne[T types.Record](raw json.RawMessage) (T, error) {
	var zero T
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return zero, fmt.Errorf("%w: %w", types.ErrDecode, err)
		}
		if len(list) != 1 {
			return zero, fmt.Errorf("%w: expected one record, got %d", types.ErrDecode, len(list))
		}
		return list[0], nil
	}

	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return zero, fmt.Errorf("%w: %w", types.ErrDecode, err)
	}
	return rec, nil
}

// Create posts payload to the collection endpoint and returns the server's
// canonical record.
func (g *Gateway[T]) Create(ctx context.Context, payload map[string]any) (T, error) {
	var rec T
	err := g.client.do(ctx, call{
		kind:   g.kind,
		op:     OpCreate,
		method: http.MethodPost,
		url:    g.client.endpoint(nil, g.ep.Collection),
		body:   payload,
		out:    &rec,
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if rec.RecordID() == "" {
		var zero T
		return zero, &types.APIError{Status: http.StatusOK, Err: fmt.Errorf("%w: created %s has no id", types.ErrDecode, g.kind)}
	}
	return rec, nil
}

// Update replaces the record with id and returns the server's canonical
// record. The id is also carried in the body.
func (g *Gateway[T]) Update(ctx context.Context, id string, payload map[string]any) (T, error) {
	var zero T
	if id == "" {
		return zero, types.ErrInvalidID
	}
	body := maps.Clone(payload)
	if body == nil {
		body = map[string]any{}
	}
	body["id"] = id

	var rec T
	err := g.client.do(ctx, call{
		kind:   g.kind,
		op:     OpUpdate,
		method: http.MethodPut,
		url:    g.client.endpoint(nil, g.ep.Record, id),
		body:   body,
		out:    &rec,
	})
	if err != nil {
		return zero, err
	}
	if rec.RecordID() == "" {
		return zero, &types.APIError{Status: http.StatusOK, Err: fmt.Errorf("%w: updated %s has no id", types.ErrDecode, g.kind)}
	}
	return rec, nil
}

// Delete removes the record with id.
func (g *Gateway[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	return g.client.do(ctx, call{
		kind:   g.kind,
		op:     OpDelete,
		method: http.MethodDelete,
		url:    g.client.endpoint(nil, g.ep.Record, id),
	})
}
