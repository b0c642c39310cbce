package console

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/assetdesk/internal/form"
	"github.com/mesh-intelligence/assetdesk/internal/gateway"
	"github.com/mesh-intelligence/assetdesk/internal/nav"
	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/store"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// View is the kind-independent face of a Panel, used where the record type
// is not known statically.
type View interface {
	nav.Target
	Schema() *schema.Schema
	Refresh(ctx context.Context) error
	Records() []types.Record
	Find(id string) (types.Record, bool)
	Edit() error
	Set(field string, value any) error
	Save(ctx context.Context) (string, error)
	Cancel() error
	RequestDelete() error
	DismissDelete()
	ConfirmDelete(ctx context.Context) error
	Draft() types.Draft
	Errors() types.ValidationErrors
	SubmitError() error
}

var _ View = (*Panel[*types.Machine])(nil)

// Panel is one kind's screen: its collection, gateway and form session.
// Actions the signed-in account may not perform fail with types.ErrForbidden
// before reaching the session.
type Panel[T types.Record] struct {
	*form.Session[T]

	console *Console
	schema  *schema.Schema
	store   *store.Collection[T]
	gateway *gateway.Gateway[T]
}

func newPanel[T types.Record](c *Console, kind string) (*Panel[T], error) {
	s, err := c.registry.Kind(kind)
	if err != nil {
		return nil, err
	}
	col := store.New[T](kind)
	gw := gateway.New[T](c.client, kind, gateway.Endpoints{Collection: s.Collection, Record: s.Record})
	p := &Panel[T]{
		Session: form.NewSession[T](s, col, gw, form.WithLookup(c)),
		console: c,
		schema:  s,
		store:   col,
		gateway: gw,
	}
	c.panels[kind] = p
	c.order = append(c.order, kind)
	c.binder.Register(p)
	return p, nil
}

// Schema returns the field schema of the panel's kind.
func (p *Panel[T]) Schema() *schema.Schema {
	return p.schema
}

// Store returns the panel's collection.
func (p *Panel[T]) Store() *store.Collection[T] {
	return p.store
}

// Refresh replaces the collection with the backend's current records. A
// failed fetch leaves the collection as it was.
func (p *Panel[T]) Refresh(ctx context.Context) error {
	records, err := p.gateway.FetchAll(ctx)
	if err != nil {
		p.console.fail(err)
		return fmt.Errorf("refreshing %s: %w", p.schema.Kind, err)
	}
	p.store.ReplaceAll(records)
	return nil
}

// Records returns the collection in backend order.
func (p *Panel[T]) Records() []types.Record {
	list := p.store.Snapshot().List()
	out := make([]types.Record, len(list))
	for i, r := range list {
		out[i] = r
	}
	return out
}

// Find returns the cached record with id.
func (p *Panel[T]) Find(id string) (types.Record, bool) {
	r, ok := p.store.Get(id)
	if !ok {
		return nil, false
	}
	return r, true
}

func (p *Panel[T]) guard(action string) error {
	if p.console.allows(p.schema.Subject, action) {
		return nil
	}
	return fmt.Errorf("%w: %s %s", types.ErrForbidden, action, p.schema.Kind)
}

// Open targets id in Viewing or Editing mode.
func (p *Panel[T]) Open(ctx context.Context, id string, mode form.Mode) error {
	action := types.ActionView
	if mode == form.Editing {
		action = types.ActionEdit
	}
	if err := p.guard(action); err != nil {
		return err
	}
	err := p.Session.Open(ctx, id, mode)
	p.console.fail(err)
	return err
}

// New starts creating a record.
func (p *Panel[T]) New() error {
	if err := p.guard(types.ActionCreate); err != nil {
		return err
	}
	return p.Session.New()
}

// Edit switches the selected record to Editing.
func (p *Panel[T]) Edit() error {
	if err := p.guard(types.ActionEdit); err != nil {
		return err
	}
	return p.Session.Edit()
}

// Submit validates and sends the draft.
func (p *Panel[T]) Submit(ctx context.Context) (T, error) {
	action := types.ActionEdit
	if p.State().Mode == form.Creating {
		action = types.ActionCreate
	}
	if err := p.guard(action); err != nil {
		var zero T
		return zero, err
	}
	rec, err := p.Session.Submit(ctx)
	p.console.fail(err)
	return rec, err
}

// Save is Submit returning the saved record's id.
func (p *Panel[T]) Save(ctx context.Context) (string, error) {
	rec, err := p.Submit(ctx)
	return rec.RecordID(), err
}

// RequestDelete opens the delete confirmation for the viewed record.
func (p *Panel[T]) RequestDelete() error {
	if err := p.guard(types.ActionDelete); err != nil {
		return err
	}
	return p.Session.RequestDelete()
}

// ConfirmDelete deletes the viewed record.
func (p *Panel[T]) ConfirmDelete(ctx context.Context) error {
	if err := p.guard(types.ActionDelete); err != nil {
		return err
	}
	err := p.Session.ConfirmDelete(ctx)
	p.console.fail(err)
	return err
}

func (p *Panel[T]) knownIDs() map[string]bool {
	return p.store.Snapshot().IDs()
}

func (p *Panel[T]) reset() {
	p.Session.Reset()
	p.store.Reset()
}
