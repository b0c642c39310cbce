// Package form implements the per-kind form session: the state machine that
// owns a record's draft through viewing, creating, editing and deleting.
//
// A Session never aborts a request it has issued. Every action bumps a
// generation counter, and a response whose generation is no longer current
// is dropped with types.ErrStale instead of being applied.
package form

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/store"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Mode is the session's state.
type Mode int

const (
	Idle Mode = iota
	Viewing
	Creating
	Editing
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Viewing:
		return "viewing"
	case Creating:
		return "creating"
	case Editing:
		return "editing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the observable part of a session.
type State struct {
	Kind     string
	Mode     Mode
	ID       string // target record; empty when Idle or Creating
	Loading  bool   // waiting for the target to be fetched
	NotFound bool   // the target does not exist on the backend
}

// Remote is the backend side of a session.
type Remote[T types.Record] interface {
	FetchOne(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, payload map[string]any) (T, error)
	Update(ctx context.Context, id string, payload map[string]any) (T, error)
	Delete(ctx context.Context, id string) error
}

// Option configures a Session.
type Option func(*options)

type options struct {
	lookup schema.Lookup
}

// WithLookup supplies the id sets used by the known rule.
func WithLookup(l schema.Lookup) Option {
	return func(o *options) { o.lookup = l }
}

type listener struct {
	fn func(State)
}

// Session drives one kind's form. It is safe for concurrent use.
type Session[T types.Record] struct {
	schema *schema.Schema
	store  *store.Collection[T]
	remote Remote[T]
	lookup schema.Lookup

	mu            sync.Mutex
	gen           uint64
	state         State
	prev          string // target before Creating, restored by Cancel
	draft         types.Draft
	errs          types.ValidationErrors
	submitErr     error
	deletePending bool
	busy          bool
	listeners     []*listener
}

// NewSession creates an idle session over the given schema, store and
// remote.
func NewSession[T types.Record](s *schema.Schema, c *store.Collection[T], r Remote[T], opts ...Option) *Session[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Session[T]{
		schema: s,
		store:  c,
		remote: r,
		lookup: o.lookup,
		state:  State{Kind: s.Kind},
		errs:   types.ValidationErrors{},
	}
}

// Kind returns the entity kind of the session.
func (s *Session[T]) Kind() string {
	return s.schema.Kind
}

// State returns the current state.
func (s *Session[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draft returns a copy of the draft, or nil outside Creating and Editing.
func (s *Session[T]) Draft() types.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Errors returns a copy of the current field errors.
func (s *Session[T]) Errors() types.ValidationErrors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.Clone()
}

// SubmitError returns the last submission-level error, if any.
func (s *Session[T]) SubmitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitErr
}

// DeletePending reports whether a delete awaits confirmation.
func (s *Session[T]) DeletePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletePending
}

// Busy reports whether a submit or delete is in flight.
func (s *Session[T]) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Record returns the target record from the store.
func (s *Session[T]) Record() (T, bool) {
	id := s.State().ID
	if id == "" {
		var zero T
		return zero, false
	}
	return s.store.Get(id)
}

// OnTransition registers fn to be called after every state change. It
// returns a function that removes fn.
func (s *Session[T]) OnTransition(fn func(State)) (cancel func()) {
	l := &listener{fn: fn}
	s.mu.Lock()
	s.listeners = append(slices.Clip(s.listeners), l)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(o *listener) bool { return o == l })
	}
}

// transitionLocked moves to st, discarding the draft, errors and delete gate,
// and invalidating in-flight work. The caller holds s.mu and must call emit
// with the returned state after unlocking.
func (s *Session[T]) transitionLocked(st State) State {
	st.Kind = s.schema.Kind
	s.gen++
	s.state = st
	s.draft = nil
	s.errs = types.ValidationErrors{}
	s.submitErr = nil
	s.deletePending = false
	return st
}

func (s *Session[T]) emit(st State) {
	s.mu.Lock()
	ls := s.listeners
	s.mu.Unlock()
	if glog.V(1) {
		glog.Infof("form %s: %s id=%q loading=%t notfound=%t", st.Kind, st.Mode, st.ID, st.Loading, st.NotFound)
	}
	for _, l := range ls {
		l.fn(st)
	}
}

// Open targets the record id in Viewing or Editing mode. If the record is not
// in the store it is fetched first; the state reports Loading meanwhile and
// NotFound if the backend does not have it. Open returns types.ErrStale when
// another action superseded it before the fetch resolved.
func (s *Session[T]) Open(ctx context.Context, id string, mode Mode) error {
	if mode != Viewing && mode != Editing {
		return fmt.Errorf("%w: open in %s", types.ErrInvalidMode, mode)
	}
	if id == "" {
		return types.ErrInvalidID
	}

	rec, cached := s.store.Get(id)

	s.mu.Lock()
	st := s.transitionLocked(State{Mode: mode, ID: id, Loading: !cached})
	if cached && mode == Editing {
		s.draft = rec.Draft()
	}
	gen := s.gen
	s.mu.Unlock()

	s.store.Select(id)
	s.emit(st)
	if cached {
		return nil
	}

	fetched, err := s.remote.FetchOne(ctx, id)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		glog.V(1).Infof("form %s: dropping stale fetch of %s", s.schema.Kind, id)
		return types.ErrStale
	}
	if err != nil {
		s.state.Loading = false
		if errors.Is(err, types.ErrNotFound) {
			s.state.NotFound = true
			err = nil
		} else {
			s.submitErr = err
		}
		st = s.state
		s.mu.Unlock()
		s.emit(st)
		return err
	}
	s.mu.Unlock()

	if err := s.store.UpsertOne(fetched); err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return types.ErrStale
	}
	s.state.Loading = false
	if mode == Editing {
		if live, ok := s.store.Get(id); ok {
			s.draft = live.Draft()
		} else {
			s.draft = fetched.Draft()
		}
	}
	st = s.state
	s.mu.Unlock()

	s.emit(st)
	return nil
}

// New starts creating a record with a draft of schema defaults and clears
// the selection.
func (s *Session[T]) New() error {
	s.mu.Lock()
	prev := s.state.ID
	if s.state.Mode == Creating {
		prev = s.prev
	}
	st := s.transitionLocked(State{Mode: Creating})
	s.prev = prev
	s.draft = s.schema.Defaults()
	s.mu.Unlock()

	s.store.Select("")
	s.emit(st)
	return nil
}

// Edit switches the selected record to Editing. The draft reflects the
// record as it is in the store now.
func (s *Session[T]) Edit() error {
	s.mu.Lock()
	var id string
	switch s.state.Mode {
	case Viewing, Editing:
		id = s.state.ID
	case Idle:
		id = s.store.Selected()
	}
	if id == "" || s.state.Loading || s.state.NotFound {
		mode := s.state.Mode
		s.mu.Unlock()
		return fmt.Errorf("%w: edit from %s", types.ErrInvalidMode, mode)
	}
	rec, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s %s", types.ErrNotFound, s.schema.Kind, id)
	}
	st := s.transitionLocked(State{Mode: Editing, ID: id})
	s.draft = rec.Draft()
	s.mu.Unlock()

	s.store.Select(id)
	s.emit(st)
	return nil
}

// Set changes one draft field and clears that field's error.
func (s *Session[T]) Set(field string, value any) error {
	f, ok := s.schema.Field(field)
	if !ok || f.ReadOnly {
		return fmt.Errorf("%w: %s.%s", types.ErrUnknownField, s.schema.Kind, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDraftLocked("set"); err != nil {
		return err
	}
	if ids, ok := value.([]string); ok {
		value = slices.Clone(ids)
	}
	s.draft[field] = value
	delete(s.errs, field)
	return nil
}

// checkDraftLocked fails with types.ErrInvalidMode unless the session is
// creating or editing a record whose draft has been materialized.
func (s *Session[T]) checkDraftLocked(op string) error {
	st := s.state
	switch {
	case st.Mode != Creating && st.Mode != Editing:
		return fmt.Errorf("%w: %s in %s", types.ErrInvalidMode, op, st.Mode)
	case st.Loading:
		return fmt.Errorf("%w: %s while %s is loading", types.ErrInvalidMode, op, st.ID)
	case st.NotFound:
		return fmt.Errorf("%w: %s on missing record %s", types.ErrInvalidMode, op, st.ID)
	case s.draft == nil:
		return fmt.Errorf("%w: %s without a draft", types.ErrInvalidMode, op)
	}
	return nil
}

// Submit validates the draft and, if it is valid, creates or updates the
// record. Validation failures are returned as types.ValidationErrors without
// any network call. Backend field errors are merged into Errors; other
// failures become SubmitError. The draft survives every failure.
func (s *Session[T]) Submit(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	mode, id := s.state.Mode, s.state.ID
	if err := s.checkDraftLocked("submit"); err != nil {
		s.mu.Unlock()
		return zero, err
	}
	if s.busy {
		s.mu.Unlock()
		return zero, types.ErrBusy
	}
	s.errs = s.schema.Validate(s.draft, s.lookup)
	if len(s.errs) > 0 {
		errs := s.errs.Clone()
		s.mu.Unlock()
		return zero, errs
	}
	payload := s.schema.Payload(s.draft)
	gen := s.gen
	s.busy = true
	s.submitErr = nil
	s.mu.Unlock()

	var rec T
	var err error
	if mode == Creating {
		rec, err = s.remote.Create(ctx, payload)
	} else {
		rec, err = s.remote.Update(ctx, id, payload)
	}

	if err != nil {
		s.mu.Lock()
		s.busy = false
		if s.gen == gen {
			s.applySubmitErrorLocked(err)
		}
		s.mu.Unlock()
		return zero, err
	}

	// The backend committed the change whether or not the session moved on.
	if uerr := s.store.UpsertOne(rec); uerr != nil {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		return zero, uerr
	}

	s.mu.Lock()
	s.busy = false
	if s.gen != gen {
		s.mu.Unlock()
		return rec, types.ErrStale
	}
	st := s.transitionLocked(State{Mode: Viewing, ID: rec.RecordID()})
	s.mu.Unlock()

	s.store.Select(rec.RecordID())
	s.emit(st)
	return rec, nil
}

// applySubmitErrorLocked merges backend field errors for schema fields into
// Errors. Anything else the backend reported becomes SubmitError.
func (s *Session[T]) applySubmitErrorLocked(err error) {
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		s.submitErr = err
		return
	}
	var other []string
	for field, msg := range apiErr.Fields {
		if _, ok := s.schema.Field(field); ok {
			s.errs[field] = msg
			continue
		}
		other = append(other, field+": "+msg)
	}
	switch {
	case len(other) == 0:
	case len(other) == len(apiErr.Fields):
		s.submitErr = err
	default:
		sort.Strings(other)
		s.submitErr = fmt.Errorf("%w (%s)", err, strings.Join(other, "; "))
	}
}

// Cancel abandons the draft. Editing returns to Viewing the same record;
// Creating returns to the record viewed before, or to Idle.
func (s *Session[T]) Cancel() error {
	s.mu.Lock()
	var next State
	switch s.state.Mode {
	case Editing:
		next = State{Mode: Viewing, ID: s.state.ID}
	case Creating:
		if s.prev != "" {
			next = State{Mode: Viewing, ID: s.prev}
		}
	default:
		s.mu.Unlock()
		return nil
	}
	st := s.transitionLocked(next)
	s.mu.Unlock()

	s.store.Select(st.ID)
	s.emit(st)
	return nil
}

// Close returns to Idle and clears the selection.
func (s *Session[T]) Close() {
	s.mu.Lock()
	st := s.transitionLocked(State{Mode: Idle})
	s.prev = ""
	s.mu.Unlock()

	s.store.Select("")
	s.emit(st)
}

// RequestDelete opens the confirmation gate for the viewed record.
func (s *Session[T]) RequestDelete() error {
	s.mu.Lock()
	if s.state.Mode != Viewing || s.state.Loading || s.state.NotFound {
		mode := s.state.Mode
		s.mu.Unlock()
		return fmt.Errorf("%w: delete from %s", types.ErrInvalidMode, mode)
	}
	s.deletePending = true
	s.mu.Unlock()
	return nil
}

// DismissDelete closes the confirmation gate.
func (s *Session[T]) DismissDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletePending = false
}

// ConfirmDelete deletes the viewed record after RequestDelete. On success
// the record leaves the store and the session goes Idle.
func (s *Session[T]) ConfirmDelete(ctx context.Context) error {
	s.mu.Lock()
	if !s.deletePending {
		s.mu.Unlock()
		return types.ErrDeleteNotRequested
	}
	if s.busy {
		s.mu.Unlock()
		return types.ErrBusy
	}
	id := s.state.ID
	gen := s.gen
	s.busy = true
	s.mu.Unlock()

	err := s.remote.Delete(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.busy = false
		if s.gen == gen {
			s.deletePending = false
			s.submitErr = err
		}
		s.mu.Unlock()
		return err
	}

	s.store.RemoveOne(id)

	s.mu.Lock()
	s.busy = false
	if s.gen != gen {
		s.mu.Unlock()
		return types.ErrStale
	}
	st := s.transitionLocked(State{Mode: Idle})
	s.prev = ""
	s.mu.Unlock()

	s.store.Select("")
	s.emit(st)
	return nil
}

// Reset returns the session to Idle without touching the store. Used when
// the console signs out.
func (s *Session[T]) Reset() {
	s.mu.Lock()
	st := s.transitionLocked(State{Mode: Idle})
	s.prev = ""
	s.busy = false
	s.mu.Unlock()
	s.emit(st)
}
