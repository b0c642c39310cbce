// Package store holds the client-side snapshot of every known record of one
// entity kind together with the current selection.
//
// A Collection publishes immutable snapshots: each mutation builds a new
// record map, swaps it in, and hands the full snapshot to every observer.
// Observers never receive diffs and must re-derive their state from the
// snapshot they are given.
package store

import (
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Snapshot is an immutable view of a Collection. Records and Order must not
// be modified by callers.
type Snapshot[T types.Record] struct {
	Kind     string
	Version  uint64
	Records  map[string]T
	Order    []string
	Selected string
}

// Get returns the record with the given id.
func (s Snapshot[T]) Get(id string) (T, bool) {
	r, ok := s.Records[id]
	return r, ok
}

// Len returns the number of records.
func (s Snapshot[T]) Len() int {
	return len(s.Records)
}

// List returns the records in backend order, with records added by
// UpsertOne after the last ReplaceAll at the end.
func (s Snapshot[T]) List() []T {
	out := make([]T, 0, len(s.Order))
	for _, id := range s.Order {
		out = append(out, s.Records[id])
	}
	return out
}

// IDs returns the set of known ids.
func (s Snapshot[T]) IDs() map[string]bool {
	out := make(map[string]bool, len(s.Records))
	for id := range s.Records {
		out[id] = true
	}
	return out
}

// Observer receives the full snapshot after every mutation.
type Observer[T types.Record] func(Snapshot[T])

type subscription[T types.Record] struct {
	fn Observer[T]
}

// Collection is the keyed, observable store for one entity kind. It is safe
// for concurrent use; observers are called synchronously on the goroutine
// that performed the mutation, after the collection's lock is released.
type Collection[T types.Record] struct {
	mu        sync.Mutex
	snap      Snapshot[T]
	observers []*subscription[T] // replaced, never mutated in place
}

// New creates an empty collection for kind.
func New[T types.Record](kind string) *Collection[T] {
	return &Collection[T]{
		snap: Snapshot[T]{
			Kind:    kind,
			Records: map[string]T{},
			Order:   []string{},
		},
	}
}

// Kind returns the entity kind held by the collection.
func (c *Collection[T]) Kind() string {
	return c.snap.Kind
}

// Snapshot returns the current snapshot without subscribing.
func (c *Collection[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Get looks up a record by id. It never fetches.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Get(id)
}

// Selected returns the selected id, or "" when nothing (or a new,
// uncommitted record) is selected.
func (c *Collection[T]) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Selected
}

// ReplaceAll sets the collection to exactly records, keyed by id. Records
// without an id are dropped. Any previously known record absent from
// records is gone afterwards, even if it is still selected.
func (c *Collection[T]) ReplaceAll(records []T) {
	next := make(map[string]T, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		id := r.RecordID()
		if id == "" {
			glog.Warningf("store %s: dropping record without id", c.snap.Kind)
			continue
		}
		if _, dup := next[id]; !dup {
			order = append(order, id)
		}
		next[id] = r
	}

	c.publish(func(s *Snapshot[T]) bool {
		s.Records = next
		s.Order = order
		return true
	})
}

// Select sets the selection. An empty id clears it.
func (c *Collection[T]) Select(id string) {
	c.publish(func(s *Snapshot[T]) bool {
		if s.Selected == id {
			return false
		}
		s.Selected = id
		return true
	})
}

// SelectRecord selects r by its id.
func (c *Collection[T]) SelectRecord(r T) {
	c.Select(r.RecordID())
}

// UpsertOne inserts or replaces r, leaving every other entry untouched.
func (c *Collection[T]) UpsertOne(r T) error {
	id := r.RecordID()
	if id == "" {
		return types.ErrInvalidID
	}
	c.publish(func(s *Snapshot[T]) bool {
		next := make(map[string]T, len(s.Records)+1)
		for k, v := range s.Records {
			next[k] = v
		}
		if _, ok := next[id]; !ok {
			s.Order = append(slices.Clip(s.Order), id)
		}
		next[id] = r
		s.Records = next
		return true
	})
	return nil
}

// RemoveOne deletes the record with id. If it was selected, the selection is
// cleared. It reports whether a record was removed.
func (c *Collection[T]) RemoveOne(id string) bool {
	removed := false
	c.publish(func(s *Snapshot[T]) bool {
		if _, ok := s.Records[id]; !ok {
			return false
		}
		next := make(map[string]T, len(s.Records))
		for k, v := range s.Records {
			if k != id {
				next[k] = v
			}
		}
		s.Records = next
		s.Order = slices.DeleteFunc(slices.Clone(s.Order), func(o string) bool { return o == id })
		if s.Selected == id {
			s.Selected = ""
		}
		removed = true
		return true
	})
	return removed
}

// Reset empties the collection and clears the selection.
func (c *Collection[T]) Reset() {
	c.publish(func(s *Snapshot[T]) bool {
		s.Records = map[string]T{}
		s.Order = []string{}
		s.Selected = ""
		return true
	})
}

// Subscribe registers fn and returns a function that removes it. fn is not
// called with the current snapshot; use Snapshot for a one-shot read.
func (c *Collection[T]) Subscribe(fn Observer[T]) (cancel func()) {
	sub := &subscription[T]{fn: fn}

	c.mu.Lock()
	c.observers = append(slices.Clip(c.observers), sub)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(slices.Clone(c.observers), func(o *subscription[T]) bool {
			return o == sub
		})
	}
}

// publish applies mutate to a copy of the snapshot under the lock. When
// mutate reports a change, the new snapshot is swapped in and observers are
// notified after the lock is released.
func (c *Collection[T]) publish(mutate func(*Snapshot[T]) bool) {
	c.mu.Lock()
	next := c.snap
	if !mutate(&next) {
		c.mu.Unlock()
		return
	}
	next.Version = c.snap.Version + 1
	c.snap = next
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		o.fn(next)
	}
}
