// Package nav keeps the console URL and the form sessions in step.
//
// Paths have the shape <base>/<kind>[/new | /<id>[/edit]]. Navigate drives a
// session from a path; Follow turns a session transition back into a path
// and pushes it onto the history.
package nav

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/internal/form"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	newSegment  = "new"
	editSegment = "edit"
)

// Route is a parsed console path.
type Route struct {
	Kind string
	ID   string
	Mode form.Mode
}

// Target is the form session a route drives.
type Target interface {
	Kind() string
	Open(ctx context.Context, id string, mode form.Mode) error
	New() error
	Close()
	State() form.State
	OnTransition(fn func(form.State)) (cancel func())
}

// History records pushed paths.
type History interface {
	Push(path string)
}

// Binder maps paths to session transitions and back.
type Binder struct {
	base    string
	history History

	mu      sync.Mutex
	targets map[string]Target
	cancels []func()
	current string
}

// NewBinder creates a binder for paths under base. A nil history discards
// pushes.
func NewBinder(base string, h History) *Binder {
	base = "/" + strings.Trim(base, "/")
	if base == "/" {
		base = ""
	}
	return &Binder{
		base:    base,
		history: h,
		targets: map[string]Target{},
	}
}

// Register binds t: paths for t.Kind() drive t, and t's transitions update
// the path.
func (b *Binder) Register(t Target) {
	cancel := t.OnTransition(b.Follow)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[t.Kind()] = t
	b.cancels = append(b.cancels, cancel)
}

// Unbind stops following every registered target.
func (b *Binder) Unbind() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Current returns the path the binder last navigated to or pushed.
func (b *Binder) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Parse resolves path to a route for a registered kind.
func (b *Binder) Parse(path string) (Route, error) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	rest, ok := strings.CutPrefix(path, b.base)
	if !ok || (rest != "" && rest[0] != '/') {
		return Route{}, fmt.Errorf("%w: %q is outside %q", types.ErrInvalidRoute, path, b.base+"/")
	}

	var segs []string
	for _, s := range strings.Split(rest, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 || len(segs) > 3 {
		return Route{}, fmt.Errorf("%w: %q", types.ErrInvalidRoute, path)
	}

	kind := segs[0]
	b.mu.Lock()
	_, known := b.targets[kind]
	b.mu.Unlock()
	if !known {
		return Route{}, fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
	}

	r := Route{Kind: kind, Mode: form.Idle}
	switch {
	case len(segs) == 1:
	case len(segs) == 2 && segs[1] == newSegment:
		r.Mode = form.Creating
	case len(segs) == 2:
		r.Mode = form.Viewing
	case len(segs) == 3 && segs[2] == editSegment && segs[1] != newSegment:
		r.Mode = form.Editing
	default:
		return Route{}, fmt.Errorf("%w: %q", types.ErrInvalidRoute, path)
	}
	if r.Mode == form.Viewing || r.Mode == form.Editing {
		id, err := url.PathUnescape(segs[1])
		if err != nil || id == "" {
			return Route{}, fmt.Errorf("%w: bad id in %q", types.ErrInvalidRoute, path)
		}
		r.ID = id
	}
	return r, nil
}

// Format renders r as a path.
func (b *Binder) Format(r Route) string {
	p := b.base + "/" + r.Kind
	switch r.Mode {
	case form.Creating:
		p += "/" + newSegment
	case form.Viewing:
		p += "/" + url.PathEscape(r.ID)
	case form.Editing:
		p += "/" + url.PathEscape(r.ID) + "/" + editSegment
	}
	return p
}

// Navigate resolves path and drives the kind's session to it. It does not
// push history; the caller is responding to a path that is already shown.
// A navigation superseded by a later one is not an error.
func (b *Binder) Navigate(ctx context.Context, path string) (Route, error) {
	r, err := b.Parse(path)
	if err != nil {
		return Route{}, err
	}

	b.mu.Lock()
	t := b.targets[r.Kind]
	b.current = b.Format(r)
	b.mu.Unlock()
	glog.V(1).Infof("nav: %s", b.Format(r))

	switch r.Mode {
	case form.Idle:
		t.Close()
	case form.Creating:
		err = t.New()
	default:
		err = t.Open(ctx, r.ID, r.Mode)
	}
	if errors.Is(err, types.ErrStale) {
		return r, nil
	}
	return r, err
}

// Follow pushes the path for st if it differs from the current one. A
// session going idle does not move the console off another kind's path.
func (b *Binder) Follow(st form.State) {
	path := b.Format(Route{Kind: st.Kind, ID: st.ID, Mode: st.Mode})

	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	if path == cur {
		return
	}
	if st.Mode == form.Idle && cur != "" {
		if r, err := b.Parse(cur); err == nil && r.Kind != st.Kind {
			return
		}
	}

	b.mu.Lock()
	b.current = path
	h := b.history
	b.mu.Unlock()

	if h != nil {
		h.Push(path)
	}
}
