// Package console assembles the per-kind panels into one administration
// console: a shared gateway client, one Panel per entity kind, the
// navigation binder over all of them, and the signed-in account.
//
// Any request that comes back 401 signs the console out: every collection
// and session is cleared, the token is dropped and the login handler runs.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/assetdesk/internal/gateway"
	"github.com/mesh-intelligence/assetdesk/internal/nav"
	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const defaultRetryDelay = time.Second

type panel interface {
	View
	knownIDs() map[string]bool
	reset()
}

// Option configures a Console.
type Option func(*options)

type options struct {
	history    nav.History
	onLogin    func()
	onNotice   gateway.Reporter
	registry   *schema.Registry
	metrics    prometheus.Registerer
	httpOpts   []gateway.Option
	retryDelay time.Duration
}

// WithHistory receives the paths pushed by session transitions.
func WithHistory(h nav.History) Option {
	return func(o *options) { o.history = h }
}

// WithLoginHandler runs fn whenever the console is signed out by the
// backend.
func WithLoginHandler(fn func()) Option {
	return func(o *options) { o.onLogin = fn }
}

// WithNoticeHandler receives background failures, such as a failed refresh,
// that have no interactive caller.
func WithNoticeHandler(fn func(kind string, err error)) Option {
	return func(o *options) { o.onNotice = fn }
}

// WithRegistry replaces the built-in schemas.
func WithRegistry(r *schema.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMetrics registers gateway request metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = reg }
}

// WithGatewayOptions passes extra options to the gateway client.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *options) { o.httpOpts = append(o.httpOpts, opts...) }
}

// WithRetryDelay sets the first delay before Watch reconnects a dropped
// channel. The delay doubles up to 30 times its initial value.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// Console holds every panel of the administration console.
type Console struct {
	Machines   *Panel[*types.Machine]
	Tasks      *Panel[*types.Task]
	Reports    *Panel[*types.Report]
	Users      *Panel[*types.User]
	Roles      *Panel[*types.Role]
	Facilities *Panel[*types.Facility]

	categories map[string]*Panel[*types.Category]

	registry   *schema.Registry
	client     *gateway.Client
	binder     *nav.Binder
	panels     map[string]panel
	order      []string
	onLogin    func()
	retryDelay time.Duration

	mu        sync.Mutex
	account   *types.Account
	signedOut bool
	closed    bool
	watchers  map[int]context.CancelFunc
	nextWatch int
}

// New builds a console for cfg.
func New(cfg types.Config, opts ...Option) (*Console, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		reg, err := schema.Default()
		if err != nil {
			return nil, err
		}
		o.registry = reg
	}

	gwOpts := []gateway.Option{gateway.WithTimeout(cfg.Timeout), gateway.WithToken(cfg.Token)}
	if o.metrics != nil {
		gwOpts = append(gwOpts, gateway.WithMetrics(gateway.NewMetrics(o.metrics)))
	}
	if o.onNotice != nil {
		gwOpts = append(gwOpts, gateway.WithReporter(o.onNotice))
	}
	client, err := gateway.NewClient(cfg.APIURL, append(gwOpts, o.httpOpts...)...)
	if err != nil {
		return nil, err
	}

	c := &Console{
		categories: map[string]*Panel[*types.Category]{},
		registry:   o.registry,
		client:     client,
		binder:     nav.NewBinder(cfg.BasePath, o.history),
		panels:     map[string]panel{},
		onLogin:    o.onLogin,
		retryDelay: o.retryDelay,
		watchers:   map[int]context.CancelFunc{},
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	glog.Infof("console: attached to %s", cfg.APIURL)
	return c, nil
}

func (c *Console) build() error {
	var err error
	if c.Machines, err = newPanel[*types.Machine](c, types.KindMachines); err != nil {
		return err
	}
	if c.Tasks, err = newPanel[*types.Task](c, types.KindTasks); err != nil {
		return err
	}
	if c.Reports, err = newPanel[*types.Report](c, types.KindReports); err != nil {
		return err
	}
	if c.Users, err = newPanel[*types.User](c, types.KindUsers); err != nil {
		return err
	}
	if c.Roles, err = newPanel[*types.Role](c, types.KindRoles); err != nil {
		return err
	}
	if c.Facilities, err = newPanel[*types.Facility](c, types.KindFacilities); err != nil {
		return err
	}
	for _, kind := range types.LookupKinds {
		p, err := newPanel[*types.Category](c, kind)
		if err != nil {
			return err
		}
		c.categories[kind] = p
	}
	return nil
}

// Client returns the shared gateway client.
func (c *Console) Client() *gateway.Client {
	return c.client
}

// Binder returns the navigation binder over every panel.
func (c *Console) Binder() *nav.Binder {
	return c.binder
}

// Kinds returns every kind with a panel, primary kinds first.
func (c *Console) Kinds() []string {
	return append([]string{}, c.order...)
}

// View returns the panel for kind.
func (c *Console) View(kind string) (View, error) {
	p, ok := c.panels[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
	}
	return p, nil
}

// Category returns the lookup panel for kind.
func (c *Console) Category(kind string) (*Panel[*types.Category], error) {
	p, ok := c.categories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
	}
	return p, nil
}

// KnownIDs implements schema.Lookup over the cached collections.
func (c *Console) KnownIDs(kind string) map[string]bool {
	p, ok := c.panels[kind]
	if !ok {
		return nil
	}
	return p.knownIDs()
}

// Account returns the signed-in account, or nil.
func (c *Console) Account() *types.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Console) allows(subject, action string) bool {
	c.mu.Lock()
	acct := c.account
	c.mu.Unlock()
	if acct == nil {
		return true
	}
	return acct.Allows(subject, action)
}

// Authenticate loads the account for the client's token. Without a valid
// session it signs the console out and returns types.ErrUnauthorized.
func (c *Console) Authenticate(ctx context.Context) (*types.Account, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	acct, err := c.client.CurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if acct == nil {
		c.signOut()
		return nil, types.ErrUnauthorized
	}
	c.mu.Lock()
	c.account = acct
	c.signedOut = false
	c.mu.Unlock()
	glog.V(1).Infof("console: signed in as %s", acct.Email)
	return acct, nil
}

// Login exchanges email for a token and loads the account. It returns the
// token so the caller can persist it.
func (c *Console) Login(ctx context.Context, email string) (string, *types.Account, error) {
	if err := c.checkOpen(); err != nil {
		return "", nil, err
	}
	token, err := c.client.Login(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("signing in: %w", err)
	}
	acct, err := c.Authenticate(ctx)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// Refresh reloads the given kinds, or every kind when none are given,
// concurrently. Kinds that fail keep their previous collection.
func (c *Console) Refresh(ctx context.Context, kinds ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if len(kinds) == 0 {
		kinds = c.order
	}
	targets := make([]panel, 0, len(kinds))
	for _, kind := range kinds {
		p, ok := c.panels[kind]
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
		}
		targets = append(targets, p)
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, p := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Refresh(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Navigate drives the panel named by path.
func (c *Console) Navigate(ctx context.Context, path string) (nav.Route, error) {
	if err := c.checkOpen(); err != nil {
		return nav.Route{}, err
	}
	return c.binder.Navigate(ctx, path)
}

// Close stops every watcher and unbinds navigation. The panels keep their
// last state.
func (c *Console) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	for _, cancel := range watchers {
		cancel()
	}
	c.binder.Unbind()
	glog.Infof("console: closed")
}

func (c *Console) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrClosed
	}
	return nil
}

// fail signs the console out when err says the session is gone.
func (c *Console) fail(err error) {
	if err != nil && errors.Is(err, types.ErrUnauthorized) {
		c.signOut()
	}
}

func (c *Console) signOut() {
	c.mu.Lock()
	if c.signedOut {
		c.mu.Unlock()
		return
	}
	c.signedOut = true
	c.account = nil
	c.mu.Unlock()

	c.client.SetToken("")
	for _, kind := range c.order {
		c.panels[kind].reset()
	}
	glog.Infof("console: signed out, login required")
	if c.onLogin != nil {
		c.onLogin()
	}
}
