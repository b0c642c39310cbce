package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const maxRetryFactor = 30

// Watch listens on the live channel of every kind that has one and
// refreshes that kind's collection on each change. Dropped channels are
// redialed with backoff. Watch blocks until ctx is done, the console is
// closed, or the backend rejects the session.
func (c *Console) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrClosed
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}()

	var kinds []string
	for _, kind := range c.order {
		if s := c.panels[kind].Schema(); s.Channel {
			kinds = append(kinds, kind)
		}
	}

	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.watch(ctx, kind)
			if errs[i] != nil {
				cancel()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (c *Console) watch(ctx context.Context, kind string) error {
	delay := c.retryDelay
	for {
		err := c.client.Listen(ctx, kind, func(ch types.Change) {
			glog.V(1).Infof("console: %s %s %s", ch.Kind, ch.Op, ch.ID)
			if err := c.Refresh(ctx, kind); err != nil {
				glog.V(1).Infof("console: refreshing %s after change: %v", kind, err)
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, types.ErrUnauthorized) {
			c.fail(err)
			return err
		}
		if err == nil {
			delay = c.retryDelay
		} else {
			glog.Warningf("console: %s channel: %v; retrying in %s", kind, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if err != nil && delay < maxRetryFactor*c.retryDelay {
			delay *= 2
		}
	}
}
