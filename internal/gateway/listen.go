package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const handshakeTimeout = 10 * time.Second

// ChannelURL returns the websocket URL of the live channel for kind.
func (c *Client) ChannelURL(kind string) string {
	u := c.base.JoinPath("channel", kind)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Listen subscribes to the live channel of kind and calls fn for every
// change until ctx is cancelled or the connection fails. It returns nil when
// ctx ends the subscription.
func (c *Client) Listen(ctx context.Context, kind string, fn func(types.Change)) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	hdr := http.Header{}
	if token := c.Token(); token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}

	target := c.ChannelURL(kind)
	conn, resp, err := dialer.DialContext(ctx, target, hdr)
	if err != nil {
		if resp != nil {
			return &types.APIError{Status: resp.StatusCode, Err: fmt.Errorf("dialing %s: %w", target, err)}
		}
		return &types.APIError{Err: fmt.Errorf("dialing %s: %w", target, err)}
	}
	defer conn.Close()
	glog.V(1).Infof("gateway: listening on %s", target)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		var change types.Change
		if err := conn.ReadJSON(&change); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &types.APIError{Err: fmt.Errorf("reading %s channel: %w", kind, err)}
		}
		if change.Kind == "" {
			change.Kind = kind
		}
		fn(change)
	}
}
