package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 60 * time.Second
	sendBuffer   = 32
)

// Hub fans record changes out to the websocket subscribers of each kind.
// A subscriber whose buffer is full misses the change; the console refetches
// the whole collection on the next one.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	gauge  prometheus.Gauge
}

type subscriber struct {
	kind string
	send chan types.Change
}

// NewHub creates an empty hub. gauge tracks connected subscribers and may
// be nil.
func NewHub(gauge prometheus.Gauge) *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), gauge: gauge}
}

// Publish delivers ch to every subscriber of ch.Kind.
func (h *Hub) Publish(ch types.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ch.Kind] {
		select {
		case sub.send <- ch:
		default:
			glog.Warningf("devserver: dropping %s change for a slow subscriber", ch.Kind)
		}
	}
}

// Subscribers returns the number of subscribers of kind.
func (h *Hub) Subscribers(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[kind])
}

// Close disconnects every subscriber. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for kind, subs := range h.subs {
		for sub := range subs {
			close(sub.send)
		}
		delete(h.subs, kind)
	}
	if h.gauge != nil {
		h.gauge.Set(0)
	}
}

func (h *Hub) signon(kind string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{kind: kind, send: make(chan types.Change, sendBuffer)}
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[*subscriber]struct{})
	}
	h.subs[kind][sub] = struct{}{}
	if h.gauge != nil {
		h.gauge.Inc()
	}
	return sub, true
}

func (h *Hub) signoff(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.kind][sub]; !ok {
		return
	}
	delete(h.subs[sub.kind], sub)
	close(sub.send)
	if h.gauge != nil {
		h.gauge.Dec()
	}
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	sch, err := s.registry.Kind(kind)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if !principalFrom(r.Context()).allows(sch.Subject, types.ActionView) {
		writeError(w, http.StatusForbidden, "permission denied", nil)
		return
	}

	wc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("devserver: channel upgrade failed: %v", err)
		return
	}
	sub, ok := s.hub.signon(kind)
	if !ok {
		wc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeTimeout))
		wc.Close()
		return
	}
	glog.V(1).Infof("devserver: %s channel subscriber connected", kind)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeChanges(wc, sub.send)
	}()
	for {
		if _, _, err := wc.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.signoff(sub)
	<-done
	glog.V(1).Infof("devserver: %s channel subscriber left", kind)
}

func writeChanges(wc *websocket.Conn, send <-chan types.Change) {
	defer wc.Close()
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case ch, ok := <-send:
			if !ok {
				wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				wc.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteJSON(ch); err != nil {
				return
			}
		case <-t.C:
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

