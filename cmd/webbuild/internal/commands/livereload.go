package commands

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reloadWriteWait = 10 * time.Second
	reloadPongWait  = 60 * time.Second
	reloadPingEvery = (reloadPongWait * 9) / 10
)

var reloadUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// reloadMessage is sent to pages after every build.
type reloadMessage struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
}

// reloadHub fans build notifications out to every connected page.
type reloadHub struct {
	mu      sync.Mutex
	clients map[chan reloadMessage]struct{}
}

func newReloadHub() *reloadHub {
	return &reloadHub{clients: map[chan reloadMessage]struct{}{}}
}

func (h *reloadHub) subscribe() chan reloadMessage {
	ch := make(chan reloadMessage, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *reloadHub) unsubscribe(ch chan reloadMessage) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// broadcast never blocks, slow clients miss messages.
func (h *reloadHub) broadcast(msg reloadMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *reloadHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *reloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := reloadUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := zerolog.Ctx(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(reloadPongWait)); err != nil {
		log.Debug().Err(err).Msg("live reload set read deadline failed")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(reloadPongWait))
	})

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// Pages never send anything, reading only processes control frames and
	// notices the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(reloadPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(reloadWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(reloadWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reloadScript is injected into pages when watching. It reloads the page after
// a successful build.
const reloadScript = `<script>
(function () {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var ws = new WebSocket(proto + "//" + location.host + "/_livereload");
  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type === "reload") { location.reload(); }
    else if (msg.type === "error") { console.error("build failed:", msg.error); }
  };
})();
</script>`
