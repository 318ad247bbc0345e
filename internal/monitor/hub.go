package monitor

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/inkley/sensorctl/internal/sensor"
	"github.com/inkley/sensorctl/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans readings out to connected websocket clients. Attached to the
// controller once and alive across runs.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	send chan sensor.Reading
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Append implements sensor.ReadingSink. A slow client loses readings rather
// than stalling the run; always returns nil.
func (h *Hub) Append(r sensor.Reading) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- r:
		default:
		}
	}
	return nil
}

// ClientCount reports how many websocket clients are attached.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and streams readings as JSON objects
// until the peer goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	cl := &client{send: make(chan sensor.Reading, 256)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
	}()

	// Reads are discarded; the loop exists to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case r := <-cl.send:
			if err := conn.WriteJSON(r); err != nil {
				logger.Log.Debugf("write reading to websocket failed: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

var _ sensor.ReadingSink = (*Hub)(nil)
