package progress

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/posterbadge/internal/domain"
)

const (
	writeWait = 10 * time.Second
	// DefaultPingInterval is used when Handler.PingInterval is zero
	DefaultPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler streams the messages of one job over a WebSocket connection
type Handler struct {
	broadcaster  *Broadcaster
	pingInterval time.Duration
}

// NewHandler creates a WebSocket handler. pingInterval <= 0 uses the default.
func NewHandler(b *Broadcaster, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Handler{broadcaster: b, pingInterval: pingInterval}
}

// ServeJob upgrades the request and streams jobID until the job finishes,
// the client goes away or the subscriber falls behind.
func (h *Handler) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	sub, err := h.broadcaster.Subscribe(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("progress: websocket upgrade for job %s: %v", jobID, err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	readDone := make(chan struct{})

	pongWait := 3 * h.pingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// the client only sends control frames; reading processes them and
	// notices when it goes away
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("progress: websocket read for job %s: %v", jobID, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				code, text := websocket.CloseNormalClosure, "job finished"
				if sub.Reason() == ReasonSlow {
					code, text = websocket.CloseTryAgainLater, "subscriber too slow"
				}
				c.close(code, text)
				return
			}
			if err := c.writeJSON(msg); err != nil {
				log.Printf("progress: websocket write for job %s: %v", jobID, err)
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

// wsConn serializes writes on one connection
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) close(code int, text string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
