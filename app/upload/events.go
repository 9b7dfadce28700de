package upload

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/upload"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// allowedOrigin reuses the CORS allowlist for websocket handshakes.
func allowedOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}

type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscriber forwards manager events that belong to a single user.
type subscriber struct {
	d      *internal.Deps
	userID string
	send   chan []byte

	mu    sync.Mutex
	owned map[string]bool // batchID -> started by userID
}

func (s *subscriber) owns(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.owned[batchID]; ok {
		return v
	}

	bp, err := s.d.Manager.GetBatchProgress(batchID)
	if err != nil {
		return false
	}

	s.owned[batchID] = bp.UserID == s.userID
	return s.owned[batchID]
}

// push never blocks the upload goroutine. Events are dropped when the
// client can't keep up.
func (s *subscriber) push(batchID, typ string, data any) {
	if !s.owns(batchID) {
		return
	}

	msg, err := json.Marshal(event{Type: typ, Data: data})
	if err != nil {
		return
	}

	select {
	case s.send <- msg:
	default:
		zap.L().Debug("Dropping upload event for slow client", zap.String("userID", s.userID), zap.String("type", typ))
	}
}

func (s *subscriber) listener() upload.Listener {
	return upload.Listener{
		OnProgress: func(e upload.ProgressEvent) {
			s.push(e.BatchID, "progress", e)
		},
		OnStateChange: func(e upload.StateChangeEvent) {
			s.push(e.BatchID, "state", e)
		},
		OnBatchProgress: func(e upload.BatchProgressEvent) {
			s.push(e.BatchID, "batch", e)
		},
	}
}

// Events streams progress of the caller's uploads over a websocket. Each
// message is a JSON object with a type of progress, state or batch.
func Events(c *gin.Context, d *internal.Deps) {
	up := upgrader
	up.CheckOrigin = allowedOrigin(d.Config.Host.CORS)

	s := &subscriber{
		d:      d,
		userID: c.GetString("userID"),
		send:   make(chan []byte, sendBuffer),
		owned:  make(map[string]bool),
	}

	// Subscribed before the handshake completes so no event after it is lost
	unsubscribe := d.Manager.Subscribe(s.listener())
	defer unsubscribe()

	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Debug("Failed to upgrade websocket connection", zap.String("requestID", c.GetString("requestID")), zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go writePump(conn, s.send, done)

	readPump(conn)
}

// readPump only handles control frames, clients have nothing to say.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("Websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
