package devserver

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one socket connection. Pushes are delivered only after the
// client has sent authenticate.
type client struct {
	conn   *websocket.Conn
	userID string
	role   string

	writeMu sync.Mutex
	authed  bool
}

func (c *client) write(env realtime.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// socketHub tracks connected clients and fans pushes out to them.
type socketHub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *logger.Logger
}

func newSocketHub(log *logger.Logger) *socketHub {
	return &socketHub{clients: make(map[*client]struct{}), log: log}
}

func (h *socketHub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *socketHub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *socketHub) markAuthed(c *client) {
	h.mu.Lock()
	c.authed = true
	h.mu.Unlock()
}

// broadcast sends env to every authenticated client and returns how many
// received it.
func (h *socketHub) broadcast(env realtime.Envelope) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.authed {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.write(env); err != nil {
			h.log.Warn("devserver: push to %s failed: %v", c.userID, err)
			continue
		}
		sent++
	}
	return sent
}

func (h *socketHub) authedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.authed {
			n++
		}
	}
	return n
}

func (s *Server) handleSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if parts := splitBearer(c.GetHeader("Authorization")); parts != "" {
			token = parts
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("devserver: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, userID: claims.UserID, role: claims.Role}
	s.sockets.add(cl)
	defer s.sockets.remove(cl)

	s.log.Info("devserver: socket connected for user %s", cl.userID)

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.log.Info("devserver: socket closed for user %s: %v", cl.userID, err)
			return
		}

		switch env.Event {
		case realtime.EventAuthenticate:
			s.sockets.markAuthed(cl)
			reply, _ := realtime.NewEnvelope(realtime.EventAuthenticated, gin.H{
				"success": true,
				"userId":  cl.userID,
			})
			if err := cl.write(reply); err != nil {
				s.log.Warn("devserver: authenticated reply failed: %v", err)
				return
			}
		default:
			s.log.Warn("devserver: unexpected client event %q", env.Event)
		}
	}
}

func splitBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
