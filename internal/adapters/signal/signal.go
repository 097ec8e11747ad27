package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the relay's websocket endpoints. It forwards frames
// and tracks membership needed to route them; everything else lives on
// the clients.
type Controller struct {
	Rooms    *RoomSet
	Presence Presence
	Limiter  *JoinRateLimiter
}

func NewController(presence Presence) *Controller {
	return &Controller{
		Rooms:    NewRoomSet(),
		Presence: presence,
		Limiter:  NewJoinRateLimiter(8, joinRateWindow),
	}
}

type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades one authenticated participant connection. The
// JWT middleware has already pinned peer id, session and name into the
// gin context.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := domain.PeerID(c.GetString("peer_id"))
	sessionID := domain.SessionID(c.GetString("session_id"))
	name := c.GetString("display_name")
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("session", string(sessionID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &clientState{
		peerID:  peerID,
		session: sessionID,
		name:    name,
		conn:    conn,
		cancel:  cancel,
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, client)
}

// clientState is the relay's per-connection bookkeeping.
type clientState struct {
	peerID  domain.PeerID
	session domain.SessionID
	name    string
	conn    *WsConn
	cancel  context.CancelFunc
	joined  bool
}

func (ctl *Controller) sendJSON(c *WsConn, m core.Message) {
	b, err := core.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *WsConn, msg string) {
	ctl.sendJSON(c, core.Message{Kind: core.KindError, Error: msg})
}
