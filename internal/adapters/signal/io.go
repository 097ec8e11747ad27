package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 1 << 16
)

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cl *clientState) {
	defer func() {
		ctl.dropClient(ctx, cl)
		cl.cancel()
	}()

	cl.conn.conn.SetReadLimit(readLimit)
	_ = cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.conn.SetPongHandler(func(string) error {
		return cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := cl.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("module", "signal").Str("peer", string(cl.peerID)).Msg("read failed")
			}
			return
		}
		ctl.handleFrame(ctx, cl, frame)
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, cl *clientState, frame core.Frame) {
	m, err := core.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(cl.peerID)).Msg("malformed frame")
		ctl.sendError(cl.conn, "malformed message")
		return
	}

	switch m.Kind {
	case core.KindJoin:
		ctl.handleJoin(ctx, cl, m)
	case core.KindLeave:
		ctl.dropClient(ctx, cl)
	default:
		ctl.forward(cl, m)
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, cl *clientState, m core.Message) {
	if cl.joined {
		return
	}
	if !ctl.Limiter.Allow(cl.peerID) {
		ctl.sendError(cl.conn, "too many join attempts")
		return
	}
	name := cl.name
	if name == "" {
		name = m.Name
	}
	if err := domain.ValidateDisplayName(name); err != nil {
		ctl.sendError(cl.conn, err.Error())
		return
	}

	room := ctl.Rooms.GetOrCreate(cl.session)
	existing := room.Add(cl.peerID, name, cl.conn)
	cl.joined = true

	if err := ctl.Presence.Add(ctx, cl.session, cl.peerID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("presence add")
	}

	ctl.sendJSON(cl.conn, core.Message{
		Kind:    core.KindPeersSnapshot,
		Session: cl.session,
		PeerID:  cl.peerID,
		PeerIDs: existing,
	})

	ctl.broadcast(room, cl.peerID, core.Message{
		Kind:    core.KindPeerJoined,
		Session: cl.session,
		PeerID:  cl.peerID,
		Name:    name,
	})
	log.Info().Str("module", "signal").Str("peer", string(cl.peerID)).Int("peers", len(existing)+1).Msg("joined room")
}

// forward stamps the sender and routes a frame: negotiation traffic
// goes to its target, everything else fans out to the room.
func (ctl *Controller) forward(cl *clientState, m core.Message) {
	if !cl.joined {
		ctl.sendError(cl.conn, "not joined")
		return
	}
	room, ok := ctl.Rooms.Get(cl.session)
	if !ok {
		return
	}
	m.From = cl.peerID
	m.Session = cl.session

	frame, err := core.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("forward marshal")
		return
	}
	if m.Kind.Targeted() && m.To != "" {
		room.SendTo(m.To, frame)
		return
	}
	room.Broadcast(cl.peerID, frame)
}

func (ctl *Controller) broadcast(room *Room, from domain.PeerID, m core.Message) {
	frame, err := core.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	room.Broadcast(from, frame)
}

func (ctl *Controller) dropClient(ctx context.Context, cl *clientState) {
	if cl.joined {
		cl.joined = false
		if room, ok := ctl.Rooms.Get(cl.session); ok {
			room.Remove(cl.peerID)
			ctl.broadcast(room, cl.peerID, core.Message{
				Kind:    core.KindPeerLeft,
				Session: cl.session,
				PeerID:  cl.peerID,
			})
			ctl.Rooms.Drop(cl.session)
		}
		if err := ctl.Presence.Remove(ctx, cl.session, cl.peerID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("presence remove")
		}
		log.Info().Str("module", "signal").Str("peer", string(cl.peerID)).Msg("left room")
	}
	cl.conn.Close()
}
