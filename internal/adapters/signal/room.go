package signal

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

// member pairs a participant with its transport endpoint. The relay keeps
// nothing else per peer; all call state lives on the clients.
type member struct {
	id   domain.PeerID
	name string
	conn core.SignalConnection
}

// Room is the routing table for one workshop session.
type Room struct {
	id domain.SessionID

	mu    sync.RWMutex
	peers map[domain.PeerID]*member
}

func newRoom(id domain.SessionID) *Room {
	return &Room{id: id, peers: make(map[domain.PeerID]*member)}
}

// Add registers a peer and returns a snapshot of who was already here.
func (r *Room) Add(id domain.PeerID, name string, conn core.SignalConnection) []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := make([]domain.PeerID, 0, len(r.peers))
	for pid := range r.peers {
		existing = append(existing, pid)
	}
	r.peers[id] = &member{id: id, name: name, conn: conn}
	log.Info().Str("module", "signal.room").Str("session", string(r.id)).Str("peer", string(id)).Msg("peer added")
	return existing
}

func (r *Room) Remove(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	log.Info().Str("module", "signal.room").Str("session", string(r.id)).Str("peer", string(id)).Msg("peer removed")
	return true
}

func (r *Room) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) == 0
}

// SendTo routes a frame to one peer. Unknown targets are dropped; the
// sender keeps trickling and does not need an error back.
func (r *Room) SendTo(id domain.PeerID, frame core.Frame) {
	r.mu.RLock()
	m, ok := r.peers[id]
	r.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "signal.room").Str("session", string(r.id)).Str("peer", string(id)).Msg("target not in room")
		return
	}
	if err := m.conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal.room").Str("peer", string(id)).Msg("send dropped")
	}
}

// Broadcast fans a frame to everyone but the sender.
func (r *Room) Broadcast(from domain.PeerID, frame core.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.peers {
		if id == from {
			continue
		}
		if err := m.conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "signal.room").Str("peer", string(id)).Msg("broadcast dropped")
		}
	}
}

// RoomSet owns every active room.
type RoomSet struct {
	mu    sync.RWMutex
	rooms map[domain.SessionID]*Room
}

func NewRoomSet() *RoomSet {
	return &RoomSet{rooms: make(map[domain.SessionID]*Room)}
}

func (s *RoomSet) Get(id domain.SessionID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

func (s *RoomSet) GetOrCreate(id domain.SessionID) *Room {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok = s.rooms[id]; ok {
		return room
	}
	room = newRoom(id)
	s.rooms[id] = room
	return room
}

// Drop removes a room once empty.
func (s *RoomSet) Drop(id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok && room.Empty() {
		delete(s.rooms, id)
		log.Info().Str("module", "signal.room").Str("session", string(id)).Msg("room dropped")
	}
}
