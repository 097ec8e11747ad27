package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

// Entry is one registry slot: participant meta plus the connection handle
// and its negotiation state. The negotiation layer writes Conn/State, the
// media layer writes the mute flags; no two components write one field.
type Entry struct {
	Peer  domain.Peer
	Conn  core.MediaConn
	State core.NegotiationState
}

// Registry is the single shared peer map. Everything else looks peers up
// here instead of keeping copies. Reads get snapshots; the map is never
// iterated while being structurally modified.
type Registry struct {
	mu       sync.RWMutex
	peers    map[domain.PeerID]*Entry
	onChange func([]domain.Peer)
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*Entry)}
}

// OnChange installs the peer-list listener the embedding layer renders
// from. Set once before the session loop starts. The callback runs with
// the registry locked so snapshots arrive in mutation order; it must not
// call back into the registry.
func (r *Registry) OnChange(fn func([]domain.Peer)) { r.onChange = fn }

// Upsert creates the entry if needed and applies mutate under the lock.
func (r *Registry) Upsert(id domain.PeerID, mutate func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		e = &Entry{Peer: domain.Peer{ID: id}}
		r.peers[id] = e
		log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer added")
	}
	if mutate != nil {
		mutate(e)
	}
	r.notifyLocked()
}

// Get returns a copy; absence is an empty result, not an error.
func (r *Registry) Get(id domain.PeerID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove closes the connection handle, if any, before dropping the entry.
// Release is guaranteed even when callers forget.
func (r *Registry) Remove(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return
	}
	delete(r.peers, id)
	if e.Conn != nil {
		e.Conn.Close()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer removed")
	r.notifyLocked()
}

// List snapshots every entry.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, *e)
	}
	return out
}

// Peers snapshots participant meta only.
func (r *Registry) Peers() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peersLocked()
}

func (r *Registry) peersLocked() []domain.Peer {
	out := make([]domain.Peer, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.Peer)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Clear removes every entry, closing handles. Used on transport loss.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) == 0 {
		return
	}
	for _, e := range r.peers {
		if e.Conn != nil {
			e.Conn.Close()
		}
	}
	r.peers = make(map[domain.PeerID]*Entry)
	r.notifyLocked()
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(r.peersLocked())
	}
}
