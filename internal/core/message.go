package core

import (
	"encoding/json"
	"fmt"

	"github.com/ykwon/stormcall/internal/domain"
)

// Kind tags a signaling message. Every message exchanged over the relay
// carries exactly one of these in its "type" field.
type Kind string

const (
	KindJoin             Kind = "join"
	KindLeave            Kind = "leave"
	KindPeerJoined       Kind = "peer_joined"
	KindPeersSnapshot    Kind = "peers_snapshot"
	KindPeerLeft         Kind = "peer_left"
	KindOffer            Kind = "offer"
	KindAnswer           Kind = "answer"
	KindICECandidate     Kind = "ice_candidate"
	KindMuteStatus       Kind = "mute_status"
	KindScreenShareStart Kind = "screen_share_start"
	KindScreenShareStop  Kind = "screen_share_stop"
	KindAIConnected      Kind = "ai_connected"
	KindAIDisconnected   Kind = "ai_disconnected"
	KindWorkshopStarted  Kind = "workshop_started"
	KindRequestSync      Kind = "request_sync"
	KindTimerSync        Kind = "timer_sync"
	KindTimerPaused      Kind = "timer_paused"
	KindPhaseChanged     Kind = "phase_changed"
	KindError            Kind = "error"
)

// Message is the flat wire envelope. From is stamped by the relay; To is
// set by the sender for targeted messages (offer/answer/ice_candidate/
// timer_sync), empty for room broadcasts. Unused fields stay zero and are
// omitted from JSON.
type Message struct {
	Kind Kind          `json:"type"`
	From domain.PeerID `json:"from,omitempty"`
	To   domain.PeerID `json:"target_id,omitempty"`

	// join / peer_joined
	Session domain.SessionID `json:"session_id,omitempty"`
	PeerID  domain.PeerID    `json:"peer_id,omitempty"`
	Name    string           `json:"name,omitempty"`

	// peers_snapshot
	PeerIDs []domain.PeerID `json:"peer_ids,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// ice_candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// mute_status
	AudioMuted bool `json:"audio_muted,omitempty"`
	VideoMuted bool `json:"video_muted,omitempty"`

	// ai_connected / ai_disconnected
	HostID domain.PeerID `json:"host_id,omitempty"`

	// workshop_started / timer_sync / timer_paused / phase_changed
	StartedAt       string       `json:"started_at,omitempty"`
	DurationMinutes int          `json:"duration_minutes,omitempty"`
	Phase           domain.Phase `json:"phase,omitempty"`
	Paused          bool         `json:"paused,omitempty"`
	ElapsedSeconds  int          `json:"elapsed_seconds,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Decode parses a wire frame and rejects frames without a recognizable
// type tag. Unknown kinds are returned as-is; dropping them is the
// dispatcher's call, not the codec's.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode signal frame: %w", err)
	}
	if m.Kind == "" {
		return Message{}, fmt.Errorf("signal frame missing type tag")
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", m.Kind, err)
	}
	return b, nil
}

// Targeted reports whether the relay must route this kind to a single
// peer rather than broadcast it.
func (k Kind) Targeted() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate, KindTimerSync:
		return true
	}
	return false
}
