// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxDisplayNameLen = 36

	// AIParticipantID is the reserved id of the synthetic AI facilitator
	// entry. It never owns its own connection handle; its audio rides on
	// top of the hosting client's peer connections.
	AIParticipantID PeerID = "ai-facilitator"
)

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type PeerID string

type SessionID string

// Peer is one session participant as seen by this client. Identity is the
// transport-assigned id. Connection state lives on the handle owned by the
// negotiation layer; mute flags are owned by the media layer.
type Peer struct {
	ID          PeerID
	DisplayName string
	AudioMuted  bool
	VideoMuted  bool

	// IsAI marks the synthetic facilitator entry.
	IsAI bool
	// IsLocalHost is set on the AI entry of the one client that dialed
	// the agent and is responsible for fanning its audio out.
	IsLocalHost bool
}

// ValidateDisplayName keeps name rules in one place so transports do not
// invent their own.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	return nil
}
