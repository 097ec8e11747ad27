package domain

// VideoSource names which local capture feeds the outgoing video track.
// Exactly one source is active at a time and mirrored to every peer.
type VideoSource string

const (
	VideoSourceCamera VideoSource = "camera"
	VideoSourceScreen VideoSource = "screen"
)
