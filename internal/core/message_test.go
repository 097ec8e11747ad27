package core

import (
	"testing"

	"github.com/ykwon/stormcall/internal/domain"
)

func TestDecodeOffer(t *testing.T) {
	t.Parallel()
	frame := []byte(`{"type":"offer","target_id":"peer-b","sdp":"v=0..."}`)
	m, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Kind != KindOffer {
		t.Errorf("kind %q, want offer", m.Kind)
	}
	if m.To != "peer-b" {
		t.Errorf("target %q, want peer-b", m.To)
	}
	if m.SDP != "v=0..." {
		t.Errorf("sdp %q", m.SDP)
	}
}

func TestDecodeCandidatePreservesNilFields(t *testing.T) {
	t.Parallel()
	// End-of-candidates notifications carry no mid or mline index; nil
	// must survive the round trip, zero values would corrupt them.
	m, err := Decode([]byte(`{"type":"ice_candidate","candidate":""}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.SDPMid != nil || m.SDPMLineIndex != nil {
		t.Error("absent sdpMid/sdpMLineIndex decoded as non-nil")
	}

	mid := "0"
	idx := uint16(1)
	b, err := Encode(Message{Kind: KindICECandidate, Candidate: "c", SDPMid: &mid, SDPMLineIndex: &idx})
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if back.SDPMid == nil || *back.SDPMid != "0" {
		t.Error("sdpMid lost in round trip")
	}
	if back.SDPMLineIndex == nil || *back.SDPMLineIndex != 1 {
		t.Error("sdpMLineIndex lost in round trip")
	}
}

func TestDecodeMissingType(t *testing.T) {
	t.Parallel()
	if _, err := Decode([]byte(`{"sdp":"v=0..."}`)); err == nil {
		t.Error("frame without type tag accepted")
	}
	if _, err := Decode([]byte(`{broken`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestDecodeUnknownKindPassesThrough(t *testing.T) {
	t.Parallel()
	m, err := Decode([]byte(`{"type":"future_thing"}`))
	if err != nil {
		t.Fatalf("unknown kind rejected by codec: %v", err)
	}
	if m.Kind != Kind("future_thing") {
		t.Errorf("kind %q", m.Kind)
	}
}

func TestTargetedKinds(t *testing.T) {
	t.Parallel()
	targeted := []Kind{KindOffer, KindAnswer, KindICECandidate, KindTimerSync}
	for _, k := range targeted {
		if !k.Targeted() {
			t.Errorf("%s should be targeted", k)
		}
	}
	broadcast := []Kind{
		KindPeerJoined, KindPeerLeft, KindMuteStatus, KindScreenShareStart,
		KindScreenShareStop, KindAIConnected, KindWorkshopStarted,
		KindTimerPaused, KindPhaseChanged, KindRequestSync,
	}
	for _, k := range broadcast {
		if k.Targeted() {
			t.Errorf("%s should broadcast", k)
		}
	}
}

func TestEncodeOmitsUnusedFields(t *testing.T) {
	t.Parallel()
	b, err := Encode(Message{Kind: KindPeerLeft, PeerID: domain.PeerID("peer-a")})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"peer_left","peer_id":"peer-a"}`
	if string(b) != want {
		t.Errorf("frame %s, want %s", b, want)
	}
}
