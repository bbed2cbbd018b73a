package rtc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const noMediaSDP = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

func desc(t *testing.T, typ, sdp string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"type": typ, "sdp": sdp})
	require.NoError(t, err)
	return b
}

func TestValidateDescription(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		kind    string
		raw     json.RawMessage
		wantErr error
		anyErr  bool
	}{
		{name: "offer", kind: "webrtc-offer", raw: desc(t, "offer", offerSDP)},
		{name: "answer", kind: "webrtc-answer", raw: desc(t, "answer", offerSDP)},
		{name: "pranswer", kind: "webrtc-answer", raw: desc(t, "pranswer", offerSDP)},
		{name: "answer sent as offer", kind: "webrtc-offer", raw: desc(t, "answer", offerSDP), wantErr: ErrSDPType},
		{name: "empty sdp", kind: "webrtc-offer", raw: desc(t, "offer", " "), wantErr: ErrEmptySDP},
		{name: "no media", kind: "webrtc-offer", raw: desc(t, "offer", noMediaSDP), wantErr: ErrNoMedia},
		{name: "garbage sdp", kind: "webrtc-offer", raw: desc(t, "offer", "hello"), anyErr: true},
		{name: "unknown type", kind: "webrtc-offer", raw: desc(t, "bogus", offerSDP), anyErr: true},
		{name: "not an object", kind: "webrtc-offer", raw: json.RawMessage(`"sdp"`), anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDescription(tt.kind, tt.raw)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCandidate(json.RawMessage(
		`{"candidate":"candidate:1 1 udp 2130706431 192.168.1.10 54400 typ host","sdpMid":"0","sdpMLineIndex":0}`)))
	assert.NoError(t, v.ValidateCandidate(json.RawMessage(`{"candidate":""}`)), "end of candidates")
	assert.ErrorIs(t, v.ValidateCandidate(json.RawMessage(`{"candidate":"candidate:garbage"}`)), ErrBadCandidate)
	assert.Error(t, v.ValidateCandidate(json.RawMessage(`[1,2]`)))
}

func TestICEServers(t *testing.T) {
	servers := ICEServers(ICEConfig{
		STUN:           []string{"stun:stun.l.google.com:19302", "bogus"},
		TURNServers:    "turn.example.com:3478, turns:relay.example.com:5349",
		TURNUsername:   "user",
		TURNCredential: "secret",
	})
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Equal(t, []string{"turn:turn.example.com:3478", "turns:relay.example.com:5349"}, servers[1].URLs)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
}

func TestICEServers_TURNNeedsCredentials(t *testing.T) {
	servers := ICEServers(ICEConfig{
		STUN:        []string{"stun:stun.l.google.com:19302"},
		TURNServers: "turn.example.com:3478",
	})
	require.Len(t, servers, 1)
	assert.Len(t, Configuration(ICEConfig{}).ICEServers, 0)
}

func TestValidateICEConfig(t *testing.T) {
	assert.NoError(t, ValidateICEConfig(ICEConfig{STUN: []string{"stun:stun.l.google.com:19302"}}))
	assert.Error(t, ValidateICEConfig(ICEConfig{STUN: []string{"http://nope"}}))
}
