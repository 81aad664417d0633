package media

import "encoding/json"

// Kind identifies the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether the kind is one the engine understands.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// CodecCapability describes a single codec a router or client supports.
type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// RTPCapabilities is a client's (or router's) declared codec support. The
// compatibility check for consume only inspects codec mime types; everything
// else is carried opaquely.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// RTPParameters describes a produced track. Encodings are opaque to the
// core and forwarded to the engine untouched.
type RTPParameters struct {
	Codecs    []CodecCapability `json:"codecs"`
	Encodings json.RawMessage   `json:"encodings,omitempty"`
}

// TransportParams is handed back to the client after transport creation.
type TransportParams struct {
	ID  string `json:"id"`
	SDP string `json:"sdp"` // local offer including ICE candidates and DTLS fingerprint
}

// ConnectParams carries the client's ICE/DTLS answer for a transport.
type ConnectParams struct {
	SDP string `json:"sdp"`
}
