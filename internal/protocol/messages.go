// Package protocol defines the JSON message envelope exchanged with mirror
// clients over any transport.
package protocol

import (
	"math"

	"github.com/banshee-data/articulate/internal/landmarks"
)

// Inbound message types.
const (
	TypeFrame     = "frame"
	TypeSetMode   = "set-mode"
	TypeRecompute = "recompute-alignment"
	TypePing      = "ping"

	// Legacy client commands, translated to TypeSetMode on decode.
	typeToggle        = "toggle"
	typePlayReference = "play_reference"
)

// Outbound message types.
const (
	TypeLandmarks = "landmarks"
	TypeStatus    = "status"
	TypeCompleted = "completed"
	TypeError     = "error"
	TypePong      = "pong"
)

// Mode names used on the wire.
const (
	ModeIdle     = "idle"
	ModeLive     = "live"
	ModePlayback = "playback"
)

// Landmark payload kinds.
const (
	KindReference = "reference"
	KindNone      = "none"
)

// Inbound is a decoded client message. Image holds the raw image bytes of a
// frame message; Mode is one of the Mode* constants for set-mode.
type Inbound struct {
	Type      string
	Image     []byte
	MimeType  string
	Sequence  int64
	Mode      string
	Recompute bool
}

// FrameFromBinary wraps raw image bytes received on a binary channel.
func FrameFromBinary(image []byte) Inbound {
	return Inbound{Type: TypeFrame, Image: image}
}

// RegionIndices lists the animated indices so clients can draw the regions.
type RegionIndices struct {
	Jaw   []int `json:"jaw"`
	Mouth []int `json:"mouth"`
}

// LandmarksPayload is the body of a landmarks message. Points is null for
// KindNone.
type LandmarksPayload struct {
	Kind    string            `json:"type"`
	Points  [][2]float64      `json:"points"`
	Indices RegionIndices     `json:"indices"`
	Frame   int               `json:"frame"`
	Total   int               `json:"total"`
	Bounds  *landmarks.Bounds `json:"bounds,omitempty"`
}

// Outbound is a server message. Only the fields relevant to Type are set.
type Outbound struct {
	Type    string            `json:"type"`
	Data    *LandmarksPayload `json:"data,omitempty"`
	Mode    string            `json:"mode,omitempty"`
	Fixed   *bool             `json:"fixed,omitempty"`
	Frames  *int              `json:"frames,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Reference builds a landmarks message carrying one aligned reference frame.
// With round set, coordinates are rounded to whole pixels.
func Reference(points landmarks.LandmarkSet, regions landmarks.Regions, frame, total int, round bool) Outbound {
	out := make([][2]float64, len(points))
	for i, p := range points {
		if round {
			out[i] = [2]float64{math.Round(p.X), math.Round(p.Y)}
		} else {
			out[i] = [2]float64{p.X, p.Y}
		}
	}
	b := points.Bounds()
	return Outbound{
		Type: TypeLandmarks,
		Data: &LandmarksPayload{
			Kind:    KindReference,
			Points:  out,
			Indices: indicesOf(regions),
			Frame:   frame,
			Total:   total,
			Bounds:  &b,
		},
	}
}

// None builds the landmarks message sent when nothing can be overlaid yet.
func None(regions landmarks.Regions, total int) Outbound {
	return Outbound{
		Type: TypeLandmarks,
		Data: &LandmarksPayload{
			Kind:    KindNone,
			Indices: indicesOf(regions),
			Total:   total,
		},
	}
}

// Status reports the session mode and whether an alignment is held.
func Status(mode string, fixed bool) Outbound {
	return Outbound{Type: TypeStatus, Mode: mode, Fixed: &fixed}
}

// Completed marks the end of a playback run of the given length.
func Completed(frames int) Outbound {
	return Outbound{Type: TypeCompleted, Frames: &frames}
}

// Error reports a non-fatal problem with a client message.
func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

// Pong answers a ping.
func Pong() Outbound {
	return Outbound{Type: TypePong}
}

func indicesOf(r landmarks.Regions) RegionIndices {
	return RegionIndices{Jaw: r.Jaw.Indices, Mouth: r.Mouth.Indices}
}
