package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownType is returned for a well-formed message of an unsupported type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when a message cannot be parsed.
	ErrMalformed = errors.New("malformed message")
)

type wireInbound struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MimeType  string `json:"mime_type"`
	Sequence  int64  `json:"sequence"`
	Mode      string `json:"mode"`
	Recompute bool   `json:"recompute"`
	Value     *bool  `json:"value"`
}

// Decode parses one JSON client message. Legacy toggle and play_reference
// commands are returned as set-mode messages.
func Decode(raw []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch w.Type {
	case TypeFrame:
		img, err := decodeImage(w.Data)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: TypeFrame, Image: img, MimeType: w.MimeType, Sequence: w.Sequence}, nil

	case TypeSetMode:
		mode, err := normalizeMode(w.Mode)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: TypeSetMode, Mode: mode, Recompute: w.Recompute}, nil

	case typeToggle:
		return legacy(w.Value, ModeLive), nil

	case typePlayReference:
		return legacy(w.Value, ModePlayback), nil

	case TypeRecompute, TypePing:
		return Inbound{Type: w.Type}, nil

	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}

// Encode marshals an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}

// legacy maps a boolean on/off command onto a mode change.
func legacy(value *bool, on string) Inbound {
	mode := ModeIdle
	if value != nil && *value {
		mode = on
	}
	return Inbound{Type: TypeSetMode, Mode: mode}
}

func normalizeMode(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ModeIdle, "stop":
		return ModeIdle, nil
	case ModeLive, "live-tracking", "livetracking":
		return ModeLive, nil
	case ModePlayback, "reference", "reference-playback", "referenceplayback":
		return ModePlayback, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrMalformed, s)
}

// decodeImage accepts plain base64 or a data URL and repairs missing padding.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: frame has no data", ErrMalformed)
	}
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: frame data: %v", ErrMalformed, err)
	}
	return img, nil
}
