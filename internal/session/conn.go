package session

import (
	"context"
	"time"

	"github.com/banshee-data/articulate/internal/protocol"
)

// Conn is one client's ordered, bidirectional message channel. Recv returns
// errors wrapping protocol.ErrMalformed or protocol.ErrUnknownType for bad
// messages; any other error ends the session. Implementations must unblock
// Recv and Send when ctx is done.
type Conn interface {
	Recv(ctx context.Context) (protocol.Inbound, error)
	Send(ctx context.Context, msg protocol.Outbound) error
	RemoteAddr() string
}

// Run is one finished playback run.
type Run struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Animation     string    `json:"animation"`
	Started       time.Time `json:"started"`
	Ended         time.Time `json:"ended"`
	FramesEmitted int       `json:"frames_emitted"`
	Outcome       string    `json:"outcome"`
}

// RunRecorder persists finished playback runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}
