package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/articulate/internal/align"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
	"github.com/banshee-data/articulate/internal/smoothing"
	"github.com/banshee-data/articulate/internal/timeutil"
)

var (
	// ErrClosed is returned by Serve after Shutdown.
	ErrClosed = errors.New("session manager closed")
	// ErrTooManySessions is returned when MaxSessions is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// Config holds the playback and session limits.
type Config struct {
	// FrameInterval is the target time between reference frames (default: 33ms)
	FrameInterval time.Duration

	// MinSleep is the shortest pause between frames when processing overruns
	MinSleep time.Duration

	SmoothingWindow int

	// SendQueue bounds the outbound messages buffered per session
	SendQueue int

	// MaxSessions caps concurrent sessions; 0 is unlimited
	MaxSessions int

	// RoundPoints rounds outbound coordinates to whole pixels
	RoundPoints bool

	Policy ResetPolicy
}

// DefaultConfig returns a 30 fps configuration.
func DefaultConfig() Config {
	return Config{
		FrameInterval:   33 * time.Millisecond,
		MinSleep:        time.Millisecond,
		SmoothingWindow: smoothing.DefaultWindow,
		SendQueue:       32,
		RoundPoints:     true,
		Policy:          DefaultResetPolicy(),
	}
}

// Options supplies the collaborators shared by every session.
type Options struct {
	Detector landmarks.Detector
	// Aligner defaults to an align.Aligner over Regions.
	Aligner align.RegionAligner
	// Regions defaults to landmarks.DefaultRegions.
	Regions landmarks.Regions
	// Clock defaults to timeutil.RealClock.
	Clock   timeutil.Clock
	Metrics *monitoring.Metrics
	// Runs, if set, receives every finished playback run.
	Runs RunRecorder
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	Info
	Remote string `json:"remote"`
}

// Manager serves client connections against one shared reference animation.
type Manager struct {
	cfg     Config
	anim    *landmarks.ReferenceAnimation
	det     landmarks.Detector
	aligner align.RegionAligner
	regions landmarks.Regions
	clock   timeutil.Clock
	metrics *monitoring.Metrics
	runs    RunRecorder
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. The animation must be valid for the regions.
func NewManager(anim *landmarks.ReferenceAnimation, cfg Config, opts Options) (*Manager, error) {
	if anim == nil {
		return nil, landmarks.ErrEmptyAnimation
	}
	if opts.Detector == nil {
		return nil, errors.New("session manager requires a detector")
	}
	if opts.Regions.Jaw.Indices == nil && opts.Regions.Mouth.Indices == nil {
		opts.Regions = landmarks.DefaultRegions()
	}
	if err := anim.Validate(opts.Regions); err != nil {
		return nil, fmt.Errorf("reference animation %q: %w", anim.Name(), err)
	}
	if opts.Aligner == nil {
		opts.Aligner = align.NewAligner(opts.Regions)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if cfg.SendQueue < 1 {
		cfg.SendQueue = 1
	}
	if cfg.SmoothingWindow < 1 {
		cfg.SmoothingWindow = smoothing.DefaultWindow
	}

	return &Manager{
		cfg:      cfg,
		anim:     anim,
		det:      opts.Detector,
		aligner:  opts.Aligner,
		regions:  opts.Regions,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		runs:     opts.Runs,
		log:      monitoring.Component("session"),
		sessions: make(map[string]*liveSession),
	}, nil
}

// Animation returns the shared reference animation.
func (m *Manager) Animation() *landmarks.ReferenceAnimation { return m.anim }

// Regions returns the animated regions.
func (m *Manager) Regions() landmarks.Regions { return m.regions }

// Serve runs one client connection until it fails or ctx is cancelled.
// The session and any playback run are discarded on return.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ls, err := m.open(conn, cancel)
	if err != nil {
		_ = conn.Send(ctx, protocol.Error(err.Error()))
		return err
	}
	defer m.close(ls)

	ls.send(ctx, protocol.Status(Idle.String(), false))

	g, gctx := errgroup.WithContext(ctx)
	// readLoop only returns with an error, which cancels gctx and stops the
	// writer.
	g.Go(func() error {
		return m.readLoop(gctx, ls)
	})
	g.Go(func() error {
		return ls.writeLoop(gctx)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Sessions returns a snapshot of connected clients ordered by creation.
func (m *Manager) Sessions() []ClientInfo {
	m.mu.RLock()
	out := make([]ClientInfo, 0, len(m.sessions))
	for _, ls := range m.sessions {
		out = append(out, ClientInfo{Info: ls.sess.Info(), Remote: ls.remote})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Shutdown disconnects every session and waits for them to finish or for
// ctx to expire. New connections are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, ls := range m.sessions {
		ls.disconnect()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) open(conn Conn, disconnect context.CancelFunc) (*liveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	sess := NewAlignmentSession(m.anim, m.aligner, m.cfg.SmoothingWindow, m.cfg.Policy, m.metrics)
	ls := &liveSession{
		sess:       sess,
		conn:       conn,
		remote:     conn.RemoteAddr(),
		out:        make(chan protocol.Outbound, m.cfg.SendQueue),
		disconnect: disconnect,
		log:        m.log.With().Str("session", sess.ID()).Logger(),
	}
	m.sessions[sess.ID()] = ls
	m.wg.Add(1)
	m.metrics.SessionOpened()
	ls.log.Info().Str("remote", ls.remote).Msg("client connected")
	return ls, nil
}

func (m *Manager) close(ls *liveSession) {
	ls.cancelPlayback(errDisconnected)

	m.mu.Lock()
	delete(m.sessions, ls.sess.ID())
	remaining := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionClosed()
	ls.log.Info().Int("remaining", remaining).Msg("client disconnected")
	m.wg.Done()
}

func (m *Manager) readLoop(ctx context.Context, ls *liveSession) error {
	for {
		msg, err := ls.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
				ls.log.Warn().Err(err).Msg("rejected client message")
				if !ls.send(ctx, protocol.Error(err.Error())) {
					return ctx.Err()
				}
				continue
			}
			return err
		}
		m.handle(ctx, ls, msg)
	}
}

func (m *Manager) handle(ctx context.Context, ls *liveSession, msg protocol.Inbound) {
	switch msg.Type {
	case protocol.TypeFrame:
		m.handleFrame(ctx, ls, msg)

	case protocol.TypeSetMode:
		mode, err := ParseMode(msg.Mode)
		if err != nil {
			ls.send(ctx, protocol.Error(err.Error()))
			return
		}
		m.setMode(ctx, ls, mode, msg.Recompute)

	case protocol.TypeRecompute:
		ls.sess.RecomputeAlignment()
		ls.log.Debug().Msg("alignment cleared")
		m.sendStatus(ctx, ls)

	case protocol.TypePing:
		ls.send(ctx, protocol.Pong())

	default:
		ls.send(ctx, protocol.Error(fmt.Sprintf("unsupported message type %q", msg.Type)))
	}
}

// handleFrame runs detection on one inbound image. Misses and detector
// failures leave the session unchanged.
func (m *Manager) handleFrame(ctx context.Context, ls *liveSession, msg protocol.Inbound) {
	set, ok, err := m.det.Detect(ctx, msg.Image)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		m.metrics.DetectionMiss()
		ls.log.Warn().Err(err).Int64("sequence", msg.Sequence).Msg("detector failed")
	case !ok:
		m.metrics.DetectionMiss()
		ls.log.Debug().Int64("sequence", msg.Sequence).Msg("no face detected")
	default:
		ls.sess.IngestUser(set)
	}

	state, preview := ls.sess.LiveUpdate()
	switch state {
	case LiveNone:
		ls.send(ctx, protocol.None(m.regions, m.anim.Len()))
	case LivePreview:
		ls.log.Info().Msg("alignment computed")
		ls.send(ctx, protocol.Reference(preview, m.regions, 0, m.anim.Len(), m.cfg.RoundPoints))
		m.sendStatus(ctx, ls)
	}
}

// setMode cancels any running playback before changing state so no frame
// from the old run follows the status message.
func (m *Manager) setMode(ctx context.Context, ls *liveSession, mode Mode, recompute bool) {
	ls.cancelPlayback(errStopped)

	switch mode {
	case Idle:
		ls.sess.Stop()
	case LiveTracking:
		ls.sess.StartLive()
	case ReferencePlayback:
		ls.sess.StartPlayback(recompute)
	}
	ls.log.Debug().Str("mode", mode.String()).Bool("recompute", recompute).Msg("mode changed")
	m.sendStatus(ctx, ls)

	if mode == ReferencePlayback {
		m.startPlayback(ctx, ls)
	}
}

func (m *Manager) sendStatus(ctx context.Context, ls *liveSession) {
	ls.send(ctx, protocol.Status(ls.sess.Mode().String(), ls.sess.Fixed()))
}

// liveSession binds an AlignmentSession to its connection.
type liveSession struct {
	sess       *AlignmentSession
	conn       Conn
	remote     string
	out        chan protocol.Outbound
	disconnect context.CancelFunc
	log        zerolog.Logger

	pbMu sync.Mutex
	pb   *playbackRun
}

// send queues msg for the write loop, blocking while the queue is full.
// It returns false if ctx ended first.
func (ls *liveSession) send(ctx context.Context, msg protocol.Outbound) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ls.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (ls *liveSession) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ls.out:
			if err := ls.conn.Send(ctx, msg); err != nil {
				return fmt.Errorf("send %s: %w", msg.Type, err)
			}
		}
	}
}
