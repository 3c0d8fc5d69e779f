// Package session implements the per-connection alignment state machine
// and the manager that serves client connections and paces reference
// playback.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/articulate/internal/align"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
	"github.com/banshee-data/articulate/internal/smoothing"
)

// Mode is the state of an AlignmentSession.
type Mode int

const (
	Idle Mode = iota
	LiveTracking
	ReferencePlayback
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case LiveTracking:
		return protocol.ModeLive
	case ReferencePlayback:
		return protocol.ModePlayback
	default:
		return protocol.ModeIdle
	}
}

// ParseMode parses a wire mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case protocol.ModeIdle:
		return Idle, nil
	case protocol.ModeLive:
		return LiveTracking, nil
	case protocol.ModePlayback:
		return ReferencePlayback, nil
	}
	return Idle, fmt.Errorf("unknown mode %q", s)
}

// ResetPolicy selects which transitions discard the cached alignment.
type ResetPolicy struct {
	ResetOnLive     bool
	ResetOnStop     bool
	ResetOnPlayback bool
}

// DefaultResetPolicy clears the alignment when live tracking starts and
// keeps it across stop and playback restarts.
func DefaultResetPolicy() ResetPolicy {
	return ResetPolicy{ResetOnLive: true}
}

// StepStatus is the outcome of one playback step.
type StepStatus int

const (
	// StepInactive means the session is not in playback.
	StepInactive StepStatus = iota
	// StepNotReady means no alignment could be computed yet.
	StepNotReady
	// StepEmitted means Frame holds the next reference frame.
	StepEmitted
)

// Step is one reference frame produced by NextReferenceFrame.
type Step struct {
	Status StepStatus
	Frame  landmarks.LandmarkSet
	Cursor int
	Total  int
	// Last is set on the final frame; the session is Idle afterwards.
	Last bool
}

// LiveState is the result of a live tracking update.
type LiveState int

const (
	// LiveQuiet means nothing is shown for this frame.
	LiveQuiet LiveState = iota
	// LiveNone means no alignment is available yet.
	LiveNone
	// LivePreview means the alignment was just computed.
	LivePreview
)

// Info is a point-in-time view of a session.
type Info struct {
	ID            string    `json:"id"`
	Mode          string    `json:"mode"`
	Cursor        int       `json:"cursor"`
	Total         int       `json:"total"`
	Fixed         bool      `json:"fixed"`
	Alignments    int       `json:"alignments"`
	FramesEmitted int       `json:"frames_emitted"`
	Created       time.Time `json:"created"`
}

// AlignmentSession holds the mutable state of one client connection. The
// ingestion path and the playback loop share it; every method takes the
// session lock.
type AlignmentSession struct {
	id      string
	anim    *landmarks.ReferenceAnimation
	aligner align.RegionAligner
	policy  ResetPolicy
	metrics *monitoring.Metrics
	created time.Time

	mu            sync.Mutex
	mode          Mode
	cursor        int
	fixed         bool
	cached        *align.Transform
	lastUser      landmarks.LandmarkSet
	userTried     bool // lastUser already failed to produce a fitted transform
	history       *smoothing.History
	alignments    int
	framesEmitted int
}

// NewAlignmentSession creates an Idle session over a shared animation.
func NewAlignmentSession(anim *landmarks.ReferenceAnimation, aligner align.RegionAligner, window int, policy ResetPolicy, metrics *monitoring.Metrics) *AlignmentSession {
	return &AlignmentSession{
		id:      uuid.NewString(),
		anim:    anim,
		aligner: aligner,
		policy:  policy,
		metrics: metrics,
		created: time.Now(),
		history: smoothing.NewHistory(window),
	}
}

// ID returns the session identifier.
func (s *AlignmentSession) ID() string { return s.id }

// Mode returns the current mode.
func (s *AlignmentSession) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Fixed reports whether an alignment is cached.
func (s *AlignmentSession) Fixed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixed
}

// Transform returns the cached alignment, if any.
func (s *AlignmentSession) Transform() (align.Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return align.Transform{}, false
	}
	return *s.cached, true
}

// Alignments returns how many times an alignment was computed.
func (s *AlignmentSession) Alignments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alignments
}

// Info returns a snapshot of the session.
func (s *AlignmentSession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:            s.id,
		Mode:          s.mode.String(),
		Cursor:        s.cursor,
		Total:         s.anim.Len(),
		Fixed:         s.fixed,
		Alignments:    s.alignments,
		FramesEmitted: s.framesEmitted,
		Created:       s.created,
	}
}

// IngestUser stores the latest detected user landmarks, in any mode.
func (s *AlignmentSession) IngestUser(set landmarks.LandmarkSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUser = set.Clone()
	s.userTried = false
}

// StartLive enters LiveTracking.
func (s *AlignmentSession) StartLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = LiveTracking
	s.cursor = 0
	if s.policy.ResetOnLive {
		s.clearLocked()
	}
}

// StartPlayback enters ReferencePlayback from the first frame. The cached
// alignment is kept unless recompute is set or the policy says otherwise.
func (s *AlignmentSession) StartPlayback(recompute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ReferencePlayback
	s.cursor = 0
	s.history.Reset()
	if recompute || s.policy.ResetOnPlayback {
		s.clearLocked()
	}
}

// Stop returns to Idle.
func (s *AlignmentSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Idle
	s.cursor = 0
	if s.policy.ResetOnStop {
		s.clearLocked()
	}
}

// RecomputeAlignment discards the cached alignment. The next frame that
// needs one computes it from the latest user landmarks.
func (s *AlignmentSession) RecomputeAlignment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// EnsureAlignment computes the alignment if none is cached and user
// landmarks are available. computed is true only for the call that did the
// work. A capture that yields only the identity fallback is tried once and
// leaves the session not ready until new landmarks arrive.
func (s *AlignmentSession) EnsureAlignment() (ready, computed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked()
}

// LiveUpdate decides what to show after a frame in LiveTracking. The first
// successful alignment yields a preview of reference frame 0 with the new
// transform applied.
func (s *AlignmentSession) LiveUpdate() (LiveState, landmarks.LandmarkSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != LiveTracking {
		return LiveQuiet, nil
	}
	ready, computed := s.ensureLocked()
	switch {
	case !ready:
		return LiveNone, nil
	case computed:
		return LivePreview, s.aligner.Apply(s.anim.Frame(0), *s.cached)
	default:
		return LiveQuiet, nil
	}
}

// NextReferenceFrame produces the reference frame at the cursor, aligned
// and smoothed, and advances the cursor by one. After the last frame the
// session returns to Idle.
func (s *AlignmentSession) NextReferenceFrame() Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.anim.Len()
	if s.mode != ReferencePlayback || s.cursor >= total {
		return Step{Status: StepInactive, Total: total}
	}
	if ready, _ := s.ensureLocked(); !ready {
		return Step{Status: StepNotReady, Cursor: s.cursor, Total: total}
	}

	aligned := s.aligner.Apply(s.anim.Frame(s.cursor), *s.cached)
	step := Step{
		Status: StepEmitted,
		Frame:  s.history.Smooth(aligned),
		Cursor: s.cursor,
		Total:  total,
	}
	s.cursor++
	s.framesEmitted++
	if s.cursor == total {
		step.Last = true
		s.mode = Idle
	}
	return step
}

func (s *AlignmentSession) ensureLocked() (ready, computed bool) {
	if s.fixed {
		return true, false
	}
	if s.lastUser == nil || s.userTried {
		return false, false
	}
	t := s.aligner.ComputeSessionTransform(s.anim.Frame(0), s.lastUser)
	s.metrics.ObserveAlignment(t.JawFitted, t.MouthFitted)
	if !t.Fitted() {
		// An identity fallback is not an alignment; wait for the next capture.
		s.userTried = true
		return false, false
	}
	s.cached = &t
	s.fixed = true
	s.alignments++
	return true, true
}

func (s *AlignmentSession) clearLocked() {
	s.fixed = false
	s.cached = nil
}
