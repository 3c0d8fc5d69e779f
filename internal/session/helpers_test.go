package session

import (
	"context"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/articulate/internal/align"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
)

func TestMain(m *testing.M) {
	_ = monitoring.Configure(monitoring.LogConfig{Level: "error"})
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const testCardinality = 8

func testRegions() landmarks.Regions {
	return landmarks.Regions{
		Jaw:   landmarks.Region{Name: "jaw", Indices: []int{0, 1, 2, 3}},
		Mouth: landmarks.Region{Name: "mouth", Indices: []int{3, 4, 5, 6}},
	}
}

// testFrame returns a face-like set whose mouth opens with k.
func testFrame(k int) landmarks.LandmarkSet {
	set := make(landmarks.LandmarkSet, testCardinality)
	for i := range set {
		theta := 2 * math.Pi * float64(i) / testCardinality
		r := 40 + 3*float64(i%3)
		set[i] = landmarks.Point{X: 100 + r*math.Cos(theta), Y: 120 + r*math.Sin(theta)}
	}
	for _, i := range []int{4, 5, 6} {
		set[i].Y += 2 * float64(k)
	}
	return set
}

func testAnimation(t *testing.T, frames int) *landmarks.ReferenceAnimation {
	t.Helper()
	sets := make([]landmarks.LandmarkSet, frames)
	for i := range sets {
		sets[i] = testFrame(i)
	}
	anim, err := landmarks.NewReferenceAnimation("test", sets)
	if err != nil {
		t.Fatalf("NewReferenceAnimation: %v", err)
	}
	return anim
}

// userFace is frame 0 scaled, rotated and shifted onto a user's face.
func userFace() landmarks.LandmarkSet {
	m := align.Matrix2x3{{1.2, -0.1, 30}, {0.1, 1.2, -15}}
	ref := testFrame(0)
	out := make(landmarks.LandmarkSet, len(ref))
	for i, p := range ref {
		out[i] = m.Apply(p)
	}
	return out
}

// spyAligner counts transform computations.
type spyAligner struct {
	*align.Aligner
	mu    sync.Mutex
	calls int
}

func newSpyAligner() *spyAligner {
	return &spyAligner{Aligner: align.NewAligner(testRegions())}
}

func (s *spyAligner) ComputeSessionTransform(ref, user landmarks.LandmarkSet) align.Transform {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Aligner.ComputeSessionTransform(ref, user)
}

func (s *spyAligner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// scriptedDetector returns the queued results in order, then repeats the
// last one.
type scriptedDetector struct {
	mu      sync.Mutex
	results []bool
	set     landmarks.LandmarkSet
}

func (d *scriptedDetector) Detect(ctx context.Context, image []byte) (landmarks.LandmarkSet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := true
	if len(d.results) > 0 {
		ok = d.results[0]
		if len(d.results) > 1 {
			d.results = d.results[1:]
		}
	}
	if !ok {
		return nil, false, nil
	}
	return d.set.Clone(), true, nil
}

type inbound struct {
	msg protocol.Inbound
	err error
}

// fakeConn is an in-memory Conn. Closing in ends the session with io.EOF.
type fakeConn struct {
	in   chan inbound
	sent chan protocol.Outbound

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan inbound, 16),
		sent: make(chan protocol.Outbound, 4096),
	}
}

func (c *fakeConn) Recv(ctx context.Context) (protocol.Inbound, error) {
	select {
	case <-ctx.Done():
		return protocol.Inbound{}, ctx.Err()
	case in, ok := <-c.in:
		if !ok {
			return protocol.Inbound{}, io.EOF
		}
		return in.msg, in.err
	}
}

func (c *fakeConn) Send(ctx context.Context, msg protocol.Outbound) error {
	select {
	case c.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) RemoteAddr() string { return "fake:1" }

func (c *fakeConn) push(msg protocol.Inbound) { c.in <- inbound{msg: msg} }

func (c *fakeConn) pushErr(err error) { c.in <- inbound{err: err} }

func (c *fakeConn) hangUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
}

func setMode(mode string) protocol.Inbound {
	return protocol.Inbound{Type: protocol.TypeSetMode, Mode: mode}
}

func frameMsg() protocol.Inbound {
	return protocol.Inbound{Type: protocol.TypeFrame, Image: []byte{0xff, 0xd8}}
}

// next returns the next outbound message or fails after timeout.
func (c *fakeConn) next(t *testing.T) protocol.Outbound {
	t.Helper()
	select {
	case msg := <-c.sent:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return protocol.Outbound{}
	}
}

// expectStatus reads the next message and checks it is a status in mode.
func (c *fakeConn) expectStatus(t *testing.T, mode string) protocol.Outbound {
	t.Helper()
	msg := c.next(t)
	if msg.Type != protocol.TypeStatus || msg.Mode != mode {
		t.Fatalf("got %s/%s, want status/%s", msg.Type, msg.Mode, mode)
	}
	return msg
}

// quiet asserts nothing is sent for d.
func (c *fakeConn) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-c.sent:
		t.Fatalf("unexpected message %s", msg.Type)
	case <-time.After(d):
	}
}

// memoryRuns collects recorded runs.
type memoryRuns struct {
	mu   sync.Mutex
	runs []Run
	got  chan Run
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{got: make(chan Run, 16)}
}

func (r *memoryRuns) RecordRun(ctx context.Context, run Run) error {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
	r.got <- run
	return nil
}

func (r *memoryRuns) wait(t *testing.T) Run {
	t.Helper()
	select {
	case run := <-r.got:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run record")
		return Run{}
	}
}
