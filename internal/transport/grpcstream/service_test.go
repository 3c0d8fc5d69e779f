package grpcstream

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/articulate/internal/align"
	"github.com/banshee-data/articulate/internal/detector"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
	"github.com/banshee-data/articulate/internal/session"
)

func TestMain(m *testing.M) {
	_ = monitoring.Configure(monitoring.LogConfig{Level: "error"})
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func face(dy float64) landmarks.LandmarkSet {
	return landmarks.LandmarkSet{
		{0, 0}, {40, 0}, {40, 40}, {0, 40},
		{10, 20 + dy}, {30, 20 + dy}, {30, 30}, {10, 30},
	}
}

func startServer(t *testing.T, maxSessions int) (*grpc.ClientConn, *session.Manager) {
	t.Helper()
	regions := landmarks.Regions{
		Jaw:   landmarks.Region{Name: "jaw", Indices: []int{0, 1, 2, 3}},
		Mouth: landmarks.Region{Name: "mouth", Indices: []int{4, 5, 6, 7}},
	}
	anim, err := landmarks.NewReferenceAnimation("test", []landmarks.LandmarkSet{face(0), face(1)})
	require.NoError(t, err)

	m := align.Matrix2x3{{1, 0, 5}, {0, 1, 5}}
	user := make(landmarks.LandmarkSet, 8)
	for i, p := range face(0) {
		user[i] = m.Apply(p)
	}

	cfg := session.DefaultConfig()
	cfg.FrameInterval = time.Millisecond
	cfg.MaxSessions = maxSessions
	mgr, err := session.NewManager(anim, cfg, session.Options{
		Detector: detector.StaticDetector{Set: user},
		Regions:  regions,
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	g := NewGRPCServer()
	NewServer(mgr).Register(g)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	cc, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return cc, mgr
}

func recv(t *testing.T, s *ClientSession) protocol.Outbound {
	t.Helper()
	type result struct {
		msg protocol.Outbound
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := s.Recv()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server message")
		return protocol.Outbound{}
	}
}

func TestSession_Playback(t *testing.T) {
	cc, _ := startServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := OpenSession(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeIdle, recv(t, s).Mode)

	require.NoError(t, s.SendImage([]byte{0xff, 0xd8, 0xff}))
	require.NoError(t, s.SendCommand(map[string]string{"type": "set-mode", "mode": "playback"}))
	assert.Equal(t, protocol.ModePlayback, recv(t, s).Mode)

	first := recv(t, s)
	require.Equal(t, protocol.TypeLandmarks, first.Type)
	assert.Equal(t, [2]float64{5, 5}, first.Data.Points[0])
	assert.Equal(t, 1, recv(t, s).Data.Frame)
	assert.Equal(t, protocol.TypeCompleted, recv(t, s).Type)
	assert.Equal(t, protocol.ModeIdle, recv(t, s).Mode)

	require.NoError(t, s.SendCommand(map[string]string{"type": "ping"}))
	assert.Equal(t, protocol.TypePong, recv(t, s).Type)
}

func TestSession_CloseSendEndsSession(t *testing.T) {
	cc, mgr := startServer(t, 0)
	s, err := OpenSession(context.Background(), cc)
	require.NoError(t, err)
	recv(t, s)
	require.Len(t, mgr.Sessions(), 1)

	require.NoError(t, s.CloseSend())
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return len(mgr.Sessions()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSession_TooManySessions(t *testing.T) {
	cc, _ := startServer(t, 1)
	first, err := OpenSession(context.Background(), cc)
	require.NoError(t, err)
	recv(t, first)

	second, err := OpenSession(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, recv(t, second).Type)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestSession_Shutdown(t *testing.T) {
	cc, mgr := startServer(t, 0)
	s, err := OpenSession(context.Background(), cc)
	require.NoError(t, err)
	recv(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))
	_, err = s.Recv()
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	msg, err := DecodePayload([]byte(`  {"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePing, msg.Type)

	msg, err = DecodePayload([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeFrame, msg.Type)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, msg.Image)

	_, err = DecodePayload([]byte(`{"type":`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}
