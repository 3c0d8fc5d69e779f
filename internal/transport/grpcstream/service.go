// Package grpcstream carries alignment sessions over a bidirectional gRPC
// stream. Each stream message is a google.protobuf.BytesValue holding
// either a JSON protocol envelope or raw image bytes.
package grpcstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
	"github.com/banshee-data/articulate/internal/session"
)

const (
	serviceName = "articulate.v1.Mirror"

	// SessionMethod is the full method name of the session stream.
	SessionMethod = "/" + serviceName + "/Session"

	// MaxMsgSize matches the websocket read limit.
	MaxMsgSize = 8 << 20
)

// MirrorServer is the server API for the Mirror service.
type MirrorServer interface {
	Session(stream grpc.ServerStream) error
}

// ServiceDesc describes the Mirror service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MirrorServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "articulate/mirror.proto",
}

func sessionHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(MirrorServer).Session(stream)
}

// Ensure Server implements the service interface.
var _ MirrorServer = (*Server)(nil)

// Server serves Mirror sessions from a session.Manager.
type Server struct {
	manager *session.Manager
	log     zerolog.Logger
}

// NewServer creates a Mirror service backed by m.
func NewServer(m *session.Manager) *Server {
	return &Server{manager: m, log: monitoring.Component("grpc")}
}

// NewGRPCServer returns a grpc.Server sized for camera frames.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
	}, opts...)
	return grpc.NewServer(opts...)
}

// Register adds the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// Session implements MirrorServer.
func (s *Server) Session(stream grpc.ServerStream) error {
	conn := newStreamConn(stream)
	go conn.pump()

	err := s.manager.Serve(stream.Context(), conn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrTooManySessions):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, session.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("session ended")
		return status.Error(codes.Aborted, err.Error())
	}
}

type recvResult struct {
	data []byte
	err  error
}

// streamConn adapts a server stream to session.Conn. RecvMsg cannot be
// interrupted, so a pump goroutine reads into a channel that Recv selects
// on; it exits when the handler returns and the stream context ends.
type streamConn struct {
	stream grpc.ServerStream
	remote string
	in     chan recvResult
}

func newStreamConn(stream grpc.ServerStream) *streamConn {
	remote := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	return &streamConn{stream: stream, remote: remote, in: make(chan recvResult)}
}

func (c *streamConn) pump() {
	ctx := c.stream.Context()
	for {
		msg := new(wrapperspb.BytesValue)
		err := c.stream.RecvMsg(msg)
		select {
		case c.in <- recvResult{data: msg.GetValue(), err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *streamConn) RemoteAddr() string { return c.remote }

func (c *streamConn) Recv(ctx context.Context) (protocol.Inbound, error) {
	select {
	case <-ctx.Done():
		return protocol.Inbound{}, ctx.Err()
	case r := <-c.in:
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				return protocol.Inbound{}, io.EOF
			}
			return protocol.Inbound{}, fmt.Errorf("grpc recv: %w", r.err)
		}
		return DecodePayload(r.data)
	}
}

func (c *streamConn) Send(ctx context.Context, msg protocol.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

// DecodePayload treats a payload starting with '{' as a JSON envelope and
// anything else as raw image bytes.
func DecodePayload(data []byte) (protocol.Inbound, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return protocol.Decode(trimmed)
	}
	return protocol.FrameFromBinary(data), nil
}
