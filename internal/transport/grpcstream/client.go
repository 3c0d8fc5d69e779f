package grpcstream

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/articulate/internal/protocol"
)

// Dial connects to a Mirror server without TLS.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize),
		),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mirror service: %w", err)
	}
	return conn, nil
}

// ClientSession is the client end of one Session stream.
type ClientSession struct {
	stream grpc.ClientStream
}

// OpenSession starts a session stream. Cancelling ctx ends it.
func OpenSession(ctx context.Context, cc grpc.ClientConnInterface) (*ClientSession, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], SessionMethod)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &ClientSession{stream: stream}, nil
}

// SendImage sends raw image bytes as a frame.
func (s *ClientSession) SendImage(image []byte) error {
	return s.stream.SendMsg(wrapperspb.Bytes(image))
}

// SendCommand sends v encoded as a JSON envelope, e.g.
// map[string]string{"type": "set-mode", "mode": "playback"}.
func (s *ClientSession) SendCommand(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.stream.SendMsg(wrapperspb.Bytes(data))
}

// Recv blocks for the next server message.
func (s *ClientSession) Recv() (protocol.Outbound, error) {
	msg := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(msg); err != nil {
		return protocol.Outbound{}, err
	}
	var out protocol.Outbound
	if err := json.Unmarshal(msg.GetValue(), &out); err != nil {
		return protocol.Outbound{}, fmt.Errorf("decode server message: %w", err)
	}
	return out, nil
}

// CloseSend half-closes the stream; the server then ends the session.
func (s *ClientSession) CloseSend() error {
	return s.stream.CloseSend()
}
