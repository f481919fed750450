package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// Tinode's bidirectional stream. Frames are carried with the JSON codec
// rather than generated protobuf messages.
const (
	nodeService       = "pbx.Node"
	messageLoopMethod = "/pbx.Node/MessageLoop"
	codecName         = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc encoding.Codec using JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

var messageLoopDesc = grpc.StreamDesc{
	StreamName:    "MessageLoop",
	ServerStreams: true,
	ClientStreams: true,
}

// DialGRPC returns a Dialer opening a MessageLoop stream on host. Extra
// dial options are appended after the defaults, so tests can swap the
// transport.
func DialGRPC(host string, dialOpts ...grpc.DialOption) Dialer {
	return func(ctx context.Context) (Conn, error) {
		opts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		}, dialOpts...)
		cc, err := grpc.NewClient(host, opts...)
		if err != nil {
			return nil, fmt.Errorf("grpc connect %s: %w", host, err)
		}
		stream, err := cc.NewStream(ctx, &messageLoopDesc, messageLoopMethod)
		if err != nil {
			cc.Close()
			return nil, fmt.Errorf("grpc message loop %s: %w", host, err)
		}
		return &grpcConn{cc: cc, stream: stream}, nil
	}
}

// NewGRPC creates a Client over a gRPC MessageLoop stream.
func NewGRPC(host, scheme, secret string, logger *slog.Logger, opts ...Option) *Client {
	return NewClient("grpc", DialGRPC(host), scheme, secret, logger, opts...)
}

type grpcConn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
}

func (c *grpcConn) Send(_ context.Context, msg *ClientMsg) error {
	return c.stream.SendMsg(msg)
}

func (c *grpcConn) Recv(_ context.Context) (*ServerMsg, error) {
	msg := new(ServerMsg)
	if err := c.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *grpcConn) Close() error {
	_ = c.stream.CloseSend()
	return c.cc.Close()
}

// NodeStream is the server side of a MessageLoop stream.
type NodeStream interface {
	Context() context.Context
	Send(*ServerMsg) error
	Recv() (*ClientMsg, error)
}

type nodeStream struct {
	grpc.ServerStream
}

func (s nodeStream) Send(m *ServerMsg) error { return s.SendMsg(m) }

func (s nodeStream) Recv() (*ClientMsg, error) {
	m := new(ClientMsg)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterNodeServer serves the MessageLoop stream with loop. It is meant
// for local fakes of the chat server.
func RegisterNodeServer(s grpc.ServiceRegistrar, loop func(NodeStream) error) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: nodeService,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    messageLoopDesc.StreamName,
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				return loop(nodeStream{stream})
			},
		}},
		Metadata: "model.proto",
	}, struct{}{})
}
