package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/xtding233/wager-backend/internal/settle"
)

// Client is a typed caller for wager.v1.Wager. Errors are returned as gRPC
// statuses; apperrors.FromGRPCStatus recovers the domain code.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// WithSession attaches an auth session id to outgoing calls.
func WithSession(ctx context.Context, sid string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataSession, sid)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *Client) Settle(ctx context.Context, in *SettleRequest, opts ...grpc.CallOption) (*settle.Result, error) {
	out := new(settle.Result)
	if err := c.invoke(ctx, "Settle", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartSession(ctx context.Context, in *StartSessionRequest, opts ...grpc.CallOption) (*settle.SessionView, error) {
	out := new(settle.SessionView)
	if err := c.invoke(ctx, "StartSession", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Act(ctx context.Context, in *ActRequest, opts ...grpc.CallOption) (*settle.SessionView, error) {
	out := new(settle.SessionView)
	if err := c.invoke(ctx, "Act", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CurrentRound(ctx context.Context, in *RoundRequest, opts ...grpc.CallOption) (*RoundReply, error) {
	out := new(RoundReply)
	if err := c.invoke(ctx, "CurrentRound", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
