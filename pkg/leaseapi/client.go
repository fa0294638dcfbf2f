package leaseapi

import (
	"context"
	"fmt"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn *grpc.ClientConn
}

func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Conn exposes the underlying connection for other services on the same
// endpoint, such as grpc health checks.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) List(ctx context.Context) ([]InterfaceStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("List"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return structToList(out)
}

func (c *Client) Get(ctx context.Context, iface string) (InterfaceStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("Get"), interfaceRequest(iface), out); err != nil {
		return InterfaceStatus{}, err
	}
	return structToStatus(out)
}

func (c *Client) Start(ctx context.Context, iface string) error {
	return c.command(ctx, "Start", interfaceRequest(iface))
}

func (c *Client) Stop(ctx context.Context, iface string) error {
	return c.command(ctx, "Stop", interfaceRequest(iface))
}

func (c *Client) Renew(ctx context.Context, iface string) error {
	return c.command(ctx, "Renew", interfaceRequest(iface))
}

func (c *Client) SetVersion(ctx context.Context, iface string, v lease.IPVersion) error {
	req := interfaceRequest(iface)
	req.Fields[fieldVersion] = structpb.NewStringValue(v.String())
	return c.command(ctx, "SetVersion", req)
}

func (c *Client) command(ctx context.Context, method string, req *structpb.Struct) error {
	return c.conn.Invoke(ctx, fullMethod(method), req, &emptypb.Empty{})
}
