package control

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the control-surface gRPC connection for CLI usage
// (grounded on pkg/client.Client's conn-plus-generated-client shape;
// simplified to loopback-insecure credentials and Invoke calls against
// the hand-written serviceDesc in place of a generated stub).
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a running agent's control surface at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status queries the agent's current state (`ota-agent status`).
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := new(StatusResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Status", &StatusRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateNow requests an immediate update check (`ota-agent update-now`).
func (c *Client) UpdateNow(ctx context.Context) (*UpdateNowResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := new(UpdateNowResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/UpdateNow", &UpdateNowRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stop requests the running agent end its worker loop.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := new(StopResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Stop", &StopRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
