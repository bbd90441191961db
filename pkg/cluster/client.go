package cluster

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Client is a single node agent's connection to the master. One QUIC
// stream carries exactly one request and its one response, then closes —
// this keeps head-of-line blocking from one slow request from stalling
// every other in-flight call, which a single shared stream would not.
type Client struct {
	conn    *quic.Conn
	nextReq atomic.Uint64
}

func NewClient(conn *quic.Conn) *Client {
	return &Client{conn: conn}
}

// Call opens a new stream, sends tag/payload, and waits for exactly one
// response frame.
func (c *Client) Call(ctx context.Context, tag MessageType, payload any) (Frame, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return Frame{}, apis.WithKind(apis.ErrTransport, "cluster open stream", err)
	}
	defer stream.Close()

	reqID := c.nextReq.Add(1)
	if err := WriteFrame(stream, reqID, tag, payload); err != nil {
		return Frame{}, err
	}
	if err := stream.Close(); err != nil {
		return Frame{}, apis.WithKind(apis.ErrTransport, "cluster close send side", err)
	}

	resp, err := ReadFrame(stream)
	if err != nil {
		return Frame{}, err
	}
	if resp.RequestID != reqID {
		return Frame{}, apis.WithKind(apis.ErrStateInconsistency, "cluster call",
			errMismatchedRequestID(reqID, resp.RequestID))
	}
	return resp, nil
}

func errMismatchedRequestID(want, got uint64) error {
	return &mismatchedRequestIDError{want: want, got: got}
}

type mismatchedRequestIDError struct{ want, got uint64 }

func (e *mismatchedRequestIDError) Error() string {
	return fmt.Sprintf("cluster: response request id %d does not match request id %d", e.got, e.want)
}

func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "client closing")
}
