package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const (
	// DialTimeout bounds connecting to the control socket.
	DialTimeout = 2 * time.Second
	// CallTimeout bounds ordinary calls.
	CallTimeout = 10 * time.Second
	// EnqueueTimeout bounds Enqueue, which resolves whole closures.
	EnqueueTimeout = 5 * time.Minute
)

// ErrTimeout is returned when the daemon does not answer a call in time. The
// connection is closed afterwards and the client must be redialled.
var ErrTimeout = errors.New("ipc call timed out")

// Client is a JSON-RPC connection to the daemon's control socket.
type Client struct {
	conn     net.Conn
	client   *rpc.Client
	override time.Duration
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// SetTimeout replaces the per-call deadlines with d for every call. Zero
// restores the defaults.
func (c *Client) SetTimeout(d time.Duration) {
	c.override = d
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, timeout time.Duration, req, resp any) error {
	if c.override > 0 {
		timeout = c.override
	}
	pending := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case done := <-pending.Done:
		return done.Error
	case <-timer.C:
		_ = c.conn.Close()
		return fmt.Errorf("%s: %w after %s", method, ErrTimeout, timeout)
	}
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", CallTimeout, StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList lists pending entries, optionally filtered by state.
func (c *Client) QueueList(states []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.call("QueueList", CallTimeout, QueueListRequest{States: states}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats retrieves per-state counts.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.call("QueueStats", CallTimeout, QueueStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue resolves refs on the daemon and queues their closures.
func (c *Client) Enqueue(refs []string) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.call("Enqueue", EnqueueTimeout, EnqueueRequest{Refs: refs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wake asks the dispatcher to rescan the store.
func (c *Client) Wake() (*WakeResponse, error) {
	var resp WakeResponse
	if err := c.call("Wake", CallTimeout, WakeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
