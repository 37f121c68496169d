package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"courier/internal/api"
	"courier/internal/queue"
)

// Client is the CLI side of the control channel.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon socket. A missing socket means no daemon
// is running.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s (is courierd running?): %w", socketPath, err)
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(method string, args, reply any) error {
	return c.rpc.Call(ServiceName+"."+method, args, reply)
}

// Status fetches the engine snapshot.
func (c *Client) Status() (api.EngineStatus, error) {
	var resp StatusResponse
	if err := c.call("Status", Empty{}, &resp); err != nil {
		return api.EngineStatus{}, err
	}
	return resp.Status, nil
}

// Enqueue submits a payload for delivery.
func (c *Client) Enqueue(payload []byte, meta queue.Metadata) (api.QueueItemView, error) {
	req := EnqueueRequest{
		Payload:    payload,
		Label:      meta.Label,
		Phase:      meta.Phase,
		Sequence:   meta.Sequence,
		SessionID:  meta.SessionID,
		Device:     meta.Device,
		CapturedAt: meta.CapturedAt,
	}
	var resp EnqueueResponse
	if err := c.call("Enqueue", req, &resp); err != nil {
		return api.QueueItemView{}, err
	}
	return resp.Item, nil
}

// QueueList fetches every tracked item.
func (c *Client) QueueList() ([]api.QueueItemView, error) {
	var resp QueueListResponse
	if err := c.call("QueueList", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// QueueProgress fetches the queue tally.
func (c *Client) QueueProgress() (api.ProgressSummary, error) {
	var resp ProgressResponse
	if err := c.call("QueueProgress", Empty{}, &resp); err != nil {
		return api.ProgressSummary{}, err
	}
	return resp.Progress, nil
}

// QueueRetry resets permanently failed items.
func (c *Client) QueueRetry() (int, error) {
	var resp CountResponse
	if err := c.call("QueueRetry", Empty{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// QueueClear drops all queued and spilled items.
func (c *Client) QueueClear() (int, error) {
	var resp CountResponse
	if err := c.call("QueueClear", Empty{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// QueueResume lifts a rate-limit pause or halt.
func (c *Client) QueueResume() (bool, error) {
	var resp ResumeResponse
	if err := c.call("QueueResume", Empty{}, &resp); err != nil {
		return false, err
	}
	return resp.Resumed, nil
}

// TestNotification asks the daemon to send a test push.
func (c *Client) TestNotification() error {
	return c.call("TestNotification", Empty{}, &Empty{})
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() error {
	return c.call("Stop", Empty{}, &Empty{})
}
