package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Caller is a live handle to a remote process.
type Caller interface {
	Call(method string, params any, result any) error
	Close() error
}

// Connector opens handles to remote processes by address. It is the single
// seam between the protocol logic and the concrete transport.
type Connector interface {
	Connect(addr string) (Caller, error)
}

// TCPConnector dials real TCP connections.
type TCPConnector struct{}

// Connect implements Connector.
func (TCPConnector) Connect(addr string) (Caller, error) {
	return Dial(addr)
}

// Client is a JSON-over-TCP RPC client.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	nextID  atomic.Int64
}

// DialTimeout bounds connection setup so a dead peer is reported quickly.
var DialTimeout = 3 * time.Second

// Dial connects to an RPC server at the given address.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Call invokes the named method with params and decodes the response into
// result. Calls on one Client are serialized.
func (c *Client) Call(method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	req := Request{
		Method: method,
		ID:     fmt.Sprintf("%d", id),
		Params: raw,
	}

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.Error != "" {
		return &RemoteError{Method: method, Message: resp.Error}
	}
	return decodeInto(resp.Data, result)
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func decodeInto(data any, result any) error {
	if result == nil {
		return nil
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling response data: %w", err)
	}
	if err := json.Unmarshal(buf, result); err != nil {
		return fmt.Errorf("unmarshaling into result: %w", err)
	}
	return nil
}
