package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrUnreachable is returned by Network when no server answers at an address.
var ErrUnreachable = errors.New("address unreachable")

// RemoteError is a call that reached the server and was answered with an
// error. Anything else a Caller returns is a transport failure.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error: %s: %s", e.Method, e.Message)
}

// IsRemote reports whether err came back from the server.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// FaultFunc decides whether a call to method at addr should fail before it is
// delivered. Returning nil lets the call through.
type FaultFunc func(addr, method string) error

// Network is an in-process transport for tests. Servers attach under an
// address and calls are dispatched directly, still passing through JSON so
// payloads see the same encoding they would on the wire.
type Network struct {
	mu      sync.RWMutex
	servers map[string]*Server
	fault   FaultFunc
	calls   atomic.Int64
}

// NewNetwork returns an empty in-process network.
func NewNetwork() *Network {
	return &Network{servers: make(map[string]*Server)}
}

// Attach makes s reachable at addr.
func (n *Network) Attach(addr string, s *Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[addr] = s
}

// Detach makes addr unreachable, as if its process died.
func (n *Network) Detach(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, addr)
}

// SetFault installs (or with nil, clears) the fault hook.
func (n *Network) SetFault(f FaultFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fault = f
}

// Calls reports how many calls were delivered to a handler.
func (n *Network) Calls() int64 {
	return n.calls.Load()
}

// Connect implements Connector.
func (n *Network) Connect(addr string) (Caller, error) {
	n.mu.RLock()
	_, ok := n.servers[addr]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dialing %s: %w", addr, ErrUnreachable)
	}
	return &localConn{network: n, addr: addr}, nil
}

type localConn struct {
	network *Network
	addr    string
	closed  atomic.Bool
}

func (c *localConn) Call(method string, params any, result any) error {
	if c.closed.Load() {
		return fmt.Errorf("calling %s on %s: connection closed", method, c.addr)
	}
	c.network.mu.RLock()
	server, ok := c.network.servers[c.addr]
	fault := c.network.fault
	c.network.mu.RUnlock()
	if !ok {
		return fmt.Errorf("calling %s on %s: %w", method, c.addr, ErrUnreachable)
	}
	if fault != nil {
		if err := fault(c.addr, method); err != nil {
			return fmt.Errorf("calling %s on %s: %w", method, c.addr, err)
		}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	c.network.calls.Add(1)
	data, err := server.dispatch(context.Background(), method, raw)
	if err != nil {
		return &RemoteError{Method: method, Message: err.Error()}
	}
	return decodeInto(data, result)
}

func (c *localConn) Close() error {
	c.closed.Store(true)
	return nil
}
