// Package rpc provides the JSON-over-TCP RPC layer that storage nodes, fetch
// drivers and the dispatcher use to talk to each other.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// connection is served by its own goroutine and handles requests in order,
// so a process that needs concurrent calls to the same peer opens more than
// one connection.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register("Node.Search", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var in proto.SearchRequest
//	    if err := json.Unmarshal(req, &in); err != nil {
//	        return nil, err
//	    }
//	    return node.Search(in.Terms), nil
//	})
//	s.Serve(":7001")
//
// Example client:
//
//	c, _ := rpc.Dial("localhost:7001")
//	var resp proto.SearchReply
//	c.Call("Node.Search", &proto.SearchRequest{Terms: []string{"go"}}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is a JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	listener net.Listener
	logger   *slog.Logger
	mu       sync.RWMutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new RPC server.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
		done:     make(chan struct{}),
	}
}

// Register adds a handler for the given method name. Method names follow
// the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve listens on addr and blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	select {
	case <-s.done:
		ln.Close()
		return nil
	default:
	}
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		select {
		case <-s.done:
			conn.SetReadDeadline(time.Now())
		default:
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := Response{ID: req.ID}
		data, err := s.dispatch(context.Background(), req.Method, req.Params)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Data = data
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

// dispatch runs the handler registered for method.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.mu.RLock()
	handler, exists := s.handlers[method]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown method: %s", method)
	}
	return handler(ctx, params)
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and waits for open connections to drain. Idle
// connections are interrupted; a request already being handled still gets
// its response.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.RLock()
		ln := s.listener
		for conn := range s.conns {
			conn.SetReadDeadline(time.Now())
		}
		s.mu.RUnlock()
		if ln != nil {
			ln.Close()
		}
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
