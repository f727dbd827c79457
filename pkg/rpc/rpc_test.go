package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
)

type echoParams struct {
	Text string `json:"text"`
}

type echoReply struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func newEchoServer() *Server {
	s := NewServer()
	s.Register("Echo.Say", func(ctx context.Context, req json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(req, &p); err != nil {
			return nil, err
		}
		return echoReply{Text: p.Text, Count: len(p.Text)}, nil
	})
	s.Register("Echo.Fail", func(ctx context.Context, req json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	return s
}

func startTCP(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	return ln.Addr().String()
}

func TestTCPRoundTrip(t *testing.T) {
	addr := startTCP(t, newEchoServer())

	c, err := TCPConnector{}.Connect(addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var reply echoReply
	if err := c.Call("Echo.Say", echoParams{Text: "hello"}, &reply); err != nil {
		t.Fatalf("call: %v", err)
	}
	if reply.Text != "hello" || reply.Count != 5 {
		t.Errorf("reply = %+v", reply)
	}

	err = c.Call("Echo.Fail", echoParams{}, nil)
	if err == nil || !strings.Contains(err.Error(), "boom") || !IsRemote(err) {
		t.Errorf("expected remote handler error, got %v", err)
	}
	err = c.Call("Echo.Missing", echoParams{}, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("expected unknown method error, got %v", err)
	}
}

func TestTCPConcurrentCalls(t *testing.T) {
	addr := startTCP(t, newEchoServer())
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var reply echoReply
			if err := c.Call("Echo.Say", echoParams{Text: "abc"}, &reply); err != nil {
				t.Errorf("call: %v", err)
				return
			}
			if reply.Count != 3 {
				t.Errorf("count = %d", reply.Count)
			}
		}()
	}
	wg.Wait()
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := Dial(addr); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNetworkFaultAndDetach(t *testing.T) {
	n := NewNetwork()
	n.Attach("a", newEchoServer())

	c, err := n.Connect("a")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var reply echoReply
	if err := c.Call("Echo.Say", echoParams{Text: "hi"}, &reply); err != nil || reply.Count != 2 {
		t.Fatalf("call = %+v, %v", reply, err)
	}

	dropped := errors.New("dropped")
	n.SetFault(func(addr, method string) error {
		if method == "Echo.Say" {
			return dropped
		}
		return nil
	})
	if err := c.Call("Echo.Say", echoParams{Text: "hi"}, &reply); !errors.Is(err, dropped) {
		t.Errorf("expected injected fault, got %v", err)
	}
	n.SetFault(nil)

	n.Detach("a")
	if err := c.Call("Echo.Say", echoParams{Text: "hi"}, &reply); !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected unreachable after detach, got %v", err)
	}
	if _, err := n.Connect("a"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected connect to fail, got %v", err)
	}
	if n.Calls() != 1 {
		t.Errorf("delivered calls = %d, want 1", n.Calls())
	}
}

func TestRemoteErrorsAreDistinguishable(t *testing.T) {
	n := NewNetwork()
	n.Attach("echo:1", newEchoServer())
	c, err := n.Connect("echo:1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Call("Echo.Fail", echoParams{}, nil); !IsRemote(err) {
		t.Errorf("handler error not remote: %v", err)
	}
	n.Detach("echo:1")
	err = c.Call("Echo.Say", echoParams{Text: "x"}, nil)
	if IsRemote(err) || !errors.Is(err, ErrUnreachable) {
		t.Errorf("detached call error = %v, want transport failure", err)
	}
}
