package dispatcher

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Register exposes the dispatcher's operations and its resend endpoint on s.
func Register(s *rpc.Server, d *Dispatcher) {
	s.Register(proto.MethodDispatchSearch, rpc.TypedContext(func(ctx context.Context, req proto.QueryRequest) (any, error) {
		return d.Search(ctx, req.Query)
	}))
	s.Register(proto.MethodDispatchAddURL, rpc.TypedContext(func(ctx context.Context, req proto.AddURLRequest) (any, error) {
		return d.AddURL(ctx, req.URL)
	}))
	s.Register(proto.MethodDispatchInLinks, rpc.TypedContext(func(ctx context.Context, req proto.InLinksRequest) (any, error) {
		sources, err := d.InLinks(ctx, req.URL)
		return proto.InLinksReply{Sources: sources}, err
	}))
	s.Register(proto.MethodDispatchStats, rpc.TypedContext(func(ctx context.Context, _ struct{}) (any, error) {
		return d.Stats(ctx), nil
	}))
	s.Register(proto.MethodResend, rpc.TypedContext(func(ctx context.Context, req proto.ResendRequest) (any, error) {
		return d.Resend(ctx, req)
	}))
}

// Client is a typed handle to a remote dispatcher.
type Client struct {
	caller rpc.Caller
}

func NewClient(c rpc.Caller) *Client {
	return &Client{caller: c}
}

func (c *Client) Search(query string) (proto.QueryReply, error) {
	var reply proto.QueryReply
	err := c.caller.Call(proto.MethodDispatchSearch, proto.QueryRequest{Query: query}, &reply)
	return reply, err
}

func (c *Client) AddURL(url string) (proto.AddURLReply, error) {
	var reply proto.AddURLReply
	err := c.caller.Call(proto.MethodDispatchAddURL, proto.AddURLRequest{URL: url}, &reply)
	return reply, err
}

func (c *Client) InLinks(url string) ([]string, error) {
	var reply proto.InLinksReply
	err := c.caller.Call(proto.MethodDispatchInLinks, proto.InLinksRequest{URL: url}, &reply)
	return reply.Sources, err
}

func (c *Client) Stats() (proto.StatsReply, error) {
	var reply proto.StatsReply
	err := c.caller.Call(proto.MethodDispatchStats, struct{}{}, &reply)
	return reply, err
}

func (c *Client) Close() error {
	return c.caller.Close()
}
