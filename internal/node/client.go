package node

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Client is a typed handle to a remote node. Any error it returns means the
// node could not be reached or refused the call; callers treat both as the
// node being unavailable.
type Client struct {
	caller rpc.Caller
}

// NewClient wraps an open handle.
func NewClient(c rpc.Caller) *Client {
	return &Client{caller: c}
}

// Dial opens a Client to addr through connector.
func Dial(connector rpc.Connector, addr string) (*Client, error) {
	c, err := connector.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to node at %s: %w", addr, err)
	}
	return NewClient(c), nil
}

func (c *Client) IngestPage(req proto.IngestPageRequest) (proto.IngestPageReply, error) {
	var reply proto.IngestPageReply
	err := c.caller.Call(proto.MethodIngestPage, req, &reply)
	return reply, err
}

func (c *Client) EnqueueURL(url string) (bool, error) {
	var reply proto.EnqueueURLReply
	err := c.caller.Call(proto.MethodEnqueueURL, proto.EnqueueURLRequest{URL: url}, &reply)
	return reply.Inserted, err
}

func (c *Client) EnqueueURLTracked(req proto.EnqueueURLTrackedRequest) (proto.EnqueueURLTrackedReply, error) {
	var reply proto.EnqueueURLTrackedReply
	err := c.caller.Call(proto.MethodEnqueueURLTracked, req, &reply)
	return reply, err
}

func (c *Client) DequeueURL() (string, bool, error) {
	var reply proto.DequeueURLReply
	if err := c.caller.Call(proto.MethodDequeueURL, struct{}{}, &reply); err != nil {
		return "", false, err
	}
	return reply.URL, reply.OK, nil
}

func (c *Client) Search(terms []string) ([]proto.PageRecord, error) {
	var reply proto.SearchReply
	err := c.caller.Call(proto.MethodSearch, proto.SearchRequest{Terms: terms}, &reply)
	return reply.Results, err
}

func (c *Client) InLinks(url string) ([]string, error) {
	var reply proto.InLinksReply
	err := c.caller.Call(proto.MethodInLinks, proto.InLinksRequest{URL: url}, &reply)
	return reply.Sources, err
}

func (c *Client) Stats() (proto.NodeStats, error) {
	var reply proto.NodeStats
	err := c.caller.Call(proto.MethodStats, struct{}{}, &reply)
	return reply, err
}

func (c *Client) ResetSender(senderID string) error {
	return c.caller.Call(proto.MethodResetSender, proto.ResetSenderRequest{SenderID: senderID}, nil)
}

func (c *Client) Export(parts ...string) (proto.Snapshot, error) {
	var snap proto.Snapshot
	err := c.caller.Call(proto.MethodExport, proto.ExportRequest{Parts: parts}, &snap)
	return snap, err
}

func (c *Client) Close() error {
	return c.caller.Close()
}
