package node

import (
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// RemoteResender sends resend requests to the address each sender gave with
// its message. Handles are cached per address and dropped on failure.
type RemoteResender struct {
	connector rpc.Connector
	self      string
	selfAddr  string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]rpc.Caller
}

// NewRemoteResender identifies requests as coming from self at selfAddr, the
// address senders redeliver to.
func NewRemoteResender(connector rpc.Connector, self, selfAddr string, m *metrics.Metrics) *RemoteResender {
	if m == nil {
		m = metrics.New(nil)
	}
	return &RemoteResender{
		connector: connector,
		self:      self,
		selfAddr:  selfAddr,
		metrics:   m,
		logger:    slog.Default().With("component", "resend-requester", "node", self),
		conns:     make(map[string]rpc.Caller),
	}
}

// RequestResend asks senderAddr for each missing sequence in turn. Failures
// are logged and left for the next gap observation to retry.
func (r *RemoteResender) RequestResend(senderID, senderAddr string, missing []int64) {
	for _, seq := range missing {
		conn, err := r.conn(senderAddr)
		if err != nil {
			r.metrics.ResendRequestsTotal.WithLabelValues("unreachable").Inc()
			r.logger.Warn("sender unreachable for resend", "sender", senderID, "addr", senderAddr, "error", err)
			return
		}
		var reply proto.ResendReply
		err = conn.Call(proto.MethodResend, proto.ResendRequest{
			Seq:           seq,
			Requester:     r.self,
			RequesterAddr: r.selfAddr,
		}, &reply)
		if err != nil {
			r.drop(senderAddr, conn)
			r.metrics.ResendRequestsTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("resend request failed", "sender", senderID, "seq", seq, "error", err)
			return
		}
		if !reply.Found {
			r.metrics.ResendRequestsTotal.WithLabelValues("miss").Inc()
			r.logger.Debug("sender has no history for sequence", "sender", senderID, "seq", seq)
			continue
		}
		r.metrics.ResendRequestsTotal.WithLabelValues("ok").Inc()
	}
}

func (r *RemoteResender) conn(addr string) (rpc.Caller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[addr]; ok {
		return c, nil
	}
	c, err := r.connector.Connect(addr)
	if err != nil {
		return nil, err
	}
	r.conns[addr] = c
	return c, nil
}

func (r *RemoteResender) drop(addr string, c rpc.Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[addr] == c {
		delete(r.conns, addr)
	}
	c.Close()
}

// Close releases every cached handle.
func (r *RemoteResender) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, c := range r.conns {
		c.Close()
		delete(r.conns, addr)
	}
}

// AnnounceUp tells each driver that this node is ready. Unreachable drivers
// are skipped; they pick the node up from their own configuration.
func AnnounceUp(connector rpc.Connector, drivers []string, name, addr string) int {
	logger := slog.Default().With("component", "node", "node", name)
	announced := 0
	for _, driverAddr := range drivers {
		c, err := connector.Connect(driverAddr)
		if err != nil {
			logger.Warn("driver unreachable for announcement", "driver", driverAddr, "error", err)
			continue
		}
		err = c.Call(proto.MethodNodeUp, proto.NodeUpRequest{Name: name, Addr: addr}, nil)
		c.Close()
		if err != nil {
			logger.Warn("announcement rejected", "driver", driverAddr, "error", err)
			continue
		}
		announced++
	}
	return announced
}
