package driver

import (
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Register exposes the driver's resend and node-up endpoints on s.
func Register(s *rpc.Server, d *Driver) {
	s.Register(proto.MethodResend, rpc.Typed(func(req proto.ResendRequest) (any, error) {
		return d.Resend(req)
	}))
	s.Register(proto.MethodNodeUp, rpc.Typed(func(req proto.NodeUpRequest) (any, error) {
		return struct{}{}, d.NodeUp(req)
	}))
}
