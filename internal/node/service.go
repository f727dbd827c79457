package node

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Register exposes n's operations on s.
func Register(s *rpc.Server, n *Node) {
	s.Register(proto.MethodIngestPage, rpc.Typed(func(req proto.IngestPageRequest) (any, error) {
		return n.IngestPage(req)
	}))
	s.Register(proto.MethodEnqueueURL, rpc.Typed(func(req proto.EnqueueURLRequest) (any, error) {
		inserted, err := n.EnqueueURL(req.URL)
		return proto.EnqueueURLReply{Inserted: inserted}, err
	}))
	s.Register(proto.MethodEnqueueURLTracked, rpc.Typed(func(req proto.EnqueueURLTrackedRequest) (any, error) {
		return n.EnqueueURLTracked(req)
	}))
	s.Register(proto.MethodDequeueURL, rpc.Typed(func(struct{}) (any, error) {
		url, ok := n.DequeueURL()
		return proto.DequeueURLReply{URL: url, OK: ok}, nil
	}))
	s.Register(proto.MethodSearch, rpc.Typed(func(req proto.SearchRequest) (any, error) {
		return proto.SearchReply{Results: n.Search(req.Terms)}, nil
	}))
	s.Register(proto.MethodInLinks, rpc.Typed(func(req proto.InLinksRequest) (any, error) {
		return proto.InLinksReply{Sources: n.InLinks(req.URL)}, nil
	}))
	s.Register(proto.MethodStats, rpc.Typed(func(struct{}) (any, error) {
		return n.Stats(), nil
	}))
	s.Register(proto.MethodResetSender, rpc.Typed(func(req proto.ResetSenderRequest) (any, error) {
		if req.SenderID == "" {
			return nil, apperrors.ErrInvalidInput
		}
		n.ResetSender(req.SenderID)
		return struct{}{}, nil
	}))
	s.Register(proto.MethodExport, rpc.Typed(func(req proto.ExportRequest) (any, error) {
		return n.Export(req.Parts)
	}))
}
