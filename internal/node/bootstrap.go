package node

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Source says where a node's starting state came from.
type Source string

const (
	SourcePeer  Source = "peer"
	SourceLocal Source = "local"
	SourceEmpty Source = "empty"
)

// BootstrapConfig names the peer to clone and the local fallback.
type BootstrapConfig struct {
	PeerAddr  string
	Connector rpc.Connector
	Store     Store
}

// Bootstrap installs the node's starting state once, before it serves
// traffic. It clones PeerAddr when reachable and persists the copy; any
// failure along that path falls back to the local snapshot, and a missing
// local snapshot leaves the node empty. Only local storage errors are
// returned.
func Bootstrap(n *Node, cfg BootstrapConfig) (Source, error) {
	logger := slog.Default().With("component", "bootstrap", "node", n.name)

	if cfg.PeerAddr != "" && cfg.Connector != nil {
		snap, err := pullFromPeer(cfg.Connector, cfg.PeerAddr)
		if err == nil {
			err = n.Install(snap)
		}
		if err == nil {
			if cfg.Store != nil {
				if err := n.Flush(); err != nil {
					return SourcePeer, fmt.Errorf("persisting peer snapshot: %w", err)
				}
			}
			logger.Info("bootstrapped from peer",
				"peer", cfg.PeerAddr,
				"pages", len(snap.Pages),
				"terms", len(snap.Inverted),
				"senders", len(snap.Senders),
			)
			return SourcePeer, nil
		}
		logger.Warn("peer bootstrap failed, falling back to local state", "peer", cfg.PeerAddr, "error", err)
	}

	if cfg.Store == nil {
		logger.Info("starting with empty state")
		return SourceEmpty, nil
	}
	snap, err := cfg.Store.Load()
	if err != nil {
		return "", fmt.Errorf("loading local snapshot: %w", err)
	}
	if err := n.Install(snap); err != nil {
		return "", fmt.Errorf("installing local snapshot: %w", err)
	}
	if len(snap.Pages) == 0 && len(snap.Frontier) == 0 && len(snap.Senders) == 0 {
		logger.Info("no local snapshot, starting with empty state")
		return SourceEmpty, nil
	}
	logger.Info("restored local snapshot", "pages", len(snap.Pages), "frontier", len(snap.Frontier))
	return SourceLocal, nil
}

func pullFromPeer(connector rpc.Connector, addr string) (proto.Snapshot, error) {
	c, err := Dial(connector, addr)
	if err != nil {
		return proto.Snapshot{}, err
	}
	defer c.Close()
	snap, err := c.Export(proto.ReplicaParts...)
	if err != nil {
		return proto.Snapshot{}, fmt.Errorf("exporting from peer %s: %w", addr, err)
	}
	return snap, nil
}
