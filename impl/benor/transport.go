package benor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/bft-benor/core"
)

var ErrUnknownNode = errors.New("unknown node")

// Network is an in-memory hub connecting LocalTransports of one process.
type Network struct {
	mu           sync.RWMutex
	members      map[core.NodeId]*LocalTransport
	disconnected map[core.NodeId]bool
}

func NewNetwork() *Network {
	return &Network{
		members:      make(map[core.NodeId]*LocalTransport),
		disconnected: make(map[core.NodeId]bool),
	}
}

// Join registers a node and returns its transport.
func (n *Network) Join(nodeId core.NodeId) *LocalTransport {
	t := &LocalTransport{
		nodeId:  nodeId,
		network: n,
		msgCh:   make(chan core.Message, 1024),
	}

	n.mu.Lock()
	n.members[nodeId] = t
	n.mu.Unlock()

	return t
}

// Disconnect makes a node unreachable: messages to and from it are dropped.
func (n *Network) Disconnect(nodeId core.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected[nodeId] = true
}

func (n *Network) Reconnect(nodeId core.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.disconnected, nodeId)
}

func (n *Network) deliver(ctx context.Context, from, to core.NodeId, msg core.Message) error {
	n.mu.RLock()
	target, ok := n.members[to]
	cut := n.disconnected[from] || n.disconnected[to]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	if cut {
		return fmt.Errorf("node %d unreachable from %d", to, from)
	}

	select {
	case target.msgCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) peers() []core.NodeId {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := make([]core.NodeId, 0, len(n.members))
	for id := range n.members {
		ids = append(ids, id)
	}
	return ids
}

// LocalTransport implements core.Transport over a Network.
type LocalTransport struct {
	nodeId  core.NodeId
	network *Network
	msgCh   chan core.Message
}

// Broadcast delivers msg to every member, the sender included, concurrently.
func (t *LocalTransport) Broadcast(ctx context.Context, msg core.Message) error {
	var g errgroup.Group
	errs := make([]error, 0)
	var mu sync.Mutex

	for _, id := range t.network.peers() {
		g.Go(func() error {
			if err := t.network.deliver(ctx, t.nodeId, id, msg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("send to %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

func (t *LocalTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	return t.network.deliver(ctx, t.nodeId, nodeId, msg)
}

func (t *LocalTransport) Subscribe() <-chan core.Message {
	return t.msgCh
}
