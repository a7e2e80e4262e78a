package overlay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NodeFactory constructs Nodes on consecutive ports starting from a base
// port. It is the "plain factory for bare nodes" the wire protocol
// describes; Skip+'s factory is built by composing one of these with an
// OnNodeCreated hook rather than by subclassing it (see design notes on
// preferring composition over inheritance).
type NodeFactory struct {
	Host      string
	transport Transport
	startPort uint16

	// OnNodeCreated, if set, runs synchronously right after a new node
	// has been started and added to Nodes(). isFirst is true only for
	// the very first node this factory creates.
	OnNodeCreated func(n *Node, isFirst bool)

	mu    sync.Mutex
	nodes []*Node
}

// NewNodeFactory builds a factory that will bind nodes to host, starting
// at startPort and incrementing by one per node.
func NewNodeFactory(host string, startPort uint16, transport Transport) *NodeFactory {
	if transport == nil {
		transport = NewTCPTransport()
	}
	return &NodeFactory{Host: host, startPort: startPort, transport: transport}
}

// NewNode creates, binds, and starts the next node in sequence.
func (f *NodeFactory) NewNode() (*Node, error) {
	f.mu.Lock()
	port := f.startPort + uint16(len(f.nodes))
	isFirst := len(f.nodes) == 0
	ref := NewReference(f.Host, port)
	node := NewNode(ref, f.transport)
	f.mu.Unlock()

	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("overlay: starting node on port %d: %w", port, err)
	}

	f.mu.Lock()
	f.nodes = append(f.nodes, node)
	f.mu.Unlock()

	if f.OnNodeCreated != nil {
		f.OnNodeCreated(node, isFirst)
	}
	return node, nil
}

// Nodes returns a snapshot of the nodes this factory has created, in
// creation order.
func (f *NodeFactory) Nodes() []*Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Node, len(f.nodes))
	copy(out, f.nodes)
	return out
}

// Shutdown closes every node's listener and connections concurrently,
// completing once each node has drained its in-flight calls (or ctx has
// expired, in which case the drain is abandoned node-by-node).
func (f *NodeFactory) Shutdown(ctx context.Context) error {
	nodes := f.Nodes()
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			return n.Stop(gctx)
		})
	}
	return g.Wait()
}
