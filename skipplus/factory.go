package skipplus

import (
	"context"
	"time"

	overlay "github.com/skipplus-go/skipplus"

	"github.com/rs/zerolog/log"
)

// NodeFactory creates SkipNodes on consecutive ports. The node created
// just before is introduced to each new node; if an entry node was
// configured, the very first node fetches its rs and linearises against
// it instead.
type NodeFactory struct {
	host      string
	transport overlay.Transport
	startPort uint16

	entryHost string
	entryPort uint16
	hasEntry  bool

	nodes []*SkipNode
}

// NewNodeFactory builds a factory with no configured entry node; the
// first node it creates starts out isolated until something linearises
// against it.
func NewNodeFactory(host string, startPort uint16, transport overlay.Transport) *NodeFactory {
	return &NodeFactory{host: host, startPort: startPort, transport: transport}
}

// NewNodeFactoryWithEntry builds a factory whose first node will attempt
// to fetch entryHost:entryPort's rs and linearise against it.
func NewNodeFactoryWithEntry(host string, startPort uint16, transport overlay.Transport, entryHost string, entryPort uint16) *NodeFactory {
	return &NodeFactory{
		host: host, startPort: startPort, transport: transport,
		entryHost: entryHost, entryPort: entryPort, hasEntry: true,
	}
}

// NewNode creates, binds, and starts the next node in sequence, then
// introduces it per §4.4: the first node (if an entry was configured)
// fetches the entry node's rs and linearises against it; every
// subsequent node linearises against the previously created local node.
func (f *NodeFactory) NewNode(ctx context.Context) (*SkipNode, error) {
	port := f.startPort + uint16(len(f.nodes))
	isFirst := len(f.nodes) == 0

	node, err := NewSkipNode(f.host, port, f.transport)
	if err != nil {
		return nil, err
	}
	if err := node.Start(); err != nil {
		return nil, err
	}
	f.nodes = append(f.nodes, node)

	if isFirst {
		if f.hasEntry {
			f.introduceToEntry(ctx, node)
		}
	} else {
		prev := f.nodes[len(f.nodes)-2]
		node.Linearise(prev.Reference())
	}
	return node, nil
}

// introduceToEntry fetches the configured entry node's rs via a one-shot
// bare-reference call and, on success, linearises the new node against
// it. Failure is a user-visible warning, not a fatal error: the local
// host remains isolated but operational, per the error handling design.
func (f *NodeFactory) introduceToEntry(ctx context.Context, node *SkipNode) {
	entryBare := overlay.NewReference(f.entryHost, f.entryPort)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := node.Core().CallRemote(dialCtx, entryBare, "rs")
	if err != nil {
		log.Warn().Err(err).Str("entry", entryBare.String()).
			Msg("failed to get the entry node's random bit string; this host will not be connected to any other host")
		return
	}
	rs, ok := result.BitStringVal()
	if !ok {
		log.Warn().Str("entry", entryBare.String()).Msg("entry node returned a non-bitstring rs value")
		return
	}
	entryRef := overlay.NewSkipReference(f.entryHost, f.entryPort, rs)
	node.Linearise(entryRef)
}

// Nodes returns a snapshot of the nodes this factory has created, in
// creation order.
func (f *NodeFactory) Nodes() []*SkipNode {
	out := make([]*SkipNode, len(f.nodes))
	copy(out, f.nodes)
	return out
}

// Shutdown stops every node's timeout loop and underlying overlay.Node,
// draining in-flight calls. Nodes are stopped one after another; every
// node is stopped even if an earlier one fails, and the first error is
// returned.
func (f *NodeFactory) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, n := range f.nodes {
		if err := n.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
