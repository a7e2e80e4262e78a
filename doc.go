// Package overlay is the remote-invocation substrate a self-stabilising
// overlay network is built on: node references that are first-class and
// copyable across the wire, a node runtime that multiplexes incoming
// calls onto a single dispatch loop, and a factory that bootstraps nodes
// on consecutive ports.
//
// Getting started
//
// Build a factory, mint a node, register whatever methods it should
// answer to, then let the factory tear everything down when you're done.
//
//	factory := overlay.NewNodeFactory("127.0.0.1", 9000, overlay.NewTCPTransport())
//	node, err := factory.NewNode()
//	if err != nil {
//		panic(err)
//	}
//	node.RegisterMethod("ping", func(args []overlay.Value) (overlay.Value, error) {
//		return overlay.StringValue("pong"), nil
//	})
//	defer factory.Shutdown(context.Background())
//
// The overlay package itself has no notion of Skip+, ranges, or
// neighbourhoods; package skipplus builds that protocol on top of a
// Reference that additionally carries a random bit string.
package overlay
