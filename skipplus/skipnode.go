package skipplus

import (
	"context"
	"sync"
	"time"

	overlay "github.com/skipplus-go/skipplus"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeoutInterval is the cadence timeout() fires at unless
// overridden, matching the source's one-second default.
const DefaultTimeoutInterval = 1 * time.Second

// SkipNode composes an overlay.Node with the Skip+ maintenance protocol:
// a neighbourhood N, a per-level range cache, and the linearise/timeout
// methods the overlay network converges through. It holds the core node
// by reference rather than by embedding so that the registration of
// remote methods stays an explicit constructor step, mirroring the
// composition-over-inheritance guidance of keeping a node core and a
// protocol extension as separate, pluggable parts.
type SkipNode struct {
	core *overlay.Node
	rs   overlay.BitString
	ref  overlay.Reference

	mu            sync.Mutex // guards N and the range cache; linearise and timeout run on different goroutines
	n             map[string]overlay.Reference
	ranges        [RsBitLength - 1][]overlay.Reference
	nodesInRanges map[string]overlay.Reference

	timeoutInterval time.Duration
	stopTimeout     chan struct{}
	timeoutWG       sync.WaitGroup

	log zerolog.Logger
}

// NewSkipNode allocates a SkipNode bound to host:port with a freshly
// drawn random bit string, and registers its remote methods on the
// underlying overlay.Node. Call Start to begin serving.
func NewSkipNode(host string, port uint16, transport overlay.Transport) (*SkipNode, error) {
	rs, err := overlay.RandomBitString(RsByteLength)
	if err != nil {
		return nil, err
	}
	ref := overlay.NewSkipReference(host, port, rs)
	core := overlay.NewNode(ref, transport)

	sn := &SkipNode{
		core:            core,
		rs:              rs,
		ref:             ref,
		n:               make(map[string]overlay.Reference),
		nodesInRanges:   make(map[string]overlay.Reference),
		timeoutInterval: DefaultTimeoutInterval,
		stopTimeout:     make(chan struct{}),
		log:             log.With().Str("skipnode", ref.String()).Logger(),
	}
	sn.registerMethods()
	return sn, nil
}

// Reference returns the node's own Skip+ reference.
func (sn *SkipNode) Reference() overlay.Reference { return sn.ref }

// Rs returns the node's random bit string.
func (sn *SkipNode) Rs() overlay.BitString { return sn.rs }

// SetTimeoutInterval overrides the cadence timeout() fires at. The
// interval is read when Start launches the timeout loop, so it must be
// set before Start.
func (sn *SkipNode) SetTimeoutInterval(d time.Duration) { sn.timeoutInterval = d }

// Core exposes the underlying overlay.Node, e.g. for tests that want to
// drive Invoke/CallRemote directly or inspect its lifecycle state.
func (sn *SkipNode) Core() *overlay.Node { return sn.core }

// N returns a snapshot of the node's current outgoing neighbourhood.
func (sn *SkipNode) N() []overlay.Reference {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	out := make([]overlay.Reference, 0, len(sn.n))
	for _, r := range sn.n {
		out = append(out, r)
	}
	return out
}

// Ranges returns a snapshot of the per-level range cache.
func (sn *SkipNode) Ranges() [RsBitLength - 1][]overlay.Reference {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.ranges
}

// NodesInRanges returns the union of every level's range, i.e. the
// neighbours that remain desirable after the most recent updateRanges.
func (sn *SkipNode) NodesInRanges() []overlay.Reference {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	out := make([]overlay.Reference, 0, len(sn.nodesInRanges))
	for _, r := range sn.nodesInRanges {
		out = append(out, r)
	}
	return out
}

// Start binds the node's listener and begins its periodic timeout loop.
func (sn *SkipNode) Start() error {
	if err := sn.core.Start(); err != nil {
		return err
	}
	sn.timeoutWG.Add(1)
	go sn.timeoutLoop()
	return nil
}

// Stop tears down the node: it cancels the timeout loop and stops the
// underlying overlay.Node, draining in-flight calls.
func (sn *SkipNode) Stop(ctx context.Context) error {
	close(sn.stopTimeout)
	sn.timeoutWG.Wait()
	return sn.core.Stop(ctx)
}

func (sn *SkipNode) registerMethods() {
	sn.core.RegisterMethod("rs", func(args []overlay.Value) (overlay.Value, error) {
		return overlay.BitStringValue(sn.rs), nil
	})
	sn.core.RegisterMethod("linearise", func(args []overlay.Value) (overlay.Value, error) {
		if len(args) != 1 {
			return overlay.Value{}, overlay.UnknownTypeError{Value: args}
		}
		u, ok := args[0].ReferenceVal()
		if !ok {
			return overlay.Value{}, overlay.UnknownTypeError{Value: args[0]}
		}
		if !u.HasRs() {
			return overlay.Value{}, overlay.MissingRsError{Reference: u.String()}
		}
		sn.linearise(u)
		return overlay.Void(), nil
	})
}

// Linearise is the exported entry point used by tests and by the factory's
// entry-node introduction; it invokes the same code path the remote
// "linearise" method does.
func (sn *SkipNode) Linearise(u overlay.Reference) {
	sn.linearise(u)
}

// updateRanges recomputes every level's skipRange against the node's
// current reference and neighbourhood, then recomputes nodesInRanges as
// their union. It is a pure function of (reference, N), called with mu
// held.
func (sn *SkipNode) updateRangesLocked() {
	neighbours := make([]overlay.Reference, 0, len(sn.n))
	for _, r := range sn.n {
		neighbours = append(neighbours, r)
	}
	accumulated := make(map[string]overlay.Reference)
	for i := 0; i < RsBitLength-1; i++ {
		level := skipRange(i, sn.ref, neighbours)
		sn.ranges[i] = level
		for _, r := range level {
			accumulated[r.String()] = r
		}
	}
	sn.nodesInRanges = accumulated
}

// linearise is the idempotent neighbour-introduction rule: a novel u is
// added to N, ranges are recomputed, and any neighbour the new ranges no
// longer want is delegated to its best prefix match elsewhere in N.
func (sn *SkipNode) linearise(u overlay.Reference) {
	sn.log.Debug().Str("u", u.String()).Msg("linearise called")

	sn.mu.Lock()
	if u.Equal(sn.ref) {
		sn.mu.Unlock()
		return
	}
	if _, already := sn.n[u.String()]; already {
		sn.mu.Unlock()
		return
	}
	sn.n[u.String()] = u
	sn.updateRangesLocked()

	if len(sn.nodesInRanges) == 0 {
		// No node is in range yet; keep the current neighbourhood rather
		// than risk disconnecting the graph.
		sn.mu.Unlock()
		return
	}

	undesirable := make([]overlay.Reference, 0)
	for key, r := range sn.n {
		if _, wanted := sn.nodesInRanges[key]; !wanted {
			undesirable = append(undesirable, r)
		}
	}
	sn.n = make(map[string]overlay.Reference, len(sn.nodesInRanges))
	for key, r := range sn.nodesInRanges {
		sn.n[key] = r
	}
	desired := make([]overlay.Reference, 0, len(sn.n))
	for _, r := range sn.n {
		desired = append(desired, r)
	}
	sn.mu.Unlock()

	for _, w := range undesirable {
		if len(desired) == 0 {
			break
		}
		dest := longestCommonPrefixNode(w, desired)
		sn.delegate(dest, w)
	}
}

// delegate issues a fire-and-forget linearise(w) against dest. It must
// never block the caller: delegate is invoked from inside linearise, which
// runs on the node's single dispatch goroutine when called remotely, so a
// blocking call here would stall every other inbound call to this node
// (including concurrent linearise/rs calls) for up to the network
// timeout; it is also invoked from timeout, which runs on the timeout
// loop's own goroutine. CallRemoteAsync returns immediately; the Future is awaited on
// its own goroutine purely to log a failure, never to propagate or roll
// one back, since linearise's only remotely invoked mutator treats every
// failure as edge loss.
func (sn *SkipNode) delegate(dest, w overlay.Reference) {
	ctx, cancel := context.WithTimeout(context.Background(), sn.core.NetworkTimeout())
	future := sn.core.CallRemoteAsync(ctx, dest, "linearise", overlay.ReferenceValue(w))
	go func() {
		defer cancel()
		if _, err := future.Wait(ctx); err != nil {
			sn.log.Warn().Err(err).Str("dest", dest.String()).Str("w", w.String()).
				Msg("delegation failed, treating as lost edge")
		}
	}()
}

func (sn *SkipNode) timeoutLoop() {
	defer sn.timeoutWG.Done()
	ticker := time.NewTicker(sn.timeoutInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sn.timeout()
		case <-sn.stopTimeout:
			return
		}
	}
}

// timeout is the periodic stabilisation step: for each level it
// partitions the cached range about self, linearises consecutive pairs
// on each side, reconnects the closest node on each side back to self,
// and bridges the two sides using this node's own N as a conservative
// local estimate of the other side's range.
func (sn *SkipNode) timeout() {
	sn.mu.Lock()
	ranges := sn.ranges
	self := sn.ref
	neighbours := make([]overlay.Reference, 0, len(sn.n))
	for _, r := range sn.n {
		neighbours = append(neighbours, r)
	}
	sn.mu.Unlock()

	for i := 0; i < RsBitLength-1; i++ {
		left, right := partition(ranges[i], self)

		sn.linearisePairs(left)
		sn.linearisePairs(right)

		sn.bridge(i, left, right, neighbours)
		sn.bridge(i, right, left, neighbours)
	}
}

// partition splits level i's range into left (rs < self, ascending) and
// right (rs > self, descending — farthest from self first).
func partition(level []overlay.Reference, self overlay.Reference) (left, right []overlay.Reference) {
	for _, x := range level {
		if x.Rs.Less(*self.Rs) {
			left = append(left, x)
		} else if self.Rs.Less(*x.Rs) {
			right = append(right, x)
		}
	}
	sortAscending(left)
	sortDescending(right)
	return left, right
}

func sortAscending(refs []overlay.Reference) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].Rs.Less(*refs[j-1].Rs); j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}

func sortDescending(refs []overlay.Reference) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j-1].Rs.Less(*refs[j].Rs); j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}

// linearisePairs stitches r[k] -> r[k+1] for every consecutive pair, then
// reconnects the element closest to self (the list's tail) back to self.
func (sn *SkipNode) linearisePairs(r []overlay.Reference) {
	for k := 0; k < len(r)-1; k++ {
		sn.delegate(r[k], r[k+1])
	}
	if len(r) > 0 {
		sn.delegate(r[len(r)-1], sn.ref)
	}
}

// bridge connects side a to the node in side b closest to self (its last
// element), for any a-side member whose own estimate of its range (using
// this node's N, not a's) would also want that bridge node.
func (sn *SkipNode) bridge(i int, a, b, selfN []overlay.Reference) {
	if len(b) == 0 {
		return
	}
	closest := b[len(b)-1]
	for _, v := range a {
		if refInSlice(closest, skipRange(i, v, selfN)) {
			sn.delegate(v, closest)
		}
	}
}

func refInSlice(target overlay.Reference, refs []overlay.Reference) bool {
	for _, r := range refs {
		if r.Equal(target) {
			return true
		}
	}
	return false
}
