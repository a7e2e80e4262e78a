package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler is a registered remote method's implementation. Args and the
// returned Value are drawn from the wire protocol's closed serialisable
// universe.
type Handler func(args []Value) (Value, error)

// NodeState is one of the four states a Node's lifecycle passes through.
type NodeState int32

const (
	StateStarting NodeState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s NodeState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type dispatchCall struct {
	method string
	args   []Value
	resp   chan dispatchResult
}

type dispatchResult struct {
	value Value
	err   error
}

// Node owns a listening endpoint and a registry of remotely invokable
// methods. All method bodies registered on a Node run on a single
// dispatch goroutine, one at a time to their next suspension point, so
// that no two calls against the same Node's state ever interleave.
// Multiple Nodes may share a process; each still gets its own goroutine.
type Node struct {
	reference Reference
	transport Transport

	methods map[string]Handler

	listener net.Listener
	calls    chan dispatchCall
	stopCh   chan struct{}

	state          int32
	networkTimeout time.Duration

	outbound sync.WaitGroup // in-flight CallRemote invocations issued by this node
	inbound  sync.WaitGroup // in-flight connections being served

	log zerolog.Logger
}

// NewNode allocates a Node bound to reference. It does not yet listen;
// call Start to bind the endpoint and begin serving. Splitting
// construction from Start lets a node's constructor (e.g. a Skip+ node)
// register its remote methods before any traffic can reach them.
func NewNode(reference Reference, transport Transport) *Node {
	return &Node{
		reference:      reference,
		transport:      transport,
		methods:        make(map[string]Handler),
		calls:          make(chan dispatchCall),
		stopCh:         make(chan struct{}),
		state:          int32(StateStarting),
		networkTimeout: 10 * time.Second,
		log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			With().Timestamp().Str("node", reference.String()).Logger(),
	}
}

// Reference returns the Node's own, immutable reference.
func (n *Node) Reference() Reference { return n.reference }

// State returns the Node's current lifecycle state.
func (n *Node) State() NodeState { return NodeState(atomic.LoadInt32(&n.state)) }

// SetNetworkTimeout sets the dial/read/write deadline applied to outbound calls.
func (n *Node) SetNetworkTimeout(d time.Duration) { n.networkTimeout = d }

// NetworkTimeout returns the dial/read/write deadline applied to outbound calls.
func (n *Node) NetworkTimeout() time.Duration { return n.networkTimeout }

// SetLogger overrides the Node's logger, e.g. to route through a shared sink.
func (n *Node) SetLogger(l zerolog.Logger) { n.log = l }

// RegisterMethod makes name callable both locally (via Invoke) and
// remotely (via a peer's Call frame or a same-process short-circuit). The
// method table has no lock of its own and is read by the dispatch
// goroutine, so a registration is safe before Start, or after Start only
// while no call is being served (as when a node fresh from
// NodeFactory.NewNode is set up before anything calls it).
func (n *Node) RegisterMethod(name string, fn Handler) {
	n.methods[name] = fn
}

// Start binds the listening endpoint and begins the accept and dispatch
// loops. Only a Running Node accepts calls.
func (n *Node) Start() error {
	ln, err := n.transport.Listen(n.reference.address())
	if err != nil {
		return err
	}
	n.listener = ln
	atomic.StoreInt32(&n.state, int32(StateRunning))
	registerLocalNode(n)
	go n.dispatchLoop()
	go n.acceptLoop()
	n.log.Debug().Msg("node started")
	return nil
}

func (n *Node) dispatchLoop() {
	for {
		select {
		case call := <-n.calls:
			n.serve(call)
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) serve(call dispatchCall) {
	fn, ok := n.methods[call.method]
	if !ok {
		call.resp <- dispatchResult{err: UnknownMethodError{Method: call.method}}
		return
	}
	v, err := fn(call.args)
	call.resp <- dispatchResult{value: v, err: err}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		n.inbound.Add(1)
		go func() {
			defer n.inbound.Done()
			n.handleConn(conn)
		}()
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		env, err := readFrame(conn)
		if err != nil {
			return
		}
		if env.Kind != frameCall {
			n.log.Warn().Int("kind", int(env.Kind)).Msg("received non-Call frame, ignoring")
			continue
		}
		var cf callFrame
		if err := json.Unmarshal(env.Payload, &cf); err != nil {
			n.log.Warn().Err(err).Msg("failed to decode Call frame")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.networkTimeout)
		v, err := n.Invoke(ctx, cf.Method, cf.Args...)
		cancel()
		if err != nil {
			werr := writeError(conn, errorFrame{RequestID: cf.RequestID, Kind: classifyError(err), Message: err.Error()})
			if werr != nil {
				return
			}
			continue
		}
		if werr := writeReply(conn, replyFrame{RequestID: cf.RequestID, Value: v}); werr != nil {
			return
		}
	}
}

func classifyError(err error) errorKind {
	switch err.(type) {
	case UnknownMethodError:
		return errKindUnknownMethod
	case UnknownTypeError:
		return errKindUnknownType
	case StoppedError:
		return errKindStopped
	case MissingRsError:
		return errKindMissingRs
	case TransportError:
		return errKindTransport
	case TimeoutError:
		// Not one of the wire protocol's named error kinds (§7); a
		// dispatch-loop timeout is, from a caller's perspective, the same
		// "call didn't complete" outcome as a dropped connection.
		return errKindTransport
	default:
		return errKindRemoteMethod
	}
}

// Invoke runs method synchronously against this Node's own dispatch
// loop, returning its result once it completes. This is used both for
// genuinely local calls and for the same-process short-circuit taken by
// CallRemote when a target reference resolves locally.
func (n *Node) Invoke(ctx context.Context, method string, args ...Value) (Value, error) {
	state := n.State()
	if state != StateRunning {
		return Value{}, StoppedError{Node: n.reference.String()}
	}
	resp := make(chan dispatchResult, 1)
	select {
	case n.calls <- dispatchCall{method: method, args: args, resp: resp}:
	case <-n.stopCh:
		return Value{}, StoppedError{Node: n.reference.String()}
	case <-ctx.Done():
		return Value{}, n.dispatchTimeoutErr(method, ctx)
	}
	select {
	case res := <-resp:
		return res.value, res.err
	case <-ctx.Done():
		return Value{}, n.dispatchTimeoutErr(method, ctx)
	}
}

// dispatchTimeoutErr reports ctx's expiry while waiting on the node's own
// dispatch loop. A deadline that actually elapsed is reported as the
// channel-mediated TimeoutError its own doc comment describes; an
// explicit cancellation is passed through as-is so callers can still
// distinguish "caller gave up" from "node was too slow".
func (n *Node) dispatchTimeoutErr(method string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return throwTimeout("dispatching "+method, int(n.networkTimeout.Seconds()))
	}
	return ctx.Err()
}

// CallRemote invokes method on target. If target's address resolves to a
// Node owned by this process, the call is dispatched directly against
// that Node's own loop (still through Invoke, so ordering guarantees
// hold); otherwise it is sent over the wire via n's Transport. Either way
// it returns a deferred result: the caller blocks on this goroutine, but
// nothing prevents wrapping the call in a goroutine for fire-and-forget
// semantics (see CallRemoteAsync).
func (n *Node) CallRemote(ctx context.Context, target Reference, method string, args ...Value) (Value, error) {
	if local, ok := localNodeFor(target); ok {
		return local.Invoke(ctx, method, args...)
	}
	n.outbound.Add(1)
	defer n.outbound.Done()

	network, addr, err := target.dialArgs()
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	conn, err := n.transport.DialTimeout(network, addr, n.networkTimeout)
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(n.networkTimeout))

	reqID := newRequestID()
	if err := writeCall(conn, callFrame{RequestID: reqID, Method: method, Args: args}); err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}

	env, err := readFrame(conn)
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	switch env.Kind {
	case frameReply:
		var rf replyFrame
		if err := json.Unmarshal(env.Payload, &rf); err != nil {
			return Value{}, TransportError{Address: target.String(), Err: err}
		}
		return rf.Value, nil
	case frameError:
		var ef errorFrame
		if err := json.Unmarshal(env.Payload, &ef); err != nil {
			return Value{}, TransportError{Address: target.String(), Err: err}
		}
		return Value{}, errorFromFrame(ef)
	default:
		return Value{}, TransportError{Address: target.String(), Err: context.DeadlineExceeded}
	}
}

func errorFromFrame(ef errorFrame) error {
	switch ef.Kind {
	case errKindUnknownMethod:
		return UnknownMethodError{Method: ef.Message}
	case errKindUnknownType:
		return UnknownTypeError{Value: ef.Message}
	case errKindStopped:
		return StoppedError{Node: ef.Message}
	case errKindMissingRs:
		return MissingRsError{Reference: ef.Message}
	case errKindTransport:
		return TransportError{Err: context.DeadlineExceeded}
	default:
		return RemoteMethodError{Err: jsonErr(ef.Message)}
	}
}

type jsonErr string

func (e jsonErr) Error() string { return string(e) }

// Future is a deferred result produced by CallRemoteAsync.
type Future struct {
	done  chan struct{}
	value Value
	err   error
}

// Wait blocks until the deferred call completes and returns its result.
func (f *Future) Wait(ctx context.Context) (Value, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return Value{}, ctx.Err()
	}
}

// CallRemoteAsync issues CallRemote without blocking the caller,
// returning a Future. It is used for fire-and-forget invocations (e.g.
// Skip+ delegation and timeout's outbound linearise calls) whose failures
// should be logged, not propagated.
func (n *Node) CallRemoteAsync(ctx context.Context, target Reference, method string, args ...Value) *Future {
	f := &Future{done: make(chan struct{})}
	n.outbound.Add(1)
	go func() {
		defer n.outbound.Done()
		v, err := n.callRemoteNoAccount(ctx, target, method, args...)
		f.value, f.err = v, err
		close(f.done)
	}()
	return f
}

// callRemoteNoAccount is CallRemote's body without the outbound
// accounting, since CallRemoteAsync already owns the WaitGroup slot for
// the goroutine's whole lifetime.
func (n *Node) callRemoteNoAccount(ctx context.Context, target Reference, method string, args ...Value) (Value, error) {
	if local, ok := localNodeFor(target); ok {
		return local.Invoke(ctx, method, args...)
	}
	network, addr, err := target.dialArgs()
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	conn, err := n.transport.DialTimeout(network, addr, n.networkTimeout)
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(n.networkTimeout))

	reqID := newRequestID()
	if err := writeCall(conn, callFrame{RequestID: reqID, Method: method, Args: args}); err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	env, err := readFrame(conn)
	if err != nil {
		return Value{}, TransportError{Address: target.String(), Err: err}
	}
	switch env.Kind {
	case frameReply:
		var rf replyFrame
		if err := json.Unmarshal(env.Payload, &rf); err != nil {
			return Value{}, TransportError{Address: target.String(), Err: err}
		}
		return rf.Value, nil
	case frameError:
		var ef errorFrame
		if err := json.Unmarshal(env.Payload, &ef); err != nil {
			return Value{}, TransportError{Address: target.String(), Err: err}
		}
		return Value{}, errorFromFrame(ef)
	default:
		return Value{}, TransportError{Address: target.String(), Err: context.DeadlineExceeded}
	}
}

// Stop transitions the Node through Stopping to Stopped, closing the
// listener so no new inbound connections are accepted, draining
// in-flight outbound and inbound calls, and rejecting new Invoke calls
// with StoppedError throughout. If ctx expires before draining
// completes, the drain is abandoned and ctx.Err() is returned.
func (n *Node) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.state, int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	unregisterLocalNode(n)
	if n.listener != nil {
		n.listener.Close()
	}
	drained := make(chan struct{})
	go func() {
		n.inbound.Wait()
		n.outbound.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(n.stopCh)
	atomic.StoreInt32(&n.state, int32(StateStopped))
	return err
}
