package overlay

import (
	"encoding/json"
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr-net"
)

// Reference is a network-addressable handle for a Node. It is freely
// copyable across the wire: two References are equal iff their host, port
// and (when present) rs are equal, regardless of which process produced
// them. A tag distinguishes the two reference shapes the wire protocol
// knows about: bare references (host, port) and Skip+ references (host,
// port, rs).
type Reference struct {
	Host string
	Port uint16
	Rs   *BitString // nil for a bare reference
}

// NewReference builds a bare reference.
func NewReference(host string, port uint16) Reference {
	return Reference{Host: host, Port: port}
}

// NewSkipReference builds a reference carrying a Skip+ identifier.
func NewSkipReference(host string, port uint16, rs BitString) Reference {
	cp := NewBitString(rs)
	return Reference{Host: host, Port: port, Rs: &cp}
}

// Equal implements the equality rule from the data model: host, port and
// rs (if present on either side) must all match.
func (r Reference) Equal(other Reference) bool {
	if r.Host != other.Host || r.Port != other.Port {
		return false
	}
	if (r.Rs == nil) != (other.Rs == nil) {
		return false
	}
	if r.Rs == nil {
		return true
	}
	return r.Rs.Equal(*other.Rs)
}

// HasRs reports whether the reference carries a Skip+ bit string.
func (r Reference) HasRs() bool {
	return r.Rs != nil
}

// address is the "host:port" string used to key the local short-circuit
// registry and, via multiaddr, to dial the peer.
func (r Reference) address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// multiaddr renders the reference's network address as a multiaddr, the
// same addressing scheme the substrate's teacher codebase depended on for
// peer addressing.
func (r Reference) multiaddr() (ma.Multiaddr, error) {
	return ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", r.Host, r.Port))
}

// dialArgs resolves the reference to a (network, address) pair suitable
// for Transport.DialTimeout, going through multiaddr so that any future
// transport described by a multiaddr (not just plain TCP) can be dialed
// without touching call sites.
func (r Reference) dialArgs() (string, string, error) {
	m, err := r.multiaddr()
	if err != nil {
		return "", "", err
	}
	return manet.DialArgs(m)
}

func (r Reference) String() string {
	if r.Rs != nil {
		return fmt.Sprintf("%s#%s", r.address(), r.Rs.String())
	}
	return r.address()
}

// wireReference is the JSON shape a Reference is serialised as. The Tag
// field is the "tag distinguishing the two reference shapes" the wire
// protocol requires.
type wireReference struct {
	Tag  string `json:"tag"`
	Host string `json:"host"`
	Port uint16 `json:"port"`
	Rs   []byte `json:"rs,omitempty"`
}

const (
	referenceTagBare = "bare"
	referenceTagSkip = "skip"
)

// MarshalJSON fulfils the wire format: host, port, and (for Skip+
// references) rs, tagged so the receiver knows which shape to rehydrate.
func (r Reference) MarshalJSON() ([]byte, error) {
	w := wireReference{Host: r.Host, Port: r.Port, Tag: referenceTagBare}
	if r.Rs != nil {
		w.Tag = referenceTagSkip
		bits, err := r.Rs.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.Rs = bits
	}
	return json.Marshal(w)
}

// UnmarshalJSON rehydrates a Reference equal (per Equal) to the reference
// that was originally marshalled.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var w wireReference
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Host = w.Host
	r.Port = w.Port
	if w.Tag == referenceTagSkip {
		var bits BitString
		if err := bits.UnmarshalBinary(w.Rs); err != nil {
			return err
		}
		r.Rs = &bits
	} else {
		r.Rs = nil
	}
	return nil
}

// localRegistry lets a Reference detect whether its address resolves to a
// Node owned by this process, so that remote invocation can short-circuit
// straight to the local object instead of round-tripping over the wire.
// It is process-wide because References are copied freely across
// goroutines and connections within a process.
var localRegistry sync.Map // address string -> *Node

func registerLocalNode(n *Node) {
	localRegistry.Store(n.reference.address(), n)
}

func unregisterLocalNode(n *Node) {
	localRegistry.Delete(n.reference.address())
}

func localNodeFor(r Reference) (*Node, bool) {
	v, ok := localRegistry.Load(r.address())
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}
