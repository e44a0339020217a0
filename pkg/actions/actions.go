// Package actions implements the action executor (C5): a typed, ordered
// action list applied to a batch of packets that all mapped to the same
// flow. The typed-tag-per-action-kind design is grounded on
// netrack-openflow's ofp13.Action family (a closed interface with one
// struct per wire action), adapted here to an in-memory semantic action
// instead of an OpenFlow wire encoding.
package actions

import "github.com/ssw-net/vswitchd-core/pkg/flowkey"

// Kind identifies one action type.
type Kind int

const (
	KindOutput Kind = iota
	KindTunnelPush
	KindTunnelPop
	KindPushVlan
	KindPopVlan
	KindPushMpls
	KindPopMpls
	KindSet
	KindSetMasked
	KindRecirculate
	KindUserspace
	KindHash
	KindSample
	KindConntrack
)

func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindTunnelPush:
		return "tunnel_push"
	case KindTunnelPop:
		return "tunnel_pop"
	case KindPushVlan:
		return "push_vlan"
	case KindPopVlan:
		return "pop_vlan"
	case KindPushMpls:
		return "push_mpls"
	case KindPopMpls:
		return "pop_mpls"
	case KindSet:
		return "set"
	case KindSetMasked:
		return "set_masked"
	case KindRecirculate:
		return "recirculate"
	case KindUserspace:
		return "userspace"
	case KindHash:
		return "hash"
	case KindSample:
		return "sample"
	case KindConntrack:
		return "conntrack"
	default:
		return "unknown"
	}
}

// Action is the interface every typed action satisfies.
type Action interface {
	Kind() Kind
}

// List is an ordered action list, as stored on a flow record's
// actions-ref.
type List []Action

// Output enqueues the batch on the named port's transmit queue bound to
// the executing worker's tx-queue-id.
type Output struct{ Port uint32 }

func (Output) Kind() Kind { return KindOutput }

// TunnelPush prepends a tunnel header and recirculates with metadata
// preserved.
type TunnelPush struct{ Data []byte }

func (TunnelPush) Kind() Kind { return KindTunnelPush }

// TunnelPop strips a tunnel header, sets in-port, and recirculates.
type TunnelPop struct{ Port uint32 }

func (TunnelPop) Kind() Kind { return KindTunnelPop }

// PushVlan inserts a VLAN tag with the given TCI.
type PushVlan struct{ TCI uint16 }

func (PushVlan) Kind() Kind { return KindPushVlan }

// PopVlan removes the outermost VLAN tag.
type PopVlan struct{}

func (PopVlan) Kind() Kind { return KindPopVlan }

// PushMpls pushes an MPLS label.
type PushMpls struct {
	Label   uint32
	EthType uint16
}

func (PushMpls) Kind() Kind { return KindPushMpls }

// PopMpls pops the outermost MPLS label.
type PopMpls struct{ EthType uint16 }

func (PopMpls) Kind() Kind { return KindPopMpls }

// Set overwrites the given key word unconditionally.
type Set struct {
	Word  flowkey.Word
	Value uint64
}

func (Set) Kind() Kind { return KindSet }

// SetMasked overwrites only the bits mask selects in the given key word.
type SetMasked struct {
	Word  flowkey.Word
	Value uint64
	Mask  uint64
}

func (SetMasked) Kind() Kind { return KindSetMasked }

// Recirculate stamps the packet with a recirculation id and re-enters the
// pipeline.
type Recirculate struct{ ID uint32 }

func (Recirculate) Kind() Kind { return KindRecirculate }

// Userspace escalates each packet in the batch to the upcall handler with
// the given userdata and executes the actions it returns.
type Userspace struct{ Userdata []byte }

func (Userspace) Kind() Kind { return KindUserspace }

// Hash records a statistical hashing side effect (e.g. for load-balancing
// output selection). Execution is a no-op beyond bookkeeping in this core.
type Hash struct{ Algorithm string }

func (Hash) Kind() Kind { return KindHash }

// Sample executes its nested action list against a statistically sampled
// subset of the batch: each packet is independently included with
// probability Probability/(1<<32), matching a per-packet random draw rather
// than an all-or-nothing decision for the whole batch.
type Sample struct {
	Probability uint32
	Actions     List
}

func (Sample) Kind() Kind { return KindSample }

// Conntrack is always rejected: connection tracking is not implemented in
// userspace by this core (§4.5).
type Conntrack struct{}

func (Conntrack) Kind() Kind { return KindConntrack }
