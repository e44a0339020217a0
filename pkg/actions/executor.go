package actions

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
	"github.com/ssw-net/vswitchd-core/pkg/ratelimit"
)

// Packet is one packet in flight through the action executor: its raw
// bytes plus the extracted key the classifier matched on.
type Packet struct {
	Data   []byte
	Key    flowkey.Key
	InPort uint32
}

// Transmitter enqueues frames on a port's transmit queue bound to this
// worker's tx-queue-id (§4.5 Output).
type Transmitter interface {
	Transmit(port uint32, txQueueID uint32, frames [][]byte) (sent int, err error)
}

// Recirculator re-enters the pipeline for packets produced by
// TunnelPush/TunnelPop/Recirculate. The worker implements this; depth is
// the recirculation depth the re-entered packets carry.
type Recirculator interface {
	Recirculate(packets []Packet, inPort uint32, depth int)
}

// Escalator invokes the upcall path for a packet that needs control-plane
// handling, either because it is a classifier miss or because a Userspace
// action requested it.
type Escalator interface {
	Escalate(pkt Packet, userdata []byte) (List, error)
}

// Counters receives typed drop/observability callbacks. Implemented by
// internal/metrics; kept as a narrow interface here so this package does
// not depend on the Prometheus wiring.
type Counters interface {
	IncDrop(reason string, n int)
	IncHit(kind string, n int)
	ObserveRecircDepth(depth int)
}

// Executor applies a flow's action list to a batch of packets that all
// mapped to the same flow.
type Executor struct {
	TxQueueID uint32
	MaxDepth  int

	Tx      Transmitter
	Recirc  Recirculator
	Upcall  Escalator
	Counts  Counters
	Limiter *ratelimit.Limiter
	Logger  *logrus.Logger
}

// Execute runs list against packets, which are all at recirculation depth
// depth. Nested recirculating actions re-enter the pipeline at depth+1
// after a depth check; exceeding MaxDepth drops the batch and logs,
// rate-limited.
func (e *Executor) Execute(list List, packets []Packet, depth int) {
	for _, act := range list {
		switch a := act.(type) {
		case Output:
			frames := make([][]byte, len(packets))
			for i, p := range packets {
				frames[i] = p.Data
			}
			if _, err := e.Tx.Transmit(a.Port, e.TxQueueID, frames); err != nil {
				e.countDrop("output_failed", len(packets))
			}

		case TunnelPush:
			if !e.checkDepth(depth, len(packets)) {
				return
			}
			e.Recirc.Recirculate(packets, packets[0].InPort, depth+1)

		case TunnelPop:
			if !e.checkDepth(depth, len(packets)) {
				return
			}
			e.Recirc.Recirculate(packets, a.Port, depth+1)

		case PushVlan:
			for i := range packets {
				packets[i].Key.Set(flowkey.WordVlanTCI, uint64(a.TCI))
			}
		case PopVlan:
			for i := range packets {
				packets[i].Key.Bitmap &^= uint64(1) << uint(flowkey.WordVlanTCI)
			}
		case PushMpls, PopMpls:
			// Header-rewrite only; no recirculation and no key field in
			// this core's word layout to rewrite beyond ethertype, which
			// callers may follow with a Set action.

		case Set:
			for i := range packets {
				packets[i].Key.Set(a.Word, a.Value)
			}
		case SetMasked:
			for i := range packets {
				cur := packets[i].Key.Words[a.Word]
				packets[i].Key.Set(a.Word, (cur &^ a.Mask)|(a.Value&a.Mask))
			}

		case Recirculate:
			if !e.checkDepth(depth, len(packets)) {
				return
			}
			e.Recirc.Recirculate(packets, packets[0].InPort, depth+1)

		case Userspace:
			for _, p := range packets {
				e.escalate(p, a.Userdata, depth)
			}

		case Hash:
			// Statistical side effect only; no state in this core.

		case Sample:
			sampled := make([]Packet, 0, len(packets))
			for _, p := range packets {
				if rand.Uint32() < a.Probability {
					sampled = append(sampled, p)
				}
			}
			if len(sampled) > 0 {
				e.Execute(a.Actions, sampled, depth)
			}

		case Conntrack:
			e.countDrop("unsupported_action", len(packets))
			e.Logger.WithField("action", "conntrack").Warn("conntrack action not implemented in userspace, dropping")
			return

		default:
			e.countDrop("unsupported_action", len(packets))
			return
		}
	}
}

func (e *Executor) escalate(pkt Packet, userdata []byte, depth int) {
	actionsList, err := e.Upcall.Escalate(pkt, userdata)
	if err != nil {
		e.countDrop("lost", 1)
		return
	}
	e.Execute(actionsList, []Packet{pkt}, depth)
}

func (e *Executor) checkDepth(depth, n int) bool {
	if depth >= e.MaxDepth {
		if e.Limiter == nil || e.Limiter.Allow() {
			e.Logger.WithField("depth", depth).Warn("recirculation depth exceeded, dropping batch")
		}
		e.countDrop("recirc_depth", n)
		return false
	}
	if e.Counts != nil {
		e.Counts.ObserveRecircDepth(depth)
	}
	return true
}

func (e *Executor) countDrop(reason string, n int) {
	if e.Counts != nil {
		e.Counts.IncDrop(reason, n)
	}
}

// RejectConntrackInstall returns the management-surface error for installing a
// flow whose action list contains a Conntrack action — §4.5 states this is
// always rejected, not just dropped on the data path.
func RejectConntrackInstall(list List) error {
	for _, a := range list {
		if a.Kind() == KindConntrack {
			return dperrors.Unsupported("actions", "Install", "conntrack action not supported")
		}
	}
	return nil
}
