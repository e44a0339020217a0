// Package snapshot codecs a flow-table dump (flowtable.Dump's result) into
// a single compressed artifact suitable for bulk export over the
// management boundary or for warm-starting a fresh datapath root from a
// prior one's flow set. Grounded on the teacher's pkg/compression
// Compressor/HTTPCompressionManager idiom, narrowed to the one codec the
// domain needs: the management boundary picks a fixed wire format, it
// doesn't content-negotiate per request like an HTTP response body.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
	"github.com/ssw-net/vswitchd-core/pkg/flowtable"
)

// wireAction is the JSON wire shape for one actions.Action, flattened the
// same way the management handlers flatten it: the action package keeps a
// closed interface that encoding/json cannot round-trip directly.
type wireAction struct {
	Kind        string       `json:"kind"`
	Port        uint32       `json:"port,omitempty"`
	Data        []byte       `json:"data,omitempty"`
	TCI         uint16       `json:"tci,omitempty"`
	Label       uint32       `json:"label,omitempty"`
	EthType     uint16       `json:"eth_type,omitempty"`
	Word        int          `json:"word,omitempty"`
	Value       uint64       `json:"value,omitempty"`
	Mask        uint64       `json:"mask,omitempty"`
	ID          uint32       `json:"id,omitempty"`
	Userdata    []byte       `json:"userdata,omitempty"`
	Algorithm   string       `json:"algorithm,omitempty"`
	Probability uint32       `json:"probability,omitempty"`
	Actions     []wireAction `json:"actions,omitempty"`
}

func actionToWire(a actions.Action) wireAction {
	switch v := a.(type) {
	case actions.Output:
		return wireAction{Kind: "output", Port: v.Port}
	case actions.TunnelPush:
		return wireAction{Kind: "tunnel_push", Data: v.Data}
	case actions.TunnelPop:
		return wireAction{Kind: "tunnel_pop", Port: v.Port}
	case actions.PushVlan:
		return wireAction{Kind: "push_vlan", TCI: v.TCI}
	case actions.PopVlan:
		return wireAction{Kind: "pop_vlan"}
	case actions.PushMpls:
		return wireAction{Kind: "push_mpls", Label: v.Label, EthType: v.EthType}
	case actions.PopMpls:
		return wireAction{Kind: "pop_mpls", EthType: v.EthType}
	case actions.Set:
		return wireAction{Kind: "set", Word: int(v.Word), Value: v.Value}
	case actions.SetMasked:
		return wireAction{Kind: "set_masked", Word: int(v.Word), Value: v.Value, Mask: v.Mask}
	case actions.Recirculate:
		return wireAction{Kind: "recirculate", ID: v.ID}
	case actions.Userspace:
		return wireAction{Kind: "userspace", Userdata: v.Userdata}
	case actions.Hash:
		return wireAction{Kind: "hash", Algorithm: v.Algorithm}
	case actions.Sample:
		return wireAction{Kind: "sample", Probability: v.Probability, Actions: actionsToWire(v.Actions)}
	case actions.Conntrack:
		return wireAction{Kind: "conntrack"}
	default:
		return wireAction{Kind: "unknown"}
	}
}

func actionsToWire(l actions.List) []wireAction {
	out := make([]wireAction, 0, len(l))
	for _, a := range l {
		out = append(out, actionToWire(a))
	}
	return out
}

func (w wireAction) toAction() (actions.Action, error) {
	switch w.Kind {
	case "output":
		return actions.Output{Port: w.Port}, nil
	case "tunnel_push":
		return actions.TunnelPush{Data: w.Data}, nil
	case "tunnel_pop":
		return actions.TunnelPop{Port: w.Port}, nil
	case "push_vlan":
		return actions.PushVlan{TCI: w.TCI}, nil
	case "pop_vlan":
		return actions.PopVlan{}, nil
	case "push_mpls":
		return actions.PushMpls{Label: w.Label, EthType: w.EthType}, nil
	case "pop_mpls":
		return actions.PopMpls{EthType: w.EthType}, nil
	case "set":
		return actions.Set{Word: flowkey.Word(w.Word), Value: w.Value}, nil
	case "set_masked":
		return actions.SetMasked{Word: flowkey.Word(w.Word), Value: w.Value, Mask: w.Mask}, nil
	case "recirculate":
		return actions.Recirculate{ID: w.ID}, nil
	case "userspace":
		return actions.Userspace{Userdata: w.Userdata}, nil
	case "hash":
		return actions.Hash{Algorithm: w.Algorithm}, nil
	case "sample":
		nested, err := wireToActions(w.Actions)
		if err != nil {
			return nil, err
		}
		return actions.Sample{Probability: w.Probability, Actions: nested}, nil
	case "conntrack":
		return actions.Conntrack{}, nil
	default:
		return nil, dperrors.Invalid("snapshot", "decodeAction", fmt.Sprintf("unknown action kind %q", w.Kind))
	}
}

func wireToActions(ws []wireAction) (actions.List, error) {
	out := make(actions.List, 0, len(ws))
	for _, w := range ws {
		a, err := w.toAction()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// wireEntry is the JSON wire shape for one flowtable.DumpEntry.
type wireEntry struct {
	Ufid          [16]byte     `json:"ufid"`
	Key           flowkey.Key  `json:"key"`
	Mask          flowkey.Mask `json:"mask"`
	OwnerWorkerID int          `json:"owner_worker_id"`
	Actions       []wireAction `json:"actions,omitempty"`
	Packets       uint64       `json:"packets"`
	Bytes         uint64       `json:"bytes"`
	TCPFlags      uint32       `json:"tcp_flags"`
	LastUsed      int64        `json:"last_used_millis"`
}

func entryToWire(e flowtable.DumpEntry) wireEntry {
	return wireEntry{
		Ufid:          e.Ufid,
		Key:           e.Key,
		Mask:          e.Mask,
		OwnerWorkerID: e.OwnerWorkerID,
		Actions:       actionsToWire(e.Actions),
		Packets:       e.Stats.Packets,
		Bytes:         e.Stats.Bytes,
		TCPFlags:      e.Stats.TCPFlags,
		LastUsed:      e.Stats.LastUsedMillis,
	}
}

func (w wireEntry) toEntry() (flowtable.DumpEntry, error) {
	acts, err := wireToActions(w.Actions)
	if err != nil {
		return flowtable.DumpEntry{}, err
	}
	return flowtable.DumpEntry{
		Ufid:          w.Ufid,
		Key:           w.Key,
		Mask:          w.Mask,
		OwnerWorkerID: w.OwnerWorkerID,
		Actions:       acts,
		Stats: flowtable.Snapshot{
			Packets:        w.Packets,
			Bytes:          w.Bytes,
			TCPFlags:       w.TCPFlags,
			LastUsedMillis: w.LastUsed,
		},
	}, nil
}

// Codec encodes and decodes flow-table dumps to and from a zstd-compressed
// JSON artifact. The zero value is not usable; build one with NewCodec.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec builds a reusable codec. The encoder and decoder are safe for
// concurrent use by multiple goroutines.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// ContentEncoding names the wire encoding for an HTTP Content-Encoding
// header, for handlers that serve an Encode result directly.
func (c *Codec) ContentEncoding() string { return "zstd" }

// Encode serializes entries to JSON and compresses the result.
func (c *Codec) Encode(entries []flowtable.DumpEntry) ([]byte, error) {
	wire := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		wire = append(wire, entryToWire(e))
	}

	plain, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal flow dump: %w", err)
	}

	return c.encoder.EncodeAll(plain, make([]byte, 0, len(plain)/2)), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) ([]flowtable.DumpEntry, error) {
	plain, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress flow dump: %w", err)
	}

	var wire []wireEntry
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal flow dump: %w", err)
	}

	out := make([]flowtable.DumpEntry, 0, len(wire))
	for _, w := range wire {
		e, err := w.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the codec's background resources. Safe to call once the
// codec is no longer needed; further Encode/Decode calls are not valid
// after Close.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
