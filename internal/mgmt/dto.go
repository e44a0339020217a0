package mgmt

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

// actionDTO is the JSON wire shape for one actions.Action. The action
// package keeps actions as a closed interface (one struct per kind), which
// encoding/json cannot round-trip through directly; this flattens every
// kind's fields into one tagged struct, matching the teacher's own
// preference for encoding/json over a schema library everywhere its
// handlers talk JSON.
type actionDTO struct {
	Kind        string      `json:"kind"`
	Port        uint32      `json:"port,omitempty"`
	Data        []byte      `json:"data,omitempty"`
	TCI         uint16      `json:"tci,omitempty"`
	Label       uint32      `json:"label,omitempty"`
	EthType     uint16      `json:"eth_type,omitempty"`
	Word        int         `json:"word,omitempty"`
	Value       uint64      `json:"value,omitempty"`
	Mask        uint64      `json:"mask,omitempty"`
	ID          uint32      `json:"id,omitempty"`
	Userdata    []byte      `json:"userdata,omitempty"`
	Algorithm   string      `json:"algorithm,omitempty"`
	Probability uint32      `json:"probability,omitempty"`
	Actions     []actionDTO `json:"actions,omitempty"`
}

func actionToDTO(a actions.Action) actionDTO {
	switch v := a.(type) {
	case actions.Output:
		return actionDTO{Kind: "output", Port: v.Port}
	case actions.TunnelPush:
		return actionDTO{Kind: "tunnel_push", Data: v.Data}
	case actions.TunnelPop:
		return actionDTO{Kind: "tunnel_pop", Port: v.Port}
	case actions.PushVlan:
		return actionDTO{Kind: "push_vlan", TCI: v.TCI}
	case actions.PopVlan:
		return actionDTO{Kind: "pop_vlan"}
	case actions.PushMpls:
		return actionDTO{Kind: "push_mpls", Label: v.Label, EthType: v.EthType}
	case actions.PopMpls:
		return actionDTO{Kind: "pop_mpls", EthType: v.EthType}
	case actions.Set:
		return actionDTO{Kind: "set", Word: int(v.Word), Value: v.Value}
	case actions.SetMasked:
		return actionDTO{Kind: "set_masked", Word: int(v.Word), Value: v.Value, Mask: v.Mask}
	case actions.Recirculate:
		return actionDTO{Kind: "recirculate", ID: v.ID}
	case actions.Userspace:
		return actionDTO{Kind: "userspace", Userdata: v.Userdata}
	case actions.Hash:
		return actionDTO{Kind: "hash", Algorithm: v.Algorithm}
	case actions.Sample:
		return actionDTO{Kind: "sample", Probability: v.Probability, Actions: listToDTO(v.Actions)}
	case actions.Conntrack:
		return actionDTO{Kind: "conntrack"}
	default:
		return actionDTO{Kind: "unknown"}
	}
}

func listToDTO(l actions.List) []actionDTO {
	out := make([]actionDTO, 0, len(l))
	for _, a := range l {
		out = append(out, actionToDTO(a))
	}
	return out
}

func (d actionDTO) toAction() (actions.Action, error) {
	switch d.Kind {
	case "output":
		return actions.Output{Port: d.Port}, nil
	case "tunnel_push":
		return actions.TunnelPush{Data: d.Data}, nil
	case "tunnel_pop":
		return actions.TunnelPop{Port: d.Port}, nil
	case "push_vlan":
		return actions.PushVlan{TCI: d.TCI}, nil
	case "pop_vlan":
		return actions.PopVlan{}, nil
	case "push_mpls":
		return actions.PushMpls{Label: d.Label, EthType: d.EthType}, nil
	case "pop_mpls":
		return actions.PopMpls{EthType: d.EthType}, nil
	case "set":
		return actions.Set{Word: flowkey.Word(d.Word), Value: d.Value}, nil
	case "set_masked":
		return actions.SetMasked{Word: flowkey.Word(d.Word), Value: d.Value, Mask: d.Mask}, nil
	case "recirculate":
		return actions.Recirculate{ID: d.ID}, nil
	case "userspace":
		return actions.Userspace{Userdata: d.Userdata}, nil
	case "hash":
		return actions.Hash{Algorithm: d.Algorithm}, nil
	case "sample":
		nested, err := dtoToList(d.Actions)
		if err != nil {
			return nil, err
		}
		return actions.Sample{Probability: d.Probability, Actions: nested}, nil
	case "conntrack":
		return actions.Conntrack{}, nil
	default:
		return nil, dperrors.Invalid("mgmt", "decodeAction", fmt.Sprintf("unknown action kind %q", d.Kind))
	}
}

func dtoToList(ds []actionDTO) (actions.List, error) {
	out := make(actions.List, 0, len(ds))
	for _, d := range ds {
		a, err := d.toAction()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ufidToString formats a 128-bit flow id as a UUID string for the
// management boundary (§6 "keyed by flow id").
func ufidToString(u [16]byte) string {
	return uuid.UUID(u).String()
}

// ufidFromString parses a UUID-formatted flow id back into its raw bytes.
func ufidFromString(s string) ([16]byte, error) {
	var out [16]byte
	id, err := uuid.Parse(s)
	if err != nil {
		return out, dperrors.Invalid("mgmt", "decodeUfid", "malformed flow id: "+s)
	}
	copy(out[:], id[:])
	return out, nil
}
