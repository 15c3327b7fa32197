// Package dialogue implements the holding form: a four-step per-chat
// conversation collecting a cryptocurrency name, a coin count and a symbol.
package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m3rciful/holdingbot/core/telegram/state"
)

// Kind names a dialogue step in logs and in the stored encoding.
type Kind string

const (
	KindStart         Kind = "start"
	KindReceiveName   Kind = "receive_name"
	KindReceiveNo     Kind = "receive_no"
	KindReceiveSymbol Kind = "receive_symbol"
)

// State is the current step of a chat's dialogue plus the inputs collected so far.
// The concrete types are Start, ReceiveName, ReceiveNo and ReceiveSymbol.
type State interface {
	Kind() Kind
	sealed()
}

// Start is the state of a chat with no dialogue in progress.
type Start struct{}

// ReceiveName waits for the cryptocurrency name.
type ReceiveName struct{}

// ReceiveNo waits for the number of coins held.
type ReceiveNo struct {
	Name string
}

// ReceiveSymbol waits for the ticker symbol.
type ReceiveSymbol struct {
	Name     string
	Quantity uint8
}

func (Start) Kind() Kind         { return KindStart }
func (ReceiveName) Kind() Kind   { return KindReceiveName }
func (ReceiveNo) Kind() Kind     { return KindReceiveNo }
func (ReceiveSymbol) Kind() Kind { return KindReceiveSymbol }

func (Start) sealed()         {}
func (ReceiveName) sealed()   {}
func (ReceiveNo) sealed()     {}
func (ReceiveSymbol) sealed() {}

// ErrUnknownState is returned when a stored state has an unrecognised kind.
var ErrUnknownState = errors.New("dialogue: unknown state")

type wireState struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name,omitempty"`
	Quantity *uint8 `json:"quantity,omitempty"`
}

// EncodeState renders s as {"kind":...} JSON with the case's fields.
func EncodeState(s State) ([]byte, error) {
	var w wireState
	switch st := s.(type) {
	case Start:
		w.Kind = KindStart
	case ReceiveName:
		w.Kind = KindReceiveName
	case ReceiveNo:
		w = wireState{Kind: KindReceiveNo, Name: st.Name}
	case ReceiveSymbol:
		q := st.Quantity
		w = wireState{Kind: KindReceiveSymbol, Name: st.Name, Quantity: &q}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownState, s)
	}
	return json.Marshal(w)
}

// DecodeState parses the output of EncodeState.
func DecodeState(b []byte) (State, error) {
	var w wireState
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("dialogue: decode state: %w", err)
	}
	switch w.Kind {
	case KindStart:
		return Start{}, nil
	case KindReceiveName:
		return ReceiveName{}, nil
	case KindReceiveNo:
		return ReceiveNo{Name: w.Name}, nil
	case KindReceiveSymbol:
		if w.Quantity == nil {
			return nil, fmt.Errorf("dialogue: decode state: %s without quantity", w.Kind)
		}
		return ReceiveSymbol{Name: w.Name, Quantity: *w.Quantity}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, w.Kind)
	}
}

// Codec adapts EncodeState/DecodeState for byte-oriented session stores.
func Codec() state.Codec[State] {
	return state.Codec[State]{
		Marshal:   EncodeState,
		Unmarshal: DecodeState,
	}
}
