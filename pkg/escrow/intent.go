package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// FillAction is the payload staged alongside a handshake until exactly one
// terminal operation consumes it. For a buy fill Escrow holds the taker's
// coin; for a sell fill only Amount is committed and the coin stays in the
// order's balance.
type FillAction struct {
	OrderID OrderID        `json:"orderId"`
	IsBuy   bool           `json:"isBuy"`
	Taker   common.Address `json:"taker"`

	// Amount is the fill amount in the order's fill unit
	// (coin for buy fills, fiat for sell fills).
	Amount uint64 `json:"amount"`

	// Escrow is the taker's coin, held from request to consumption.
	// Nil for sell fills.
	Escrow *Funds `json:"escrow,omitempty"`
}

// intent pairs a staged outcome (the handshake) with its pending action.
type intent struct {
	outcome *Handshake
	action  *FillAction
}

type intentKey struct {
	maker common.Address
	key   string
}

// IntentRegistry stages one outcome+action pair per (maker, key) until a
// caller-supplied predicate over the outcome admits finalization. Staged
// records are consumed exactly once.
type IntentRegistry struct {
	staged map[intentKey]*intent
}

func NewIntentRegistry() *IntentRegistry {
	return &IntentRegistry{staged: make(map[intentKey]*intent)}
}

// Stage records a new intent. Fails if the key already holds an unresolved
// one, which is what makes handshake keys unique per maker account.
func (r *IntentRegistry) Stage(maker common.Address, key string, outcome *Handshake, action *FillAction) error {
	ik := intentKey{maker: maker, key: key}
	if _, exists := r.staged[ik]; exists {
		return fmt.Errorf("maker %s key %q: %w", maker.Hex(), key, ErrKeyInUse)
	}
	r.staged[ik] = &intent{outcome: outcome, action: action}
	return nil
}

// Resolve applies a mutator to the staged outcome. The action stays staged.
func (r *IntentRegistry) Resolve(maker common.Address, key string, mutate func(*Handshake) error) error {
	in, ok := r.staged[intentKey{maker: maker, key: key}]
	if !ok {
		return fmt.Errorf("maker %s key %q: %w", maker.Hex(), key, ErrNotFound)
	}
	return mutate(in.outcome)
}

// Finalize consumes the intent if the predicate admits the outcome,
// yielding the action for the caller to carry out. The record is removed,
// so a second finalization under the same key cannot happen.
func (r *IntentRegistry) Finalize(maker common.Address, key string, admit func(*Handshake) error) (*Handshake, *FillAction, error) {
	ik := intentKey{maker: maker, key: key}
	in, ok := r.staged[ik]
	if !ok {
		return nil, nil, fmt.Errorf("maker %s key %q: %w", maker.Hex(), key, ErrNotFound)
	}
	if err := admit(in.outcome); err != nil {
		return nil, nil, err
	}
	delete(r.staged, ik)
	return in.outcome, in.action, nil
}

// get returns the staged outcome and action without consuming them. The
// engine reads both under its lock to validate before finalizing.
func (r *IntentRegistry) get(maker common.Address, key string) (*Handshake, *FillAction, bool) {
	in, ok := r.staged[intentKey{maker: maker, key: key}]
	if !ok {
		return nil, nil, false
	}
	return in.outcome, in.action, true
}

// Peek returns the staged outcome for queries without consuming it.
func (r *IntentRegistry) Peek(maker common.Address, key string) (*Handshake, bool) {
	in, ok := r.staged[intentKey{maker: maker, key: key}]
	if !ok {
		return nil, false
	}
	return in.outcome, true
}

// ByMaker returns the staged outcomes for one maker account.
func (r *IntentRegistry) ByMaker(maker common.Address) []*Handshake {
	var out []*Handshake
	for ik, in := range r.staged {
		if ik.maker == maker {
			out = append(out, in.outcome)
		}
	}
	return out
}
