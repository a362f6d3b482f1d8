package escrow

import (
	"encoding/json"
	"fmt"
)

// Funds is an owned coin quantity. Value enters a Funds when it is escrowed
// and can only leave through Split, Merge, or Withdraw, so every unit is
// accounted for on each exit path. A Funds must end at zero: Consume checks
// the remainder and fails loudly if value would be dropped on the floor.
type Funds struct {
	remaining uint64
}

func NewFunds(amount uint64) *Funds {
	return &Funds{remaining: amount}
}

func (f *Funds) Amount() uint64 {
	if f == nil {
		return 0
	}
	return f.remaining
}

// Split moves amount out of f into a new Funds.
func (f *Funds) Split(amount uint64) (*Funds, error) {
	if amount > f.remaining {
		return nil, fmt.Errorf("split %d from %d: %w", amount, f.remaining, ErrInsufficientBalance)
	}
	f.remaining -= amount
	return &Funds{remaining: amount}, nil
}

// Merge drains other into f, leaving other empty.
func (f *Funds) Merge(other *Funds) {
	if other == nil {
		return
	}
	f.remaining += other.remaining
	other.remaining = 0
}

// Withdraw empties f and returns the full amount for crediting elsewhere.
func (f *Funds) Withdraw() uint64 {
	amount := f.remaining
	f.remaining = 0
	return amount
}

// Consume asserts f has been fully drained. Call it at the end of every
// path that takes ownership of a Funds.
func (f *Funds) Consume() error {
	if f == nil {
		return nil
	}
	if f.remaining != 0 {
		return fmt.Errorf("consuming funds with %d remaining", f.remaining)
	}
	return nil
}

func (f *Funds) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Amount())
}

func (f *Funds) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &f.remaining)
}
