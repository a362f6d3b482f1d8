package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// HandshakeStatus is the lifecycle state of a single fill's confirmation
// handshake.
type HandshakeStatus uint8

const (
	// StatusRequested: fill admitted, capacity reserved, waiting for the
	// fiat sender to confirm off-ledger payment.
	StatusRequested HandshakeStatus = iota
	// StatusPaid: fiat sender attests payment was sent.
	StatusPaid
	// StatusSettled: coin sender confirms receipt; fill may finalize.
	StatusSettled
	// StatusDisputed: either party escalated; only an admin can resolve.
	StatusDisputed
)

func (s HandshakeStatus) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusPaid:
		return "paid"
	case StatusSettled:
		return "settled"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

func (s HandshakeStatus) Valid() bool {
	return s <= StatusDisputed
}

// Handshake is the two-party confirmation state machine for one in-flight
// fill. The fiat leg and coin leg are sets because a maker account may have
// several authorized signers. Exactly one of finalize, dispute resolution,
// expiry, or cancellation consumes it.
type Handshake struct {
	Key     string         `json:"key"` // unique per maker account while live
	Maker   common.Address `json:"maker"`
	OrderID OrderID        `json:"orderId"`

	FiatSenders []common.Address `json:"fiatSenders"`
	CoinSenders []common.Address `json:"coinSenders"`

	Status HandshakeStatus `json:"status"`

	// PaymentDeadlineMs is set by the engine to request time plus the
	// order's fill window. Callers cannot extend their own window.
	PaymentDeadlineMs int64 `json:"paymentDeadlineMs"`

	FiatAmount uint64 `json:"fiatAmount"`
	CoinAmount uint64 `json:"coinAmount"`

	RequestedAt int64 `json:"requestedAt"` // Unix milliseconds
	PaidAt      int64 `json:"paidAt"`
	SettledAt   int64 `json:"settledAt"`
}

// HasFiatSender reports whether addr is on the fiat leg.
func (h *Handshake) HasFiatSender(addr common.Address) bool {
	return containsAddress(h.FiatSenders, addr)
}

// HasCoinSender reports whether addr is on the coin leg.
func (h *Handshake) HasCoinSender(addr common.Address) bool {
	return containsAddress(h.CoinSenders, addr)
}

// IsParty reports whether addr is on either leg.
func (h *Handshake) IsParty(addr common.Address) bool {
	return h.HasFiatSender(addr) || h.HasCoinSender(addr)
}

// MarkPaid transitions Requested -> Paid. Only a fiat sender may flag, and
// only inside the payment window.
func (h *Handshake) MarkPaid(caller common.Address, nowMs int64) error {
	if h.Status != StatusRequested {
		return fmt.Errorf("flag paid on %s handshake: %w", h.Status, ErrWrongState)
	}
	if !h.HasFiatSender(caller) {
		return fmt.Errorf("%s is not a fiat sender: %w", caller.Hex(), ErrWrongRole)
	}
	if nowMs > h.PaymentDeadlineMs {
		return fmt.Errorf("now=%d deadline=%d: %w", nowMs, h.PaymentDeadlineMs, ErrWindowExpired)
	}
	h.Status = StatusPaid
	h.PaidAt = nowMs
	return nil
}

// MarkSettled transitions Paid -> Settled. Only a coin sender may flag.
func (h *Handshake) MarkSettled(caller common.Address, nowMs int64) error {
	if h.Status != StatusPaid {
		return fmt.Errorf("flag settled on %s handshake: %w", h.Status, ErrWrongState)
	}
	if !h.HasCoinSender(caller) {
		return fmt.Errorf("%s is not a coin sender: %w", caller.Hex(), ErrWrongRole)
	}
	h.Status = StatusSettled
	h.SettledAt = nowMs
	return nil
}

// MarkDisputed transitions Requested|Paid -> Disputed. Either party may
// escalate.
func (h *Handshake) MarkDisputed(caller common.Address) error {
	if h.Status != StatusRequested && h.Status != StatusPaid {
		return fmt.Errorf("dispute on %s handshake: %w", h.Status, ErrWrongState)
	}
	if !h.IsParty(caller) {
		return fmt.Errorf("%s is not a party to the fill: %w", caller.Hex(), ErrWrongRole)
	}
	h.Status = StatusDisputed
	return nil
}

// Expired reports whether the handshake sits unconfirmed past its deadline.
func (h *Handshake) Expired(nowMs int64) bool {
	return h.Status == StatusRequested && nowMs > h.PaymentDeadlineMs
}

func containsAddress(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}
