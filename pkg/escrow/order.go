package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale for the derived price ratio.
const PriceScale = 1_000_000_000

// OrderID is the unique identifier for an order.
// Format: {maker}-ord-{coin}-{created_at_ms}
type OrderID string

// Order is a maker's standing offer to buy or sell a coin against fiat.
// A buy order acquires coin and pays fiat off-ledger; a sell order holds
// its full coin capacity in CoinBalance from creation. Fill capacity is
// tracked with aggregate counters shared by all concurrent fills.
type Order struct {
	ID    OrderID        `json:"id"`
	Maker common.Address `json:"maker"`
	Coin  string         `json:"coin"` // coin symbol, e.g. "BTC"

	// IsBuy is true when the maker wants to acquire the coin.
	IsBuy bool `json:"isBuy"`

	// MinFill and MaxFill bound every individual fill amount
	// (units: coin for buy orders, fiat for sell orders).
	MinFill uint64 `json:"minFill"`
	MaxFill uint64 `json:"maxFill"`

	FiatAmount uint64 `json:"fiatAmount"` // total fiat capacity
	FiatCode   string `json:"fiatCode"`   // e.g. "USD"
	CoinAmount uint64 `json:"coinAmount"` // total coin capacity

	// FillDeadlineMs is the payment window each taker gets, measured from
	// fill-request time.
	FillDeadlineMs int64 `json:"fillDeadlineMs"`

	// CoinBalance is the coin currently escrowed by the order. Zero for a
	// fresh buy order; the full CoinAmount for a fresh sell order.
	CoinBalance *Funds `json:"coinBalance"`

	// PendingFill is the sum of amounts reserved by unresolved fills;
	// CompletedFill the sum already finalized. At all times
	// PendingFill + CompletedFill <= Capacity().
	PendingFill   uint64 `json:"pendingFill"`
	CompletedFill uint64 `json:"completedFill"`

	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
	Version   uint64 `json:"version"`   // bumped on every persisted mutation
}

// Capacity returns the total fillable amount: coin for buy orders, fiat
// for sell orders.
func (o *Order) Capacity() uint64 {
	if o.IsBuy {
		return o.CoinAmount
	}
	return o.FiatAmount
}

// RemainingCapacity returns capacity not yet reserved or completed.
func (o *Order) RemainingCapacity() uint64 {
	return o.Capacity() - o.PendingFill - o.CompletedFill
}

// CheckFillAmount validates a single fill amount against the order's
// bounds and remaining capacity. It mutates nothing.
func (o *Order) CheckFillAmount(amount uint64) error {
	if amount < o.MinFill || amount > o.MaxFill {
		return fmt.Errorf("amount %d outside bounds [%d, %d]: %w", amount, o.MinFill, o.MaxFill, ErrFillOutOfRange)
	}
	if amount > o.RemainingCapacity() {
		return fmt.Errorf("amount %d exceeds remaining capacity %d: %w", amount, o.RemainingCapacity(), ErrFillOutOfRange)
	}
	return nil
}

// Reserve marks amount as held by an in-flight fill. Callers must have
// passed CheckFillAmount under the same engine lock.
func (o *Order) Reserve(amount uint64) {
	o.PendingFill += amount
}

// Release returns a reserved amount (fill aborted: expiry, cancel, dispute).
func (o *Order) Release(amount uint64) {
	o.PendingFill -= amount
}

// Complete moves a reserved amount to the completed counter.
func (o *Order) Complete(amount uint64) {
	o.PendingFill -= amount
	o.CompletedFill += amount
}

// PriceRatio returns the fixed-point conversion ratio between the order's
// fill unit and its opposite leg. Price is always derived, never stored.
func (o *Order) PriceRatio() uint64 {
	if o.IsBuy {
		return mulDiv(o.FiatAmount, PriceScale, o.CoinAmount)
	}
	return mulDiv(o.CoinAmount, PriceScale, o.FiatAmount)
}

// CoinLeg converts a sell order's fiat fill amount into the coin owed to
// the taker.
func (o *Order) CoinLeg(fiatAmount uint64) uint64 {
	return mulDiv(fiatAmount, o.PriceRatio(), PriceScale)
}

// FiatLeg converts a buy order's coin fill amount into its fiat equivalent.
func (o *Order) FiatLeg(coinAmount uint64) uint64 {
	return mulDiv(coinAmount, o.PriceRatio(), PriceScale)
}

// mulDiv computes a*b/c without intermediate uint64 overflow.
func mulDiv(a, b, c uint64) uint64 {
	out := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	out.Quo(out, new(big.Int).SetUint64(c))
	return out.Uint64()
}

// Validate checks order invariants.
func (o *Order) Validate() error {
	if o.CoinAmount == 0 || o.FiatAmount == 0 {
		return fmt.Errorf("zero capacity: coin=%d fiat=%d", o.CoinAmount, o.FiatAmount)
	}
	if o.MinFill == 0 || o.MinFill > o.MaxFill {
		return fmt.Errorf("bad fill bounds [%d, %d]", o.MinFill, o.MaxFill)
	}
	if o.MaxFill > o.Capacity() {
		return fmt.Errorf("max fill %d exceeds capacity %d", o.MaxFill, o.Capacity())
	}
	if o.PendingFill+o.CompletedFill > o.Capacity() {
		return fmt.Errorf("fills %d+%d exceed capacity %d", o.PendingFill, o.CompletedFill, o.Capacity())
	}
	if o.IsBuy && o.CoinBalance.Amount() > o.CoinAmount {
		return fmt.Errorf("buy order balance %d exceeds coin amount %d", o.CoinBalance.Amount(), o.CoinAmount)
	}
	return nil
}
