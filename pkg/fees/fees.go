// Package fees holds the coin/fiat allow-lists and the basis-point fee
// schedule skimmed from coin leaving escrow.
package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTotalBps bounds the combined collector rate. 10000 bps = 100%; the
// schedule must stay strictly below half of released value.
const MaxTotalBps = 5000

var (
	ErrCoinNotAllowed = errors.New("coin type not allow-listed")
	ErrFiatNotAllowed = errors.New("fiat code not allow-listed")
)

// Collector receives Bps basis points of every coin amount leaving escrow.
type Collector struct {
	Addr common.Address
	Bps  uint64
}

// Payout is one collector's cut of a released amount.
type Payout struct {
	Addr   common.Address
	Amount uint64
}

// Schedule validates coin/fiat codes and computes fee splits.
type Schedule struct {
	coins      map[string]bool
	fiats      map[string]bool
	collectors []Collector
}

func NewSchedule(coins, fiats []string, collectors []Collector) (*Schedule, error) {
	var total uint64
	for _, c := range collectors {
		total += c.Bps
	}
	if total >= MaxTotalBps {
		return nil, fmt.Errorf("total fee %d bps >= %d bps cap", total, MaxTotalBps)
	}

	s := &Schedule{
		coins:      make(map[string]bool, len(coins)),
		fiats:      make(map[string]bool, len(fiats)),
		collectors: collectors,
	}
	for _, c := range coins {
		s.coins[c] = true
	}
	for _, f := range fiats {
		s.fiats[f] = true
	}
	return s, nil
}

func (s *Schedule) AssertCoinAllowed(symbol string) error {
	if !s.coins[symbol] {
		return fmt.Errorf("%q: %w", symbol, ErrCoinNotAllowed)
	}
	return nil
}

func (s *Schedule) AssertFiatAllowed(code string) error {
	if !s.fiats[code] {
		return fmt.Errorf("%q: %w", code, ErrFiatNotAllowed)
	}
	return nil
}

// Collect computes each collector's cut of amount. The returned total is
// the sum of payouts; the caller moves total out of the released funds and
// credits each payout. Rounding is per collector, truncating down, so the
// fee never exceeds the configured rate.
func (s *Schedule) Collect(amount uint64) (total uint64, payouts []Payout) {
	for _, c := range s.collectors {
		cut := bpsCut(amount, c.Bps)
		if cut == 0 {
			continue
		}
		payouts = append(payouts, Payout{Addr: c.Addr, Amount: cut})
		total += cut
	}
	return total, payouts
}

// bpsCut computes amount*bps/10000 without intermediate overflow.
func bpsCut(amount, bps uint64) uint64 {
	cut := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(bps))
	cut.Quo(cut, big.NewInt(10000))
	return cut.Uint64()
}

// Collectors returns the configured schedule for inspection.
func (s *Schedule) Collectors() []Collector {
	out := make([]Collector, len(s.collectors))
	copy(out, s.collectors)
	return out
}
