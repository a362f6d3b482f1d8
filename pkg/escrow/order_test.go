package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testBuyOrder() *Order {
	return &Order{
		ID:             "test-buy",
		Maker:          common.HexToAddress("0xAA00000000000000000000000000000000000000"),
		Coin:           "BTC",
		IsBuy:          true,
		MinFill:        1,
		MaxFill:        10,
		FiatAmount:     1000,
		FiatCode:       "USD",
		CoinAmount:     10,
		FillDeadlineMs: 900_000,
		CoinBalance:    NewFunds(0),
	}
}

func testSellOrder() *Order {
	return &Order{
		ID:             "test-sell",
		Maker:          common.HexToAddress("0xAA00000000000000000000000000000000000000"),
		Coin:           "BTC",
		IsBuy:          false,
		MinFill:        100,
		MaxFill:        1000,
		FiatAmount:     1000,
		FiatCode:       "USD",
		CoinAmount:     10,
		FillDeadlineMs: 900_000,
		CoinBalance:    NewFunds(10),
	}
}

func TestOrderCapacity(t *testing.T) {
	buy := testBuyOrder()
	if got := buy.Capacity(); got != 10 {
		t.Errorf("buy capacity = %d, want 10 (coin)", got)
	}

	sell := testSellOrder()
	if got := sell.Capacity(); got != 1000 {
		t.Errorf("sell capacity = %d, want 1000 (fiat)", got)
	}
}

func TestOrderCheckFillAmountBounds(t *testing.T) {
	o := testBuyOrder()

	if err := o.CheckFillAmount(0); !errors.Is(err, ErrFillOutOfRange) {
		t.Errorf("below min: got %v, want ErrFillOutOfRange", err)
	}
	if err := o.CheckFillAmount(11); !errors.Is(err, ErrFillOutOfRange) {
		t.Errorf("above max: got %v, want ErrFillOutOfRange", err)
	}
	if err := o.CheckFillAmount(5); err != nil {
		t.Errorf("in-bounds fill rejected: %v", err)
	}
}

func TestOrderCheckFillAmountCapacity(t *testing.T) {
	o := testSellOrder()
	o.CompletedFill = 700

	// 400 + 0 + 700 = 1100 > 1000
	if err := o.CheckFillAmount(400); !errors.Is(err, ErrFillOutOfRange) {
		t.Errorf("overfill: got %v, want ErrFillOutOfRange", err)
	}
	if err := o.CheckFillAmount(300); err != nil {
		t.Errorf("exact remaining capacity rejected: %v", err)
	}

	// Pending fills count against capacity too.
	o.Reserve(300)
	if err := o.CheckFillAmount(100); !errors.Is(err, ErrFillOutOfRange) {
		t.Errorf("overfill with pending: got %v, want ErrFillOutOfRange", err)
	}
}

func TestOrderCounters(t *testing.T) {
	o := testBuyOrder()

	o.Reserve(5)
	if o.PendingFill != 5 {
		t.Errorf("pending = %d, want 5", o.PendingFill)
	}

	o.Complete(5)
	if o.PendingFill != 0 || o.CompletedFill != 5 {
		t.Errorf("after complete: pending=%d completed=%d, want 0/5", o.PendingFill, o.CompletedFill)
	}

	o.Reserve(3)
	o.Release(3)
	if o.PendingFill != 0 || o.CompletedFill != 5 {
		t.Errorf("after release: pending=%d completed=%d, want 0/5", o.PendingFill, o.CompletedFill)
	}
}

func TestOrderPriceRatio(t *testing.T) {
	buy := testBuyOrder()
	// 1000 fiat / 10 coin: 100 fiat per coin
	if got := buy.FiatLeg(5); got != 500 {
		t.Errorf("buy fiat leg = %d, want 500", got)
	}

	sell := testSellOrder()
	// 10 coin / 1000 fiat: 400 fiat worth 4 coin
	if got := sell.CoinLeg(400); got != 4 {
		t.Errorf("sell coin leg = %d, want 4", got)
	}
}

func TestOrderPriceRatioNoOverflow(t *testing.T) {
	o := &Order{
		IsBuy:      false,
		MinFill:    1,
		MaxFill:    1 << 60,
		FiatAmount: 1 << 60,
		CoinAmount: 1 << 60,
		CoinBalance: NewFunds(1 << 60),
	}
	// ratio is 1.0 fixed-point; the intermediate product exceeds uint64.
	if got := o.CoinLeg(1 << 60); got != 1<<60 {
		t.Errorf("coin leg = %d, want %d", got, uint64(1)<<60)
	}
}

func TestOrderValidate(t *testing.T) {
	o := testBuyOrder()
	if err := o.Validate(); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}

	bad := testBuyOrder()
	bad.MinFill = 11
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min > max")
	}

	bad = testBuyOrder()
	bad.CoinAmount = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero capacity")
	}

	bad = testBuyOrder()
	bad.PendingFill = 8
	bad.CompletedFill = 8
	if err := bad.Validate(); err == nil {
		t.Error("expected error for fills above capacity")
	}
}
