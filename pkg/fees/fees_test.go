package fees

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	c1 = common.HexToAddress("0x0100000000000000000000000000000000000000")
	c2 = common.HexToAddress("0x0200000000000000000000000000000000000000")
)

func TestNewScheduleRejectsExcessiveFees(t *testing.T) {
	_, err := NewSchedule(nil, nil, []Collector{
		{Addr: c1, Bps: 3000},
		{Addr: c2, Bps: 2000},
	})
	if err == nil {
		t.Fatal("expected error for 5000 bps total")
	}

	if _, err := NewSchedule(nil, nil, []Collector{{Addr: c1, Bps: 4999}}); err != nil {
		t.Errorf("4999 bps rejected: %v", err)
	}
}

func TestAllowLists(t *testing.T) {
	s, err := NewSchedule([]string{"BTC", "ETH"}, []string{"USD"}, nil)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}

	if err := s.AssertCoinAllowed("BTC"); err != nil {
		t.Errorf("BTC rejected: %v", err)
	}
	if err := s.AssertCoinAllowed("DOGE"); !errors.Is(err, ErrCoinNotAllowed) {
		t.Errorf("DOGE: got %v, want ErrCoinNotAllowed", err)
	}
	if err := s.AssertFiatAllowed("USD"); err != nil {
		t.Errorf("USD rejected: %v", err)
	}
	if err := s.AssertFiatAllowed("EUR"); !errors.Is(err, ErrFiatNotAllowed) {
		t.Errorf("EUR: got %v, want ErrFiatNotAllowed", err)
	}
}

func TestCollectSplits(t *testing.T) {
	s, err := NewSchedule(nil, nil, []Collector{
		{Addr: c1, Bps: 100}, // 1%
		{Addr: c2, Bps: 50},  // 0.5%
	})
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}

	total, payouts := s.Collect(10_000)
	if total != 150 {
		t.Errorf("total = %d, want 150", total)
	}
	if len(payouts) != 2 {
		t.Fatalf("got %d payouts, want 2", len(payouts))
	}
	if payouts[0].Addr != c1 || payouts[0].Amount != 100 {
		t.Errorf("payout[0] = %+v, want c1/100", payouts[0])
	}
	if payouts[1].Addr != c2 || payouts[1].Amount != 50 {
		t.Errorf("payout[1] = %+v, want c2/50", payouts[1])
	}
}

func TestCollectTruncatesDown(t *testing.T) {
	s, _ := NewSchedule(nil, nil, []Collector{{Addr: c1, Bps: 100}})

	// 1% of 99 truncates to zero: no payout entry at all.
	total, payouts := s.Collect(99)
	if total != 0 || len(payouts) != 0 {
		t.Errorf("got total=%d payouts=%d, want 0/none", total, len(payouts))
	}
}

func TestCollectLargeAmountNoOverflow(t *testing.T) {
	s, _ := NewSchedule(nil, nil, []Collector{{Addr: c1, Bps: 250}})

	amount := uint64(9_000_000_000_000_000_000)
	total, _ := s.Collect(amount)
	want := amount / 10000 * 250 // exact: amount is a multiple of 10000
	if total != want {
		t.Errorf("total = %d, want %d", total, want)
	}
}

func TestCollectNoCollectors(t *testing.T) {
	s, _ := NewSchedule(nil, nil, nil)
	total, payouts := s.Collect(1_000_000)
	if total != 0 || payouts != nil {
		t.Errorf("got total=%d payouts=%v, want zero", total, payouts)
	}
}
