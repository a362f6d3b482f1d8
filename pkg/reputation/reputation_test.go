package reputation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var trader = common.HexToAddress("0x1234000000000000000000000000000000000000")

type recordingPersister struct {
	saves map[common.Address]Stats
}

func (p *recordingPersister) SaveStats(addr common.Address, s *Stats) error {
	if p.saves == nil {
		p.saves = make(map[common.Address]Stats)
	}
	p.saves[addr] = *s
	return nil
}

func TestRecordSuccessfulTrade(t *testing.T) {
	b := NewBook(nil)

	b.RecordSuccessfulTrade(trader, "USD", 500, 5, 120_000)
	b.RecordSuccessfulTrade(trader, "USD", 300, 3, 60_000)

	s := b.Get(trader)
	if s.SuccessfulTrades != 2 {
		t.Errorf("trades = %d, want 2", s.SuccessfulTrades)
	}
	if s.TotalFiatVolume != 800 || s.TotalCoinVolume != 8 {
		t.Errorf("volume = %d/%d, want 800/8", s.TotalFiatVolume, s.TotalCoinVolume)
	}
	if got := s.AvgReleaseLatencyMs(); got != 90_000 {
		t.Errorf("avg latency = %d, want 90000", got)
	}
}

func TestRecordDisputeAndFailure(t *testing.T) {
	b := NewBook(nil)

	b.RecordDisputeOutcome(trader, true)
	b.RecordDisputeOutcome(trader, false)
	b.RecordFailedTrade(trader)

	s := b.Get(trader)
	if s.DisputesWon != 1 || s.DisputesLost != 1 {
		t.Errorf("disputes = %d/%d, want 1/1", s.DisputesWon, s.DisputesLost)
	}
	if s.FailedTrades != 1 {
		t.Errorf("failed = %d, want 1", s.FailedTrades)
	}
}

func TestGetUnknownAddress(t *testing.T) {
	b := NewBook(nil)
	if s := b.Get(trader); s != (Stats{}) {
		t.Errorf("unknown address stats = %+v, want zero", s)
	}
}

func TestAvgLatencyNoTrades(t *testing.T) {
	var s Stats
	if got := s.AvgReleaseLatencyMs(); got != 0 {
		t.Errorf("avg latency with no trades = %d, want 0", got)
	}
}

func TestSeedRestoresState(t *testing.T) {
	b := NewBook(nil)
	b.Seed(trader, Stats{SuccessfulTrades: 5, TotalCoinVolume: 50})

	b.RecordSuccessfulTrade(trader, "USD", 100, 1, 1000)
	s := b.Get(trader)
	if s.SuccessfulTrades != 6 || s.TotalCoinVolume != 51 {
		t.Errorf("seeded counters lost: %+v", s)
	}
}

func TestPersisterCalledOnUpdate(t *testing.T) {
	p := &recordingPersister{}
	b := NewBook(p)

	b.RecordFailedTrade(trader)

	saved, ok := p.saves[trader]
	if !ok {
		t.Fatal("persister never called")
	}
	if saved.FailedTrades != 1 {
		t.Errorf("persisted failed = %d, want 1", saved.FailedTrades)
	}
}
