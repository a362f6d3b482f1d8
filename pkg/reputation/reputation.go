// Package reputation tracks per-account trade outcome counters.
package reputation

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Stats are the cumulative counters for one account.
type Stats struct {
	SuccessfulTrades uint64 `json:"successfulTrades"`
	FailedTrades     uint64 `json:"failedTrades"`
	DisputesWon      uint64 `json:"disputesWon"`
	DisputesLost     uint64 `json:"disputesLost"`

	// Volume by leg, summed over successful trades.
	TotalFiatVolume uint64 `json:"totalFiatVolume"`
	TotalCoinVolume uint64 `json:"totalCoinVolume"`

	// TotalReleaseLatencyMs sums settled-minus-paid times so consumers can
	// derive an average payout speed.
	TotalReleaseLatencyMs uint64 `json:"totalReleaseLatencyMs"`
}

// AvgReleaseLatencyMs returns average settled-minus-paid time.
func (s *Stats) AvgReleaseLatencyMs() uint64 {
	if s.SuccessfulTrades == 0 {
		return 0
	}
	return s.TotalReleaseLatencyMs / s.SuccessfulTrades
}

// Persister stores updated counters durably. Implemented by the escrow
// store; nil disables persistence.
type Persister interface {
	SaveStats(addr common.Address, s *Stats) error
}

// Book holds reputation counters for all accounts.
type Book struct {
	mu    sync.RWMutex
	stats map[common.Address]*Stats
	store Persister
}

func NewBook(store Persister) *Book {
	return &Book{
		stats: make(map[common.Address]*Stats),
		store: store,
	}
}

// Seed loads counters recovered from storage at startup.
func (b *Book) Seed(addr common.Address, s Stats) {
	b.mu.Lock()
	copied := s
	b.stats[addr] = &copied
	b.mu.Unlock()
}

// Get returns a copy of the account's counters.
func (b *Book) Get(addr common.Address) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.stats[addr]; ok {
		return *s
	}
	return Stats{}
}

func (b *Book) update(addr common.Address, apply func(*Stats)) {
	b.mu.Lock()
	s, ok := b.stats[addr]
	if !ok {
		s = &Stats{}
		b.stats[addr] = s
	}
	apply(s)
	snapshot := *s
	b.mu.Unlock()

	if b.store != nil {
		_ = b.store.SaveStats(addr, &snapshot)
	}
}

// RecordSuccessfulTrade credits a finalized fill, including how long the
// coin sender took to release after payment was flagged.
func (b *Book) RecordSuccessfulTrade(addr common.Address, fiatCode string, fiatAmt, coinAmt, latencyMs uint64) {
	b.update(addr, func(s *Stats) {
		s.SuccessfulTrades++
		s.TotalFiatVolume += fiatAmt
		s.TotalCoinVolume += coinAmt
		s.TotalReleaseLatencyMs += latencyMs
	})
}

// RecordDisputeOutcome records an arbitrated fill for one party.
func (b *Book) RecordDisputeOutcome(addr common.Address, won bool) {
	b.update(addr, func(s *Stats) {
		if won {
			s.DisputesWon++
		} else {
			s.DisputesLost++
		}
	})
}

// RecordFailedTrade records a fill that fell through (expiry, cancellation).
func (b *Book) RecordFailedTrade(addr common.Address) {
	b.update(addr, func(s *Stats) {
		s.FailedTrades++
	})
}
