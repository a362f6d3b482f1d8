package escrow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/otcswap/pkg/reputation"
)

// Store is the Pebble persistence layer under the engine's in-memory
// state. Records are JSON; every committed operation writes through one
// atomic batch. Not goroutine-safe on its own: all writes go through the
// engine's lock.
type Store struct {
	db *pebble.DB
}

// storedFill pairs a live handshake with its staged action payload.
type storedFill struct {
	Handshake *Handshake  `json:"handshake"`
	Action    *FillAction `json:"action"`
}

// balanceRecord keys a ledger balance back to its owner and coin.
type balanceRecord struct {
	Addr   common.Address
	Coin   string
	Amount uint64
}

func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrders sweeps every persisted order.
func (s *Store) LoadOrders() ([]*Order, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefixAll(),
		UpperBound: keyUpperBound(orderPrefixAll()),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // Skip invalid entries
		}
		if o.CoinBalance == nil {
			o.CoinBalance = NewFunds(0)
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

// LoadFills sweeps every live handshake with its staged action.
func (s *Store) LoadFills() ([]*Handshake, []*FillAction, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: fillPrefixAll(),
		UpperBound: keyUpperBound(fillPrefixAll()),
	})
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	var hss []*Handshake
	var actions []*FillAction
	for iter.First(); iter.Valid(); iter.Next() {
		var f storedFill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		if f.Handshake == nil || f.Action == nil {
			continue
		}
		hss = append(hss, f.Handshake)
		actions = append(actions, f.Action)
	}
	return hss, actions, nil
}

// LoadBalances sweeps every ledger balance.
func (s *Store) LoadBalances() ([]balanceRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: balPrefixAll(),
		UpperBound: keyUpperBound(balPrefixAll()),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []balanceRecord
	for iter.First(); iter.Valid(); iter.Next() {
		addr, coin, ok := parseBalKey(iter.Key())
		if !ok {
			continue
		}
		var amount uint64
		if err := json.Unmarshal(iter.Value(), &amount); err != nil {
			continue
		}
		out = append(out, balanceRecord{Addr: addr, Coin: coin, Amount: amount})
	}
	return out, nil
}

// LoadAllStats sweeps persisted reputation counters.
func (s *Store) LoadAllStats() (map[common.Address]reputation.Stats, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: repPrefixAll(),
		UpperBound: keyUpperBound(repPrefixAll()),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[common.Address]reputation.Stats)
	for iter.First(); iter.Valid(); iter.Next() {
		addrHex := strings.TrimPrefix(string(iter.Key()), prefixRep)
		if !common.IsHexAddress(addrHex) {
			continue
		}
		var stats reputation.Stats
		if err := json.Unmarshal(iter.Value(), &stats); err != nil {
			continue
		}
		out[common.HexToAddress(addrHex)] = stats
	}
	return out, nil
}

// SaveStats implements reputation.Persister.
func (s *Store) SaveStats(addr common.Address, stats *reputation.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := s.db.Set(repKey(addr), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

func parseBalKey(key []byte) (common.Address, string, bool) {
	rest := strings.TrimPrefix(string(key), prefixBal)
	addrHex, coin, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(addrHex) {
		return common.Address{}, "", false
	}
	return common.HexToAddress(addrHex), coin, true
}

// Batch accumulates the writes of one engine operation for an atomic,
// synced commit.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) SetOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.Maker, o.ID), data, nil)
}

func (b *Batch) DeleteOrder(maker common.Address, id OrderID) error {
	return b.batch.Delete(orderKey(maker, id), nil)
}

func (b *Batch) SetFill(hs *Handshake, action *FillAction) error {
	data, err := json.Marshal(storedFill{Handshake: hs, Action: action})
	if err != nil {
		return err
	}
	return b.batch.Set(fillKey(hs.Maker, hs.Key), data, nil)
}

func (b *Batch) DeleteFill(maker common.Address, key string) error {
	return b.batch.Delete(fillKey(maker, key), nil)
}

func (b *Batch) SetBalance(addr common.Address, coin string, amount uint64) error {
	data, err := json.Marshal(amount)
	if err != nil {
		return err
	}
	return b.batch.Set(balKey(addr, coin), data, nil)
}

func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *Batch) Close() error {
	return b.batch.Close()
}
