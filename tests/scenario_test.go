package tests

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otcswap/pkg/auth"
	"github.com/uhyunpark/otcswap/pkg/escrow"
	"github.com/uhyunpark/otcswap/pkg/fees"
	"github.com/uhyunpark/otcswap/pkg/reputation"
	"github.com/uhyunpark/otcswap/pkg/util"
)

var (
	maker     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	taker2    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	arbiter   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	collector = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

type fixture struct {
	engine *escrow.Engine
	clock  *util.ManualClock
	auth   *auth.Registry
	rep    *reputation.Book
}

func newFixture(t *testing.T, collectors ...fees.Collector) *fixture {
	t.Helper()

	store, err := escrow.NewStore(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	schedule, err := fees.NewSchedule([]string{"BTC"}, []string{"USD"}, collectors)
	require.NoError(t, err)

	reg := auth.NewRegistry()
	reg.RegisterAccount(maker)
	reg.RegisterAdmin(arbiter)

	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	engine := escrow.NewEngine(escrow.EngineConfig{
		Store:           store,
		Auth:            reg,
		Fees:            schedule,
		Reputation:      reputation.NewBook(store),
		Clock:           clock,
		MinFillDeadline: 15 * time.Minute,
	})

	return &fixture{engine: engine, clock: clock, auth: reg, rep: engine.Reputation()}
}

func (f *fixture) proof(t *testing.T) auth.MemberProof {
	t.Helper()
	p, err := f.auth.Authenticate(maker, maker)
	require.NoError(t, err)
	return p
}

func (f *fixture) newBuyOrder(t *testing.T) *escrow.Order {
	t.Helper()
	order, err := f.engine.CreateOrder(f.proof(t), escrow.OrderParams{
		Maker: maker, Coin: "BTC", IsBuy: true,
		MinFill: 1, MaxFill: 10,
		FiatAmount: 1000, FiatCode: "USD", CoinAmount: 10,
		FillDeadlineMs: 900_000,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) newSellOrder(t *testing.T) *escrow.Order {
	t.Helper()
	require.NoError(t, f.engine.Deposit(maker, "BTC", 10))
	order, err := f.engine.CreateOrder(f.proof(t), escrow.OrderParams{
		Maker: maker, Coin: "BTC", IsBuy: false,
		MinFill: 100, MaxFill: 1000,
		FiatAmount: 1000, FiatCode: "USD", CoinAmount: 10,
		EscrowAmount:   10,
		FillDeadlineMs: 900_000,
	})
	require.NoError(t, err)
	return order
}

// A maker buying coin: the taker escrows 5 BTC, the maker pays 500 USD
// off-ledger, and finalization moves the coin into the order.
func TestBuyOrderHappyPath(t *testing.T) {
	f := newFixture(t)
	order := f.newBuyOrder(t)
	require.NoError(t, f.engine.Deposit(taker, "BTC", 5))

	key, err := f.engine.RequestFillBuy(taker, order.ID, 5, 0)
	require.NoError(t, err)
	assert.Zero(t, f.engine.Balance(taker, "BTC"), "taker coin escrowed at request")

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.engine.FlagPaid(maker, maker, key))

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.engine.FlagSettled(taker, maker, key))

	require.NoError(t, f.engine.ExecuteFillBuy(maker, key))

	got, err := f.engine.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.CoinBalance.Amount())
	assert.Zero(t, got.PendingFill)
	assert.Equal(t, uint64(5), got.CompletedFill)

	// Both sides earn a successful trade; release latency is settle - paid.
	for _, addr := range []common.Address{maker, taker} {
		stats := f.rep.Get(addr)
		assert.Equal(t, uint64(1), stats.SuccessfulTrades, addr.Hex())
		assert.Equal(t, uint64(3*60*1000), stats.AvgReleaseLatencyMs(), addr.Hex())
	}

	// The handshake is gone once executed.
	_, err = f.engine.GetHandshake(maker, key)
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

// Concurrent fills may not oversubscribe capacity: with 400 of 1000 fiat
// reserved, a 700 request must fail even though 700 is within the fill
// bounds.
func TestConcurrentFillsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	order := f.newSellOrder(t)

	_, err := f.engine.RequestFillSell(taker, order.ID, 400, 0)
	require.NoError(t, err)

	_, err = f.engine.RequestFillSell(taker2, order.ID, 700, 0)
	assert.ErrorIs(t, err, escrow.ErrFillOutOfRange)

	// 600 still fits.
	_, err = f.engine.RequestFillSell(taker2, order.ID, 600, 0)
	assert.NoError(t, err)
}

// An unconfirmed fill whose payment window lapses refunds the taker in
// full and penalizes both parties.
func TestExpiredFillRefundsTaker(t *testing.T) {
	f := newFixture(t)
	order := f.newBuyOrder(t)
	require.NoError(t, f.engine.Deposit(taker, "BTC", 5))

	key, err := f.engine.RequestFillBuy(taker, order.ID, 5, 0)
	require.NoError(t, err)

	f.clock.Advance(900_000*time.Millisecond + time.Millisecond)
	require.NoError(t, f.engine.ResolveExpiredFill(maker, key))

	assert.Equal(t, uint64(5), f.engine.Balance(taker, "BTC"))
	got, err := f.engine.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PendingFill)
	assert.Equal(t, uint64(1), f.rep.Get(maker).FailedTrades)
	assert.Equal(t, uint64(1), f.rep.Get(taker).FailedTrades)
}

// A sell order partially filled for 400 fiat releases 4 of its 10 coin;
// destroying the remainder returns the other 6 to the maker.
func TestPartialFillThenDestroy(t *testing.T) {
	f := newFixture(t)
	order := f.newSellOrder(t)

	key, err := f.engine.RequestFillSell(taker, order.ID, 400, 0)
	require.NoError(t, err)
	require.NoError(t, f.engine.FlagPaid(taker, maker, key))
	require.NoError(t, f.engine.FlagSettled(maker, maker, key))
	require.NoError(t, f.engine.ExecuteFillSell(maker, key))

	assert.Equal(t, uint64(4), f.engine.Balance(taker, "BTC"))

	refund, err := f.engine.DestroyOrder(f.proof(t), order.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), refund)
	assert.Equal(t, uint64(6), f.engine.Balance(maker, "BTC"))

	_, err = f.engine.GetOrder(order.ID)
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

// A disputed buy fill resolved for the taker returns the escrowed coin
// and marks the loss on the maker's record.
func TestDisputeResolvedForTaker(t *testing.T) {
	f := newFixture(t)
	order := f.newBuyOrder(t)
	require.NoError(t, f.engine.Deposit(taker, "BTC", 5))

	key, err := f.engine.RequestFillBuy(taker, order.ID, 5, 0)
	require.NoError(t, err)
	require.NoError(t, f.engine.FlagPaid(maker, maker, key))
	require.NoError(t, f.engine.FlagDisputed(taker, maker, key))

	// Once disputed, the normal path is closed.
	err = f.engine.FlagSettled(taker, maker, key)
	assert.ErrorIs(t, err, escrow.ErrWrongState)

	adminProof, err := f.auth.AuthenticateAdmin(arbiter)
	require.NoError(t, err)
	require.NoError(t, f.engine.ResolveDispute(adminProof, maker, key, taker))

	assert.Equal(t, uint64(5), f.engine.Balance(taker, "BTC"))
	got, err := f.engine.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PendingFill)
	assert.Zero(t, got.CoinBalance.Amount())

	assert.Equal(t, uint64(1), f.rep.Get(taker).DisputesWon)
	assert.Equal(t, uint64(1), f.rep.Get(maker).DisputesLost)
}

// Fees scale linearly with released coin and are skimmed only when coin
// actually leaves escrow.
func TestFeeProportionality(t *testing.T) {
	f := newFixture(t, fees.Collector{Addr: collector, Bps: 200}) // 2%

	require.NoError(t, f.engine.Deposit(maker, "BTC", 10_000))
	order, err := f.engine.CreateOrder(f.proof(t), escrow.OrderParams{
		Maker: maker, Coin: "BTC", IsBuy: false,
		MinFill: 100, MaxFill: 1_000_000,
		FiatAmount: 1_000_000, FiatCode: "USD", CoinAmount: 10_000,
		EscrowAmount:   10_000,
		FillDeadlineMs: 900_000,
	})
	require.NoError(t, err)

	settle := func(t *testing.T, who common.Address, fiatAmt uint64) {
		t.Helper()
		key, err := f.engine.RequestFillSell(who, order.ID, fiatAmt, 0)
		require.NoError(t, err)
		require.NoError(t, f.engine.FlagPaid(who, maker, key))
		require.NoError(t, f.engine.FlagSettled(maker, maker, key))
		require.NoError(t, f.engine.ExecuteFillSell(maker, key))
	}

	settle(t, taker, 100_000) // 1000 coin out, 20 fee
	assert.Equal(t, uint64(20), f.engine.Balance(collector, "BTC"))
	assert.Equal(t, uint64(980), f.engine.Balance(taker, "BTC"))

	settle(t, taker2, 200_000) // 2000 coin out, 40 more fee
	assert.Equal(t, uint64(60), f.engine.Balance(collector, "BTC"))
	assert.Equal(t, uint64(1960), f.engine.Balance(taker2, "BTC"))
}

// State survives a process restart: orders, live fills, balances, and
// reputation all come back from the store.
func TestRestartRecovery(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "escrow.db")

	store, err := escrow.NewStore(dbPath)
	require.NoError(t, err)

	schedule, err := fees.NewSchedule([]string{"BTC"}, []string{"USD"}, nil)
	require.NoError(t, err)
	reg := auth.NewRegistry()
	reg.RegisterAccount(maker)
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))

	engine := escrow.NewEngine(escrow.EngineConfig{
		Store: store, Auth: reg, Fees: schedule,
		Reputation: reputation.NewBook(store),
		Clock:      clock, MinFillDeadline: 15 * time.Minute,
	})

	require.NoError(t, engine.Deposit(maker, "BTC", 10))
	proof, err := reg.Authenticate(maker, maker)
	require.NoError(t, err)
	order, err := engine.CreateOrder(proof, escrow.OrderParams{
		Maker: maker, Coin: "BTC", IsBuy: false,
		MinFill: 100, MaxFill: 1000,
		FiatAmount: 1000, FiatCode: "USD", CoinAmount: 10,
		EscrowAmount:   10,
		FillDeadlineMs: 900_000,
	})
	require.NoError(t, err)
	key, err := engine.RequestFillSell(taker, order.ID, 400, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Second process.
	store2, err := escrow.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	book := reputation.NewBook(store2)
	stats, err := store2.LoadAllStats()
	require.NoError(t, err)
	for addr, s := range stats {
		book.Seed(addr, s)
	}

	engine2 := escrow.NewEngine(escrow.EngineConfig{
		Store: store2, Auth: reg, Fees: schedule,
		Reputation: book, Clock: clock, MinFillDeadline: 15 * time.Minute,
	})
	require.NoError(t, engine2.Load())

	got, err := engine2.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got.PendingFill)
	assert.Equal(t, uint64(10), got.CoinBalance.Amount())

	hs, err := engine2.GetHandshake(maker, key)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRequested, hs.Status)

	// The recovered fill runs to completion.
	require.NoError(t, engine2.FlagPaid(taker, maker, key))
	require.NoError(t, engine2.FlagSettled(maker, maker, key))
	require.NoError(t, engine2.ExecuteFillSell(maker, key))
	assert.Equal(t, uint64(4), engine2.Balance(taker, "BTC"))
}
