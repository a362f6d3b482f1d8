package escrow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/otcswap/pkg/auth"
	"github.com/uhyunpark/otcswap/pkg/fees"
	"github.com/uhyunpark/otcswap/pkg/reputation"
	"github.com/uhyunpark/otcswap/pkg/util"
)

// Engine executes every order and handshake operation as one serialized
// atomic step: validate everything, then mutate, then persist through a
// single batch. The mutex stands in for the host ledger's total order of
// transactions, so capacity counters never race. Deadlines are gates
// checked inside each operation, never timers.
type Engine struct {
	mu sync.Mutex

	log   *zap.SugaredLogger
	clock util.Clock
	store *Store
	auth  *auth.Registry
	fees  *fees.Schedule
	rep   *reputation.Book
	feed  *Feed

	minFillDeadline time.Duration

	orders  map[OrderID]*Order
	perCoin map[makerCoin]OrderID // one live order per (maker, coin)
	intents *IntentRegistry

	// balances is the coin ledger: deposits in, releases and refunds out.
	balances map[common.Address]map[string]uint64
}

type makerCoin struct {
	maker common.Address
	coin  string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store           *Store
	Auth            *auth.Registry
	Fees            *fees.Schedule
	Reputation      *reputation.Book
	Feed            *Feed
	Clock           util.Clock
	Logger          *zap.Logger
	MinFillDeadline time.Duration
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Feed == nil {
		cfg.Feed = NewFeed()
	}
	return &Engine{
		log:             cfg.Logger.Sugar().Named("engine"),
		clock:           cfg.Clock,
		store:           cfg.Store,
		auth:            cfg.Auth,
		fees:            cfg.Fees,
		rep:             cfg.Reputation,
		feed:            cfg.Feed,
		minFillDeadline: cfg.MinFillDeadline,
		orders:          make(map[OrderID]*Order),
		perCoin:         make(map[makerCoin]OrderID),
		intents:         NewIntentRegistry(),
		balances:        make(map[common.Address]map[string]uint64),
	}
}

// Load rehydrates orders, live handshakes, and ledger balances from the
// store after a restart.
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders, err := e.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		e.orders[o.ID] = o
		e.perCoin[makerCoin{maker: o.Maker, coin: o.Coin}] = o.ID
	}

	hss, actions, err := e.store.LoadFills()
	if err != nil {
		return fmt.Errorf("load fills: %w", err)
	}
	for i, hs := range hss {
		if err := e.intents.Stage(hs.Maker, hs.Key, hs, actions[i]); err != nil {
			return fmt.Errorf("restage fill %s/%s: %w", hs.Maker.Hex(), hs.Key, err)
		}
	}

	bals, err := e.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for _, b := range bals {
		e.creditLocked(b.Addr, b.Coin, b.Amount)
	}

	e.log.Infow("state_loaded", "orders", len(orders), "fills", len(hss), "balances", len(bals))
	return nil
}

// Feed exposes the lifecycle event feed.
func (e *Engine) Feed() *Feed { return e.feed }

// Reputation exposes the per-address trade record book.
func (e *Engine) Reputation() *reputation.Book { return e.rep }

// ==============================
// Ledger
// ==============================

// Deposit credits coin to an address (bridged in from the host custody
// layer, which is out of scope here).
func (e *Engine) Deposit(addr common.Address, coin string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("deposit amount must be positive: %w", ErrInvalidConfiguration)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.creditLocked(addr, coin, amount)

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SetBalance(addr, coin, e.balanceLocked(addr, coin)); err != nil {
		return err
	}
	return batch.Commit()
}

// Balance returns the address's ledger balance for a coin.
func (e *Engine) Balance(addr common.Address, coin string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceLocked(addr, coin)
}

func (e *Engine) balanceLocked(addr common.Address, coin string) uint64 {
	return e.balances[addr][coin]
}

func (e *Engine) creditLocked(addr common.Address, coin string, amount uint64) {
	m, ok := e.balances[addr]
	if !ok {
		m = make(map[string]uint64)
		e.balances[addr] = m
	}
	m[coin] += amount
}

// debitLocked withdraws amount from the ledger into an owned Funds.
func (e *Engine) debitLocked(addr common.Address, coin string, amount uint64) (*Funds, error) {
	have := e.balanceLocked(addr, coin)
	if have < amount {
		return nil, fmt.Errorf("have %d %s, need %d: %w", have, coin, amount, ErrInsufficientBalance)
	}
	e.balances[addr][coin] = have - amount
	return NewFunds(amount), nil
}

// ==============================
// Order lifecycle
// ==============================

// OrderParams are the maker-supplied order terms.
type OrderParams struct {
	Maker common.Address
	Coin  string
	IsBuy bool

	MinFill    uint64
	MaxFill    uint64
	FiatAmount uint64
	FiatCode   string
	CoinAmount uint64

	// EscrowAmount is the coin the maker escrows at creation: must be zero
	// for a buy order and exactly CoinAmount for a sell order. Debited
	// from the maker's ledger balance.
	EscrowAmount uint64

	FillDeadlineMs int64
}

// CreateOrder posts a standing order. Maker-authorized via proof.
func (e *Engine) CreateOrder(proof auth.MemberProof, p OrderParams) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.auth.Spend(proof, p.Maker); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrNotAuthorized)
	}
	if err := e.fees.AssertCoinAllowed(p.Coin); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConfiguration)
	}
	if err := e.fees.AssertFiatAllowed(p.FiatCode); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConfiguration)
	}
	if p.FillDeadlineMs < e.minFillDeadline.Milliseconds() {
		return nil, fmt.Errorf("fill deadline %dms below minimum %dms: %w",
			p.FillDeadlineMs, e.minFillDeadline.Milliseconds(), ErrInvalidConfiguration)
	}
	if p.IsBuy && p.EscrowAmount != 0 {
		return nil, fmt.Errorf("buy order cannot escrow coin: %w", ErrInvalidConfiguration)
	}
	if !p.IsBuy && (p.EscrowAmount == 0 || p.EscrowAmount != p.CoinAmount) {
		return nil, fmt.Errorf("sell order must escrow its full coin capacity %d, got %d: %w",
			p.CoinAmount, p.EscrowAmount, ErrInvalidConfiguration)
	}
	mc := makerCoin{maker: p.Maker, coin: p.Coin}
	if existing, ok := e.perCoin[mc]; ok {
		return nil, fmt.Errorf("maker already has live %s order %s: %w", p.Coin, existing, ErrInvalidConfiguration)
	}

	now := e.clock.NowMs()
	order := &Order{
		ID:             OrderID(fmt.Sprintf("%s-ord-%s-%d", p.Maker.Hex(), p.Coin, now)),
		Maker:          p.Maker,
		Coin:           p.Coin,
		IsBuy:          p.IsBuy,
		MinFill:        p.MinFill,
		MaxFill:        p.MaxFill,
		FiatAmount:     p.FiatAmount,
		FiatCode:       p.FiatCode,
		CoinAmount:     p.CoinAmount,
		FillDeadlineMs: p.FillDeadlineMs,
		CoinBalance:    NewFunds(0),
		CreatedAt:      now,
	}
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConfiguration)
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	if !p.IsBuy {
		escrowed, err := e.debitLocked(p.Maker, p.Coin, p.EscrowAmount)
		if err != nil {
			return nil, err
		}
		order.CoinBalance.Merge(escrowed)
		if err := batch.SetBalance(p.Maker, p.Coin, e.balanceLocked(p.Maker, p.Coin)); err != nil {
			return nil, err
		}
	}

	e.orders[order.ID] = order
	e.perCoin[mc] = order.ID

	order.Version++
	if err := batch.SetOrder(order); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}

	e.log.Infow("order_created", "order", order.ID, "maker", p.Maker.Hex(),
		"coin", p.Coin, "is_buy", p.IsBuy, "coin_amount", p.CoinAmount,
		"fiat", p.FiatCode, "fiat_amount", p.FiatAmount)
	e.feed.Emit(Event{
		Type: EventOrderCreated, OrderID: order.ID, Maker: p.Maker, IsBuy: p.IsBuy,
		Coin: p.Coin, FiatCode: p.FiatCode, CoinAmount: p.CoinAmount,
		FiatAmount: p.FiatAmount, Timestamp: now,
	})
	return order, nil
}

// DestroyOrder removes an order with no pending fills, returning the
// remaining escrowed coin to the maker's ledger balance.
func (e *Engine) DestroyOrder(proof auth.MemberProof, id OrderID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return 0, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err := e.auth.Spend(proof, order.Maker); err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrNotAuthorized)
	}
	if order.PendingFill != 0 {
		return 0, fmt.Errorf("order %s has %d pending: %w", id, order.PendingFill, ErrCannotDestroy)
	}

	refund := order.CoinBalance.Withdraw()
	e.creditLocked(order.Maker, order.Coin, refund)
	if err := order.CoinBalance.Consume(); err != nil {
		return 0, err
	}

	delete(e.orders, id)
	delete(e.perCoin, makerCoin{maker: order.Maker, coin: order.Coin})

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.DeleteOrder(order.Maker, id); err != nil {
		return 0, err
	}
	if err := batch.SetBalance(order.Maker, order.Coin, e.balanceLocked(order.Maker, order.Coin)); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}

	e.log.Infow("order_destroyed", "order", id, "refund", refund)
	e.feed.Emit(Event{
		Type: EventOrderDestroyed, OrderID: id, Maker: order.Maker, IsBuy: order.IsBuy,
		Coin: order.Coin, FiatCode: order.FiatCode, CoinAmount: refund,
		Timestamp: e.clock.NowMs(),
	})
	return refund, nil
}

// ==============================
// Fill requests
// ==============================

// RequestFillBuy opens a handshake against a buy order: the taker escrows
// amount coin immediately and becomes the coin sender; the maker account's
// signers are the fiat leg. The caller-supplied deadline is ignored: the
// order is the sole authority on the payment window.
func (e *Engine) RequestFillBuy(taker common.Address, id OrderID, amount uint64, _ int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, members, err := e.fillTarget(taker, id, true)
	if err != nil {
		return "", err
	}
	if err := order.CheckFillAmount(amount); err != nil {
		return "", err
	}

	key := taker.Hex()
	if _, exists := e.intents.Peek(order.Maker, key); exists {
		return "", fmt.Errorf("maker %s key %q: %w", order.Maker.Hex(), key, ErrKeyInUse)
	}

	escrowed, err := e.debitLocked(taker, order.Coin, amount)
	if err != nil {
		return "", err
	}

	now := e.clock.NowMs()
	hs := &Handshake{
		Key:               key,
		Maker:             order.Maker,
		OrderID:           order.ID,
		FiatSenders:       members,
		CoinSenders:       []common.Address{taker},
		Status:            StatusRequested,
		PaymentDeadlineMs: now + order.FillDeadlineMs,
		FiatAmount:        order.FiatLeg(amount),
		CoinAmount:        amount,
		RequestedAt:       now,
	}
	action := &FillAction{OrderID: order.ID, IsBuy: true, Taker: taker, Amount: amount, Escrow: escrowed}

	return key, e.admitFill(order, hs, action, taker)
}

// RequestFillSell opens a handshake against a sell order: the taker is the
// fiat sender and only the fiat amount is committed; the coin stays in
// the order's escrowed balance until finalization.
func (e *Engine) RequestFillSell(taker common.Address, id OrderID, amount uint64, _ int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, members, err := e.fillTarget(taker, id, false)
	if err != nil {
		return "", err
	}
	if err := order.CheckFillAmount(amount); err != nil {
		return "", err
	}

	key := taker.Hex()
	if _, exists := e.intents.Peek(order.Maker, key); exists {
		return "", fmt.Errorf("maker %s key %q: %w", order.Maker.Hex(), key, ErrKeyInUse)
	}

	now := e.clock.NowMs()
	hs := &Handshake{
		Key:               key,
		Maker:             order.Maker,
		OrderID:           order.ID,
		FiatSenders:       []common.Address{taker},
		CoinSenders:       members,
		Status:            StatusRequested,
		PaymentDeadlineMs: now + order.FillDeadlineMs,
		FiatAmount:        amount,
		CoinAmount:        order.CoinLeg(amount),
		RequestedAt:       now,
	}
	action := &FillAction{OrderID: order.ID, IsBuy: false, Taker: taker, Amount: amount}

	return key, e.admitFill(order, hs, action, taker)
}

// fillTarget resolves the order and the maker's signer set, validating the
// order direction and that the taker is not on the maker side. Membership
// is a set check: a maker account may have several authorized signers.
func (e *Engine) fillTarget(taker common.Address, id OrderID, wantBuy bool) (*Order, []common.Address, error) {
	order, ok := e.orders[id]
	if !ok {
		return nil, nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if order.IsBuy != wantBuy {
		return nil, nil, fmt.Errorf("order %s direction mismatch: %w", id, ErrWrongRole)
	}
	members, err := e.auth.Members(order.Maker)
	if err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, ErrNotAuthorized)
	}
	if containsAddress(members, taker) {
		return nil, nil, fmt.Errorf("taker %s is a maker signer: %w", taker.Hex(), ErrWrongRole)
	}
	return order, members, nil
}

// admitFill reserves capacity, stages the handshake, persists, notifies.
func (e *Engine) admitFill(order *Order, hs *Handshake, action *FillAction, taker common.Address) error {
	order.Reserve(action.Amount)
	if err := e.intents.Stage(order.Maker, hs.Key, hs, action); err != nil {
		// Peeked before staging; hitting this means a bug upstream.
		order.Release(action.Amount)
		return err
	}

	batch := e.store.NewBatch()
	defer batch.Close()
	order.Version++
	if err := batch.SetOrder(order); err != nil {
		return err
	}
	if err := batch.SetFill(hs, action); err != nil {
		return err
	}
	if action.IsBuy {
		if err := batch.SetBalance(taker, order.Coin, e.balanceLocked(taker, order.Coin)); err != nil {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	e.log.Infow("fill_requested", "order", order.ID, "key", hs.Key, "taker", taker.Hex(),
		"is_buy", action.IsBuy, "amount", action.Amount, "deadline_ms", hs.PaymentDeadlineMs)
	e.feed.Emit(Event{
		Type: EventFillRequested, OrderID: order.ID, Maker: order.Maker, Taker: taker,
		Key: hs.Key, IsBuy: order.IsBuy, Coin: order.Coin, FiatCode: order.FiatCode,
		CoinAmount: hs.CoinAmount, FiatAmount: hs.FiatAmount,
		DeadlineMs: hs.PaymentDeadlineMs, Timestamp: hs.RequestedAt,
	})
	return nil
}

// ==============================
// Confirmation flags
// ==============================

// FlagPaid attests the off-ledger fiat transfer was sent. Fiat sender
// only, inside the payment window.
func (e *Engine) FlagPaid(caller, maker common.Address, key string) error {
	return e.flag(caller, maker, key, EventFillPaid, func(hs *Handshake) error {
		return hs.MarkPaid(caller, e.clock.NowMs())
	})
}

// FlagSettled confirms the fiat arrived. Coin sender only, after Paid.
func (e *Engine) FlagSettled(caller, maker common.Address, key string) error {
	return e.flag(caller, maker, key, EventFillSettled, func(hs *Handshake) error {
		return hs.MarkSettled(caller, e.clock.NowMs())
	})
}

// FlagDisputed escalates to admin arbitration. Either party, before Settled.
func (e *Engine) FlagDisputed(caller, maker common.Address, key string) error {
	return e.flag(caller, maker, key, EventFillDisputed, func(hs *Handshake) error {
		return hs.MarkDisputed(caller)
	})
}

// flag runs a pure status mutation on the staged handshake. No funds move
// and the order is untouched.
func (e *Engine) flag(caller, maker common.Address, key string, ev EventType, mutate func(*Handshake) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.intents.Resolve(maker, key, mutate); err != nil {
		return err
	}

	hs, action, _ := e.intents.get(maker, key)
	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SetFill(hs, action); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	e.log.Infow(string(ev), "maker", maker.Hex(), "key", key, "caller", caller.Hex(), "status", hs.Status.String())
	e.feed.Emit(Event{
		Type: ev, OrderID: hs.OrderID, Maker: maker, Taker: action.Taker, Key: key,
		IsBuy: action.IsBuy, CoinAmount: hs.CoinAmount, FiatAmount: hs.FiatAmount,
		Timestamp: e.clock.NowMs(),
	})
	return nil
}

// ==============================
// Finalization
// ==============================

// ExecuteFillBuy finalizes a settled buy fill: the taker's escrowed coin
// moves into the order's balance, minus the fee skim. Callable by anyone.
func (e *Engine) ExecuteFillBuy(maker common.Address, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	hs, action, order, err := e.finalizeSettled(maker, key, true)
	if err != nil {
		return err
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	feeTotal := e.skimLocked(action.Escrow, order.Coin, batch)
	order.CoinBalance.Merge(action.Escrow)
	if err := action.Escrow.Consume(); err != nil {
		return err
	}
	order.Complete(action.Amount)

	return e.commitExecution(batch, order, hs, action, feeTotal)
}

// ExecuteFillSell finalizes a settled sell fill: the fiat leg's coin
// equivalent is split out of the order's balance and released to the
// taker, minus the fee skim. Callable by anyone.
func (e *Engine) ExecuteFillSell(maker common.Address, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	hs, action, order, err := e.finalizeSettled(maker, key, false)
	if err != nil {
		return err
	}

	coinOut, err := order.CoinBalance.Split(hs.CoinAmount)
	if err != nil {
		return fmt.Errorf("order %s escrow underflow: %w", order.ID, err)
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	feeTotal := e.skimLocked(coinOut, order.Coin, batch)
	e.creditLocked(action.Taker, order.Coin, coinOut.Withdraw())
	if err := coinOut.Consume(); err != nil {
		return err
	}
	if err := batch.SetBalance(action.Taker, order.Coin, e.balanceLocked(action.Taker, order.Coin)); err != nil {
		return err
	}
	order.Complete(action.Amount)

	return e.commitExecution(batch, order, hs, action, feeTotal)
}

// finalizeSettled consumes the staged intent once the handshake is
// Settled, resolving the order it belongs to.
func (e *Engine) finalizeSettled(maker common.Address, key string, wantBuy bool) (*Handshake, *FillAction, *Order, error) {
	staged, stagedAction, ok := e.intents.get(maker, key)
	if !ok {
		return nil, nil, nil, fmt.Errorf("fill %s/%s: %w", maker.Hex(), key, ErrNotFound)
	}
	if stagedAction.IsBuy != wantBuy {
		return nil, nil, nil, fmt.Errorf("fill %s/%s direction mismatch: %w", maker.Hex(), key, ErrWrongRole)
	}
	order, ok := e.orders[stagedAction.OrderID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("order %s for fill %s: %w", stagedAction.OrderID, key, ErrNotFound)
	}
	// Every rejection must leave the intent staged, so the coverage check
	// runs before the consuming Finalize.
	if !wantBuy && staged.CoinAmount > order.CoinBalance.Amount() {
		return nil, nil, nil, fmt.Errorf("order %s escrow %d cannot cover %d: %w",
			order.ID, order.CoinBalance.Amount(), staged.CoinAmount, ErrInsufficientBalance)
	}
	hs, action, err := e.intents.Finalize(maker, key, func(h *Handshake) error {
		if h.Status != StatusSettled {
			return fmt.Errorf("finalize on %s handshake: %w", h.Status, ErrWrongState)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return hs, action, order, nil
}

// skimLocked routes released coin through the fee schedule, crediting each
// collector's ledger balance. Mutates f in place.
func (e *Engine) skimLocked(f *Funds, coin string, batch *Batch) uint64 {
	total, payouts := e.fees.Collect(f.Amount())
	for _, p := range payouts {
		cut, err := f.Split(p.Amount)
		if err != nil {
			// Collect never returns more than the amount it was given.
			e.log.Errorw("fee_split_failed", "err", err)
			break
		}
		e.creditLocked(p.Addr, coin, cut.Withdraw())
		_ = batch.SetBalance(p.Addr, coin, e.balanceLocked(p.Addr, coin))
	}
	return total
}

func (e *Engine) commitExecution(batch *Batch, order *Order, hs *Handshake, action *FillAction, feeTotal uint64) error {
	order.Version++
	if err := batch.SetOrder(order); err != nil {
		return err
	}
	if err := batch.DeleteFill(order.Maker, hs.Key); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	latency := uint64(hs.SettledAt - hs.PaidAt)
	e.rep.RecordSuccessfulTrade(order.Maker, order.FiatCode, hs.FiatAmount, hs.CoinAmount, latency)
	e.rep.RecordSuccessfulTrade(action.Taker, order.FiatCode, hs.FiatAmount, hs.CoinAmount, latency)

	e.log.Infow("fill_executed", "order", order.ID, "key", hs.Key,
		"coin_amount", hs.CoinAmount, "fiat_amount", hs.FiatAmount,
		"fee", feeTotal, "latency_ms", latency)
	e.feed.Emit(Event{
		Type: EventFillExecuted, OrderID: order.ID, Maker: order.Maker, Taker: action.Taker,
		Key: hs.Key, IsBuy: action.IsBuy, Coin: order.Coin, FiatCode: order.FiatCode,
		CoinAmount: hs.CoinAmount, FiatAmount: hs.FiatAmount, Timestamp: e.clock.NowMs(),
	})
	return nil
}

// ==============================
// Dispute resolution
// ==============================

// ResolveDispute arbitrates a disputed fill, directing the escrowed value
// to recipient. Admin-capability-gated. The recipient must be one of the
// two legitimate parties: the fill's taker or the maker account.
func (e *Engine) ResolveDispute(proof auth.AdminProof, maker common.Address, key string, recipient common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.auth.SpendAdmin(proof); err != nil {
		return fmt.Errorf("%v: %w", err, ErrNotAuthorized)
	}

	hs, action, ok := e.intents.get(maker, key)
	if !ok {
		return fmt.Errorf("fill %s/%s: %w", maker.Hex(), key, ErrNotFound)
	}
	if hs.Status != StatusDisputed {
		return fmt.Errorf("resolve dispute on %s handshake: %w", hs.Status, ErrWrongState)
	}
	if recipient != action.Taker && recipient != maker {
		return fmt.Errorf("recipient %s: %w", recipient.Hex(), ErrBadRecipient)
	}

	order, okOrder := e.orders[action.OrderID]
	if !okOrder {
		return fmt.Errorf("order %s for fill %s: %w", action.OrderID, key, ErrNotFound)
	}

	// All checks passed; consume the intent.
	if _, _, err := e.intents.Finalize(maker, key, func(*Handshake) error { return nil }); err != nil {
		return err
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	if action.IsBuy {
		// Taker's escrowed coin goes wherever the admin directed.
		e.skimLocked(action.Escrow, order.Coin, batch)
		e.creditLocked(recipient, order.Coin, action.Escrow.Withdraw())
		if err := action.Escrow.Consume(); err != nil {
			return err
		}
		if err := batch.SetBalance(recipient, order.Coin, e.balanceLocked(recipient, order.Coin)); err != nil {
			return err
		}
	} else if recipient == action.Taker {
		// Committed coin leaves the order for the taker.
		coinOut, err := order.CoinBalance.Split(hs.CoinAmount)
		if err != nil {
			return fmt.Errorf("order %s escrow underflow: %w", order.ID, err)
		}
		e.skimLocked(coinOut, order.Coin, batch)
		e.creditLocked(recipient, order.Coin, coinOut.Withdraw())
		if err := coinOut.Consume(); err != nil {
			return err
		}
		if err := batch.SetBalance(recipient, order.Coin, e.balanceLocked(recipient, order.Coin)); err != nil {
			return err
		}
	}
	// Sell dispute resolved for the maker: the committed coin simply stays
	// in the order's balance; nothing leaves escrow and no fee applies.

	if !action.IsBuy && recipient == action.Taker {
		// Coin left the order's escrow, so the capacity is consumed just
		// as in normal finalization. Releasing it would let the counters
		// admit fills the remaining balance cannot cover.
		order.Complete(action.Amount)
	} else {
		order.Release(action.Amount)
	}
	order.Version++
	if err := batch.SetOrder(order); err != nil {
		return err
	}
	if err := batch.DeleteFill(maker, key); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	takerWon := recipient == action.Taker
	e.rep.RecordDisputeOutcome(action.Taker, takerWon)
	e.rep.RecordDisputeOutcome(maker, !takerWon)

	e.log.Infow("dispute_resolved", "order", order.ID, "key", key,
		"recipient", recipient.Hex(), "taker_won", takerWon)
	e.feed.Emit(Event{
		Type: EventDisputeResolved, OrderID: order.ID, Maker: maker, Taker: action.Taker,
		Key: key, IsBuy: action.IsBuy, Coin: order.Coin, FiatCode: order.FiatCode,
		CoinAmount: hs.CoinAmount, FiatAmount: hs.FiatAmount, Recipient: recipient,
		Timestamp: e.clock.NowMs(),
	})
	return nil
}

// ==============================
// Expiry and voluntary cancellation
// ==============================

// ResolveExpiredFill refunds a fill whose payment window lapsed while
// still unconfirmed. Callable by anyone; no fee is collected because
// nothing changed hands.
func (e *Engine) ResolveExpiredFill(maker common.Address, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMs()
	hs, action, err := e.intents.Finalize(maker, key, func(h *Handshake) error {
		if h.Status != StatusRequested {
			return fmt.Errorf("expire on %s handshake: %w", h.Status, ErrWrongState)
		}
		if !h.Expired(now) {
			return fmt.Errorf("deadline %d not passed at %d: %w", h.PaymentDeadlineMs, now, ErrWindowNotExpired)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.refundFill(maker, key, hs, action, EventFillExpired, ""); err != nil {
		return err
	}

	e.rep.RecordFailedTrade(maker)
	e.rep.RecordFailedTrade(action.Taker)
	return nil
}

// MerchantCancelFill lets the maker of a buy order back out of a fill
// before payment is claimed, refunding the taker's escrow in full. The
// reason is free text carried on the notification.
func (e *Engine) MerchantCancelFill(proof auth.MemberProof, maker common.Address, key, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.auth.Spend(proof, maker); err != nil {
		return fmt.Errorf("%v: %w", err, ErrNotAuthorized)
	}

	hs, action, ok := e.intents.get(maker, key)
	if !ok {
		return fmt.Errorf("fill %s/%s: %w", maker.Hex(), key, ErrNotFound)
	}
	if !action.IsBuy {
		return fmt.Errorf("merchant cancel applies to buy order fills only: %w", ErrWrongRole)
	}
	if hs.Status != StatusRequested {
		return fmt.Errorf("cancel on %s handshake: %w", hs.Status, ErrWrongState)
	}

	hs, action, err := e.intents.Finalize(maker, key, func(*Handshake) error { return nil })
	if err != nil {
		return err
	}
	expired := hs.Expired(e.clock.NowMs())
	if err := e.refundFill(maker, key, hs, action, EventFillCancelled, reason); err != nil {
		return err
	}
	// Cancelling a fill that already sat out its payment window counts
	// the same as letting it expire; the maker cannot scrub the record by
	// cancelling late.
	if expired {
		e.rep.RecordFailedTrade(maker)
		e.rep.RecordFailedTrade(action.Taker)
	}
	return nil
}

// TakerCancelSellFill lets a taker withdraw their own commitment against a
// sell order before payment is claimed.
func (e *Engine) TakerCancelSellFill(caller, maker common.Address, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	hs, action, ok := e.intents.get(maker, key)
	if !ok {
		return fmt.Errorf("fill %s/%s: %w", maker.Hex(), key, ErrNotFound)
	}
	if action.IsBuy {
		return fmt.Errorf("taker cancel applies to sell order fills only: %w", ErrWrongRole)
	}
	if caller != action.Taker {
		return fmt.Errorf("%s is not the fill's taker: %w", caller.Hex(), ErrWrongRole)
	}
	if hs.Status != StatusRequested {
		return fmt.Errorf("cancel on %s handshake: %w", hs.Status, ErrWrongState)
	}

	hs, action, err := e.intents.Finalize(maker, key, func(*Handshake) error { return nil })
	if err != nil {
		return err
	}
	return e.refundFill(maker, key, hs, action, EventFillCancelled, "")
}

// refundFill undoes an unconfirmed fill: escrowed coin returns to the
// taker for buy fills, committed coin stays folded in the order's balance
// for sell fills, and the reserved capacity is released.
func (e *Engine) refundFill(maker common.Address, key string, hs *Handshake, action *FillAction, ev EventType, reason string) error {
	order, ok := e.orders[action.OrderID]
	if !ok {
		return fmt.Errorf("order %s for fill %s: %w", action.OrderID, key, ErrNotFound)
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	if action.IsBuy {
		e.creditLocked(action.Taker, order.Coin, action.Escrow.Withdraw())
		if err := action.Escrow.Consume(); err != nil {
			return err
		}
		if err := batch.SetBalance(action.Taker, order.Coin, e.balanceLocked(action.Taker, order.Coin)); err != nil {
			return err
		}
	}

	order.Release(action.Amount)
	order.Version++
	if err := batch.SetOrder(order); err != nil {
		return err
	}
	if err := batch.DeleteFill(maker, key); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	e.log.Infow(string(ev), "order", order.ID, "key", key, "taker", action.Taker.Hex(), "reason", reason)
	e.feed.Emit(Event{
		Type: ev, OrderID: order.ID, Maker: maker, Taker: action.Taker, Key: key,
		IsBuy: action.IsBuy, Coin: order.Coin, FiatCode: order.FiatCode,
		CoinAmount: hs.CoinAmount, FiatAmount: hs.FiatAmount, Reason: reason,
		Timestamp: e.clock.NowMs(),
	})
	return nil
}

// ==============================
// Queries
// ==============================

// GetOrder returns a copy of an order.
func (e *Engine) GetOrder(id OrderID) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return *order, nil
}

// OrdersByMaker returns copies of a maker's live orders.
func (e *Engine) OrdersByMaker(maker common.Address) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Order
	for _, o := range e.orders {
		if o.Maker == maker {
			out = append(out, *o)
		}
	}
	return out
}

// GetHandshake returns a copy of a live handshake.
func (e *Engine) GetHandshake(maker common.Address, key string) (Handshake, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs, ok := e.intents.Peek(maker, key)
	if !ok {
		return Handshake{}, fmt.Errorf("fill %s/%s: %w", maker.Hex(), key, ErrNotFound)
	}
	return *hs, nil
}

// HandshakesByMaker returns copies of a maker's live handshakes.
func (e *Engine) HandshakesByMaker(maker common.Address) []Handshake {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Handshake
	for _, hs := range e.intents.ByMaker(maker) {
		out = append(out, *hs)
	}
	return out
}
