package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// EventType labels fill lifecycle notifications for off-ledger consumers
// (UI, bots watching for fills to pay).
type EventType string

const (
	EventFillRequested   EventType = "fill_requested"
	EventFillPaid        EventType = "fill_paid"
	EventFillSettled     EventType = "fill_settled"
	EventFillExecuted    EventType = "fill_executed"
	EventFillExpired     EventType = "fill_expired"
	EventFillCancelled   EventType = "fill_cancelled"
	EventFillDisputed    EventType = "fill_disputed"
	EventDisputeResolved EventType = "dispute_resolved"
	EventOrderCreated    EventType = "order_created"
	EventOrderDestroyed  EventType = "order_destroyed"
)

// Event is a fill or order lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	OrderID   OrderID        `json:"orderId"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker,omitempty"`
	Key       string         `json:"key,omitempty"`
	IsBuy     bool           `json:"isBuy"`
	Coin      string         `json:"coin"`
	FiatCode  string         `json:"fiatCode"`
	// CoinAmount and FiatAmount describe the fill's two legs (or the
	// order's capacity for order events).
	CoinAmount uint64 `json:"coinAmount"`
	FiatAmount uint64 `json:"fiatAmount"`
	DeadlineMs int64  `json:"deadlineMs,omitempty"`
	// Recipient is set on dispute_resolved events.
	Recipient common.Address `json:"recipient,omitempty"`
	// Reason carries the maker's free-text note on fill_cancelled events.
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// Feed fans lifecycle events out to subscribers. Slow subscribers drop
// events rather than block the engine.
type Feed struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe returns a buffered channel of future events.
func (f *Feed) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Emit delivers an event to every subscriber that has buffer room.
func (f *Feed) Emit(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, skip
		}
	}
}
