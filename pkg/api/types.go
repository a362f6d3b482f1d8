package api

// API response types for REST endpoints and WebSocket messages

// OrderInfo is the REST view of a live order.
type OrderInfo struct {
	ID             string `json:"id"`
	Maker          string `json:"maker"`
	Coin           string `json:"coin"`
	IsBuy          bool   `json:"isBuy"`
	MinFill        uint64 `json:"minFill"`
	MaxFill        uint64 `json:"maxFill"`
	FiatAmount     uint64 `json:"fiatAmount"`
	FiatCode       string `json:"fiatCode"`
	CoinAmount     uint64 `json:"coinAmount"`
	FillDeadlineMs int64  `json:"fillDeadlineMs"`
	CoinBalance    uint64 `json:"coinBalance"`
	PendingFill    uint64 `json:"pendingFill"`
	CompletedFill  uint64 `json:"completedFill"`
	CreatedAt      int64  `json:"createdAt"`
}

// HandshakeInfo is the REST view of a live fill handshake.
type HandshakeInfo struct {
	Key               string   `json:"key"`
	Maker             string   `json:"maker"`
	OrderID           string   `json:"orderId"`
	Status            string   `json:"status"`
	FiatSenders       []string `json:"fiatSenders"`
	CoinSenders       []string `json:"coinSenders"`
	FiatAmount        uint64   `json:"fiatAmount"`
	CoinAmount        uint64   `json:"coinAmount"`
	PaymentDeadlineMs int64    `json:"paymentDeadlineMs"`
	RequestedAt       int64    `json:"requestedAt"`
}

// ReputationInfo is the REST view of an account's counters.
type ReputationInfo struct {
	Address             string `json:"address"`
	SuccessfulTrades    uint64 `json:"successfulTrades"`
	FailedTrades        uint64 `json:"failedTrades"`
	DisputesWon         uint64 `json:"disputesWon"`
	DisputesLost        uint64 `json:"disputesLost"`
	TotalFiatVolume     uint64 `json:"totalFiatVolume"`
	TotalCoinVolume     uint64 `json:"totalCoinVolume"`
	AvgReleaseLatencyMs uint64 `json:"avgReleaseLatencyMs"`
}

// BalanceInfo is the REST view of one ledger balance.
type BalanceInfo struct {
	Address string `json:"address"`
	Coin    string `json:"coin"`
	Amount  uint64 `json:"amount"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WSSubscribeRequest is a client subscription message.
// Example: {"op": "subscribe", "channels": ["fills", "orders"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage wraps broadcast payloads with their channel.
type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
