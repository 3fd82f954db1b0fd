package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code     int    `json:"code"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Priority      int      `json:"priority"`
	Enabled       bool     `json:"enabled"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

// GasEstimate prices a gas limit at a given gas price. CostUSD is nil when no
// ETH/USD price was available.
type GasEstimate struct {
	GasLimit    uint64   `json:"gas_limit"`
	GasPriceWei string   `json:"gas_price_wei"`
	CostWei     string   `json:"cost_wei"`
	CostETH     string   `json:"cost_eth"`
	CostUSD     *float64 `json:"cost_usd"`
}

type QuoteLeg struct {
	Provider   string `json:"provider"`
	SellToken  string `json:"sell_token"`
	BuyToken   string `json:"buy_token"`
	SellAmount string `json:"sell_amount"`
	BuyAmount  string `json:"buy_amount"`
}

type SwapQuote struct {
	Provider        string      `json:"provider"`
	Side            string      `json:"side"`
	ChainID         int64       `json:"chain_id"`
	SellToken       TokenInfo   `json:"sell_token"`
	BuyToken        TokenInfo   `json:"buy_token"`
	SellAmount      AmountInfo  `json:"sell_amount"`
	BuyAmount       AmountInfo  `json:"buy_amount"`
	MinBuyAmount    AmountInfo  `json:"min_buy_amount"`
	Price           string      `json:"price"`
	GuaranteedPrice string      `json:"guaranteed_price,omitempty"`
	SlippageBps     int64       `json:"slippage_bps"`
	AllowanceTarget string      `json:"allowance_target,omitempty"`
	Sources         []string    `json:"sources,omitempty"`
	Gas             GasEstimate `json:"gas"`
	Legs            []QuoteLeg  `json:"legs"`
	FetchedAt       string      `json:"fetched_at"`
}

type SwapResult struct {
	TradeID        string      `json:"trade_id"`
	Status         string      `json:"status"`
	Side           string      `json:"side"`
	Provider       string      `json:"provider"`
	TxHash         string      `json:"tx_hash"`
	ApprovalTxHash string      `json:"approval_tx_hash,omitempty"`
	BlockNumber    uint64      `json:"block_number"`
	AmountIn       AmountInfo  `json:"amount_in"`
	AmountOut      *AmountInfo `json:"amount_out,omitempty"`
	GasCost        GasEstimate `json:"gas_cost"`
	Quote          SwapQuote   `json:"quote"`
}

type WithdrawResult struct {
	TradeID     string     `json:"trade_id"`
	Status      string     `json:"status"`
	TxHash      string     `json:"tx_hash"`
	Token       TokenInfo  `json:"token"`
	Amount      AmountInfo `json:"amount"`
	Destination string     `json:"destination"`
}

type BalanceView struct {
	Address      string     `json:"address"`
	Native       AmountInfo `json:"native"`
	Stable       AmountInfo `json:"stable"`
	StableSymbol string     `json:"stable_symbol"`
}

type WalletView struct {
	UserID      string       `json:"user_id"`
	Address     string       `json:"address"`
	CreatedAt   string       `json:"created_at"`
	SlippageBps int64        `json:"slippage_bps,omitempty"`
	GasBoostBps int64        `json:"gas_boost_bps,omitempty"`
	Balances    *BalanceView `json:"balances,omitempty"`
}

const (
	TradeSideBuy      = "buy"
	TradeSideSell     = "sell"
	TradeSideWithdraw = "withdraw"

	TradeStatusPending   = "pending"
	TradeStatusCompleted = "completed"
	TradeStatusFailed    = "failed"
)

// TradeRecord is an append-only trade log row.
type TradeRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Side           string    `json:"side"`
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	TxHash         string    `json:"tx_hash"`
	ApprovalTxHash string    `json:"approval_tx_hash,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	AlertAbove = "above"
	AlertBelow = "below"
)

type PriceAlert struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	TokenAddress string     `json:"token_address"`
	Symbol       string     `json:"symbol"`
	TargetPrice  string     `json:"target_price"`
	Condition    string     `json:"condition"`
	Active       bool       `json:"active"`
	Triggered    bool       `json:"triggered"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type EndpointHealth struct {
	URL         string `json:"url"`
	Rank        int    `json:"rank"`
	Current     bool   `json:"current"`
	Healthy     bool   `json:"healthy"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
	Error       string `json:"error,omitempty"`
}

// TradeEvent is a stage transition pushed to subscribers.
type TradeEvent struct {
	UserID    string    `json:"user_id"`
	Side      string    `json:"side"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	TradeID   string    `json:"trade_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
