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
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
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
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	RequiresKey  bool     `json:"requires_key"`
	Capabilities []string `json:"capabilities"`
	BaseURL      string   `json:"base_url,omitempty"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Chain is immutable reference data keyed by ChainID.
type Chain struct {
	ChainID        int64           `json:"chain_id"`
	Name           string          `json:"name"`
	NativeCurrency *NativeCurrency `json:"native_currency,omitempty"`
}

type TokenKey struct {
	ChainID int64
	Address string
}

// Token is a fungible asset on one chain. The zero address denotes the
// chain's native coin.
type Token struct {
	ChainID  int64    `json:"chain_id"`
	Address  string   `json:"address"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name,omitempty"`
	Decimals int      `json:"decimals"`
	Tags     []string `json:"tags,omitempty"`
	LogoURI  string   `json:"logo_uri,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// QuoteLeg is one side (source or destination) of a quote.
type QuoteLeg struct {
	ChainID int64      `json:"chain_id"`
	Address string     `json:"address"`
	Symbol  string     `json:"symbol,omitempty"`
	Name    string     `json:"name,omitempty"`
	Amount  AmountInfo `json:"amount"`
}

// CostItem is one line of a quote's cost breakdown. AmountIn is expressed in
// source-chain base units.
type CostItem struct {
	Type      string `json:"type"`
	Chain     string `json:"chain,omitempty"`
	TokenIn   string `json:"token_in,omitempty"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out,omitempty"`
}

// TxPayload is an unsigned transaction handed to an external wallet.
type TxPayload struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// Quote is a point-in-time, non-binding estimate. It is never mutated after
// creation.
type Quote struct {
	Source              QuoteLeg   `json:"source"`
	Destination         QuoteLeg   `json:"destination"`
	RecommendedSlippage float64    `json:"recommended_slippage"`
	Costs               []CostItem `json:"costs"`
	ApproximateDelayS   *int64     `json:"approximate_delay_s,omitempty"`
	Tx                  *TxPayload `json:"tx,omitempty"`
	OrderID             string     `json:"order_id,omitempty"`
	Provider            string     `json:"provider"`
	FetchedAt           string     `json:"fetched_at"`
}

type CostSummary struct {
	Symbol          string     `json:"symbol,omitempty"`
	ProtocolFee     string     `json:"protocol_fee"`
	SolverFee       string     `json:"solver_fee"`
	TotalFee        string     `json:"total_fee"`
	OtherTokenCosts []CostItem `json:"other_token_costs,omitempty"`
}

// QuoteView is what the CLI renders for a quote.
type QuoteView struct {
	Quote   Quote       `json:"quote"`
	Costs   CostSummary `json:"cost_summary"`
	Warning string      `json:"warning,omitempty"`
}

// BuiltOrder is the result of building an order: the tx to sign and, when
// the provider assigned one synchronously, the order id.
type BuiltOrder struct {
	Quote            Quote      `json:"quote"`
	Tx               TxPayload  `json:"tx"`
	Approval         *TxPayload `json:"approval,omitempty"`
	OrderIDCandidate string     `json:"order_id_candidate,omitempty"`
	Sender           string     `json:"sender"`
	Recipient        string     `json:"recipient"`
	SrcAuthority     string     `json:"src_authority"`
	DstAuthority     string     `json:"dst_authority"`
}

type Order struct {
	OrderID            string      `json:"order_id"`
	SourceChainID      int64       `json:"source_chain_id"`
	SourceToken        string      `json:"source_token"`
	SourceAmount       string      `json:"source_amount"`
	DestinationChainID int64       `json:"destination_chain_id"`
	DestinationToken   string      `json:"destination_token"`
	DestinationAmount  string      `json:"destination_amount"`
	Sender             string      `json:"sender"`
	Recipient          string      `json:"recipient"`
	SrcAuthority       string      `json:"src_authority,omitempty"`
	DstAuthority       string      `json:"dst_authority,omitempty"`
	Status             OrderStatus `json:"status"`
	TxHash             string      `json:"tx_hash,omitempty"`
	CreatedAt          string      `json:"created_at"`
	UpdatedAt          string      `json:"updated_at"`
}

func (o *Order) Touch(now time.Time) {
	o.UpdatedAt = now.UTC().Format(time.RFC3339)
}

// StatusUpdate is delivered to tracker callbacks once per poll. Err is set
// when the poll failed; Status then holds the last known status.
type StatusUpdate struct {
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status,omitempty"`
	Poll       int         `json:"poll"`
	ObservedAt time.Time   `json:"observed_at"`
	Err        error       `json:"-"`
	Error      string      `json:"error,omitempty"`
}

func (u StatusUpdate) Failed() bool { return u.Err != nil }
