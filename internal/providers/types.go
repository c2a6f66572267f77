package providers

import (
	"context"

	"github.com/ggonzalez94/xswap/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// QuoteRequest describes a cross-chain swap. Amounts are base units.
// Addresses are optional for a plain quote and required to build an order.
type QuoteRequest struct {
	SourceChainID           int64
	SourceToken             string
	SourceAmount            string
	DestinationChainID      int64
	DestinationToken        string
	DestinationAmount       string
	Sender                  string
	Recipient               string
	SrcAuthority            string
	DstAuthority            string
	AffiliateFeePercent     float64
	AffiliateFeeRecipient   string
	PrependOperatingExpense bool
	SrcChainPriorityLevel   string
	EnableEstimate          bool
}

// HasAddresses reports whether the request carries what is needed to build a
// transaction.
func (r QuoteRequest) HasAddresses() bool {
	return r.Sender != "" && r.Recipient != ""
}

type SwapProvider interface {
	Provider
	Quote(ctx context.Context, req QuoteRequest) (model.Quote, error)
}

type OrderStatusProvider interface {
	Provider
	OrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error)
	OrderIDsByTx(ctx context.Context, txHash string) ([]string, error)
}

type ReferenceDataProvider interface {
	Provider
	Chains(ctx context.Context) ([]model.Chain, error)
	Tokens(ctx context.Context, chainID int64) ([]model.Token, error)
}

// CrossChainProvider is the full surface a swap provider exposes.
type CrossChainProvider interface {
	SwapProvider
	OrderStatusProvider
	ReferenceDataProvider
}
