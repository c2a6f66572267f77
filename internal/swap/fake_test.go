package swap

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/providers"
	"github.com/ggonzalez94/xswap/internal/scheduler"
)

const (
	testOrderID = "0x9a1b2c3d4e5f60718293a4b5c6d7e8f9a0b1c2d3e4f5061728394a5b6c7d2233"
	testTxHash  = "0x" + "ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12"
	testSender  = "0x000000000000000000000000000000000000dEaD"
	usdcEth     = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdcArb     = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

// fakeProvider is a scripted CrossChainProvider that records every call.
type fakeProvider struct {
	mu sync.Mutex

	quote    func(req providers.QuoteRequest) (model.Quote, error)
	statuses []statusReply
	orderIDs []idsReply
	chains   []model.Chain
	tokens   map[int64][]model.Token

	quoteCalls  []providers.QuoteRequest
	statusCalls int
	idCalls     int
	chainCalls  int
	tokenCalls  int
}

type statusReply struct {
	status model.OrderStatus
	err    error
}

type idsReply struct {
	ids []string
	err error
}

func (f *fakeProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: "fake", Type: "swap"}
}

func (f *fakeProvider) Quote(_ context.Context, req providers.QuoteRequest) (model.Quote, error) {
	f.mu.Lock()
	f.quoteCalls = append(f.quoteCalls, req)
	fn := f.quote
	f.mu.Unlock()
	if fn == nil {
		return sampleQuote(req), nil
	}
	return fn(req)
}

func (f *fakeProvider) OrderStatus(context.Context, string) (model.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return model.OrderStatusCreated, nil
	}
	reply := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return reply.status, reply.err
}

func (f *fakeProvider) OrderIDsByTx(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if len(f.orderIDs) == 0 {
		return nil, nil
	}
	reply := f.orderIDs[0]
	if len(f.orderIDs) > 1 {
		f.orderIDs = f.orderIDs[1:]
	}
	return reply.ids, reply.err
}

func (f *fakeProvider) Chains(context.Context) ([]model.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainCalls++
	return f.chains, nil
}

func (f *fakeProvider) Tokens(_ context.Context, chainID int64) ([]model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	return f.tokens[chainID], nil
}

func (f *fakeProvider) counts() (quotes, statuses, ids int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.quoteCalls), f.statusCalls, f.idCalls
}

func sampleQuote(req providers.QuoteRequest) model.Quote {
	q := model.Quote{
		Source: model.QuoteLeg{
			ChainID: req.SourceChainID,
			Address: req.SourceToken,
			Symbol:  "USDC",
			Amount:  model.AmountInfo{AmountBaseUnits: req.SourceAmount, AmountDecimal: "1.000000", Decimals: 6},
		},
		Destination: model.QuoteLeg{
			ChainID: req.DestinationChainID,
			Address: req.DestinationToken,
			Symbol:  "USDC",
			Amount:  model.AmountInfo{AmountBaseUnits: "998000", AmountDecimal: "0.998000", Decimals: 6},
		},
		Provider: "fake",
	}
	if req.HasAddresses() {
		q.Tx = &model.TxPayload{To: "0xeF4fB24aD0916217251F553c0596F8Edc630EB66", Data: "0xabcd", Value: "1000000000000000"}
		q.OrderID = testOrderID
	}
	return q
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(scheduler.Config{Spacing: 0, MaxRetries: 3, BaseBackoff: time.Millisecond}, scheduler.WithLogger(zap.NewNop()))
	t.Cleanup(s.Close)
	return s
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}
