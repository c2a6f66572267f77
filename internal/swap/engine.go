// Package swap implements cross-chain swap orchestration: quoting, order
// building and submission, and order status tracking. All provider calls go
// through a shared scheduler.
package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/providers"
	"github.com/ggonzalez94/xswap/internal/scheduler"
)

const (
	DefaultOrderIDAttempts = 5
	DefaultOrderIDDelay    = 3 * time.Second

	quoteUnavailableMessage = "quote unavailable, try again"
)

type QuoteOptions struct {
	Sender                   string
	Recipient                string
	SrcAuthority             string
	DstAuthority             string
	AffiliateFeePercent      float64 `validate:"gte=0,lt=100"`
	AffiliateFeeRecipient    string  `validate:"required_with=AffiliateFeePercent"`
	PriorityLevel            string  `validate:"omitempty,oneof=normal aggressive"`
	PrependOperatingExpenses bool
}

type QuoteRequest struct {
	SourceChainID      int64  `validate:"gt=0"`
	SourceToken        string `validate:"required"`
	SourceAmount       string `validate:"required,number"`
	DestinationChainID int64  `validate:"gt=0"`
	DestinationToken   string `validate:"required"`
	Options            QuoteOptions
}

// QuoteObserver receives one call per quote request.
type QuoteObserver interface {
	ObserveQuote(err error)
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithQuoteObserver(observer QuoteObserver) Option {
	return func(e *Engine) { e.observer = observer }
}

func WithStore(store OrderStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithRegistry(registry *Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithOrderIDLookup configures how many times and how often the order id is
// looked up by transaction hash.
func WithOrderIDLookup(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.orderIDAttempts = attempts
		}
		if delay >= 0 {
			e.orderIDDelay = delay
		}
	}
}

func withClock(now func() time.Time, sleep scheduler.SleepFunc) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// Engine produces quotes and orders against one provider.
type Engine struct {
	provider providers.CrossChainProvider
	sched    *scheduler.Scheduler
	registry *Registry
	validate *validator.Validate
	logger   *zap.Logger
	observer QuoteObserver
	store    OrderStore

	orderIDAttempts int
	orderIDDelay    time.Duration
	now             func() time.Time
	sleep           scheduler.SleepFunc
}

func NewEngine(provider providers.CrossChainProvider, sched *scheduler.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		provider:        provider,
		sched:           sched,
		registry:        NewRegistry(),
		validate:        validator.New(),
		logger:          zap.NewNop(),
		store:           NewMemoryStore(),
		orderIDAttempts: DefaultOrderIDAttempts,
		orderIDDelay:    DefaultOrderIDDelay,
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Store() OrderStore { return e.store }

// GetQuote requests a fresh estimation. It never caches: every call reflects
// current market conditions.
func (e *Engine) GetQuote(ctx context.Context, req QuoteRequest) (model.Quote, error) {
	quote, err := e.getQuote(ctx, req, false)
	if e.observer != nil {
		e.observer.ObserveQuote(err)
	}
	return quote, err
}

func (e *Engine) getQuote(ctx context.Context, req QuoteRequest, enableEstimate bool) (model.Quote, error) {
	if err := ValidatePair(req.SourceChainID, req.DestinationChainID); err != nil {
		return model.Quote{}, err
	}
	if err := e.validate.Struct(req); err != nil {
		return model.Quote{}, clierr.Wrap(clierr.CodeUsage, "invalid quote request", err)
	}

	preq := providers.QuoteRequest{
		SourceChainID:           req.SourceChainID,
		SourceToken:             strings.TrimSpace(req.SourceToken),
		SourceAmount:            strings.TrimSpace(req.SourceAmount),
		DestinationChainID:      req.DestinationChainID,
		DestinationToken:        strings.TrimSpace(req.DestinationToken),
		DestinationAmount:       "auto",
		Sender:                  strings.TrimSpace(req.Options.Sender),
		Recipient:               strings.TrimSpace(req.Options.Recipient),
		SrcAuthority:            strings.TrimSpace(req.Options.SrcAuthority),
		DstAuthority:            strings.TrimSpace(req.Options.DstAuthority),
		AffiliateFeePercent:     req.Options.AffiliateFeePercent,
		AffiliateFeeRecipient:   strings.TrimSpace(req.Options.AffiliateFeeRecipient),
		PrependOperatingExpense: req.Options.PrependOperatingExpenses,
		SrcChainPriorityLevel:   req.Options.PriorityLevel,
		EnableEstimate:          enableEstimate,
	}

	started := e.now()
	quote, err := scheduler.Do(ctx, e.sched, func(ctx context.Context) (model.Quote, error) {
		return e.provider.Quote(ctx, preq)
	})
	if err != nil {
		mapped := mapQuoteError(err)
		e.logger.Warn("quote failed",
			zap.Int64("src_chain_id", req.SourceChainID),
			zap.Int64("dst_chain_id", req.DestinationChainID),
			zap.Error(err))
		return model.Quote{}, mapped
	}
	e.logger.Debug("quote received",
		zap.Int64("src_chain_id", req.SourceChainID),
		zap.Int64("dst_chain_id", req.DestinationChainID),
		zap.String("dst_amount", quote.Destination.Amount.AmountBaseUnits),
		zap.Duration("elapsed", e.now().Sub(started)))
	return quote, nil
}

// ValidatePair rejects same-chain swaps before any provider call is made.
func ValidatePair(srcChainID, dstChainID int64) error {
	if srcChainID == dstChainID {
		return clierr.New(clierr.CodeSameChain, fmt.Sprintf("source and destination chain are both %d; cross-chain swaps need distinct chains", srcChainID))
	}
	return nil
}

// mapQuoteError turns transport failures into quote-level errors. The
// provider's own message is kept verbatim for rejected requests. Malformed
// responses stay validation errors.
func mapQuoteError(err error) error {
	cliErr, ok := clierr.As(err)
	if !ok {
		return err
	}
	switch {
	case clierr.HasCode(err, clierr.CodeRateLimited):
		return err
	case errors.Is(err, clierr.ErrMalformedResponse):
		return err
	case cliErr.Code == clierr.CodeValidation:
		msg := strings.TrimSpace(cliErr.Message)
		if msg == "" {
			msg = quoteUnavailableMessage
		}
		return clierr.Wrap(clierr.CodeUnsupportedPair, msg, err)
	case cliErr.Code == clierr.CodeUnavailable:
		return clierr.Wrap(clierr.CodeQuoteUnavailable, quoteUnavailableMessage, err)
	default:
		return err
	}
}

// Chains returns the provider's supported chains, fetched once per engine.
func (e *Engine) Chains(ctx context.Context) ([]model.Chain, error) {
	if !e.registry.HasChains() {
		chains, err := scheduler.Do(ctx, e.sched, func(ctx context.Context) ([]model.Chain, error) {
			return e.provider.Chains(ctx)
		})
		if err != nil {
			return nil, err
		}
		if !e.registry.HasChains() {
			if err := e.registry.AddChains(chains); err != nil {
				return nil, err
			}
		}
	}
	return e.registry.Chains(), nil
}

// Tokens returns the token list of a chain, fetched once per chain.
func (e *Engine) Tokens(ctx context.Context, chainID int64) ([]model.Token, error) {
	if !e.registry.HasTokens(chainID) {
		tokens, err := scheduler.Do(ctx, e.sched, func(ctx context.Context) ([]model.Token, error) {
			return e.provider.Tokens(ctx, chainID)
		})
		if err != nil {
			return nil, err
		}
		if err := e.registry.AddTokens(tokens); err != nil {
			return nil, err
		}
	}
	return e.registry.Tokens(chainID), nil
}

// ResolveToken resolves a symbol or address on a chain, loading the chain's
// token list on first use.
func (e *Engine) ResolveToken(ctx context.Context, chainID int64, input string) (model.Token, error) {
	if _, err := e.Tokens(ctx, chainID); err != nil {
		return model.Token{}, err
	}
	return e.registry.ResolveToken(chainID, input)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
