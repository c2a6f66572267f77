package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/registry"
	"github.com/ggonzalez94/xswap/internal/scheduler"
)

// Addresses are the signer-side addresses an order is built for. Authorities
// default to the sender (source chain) and recipient (destination chain).
type Addresses struct {
	Sender       string
	Recipient    string
	SrcAuthority string
	DstAuthority string
}

func (a Addresses) withDefaults() Addresses {
	a.Sender = strings.TrimSpace(a.Sender)
	a.Recipient = strings.TrimSpace(a.Recipient)
	if strings.TrimSpace(a.SrcAuthority) == "" {
		a.SrcAuthority = a.Sender
	}
	if strings.TrimSpace(a.DstAuthority) == "" {
		a.DstAuthority = a.Recipient
	}
	a.SrcAuthority = strings.TrimSpace(a.SrcAuthority)
	a.DstAuthority = strings.TrimSpace(a.DstAuthority)
	return a
}

func (a Addresses) validate(src, dst id.Chain) error {
	checks := []struct {
		chain id.Chain
		value string
		field string
	}{
		{src, a.Sender, "sender"},
		{dst, a.Recipient, "recipient"},
		{src, a.SrcAuthority, "source authority"},
		{dst, a.DstAuthority, "destination authority"},
	}
	for _, c := range checks {
		if err := id.ValidateAddress(c.chain, c.value, c.field); err != nil {
			return err
		}
	}
	return nil
}

// BuildOrder re-requests the quote with concrete addresses and estimation
// enabled, which yields the transaction to sign. Quote failures propagate
// unchanged.
func (e *Engine) BuildOrder(ctx context.Context, quote model.Quote, addrs Addresses, opts QuoteOptions) (model.BuiltOrder, error) {
	addrs = addrs.withDefaults()
	srcChain := id.ChainByID(quote.Source.ChainID)
	dstChain := id.ChainByID(quote.Destination.ChainID)
	if err := addrs.validate(srcChain, dstChain); err != nil {
		return model.BuiltOrder{}, err
	}

	opts.Sender = addrs.Sender
	opts.Recipient = addrs.Recipient
	opts.SrcAuthority = addrs.SrcAuthority
	opts.DstAuthority = addrs.DstAuthority
	fresh, err := e.getQuote(ctx, QuoteRequest{
		SourceChainID:      quote.Source.ChainID,
		SourceToken:        quote.Source.Address,
		SourceAmount:       quote.Source.Amount.AmountBaseUnits,
		DestinationChainID: quote.Destination.ChainID,
		DestinationToken:   quote.Destination.Address,
		Options:            opts,
	}, true)
	if e.observer != nil {
		e.observer.ObserveQuote(err)
	}
	if err != nil {
		return model.BuiltOrder{}, err
	}
	if fresh.Tx == nil {
		return model.BuiltOrder{}, clierr.New(clierr.CodeUnavailable, "provider returned no transaction for the order")
	}

	built := model.BuiltOrder{
		Quote:            fresh,
		Tx:               *fresh.Tx,
		OrderIDCandidate: fresh.OrderID,
		Sender:           addrs.Sender,
		Recipient:        addrs.Recipient,
		SrcAuthority:     addrs.SrcAuthority,
		DstAuthority:     addrs.DstAuthority,
	}
	if srcChain.IsEVM() && !id.IsNativeToken(fresh.Source.Address) {
		if !registry.IsKnownSpender(fresh.Tx.To) {
			e.logger.Warn("order transaction targets an unrecognized contract", zap.String("to", fresh.Tx.To))
		}
		approval, err := BuildApproval(fresh.Source.Address, fresh.Tx.To, fresh.Source.Amount.AmountBaseUnits)
		if err != nil {
			return model.BuiltOrder{}, err
		}
		built.Approval = &approval
	}
	return built, nil
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BuildApproval returns the ERC-20 approve transaction that lets spender pull
// amount base units of token.
func BuildApproval(token, spender, amountBaseUnits string) (model.TxPayload, error) {
	if !common.IsHexAddress(token) {
		return model.TxPayload{}, clierr.New(clierr.CodeUsage, "approval requires an ERC20 token address")
	}
	if !common.IsHexAddress(spender) {
		return model.TxPayload{}, clierr.New(clierr.CodeUsage, "approval spender must be a valid EVM address")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountBaseUnits), 10)
	if !ok || amount.Sign() <= 0 {
		return model.TxPayload{}, clierr.New(clierr.CodeUsage, "approval amount must be a positive integer in base units")
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return model.TxPayload{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	return model.TxPayload{
		To:    common.HexToAddress(token).Hex(),
		Data:  "0x" + common.Bytes2Hex(data),
		Value: "0",
	}, nil
}

// ResolveOrderID looks up the order created by a broadcast transaction,
// retrying while the provider has not indexed it yet.
func (e *Engine) ResolveOrderID(ctx context.Context, txHash string) (string, error) {
	txHash = strings.TrimSpace(txHash)
	var lastErr error
	for attempt := 1; attempt <= e.orderIDAttempts; attempt++ {
		ids, err := scheduler.Do(ctx, e.sched, func(ctx context.Context) ([]string, error) {
			return e.provider.OrderIDsByTx(ctx, txHash)
		})
		if err == nil && len(ids) > 0 {
			return ids[0], nil
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		e.logger.Debug("order id not yet available",
			zap.String("tx_hash", txHash),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < e.orderIDAttempts {
			if err := e.sleep(ctx, e.orderIDDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	msg := fmt.Sprintf("order submitted in %s but its id could not be resolved", txHash)
	return "", clierr.Wrap(clierr.CodeOrderIDUnresolved, msg, lastErr)
}

// Submit records a broadcast order as Created. When the builder did not get
// an order id up front it is resolved from txHash; if that fails the order is
// returned untracked together with CodeOrderIDUnresolved.
func (e *Engine) Submit(ctx context.Context, built model.BuiltOrder, txHash string) (model.Order, error) {
	srcChain := id.ChainByID(built.Quote.Source.ChainID)
	if err := id.ValidateTxHash(srcChain, txHash); err != nil {
		return model.Order{}, err
	}
	now := e.now().UTC()
	order := model.Order{
		OrderID:            strings.TrimSpace(built.OrderIDCandidate),
		SourceChainID:      built.Quote.Source.ChainID,
		SourceToken:        built.Quote.Source.Address,
		SourceAmount:       built.Quote.Source.Amount.AmountBaseUnits,
		DestinationChainID: built.Quote.Destination.ChainID,
		DestinationToken:   built.Quote.Destination.Address,
		DestinationAmount:  built.Quote.Destination.Amount.AmountBaseUnits,
		Sender:             built.Sender,
		Recipient:          built.Recipient,
		SrcAuthority:       built.SrcAuthority,
		DstAuthority:       built.DstAuthority,
		Status:             model.OrderStatusCreated,
		TxHash:             strings.TrimSpace(txHash),
	}
	order.CreatedAt = now.Format(time.RFC3339)
	order.Touch(now)

	if order.OrderID == "" {
		resolved, err := e.ResolveOrderID(ctx, txHash)
		if err != nil {
			return order, err
		}
		order.OrderID = resolved
	}
	if err := id.ValidateOrderID(order.OrderID); err != nil {
		return order, clierr.Wrap(clierr.CodeValidation, "provider returned a malformed order id", err)
	}
	if err := e.store.Save(ctx, order); err != nil {
		return order, err
	}
	e.logger.Info("order submitted", zap.String("order_id", order.OrderID), zap.String("tx_hash", order.TxHash))
	return order, nil
}
