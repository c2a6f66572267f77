package app

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap/internal/amount"
	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/out"
	"github.com/ggonzalez94/xswap/internal/swap"
)

// swapArgs are the flags shared by quote and order build.
type swapArgs struct {
	fromChain     string
	toChain       string
	fromToken     string
	toToken       string
	amountBase    string
	amountDecimal string
	priority      string
	prependOpEx   bool
}

func (a *swapArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.fromChain, "from-chain", "", "Source chain identifier")
	cmd.Flags().StringVar(&a.toChain, "to-chain", "", "Destination chain identifier")
	cmd.Flags().StringVar(&a.fromToken, "from-token", "", "Source token symbol or address")
	cmd.Flags().StringVar(&a.toToken, "to-token", "", "Destination token symbol or address")
	cmd.Flags().StringVar(&a.amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.priority, "priority", "", "Source chain priority (normal|aggressive)")
	cmd.Flags().BoolVar(&a.prependOpEx, "prepend-operating-expenses", false, "Add operating expenses on top of the input amount")
	_ = cmd.MarkFlagRequired("from-chain")
	_ = cmd.MarkFlagRequired("to-chain")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
}

// request resolves chains, tokens and the amount into an engine request.
// Same-chain pairs are rejected before any provider call.
func (s *runtimeState) request(ctx context.Context, a swapArgs) (swap.QuoteRequest, []string, error) {
	src, err := id.ParseChain(a.fromChain)
	if err != nil {
		return swap.QuoteRequest{}, nil, err
	}
	dst, err := id.ParseChain(a.toChain)
	if err != nil {
		return swap.QuoteRequest{}, nil, err
	}
	if err := swap.ValidatePair(src.ChainID, dst.ChainID); err != nil {
		return swap.QuoteRequest{}, nil, err
	}

	srcToken, warnings, err := s.resolveToken(ctx, src, a.fromToken)
	if err != nil {
		return swap.QuoteRequest{}, warnings, err
	}
	dstToken, more, err := s.resolveToken(ctx, dst, a.toToken)
	warnings = append(warnings, more...)
	if err != nil {
		return swap.QuoteRequest{}, warnings, err
	}

	decimals := srcToken.Decimals
	if decimals < 0 {
		if strings.TrimSpace(a.amountDecimal) != "" {
			return swap.QuoteRequest{}, warnings, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimals of %s are unknown; pass --amount in base units", srcToken.Address))
		}
		decimals = 0
	}
	base, _, err := amount.NormalizeAmount(strings.TrimSpace(a.amountBase), strings.TrimSpace(a.amountDecimal), decimals)
	if err != nil {
		return swap.QuoteRequest{}, warnings, err
	}

	return swap.QuoteRequest{
		SourceChainID:      src.ChainID,
		SourceToken:        srcToken.Address,
		SourceAmount:       base,
		DestinationChainID: dst.ChainID,
		DestinationToken:   dstToken.Address,
		Options:            s.quoteOptions(a),
	}, warnings, nil
}

func (s *runtimeState) quoteOptions(a swapArgs) swap.QuoteOptions {
	return swap.QuoteOptions{
		AffiliateFeePercent:      s.settings.AffiliateFeePct,
		AffiliateFeeRecipient:    s.settings.AffiliateReceiver,
		PriorityLevel:            strings.ToLower(strings.TrimSpace(a.priority)),
		PrependOperatingExpenses: a.prependOpEx,
	}
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var args swapArgs
	var interactive bool
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a cross-chain swap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := s.commandContext(cmd)
			if interactive {
				return s.quoteInteractive(ctx, args, debounce)
			}
			req, warnings, err := s.request(ctx, args)
			if err != nil {
				s.lastWarnings = warnings
				return err
			}
			started := s.runner.now()
			quote, err := s.engine.GetQuote(ctx, req)
			s.recordProvider(started, err)
			if err != nil {
				s.lastWarnings = warnings
				return err
			}
			view, err := quoteView(quote)
			if err != nil {
				return err
			}
			if s.settings.OutputMode == "plain" && !s.settings.ResultsOnly && len(s.settings.SelectFields) == 0 {
				return s.printQuote(view, warnings)
			}
			return s.emitSuccess(cmd, view, warnings, cacheMetaBypass())
		},
	}
	args.bind(cmd)
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Read decimal amounts from stdin, one per line, and re-quote as they change")
	cmd.Flags().DurationVar(&debounce, "debounce", swap.DefaultDebounce, "Quiet period before re-quoting in interactive mode")
	return cmd
}

// quoteInteractive re-quotes the latest amount read from stdin once input has
// been quiet for the debounce window. EOF flushes the pending amount.
func (s *runtimeState) quoteInteractive(ctx context.Context, args swapArgs, window time.Duration) error {
	d := swap.NewDebouncer(window)
	defer d.Stop()

	var mu sync.Mutex
	quoteOnce := func(line string) {
		a := args
		a.amountBase, a.amountDecimal = "", line
		mu.Lock()
		defer mu.Unlock()
		req, _, err := s.request(ctx, a)
		if err == nil {
			var quote model.Quote
			quote, err = s.engine.GetQuote(ctx, req)
			if err == nil {
				var view model.QuoteView
				if view, err = quoteView(quote); err == nil {
					_, err = fmt.Fprintln(s.runner.stdout, out.QuoteLine(view.Quote, view.Costs))
				}
			}
		}
		if err != nil {
			_, _ = fmt.Fprintf(s.runner.stderr, "%s: %v\n", line, err)
		}
	}

	scanner := bufio.NewScanner(s.runner.stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.Trigger(func() { quoteOnce(line) })
	}
	d.Flush()
	if err := scanner.Err(); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "read amounts from stdin", err)
	}
	return nil
}

func quoteView(q model.Quote) (model.QuoteView, error) {
	costs, err := amount.SummarizeCosts(q)
	if err != nil {
		return model.QuoteView{}, err
	}
	view := model.QuoteView{Quote: q, Costs: costs}
	if q.Source.Amount.AmountBaseUnits == "0" || q.Destination.Amount.AmountBaseUnits == "0" {
		view.Warning = "quoted amount is zero"
	}
	return view, nil
}

func (s *runtimeState) printQuote(view model.QuoteView, warnings []string) error {
	w := s.runner.stdout
	if _, err := fmt.Fprintln(w, out.QuoteLine(view.Quote, view.Costs)); err != nil {
		return err
	}
	for _, line := range out.FeeBreakdown(view.Quote) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	for _, warning := range append(warnings, view.Warning) {
		if warning != "" {
			if _, err := fmt.Fprintln(w, "warning: "+warning); err != nil {
				return err
			}
		}
	}
	return nil
}
