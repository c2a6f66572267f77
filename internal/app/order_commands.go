package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/out"
	"github.com/ggonzalez94/xswap/internal/registry"
	"github.com/ggonzalez94/xswap/internal/scheduler"
	"github.com/ggonzalez94/xswap/internal/swap"
)

type orderStatusView struct {
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	Terminal    bool              `json:"terminal"`
	ExplorerURL string            `json:"explorer_url"`
}

type watchView struct {
	OrderID     string               `json:"order_id"`
	Status      model.OrderStatus    `json:"status"`
	Terminal    bool                 `json:"terminal"`
	Polls       int                  `json:"polls"`
	History     []model.StatusUpdate `json:"history"`
	ExplorerURL string               `json:"explorer_url"`
}

func (s *runtimeState) newOrderCommand() *cobra.Command {
	root := &cobra.Command{Use: "order", Short: "Build, submit, and track cross-chain orders"}
	root.AddCommand(s.newOrderBuildCommand())
	root.AddCommand(s.newOrderSubmitCommand())
	root.AddCommand(s.newOrderStatusCommand())
	root.AddCommand(s.newOrderWatchCommand())
	root.AddCommand(s.newOrderListCommand())
	return root
}

func (s *runtimeState) newOrderBuildCommand() *cobra.Command {
	var (
		args  swapArgs
		addrs swap.Addresses
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the transaction for a cross-chain order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := s.commandContext(cmd)
			req, warnings, err := s.request(ctx, args)
			if err != nil {
				s.lastWarnings = warnings
				return err
			}
			started := s.runner.now()
			quote, err := s.engine.GetQuote(ctx, req)
			s.recordProvider(started, err)
			if err != nil {
				return err
			}
			started = s.runner.now()
			built, err := s.engine.BuildOrder(ctx, quote, addrs, s.quoteOptions(args))
			s.recordProvider(started, err)
			if err != nil {
				return err
			}
			if built.Approval != nil {
				warnings = append(warnings, fmt.Sprintf("send the approval transaction to %s before the order transaction", built.Approval.To))
			}
			return s.emitSuccess(cmd, built, warnings, cacheMetaBypass())
		},
	}
	args.bind(cmd)
	cmd.Flags().StringVar(&addrs.Sender, "sender", "", "Sender address on the source chain")
	cmd.Flags().StringVar(&addrs.Recipient, "recipient", "", "Recipient address on the destination chain")
	cmd.Flags().StringVar(&addrs.SrcAuthority, "src-authority", "", "Order authority on the source chain (default: sender)")
	cmd.Flags().StringVar(&addrs.DstAuthority, "dst-authority", "", "Order authority on the destination chain (default: recipient)")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func (s *runtimeState) newOrderSubmitCommand() *cobra.Command {
	var buildFile, txHash string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a broadcast order and resolve its order id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := s.readBuiltOrder(buildFile)
			if err != nil {
				return err
			}
			order, err := s.engine.Submit(s.commandContext(cmd), built, txHash)
			if err != nil {
				return err
			}
			return s.emitSuccess(cmd, order, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&buildFile, "build-file", "-", "Output of 'order build' (path, or - for stdin)")
	cmd.Flags().StringVar(&txHash, "tx-hash", "", "Hash of the broadcast order transaction")
	_ = cmd.MarkFlagRequired("tx-hash")
	return cmd
}

// readBuiltOrder accepts either the full envelope printed by 'order build' or
// just its data payload.
func (s *runtimeState) readBuiltOrder(path string) (model.BuiltOrder, error) {
	var (
		raw []byte
		err error
	)
	if strings.TrimSpace(path) == "" || path == "-" {
		raw, err = io.ReadAll(s.runner.stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return model.BuiltOrder{}, clierr.Wrap(clierr.CodeUsage, "read build file", err)
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}
	var built model.BuiltOrder
	if err := json.Unmarshal(raw, &built); err != nil {
		return model.BuiltOrder{}, clierr.Wrap(clierr.CodeUsage, "decode build file", err)
	}
	if built.Quote.Source.ChainID == 0 || built.Tx.To == "" {
		return model.BuiltOrder{}, clierr.New(clierr.CodeUsage, "build file does not contain a built order")
	}
	return built, nil
}

func (s *runtimeState) newOrderStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id>",
		Short: "Fetch the current status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := strings.TrimSpace(args[0])
			if err := id.ValidateOrderID(orderID); err != nil {
				return err
			}
			ctx := s.commandContext(cmd)
			started := s.runner.now()
			status, err := scheduler.Do(ctx, s.sched, func(ctx context.Context) (model.OrderStatus, error) {
				return s.provider.OrderStatus(ctx, orderID)
			})
			s.recordProvider(started, err)
			s.metrics.ObservePoll(status, err)
			if err != nil {
				return err
			}
			if err := s.engine.Store().UpdateStatus(ctx, orderID, status, s.runner.now()); err != nil {
				s.logger.Debug("order not recorded locally", zap.String("order_id", orderID), zap.Error(err))
			}
			return s.emitSuccess(cmd, orderStatusView{
				OrderID:     orderID,
				Status:      status,
				Terminal:    status.Terminal(),
				ExplorerURL: registry.OrderExplorerURL(orderID),
			}, nil, cacheMetaBypass())
		},
	}
}

func (s *runtimeState) newOrderWatchCommand() *cobra.Command {
	var maxWait time.Duration
	cmd := &cobra.Command{
		Use:   "watch <order-id>",
		Short: "Poll an order until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := strings.TrimSpace(args[0])
			ctx := s.commandContext(cmd)
			if maxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxWait)
				defer cancel()
			}

			plain := s.settings.OutputMode == "plain"
			handle, err := s.tracker.Track(ctx, orderID, func(u model.StatusUpdate) {
				if plain {
					_, _ = fmt.Fprintln(s.runner.stdout, out.StatusLine(u))
				}
			})
			if err != nil {
				return err
			}
			<-handle.Done()

			history := s.tracker.History(orderID)
			current, _ := s.tracker.Current(orderID)
			view := watchView{
				OrderID:     orderID,
				Status:      current,
				Terminal:    current.Terminal(),
				Polls:       len(history),
				History:     history,
				ExplorerURL: registry.OrderExplorerURL(orderID),
			}
			var warnings []string
			if !view.Terminal {
				warnings = append(warnings, "stopped watching before the order reached a terminal status")
			}
			if plain && !s.settings.ResultsOnly && len(s.settings.SelectFields) == 0 {
				for _, w := range warnings {
					_, _ = fmt.Fprintln(s.runner.stdout, "warning: "+w)
				}
				return nil
			}
			return s.emitSuccess(cmd, view, warnings, cacheMetaBypass())
		},
	}
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "Stop watching after this long (0 waits until terminal)")
	return cmd
}

func (s *runtimeState) newOrderListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders submitted from this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orders, err := s.engine.Store().List(s.commandContext(cmd), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list orders", err)
			}
			return s.emitSuccess(cmd, orders, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum orders to return")
	return cmd
}
