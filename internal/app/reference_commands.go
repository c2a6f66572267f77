package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap/internal/cache"
	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
)

const (
	chainsTTL = time.Hour
	tokensTTL = 30 * time.Minute
)

func (s *runtimeState) cachePolicy(ttl time.Duration) cache.Policy {
	return cache.Policy{TTL: ttl, MaxStale: s.settings.MaxStale, NoStale: s.settings.NoStale}
}

func (s *runtimeState) cacheStore() *cache.Store {
	if !s.settings.CacheEnabled {
		return nil
	}
	return s.cache
}

func (s *runtimeState) loadChains(ctx context.Context) ([]model.Chain, model.CacheStatus, []string, error) {
	key := cache.Key("chains", s.settings.APIURL)
	return cache.Lookup(ctx, s.cacheStore(), key, s.cachePolicy(chainsTTL), func(ctx context.Context) ([]model.Chain, error) {
		started := s.runner.now()
		chains, err := s.engine.Chains(ctx)
		s.recordProvider(started, err)
		return chains, err
	})
}

// loadTokens returns the token list of a chain and makes it available to the
// engine's registry for symbol resolution.
func (s *runtimeState) loadTokens(ctx context.Context, chainID int64) ([]model.Token, model.CacheStatus, []string, error) {
	key := cache.Key("tokens", s.settings.APIURL, strconv.FormatInt(chainID, 10))
	tokens, status, warnings, err := cache.Lookup(ctx, s.cacheStore(), key, s.cachePolicy(tokensTTL), func(ctx context.Context) ([]model.Token, error) {
		started := s.runner.now()
		tokens, err := s.engine.Tokens(ctx, chainID)
		s.recordProvider(started, err)
		return tokens, err
	})
	if err != nil {
		return nil, status, warnings, err
	}
	if reg := s.engine.Registry(); !reg.HasTokens(chainID) {
		if err := reg.AddTokens(tokens); err != nil {
			return nil, status, warnings, err
		}
	}
	return tokens, status, warnings, nil
}

// resolveToken accepts a symbol or an address. Addresses missing from the
// provider's token list are passed through with unknown decimals (-1).
func (s *runtimeState) resolveToken(ctx context.Context, chain id.Chain, input string) (model.Token, []string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.Token{}, nil, clierr.New(clierr.CodeUsage, "token is required")
	}
	isAddress := id.IsNativeToken(input) || id.ValidateAddress(chain, input, "token") == nil
	_, _, warnings, err := s.loadTokens(ctx, chain.ChainID)
	if err != nil {
		if isAddress {
			return model.Token{ChainID: chain.ChainID, Address: input, Decimals: -1}, append(warnings, "token list unavailable: "+err.Error()), nil
		}
		return model.Token{}, warnings, err
	}
	tok, err := s.engine.Registry().ResolveToken(chain.ChainID, input)
	if err != nil {
		if isAddress {
			return model.Token{ChainID: chain.ChainID, Address: input, Decimals: -1}, warnings, nil
		}
		return model.Token{}, warnings, err
	}
	return tok, warnings, nil
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains supported for cross-chain orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			chains, status, warnings, err := s.loadChains(s.commandContext(cmd))
			if err != nil {
				return err
			}
			return s.emitSuccess(cmd, chains, warnings, status)
		},
	}
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	var chainArg, symbol string
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List tokens supported on a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			ctx := s.commandContext(cmd)
			if strings.TrimSpace(symbol) != "" {
				tok, warnings, err := s.resolveToken(ctx, chain, symbol)
				if err != nil {
					return err
				}
				return s.emitSuccess(cmd, []model.Token{tok}, warnings, cacheMetaBypass())
			}
			tokens, status, warnings, err := s.loadTokens(ctx, chain.ChainID)
			if err != nil {
				return err
			}
			return s.emitSuccess(cmd, tokens, warnings, status)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier (slug, chain id, or CAIP-2)")
	cmd.Flags().StringVar(&symbol, "token", "", "Resolve a single token by symbol or address")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}
