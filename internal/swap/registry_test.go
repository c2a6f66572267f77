package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
)

func TestRegistryRejectsDuplicateChains(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddChains([]model.Chain{{ChainID: 1, Name: "Ethereum"}}))

	err := r.AddChains([]model.Chain{{ChainID: 10, Name: "Optimism"}, {ChainID: 1, Name: "Mainnet"}})
	require.Error(t, err)
	assert.True(t, clierr.HasCode(err, clierr.CodeValidation))
	_, ok := r.Chain(10)
	assert.False(t, ok, "batch must be rejected as a whole")

	assert.Error(t, r.AddChains([]model.Chain{{ChainID: 56}, {ChainID: 56}}))
}

func TestRegistryTokensKeyedByLowercasedAddress(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddTokens([]model.Token{
		{ChainID: 1, Address: usdcEth, Symbol: "USDC", Decimals: 6},
		{ChainID: 42161, Address: usdcArb, Symbol: "USDC", Decimals: 6},
	}))
	require.NoError(t, r.AddTokens([]model.Token{{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "FAKE", Decimals: 2}}))

	tok, ok := r.Token(1, "0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48")
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Symbol)
	assert.Len(t, r.Tokens(1), 1)
	assert.True(t, r.HasTokens(42161))
	assert.False(t, r.HasTokens(10))
}

func TestRegistryResolveToken(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddTokens([]model.Token{
		{ChainID: 1, Address: usdcEth, Symbol: "USDC", Decimals: 6},
		{ChainID: 1, Address: "0x1111111111111111111111111111111111111111", Symbol: "DUP", Decimals: 18},
		{ChainID: 1, Address: "0x2222222222222222222222222222222222222222", Symbol: "dup", Decimals: 18},
	}))

	tok, err := r.ResolveToken(1, "Usdc")
	require.NoError(t, err)
	assert.Equal(t, usdcEth, tok.Address)

	_, err = r.ResolveToken(1, "DUP")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x1111111111111111111111111111111111111111")

	_, err = r.ResolveToken(1, "WBTC")
	assert.Error(t, err)
	_, err = r.ResolveToken(1, " ")
	assert.Error(t, err)
}

func TestRegistryRejectsInvalidTokens(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.AddTokens([]model.Token{{ChainID: 0, Address: usdcEth}}))
	assert.Error(t, r.AddTokens([]model.Token{{ChainID: 1, Address: usdcEth, Decimals: -1}}))
}
