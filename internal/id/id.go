package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

var (
	eip155ChainPattern   = regexp.MustCompile(`^eip155:[0-9]+$`)
	solanaChainPattern   = regexp.MustCompile(`^solana:[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	solanaTxPattern      = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{64,88}$`)
	hash32Pattern        = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

const (
	solanaMainnetRef   = "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	solanaMainnetCAIP2 = "solana:" + solanaMainnetRef

	// SolanaChainID is the identifier DLN uses for Solana mainnet.
	SolanaChainID int64 = 7565164

	EVMNativeAddress    = "0x0000000000000000000000000000000000000000"
	SolanaNativeAddress = "11111111111111111111111111111111"
)

type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// Chain identifies a network by the chain id the swap provider uses.
type Chain struct {
	Name    string
	Slug    string
	ChainID int64
	Family  Family
	Native  NativeCoin
}

// NativeCoin describes a chain's gas token. It is zero for chains only known
// by id.
type NativeCoin struct {
	Name     string
	Symbol   string
	Decimals int
}

func (c Chain) IsEVM() bool    { return c.Family == FamilyEVM }
func (c Chain) IsSolana() bool { return c.Family == FamilySolana }

// NativeAddress is the sentinel token address for the chain's native coin.
func (c Chain) NativeAddress() string {
	if c.IsSolana() {
		return SolanaNativeAddress
	}
	return EVMNativeAddress
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", ChainID: 1, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", ChainID: 1, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"optimism":  {Name: "Optimism", Slug: "optimism", ChainID: 10, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"bsc":       {Name: "BNB Chain", Slug: "bsc", ChainID: 56, Family: FamilyEVM, Native: NativeCoin{Name: "BNB", Symbol: "BNB", Decimals: 18}},
	"polygon":   {Name: "Polygon", Slug: "polygon", ChainID: 137, Family: FamilyEVM, Native: NativeCoin{Name: "Polygon Ecosystem Token", Symbol: "POL", Decimals: 18}},
	"base":      {Name: "Base", Slug: "base", ChainID: 8453, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", ChainID: 42161, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", ChainID: 43114, Family: FamilyEVM, Native: NativeCoin{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}},
	"linea":     {Name: "Linea", Slug: "linea", ChainID: 59144, Family: FamilyEVM, Native: NativeCoin{Name: "Ether", Symbol: "ETH", Decimals: 18}},
	"solana":    {Name: "Solana", Slug: "solana", ChainID: SolanaChainID, Family: FamilySolana, Native: NativeCoin{Name: "Solana", Symbol: "SOL", Decimals: 9}},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.ChainID] = chain
	}
	return out
}()

// KnownChains returns the built-in chains ordered by chain id.
func KnownChains() []Chain {
	out := make([]Chain, 0, len(chainByID))
	for _, chain := range chainByID {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// ParseChain accepts a slug, a numeric chain id or a CAIP-2 identifier.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		id, _ := strconv.ParseInt(strings.TrimPrefix(norm, "eip155:"), 10, 64)
		return ChainByID(id), nil
	}

	if solanaChainPattern.MatchString(raw) {
		if raw != solanaMainnetCAIP2 {
			return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported solana cluster: %s", raw))
		}
		return chainBySlug["solana"], nil
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return ChainByID(id), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ChainByID returns the known chain for id, or a generic EVM chain.
func ChainByID(id int64) Chain {
	if chain, ok := chainByID[id]; ok {
		return chain
	}
	return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), ChainID: id, Family: FamilyEVM}
}

// IsNativeToken reports whether address is the native-coin sentinel.
func IsNativeToken(address string) bool {
	address = strings.TrimSpace(address)
	return strings.EqualFold(address, EVMNativeAddress) || address == SolanaNativeAddress
}

// ValidateAddress checks that address is well formed for the chain's family.
func ValidateAddress(chain Chain, address, field string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	switch chain.Family {
	case FamilySolana:
		if !solanaAddressPattern.MatchString(address) {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a base58 solana address", field))
		}
	default:
		if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed EVM address", field))
		}
	}
	return nil
}

// NormalizeAddress lower-cases EVM addresses; solana addresses are
// case-sensitive and returned trimmed.
func NormalizeAddress(chain Chain, address string) string {
	address = strings.TrimSpace(address)
	if chain.IsEVM() {
		return strings.ToLower(address)
	}
	return address
}

// ChecksumAddress renders an EVM address in EIP-55 form.
func ChecksumAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// ValidateOrderID checks the 32-byte hex order id format.
func ValidateOrderID(orderID string) error {
	if !hash32Pattern.MatchString(strings.TrimSpace(orderID)) {
		return clierr.New(clierr.CodeUsage, "order id must be a 0x-prefixed 32-byte hex string")
	}
	return nil
}

// ValidateTxHash checks an EVM transaction hash or a solana signature.
func ValidateTxHash(chain Chain, txHash string) error {
	txHash = strings.TrimSpace(txHash)
	if chain.IsSolana() {
		if !solanaTxPattern.MatchString(txHash) {
			return clierr.New(clierr.CodeUsage, "tx hash must be a base58 solana signature")
		}
		return nil
	}
	if !hash32Pattern.MatchString(txHash) {
		return clierr.New(clierr.CodeUsage, "tx hash must be a 0x-prefixed 32-byte hex string")
	}
	return nil
}
