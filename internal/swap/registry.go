package swap

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
)

// Registry holds chain and token reference data for a session. Entries are
// immutable once added.
type Registry struct {
	mu       sync.RWMutex
	chains   map[int64]model.Chain
	tokens   map[model.TokenKey]model.Token
	loaded   map[int64]bool
	bySymbol map[int64]map[string][]model.TokenKey
}

func NewRegistry() *Registry {
	return &Registry{
		chains:   map[int64]model.Chain{},
		tokens:   map[model.TokenKey]model.Token{},
		loaded:   map[int64]bool{},
		bySymbol: map[int64]map[string][]model.TokenKey{},
	}
}

func tokenKey(chainID int64, address string) model.TokenKey {
	return model.TokenKey{ChainID: chainID, Address: id.NormalizeAddress(id.ChainByID(chainID), address)}
}

// AddChains registers chains. A chain id already present is an error.
func (r *Registry) AddChains(chains []model.Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	for _, c := range chains {
		if c.ChainID <= 0 {
			return clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid chain id %d", c.ChainID))
		}
		if _, ok := r.chains[c.ChainID]; ok || seen[c.ChainID] {
			return clierr.New(clierr.CodeValidation, fmt.Sprintf("duplicate chain id %d", c.ChainID))
		}
		seen[c.ChainID] = true
	}
	for _, c := range chains {
		r.chains[c.ChainID] = c
	}
	return nil
}

// AddTokens registers the token list of one or more chains. Tokens already
// known under the same key are left untouched.
func (r *Registry) AddTokens(tokens []model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		if t.ChainID <= 0 || strings.TrimSpace(t.Address) == "" {
			return clierr.New(clierr.CodeValidation, fmt.Sprintf("token %q has no chain or address", t.Symbol))
		}
		if t.Decimals < 0 {
			return clierr.New(clierr.CodeValidation, fmt.Sprintf("token %s has negative decimals", t.Address))
		}
	}
	for _, t := range tokens {
		key := tokenKey(t.ChainID, t.Address)
		r.loaded[t.ChainID] = true
		if _, ok := r.tokens[key]; ok {
			continue
		}
		r.tokens[key] = t
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" {
			continue
		}
		if r.bySymbol[t.ChainID] == nil {
			r.bySymbol[t.ChainID] = map[string][]model.TokenKey{}
		}
		r.bySymbol[t.ChainID][sym] = append(r.bySymbol[t.ChainID][sym], key)
	}
	return nil
}

func (r *Registry) HasChains() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains) > 0
}

func (r *Registry) HasTokens(chainID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[chainID]
}

func (r *Registry) Chain(chainID int64) (model.Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	return c, ok
}

func (r *Registry) Chains() []model.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func (r *Registry) Token(chainID int64, address string) (model.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tokenKey(chainID, address)]
	return t, ok
}

func (r *Registry) Tokens(chainID int64) []model.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.Token{}
	for key, t := range r.tokens {
		if key.ChainID == chainID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// ResolveToken finds a token by address or by case-insensitive symbol.
// Ambiguous symbols are rejected with the candidate addresses listed.
func (r *Registry) ResolveToken(chainID int64, input string) (model.Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return model.Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if t, ok := r.Token(chainID, raw); ok {
		return t, nil
	}

	r.mu.RLock()
	keys := r.bySymbol[chainID][strings.ToUpper(raw)]
	matches := make([]model.Token, 0, len(keys))
	for _, key := range keys {
		matches = append(matches, r.tokens[key])
	}
	r.mu.RUnlock()

	switch len(matches) {
	case 0:
		return model.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("token %s not found on chain %d", input, chainID))
	case 1:
		return matches[0], nil
	default:
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return model.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %d, use an address (%s)", input, chainID, strings.Join(addresses, ", ")))
	}
}
