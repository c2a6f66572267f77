package amount

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
)

type feeKind int

const (
	feeOther feeKind = iota
	feeProtocol
	feeSolver
)

// Cost item type tags, lower-cased. DLN reports the solver's share under
// several names; they are summed into one solver fee.
var feeKinds = map[string]feeKind{
	"protocolfee":                feeProtocol,
	"dlnprotocolfee":             feeProtocol,
	"solverfee":                  feeSolver,
	"takermargin":                feeSolver,
	"estimatedoperatingexpenses": feeSolver,
}

func classify(costType string) feeKind {
	return feeKinds[strings.ToLower(strings.TrimSpace(costType))]
}

// SummarizeCosts extracts the protocol and solver fees from a quote's cost
// breakdown, expressed in the source token. Missing items count as zero. Fee
// items charged in another token cannot be priced in the source token; they
// are left out of the sums and returned in OtherTokenCosts.
func SummarizeCosts(q model.Quote) (model.CostSummary, error) {
	protocol := new(big.Int)
	solver := new(big.Int)
	var other []model.CostItem
	for _, item := range q.Costs {
		kind := classify(item.Type)
		if kind == feeOther {
			continue
		}
		raw := strings.TrimSpace(item.AmountIn)
		if raw == "" {
			continue
		}
		if _, err := fromBaseUnits(raw, 0); err != nil {
			return model.CostSummary{}, err
		}
		if !InSourceToken(q, item) {
			other = append(other, item)
			continue
		}
		v, _ := new(big.Int).SetString(raw, 10)
		if kind == feeProtocol {
			protocol.Add(protocol, v)
		} else {
			solver.Add(solver, v)
		}
	}

	decimals := q.Source.Amount.Decimals
	protocolFee, err := ToDecimalAmount(protocol.String(), decimals)
	if err != nil {
		return model.CostSummary{}, err
	}
	solverFee, err := ToDecimalAmount(solver.String(), decimals)
	if err != nil {
		return model.CostSummary{}, err
	}
	p, err := ParseDisplay(protocolFee)
	if err != nil {
		return model.CostSummary{}, err
	}
	s, err := ParseDisplay(solverFee)
	if err != nil {
		return model.CostSummary{}, err
	}
	return model.CostSummary{
		Symbol:          q.Source.Symbol,
		ProtocolFee:     protocolFee,
		SolverFee:       solverFee,
		TotalFee:        FormatDisplay(decimal.Sum(p, s)),
		OtherTokenCosts: other,
	}, nil
}

// InSourceToken reports whether a cost item is charged in the quote's source
// token. Items that name neither a chain nor a token are taken to be.
func InSourceToken(q model.Quote, item model.CostItem) bool {
	if chain := strings.TrimSpace(item.Chain); chain != "" && chain != strconv.FormatInt(q.Source.ChainID, 10) {
		return false
	}
	token := strings.TrimSpace(item.TokenIn)
	if token == "" {
		return true
	}
	src := id.ChainByID(q.Source.ChainID)
	return id.NormalizeAddress(src, token) == id.NormalizeAddress(src, q.Source.Address)
}
