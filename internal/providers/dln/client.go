package dln

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	gethmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/xswap/internal/amount"
	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/httpx"
	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/providers"
	"github.com/ggonzalez94/xswap/internal/registry"
)

const providerName = "dln"

var baseUnitsPattern = regexp.MustCompile(`^[0-9]+$`)

type Client struct {
	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.DLNBaseURL, now: time.Now}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if strings.TrimSpace(baseURL) != "" {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        providerName,
		Type:        "cross-chain-swap",
		RequiresKey: false,
		Capabilities: []string{
			"chains.list",
			"tokens.list",
			"swap.quote",
			"order.build",
			"order.status",
		},
		BaseURL: c.baseURL,
	}
}

type tokenAmount struct {
	ChainID           int64  `json:"chainId"`
	Address           string `json:"address"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Decimals          int    `json:"decimals"`
	Amount            string `json:"amount"`
	RecommendedAmount string `json:"recommendedAmount"`
}

type costDetail struct {
	Chain     string `json:"chain"`
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Type      string `json:"type"`
}

type createTxResponse struct {
	Estimation struct {
		SrcChainTokenIn     tokenAmount  `json:"srcChainTokenIn"`
		DstChainTokenOut    tokenAmount  `json:"dstChainTokenOut"`
		RecommendedSlippage float64      `json:"recommendedSlippage"`
		CostsDetails        []costDetail `json:"costsDetails"`
	} `json:"estimation"`
	Tx *struct {
		To    string          `json:"to"`
		Data  string          `json:"data"`
		Value json.RawMessage `json:"value"`
	} `json:"tx"`
	OrderID string `json:"orderId"`
	Order   struct {
		ApproximateFulfillmentDelay *int64 `json:"approximateFulfillmentDelay"`
	} `json:"order"`
}

// Quote calls create-tx. Without sender and recipient the provider returns an
// estimation only; with them it also returns the transaction to sign.
func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	vals := url.Values{}
	vals.Set("srcChainId", strconv.FormatInt(req.SourceChainID, 10))
	vals.Set("srcChainTokenIn", req.SourceToken)
	vals.Set("srcChainTokenInAmount", req.SourceAmount)
	vals.Set("dstChainId", strconv.FormatInt(req.DestinationChainID, 10))
	vals.Set("dstChainTokenOut", req.DestinationToken)
	vals.Set("dstChainTokenOutAmount", firstNonEmpty(req.DestinationAmount, "auto"))
	if req.PrependOperatingExpense {
		vals.Set("prependOperatingExpenses", "true")
	}
	if req.SrcChainPriorityLevel != "" {
		vals.Set("srcChainPriorityLevel", req.SrcChainPriorityLevel)
	}
	if req.AffiliateFeePercent > 0 && req.AffiliateFeeRecipient != "" {
		vals.Set("affiliateFeePercent", strconv.FormatFloat(req.AffiliateFeePercent, 'f', -1, 64))
		vals.Set("affiliateFeeRecipient", req.AffiliateFeeRecipient)
	}
	if req.HasAddresses() {
		vals.Set("senderAddress", req.Sender)
		vals.Set("dstChainTokenOutRecipient", req.Recipient)
		vals.Set("srcChainOrderAuthorityAddress", firstNonEmpty(req.SrcAuthority, req.Sender))
		vals.Set("dstChainOrderAuthorityAddress", firstNonEmpty(req.DstAuthority, req.Recipient))
		vals.Set("enableEstimate", strconv.FormatBool(req.EnableEstimate))
	}

	var resp createTxResponse
	if err := c.get(ctx, "/dln/order/create-tx?"+vals.Encode(), &resp); err != nil {
		return model.Quote{}, err
	}
	return parseQuote(resp, req, c.now())
}

func parseQuote(resp createTxResponse, req providers.QuoteRequest, now time.Time) (model.Quote, error) {
	src, err := leg(resp.Estimation.SrcChainTokenIn, req.SourceChainID, req.SourceToken, "srcChainTokenIn")
	if err != nil {
		return model.Quote{}, err
	}
	dst, err := leg(resp.Estimation.DstChainTokenOut, req.DestinationChainID, req.DestinationToken, "dstChainTokenOut")
	if err != nil {
		return model.Quote{}, err
	}

	quote := model.Quote{
		Source:              src,
		Destination:         dst,
		RecommendedSlippage: resp.Estimation.RecommendedSlippage,
		Costs:               make([]model.CostItem, 0, len(resp.Estimation.CostsDetails)),
		ApproximateDelayS:   resp.Order.ApproximateFulfillmentDelay,
		OrderID:             strings.TrimSpace(resp.OrderID),
		Provider:            providerName,
		FetchedAt:           now.UTC().Format(time.RFC3339),
	}
	for i, item := range resp.Estimation.CostsDetails {
		field := fmt.Sprintf("costsDetails[%d]", i)
		amountIn, err := baseUnits(item.AmountIn, field+".amountIn")
		if err != nil {
			return model.Quote{}, err
		}
		var amountOut string
		if strings.TrimSpace(item.AmountOut) != "" {
			if amountOut, err = baseUnits(item.AmountOut, field+".amountOut"); err != nil {
				return model.Quote{}, err
			}
		}
		quote.Costs = append(quote.Costs, model.CostItem{
			Type:      item.Type,
			Chain:     item.Chain,
			TokenIn:   item.TokenIn,
			AmountIn:  amountIn,
			AmountOut: amountOut,
		})
	}
	if resp.Tx != nil && strings.TrimSpace(resp.Tx.Data) != "" {
		to := strings.TrimSpace(resp.Tx.To)
		if srcChain := id.ChainByID(src.ChainID); srcChain.IsEVM() {
			if err := id.ValidateAddress(srcChain, to, "tx.to"); err != nil {
				return model.Quote{}, clierr.Malformed(fmt.Sprintf("provider returned invalid tx.to %q", to), nil)
			}
		}
		value, err := transactionValue(rawString(resp.Tx.Value))
		if err != nil {
			return model.Quote{}, err
		}
		quote.Tx = &model.TxPayload{
			To:    to,
			Data:  ensureHexPrefix(resp.Tx.Data),
			Value: value,
		}
	}
	return quote, nil
}

func leg(t tokenAmount, chainID int64, address, field string) (model.QuoteLeg, error) {
	if t.ChainID != 0 {
		chainID = t.ChainID
	}
	base, err := baseUnits(t.Amount, field+".amount")
	if err != nil {
		return model.QuoteLeg{}, err
	}
	if t.Decimals < 0 || t.Decimals > amount.MaxDecimals {
		return model.QuoteLeg{}, clierr.Malformed(fmt.Sprintf("provider returned invalid %s.decimals %d", field, t.Decimals), nil)
	}
	exact, err := amount.Exact(base, t.Decimals)
	if err != nil {
		return model.QuoteLeg{}, clierr.Malformed(fmt.Sprintf("provider returned invalid %s.amount", field), err)
	}
	return model.QuoteLeg{
		ChainID: chainID,
		Address: firstNonEmpty(t.Address, address),
		Symbol:  t.Symbol,
		Name:    t.Name,
		Amount: model.AmountInfo{
			AmountBaseUnits: base,
			AmountDecimal:   exact,
			Decimals:        t.Decimals,
		},
	}, nil
}

// baseUnits accepts a non-negative integer string and strips leading zeros.
func baseUnits(raw, field string) (string, error) {
	v := strings.TrimSpace(raw)
	if !baseUnitsPattern.MatchString(v) {
		return "", clierr.Malformed(fmt.Sprintf("provider returned invalid %s %q", field, raw), nil)
	}
	if v = strings.TrimLeft(v, "0"); v == "" {
		return "0", nil
	}
	return v, nil
}

type orderStatusResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	var resp orderStatusResponse
	if err := c.get(ctx, "/dln/order/"+url.PathEscape(orderID)+"/status", &resp); err != nil {
		return "", err
	}
	return parseOrderStatus(resp.Status)
}

func parseOrderStatus(raw string) (model.OrderStatus, error) {
	status := model.OrderStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", clierr.Malformed(fmt.Sprintf("provider returned unknown order status %q", raw), nil)
	}
	return status, nil
}

type orderIDsResponse struct {
	OrderIDs []json.RawMessage `json:"orderIds"`
}

func (c *Client) OrderIDsByTx(ctx context.Context, txHash string) ([]string, error) {
	var resp orderIDsResponse
	if err := c.get(ctx, "/dln/tx/"+url.PathEscape(txHash)+"/order-ids", &resp); err != nil {
		return nil, err
	}
	return parseOrderIDs(resp), nil
}

// parseOrderIDs accepts both plain strings and {"stringValue": "..."} items.
func parseOrderIDs(resp orderIDsResponse) []string {
	out := make([]string, 0, len(resp.OrderIDs))
	for _, raw := range resp.OrderIDs {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			StringValue string `json:"stringValue"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.StringValue) != "" {
			out = append(out, strings.TrimSpace(obj.StringValue))
		}
	}
	return out
}

type chainsResponse struct {
	Chains []struct {
		ChainID         int64  `json:"chainId"`
		OriginalChainID int64  `json:"originalChainId"`
		ChainName       string `json:"chainName"`
	} `json:"chains"`
}

func (c *Client) Chains(ctx context.Context) ([]model.Chain, error) {
	var resp chainsResponse
	if err := c.get(ctx, "/supported-chains-info", &resp); err != nil {
		return nil, err
	}
	out := make([]model.Chain, 0, len(resp.Chains))
	for _, ch := range resp.Chains {
		if ch.ChainID == 0 {
			continue
		}
		known := id.ChainByID(ch.ChainID)
		chain := model.Chain{ChainID: ch.ChainID, Name: firstNonEmpty(ch.ChainName, known.Name)}
		if known.Native.Symbol != "" {
			chain.NativeCurrency = &model.NativeCurrency{
				Name:     known.Native.Name,
				Symbol:   known.Native.Symbol,
				Decimals: known.Native.Decimals,
			}
		}
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

type tokenListResponse struct {
	Tokens map[string]struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int    `json:"decimals"`
		LogoURI  string `json:"logoURI"`
		Tags     []any  `json:"tags"`
	} `json:"tokens"`
}

func (c *Client) Tokens(ctx context.Context, chainID int64) ([]model.Token, error) {
	var resp tokenListResponse
	if err := c.get(ctx, "/token-list?chainId="+strconv.FormatInt(chainID, 10), &resp); err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(resp.Tokens))
	for key, t := range resp.Tokens {
		out = append(out, model.Token{
			ChainID:  chainID,
			Address:  firstNonEmpty(t.Address, key),
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			LogoURI:  t.LogoURI,
			Tags:     stringTags(t.Tags),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build dln request", err)
	}
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}

func stringTags(tags []any) []string {
	var out []string
	for _, tag := range tags {
		switch v := tag.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if name, ok := v["Name"].(string); ok {
				out = append(out, name)
			} else if name, ok := v["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// transactionValue accepts a decimal or 0x-prefixed hex wei amount. An absent
// value means zero.
func transactionValue(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return "0", nil
	}
	n, ok := gethmath.ParseBig256(clean)
	if !ok || n.Sign() < 0 {
		return "", clierr.Malformed(fmt.Sprintf("provider returned invalid tx.value %q", raw), nil)
	}
	return n.String(), nil
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
