package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
)

const (
	testOrderID = "0x9a1b7c3f0d2e4a5b6c7d8e9f00112233445566778899aabbccddeeff00112233"
	testTxHash  = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	testSender  = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	usdcEth     = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdcArb     = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	dlnSource   = "0xeF4fB24aD0916217251F553c0596F8Edc630EB66"
)

type fakeDLN struct {
	mu       sync.Mutex
	statuses []string
	calls    atomic.Int64
	quotes   atomic.Int64
	lastTx   string
	amounts  []string
}

func (f *fakeDLN) nextStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s
}

func (f *fakeDLN) lastLookup() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTx
}

func (f *fakeDLN) quotedAmounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.amounts...)
}

func (f *fakeDLN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/supported-chains-info":
		_, _ = fmt.Fprint(w, `{"chains":[{"chainId":42161,"chainName":"Arbitrum"},{"chainId":1,"chainName":"Ethereum"}]}`)
	case r.URL.Path == "/token-list":
		switch r.URL.Query().Get("chainId") {
		case "1":
			_, _ = fmt.Fprintf(w, `{"tokens":{"%s":{"address":"%s","symbol":"USDC","name":"USD Coin","decimals":6}}}`, usdcEth, usdcEth)
		default:
			_, _ = fmt.Fprintf(w, `{"tokens":{"%s":{"address":"%s","symbol":"USDC","name":"USD Coin","decimals":6}}}`, usdcArb, usdcArb)
		}
	case r.URL.Path == "/dln/order/create-tx":
		q := r.URL.Query()
		f.quotes.Add(1)
		f.mu.Lock()
		f.amounts = append(f.amounts, q.Get("srcChainTokenInAmount"))
		f.mu.Unlock()
		body := fmt.Sprintf(`{
			"estimation": {
				"srcChainTokenIn": {"address":"%s","symbol":"USDC","decimals":6,"amount":"%s","chainId":1},
				"dstChainTokenOut": {"address":"%s","symbol":"USDC","decimals":6,"amount":"998000","chainId":42161},
				"recommendedSlippage": 0.5,
				"costsDetails": [{"chain":"1","tokenIn":"%s","amountIn":"2000","type":"DlnProtocolFee"}]
			},
			"order": {"approximateFulfillmentDelay": 12}`, usdcEth, q.Get("srcChainTokenInAmount"), usdcArb, usdcEth)
		if q.Get("senderAddress") != "" {
			body += fmt.Sprintf(`,"tx":{"to":"%s","data":"0xdeadbeef","value":"1000000000000000"},"orderId":"%s"`, dlnSource, testOrderID)
		}
		_, _ = fmt.Fprint(w, body+"}")
	case strings.HasPrefix(r.URL.Path, "/dln/order/") && strings.HasSuffix(r.URL.Path, "/status"):
		_, _ = fmt.Fprintf(w, `{"orderId":"%s","status":"%s"}`, testOrderID, f.nextStatus())
	case strings.HasPrefix(r.URL.Path, "/dln/tx/"):
		f.mu.Lock()
		f.lastTx = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dln/tx/"), "/order-ids")
		f.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"orderIds":[{"stringValue":"%s"}]}`, testOrderID)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":"not found"}`)
	}
}

type harness struct {
	fake   *fakeDLN
	url    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T, statuses ...string) *harness {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []string{"Created"}
	}
	h := &harness{fake: &fakeDLN{statuses: statuses}}
	srv := httptest.NewServer(h.fake)
	t.Cleanup(srv.Close)
	h.url = srv.URL

	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir+"/cache")
	t.Setenv("XDG_CONFIG_HOME", dir+"/config")
	t.Setenv("XSWAP_SPACING", "0s")
	t.Setenv("XSWAP_POLL_INTERVAL", "5ms")
	t.Setenv("XSWAP_ORDER_ID_DELAY", "1ms")
	return h
}

func (h *harness) runner(stdin string) *Runner {
	h.stdout.Reset()
	h.stderr.Reset()
	r := NewRunnerWithWriters(&h.stdout, &h.stderr)
	r.stdin = strings.NewReader(stdin)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	r.baseCtx = func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	return r
}

func (h *harness) run(t *testing.T, stdin string, args ...string) int {
	t.Helper()
	return h.runner(stdin).Run(append(args, "--api-url", h.url))
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, string(raw))
	}
	return v
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("xswap order watch"); got != "order watch" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("xswap"); got != "xswap" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestCommandClassification(t *testing.T) {
	if needsProvider("version") || needsProvider("schema") {
		t.Fatal("version and schema run without a provider")
	}
	if !usesCache("order build") || usesCache("order status") {
		t.Fatal("unexpected cache classification")
	}
	if !usesOrderStore("order list") || usesOrderStore("quote") {
		t.Fatal("unexpected order store classification")
	}
}

func TestRunnerProvidersList(t *testing.T) {
	h := newHarness(t)
	if code := h.run(t, "", "providers", "list", "--results-only"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	out := decode[[]map[string]any](t, h.stdout.Bytes())
	if len(out) != 1 || out[0]["name"] != "dln" {
		t.Fatalf("unexpected providers output: %v", out)
	}
}

func TestRunnerChainsUsesCache(t *testing.T) {
	h := newHarness(t)
	if code := h.run(t, "", "chains"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	env := decode[map[string]any](t, h.stdout.Bytes())
	chains, ok := env["data"].([]any)
	if !ok || len(chains) != 2 {
		t.Fatalf("unexpected chains: %v", env["data"])
	}
	first := chains[0].(map[string]any)
	if first["chain_id"] != float64(1) {
		t.Fatalf("expected chains sorted by id, got %v", first)
	}

	calls := h.fake.calls.Load()
	if code := h.run(t, "", "chains"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	if h.fake.calls.Load() != calls {
		t.Fatal("expected second chains call to be served from cache")
	}
	env = decode[map[string]any](t, h.stdout.Bytes())
	meta := env["meta"].(map[string]any)
	if meta["cache"].(map[string]any)["status"] != "hit" {
		t.Fatalf("expected cache hit, got %v", meta["cache"])
	}
}

func TestRunnerTokensBySymbol(t *testing.T) {
	h := newHarness(t)
	if code := h.run(t, "", "tokens", "--chain", "arbitrum", "--token", "usdc", "--results-only"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	out := decode[[]map[string]any](t, h.stdout.Bytes())
	if len(out) != 1 || out[0]["address"] != usdcArb {
		t.Fatalf("unexpected token: %v", out)
	}
}

func TestRunnerQuote(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "", "quote",
		"--from-chain", "ethereum", "--to-chain", "arbitrum",
		"--from-token", "USDC", "--to-token", "USDC",
		"--amount-decimal", "1", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	out := decode[map[string]any](t, h.stdout.Bytes())
	quote, ok := out["quote"].(map[string]any)
	if !ok {
		t.Fatalf("missing quote in output: %v", out)
	}
	src := quote["source"].(map[string]any)["amount"].(map[string]any)
	if src["amount_base_units"] != "1000000" {
		t.Fatalf("expected decimal amount to be normalized, got %v", src)
	}
	dst := quote["destination"].(map[string]any)["amount"].(map[string]any)
	if dst["amount_decimal"] != "0.998" {
		t.Fatalf("unexpected destination amount: %v", dst)
	}
}

func TestRunnerQuoteInteractiveDebouncesInput(t *testing.T) {
	h := newHarness(t)
	color.NoColor = true
	code := h.run(t, "1\n2.5\n\n3\n", "quote",
		"--from-chain", "ethereum", "--to-chain", "arbitrum",
		"--from-token", "USDC", "--to-token", "USDC",
		"--interactive", "--debounce", "1h")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	if n := h.fake.quotes.Load(); n != 1 {
		t.Fatalf("expected one debounced quote, got %d", n)
	}
	if got := h.fake.quotedAmounts(); len(got) != 1 || got[0] != "3000000" {
		t.Fatalf("expected the last amount to be quoted, got %v", got)
	}
	if lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n"); len(lines) != 1 || !strings.Contains(lines[0], "0.998 USDC") {
		t.Fatalf("unexpected interactive output: %q", h.stdout.String())
	}
}

func TestRunnerQuoteInteractiveReportsBadAmount(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "abc\n", "quote",
		"--from-chain", "ethereum", "--to-chain", "arbitrum",
		"--from-token", "USDC", "--to-token", "USDC",
		"--interactive", "--debounce", "1h")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if h.fake.quotes.Load() != 0 {
		t.Fatal("expected no quote for an invalid amount")
	}
	if !strings.HasPrefix(h.stderr.String(), "abc: ") {
		t.Fatalf("expected the bad line on stderr, got %q", h.stderr.String())
	}
}

func TestRunnerQuoteSameChainRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "", "quote",
		"--from-chain", "ethereum", "--to-chain", "1",
		"--from-token", "USDC", "--to-token", "USDT", "--amount", "1000000")
	if code != 21 {
		t.Fatalf("expected exit 21, got %d stderr=%s", code, h.stderr.String())
	}
	if n := h.fake.calls.Load(); n != 0 {
		t.Fatalf("expected no provider calls, got %d", n)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "", "quote",
		"--from-chain", "ethereum", "--to-chain", "arbitrum",
		"--from-token", "USDC", "--to-token", "USDC", "--amount", "1000000",
		"--enable-commands", "chains", "--results-only")
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, h.stderr.String())
	}
	env := decode[map[string]any](t, h.stderr.Bytes())
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	if env["error"].(map[string]any)["code"] != float64(16) {
		t.Fatalf("unexpected error body: %v", env["error"])
	}
}

func TestRunnerOrderBuildAndSubmit(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "", "order", "build",
		"--from-chain", "ethereum", "--to-chain", "arbitrum",
		"--from-token", "USDC", "--to-token", "USDC", "--amount", "1000000",
		"--sender", testSender, "--recipient", testSender)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	built := decode[map[string]any](t, h.stdout.Bytes())
	data := built["data"].(map[string]any)
	if data["order_id_candidate"] != testOrderID {
		t.Fatalf("unexpected order id candidate: %v", data["order_id_candidate"])
	}
	approval, ok := data["approval"].(map[string]any)
	if !ok || !strings.HasPrefix(approval["data"].(string), "0x095ea7b3") {
		t.Fatalf("expected ERC20 approval, got %v", data["approval"])
	}
	buildOutput := h.stdout.String()

	code = h.run(t, buildOutput, "order", "submit", "--tx-hash", testTxHash, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	order := decode[map[string]any](t, h.stdout.Bytes())
	if order["order_id"] != testOrderID || order["status"] != "Created" {
		t.Fatalf("unexpected order: %v", order)
	}

	if code := h.run(t, "", "order", "list", "--results-only"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	orders := decode[[]map[string]any](t, h.stdout.Bytes())
	if len(orders) != 1 || orders[0]["tx_hash"] != testTxHash {
		t.Fatalf("unexpected order list: %v", orders)
	}
}

func TestRunnerOrderSubmitResolvesOrderID(t *testing.T) {
	h := newHarness(t)
	build := fmt.Sprintf(`{
		"quote": {"source": {"chain_id": 1, "address": "%s", "amount": {"amount_base_units": "1000000"}},
		          "destination": {"chain_id": 42161, "address": "%s", "amount": {"amount_base_units": "998000"}}},
		"tx": {"to": "%s", "data": "0xdeadbeef", "value": "0"},
		"sender": "%s", "recipient": "%s"
	}`, usdcEth, usdcArb, dlnSource, testSender, testSender)
	code := h.run(t, build, "order", "submit", "--tx-hash", testTxHash, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	order := decode[map[string]any](t, h.stdout.Bytes())
	if order["order_id"] != testOrderID {
		t.Fatalf("expected resolved order id, got %v", order["order_id"])
	}
	if got := h.fake.lastLookup(); got != testTxHash {
		t.Fatalf("expected order ids lookup for %s, got %s", testTxHash, got)
	}
}

func TestRunnerOrderSubmitRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "not json", "order", "submit", "--tx-hash", testTxHash)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, h.stderr.String())
	}
}

func TestRunnerOrderStatus(t *testing.T) {
	h := newHarness(t, "Fulfilled")
	if code := h.run(t, "", "order", "status", testOrderID, "--results-only"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	out := decode[map[string]any](t, h.stdout.Bytes())
	if out["status"] != "Fulfilled" || out["terminal"] != true {
		t.Fatalf("unexpected status output: %v", out)
	}
	if !strings.Contains(out["explorer_url"].(string), testOrderID) {
		t.Fatalf("unexpected explorer url: %v", out["explorer_url"])
	}
}

func TestRunnerOrderStatusRejectsMalformedID(t *testing.T) {
	h := newHarness(t)
	if code := h.run(t, "", "order", "status", "0x1234"); code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, h.stderr.String())
	}
	if n := h.fake.calls.Load(); n != 0 {
		t.Fatalf("expected no provider calls, got %d", n)
	}
}

func TestRunnerOrderWatchUntilTerminal(t *testing.T) {
	h := newHarness(t, "Created", "SentUnlock", "ClaimedUnlock")
	if code := h.run(t, "", "order", "watch", testOrderID); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	env := decode[map[string]any](t, h.stdout.Bytes())
	data := env["data"].(map[string]any)
	if data["status"] != "ClaimedUnlock" || data["terminal"] != true {
		t.Fatalf("unexpected watch result: %v", data)
	}
	if data["polls"] != float64(3) {
		t.Fatalf("expected 3 polls, got %v", data["polls"])
	}
	if _, ok := env["warnings"]; ok {
		t.Fatalf("did not expect warnings: %v", env["warnings"])
	}
}

func TestRunnerOrderWatchPlainPrintsUpdates(t *testing.T) {
	h := newHarness(t, "Created", "Fulfilled")
	color.NoColor = true
	if code := h.run(t, "", "order", "watch", testOrderID, "--plain"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per poll, got %q", h.stdout.String())
	}
	if !strings.HasSuffix(lines[1], "Fulfilled") {
		t.Fatalf("unexpected final line: %q", lines[1])
	}
}

func TestRunnerOrderWatchStopsAtMaxWait(t *testing.T) {
	h := newHarness(t, "Created")
	code := h.run(t, "", "order", "watch", testOrderID, "--max-wait", "40ms")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	env := decode[map[string]any](t, h.stdout.Bytes())
	if env["data"].(map[string]any)["terminal"] != false {
		t.Fatalf("expected non-terminal result: %v", env["data"])
	}
	if warnings, ok := env["warnings"].([]any); !ok || len(warnings) != 1 {
		t.Fatalf("expected a not-terminal warning, got %v", env["warnings"])
	}
}

func TestRunnerVersionSkipsProvider(t *testing.T) {
	h := newHarness(t)
	if code := h.runner("").Run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	if strings.TrimSpace(h.stdout.String()) == "" {
		t.Fatal("expected version output")
	}
}
