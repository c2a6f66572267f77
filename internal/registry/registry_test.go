package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestERC20ABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20MinimalABI))
	if err != nil {
		t.Fatalf("failed to parse abi json: %v", err)
	}
	if _, ok := parsed.Methods["approve"]; !ok {
		t.Fatal("expected approve method")
	}
}

func TestIsAllowedAPIURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://dln.debridge.finance/v1.0", true},
		{"https://dln.debridge.finance/v1.0/", true},
		{"https://DLN.debridge.finance:443/v1.0", true},
		{"http://dln.debridge.finance/v1.0", false},
		{"https://dln.debridge.finance/v2.0", false},
		{"https://evil.example/v1.0", false},
		{"http://127.0.0.1:8080", true},
		{"http://localhost:9999/any", true},
		{"ftp://localhost/x", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := IsAllowedAPIURL(tc.url); got != tc.want {
			t.Fatalf("IsAllowedAPIURL(%q)=%v want %v", tc.url, got, tc.want)
		}
	}
}

func TestIsKnownSpender(t *testing.T) {
	if !IsKnownSpender(strings.ToLower(DLNSourceAddress)) {
		t.Fatal("expected DLN source to be a known spender")
	}
	if IsKnownSpender(DLNDestinationAddress) {
		t.Fatal("destination contract never receives source allowances")
	}
}

func TestOrderExplorerURL(t *testing.T) {
	got := OrderExplorerURL(" 0xabc ")
	if got != "https://app.debridge.finance/order?orderId=0xabc" {
		t.Fatalf("unexpected explorer url %s", got)
	}
}
