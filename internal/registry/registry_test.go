package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestABIConstantsParse(t *testing.T) {
	for _, raw := range []string{ERC20ABI, ERC20Bytes32MetaABI} {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("parse abi: %v", err)
		}
	}
}

func TestTransferTopicMatchesABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	if parsed.Events["Transfer"].ID != TransferEventTopic {
		t.Fatalf("transfer topic mismatch: %s", TransferEventTopic.Hex())
	}
}

func TestDefaultRPCURLsIsCopy(t *testing.T) {
	urls := DefaultRPCURLs()
	if len(urls) != 4 || urls[0] != "https://mainnet.base.org" {
		t.Fatalf("unexpected rpc list: %v", urls)
	}
	urls[0] = "mutated"
	if DefaultRPCURLs()[0] != "https://mainnet.base.org" {
		t.Fatal("expected defaults to be immutable")
	}
}

func TestIsAllowedEndpoint(t *testing.T) {
	cases := map[string]bool{
		ZeroXQuoteURL:                 true,
		"http://127.0.0.1:8545":       true,
		"http://localhost:3000/quote": true,
		"http://rpc.example.com":      false,
		"ftp://localhost/x":           false,
		"not a url":                   false,
	}
	for endpoint, want := range cases {
		if got := IsAllowedEndpoint(endpoint); got != want {
			t.Fatalf("IsAllowedEndpoint(%q)=%v want %v", endpoint, got, want)
		}
	}
	if !IsNativePlaceholder(strings.ToLower(NativeTokenPlaceholder)) {
		t.Fatal("expected case-insensitive native placeholder match")
	}
}
