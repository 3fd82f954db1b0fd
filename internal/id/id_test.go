package id

import (
	"strings"
	"testing"
)

func TestResolveSymbolAndAddress(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tok, listed, err := reg.Resolve("usdc")
	if err != nil {
		t.Fatalf("Resolve(usdc) failed: %v", err)
	}
	if !listed || tok.Decimals != 6 || tok.Address != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
		t.Fatalf("unexpected token: %+v listed=%v", tok, listed)
	}

	tok, listed, err = reg.Resolve("0x4200000000000000000000000000000000000006")
	if err != nil || !listed || tok.Symbol != "WETH" {
		t.Fatalf("expected WETH by address, got %+v listed=%v err=%v", tok, listed, err)
	}

	unlisted := "0x1111111111111111111111111111111111111111"
	tok, listed, err = reg.Resolve(unlisted)
	if err != nil || listed || !strings.EqualFold(tok.Address, unlisted) {
		t.Fatalf("expected unlisted address passthrough, got %+v listed=%v err=%v", tok, listed, err)
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	reg, _ := NewRegistry()
	_, _, err := reg.Resolve("NOPE")
	if err == nil || !strings.Contains(err.Error(), "Unknown token symbol: NOPE") {
		t.Fatalf("expected unknown symbol error, got %v", err)
	}
	// 41 hex chars is not an address and not a symbol.
	if _, _, err := reg.Resolve("0x111111111111111111111111111111111111111"); err == nil {
		t.Fatal("expected short address to be rejected")
	}
}

func TestRegistryOverrides(t *testing.T) {
	reg, err := NewRegistry(Token{Symbol: "degen", Address: "0x4ed4e862860bed51a9570b96d89af5e1b0efefed", Decimals: 18})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	tok, ok := reg.Lookup("DEGEN")
	lower := "0x4ed4e862860bed51a9570b96d89af5e1b0efefed"
	if !ok || !strings.EqualFold(tok.Address, lower) || tok.Address == lower {
		t.Fatalf("expected checksummed override, got %+v", tok)
	}
	if _, err := NewRegistry(Token{Symbol: "BAD", Address: "0x12"}); err == nil {
		t.Fatal("expected invalid address error")
	}
}
