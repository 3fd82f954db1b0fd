package policy

import "testing"

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "swap"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"quote"}, "quote"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"wallet"}, "wallet  Create"); err != nil {
		t.Fatalf("expected parent entry to admit subcommand: %v", err)
	}
	if err := CheckCommandAllowed([]string{"quote"}, "swap"); err == nil {
		t.Fatal("expected command to be blocked")
	}
	if err := CheckCommandAllowed([]string{"wall"}, "wallet create"); err == nil {
		t.Fatal("expected partial word prefix to be blocked")
	}
}

func TestMutating(t *testing.T) {
	if !Mutating("swap") || !Mutating("wallet import") {
		t.Fatal("expected fund-moving commands to be mutating")
	}
	if Mutating("quote") || Mutating("trades list") {
		t.Fatal("expected read-only commands to be non-mutating")
	}
}
