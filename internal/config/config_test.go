package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\ntrading:\n  min_buy: \"5\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SWAPDESK_OUTPUT", "json")
	t.Setenv("SWAPDESK_STABLE_MIN_BUY", "7")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.StableMinBuy != "7" {
		t.Fatalf("expected env to override file min buy, got %s", settings.StableMinBuy)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true, ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 8453 {
		t.Fatalf("expected base chain, got %d", settings.ChainID)
	}
	if len(settings.RPCURLs) != 4 || settings.RPCURLs[0] != "https://mainnet.base.org" {
		t.Fatalf("unexpected default rpc list: %v", settings.RPCURLs)
	}
	if settings.RPCTimeout != 4*time.Second {
		t.Fatalf("expected 4s rpc timeout, got %s", settings.RPCTimeout)
	}
	if settings.DefaultSlippageBps != 100 || settings.StableDecimals != 6 || settings.StableMinBuy != "3" {
		t.Fatalf("unexpected trading defaults: %+v", settings)
	}
	if settings.ApprovalMode != ApprovalModeExact {
		t.Fatalf("expected exact approvals by default, got %s", settings.ApprovalMode)
	}
	if settings.FlowTTL != 2*time.Minute {
		t.Fatalf("expected 2m flow ttl, got %s", settings.FlowTTL)
	}
}

func TestLoadSecretFromEnvIndirection(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "wallet:\n  secret:\n    env: MY_WALLET_SECRET\nchain:\n  rpc_urls: [\"http://127.0.0.1:1\", \" http://127.0.0.1:2 \"]\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MY_WALLET_SECRET", "s3cret")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.WalletSecret != "s3cret" {
		t.Fatalf("expected wallet secret from env, got %q", settings.WalletSecret)
	}
	if len(settings.RPCURLs) != 2 || settings.RPCURLs[1] != "http://127.0.0.1:2" {
		t.Fatalf("unexpected rpc urls: %v", settings.RPCURLs)
	}
}

func TestLoadEnvFile(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "test.env")
	if err := os.WriteFile(envPath, []byte("SWAPDESK_APPROVAL_MODE=max\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SWAPDESK_APPROVAL_MODE") })
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(tmp, "missing.yaml"), EnvFile: envPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ApprovalMode != ApprovalModeMax {
		t.Fatalf("expected approval mode from env file, got %s", settings.ApprovalMode)
	}
}

func TestLoadRejectsInvalidApprovalMode(t *testing.T) {
	t.Setenv("SWAPDESK_APPROVAL_MODE", "infinite")
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1}); err == nil {
		t.Fatal("expected invalid approval mode error")
	}
}

func TestLoadRejectsPlainHTTPProviderEndpoint(t *testing.T) {
	t.Setenv("SWAPDESK_0X_QUOTE_URL", "http://quotes.example.com/swap/v1/quote")
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1}); err == nil {
		t.Fatal("expected non-loopback http endpoint to be rejected")
	}
}
