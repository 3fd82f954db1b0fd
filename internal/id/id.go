package id

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// Bootstrap listing for Base mainnet. Operators extend it through config.
var baseTokens = []Token{
	{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
	{Symbol: "VIRTUAL", Address: "0x0b3e328455c4059EEb9e3f84b5543F74E24e7E1b", Decimals: 18},
}

// Registry maps symbols to contract addresses on the configured chain.
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[string]Token
}

// NewRegistry returns the Base listing overlaid with extra. Later entries win
// on symbol collisions.
func NewRegistry(extra ...Token) (*Registry, error) {
	r := &Registry{
		bySymbol:  map[string]Token{},
		byAddress: map[string]Token{},
	}
	for _, t := range append(append([]Token{}, baseTokens...), extra...) {
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(t Token) error {
	symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if symbol == "" {
		return clierr.New(clierr.CodeUsage, "token symbol is required")
	}
	if !IsAddress(t.Address) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address for %s: %s", symbol, t.Address))
	}
	if t.Decimals < 0 || t.Decimals > 36 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid decimals for %s: %d", symbol, t.Decimals))
	}
	tok := Token{Symbol: symbol, Address: ChecksumAddress(t.Address), Decimals: t.Decimals}
	if prev, ok := r.bySymbol[symbol]; ok {
		delete(r.byAddress, strings.ToLower(prev.Address))
	}
	r.bySymbol[symbol] = tok
	r.byAddress[strings.ToLower(tok.Address)] = tok
	return nil
}

func (r *Registry) Lookup(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

func (r *Registry) LookupByAddress(address string) (Token, bool) {
	t, ok := r.byAddress[strings.ToLower(strings.TrimSpace(address))]
	return t, ok
}

// Tokens lists the registry sorted by symbol.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.bySymbol))
	for _, t := range r.bySymbol {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Resolve turns user input into a token. A 42-character 0x address passes
// through unchanged (listed reports whether the registry knows it); anything
// else must be a listed symbol.
func (r *Registry) Resolve(input string) (tok Token, listed bool, err error) {
	input = strings.TrimSpace(input)
	if IsAddress(input) {
		if t, ok := r.LookupByAddress(input); ok {
			return t, true, nil
		}
		return Token{Address: ChecksumAddress(input)}, false, nil
	}
	if t, ok := r.Lookup(input); ok {
		return t, true, nil
	}
	return Token{}, false, clierr.New(clierr.CodeUsage, fmt.Sprintf("Unknown token symbol: %s", input))
}

func IsAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}

func ChecksumAddress(v string) string {
	return common.HexToAddress(strings.TrimSpace(v)).Hex()
}

// ParseAddress validates a recipient or token address.
func ParseAddress(v string) (common.Address, error) {
	if !IsAddress(v) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address: %s", v))
	}
	return common.HexToAddress(strings.TrimSpace(v)), nil
}
