// Package tokenmeta resolves ERC-20 name, symbol and decimals through an
// ordered list of sources. The first source that answers wins.
package tokenmeta

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/cache"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/registry"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
)

const (
	cacheNamespace = "token"
	cacheTTL       = 24 * time.Hour

	DefaultName     = "Unknown"
	DefaultSymbol   = "TOKEN"
	DefaultDecimals = 18
)

var (
	stringABI  = mustABI(registry.ERC20ABI)
	bytes32ABI = mustABI(registry.ERC20Bytes32MetaABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Partial is what one source knows about a token. Empty fields are unknown.
type Partial struct {
	Name     string
	Symbol   string
	Decimals *int
}

func (p Partial) complete() bool {
	return p.Name != "" && p.Symbol != "" && p.Decimals != nil
}

// merge fills fields of p that are still unknown from next.
func (p Partial) merge(next Partial) Partial {
	if p.Name == "" {
		p.Name = next.Name
	}
	if p.Symbol == "" {
		p.Symbol = next.Symbol
	}
	if p.Decimals == nil && next.Decimals != nil {
		d := *next.Decimals
		p.Decimals = &d
	}
	return p
}

type Source interface {
	Name() string
	Lookup(ctx context.Context, token common.Address) Partial
}

type Resolver struct {
	sources []Source
	cache   *cache.Store
	logger  *zap.Logger
}

// New builds the standard chain: cache, registry, on-chain string ABI,
// on-chain bytes32 ABI. Defaults fill whatever is still unknown.
func New(pool *rpcpool.Pool, tokens *id.Registry, store *cache.Store, logger *zap.Logger) *Resolver {
	sources := []Source{cacheSource{store: store}}
	if tokens != nil {
		sources = append(sources, registrySource{tokens: tokens})
	}
	if pool != nil {
		sources = append(sources,
			onchainSource{pool: pool, meta: stringABI, label: "erc20"},
			onchainSource{pool: pool, meta: bytes32ABI, label: "erc20-bytes32"},
		)
	}
	return NewWithSources(store, logger, sources...)
}

func NewWithSources(store *cache.Store, logger *zap.Logger, sources ...Source) *Resolver {
	return &Resolver{sources: sources, cache: store, logger: logging.OrNop(logger)}
}

// Resolve never fails. Sources are merged left to right, first known value
// per field wins, and later sources are skipped once every field is known.
// Results that needed defaults are not cached so a later lookup can still
// succeed.
func (r *Resolver) Resolve(ctx context.Context, token common.Address) model.TokenInfo {
	if registry.IsNativePlaceholder(token.Hex()) {
		return model.TokenInfo{Address: token.Hex(), Symbol: "ETH", Name: "Ether", Decimals: 18}
	}
	var (
		acc       Partial
		fromCache bool
	)
	for _, src := range r.sources {
		acc = acc.merge(src.Lookup(ctx, token))
		if acc.complete() {
			fromCache = src.Name() == "cache"
			break
		}
	}
	if !acc.complete() {
		r.logger.Info("token metadata incomplete, using defaults",
			zap.String("token", token.Hex()),
			zap.String("name", acc.Name),
			zap.String("symbol", acc.Symbol),
		)
		acc = acc.merge(Partial{Name: DefaultName, Symbol: DefaultSymbol, Decimals: intPtr(DefaultDecimals)})
		return acc.info(token)
	}
	info := acc.info(token)
	if !fromCache {
		if err := r.cache.SetJSON(cacheNamespace, token.Hex(), info, cacheTTL); err != nil {
			r.logger.Debug("token metadata cache write failed", zap.Error(err))
		}
	}
	return info
}

func (p Partial) info(token common.Address) model.TokenInfo {
	return model.TokenInfo{Address: token.Hex(), Name: p.Name, Symbol: p.Symbol, Decimals: *p.Decimals}
}

func intPtr(v int) *int { return &v }

type cacheSource struct{ store *cache.Store }

func (cacheSource) Name() string { return "cache" }

func (s cacheSource) Lookup(_ context.Context, token common.Address) Partial {
	var info model.TokenInfo
	ok, err := s.store.GetJSON(cacheNamespace, token.Hex(), &info)
	if err != nil || !ok {
		return Partial{}
	}
	return Partial{Name: info.Name, Symbol: info.Symbol, Decimals: intPtr(info.Decimals)}
}

type registrySource struct{ tokens *id.Registry }

func (registrySource) Name() string { return "registry" }

func (s registrySource) Lookup(_ context.Context, token common.Address) Partial {
	t, ok := s.tokens.LookupByAddress(token.Hex())
	if !ok {
		return Partial{}
	}
	return Partial{Name: t.Symbol, Symbol: t.Symbol, Decimals: intPtr(t.Decimals)}
}

// onchainSource reads name and symbol with the given ABI flavour, and
// decimals with the standard one.
type onchainSource struct {
	pool  *rpcpool.Pool
	meta  abi.ABI
	label string
}

func (s onchainSource) Name() string { return s.label }

func (s onchainSource) Lookup(ctx context.Context, token common.Address) Partial {
	var p Partial
	p.Name, _ = s.text(ctx, token, "name")
	p.Symbol, _ = s.text(ctx, token, "symbol")
	if values, ok := call(ctx, s.pool, stringABI, token, "decimals"); ok {
		if d, ok := values[0].(uint8); ok {
			p.Decimals = intPtr(int(d))
		}
	}
	return p
}

func (s onchainSource) text(ctx context.Context, token common.Address, method string) (string, bool) {
	values, ok := call(ctx, s.pool, s.meta, token, method)
	if !ok {
		return "", false
	}
	switch v := values[0].(type) {
	case string:
		return v, v != ""
	case [32]byte:
		out := strings.TrimRight(string(v[:]), "\x00")
		return out, out != ""
	default:
		return "", false
	}
}

func call(ctx context.Context, pool *rpcpool.Pool, parsed abi.ABI, token common.Address, method string) ([]any, bool) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, false
	}
	out, err := rpcpool.Do(ctx, pool, "token "+method, func(ctx context.Context, c rpcpool.Client) ([]byte, error) {
		return c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil || len(out) == 0 {
		return nil, false
	}
	values, err := parsed.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, false
	}
	return values, true
}
