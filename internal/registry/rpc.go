package registry

// Ranked public Base RPC endpoints. Order is failover priority.
var defaultBaseRPCURLs = []string{
	"https://mainnet.base.org",
	"https://base.llamarpc.com",
	"https://base-mainnet.public.blastapi.io",
	"https://developer-access-mainnet.base.org",
}

// DefaultRPCURLs returns a copy of the ranked Base endpoint list.
func DefaultRPCURLs() []string {
	return append([]string(nil), defaultBaseRPCURLs...)
}
