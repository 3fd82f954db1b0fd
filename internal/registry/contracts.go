package registry

import "strings"

// Base mainnet contracts the trade path relies on.
const (
	BaseChainID = 8453

	BaseUSDC = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	BaseWETH = "0x4200000000000000000000000000000000000006"

	// Aggregators use this placeholder for native ETH.
	NativeTokenPlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
)

func IsNativePlaceholder(address string) bool {
	return strings.EqualFold(strings.TrimSpace(address), NativeTokenPlaceholder)
}
