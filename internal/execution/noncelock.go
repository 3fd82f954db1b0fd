package execution

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes nonce assignment per (chain, signer) so
// concurrent trades from one wallet never reuse a pending nonce.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(addr.Hex()))
	v, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
