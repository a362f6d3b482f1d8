package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so one iterator sweep recovers a whole
// record class at startup, with the maker address scoping order and
// handshake records for per-account range scans.

const (
	prefixOrder = "order:" // order records
	prefixFill  = "fill:"  // live handshake + staged action
	prefixBal   = "bal:"   // ledger balances
	prefixRep   = "rep:"   // reputation counters
)

// orderKey formats "order:{maker}:{orderID}"
func orderKey(maker common.Address, id OrderID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, maker.Hex(), id))
}

func orderPrefixAll() []byte {
	return []byte(prefixOrder)
}

// fillKey formats "fill:{maker}:{key}"
func fillKey(maker common.Address, key string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixFill, maker.Hex(), key))
}

func fillPrefixAll() []byte {
	return []byte(prefixFill)
}

// balKey formats "bal:{address}:{coin}"
func balKey(addr common.Address, coin string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBal, addr.Hex(), coin))
}

func balPrefixAll() []byte {
	return []byte(prefixBal)
}

// repKey formats "rep:{address}"
func repKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixRep, addr.Hex()))
}

func repPrefixAll() []byte {
	return []byte(prefixRep)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
