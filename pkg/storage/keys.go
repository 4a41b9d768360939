package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema shared by the pebble and redis backends:
//
//	fill:<0x order hash> -> cumulative fill
const prefixFill = "fill:"

// fillKey returns "fill:{hash}".
func fillKey(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixFill, h.Hex()))
}

func hashFromFillKey(k []byte) (common.Hash, bool) {
	if len(k) <= len(prefixFill) {
		return common.Hash{}, false
	}
	s := string(k[len(prefixFill):])
	if len(s) != 66 {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

// encodeFill stores fills as fixed 32-byte big-endian words.
func encodeFill(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

func decodeFill(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
