// ABOUTME: Deterministic 64-bit string hash used to derive item and attachment ids
// ABOUTME: Must never change: ids double as remote record names and cache path components

package stablehash

const (
	seed = 5381
	mask = 0x00FF_FFFF_FFFF_FFFF
)

// Hash folds the UTF-8 bytes of s into a 64-bit accumulator. The mask keeps
// the multiply from overflowing the top byte before the next fold.
func Hash(s string) int64 {
	var acc uint64 = seed
	for i := 0; i < len(s); i++ {
		acc = 127*(acc&mask) + uint64(s[i])
	}
	return int64(acc)
}
