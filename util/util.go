// Package util contains misc internal utilities.
package util

import (
	"sort"
	"strings"
)

// GetBit returns the value of a given bit in a 32-bit word
func GetBit(w uint32, bitIndex uint) bool {
	return w&(1<<bitIndex) != 0
}

// SetBit returns w with bit bitIndex set to value
func SetBit(w uint32, bitIndex uint, value bool) uint32 {
	if value {
		return w | 1<<bitIndex
	}
	return w &^ (1 << bitIndex)
}

// BitNames returns the names of the set bits in w that appear in names,
// joined by "|" in ascending bit order.  Bits without a name are skipped.
func BitNames(w uint32, names map[uint]string) string {
	idx := make([]int, 0, len(names))
	for k := range names {
		idx = append(idx, int(k))
	}
	sort.Ints(idx)
	set := []string{}
	for _, i := range idx {
		if GetBit(w, uint(i)) {
			set = append(set, names[uint(i)])
		}
	}
	return strings.Join(set, "|")
}
