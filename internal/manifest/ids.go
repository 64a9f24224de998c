package manifest

import (
	"math"
	"strconv"

	"github.com/RoaringBitmap/roaring"
)

// NextID returns the smallest non-negative integer, as a decimal string, that
// is not a key of s. It does not modify s; callers insert the id before
// asking again.
func NextID(s Section) string {
	used := roaring.New()
	for id := range s {
		if n, ok := canonicalID(id); ok {
			used.Add(n)
		}
	}
	if used.IsEmpty() || used.Minimum() > 0 {
		return "0"
	}
	free := roaring.Flip(used, 0, uint64(used.Maximum())+2)
	return strconv.FormatUint(uint64(free.Minimum()), 10)
}

// canonicalID accepts ids written exactly as FormatUint would write them, so
// "07" does not shadow "7".
func canonicalID(id string) (uint32, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n >= math.MaxUint32 {
		return 0, false
	}
	if strconv.FormatUint(n, 10) != id {
		return 0, false
	}
	return uint32(n), true
}
