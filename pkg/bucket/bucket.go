// Package bucket partitions a numeric ID range into fixed-size buckets.
//
// Buckets are half-open: a bucket with Start=1 and Count=10 covers IDs
// 1 through 10 and the next bucket begins at 11. Buckets never overlap and
// together cover [lower, upper) exactly; the last bucket may be short.
package bucket

import (
	"iter"
	"math"
)

// MaxRemoteID is the largest identifier the remote API can hand out.
const MaxRemoteID int64 = math.MaxInt32

// Bucket is a contiguous block of candidate IDs.
type Bucket struct {
	Start int64
	Count int64
}

// End returns the first ID past the bucket.
func (b Bucket) End() int64 {
	return b.Start + b.Count
}

// IDs materialises every ID in the bucket in ascending order.
func (b Bucket) IDs() []int64 {
	if b.Count <= 0 {
		return nil
	}
	ids := make([]int64, b.Count)
	for i := range ids {
		ids[i] = b.Start + int64(i)
	}
	return ids
}

// Generate lazily yields buckets covering [lower, upper).
//
// Nothing is yielded when size is not positive or the range is empty.
func Generate(lower, upper, size int64) iter.Seq[Bucket] {
	return func(yield func(Bucket) bool) {
		if size <= 0 || upper <= lower {
			return
		}
		for start := lower; start < upper; {
			count := size
			// Guard the addition: upper may sit near MaxInt64.
			if upper-start < size {
				count = upper - start
			}
			if !yield(Bucket{Start: start, Count: count}) {
				return
			}
			start += count
		}
	}
}

// Plan collects Generate into a slice. Intended for small ranges (dry runs).
func Plan(lower, upper, size int64) []Bucket {
	var out []Bucket
	for b := range Generate(lower, upper, size) {
		out = append(out, b)
	}
	return out
}

// UpperBound derives an exclusive scan limit from the largest ID already
// stored. The result is lastKnownMax+headroom+1, clamped to ceiling+1 so
// that ceiling itself is still scanned. It never drops below 2, which keeps
// at least ID 1 in range on an empty store.
func UpperBound(lastKnownMax, headroom, ceiling int64) int64 {
	if ceiling <= 0 {
		ceiling = MaxRemoteID
	}
	if lastKnownMax < 0 {
		lastKnownMax = 0
	}
	if headroom < 0 {
		headroom = 0
	}

	limit := ceiling
	if lastKnownMax < ceiling && headroom < ceiling-lastKnownMax {
		limit = lastKnownMax + headroom
	}
	if limit < 1 {
		limit = 1
	}
	return limit + 1
}
