package ranking

// NumBuckets is the fixed number of score-range shards: bucket 0 is
// the non-positive-score sentinel, buckets 1..31 partition
// the positive score range with widening steps so that any customer
// whose score crosses a boundary only ever hops to an adjacent bucket
// (every bucket is wider than the maximum per-update delta magnitude,
// 1000).
const NumBuckets = 32

// boundaryStep describes one contiguous run of buckets of equal width.
type boundaryStep struct {
	count int64 // number of buckets in this run
	width int64 // width of each bucket in this run
}

// boundaryPlan lays out buckets 1..31. Bucket 0's upper bound is 0
// (handled separately in bucketUpperBounds); bucket 31's upper bound is
// unbounded (math.MaxInt64).
var boundaryPlan = []boundaryStep{
	{count: 9, width: 5_000},    // buckets 1..9:   5,000 .. 45,000
	{count: 9, width: 50_000},   // buckets 10..18: steps of 50,000
	{count: 9, width: 500_000},  // buckets 19..27: steps of 500,000
	{count: 1, width: 5_000},          // bucket 28: 5,000,000
	{count: 1, width: 5_000_000},      // bucket 29: 10,000,000
	{count: 1, width: 10_000_000},     // bucket 30: 20,000,000
	// bucket 31 is the open-ended "> 20,000,000" catch-all, built below.
}

const sentinelUpperBound = 0

// bucketUpperBounds computes the inclusive upper score bound of every
// bucket index 1..NumBuckets-2 (bucket 0 and bucket NumBuckets-1 are
// handled as sentinels by bucketKeyOf). Index i of the returned slice is
// the upper bound of bucket i+1.
func bucketUpperBounds() []int64 {
	bounds := make([]int64, 0, NumBuckets-2)
	running := int64(sentinelUpperBound)
	for _, step := range boundaryPlan {
		for i := int64(0); i < step.count; i++ {
			running += step.width
			bounds = append(bounds, running)
		}
	}
	return bounds
}

var upperBounds = bucketUpperBounds()

// bucketKeyOf returns the bucket index (0..NumBuckets-1) that score
// belongs to: 0 for score <= 0, NumBuckets-1 for score above the highest
// configured boundary, and the boundary-matched index otherwise.
func bucketKeyOf(score int64) int {
	if score <= sentinelUpperBound {
		return 0
	}
	for i, bound := range upperBounds {
		if score <= bound {
			return i + 1
		}
	}
	return NumBuckets - 1
}
