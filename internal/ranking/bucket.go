package ranking

import (
	"sync"

	"leaderboard/internal/ranking/ordertree"
)

// Bucket is a score-range shard: one order-statistic tree, a
// single-writer/multi-reader lock, and a cached prefixRank — the count
// of ranked entries in every strictly higher-ranked bucket.
//
// Bucket itself is a passive container; BucketedIndex is solely
// responsible for keeping prefixRank consistent. Modeled on
// internal/game/leaderboard.go's Leaderboard: a thin struct wrapping
// one ordered collection plus a mutex for coordinated access,
// generalized here to per-bucket ownership of a disjoint score range.
type Bucket struct {
	lo, hi     int64 // inclusive score range this bucket owns
	tree       *ordertree.Tree
	prefixRank int
	mu         sync.RWMutex
}

func newBucket(lo, hi int64) *Bucket {
	return &Bucket{lo: lo, hi: hi, tree: ordertree.New()}
}

// size returns the bucket's current entry count. Caller must hold
// either lock.
func (b *Bucket) size() int {
	return b.tree.Size()
}
