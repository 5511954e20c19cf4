package ranking

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"leaderboard/internal/ranking/ordertree"
)

// DefaultSnapshotTickInterval is how often the background worker
// coalesces pending deltas and rebuilds the ranked read cache.
const DefaultSnapshotTickInterval = 100 * time.Millisecond

const pendingQueueCapacity = 1 << 16

// snapshotCache holds the three read-only structures a rebuild
// publishes: prefixSums (ordered by descending coarse bucket key),
// prefixByKey (bucketKey -> startingRank), and rankByCustomer.
// Immutable once published — rebuildOnce builds a new one and swaps
// the pointer instead of mutating in place, matching
// sarthakkjha-matiks/backend's engine/snapshot.go "full sort, then
// atomic swap" shape.
type snapshotCache struct {
	prefixSums     []prefixSumEntry
	prefixByKey    map[int64]int
	rankByCustomer map[int64]int
}

type prefixSumEntry struct {
	startingRank int // 0-based count of entries ranked strictly above this bucket
	bucketKey    int64
	bucket       *ordertree.Tree
}

var emptyCache = &snapshotCache{prefixByKey: map[int64]int{}, rankByCustomer: map[int64]int{}}

// SnapshotIndex is the alternate Index implementation: writes land in a
// realtime map and a lock-free pending queue and return immediately; a
// single background worker periodically coalesces the queue and
// rebuilds the ranked view. Reads are eventually consistent — a
// RanksByRange call right after Update returns may not yet reflect it.
type SnapshotIndex struct {
	realtime sync.Map // customerId (int64) -> *int64, the tentative score Update() returns
	pending  *pendingQueue
	pendingN int64 // atomic count of items enqueued but not yet drained

	tickInterval time.Duration

	mu               sync.Mutex // guards committed + coarseBuckets during rebuild
	committedScores  map[int64]int64
	coarseBuckets    map[int64]*ordertree.Tree

	// applyHook, when non-nil, is invoked before applying each coalesced
	// delta in rebuildOnce. Production never sets it; tests use it to
	// force a panic partway through a batch.
	applyHook func(customerID int64)

	cache atomic.Pointer[snapshotCache]

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSnapshotIndex constructs a SnapshotIndex. The background rebuild
// worker is not started until Start is called.
func NewSnapshotIndex(tickInterval time.Duration) *SnapshotIndex {
	if tickInterval <= 0 {
		tickInterval = DefaultSnapshotTickInterval
	}
	s := &SnapshotIndex{
		pending:         newPendingQueue(pendingQueueCapacity),
		tickInterval:    tickInterval,
		committedScores: make(map[int64]int64),
		coarseBuckets:   make(map[int64]*ordertree.Tree),
		stop:            make(chan struct{}),
	}
	s.cache.Store(emptyCache)
	return s
}

// Start launches the background rebuild loop. Call once.
func (s *SnapshotIndex) Start() {
	s.wg.Add(1)
	go s.rebuildLoop()
}

// Stop signals the rebuild loop to exit after finishing any rebuild
// already in progress, and waits for it to do so.
func (s *SnapshotIndex) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *SnapshotIndex) rebuildLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.rebuildOnce()
		}
	}
}

// rebuildOnce drains the pending queue, coalesces deltas per customer,
// applies them to committedScores and the coarse bucketed index, and
// publishes a fresh read cache. A panic here is logged and swallowed
// rather than crashing the process: unlike a BucketedIndex invariant
// violation, a bad rebuild tick is not fatal — the next tick tries
// again. Items already drained from the queue when a panic occurs
// would otherwise be lost forever (Update never replays them), so any
// coalesced delta not yet applied when the panic hits is pushed back
// onto the pending queue, with pendingN adjusted to match, before this
// call returns.
func (s *SnapshotIndex) rebuildOnce() {
	if atomic.LoadInt64(&s.pendingN) == 0 {
		return
	}

	deltas := s.pending.drainAll()
	if len(deltas) == 0 {
		return
	}
	atomic.AddInt64(&s.pendingN, -int64(len(deltas)))

	coalesced := make(map[int64]int64, len(deltas))
	for _, d := range deltas {
		coalesced[d.customerID] += d.delta
	}
	applied := make(map[int64]bool, len(coalesced))

	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ leaderboard: snapshot rebuild tick failed, will retry next tick: %v", r)
		}

		var requeued int
		for customerID, delta := range coalesced {
			if applied[customerID] {
				continue
			}
			s.pending.push(pendingDelta{customerID: customerID, delta: delta})
			requeued++
		}
		if requeued > 0 {
			atomic.AddInt64(&s.pendingN, int64(requeued))
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for customerID, netDelta := range coalesced {
		if s.applyHook != nil {
			s.applyHook(customerID)
		}

		old := s.committedScores[customerID]
		newScore := old + netDelta
		s.committedScores[customerID] = newScore

		oldKey := coarseBucketKey(old)
		newKey := coarseBucketKey(newScore)

		if old > 0 {
			if b, ok := s.coarseBuckets[oldKey]; ok {
				b.Remove(ordertree.Entry{Score: old, CustomerID: customerID})
				if b.Size() == 0 {
					delete(s.coarseBuckets, oldKey)
				}
			}
		}
		if newScore > 0 {
			b, ok := s.coarseBuckets[newKey]
			if !ok {
				b = ordertree.New()
				s.coarseBuckets[newKey] = b
			}
			b.Insert(ordertree.Entry{Score: newScore, CustomerID: customerID})
		}

		applied[customerID] = true
	}

	next := s.rebuildCacheLocked()
	s.cache.Store(next)
}

// coarseBucketKey maps a score to its coarse bucket key: score / 100,
// rounding toward negative infinity so negative scores bucket
// correctly.
func coarseBucketKey(score int64) int64 {
	if score >= 0 {
		return score / 100
	}
	// Go's integer division truncates toward zero; round toward -inf.
	if score%100 == 0 {
		return score / 100
	}
	return score/100 - 1
}

// rebuildCacheLocked builds the three read caches from coarseBuckets.
// Caller must hold s.mu. Only buckets with key >= 0 can hold entries
// (rebuildOnce never inserts a non-positive score), but the walk still
// stops at the first key < 0 as a defensive mirror of the bucketed
// implementation's "stop at the sentinel" rule rather than relying on
// that invariant alone.
func (s *SnapshotIndex) rebuildCacheLocked() *snapshotCache {
	keys := make([]int64, 0, len(s.coarseBuckets))
	for k := range s.coarseBuckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	cache := &snapshotCache{
		prefixByKey:    make(map[int64]int, len(keys)),
		rankByCustomer: make(map[int64]int),
	}

	running := 0
	for _, k := range keys {
		if k < 0 {
			break
		}
		b := s.coarseBuckets[k]
		snap := ordertree.New() // private copy: later ticks mutate b in place
		cache.prefixByKey[k] = running
		cache.prefixSums = append(cache.prefixSums, prefixSumEntry{
			startingRank: running,
			bucketKey:    k,
			bucket:       snap,
		})
		b.ForEach(func(localRank int, e ordertree.Entry) bool {
			snap.Insert(e)
			cache.rankByCustomer[e.CustomerID] = running + localRank
			return true
		})
		running += b.Size()
	}

	return cache
}

// Update implements Index.Update.
func (s *SnapshotIndex) Update(customerID, delta int64) int64 {
	cellIface, _ := s.realtime.LoadOrStore(customerID, new(int64))
	cell := cellIface.(*int64)
	newScore := atomic.AddInt64(cell, delta)

	if delta != 0 {
		s.pending.push(pendingDelta{customerID: customerID, delta: delta})
		atomic.AddInt64(&s.pendingN, 1)
	}

	return newScore
}

// RanksByRange implements Index.RanksByRange against the last published
// cache — reads never block on, or see partial effects of, a rebuild.
func (s *SnapshotIndex) RanksByRange(start, end int) []RankedEntry {
	if end < start || start < 1 {
		return nil
	}
	cache := s.cache.Load()
	return rangeFromCache(cache, start, end)
}

// RanksByCustomer implements Index.RanksByCustomer using the cached
// rankByCustomer map for an O(1) anchor.
func (s *SnapshotIndex) RanksByCustomer(customerID int64, high, low int) []RankedEntry {
	cache := s.cache.Load()
	rank, ok := cache.rankByCustomer[customerID]
	if !ok {
		return nil
	}

	start := rank - high
	if start < 1 {
		start = 1
	}
	return rangeFromCache(cache, start, rank+low)
}

// rangeFromCache binary-searches prefixSums for the bucket containing
// rank `start`, then walks forward bucket by bucket (no locking needed —
// the cache is immutable once published) collecting entries in
// [start, end].
func rangeFromCache(cache *snapshotCache, start, end int) []RankedEntry {
	sums := cache.prefixSums
	first := sort.Search(len(sums), func(i int) bool {
		return sums[i].startingRank+sums[i].bucket.Size() >= start
	})

	var result []RankedEntry
	for i := first; i < len(sums); i++ {
		entry := sums[i]
		if entry.startingRank+1 > end {
			break
		}
		lo := start - entry.startingRank
		hi := end - entry.startingRank
		items := entry.bucket.RangeByRank(lo, hi)
		clampedLo := lo
		if clampedLo < 1 {
			clampedLo = 1
		}
		for j, e := range items {
			result = append(result, RankedEntry{
				CustomerID: e.CustomerID,
				Score:      e.Score,
				Rank:       entry.startingRank + clampedLo + j,
			})
		}
	}
	return result
}
