package ranking

import (
	"math/rand"
	"sync"
	"testing"
)

func ranksOf(entries []RankedEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Rank
	}
	return out
}

// TestScenarioS1 covers the basic sequential-update scenario.
func TestScenarioS1(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(1, 100)
	got := idx.Update(1, 50)
	if got != 150 {
		t.Fatalf("Update(1,50) = %d, want 150", got)
	}

	entries := idx.RanksByRange(1, 1)
	if len(entries) != 1 || entries[0] != (RankedEntry{CustomerID: 1, Score: 150, Rank: 1}) {
		t.Errorf("RanksByRange(1,1) = %+v, want [{1 150 1}]", entries)
	}
}

func TestScenarioS2(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(2, 200)
	idx.Update(1, 150)
	idx.Update(3, 150)
	idx.Update(4, 100)
	idx.Update(5, 50)

	entries := idx.RanksByRange(1, 5)
	want := []RankedEntry{
		{CustomerID: 2, Score: 200, Rank: 1},
		{CustomerID: 1, Score: 150, Rank: 2},
		{CustomerID: 3, Score: 150, Rank: 3},
		{CustomerID: 4, Score: 100, Rank: 4},
		{CustomerID: 5, Score: 50, Rank: 5},
	}
	if len(entries) != len(want) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestScenarioS3(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(2, 200)
	idx.Update(1, 150)
	idx.Update(3, 150)
	idx.Update(4, 100)
	idx.Update(5, 50)

	idx.Update(5, 200)

	entries := idx.RanksByRange(1, 1)
	if len(entries) != 1 || entries[0] != (RankedEntry{CustomerID: 5, Score: 250, Rank: 1}) {
		t.Errorf("RanksByRange(1,1) after S3 update = %+v, want [{5 250 1}]", entries)
	}
}

func TestScenarioS4EmptyIndexRange(t *testing.T) {
	idx := NewBucketedIndex()
	entries := idx.RanksByRange(100, 200)
	if len(entries) != 0 {
		t.Errorf("RanksByRange on empty index = %+v, want empty", entries)
	}
}

func TestScenarioS5InvertedRange(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(1, 10)
	entries := idx.RanksByRange(5, 1)
	if len(entries) != 0 {
		t.Errorf("RanksByRange(5,1) = %+v, want empty", entries)
	}
}

func TestScenarioS6UnknownCustomer(t *testing.T) {
	idx := NewBucketedIndex()
	entries := idx.RanksByCustomer(999, 1, 1)
	if len(entries) != 0 {
		t.Errorf("RanksByCustomer(999,...) = %+v, want empty", entries)
	}
}

func TestScenarioS7TiedScoresOrderByCustomerID(t *testing.T) {
	idx := NewBucketedIndex()
	for i := int64(20); i >= 1; i-- {
		idx.Update(i, 1000)
	}

	entries := idx.RanksByRange(1, 20)
	if len(entries) != 20 {
		t.Fatalf("len(entries) = %d, want 20", len(entries))
	}
	for i, e := range entries {
		wantID := int64(i + 1)
		wantRank := i + 1
		if e.CustomerID != wantID || e.Rank != wantRank {
			t.Errorf("entries[%d] = %+v, want CustomerID=%d Rank=%d", i, e, wantID, wantRank)
		}
	}
}

func TestScenarioS8LargeRandomPopulation(t *testing.T) {
	idx := NewBucketedIndex()
	rng := rand.New(rand.NewSource(1))

	for i := int64(1); i <= 1000; i++ {
		idx.Update(i, int64(rng.Intn(1000)+1))
	}
	for round := 0; round < 2; round++ {
		for i := int64(1); i <= 1000; i++ {
			idx.Update(i, int64(rng.Intn(201)-100))
		}
	}

	total := idx.TotalRanked()
	entries := idx.RanksByRange(1, total)
	if len(entries) != total {
		t.Fatalf("len(entries) = %d, want %d", len(entries), total)
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		inOrder := prev.Score > cur.Score || (prev.Score == cur.Score && prev.CustomerID < cur.CustomerID)
		if !inOrder {
			t.Fatalf("entries not strictly ordered at %d: %+v then %+v", i, prev, cur)
		}
		if cur.Rank != prev.Rank+1 {
			t.Fatalf("ranks not contiguous at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestScenarioS9CrossBucket(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(1, 50)
	idx.Update(2, 150)
	idx.Update(3, 250)
	idx.Update(4, 350)

	entries := idx.RanksByRange(1, 4)
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}
	if entries[0].Score != 350 || entries[0].Rank != 1 {
		t.Errorf("entries[0] = %+v, want top score 350 at rank 1", entries[0])
	}
	if entries[3].Score != 50 || entries[3].Rank != 4 {
		t.Errorf("entries[3] = %+v, want bottom score 50 at rank 4", entries[3])
	}
}

// TestRanksByCustomerMatchesGlobalPosition checks that a customer's
// windowed entry matches their entry in the full ranking.
func TestRanksByCustomerMatchesGlobalPosition(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(1, 500)
	idx.Update(2, 900)
	idx.Update(3, 100)

	window := idx.RanksByCustomer(1, 0, 0)
	if len(window) != 1 {
		t.Fatalf("len(window) = %d, want 1", len(window))
	}
	full := idx.RanksByRange(1, 3)
	var want RankedEntry
	for _, e := range full {
		if e.CustomerID == 1 {
			want = e
		}
	}
	if window[0] != want {
		t.Errorf("RanksByCustomer(1,0,0) = %+v, want %+v", window[0], want)
	}
}

// TestIdempotentZeroDelta checks that a zero-delta update leaves the
// ranking unchanged.
func TestIdempotentZeroDelta(t *testing.T) {
	idx := NewBucketedIndex()
	idx.Update(1, 300)
	idx.Update(2, 100)

	before := idx.RanksByRange(1, 2)
	got := idx.Update(1, 0)
	if got != 300 {
		t.Errorf("Update(1,0) = %d, want 300 (unchanged)", got)
	}
	after := idx.RanksByRange(1, 2)

	if len(before) != len(after) {
		t.Fatalf("population changed after zero-delta update")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("entries[%d] changed after zero-delta update: %+v -> %+v", i, before[i], after[i])
		}
	}
}

// TestFinalScoreIsAlgebraicSum checks that a customer's final score is
// the algebraic sum of every delta ever applied to it.
func TestFinalScoreIsAlgebraicSum(t *testing.T) {
	idx := NewBucketedIndex()
	deltas := []int64{100, -30, 50, -10, 200}
	var want int64
	var got int64
	for _, d := range deltas {
		want += d
		got = idx.Update(7, d)
	}
	if got != want {
		t.Errorf("final score = %d, want %d", got, want)
	}
}

// TestConcurrentUpdatesAndReadsStayOrdered checks that concurrent
// writers and readers never observe a malformed ranking. Modeled on
// internal/game's stress_test.go goroutine+WaitGroup pattern.
func TestConcurrentUpdatesAndReadsStayOrdered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency stress test in short mode")
	}

	idx := NewBucketedIndex()
	const numCustomers = 200
	const numWriters = 16
	const updatesPerWriter = 500

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for w := 0; w < numWriters; w++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < updatesPerWriter; i++ {
				customerID := int64(rng.Intn(numCustomers) + 1)
				delta := int64(rng.Intn(201) - 100)
				idx.Update(customerID, delta)
			}
		}(int64(w))
	}

	stop := make(chan struct{})
	var readerWg sync.WaitGroup
	readerWg.Add(1)
	go func() {
		defer readerWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				total := idx.TotalRanked()
				entries := idx.RanksByRange(1, total)
				for i := 1; i < len(entries); i++ {
					prev, cur := entries[i-1], entries[i]
					if !(prev.Score > cur.Score || (prev.Score == cur.Score && prev.CustomerID < cur.CustomerID)) {
						t.Errorf("ordering violated: %+v then %+v", prev, cur)
						return
					}
					if cur.Rank != prev.Rank+1 {
						t.Errorf("ranks not contiguous: %+v then %+v", prev, cur)
						return
					}
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readerWg.Wait()
}
