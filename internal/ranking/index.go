// Package ranking implements the concurrent ranked index: the mapping
// from customer IDs to accumulated scores plus the totally ordered
// ranking over all positive-scored customers.
package ranking

// RankedEntry is the result shape returned by every read operation:
// 1-based rank, the customer's current accumulated score (> 0), and
// their identifier.
type RankedEntry struct {
	CustomerID int64
	Score      int64
	Rank       int
}

// Index is the contract both BucketedIndex and SnapshotIndex satisfy.
// Which implementation backs an Index is a startup-time configuration
// choice, never a per-call decision, so a plain interface is enough —
// no dynamic dispatch over a type tag.
type Index interface {
	// Update applies delta to customerId's accumulated score and returns
	// the new total. customerId must be > 0 and delta must be in
	// [-1000, 1000]; both are enforced by the HTTP boundary, not here.
	Update(customerID, delta int64) int64

	// RanksByRange returns entries at global ranks [start, end]
	// inclusive, 1-based, ascending by rank. Empty if end < start or
	// start is beyond the ranked population.
	RanksByRange(start, end int) []RankedEntry

	// RanksByCustomer returns entries in the window
	// [max(1, rank-high), rank+low] around customerId's global rank.
	// Empty if the customer is unknown or has a non-positive score.
	RanksByCustomer(customerID int64, high, low int) []RankedEntry
}
