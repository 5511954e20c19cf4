// Package auditlog records a diagnostic, best-effort trail of score
// updates applied to the ranked index. It exists purely for operational
// visibility — the ranked index's programmatic surface has no audit
// concept of its own — and it never blocks, gates, or validates Update;
// its loss under load is by design, not a bug.
//
// Modeled on internal/game/event_log.go's EventLog: same bounded
// circular buffer, same global+per-source rate limiting via
// golang.org/x/time/rate, same async batched JSONL writer. Generalized
// from per-tick game events to a single event shape (one per score
// update) since the ranked index has nothing resembling ticks.
package auditlog

import "time"

// Event is one recorded score update.
type Event struct {
	Timestamp  int64 `json:"timestamp"` // unix nano
	Sequence   uint64 `json:"sequence"`
	CustomerID int64 `json:"customerId"`
	Delta      int64 `json:"delta"`
	NewScore   int64 `json:"newScore"`
}

func newEvent(customerID, delta, newScore int64) Event {
	return Event{
		Timestamp:  time.Now().UnixNano(),
		CustomerID: customerID,
		Delta:      delta,
		NewScore:   newScore,
	}
}
