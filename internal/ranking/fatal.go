package ranking

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
)

// invariantViolation is raised when the index's own bookkeeping predicts
// a state the data structures don't actually have — e.g. rankOf missing
// an entry a bucket's accounting says must be present. This signals a
// corrupt index, not a recoverable error: the process aborts rather
// than serve answers it can no longer trust.
//
// pkg/errors gives the fatal log line a stack trace pointing at the call
// site that detected the corruption, which bare fmt.Errorf would lose.
func invariantViolation(format string, args ...interface{}) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// abortOnCorruption logs err with its stack trace and terminates the
// process. Called only from paths that have already determined the
// ranked index is inconsistent with its own invariants.
func abortOnCorruption(err error) {
	log.Fatalf("leaderboard: ranked index invariant violated, aborting: %+v", err)
}
