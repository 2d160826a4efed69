// Package similarity scores conversation pairs through an LLM oracle
// with a persistent read-through/write-through cache in front of it.
package similarity

import (
	"context"
	"errors"
)

// ErrNoScore means the oracle could not produce a usable score for a
// pair after retries. Callers must exclude the comparison rather than
// defaulting it to zero.
var ErrNoScore = errors.New("similarity oracle produced no score")

// Cache is a persistent memoization of pairwise similarity keyed by an
// unordered conversation-ID pair. Get must honor both storage orderings;
// Put is an idempotent upsert. Once present a value is authoritative and
// is never re-queried against the oracle.
type Cache interface {
	// Get returns the cached score and true, or false when the pair has
	// never been scored. A stored zero is a real score, not a miss.
	Get(ctx context.Context, idA, idB string) (float64, bool, error)

	// Put upserts the score for the unordered pair. If a relation exists
	// in either ordering it is updated in place.
	Put(ctx context.Context, idA, idB string, score float64) error
}

// orderPair returns the pair in canonical (lexicographic) order.
func orderPair(idA, idB string) (string, string) {
	if idB < idA {
		return idB, idA
	}
	return idA, idB
}
