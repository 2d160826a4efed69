package similarity

import (
	"context"
	"errors"
	"sync"

	"github.com/darksunexists/darksun-sub000/internal/core"
)

// PassScorer serves pairwise scores for one clustering pass: pass-local
// memo first, then the persistent cache, then the oracle with a
// write-through on success. The memo gives read-your-writes within the
// pass and dedupes oracle calls when the same pair comes up twice.
// Failed comparisons are remembered for the pass but never cached.
//
// A PassScorer belongs to exactly one pass; do not share across passes.
type PassScorer struct {
	cache  Cache
	oracle *PairOracle

	mu     sync.Mutex
	scores map[string]float64
	failed map[string]struct{}
	stats  PassStats
}

// PassStats counts cache behavior over one pass.
type PassStats struct {
	CacheHits   int
	OracleCalls int
	Failures    int
}

// NewPassScorer creates a scorer for a single clustering pass.
func NewPassScorer(cache Cache, oracle *PairOracle) *PassScorer {
	return &PassScorer{
		cache:  cache,
		oracle: oracle,
		scores: make(map[string]float64),
		failed: make(map[string]struct{}),
	}
}

// Score returns the similarity for the unordered pair (a, b). It
// returns ErrNoScore when the oracle exhausted its retries; the caller
// excludes the comparison from any average.
func (s *PassScorer) Score(ctx context.Context, a, b *core.Conversation, topic string) (float64, error) {
	lo, hi := orderPair(a.ID, b.ID)
	key := lo + "|" + hi

	s.mu.Lock()
	if score, ok := s.scores[key]; ok {
		s.mu.Unlock()
		return score, nil
	}
	if _, ok := s.failed[key]; ok {
		s.mu.Unlock()
		return 0, ErrNoScore
	}
	s.mu.Unlock()

	score, found, err := s.cache.Get(ctx, a.ID, b.ID)
	if err != nil {
		return 0, err
	}
	if found {
		s.mu.Lock()
		s.scores[key] = score
		s.stats.CacheHits++
		s.mu.Unlock()
		return score, nil
	}

	score, err = s.oracle.Score(ctx, a, b, topic)

	s.mu.Lock()
	s.stats.OracleCalls++
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNoScore) {
			s.mu.Lock()
			s.failed[key] = struct{}{}
			s.stats.Failures++
			s.mu.Unlock()
		}
		return 0, err
	}

	if err := s.cache.Put(ctx, a.ID, b.ID, score); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.scores[key] = score
	s.mu.Unlock()
	return score, nil
}

// Stats returns a snapshot of the pass counters.
func (s *PassScorer) Stats() PassStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
