// Package clusterer implements the incremental two-phase clustering
// pass: a new conversation either joins the best existing cluster for
// its topic, founds a new cluster with backlog partners, or stays
// unclustered.
package clusterer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/logger"
	"github.com/darksunexists/darksun-sub000/internal/similarity"
)

// Policy constants. They are intentionally asymmetric: joining an
// established cluster is held to a looser bar than founding a new one,
// because the cluster's cohesion is already validated by its members.
const (
	// JoinThreshold is the minimum mean per-member similarity for a
	// conversation to join an existing cluster (inclusive).
	JoinThreshold = 0.6

	// PairThreshold is the minimum pairwise similarity for two
	// unclustered conversations to found a cluster together (inclusive).
	PairThreshold = 0.7
)

// Substantial-standalone gates: a conversation rich enough on its own
// founds a single-member cluster even without a partner.
const (
	standaloneMinClaims   = 4
	standaloneMinEntities = 3
	standaloneMinTerms    = 3
	standaloneMinTurns    = 5
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*core.Conversation, error)
	GetClustersByTopic(ctx context.Context, topic string) ([]core.Cluster, error)
	GetUnclusterableByTopic(ctx context.Context, topic string) ([]core.Conversation, error)
	CreateCluster(ctx context.Context, cluster *core.Cluster) error
	AddClusterMember(ctx context.Context, clusterID, conversationID string, mergedFeatures core.ContentFeatures) error
	RemoveUnclusterable(ctx context.Context, conversationID string) error
}

// Scorer serves pairwise similarity scores; similarity.ErrNoScore marks
// a comparison that must be excluded rather than counted as zero.
type Scorer interface {
	Score(ctx context.Context, a, b *core.Conversation, topic string) (float64, error)
}

// Outcome is the terminal state of one conversation in a pass.
type Outcome string

const (
	OutcomeJoined   Outcome = "joined"
	OutcomeCreated  Outcome = "created"
	OutcomeDeferred Outcome = "deferred"
)

// Decision records what happened to a conversation and why. Reason is
// always populated; auditability is a first-class requirement.
type Decision struct {
	Outcome     Outcome
	ClusterID   string
	Cluster     *core.Cluster // Populated for joined/created outcomes
	AbsorbedIDs []string      // Backlog members pulled into a new cluster
	BestScore   float64       // Best cohesion (Phase A) or best pair score (Phase B)
	Reason      string
}

// Pass owns the state of one clustering pass for one topic. The
// processed set is pass-local by design: concurrent passes for the same
// topic are unsafe and must be serialized by the caller.
type Pass struct {
	store         Store
	scorer        Scorer
	maxConcurrent int
	processed     map[string]struct{}
}

// NewPass creates a pass. maxConcurrent bounds concurrent oracle
// comparisons; values below 1 mean sequential.
func NewPass(store Store, scorer Scorer, maxConcurrent int) *Pass {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pass{
		store:         store,
		scorer:        scorer,
		maxConcurrent: maxConcurrent,
		processed:     make(map[string]struct{}),
	}
}

// Settled reports whether the conversation was already placed in a
// cluster during this pass.
func (p *Pass) Settled(conversationID string) bool {
	_, ok := p.processed[conversationID]
	return ok
}

// Run decides the fate of one newly arrived conversation. The
// conversation must already have features.
func (p *Pass) Run(ctx context.Context, conv *core.Conversation) (*Decision, error) {
	if !conv.HasFeatures() {
		return nil, fmt.Errorf("conversation %s has no features; ineligible for clustering", conv.ID)
	}

	// Phase A: absorption into an existing cluster.
	decision, err := p.tryJoinExisting(ctx, conv)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		return decision, nil
	}

	// Phase B: found a new cluster with backlog partners.
	decision, err = p.tryFormCluster(ctx, conv)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		return decision, nil
	}

	return &Decision{
		Outcome: OutcomeDeferred,
		Reason: "insufficient similarity to existing clusters and backlog conversations; " +
			"not substantial enough to stand alone",
	}, nil
}

// tryJoinExisting computes each cluster's cohesion against conv and
// joins the best one at or above JoinThreshold. Returns nil when no
// cluster qualifies.
func (p *Pass) tryJoinExisting(ctx context.Context, conv *core.Conversation) (*Decision, error) {
	clusters, err := p.store.GetClustersByTopic(ctx, conv.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to load clusters for topic %s: %w", conv.Topic, err)
	}

	var best *core.Cluster
	bestScore := -1.0

	for i := range clusters {
		cluster := &clusters[i]
		cohesion, valid, err := p.clusterCohesion(ctx, conv, cluster)
		if err != nil {
			return nil, err
		}
		// A cluster with zero valid comparisons cannot be joined.
		if valid == 0 {
			continue
		}
		logger.Debug().Str("cluster", cluster.ID).Float64("cohesion", cohesion).
			Int("valid_comparisons", valid).Msg("phase A cohesion")

		// Strictly greater: ties keep the first cluster in creation order.
		if cohesion > bestScore {
			bestScore = cohesion
			best = cluster
		}
	}

	if best == nil || bestScore < JoinThreshold {
		return nil, nil
	}

	merged := core.MergeFeatures(best.Features, *conv.Features)
	if err := p.store.AddClusterMember(ctx, best.ID, conv.ID, merged); err != nil {
		return nil, fmt.Errorf("failed to join cluster %s: %w", best.ID, err)
	}
	if err := p.store.RemoveUnclusterable(ctx, conv.ID); err != nil {
		return nil, err
	}
	p.processed[conv.ID] = struct{}{}

	best.Features = merged
	best.MemberIDs = append(best.MemberIDs, conv.ID)

	return &Decision{
		Outcome:   OutcomeJoined,
		ClusterID: best.ID,
		Cluster:   best,
		BestScore: bestScore,
		Reason: fmt.Sprintf("joined cluster %q: mean member similarity %.2f >= %.2f",
			best.Name, bestScore, JoinThreshold),
	}, nil
}

// clusterCohesion is the arithmetic mean of conv's similarity to each
// member. Comparisons that fail the oracle are excluded from the mean,
// never defaulted to zero; valid reports how many counted.
func (p *Pass) clusterCohesion(ctx context.Context, conv *core.Conversation, cluster *core.Cluster) (float64, int, error) {
	var members []*core.Conversation
	for _, memberID := range cluster.MemberIDs {
		member, err := p.store.GetConversation(ctx, memberID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to load cluster member %s: %w", memberID, err)
		}
		if !member.HasFeatures() {
			continue
		}
		members = append(members, member)
	}

	scores, err := p.scorePairs(ctx, conv, members)
	if err != nil {
		return 0, 0, err
	}
	if len(scores) == 0 {
		return 0, 0, nil
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), len(scores), nil
}

// tryFormCluster compares conv against unprocessed backlog members and
// founds a cluster with everyone at or above PairThreshold, or alone
// when the conversation is substantial enough. Returns nil when neither
// applies.
func (p *Pass) tryFormCluster(ctx context.Context, conv *core.Conversation) (*Decision, error) {
	backlog, err := p.store.GetUnclusterableByTopic(ctx, conv.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog for topic %s: %w", conv.Topic, err)
	}

	var candidates []*core.Conversation
	for i := range backlog {
		candidate := &backlog[i]
		if candidate.ID == conv.ID {
			continue
		}
		if _, done := p.processed[candidate.ID]; done {
			continue
		}
		if !candidate.HasFeatures() {
			continue
		}
		candidates = append(candidates, candidate)
	}

	var partners []*core.Conversation
	bestScore := 0.0
	for _, candidate := range candidates {
		score, err := p.scorer.Score(ctx, conv, candidate, conv.Topic)
		if errors.Is(err, similarity.ErrNoScore) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if score > bestScore {
			bestScore = score
		}
		if score >= PairThreshold {
			partners = append(partners, candidate)
		}
	}

	substantial := isSubstantialStandalone(conv)
	if len(partners) == 0 && !substantial {
		return nil, nil
	}

	members := append([]*core.Conversation{conv}, partners...)
	merged := *conv.Features
	featureRecords := []core.ContentFeatures{*conv.Features}
	memberIDs := []string{conv.ID}
	var absorbed []string
	for _, partner := range partners {
		merged = core.MergeFeatures(merged, *partner.Features)
		featureRecords = append(featureRecords, *partner.Features)
		memberIDs = append(memberIDs, partner.ID)
		absorbed = append(absorbed, partner.ID)
	}

	cluster := &core.Cluster{
		Topic:     conv.Topic,
		Name:      clusterName(conv, featureRecords),
		MemberIDs: memberIDs,
		Features:  merged,
	}
	if err := p.store.CreateCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	for _, member := range members {
		if err := p.store.RemoveUnclusterable(ctx, member.ID); err != nil {
			return nil, err
		}
		p.processed[member.ID] = struct{}{}
	}

	reason := fmt.Sprintf("formed new cluster %q with %d backlog partner(s) scoring >= %.2f",
		cluster.Name, len(partners), PairThreshold)
	if len(partners) == 0 {
		reason = fmt.Sprintf("substantial standalone conversation founded cluster %q "+
			"(claims=%d entities=%d terms=%d turns=%d)",
			cluster.Name, len(conv.Features.Claims), len(conv.Features.Entities),
			len(conv.Features.TechnicalTerms), len(conv.Turns))
	}

	return &Decision{
		Outcome:     OutcomeCreated,
		ClusterID:   cluster.ID,
		Cluster:     cluster,
		AbsorbedIDs: absorbed,
		BestScore:   bestScore,
		Reason:      reason,
	}, nil
}

// scorePairs scores conv against each counterpart with bounded
// concurrency, dropping failed comparisons.
func (p *Pass) scorePairs(ctx context.Context, conv *core.Conversation, others []*core.Conversation) ([]float64, error) {
	if len(others) == 0 {
		return nil, nil
	}

	sem := make(chan struct{}, p.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var scores []float64
	var firstErr error

	for _, other := range others {
		wg.Add(1)
		sem <- struct{}{}
		go func(other *core.Conversation) {
			defer wg.Done()
			defer func() { <-sem }()

			score, err := p.scorer.Score(ctx, conv, other, conv.Topic)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, similarity.ErrNoScore) {
				return
			}
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			scores = append(scores, score)
		}(other)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}

func isSubstantialStandalone(conv *core.Conversation) bool {
	f := conv.Features
	return len(f.Claims) >= standaloneMinClaims &&
		len(f.Entities) >= standaloneMinEntities &&
		len(f.TechnicalTerms) >= standaloneMinTerms &&
		len(conv.Turns) >= standaloneMinTurns
}

// clusterName joins the entities common to every member; when the
// intersection is empty the founding conversation's title is used.
func clusterName(founder *core.Conversation, records []core.ContentFeatures) string {
	common := core.CommonEntities(records)
	if len(common) == 0 {
		return founder.Title
	}
	return strings.Join(common, " & ")
}
