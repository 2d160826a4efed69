// Package pipeline orchestrates the full lifecycle of an incoming
// conversation: persistence, feature extraction, clustering, and the
// article decision. Passes for the same topic are serialized.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/darksunexists/darksun-sub000/internal/article"
	"github.com/darksunexists/darksun-sub000/internal/clusterer"
	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/features"
	"github.com/darksunexists/darksun-sub000/internal/logger"
	"github.com/darksunexists/darksun-sub000/internal/similarity"
)

// Store is the persistence surface the orchestrator needs on top of
// what the clusterer and lifecycle manager already require.
type Store interface {
	clusterer.Store
	article.Store

	CreateConversation(ctx context.Context, conv *core.Conversation) error
	UpdateConversationFeatures(ctx context.Context, id string, features core.ContentFeatures) error
	GetUnclusterableRecords(ctx context.Context, topic string) ([]core.UnclusterableRecord, error)
	MarkUnclusterable(ctx context.Context, conversationID, topic, reason string) error
	GetCluster(ctx context.Context, id string) (*core.Cluster, error)
}

// FeatureExtractor produces content features from conversation text.
type FeatureExtractor interface {
	Extract(ctx context.Context, text string) (core.ContentFeatures, error)
}

// Lifecycle decides and executes the article action for a cluster.
type Lifecycle interface {
	Process(ctx context.Context, cluster *core.Cluster) (*article.Result, error)
}

// StatsSource exposes scorer counters for the pass report.
type StatsSource interface {
	Stats() similarity.PassStats
}

// Orchestrator wires the stages together. One orchestrator serves many
// conversations; per-topic locking keeps concurrent ingests safe.
type Orchestrator struct {
	store         Store
	extractor     FeatureExtractor
	scorer        clusterer.Scorer
	lifecycle     Lifecycle
	maxConcurrent int

	mu         sync.Mutex
	topicLocks map[string]*sync.Mutex
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(store Store, extractor FeatureExtractor, scorer clusterer.Scorer, lifecycle Lifecycle, maxConcurrent int) *Orchestrator {
	return &Orchestrator{
		store:         store,
		extractor:     extractor,
		scorer:        scorer,
		lifecycle:     lifecycle,
		maxConcurrent: maxConcurrent,
		topicLocks:    make(map[string]*sync.Mutex),
	}
}

// Report summarizes one conversation's trip through the pipeline.
type Report struct {
	ConversationID string
	Topic          string
	Extracted      bool // Features were computed during this run
	Decision       *clusterer.Decision
	Article        *article.Result // Nil when no cluster was joined or formed
	ScorerStats    similarity.PassStats
	BacklogSize    int // Unclusterable conversations remaining for the topic
}

// ProcessConversation runs the full pipeline for one conversation. The
// conversation is persisted first, so a failure at any later stage
// leaves it recoverable for a future pass.
func (o *Orchestrator) ProcessConversation(ctx context.Context, conv *core.Conversation) (*Report, error) {
	if conv.Topic == "" {
		return nil, fmt.Errorf("conversation %s has no topic", conv.ID)
	}

	lock := o.topicLock(conv.Topic)
	lock.Lock()
	defer lock.Unlock()

	report := &Report{ConversationID: conv.ID, Topic: conv.Topic}

	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to persist conversation %s: %w", conv.ID, err)
	}

	if !conv.HasFeatures() {
		extracted, err := o.extractor.Extract(ctx, features.ConversationText(conv))
		if err != nil {
			// Leave the conversation featureless on the backlog rather
			// than aborting; a later re-extraction can recover it.
			logger.Warn().Err(err).Str("conversation", conv.ID).
				Msg("feature extraction failed; deferring conversation")
			if markErr := o.store.MarkUnclusterable(ctx, conv.ID, conv.Topic,
				fmt.Sprintf("feature extraction failed: %v", err)); markErr != nil {
				return nil, markErr
			}
			return o.finishReport(ctx, report)
		}
		if err := o.store.UpdateConversationFeatures(ctx, conv.ID, extracted); err != nil {
			return nil, fmt.Errorf("failed to store features for %s: %w", conv.ID, err)
		}
		conv.Features = &extracted
		report.Extracted = true
	}

	pass := clusterer.NewPass(o.store, o.scorer, o.maxConcurrent)
	decision, err := pass.Run(ctx, conv)
	if err != nil {
		return nil, err
	}
	report.Decision = decision

	logger.Info().Str("conversation", conv.ID).Str("outcome", string(decision.Outcome)).
		Str("reason", decision.Reason).Msg("clustering decision")

	switch decision.Outcome {
	case clusterer.OutcomeDeferred:
		if err := o.store.MarkUnclusterable(ctx, conv.ID, conv.Topic, decision.Reason); err != nil {
			return nil, err
		}
	case clusterer.OutcomeJoined, clusterer.OutcomeCreated:
		result, err := o.lifecycle.Process(ctx, decision.Cluster)
		if err != nil {
			return nil, fmt.Errorf("article lifecycle failed for cluster %s: %w", decision.ClusterID, err)
		}
		report.Article = result
		logger.Info().Str("cluster", decision.ClusterID).Str("action", string(result.Action)).
			Str("reason", result.Reason).Msg("article decision")
	}

	return o.finishReport(ctx, report)
}

// finishReport attaches scorer stats and the remaining backlog size.
func (o *Orchestrator) finishReport(ctx context.Context, report *Report) (*Report, error) {
	if src, ok := o.scorer.(StatsSource); ok {
		report.ScorerStats = src.Stats()
	}
	records, err := o.store.GetUnclusterableRecords(ctx, report.Topic)
	if err != nil {
		return nil, err
	}
	report.BacklogSize = len(records)
	return report, nil
}

func (o *Orchestrator) topicLock(topic string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.topicLocks[topic]
	if !ok {
		lock = &sync.Mutex{}
		o.topicLocks[topic] = lock
	}
	return lock
}

// ReprocessBacklog re-runs clustering for every backlog conversation of
// a topic. Conversations that still cannot cluster are re-marked with
// their fresh reason; the operation is idempotent.
func (o *Orchestrator) ReprocessBacklog(ctx context.Context, topic string) ([]Report, error) {
	lock := o.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	backlog, err := o.store.GetUnclusterableByTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog for topic %s: %w", topic, err)
	}

	pass := clusterer.NewPass(o.store, o.scorer, o.maxConcurrent)
	var reports []Report

	for i := range backlog {
		conv := &backlog[i]
		report := Report{ConversationID: conv.ID, Topic: topic}

		if !conv.HasFeatures() {
			report.Decision = &clusterer.Decision{
				Outcome: clusterer.OutcomeDeferred,
				Reason:  "conversation has no extracted features",
			}
			if err := o.store.MarkUnclusterable(ctx, conv.ID, topic, report.Decision.Reason); err != nil {
				return nil, err
			}
			reports = append(reports, report)
			continue
		}

		// A conversation absorbed by an earlier iteration of this pass
		// is already settled.
		if pass.Settled(conv.ID) {
			continue
		}

		decision, err := pass.Run(ctx, conv)
		if err != nil {
			return nil, err
		}
		report.Decision = decision

		switch decision.Outcome {
		case clusterer.OutcomeDeferred:
			if err := o.store.MarkUnclusterable(ctx, conv.ID, topic, decision.Reason); err != nil {
				return nil, err
			}
		case clusterer.OutcomeJoined, clusterer.OutcomeCreated:
			result, err := o.lifecycle.Process(ctx, decision.Cluster)
			if err != nil {
				return nil, err
			}
			report.Article = result
		}
		reports = append(reports, report)
	}

	return reports, nil
}
