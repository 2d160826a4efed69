package article

import (
	"context"
	"fmt"
	"sort"

	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/logger"
)

// Content gates for creating a brand-new article from a cluster with no
// sourcing overlap.
const (
	minClusterMembers = 2
	minMergedClaims   = 3
	minMergedEntities = 2
)

// Store is the persistence surface the lifecycle manager needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*core.Conversation, error)
	GetArticlesBySourceConversationIDs(ctx context.Context, ids []string) ([]core.Article, error)
	GetSourceConversationIDs(ctx context.Context, articleID int64) ([]string, error)
	GetArticlesByTopic(ctx context.Context, topic string) ([]core.Article, error)
	CreateArticle(ctx context.Context, title, content, topic, roomID string, sourceIDs []string, parentArticleID *int64) (int64, error)
	CreateArticleVersion(ctx context.Context, articleID int64, title, content string, sourceIDs []string) (int64, error)
	AddArticleRelation(ctx context.Context, sourceArticleID, targetArticleID int64, relationType core.RelationType) error
	SetClusterArticle(ctx context.Context, clusterID string, articleID int64) error
}

// Enricher scores how much a cluster would enhance an article. It never
// fails; a degraded scorer yields a neutral score.
type Enricher interface {
	Score(ctx context.Context, article *core.Article, conversations []core.Conversation) float64
}

// Action is the terminal lifecycle decision for a cluster.
type Action string

const (
	ActionNone         Action = "none"         // Cluster fully represented already
	ActionUpdated      Action = "updated"      // New version of an existing article
	ActionCreated      Action = "created"      // New article, possibly with typed links
	ActionInsufficient Action = "insufficient" // Below the content gates
)

// Result records the lifecycle outcome. Reason is always populated.
type Result struct {
	Action       Action
	ArticleID    int64
	VersionID    int64
	RelatedIDs   []int64           // Articles linked from a newly created article
	RelationType core.RelationType // Type of those links
	Reason       string
}

// Manager drives article creation and versioning from cluster
// decisions.
type Manager struct {
	store    Store
	enricher Enricher
	synth    Synthesizer
}

// NewManager creates a lifecycle manager.
func NewManager(store Store, enricher Enricher, synth Synthesizer) *Manager {
	return &Manager{store: store, enricher: enricher, synth: synth}
}

// Process decides and executes exactly one action for the cluster:
// no-op, update the best-matching partially-sourced article, create a
// new article with reference or continuation links, create a standalone
// article, or report insufficient content.
func (m *Manager) Process(ctx context.Context, cluster *core.Cluster) (*Result, error) {
	conversations, err := m.loadMembers(ctx, cluster)
	if err != nil {
		return nil, err
	}

	overlapping, err := m.store.GetArticlesBySourceConversationIDs(ctx, cluster.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sourced articles: %w", err)
	}

	memberSet := make(map[string]struct{}, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		memberSet[id] = struct{}{}
	}

	// Articles that already source some members, keyed with the member
	// conversations they are still missing.
	type candidate struct {
		article core.Article
		missing []string
		score   float64
	}
	var candidates []candidate

	for _, art := range overlapping {
		sources, err := m.store.GetSourceConversationIDs(ctx, art.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load sources for article %d: %w", art.ID, err)
		}
		sourceSet := make(map[string]struct{}, len(sources))
		for _, id := range sources {
			sourceSet[id] = struct{}{}
		}

		var missing []string
		for _, id := range cluster.MemberIDs {
			if _, ok := sourceSet[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return &Result{
				Action:    ActionNone,
				ArticleID: art.ID,
				Reason: fmt.Sprintf("article %d %q already lists every cluster member as a source",
					art.ID, art.Title),
			}, nil
		}
		candidates = append(candidates, candidate{article: art, missing: missing})
	}

	// Partial sourcing overlap always produces an update, never a
	// create; enrichment score disambiguates between candidates.
	if len(candidates) > 0 {
		for i := range candidates {
			candidates[i].score = m.enricher.Score(ctx, &candidates[i].article, conversations)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})
		best := candidates[0]

		title, content, err := m.synth.SynthesizeUpdatedArticle(ctx, &best.article, conversations, cluster.Features)
		if err != nil {
			return nil, err
		}
		versionID, err := m.store.CreateArticleVersion(ctx, best.article.ID, title, content, best.missing)
		if err != nil {
			return nil, err
		}
		if err := m.store.SetClusterArticle(ctx, cluster.ID, best.article.ID); err != nil {
			return nil, err
		}

		return &Result{
			Action:    ActionUpdated,
			ArticleID: best.article.ID,
			VersionID: versionID,
			Reason: fmt.Sprintf("updated article %d %q (enrichment %.2f) with %d new source(s); "+
				"%d candidate article(s) shared sources with the cluster",
				best.article.ID, best.article.Title, best.score, len(best.missing), len(candidates)),
		}, nil
	}

	// No sourcing overlap anywhere: gate on minimum content before
	// creating anything.
	if len(cluster.MemberIDs) < minClusterMembers ||
		len(cluster.Features.Claims) < minMergedClaims ||
		len(cluster.Features.Entities) < minMergedEntities {
		return &Result{
			Action: ActionInsufficient,
			Reason: fmt.Sprintf("insufficient content for a new article: members=%d (need %d), "+
				"claims=%d (need %d), entities=%d (need %d)",
				len(cluster.MemberIDs), minClusterMembers,
				len(cluster.Features.Claims), minMergedClaims,
				len(cluster.Features.Entities), minMergedEntities),
		}, nil
	}

	return m.createWithNeighbors(ctx, cluster, conversations)
}

// createWithNeighbors creates a new article and links it to existing
// topic articles by enrichment band: reference links beat continuation
// links; anything else means a standalone article.
func (m *Manager) createWithNeighbors(ctx context.Context, cluster *core.Cluster, conversations []core.Conversation) (*Result, error) {
	topicArticles, err := m.store.GetArticlesByTopic(ctx, cluster.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic articles: %w", err)
	}

	var references, continuations []int64
	for i := range topicArticles {
		score := m.enricher.Score(ctx, &topicArticles[i], conversations)
		switch core.BandRelation(score) {
		case core.RelationReference:
			references = append(references, topicArticles[i].ID)
		case core.RelationContinuation:
			continuations = append(continuations, topicArticles[i].ID)
		}
		logger.Debug().Int64("article_id", topicArticles[i].ID).Float64("score", score).
			Msg("topic article scored for linking")
	}

	title, content, err := m.synth.SynthesizeArticle(ctx, conversations, cluster.Features)
	if err != nil {
		return nil, err
	}

	roomID := ""
	if len(conversations) > 0 {
		roomID = conversations[0].ID
	}
	articleID, err := m.store.CreateArticle(ctx, title, content, cluster.Topic, roomID, cluster.MemberIDs, nil)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetClusterArticle(ctx, cluster.ID, articleID); err != nil {
		return nil, err
	}

	result := &Result{Action: ActionCreated, ArticleID: articleID}
	switch {
	case len(references) > 0:
		result.RelatedIDs = references
		result.RelationType = core.RelationReference
		result.Reason = fmt.Sprintf("created article %d %q with reference links to %d related article(s)",
			articleID, title, len(references))
	case len(continuations) > 0:
		result.RelatedIDs = continuations
		result.RelationType = core.RelationContinuation
		result.Reason = fmt.Sprintf("created article %d %q as a continuation of %d article(s)",
			articleID, title, len(continuations))
	default:
		result.Reason = fmt.Sprintf("created standalone article %d %q; no sufficiently related topic articles",
			articleID, title)
	}

	for _, relatedID := range result.RelatedIDs {
		if err := m.store.AddArticleRelation(ctx, articleID, relatedID, result.RelationType); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *Manager) loadMembers(ctx context.Context, cluster *core.Cluster) ([]core.Conversation, error) {
	conversations := make([]core.Conversation, 0, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		conv, err := m.store.GetConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load cluster member %s: %w", id, err)
		}
		conversations = append(conversations, *conv)
	}
	return conversations, nil
}
