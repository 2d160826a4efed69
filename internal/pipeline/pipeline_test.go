package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/darksunexists/darksun-sub000/internal/article"
	"github.com/darksunexists/darksun-sub000/internal/clusterer"
	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/similarity"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	conversations map[string]*core.Conversation
	clusters      []*core.Cluster
	backlog       map[string]string // conversation ID -> reason
	articles      map[int64]*core.Article
	sources       map[int64][]string
	clusterLinks  map[string]int64
	nextCluster   int
	nextArticle   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*core.Conversation),
		backlog:       make(map[string]string),
		articles:      make(map[int64]*core.Article),
		sources:       make(map[int64][]string),
		clusterLinks:  make(map[string]int64),
	}
}

func (f *fakeStore) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	copied := *conv
	f.conversations[conv.ID] = &copied
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func (f *fakeStore) UpdateConversationFeatures(ctx context.Context, id string, features core.ContentFeatures) error {
	conv, ok := f.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conv.Features = &features
	return nil
}

func (f *fakeStore) GetClustersByTopic(ctx context.Context, topic string) ([]core.Cluster, error) {
	var out []core.Cluster
	for _, c := range f.clusters {
		if c.Topic == topic {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCluster(ctx context.Context, id string) (*core.Cluster, error) {
	for _, c := range f.clusters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("cluster %s not found", id)
}

func (f *fakeStore) CreateCluster(ctx context.Context, cluster *core.Cluster) error {
	f.nextCluster++
	cluster.ID = fmt.Sprintf("cluster-%d", f.nextCluster)
	f.clusters = append(f.clusters, cluster)
	return nil
}

func (f *fakeStore) AddClusterMember(ctx context.Context, clusterID, conversationID string, mergedFeatures core.ContentFeatures) error {
	for _, c := range f.clusters {
		if c.ID == clusterID {
			c.MemberIDs = append(c.MemberIDs, conversationID)
			c.Features = mergedFeatures
			return nil
		}
	}
	return fmt.Errorf("cluster %s not found", clusterID)
}

func (f *fakeStore) SetClusterArticle(ctx context.Context, clusterID string, articleID int64) error {
	f.clusterLinks[clusterID] = articleID
	return nil
}

func (f *fakeStore) MarkUnclusterable(ctx context.Context, conversationID, topic, reason string) error {
	f.backlog[conversationID] = reason
	return nil
}

func (f *fakeStore) RemoveUnclusterable(ctx context.Context, conversationID string) error {
	delete(f.backlog, conversationID)
	return nil
}

func (f *fakeStore) GetUnclusterableByTopic(ctx context.Context, topic string) ([]core.Conversation, error) {
	var out []core.Conversation
	for id := range f.backlog {
		if conv, ok := f.conversations[id]; ok && conv.Topic == topic {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUnclusterableRecords(ctx context.Context, topic string) ([]core.UnclusterableRecord, error) {
	var out []core.UnclusterableRecord
	for id, reason := range f.backlog {
		out = append(out, core.UnclusterableRecord{ConversationID: id, Topic: topic, Reason: reason})
	}
	return out, nil
}

func (f *fakeStore) GetArticlesBySourceConversationIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	return nil, nil
}

func (f *fakeStore) GetSourceConversationIDs(ctx context.Context, articleID int64) ([]string, error) {
	return f.sources[articleID], nil
}

func (f *fakeStore) GetArticlesByTopic(ctx context.Context, topic string) ([]core.Article, error) {
	return nil, nil
}

func (f *fakeStore) CreateArticle(ctx context.Context, title, content, topic, roomID string, sourceIDs []string, parentArticleID *int64) (int64, error) {
	f.nextArticle++
	f.articles[f.nextArticle] = &core.Article{ID: f.nextArticle, Title: title, Topic: topic}
	f.sources[f.nextArticle] = sourceIDs
	return f.nextArticle, nil
}

func (f *fakeStore) CreateArticleVersion(ctx context.Context, articleID int64, title, content string, sourceIDs []string) (int64, error) {
	return 1, nil
}

func (f *fakeStore) AddArticleRelation(ctx context.Context, sourceArticleID, targetArticleID int64, relationType core.RelationType) error {
	return nil
}

// fakeExtractor returns canned features or an error.
type fakeExtractor struct {
	features core.ContentFeatures
	err      error
	calls    int
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (core.ContentFeatures, error) {
	f.calls++
	return f.features, f.err
}

// fakeScorer serves pair scores from a map keyed "a|b" (unordered).
type fakeScorer struct {
	pairs map[string]float64
	stats similarity.PassStats
}

func (f *fakeScorer) Score(ctx context.Context, a, b *core.Conversation, topic string) (float64, error) {
	lo, hi := a.ID, b.ID
	if lo > hi {
		lo, hi = hi, lo
	}
	if score, ok := f.pairs[lo+"|"+hi]; ok {
		f.stats.OracleCalls++
		return score, nil
	}
	return 0, similarity.ErrNoScore
}

func (f *fakeScorer) Stats() similarity.PassStats { return f.stats }

// fakeLifecycle records the clusters it was handed.
type fakeLifecycle struct {
	processed []string
	result    *article.Result
	err       error
}

func (f *fakeLifecycle) Process(ctx context.Context, cluster *core.Cluster) (*article.Result, error) {
	f.processed = append(f.processed, cluster.ID)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &article.Result{Action: article.ActionCreated, ArticleID: 1, Reason: "created"}, nil
}

func richFeatures() core.ContentFeatures {
	return core.ContentFeatures{
		TechnicalTerms: []string{"mev", "pbs", "relays"},
		Entities:       []string{"Flashbots", "Ethereum", "Lido"},
		Claims:         []string{"c1", "c2", "c3", "c4"},
	}
}

func makeConv(id string, turns int) *core.Conversation {
	conv := &core.Conversation{ID: id, Topic: "mev", Title: "conv " + id}
	for i := 0; i < turns; i++ {
		conv.Turns = append(conv.Turns, core.Turn{Speaker: "agent", Message: "m"})
	}
	return conv
}

func TestProcessConversationExtractsMissingFeatures(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{features: richFeatures()}
	lifecycle := &fakeLifecycle{}
	o := NewOrchestrator(store, extractor, &fakeScorer{}, lifecycle, 1)

	conv := makeConv("c1", 6)
	report, err := o.ProcessConversation(context.Background(), conv)
	if err != nil {
		t.Fatalf("ProcessConversation failed: %v", err)
	}
	if extractor.calls != 1 {
		t.Errorf("extractor calls = %d, want 1", extractor.calls)
	}
	if !report.Extracted {
		t.Error("report should mark features as freshly extracted")
	}
	if stored := store.conversations["c1"]; stored.Features == nil {
		t.Error("extracted features must be persisted")
	}
	// Rich enough to stand alone, so the lifecycle runs.
	if report.Decision.Outcome != clusterer.OutcomeCreated {
		t.Errorf("outcome = %s, want created: %s", report.Decision.Outcome, report.Decision.Reason)
	}
	if len(lifecycle.processed) != 1 {
		t.Error("lifecycle should process the new cluster")
	}
}

func TestProcessConversationSkipsExtractionWhenPresent(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{}
	o := NewOrchestrator(store, extractor, &fakeScorer{}, &fakeLifecycle{}, 1)

	conv := makeConv("c1", 6)
	f := richFeatures()
	conv.Features = &f

	report, err := o.ProcessConversation(context.Background(), conv)
	if err != nil {
		t.Fatalf("ProcessConversation failed: %v", err)
	}
	if extractor.calls != 0 {
		t.Errorf("extractor calls = %d, want 0", extractor.calls)
	}
	if report.Extracted {
		t.Error("report must not claim extraction happened")
	}
}

func TestExtractionFailureDefersConversation(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{err: errors.New("model unavailable")}
	lifecycle := &fakeLifecycle{}
	o := NewOrchestrator(store, extractor, &fakeScorer{}, lifecycle, 1)

	report, err := o.ProcessConversation(context.Background(), makeConv("c1", 3))
	if err != nil {
		t.Fatalf("ProcessConversation failed: %v", err)
	}
	reason, marked := store.backlog["c1"]
	if !marked {
		t.Fatal("conversation must land on the backlog")
	}
	if !strings.Contains(reason, "feature extraction failed") {
		t.Errorf("backlog reason %q should name the extraction failure", reason)
	}
	if report.Decision != nil {
		t.Error("no clustering decision should be made without features")
	}
	if len(lifecycle.processed) != 0 {
		t.Error("lifecycle must not run")
	}
	if report.BacklogSize != 1 {
		t.Errorf("backlog size = %d, want 1", report.BacklogSize)
	}
}

func TestDeferredDecisionMarksBacklogWithReason(t *testing.T) {
	store := newFakeStore()
	lifecycle := &fakeLifecycle{}
	o := NewOrchestrator(store, &fakeExtractor{}, &fakeScorer{}, lifecycle, 1)

	// Sparse features: not substantial, nothing to pair with.
	conv := makeConv("c1", 2)
	conv.Features = &core.ContentFeatures{Claims: []string{"c1"}}

	report, err := o.ProcessConversation(context.Background(), conv)
	if err != nil {
		t.Fatalf("ProcessConversation failed: %v", err)
	}
	if report.Decision.Outcome != clusterer.OutcomeDeferred {
		t.Fatalf("outcome = %s, want deferred", report.Decision.Outcome)
	}
	if store.backlog["c1"] != report.Decision.Reason {
		t.Errorf("backlog reason %q must match decision reason %q",
			store.backlog["c1"], report.Decision.Reason)
	}
	if len(lifecycle.processed) != 0 {
		t.Error("deferred conversations must not reach the lifecycle")
	}
}

func TestJoinDecisionRunsLifecycleOnCluster(t *testing.T) {
	store := newFakeStore()
	member := makeConv("m1", 6)
	mf := richFeatures()
	member.Features = &mf
	store.conversations["m1"] = member
	store.clusters = append(store.clusters, &core.Cluster{
		ID: "cluster-1", Topic: "mev", Name: "seed", MemberIDs: []string{"m1"}, Features: mf,
	})
	store.nextCluster = 1

	scorer := &fakeScorer{pairs: map[string]float64{"c2|m1": 0.8}}
	lifecycle := &fakeLifecycle{result: &article.Result{Action: article.ActionUpdated, ArticleID: 7, Reason: "updated"}}
	o := NewOrchestrator(store, &fakeExtractor{}, scorer, lifecycle, 1)

	conv := makeConv("c2", 6)
	f := richFeatures()
	conv.Features = &f

	report, err := o.ProcessConversation(context.Background(), conv)
	if err != nil {
		t.Fatalf("ProcessConversation failed: %v", err)
	}
	if report.Decision.Outcome != clusterer.OutcomeJoined {
		t.Fatalf("outcome = %s, want joined: %s", report.Decision.Outcome, report.Decision.Reason)
	}
	if len(lifecycle.processed) != 1 || lifecycle.processed[0] != "cluster-1" {
		t.Errorf("lifecycle processed %v, want [cluster-1]", lifecycle.processed)
	}
	if report.Article == nil || report.Article.Action != article.ActionUpdated {
		t.Errorf("report.Article = %+v, want the lifecycle result", report.Article)
	}
	if report.ScorerStats.OracleCalls == 0 {
		t.Error("report should carry scorer stats")
	}
}

func TestReprocessBacklogFormsClusterAndSettlesPartner(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"b1", "b2"} {
		conv := makeConv(id, 6)
		f := richFeatures()
		conv.Features = &f
		store.conversations[id] = conv
		store.backlog[id] = "insufficient similarity"
	}
	scorer := &fakeScorer{pairs: map[string]float64{"b1|b2": 0.9}}
	lifecycle := &fakeLifecycle{}
	o := NewOrchestrator(store, &fakeExtractor{}, scorer, lifecycle, 1)

	reports, err := o.ReprocessBacklog(context.Background(), "mev")
	if err != nil {
		t.Fatalf("ReprocessBacklog failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1 (partner settled by the same cluster)", len(reports))
	}
	if reports[0].Decision.Outcome != clusterer.OutcomeCreated {
		t.Errorf("outcome = %s, want created", reports[0].Decision.Outcome)
	}
	if len(store.backlog) != 0 {
		t.Errorf("backlog = %v, want empty", store.backlog)
	}
	if len(store.clusters) != 1 || len(store.clusters[0].MemberIDs) != 2 {
		t.Errorf("clusters = %+v, want one with both members", store.clusters)
	}
}

func TestReprocessBacklogRemarksStragglers(t *testing.T) {
	store := newFakeStore()
	conv := makeConv("b1", 2)
	conv.Features = &core.ContentFeatures{Claims: []string{"c1"}}
	store.conversations["b1"] = conv
	store.backlog["b1"] = "old reason"

	o := NewOrchestrator(store, &fakeExtractor{}, &fakeScorer{}, &fakeLifecycle{}, 1)

	reports, err := o.ReprocessBacklog(context.Background(), "mev")
	if err != nil {
		t.Fatalf("ReprocessBacklog failed: %v", err)
	}
	if len(reports) != 1 || reports[0].Decision.Outcome != clusterer.OutcomeDeferred {
		t.Fatalf("reports = %+v, want one deferred", reports)
	}
	if reason := store.backlog["b1"]; reason == "old reason" || reason == "" {
		t.Errorf("backlog reason %q should be refreshed with the new decision reason", reason)
	}
}
