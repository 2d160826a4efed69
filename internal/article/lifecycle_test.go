package article

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/darksunexists/darksun-sub000/internal/core"
)

// fakeStore is an in-memory Store for lifecycle tests.
type fakeStore struct {
	conversations map[string]*core.Conversation
	articles      map[int64]*core.Article
	sources       map[int64][]string
	versions      map[int64]int // article ID -> version row count
	relations     []core.ArticleRelation
	clusterLinks  map[string]int64
	nextArticle   int64
	nextVersion   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*core.Conversation),
		articles:      make(map[int64]*core.Article),
		sources:       make(map[int64][]string),
		versions:      make(map[int64]int),
		clusterLinks:  make(map[string]int64),
	}
}

func (f *fakeStore) addArticle(topic, title string, sourceIDs ...string) int64 {
	f.nextArticle++
	id := f.nextArticle
	f.articles[id] = &core.Article{ID: id, Title: title, Topic: topic, CurrentVersion: 1}
	f.sources[id] = sourceIDs
	f.versions[id] = 1
	return id
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func (f *fakeStore) GetArticlesBySourceConversationIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	var out []core.Article
	for artID, sources := range f.sources {
		for _, src := range sources {
			if _, ok := idSet[src]; ok {
				out = append(out, *f.articles[artID])
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetSourceConversationIDs(ctx context.Context, articleID int64) ([]string, error) {
	return f.sources[articleID], nil
}

func (f *fakeStore) GetArticlesByTopic(ctx context.Context, topic string) ([]core.Article, error) {
	var out []core.Article
	for _, art := range f.articles {
		if art.Topic == topic {
			out = append(out, *art)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateArticle(ctx context.Context, title, content, topic, roomID string, sourceIDs []string, parentArticleID *int64) (int64, error) {
	id := f.addArticle(topic, title, sourceIDs...)
	f.articles[id].Content = content
	return id, nil
}

func (f *fakeStore) CreateArticleVersion(ctx context.Context, articleID int64, title, content string, sourceIDs []string) (int64, error) {
	art, ok := f.articles[articleID]
	if !ok {
		return 0, fmt.Errorf("article %d not found", articleID)
	}
	art.CurrentVersion++
	art.Title = title
	art.Content = content
	f.versions[articleID]++
	existing := make(map[string]struct{})
	for _, s := range f.sources[articleID] {
		existing[s] = struct{}{}
	}
	for _, s := range sourceIDs {
		if _, ok := existing[s]; !ok {
			f.sources[articleID] = append(f.sources[articleID], s)
		}
	}
	f.nextVersion++
	return f.nextVersion, nil
}

func (f *fakeStore) AddArticleRelation(ctx context.Context, sourceArticleID, targetArticleID int64, relationType core.RelationType) error {
	f.relations = append(f.relations, core.ArticleRelation{
		SourceArticleID: sourceArticleID,
		TargetArticleID: targetArticleID,
		Type:            relationType,
	})
	return nil
}

func (f *fakeStore) SetClusterArticle(ctx context.Context, clusterID string, articleID int64) error {
	f.clusterLinks[clusterID] = articleID
	return nil
}

// fakeEnricher returns a canned score per article, defaulting to 0.5.
type fakeEnricher struct {
	scores map[int64]float64
}

func (f *fakeEnricher) Score(ctx context.Context, article *core.Article, conversations []core.Conversation) float64 {
	if score, ok := f.scores[article.ID]; ok {
		return score
	}
	return 0.5
}

// fakeSynth returns deterministic text.
type fakeSynth struct {
	newCalls    int
	updateCalls int
}

func (f *fakeSynth) SynthesizeArticle(ctx context.Context, conversations []core.Conversation, features core.ContentFeatures) (string, string, error) {
	f.newCalls++
	return "Synthesized Title", "synthesized body", nil
}

func (f *fakeSynth) SynthesizeUpdatedArticle(ctx context.Context, existing *core.Article, conversations []core.Conversation, features core.ContentFeatures) (string, string, error) {
	f.updateCalls++
	return existing.Title + " (updated)", "updated body", nil
}

func testCluster(id string, memberIDs ...string) *core.Cluster {
	return &core.Cluster{
		ID:        id,
		Topic:     "T",
		Name:      "cluster " + id,
		MemberIDs: memberIDs,
		Features: core.ContentFeatures{
			TechnicalTerms: []string{"t1", "t2", "t3"},
			Entities:       []string{"E1", "E2"},
			Claims:         []string{"c1", "c2", "c3"},
		},
	}
}

func setupMembers(store *fakeStore, ids ...string) {
	for _, id := range ids {
		store.conversations[id] = &core.Conversation{
			ID: id, Topic: "T", Title: "conv " + id,
			Features: &core.ContentFeatures{Entities: []string{"E"}},
		}
	}
}

func TestFullyRepresentedClusterIsNoOp(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b", "c")
	artID := store.addArticle("T", "Existing", "a", "b", "c")

	synth := &fakeSynth{}
	m := NewManager(store, &fakeEnricher{}, synth)

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b", "c"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionNone {
		t.Fatalf("action = %s, want none: %s", result.Action, result.Reason)
	}
	if result.ArticleID != artID {
		t.Errorf("article = %d, want %d", result.ArticleID, artID)
	}
	if synth.newCalls+synth.updateCalls != 0 {
		t.Error("no-op must not synthesize anything")
	}
	if store.versions[artID] != 1 {
		t.Error("no-op must not create a version")
	}
}

func TestPartialOverlapAlwaysUpdates(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b", "c")
	artID := store.addArticle("T", "Existing", "a")

	synth := &fakeSynth{}
	m := NewManager(store, &fakeEnricher{}, synth)

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b", "c"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionUpdated {
		t.Fatalf("action = %s, want updated: %s", result.Action, result.Reason)
	}
	if result.ArticleID != artID {
		t.Errorf("article = %d, want %d", result.ArticleID, artID)
	}
	if synth.updateCalls != 1 || synth.newCalls != 0 {
		t.Errorf("partial overlap must synthesize an update, got new=%d update=%d", synth.newCalls, synth.updateCalls)
	}
	if got := store.sources[artID]; len(got) != 3 {
		t.Errorf("sources = %v, want all three members linked", got)
	}
	if store.clusterLinks["cl"] != artID {
		t.Error("cluster must link to the updated article")
	}
}

func TestEnrichmentScoreDisambiguatesUpdateTarget(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b", "c")
	lowID := store.addArticle("T", "Low", "a")
	highID := store.addArticle("T", "High", "b")

	enricher := &fakeEnricher{scores: map[int64]float64{lowID: 0.2, highID: 0.9}}
	m := NewManager(store, enricher, &fakeSynth{})

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b", "c"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionUpdated || result.ArticleID != highID {
		t.Errorf("result = %+v, want update of the higher-scoring article %d", result, highID)
	}
}

func TestInsufficientContentGates(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *core.Cluster)
	}{
		{"single member", func(c *core.Cluster) { c.MemberIDs = c.MemberIDs[:1] }},
		{"too few claims", func(c *core.Cluster) { c.Features.Claims = c.Features.Claims[:2] }},
		{"too few entities", func(c *core.Cluster) { c.Features.Entities = c.Features.Entities[:1] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			setupMembers(store, "a", "b")
			cluster := testCluster("cl", "a", "b")
			tt.mutate(cluster)

			m := NewManager(store, &fakeEnricher{}, &fakeSynth{})
			result, err := m.Process(context.Background(), cluster)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if result.Action != ActionInsufficient {
				t.Fatalf("action = %s, want insufficient", result.Action)
			}
			if !strings.Contains(result.Reason, "insufficient content") {
				t.Errorf("reason %q should name the failing gates", result.Reason)
			}
		})
	}
}

func TestCreateWithReferenceLinks(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b")
	// Sourced from unrelated conversations, so no overlap with the cluster.
	refID := store.addArticle("T", "Related", "zz")

	enricher := &fakeEnricher{scores: map[int64]float64{refID: 0.5}}
	m := NewManager(store, enricher, &fakeSynth{})

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionCreated {
		t.Fatalf("action = %s, want created: %s", result.Action, result.Reason)
	}
	if result.RelationType != core.RelationReference || len(result.RelatedIDs) != 1 {
		t.Errorf("result = %+v, want one reference link", result)
	}
	if len(store.relations) != 1 || store.relations[0].TargetArticleID != refID {
		t.Errorf("relations = %+v, want edge to %d", store.relations, refID)
	}
}

func TestCreateWithContinuationLink(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b")
	contID := store.addArticle("T", "Older thread", "zz")

	enricher := &fakeEnricher{scores: map[int64]float64{contID: 0.25}}
	m := NewManager(store, enricher, &fakeSynth{})

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionCreated || result.RelationType != core.RelationContinuation {
		t.Errorf("result = %+v, want continuation link", result)
	}
}

func TestCreateStandaloneWhenNothingRelated(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b")
	farID := store.addArticle("T", "Far away", "zz")

	enricher := &fakeEnricher{scores: map[int64]float64{farID: 0.1}}
	m := NewManager(store, enricher, &fakeSynth{})

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Action != ActionCreated || len(result.RelatedIDs) != 0 {
		t.Errorf("result = %+v, want standalone creation", result)
	}
	if len(store.relations) != 0 {
		t.Errorf("relations = %+v, want none", store.relations)
	}
	if store.clusterLinks["cl"] == 0 {
		t.Error("cluster must link to the created article")
	}
}

// Reference links beat continuation links when both bands are occupied.
func TestReferenceBandTakesPriority(t *testing.T) {
	store := newFakeStore()
	setupMembers(store, "a", "b")
	refID := store.addArticle("T", "Ref", "z1")
	contID := store.addArticle("T", "Cont", "z2")

	enricher := &fakeEnricher{scores: map[int64]float64{refID: 0.6, contID: 0.25}}
	m := NewManager(store, enricher, &fakeSynth{})

	result, err := m.Process(context.Background(), testCluster("cl", "a", "b"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.RelationType != core.RelationReference {
		t.Errorf("relation = %s, want reference to win", result.RelationType)
	}
	if len(result.RelatedIDs) != 1 || result.RelatedIDs[0] != refID {
		t.Errorf("related = %v, want only %d", result.RelatedIDs, refID)
	}
}
