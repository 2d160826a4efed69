// Package store is the SQLite-backed persistence layer: conversations,
// the similarity cache, clusters and membership, the unclusterable
// backlog, and articles with their version history, sources, and
// relations. Multi-statement writes run inside a single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/darksunexists/darksun-sub000/internal/core"
)

// ErrNotFound is returned when an entity does not exist. Callers must
// not conflate it with a failed similarity gate.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "darksun.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			title TEXT NOT NULL,
			turns TEXT NOT NULL,
			features TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS similarity_cache (
			id_a TEXT NOT NULL,
			id_b TEXT NOT NULL,
			score REAL NOT NULL,
			computed_at DATETIME NOT NULL,
			PRIMARY KEY (id_a, id_b)
		);`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			name TEXT NOT NULL,
			features TEXT NOT NULL,
			article_id INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cluster_members (
			cluster_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			added_at DATETIME NOT NULL,
			PRIMARY KEY (cluster_id, conversation_id)
		);`,
		`CREATE TABLE IF NOT EXISTS unclusterable (
			conversation_id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			reason TEXT NOT NULL,
			marked_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			topic TEXT NOT NULL,
			current_version INTEGER NOT NULL DEFAULT 1,
			image_url TEXT NOT NULL DEFAULT '',
			tx_hash TEXT NOT NULL DEFAULT '',
			room_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS article_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id INTEGER NOT NULL,
			version INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (article_id, version)
		);`,
		`CREATE TABLE IF NOT EXISTS article_sources (
			article_id INTEGER NOT NULL,
			conversation_id TEXT NOT NULL,
			added_at DATETIME NOT NULL,
			PRIMARY KEY (article_id, conversation_id)
		);`,
		`CREATE TABLE IF NOT EXISTS article_relations (
			source_article_id INTEGER NOT NULL,
			target_article_id INTEGER NOT NULL,
			relation_type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (source_article_id, target_article_id, relation_type)
		);`,
	}

	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Conversations ---

// CreateConversation inserts a conversation, assigning an ID when none
// is set.
func (s *Store) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	turnsJSON, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}
	featuresJSON, err := marshalFeatures(conv.Features)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, topic, title, turns, features, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Topic, conv.Title, string(turnsJSON), featuresJSON, conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, title, turns, features, created_at FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, err
}

// GetConversationsByTopic returns all conversations for a topic in
// creation order.
func (s *Store) GetConversationsByTopic(ctx context.Context, topic string) ([]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, title, turns, features, created_at FROM conversations WHERE topic = ? ORDER BY created_at`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// UpdateConversationFeatures replaces the stored feature record
// wholesale. Features are never merged in place across extractions.
func (s *Store) UpdateConversationFeatures(ctx context.Context, id string, features core.ContentFeatures) error {
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET features = ? WHERE id = ?`, string(featuresJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update features: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Similarity cache ---

// GetCachedSimilarity looks up the score for an unordered pair, checking
// both storage orderings. The bool reports presence; a stored zero is a
// real score, not a miss.
func (s *Store) GetCachedSimilarity(ctx context.Context, idA, idB string) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT score FROM similarity_cache WHERE (id_a = ? AND id_b = ?) OR (id_a = ? AND id_b = ?)`,
		idA, idB, idB, idA)

	var score float64
	err := row.Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read similarity: %w", err)
	}
	return score, true, nil
}

// PutCachedSimilarity upserts the score for an unordered pair. An
// existing relation in either ordering is updated in place; otherwise a
// single row is inserted under the canonical ordering.
func (s *Store) PutCachedSimilarity(ctx context.Context, idA, idB string, score float64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE similarity_cache SET score = ?, computed_at = ? WHERE (id_a = ? AND id_b = ?) OR (id_a = ? AND id_b = ?)`,
		score, now, idA, idB, idB, idA)
	if err != nil {
		return fmt.Errorf("failed to update similarity: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	lo, hi := idA, idB
	if hi < lo {
		lo, hi = hi, lo
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO similarity_cache (id_a, id_b, score, computed_at) VALUES (?, ?, ?, ?)`,
		lo, hi, score, now)
	if err != nil {
		return fmt.Errorf("failed to insert similarity: %w", err)
	}
	return nil
}

// InvalidateSimilarityFor deletes every cached score touching the given
// conversation. Called after a feature re-extraction; the permanent
// cache has no TTL otherwise.
func (s *Store) InvalidateSimilarityFor(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM similarity_cache WHERE id_a = ? OR id_b = ?`, conversationID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate similarity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SimilarityCacheSize returns the number of cached pair scores.
func (s *Store) SimilarityCacheSize(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similarity_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count similarity cache: %w", err)
	}
	return n, nil
}

// ClearSimilarityCache removes all cached scores.
func (s *Store) ClearSimilarityCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM similarity_cache`); err != nil {
		return fmt.Errorf("failed to clear similarity cache: %w", err)
	}
	return nil
}

// SimilarityCache adapts the store to the similarity.Cache interface.
type SimilarityCache struct {
	store *Store
}

// SimilarityCache returns a view of the store usable as a
// similarity.Cache.
func (s *Store) SimilarityCache() *SimilarityCache {
	return &SimilarityCache{store: s}
}

// Get implements similarity.Cache.
func (c *SimilarityCache) Get(ctx context.Context, idA, idB string) (float64, bool, error) {
	return c.store.GetCachedSimilarity(ctx, idA, idB)
}

// Put implements similarity.Cache.
func (c *SimilarityCache) Put(ctx context.Context, idA, idB string, score float64) error {
	return c.store.PutCachedSimilarity(ctx, idA, idB, score)
}

// --- Clusters ---

// CreateCluster inserts the cluster and its membership rows in one
// transaction, assigning an ID when none is set.
func (s *Store) CreateCluster(ctx context.Context, cluster *core.Cluster) error {
	if cluster.ID == "" {
		cluster.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cluster.CreatedAt = now
	cluster.UpdatedAt = now

	featuresJSON, err := json.Marshal(cluster.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster features: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO clusters (id, topic, name, features, article_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cluster.ID, cluster.Topic, cluster.Name, string(featuresJSON), cluster.ArticleID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}

	for i, memberID := range cluster.MemberIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cluster_members (cluster_id, conversation_id, position, added_at) VALUES (?, ?, ?, ?)`,
			cluster.ID, memberID, i, now)
		if err != nil {
			return fmt.Errorf("failed to insert cluster member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cluster: %w", err)
	}
	return nil
}

// AddClusterMember appends a conversation to a cluster and stores the
// new merged feature record, atomically.
func (s *Store) AddClusterMember(ctx context.Context, clusterID, conversationID string, mergedFeatures core.ContentFeatures) error {
	featuresJSON, err := json.Marshal(mergedFeatures)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster features: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cluster_members WHERE cluster_id = ?`, clusterID).Scan(&position); err != nil {
		return fmt.Errorf("failed to count cluster members: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cluster_members (cluster_id, conversation_id, position, added_at) VALUES (?, ?, ?, ?)`,
		clusterID, conversationID, position, now)
	if err != nil {
		return fmt.Errorf("failed to insert cluster member: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE clusters SET features = ?, updated_at = ? WHERE id = ?`,
		string(featuresJSON), now, clusterID)
	if err != nil {
		return fmt.Errorf("failed to update cluster features: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit membership: %w", err)
	}
	return nil
}

// SetClusterArticle links a synthesized article to a cluster.
func (s *Store) SetClusterArticle(ctx context.Context, clusterID string, articleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET article_id = ?, updated_at = ? WHERE id = ?`,
		articleID, time.Now().UTC(), clusterID)
	if err != nil {
		return fmt.Errorf("failed to link article to cluster: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	return nil
}

// GetCluster returns a cluster with its member IDs in join order.
func (s *Store) GetCluster(ctx context.Context, id string) (*core.Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, name, features, article_id, created_at, updated_at FROM clusters WHERE id = ?`, id)
	cluster, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// GetClustersByTopic returns a topic's clusters in creation order, each
// with its member IDs resolved.
func (s *Store) GetClustersByTopic(ctx context.Context, topic string) ([]core.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, name, features, article_id, created_at, updated_at FROM clusters WHERE topic = ? ORDER BY created_at, id`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.Cluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range clusters {
		if err := s.loadMembers(ctx, &clusters[i]); err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

func (s *Store) loadMembers(ctx context.Context, cluster *core.Cluster) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM cluster_members WHERE cluster_id = ? ORDER BY position`, cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to query cluster members: %w", err)
	}
	defer rows.Close()

	cluster.MemberIDs = nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		cluster.MemberIDs = append(cluster.MemberIDs, id)
	}
	return rows.Err()
}

// --- Unclusterable backlog ---

// MarkUnclusterable upserts a backlog entry. Re-marking an existing
// entry overwrites the reason and refreshes the timestamp.
func (s *Store) MarkUnclusterable(ctx context.Context, conversationID, topic, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unclusterable (conversation_id, topic, reason, marked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET topic = excluded.topic, reason = excluded.reason, marked_at = excluded.marked_at`,
		conversationID, topic, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark unclusterable: %w", err)
	}
	return nil
}

// RemoveUnclusterable deletes a backlog entry, typically after the
// conversation was absorbed into a cluster.
func (s *Store) RemoveUnclusterable(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM unclusterable WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to remove unclusterable: %w", err)
	}
	return nil
}

// GetUnclusterableByTopic returns the backlogged conversations for a
// topic, oldest mark first.
func (s *Store) GetUnclusterableByTopic(ctx context.Context, topic string) ([]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.topic, c.title, c.turns, c.features, c.created_at
		 FROM unclusterable u JOIN conversations c ON c.id = u.conversation_id
		 WHERE u.topic = ? ORDER BY u.marked_at`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// GetUnclusterableRecords returns the raw backlog entries for a topic.
func (s *Store) GetUnclusterableRecords(ctx context.Context, topic string) ([]core.UnclusterableRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, topic, reason, marked_at FROM unclusterable WHERE topic = ? ORDER BY marked_at`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog records: %w", err)
	}
	defer rows.Close()

	var records []core.UnclusterableRecord
	for rows.Next() {
		var rec core.UnclusterableRecord
		if err := rows.Scan(&rec.ConversationID, &rec.Topic, &rec.Reason, &rec.MarkedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Articles ---

// CreateArticle inserts a new article with its v1 snapshot and source
// rows in one transaction. When parentArticleID is set, the parent's
// version counter is bumped with a matching snapshot row and an update
// lineage edge is written from the new article to its parent.
func (s *Store) CreateArticle(ctx context.Context, title, content, topic, roomID string, sourceIDs []string, parentArticleID *int64) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO articles (title, content, topic, current_version, room_id, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?, ?)`,
		title, content, topic, roomID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert article: %w", err)
	}
	articleID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read article id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO article_versions (article_id, version, title, content, created_at) VALUES (?, 1, ?, ?, ?)`,
		articleID, title, content, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert article version: %w", err)
	}

	for _, sourceID := range sourceIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO article_sources (article_id, conversation_id, added_at) VALUES (?, ?, ?)`,
			articleID, sourceID, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert article source: %w", err)
		}
	}

	if parentArticleID != nil {
		var parentVersion int
		err = tx.QueryRowContext(ctx,
			`SELECT current_version FROM articles WHERE id = ?`, *parentArticleID).Scan(&parentVersion)
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("parent article %d: %w", *parentArticleID, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read parent version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO article_versions (article_id, version, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			*parentArticleID, parentVersion+1, title, content, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert parent version: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE articles SET current_version = ?, updated_at = ? WHERE id = ?`,
			parentVersion+1, now, *parentArticleID)
		if err != nil {
			return 0, fmt.Errorf("failed to bump parent version: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO article_relations (source_article_id, target_article_id, relation_type, created_at) VALUES (?, ?, ?, ?)`,
			articleID, *parentArticleID, string(core.RelationUpdate), now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert lineage edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit article: %w", err)
	}
	return articleID, nil
}

// CreateArticleVersion snapshots a new version of an existing article:
// version row, counter bump, content replacement, and source linkage for
// newly contributing conversations, all in one transaction.
func (s *Store) CreateArticleVersion(ctx context.Context, articleID int64, title, content string, sourceIDs []string) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM articles WHERE id = ?`, articleID).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("article %d: %w", articleID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO article_versions (article_id, version, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		articleID, current+1, title, content, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert article version: %w", err)
	}
	versionID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read version id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE articles SET title = ?, content = ?, current_version = ?, updated_at = ? WHERE id = ?`,
		title, content, current+1, now, articleID)
	if err != nil {
		return 0, fmt.Errorf("failed to update article: %w", err)
	}

	for _, sourceID := range sourceIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO article_sources (article_id, conversation_id, added_at) VALUES (?, ?, ?)`,
			articleID, sourceID, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert article source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit article version: %w", err)
	}
	return versionID, nil
}

// GetArticle returns the article or ErrNotFound.
func (s *Store) GetArticle(ctx context.Context, id int64) (*core.Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, topic, current_version, image_url, tx_hash, room_id, created_at, updated_at
		 FROM articles WHERE id = ?`, id)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	return article, err
}

// GetArticlesByTopic returns a topic's articles, newest first.
func (s *Store) GetArticlesByTopic(ctx context.Context, topic string) ([]core.Article, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, topic, current_version, image_url, tx_hash, room_id, created_at, updated_at
		 FROM articles WHERE topic = ? ORDER BY created_at DESC`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

// GetArticlesBySourceConversationIDs returns every article sourced from
// any of the given conversations.
func (s *Store) GetArticlesBySourceConversationIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT DISTINCT a.id, a.title, a.content, a.topic, a.current_version, a.image_url, a.tx_hash, a.room_id, a.created_at, a.updated_at
		 FROM articles a JOIN article_sources s ON s.article_id = a.id
		 WHERE s.conversation_id IN (%s) ORDER BY a.created_at`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles by sources: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

// GetSourceConversationIDs returns the IDs of conversations that
// contributed to an article.
func (s *Store) GetSourceConversationIDs(ctx context.Context, articleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM article_sources WHERE article_id = ? ORDER BY added_at`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query article sources: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSourceConversationsForArticle resolves an article's contributing
// conversations.
func (s *Store) GetSourceConversationsForArticle(ctx context.Context, articleID int64) ([]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.topic, c.title, c.turns, c.features, c.created_at
		 FROM article_sources s JOIN conversations c ON c.id = s.conversation_id
		 WHERE s.article_id = ? ORDER BY s.added_at`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// GetArticleVersions returns an article's snapshots in version order.
func (s *Store) GetArticleVersions(ctx context.Context, articleID int64) ([]core.ArticleVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_id, version, title, content, created_at FROM article_versions WHERE article_id = ? ORDER BY version`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query article versions: %w", err)
	}
	defer rows.Close()

	var versions []core.ArticleVersion
	for rows.Next() {
		var v core.ArticleVersion
		if err := rows.Scan(&v.ID, &v.ArticleID, &v.Version, &v.Title, &v.Content, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// AddArticleRelation writes a typed edge between two articles.
// Duplicate edges are ignored.
func (s *Store) AddArticleRelation(ctx context.Context, sourceArticleID, targetArticleID int64, relationType core.RelationType) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO article_relations (source_article_id, target_article_id, relation_type, created_at) VALUES (?, ?, ?, ?)`,
		sourceArticleID, targetArticleID, string(relationType), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert article relation: %w", err)
	}
	return nil
}

// GetArticleRelations returns the outgoing edges of an article.
func (s *Store) GetArticleRelations(ctx context.Context, articleID int64) ([]core.ArticleRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_article_id, target_article_id, relation_type, created_at FROM article_relations WHERE source_article_id = ? ORDER BY created_at`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query article relations: %w", err)
	}
	defer rows.Close()

	var relations []core.ArticleRelation
	for rows.Next() {
		var rel core.ArticleRelation
		var relType string
		if err := rows.Scan(&rel.SourceArticleID, &rel.TargetArticleID, &relType, &rel.CreatedAt); err != nil {
			return nil, err
		}
		rel.Type = core.RelationType(relType)
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*core.Conversation, error) {
	var conv core.Conversation
	var turnsJSON string
	var featuresJSON sql.NullString

	err := row.Scan(&conv.ID, &conv.Topic, &conv.Title, &turnsJSON, &featuresJSON, &conv.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(turnsJSON), &conv.Turns); err != nil {
		return nil, fmt.Errorf("corrupt turns for conversation %s: %w", conv.ID, err)
	}
	if featuresJSON.Valid && featuresJSON.String != "" {
		var features core.ContentFeatures
		if err := json.Unmarshal([]byte(featuresJSON.String), &features); err != nil {
			return nil, fmt.Errorf("corrupt features for conversation %s: %w", conv.ID, err)
		}
		conv.Features = &features
	}
	return &conv, nil
}

func collectConversations(rows *sql.Rows) ([]core.Conversation, error) {
	var conversations []core.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

func scanCluster(row rowScanner) (*core.Cluster, error) {
	var cluster core.Cluster
	var featuresJSON string
	var articleID sql.NullInt64

	err := row.Scan(&cluster.ID, &cluster.Topic, &cluster.Name, &featuresJSON, &articleID, &cluster.CreatedAt, &cluster.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(featuresJSON), &cluster.Features); err != nil {
		return nil, fmt.Errorf("corrupt features for cluster %s: %w", cluster.ID, err)
	}
	if articleID.Valid {
		cluster.ArticleID = &articleID.Int64
	}
	return &cluster, nil
}

func scanArticle(row rowScanner) (*core.Article, error) {
	var article core.Article
	err := row.Scan(&article.ID, &article.Title, &article.Content, &article.Topic,
		&article.CurrentVersion, &article.ImageURL, &article.TxHash, &article.RoomID,
		&article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func collectArticles(rows *sql.Rows) ([]core.Article, error) {
	var articles []core.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

func marshalFeatures(features *core.ContentFeatures) (interface{}, error) {
	if features == nil {
		return nil, nil
	}
	data, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	return string(data), nil
}
