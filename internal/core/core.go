// Package core defines the domain types shared across the analyzer:
// backroom conversations, their extracted features, topic clusters, the
// unclusterable backlog, and articles with their version history.
package core

import "time"

// Turn is a single message inside a backroom conversation.
type Turn struct {
	Speaker   string    `json:"speaker"`             // Agent identifier
	Message   string    `json:"message"`             // Message text
	Timestamp time.Time `json:"timestamp"`           // When the message was produced
	Citations []string  `json:"citations,omitempty"` // Optional citation URLs
}

// Conversation is one concluded multi-agent backroom dialogue.
//
// Features is nil until extraction has run; a conversation without
// features is not eligible for clustering.
type Conversation struct {
	ID        string           `json:"id"`       // Unique identifier, assigned at creation
	Topic     string           `json:"topic"`    // Categorical topic label (mutable)
	Title     string           `json:"title"`    // Conversation title
	Turns     []Turn           `json:"turns"`    // Ordered dialogue turns
	Features  *ContentFeatures `json:"features"` // Extracted semantic features, nil until populated
	CreatedAt time.Time        `json:"created_at"`
}

// HasFeatures reports whether the conversation is eligible for clustering.
func (c *Conversation) HasFeatures() bool {
	return c != nil && c.Features != nil
}

// Cluster groups conversations on the same topic that the similarity
// oracle judged coherent. Membership is append-only: a conversation,
// once a member, is never removed.
type Cluster struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`      // Inherited from the founding conversation
	Name      string          `json:"name"`       // Derived from common entities, or founder title
	MemberIDs []string        `json:"member_ids"` // In join order; first member is the founder
	Features  ContentFeatures `json:"features"`   // Merged features across all members
	ArticleID *int64          `json:"article_id"` // Linked article, if one has been synthesized
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UnclusterableRecord is a backlog entry for a conversation that failed
// every clustering test for its topic. The backlog is re-scanned on each
// new arrival, so an entry can later be absorbed into a cluster.
type UnclusterableRecord struct {
	ConversationID string    `json:"conversation_id"`
	Topic          string    `json:"topic"`
	Reason         string    `json:"reason"`
	MarkedAt       time.Time `json:"marked_at"`
}

// Article is a synthesized research article backed by one or more
// backroom conversations.
type Article struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Topic          string    `json:"topic"`
	CurrentVersion int       `json:"current_version"` // Always equals the count of version rows
	ImageURL       string    `json:"image_url,omitempty"`
	TxHash         string    `json:"tx_hash,omitempty"` // External-ledger transaction hash
	RoomID         string    `json:"room_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ArticleVersion is a full snapshot of an article at one version.
type ArticleVersion struct {
	ID        int64     `json:"id"`
	ArticleID int64     `json:"article_id"`
	Version   int       `json:"version"` // Starts at 1, increments by exactly 1
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ArticleSource links a contributing conversation to an article.
type ArticleSource struct {
	ArticleID      int64     `json:"article_id"`
	ConversationID string    `json:"conversation_id"`
	AddedAt        time.Time `json:"added_at"`
}

// ArticleRelation is a typed edge between two articles.
type ArticleRelation struct {
	SourceArticleID int64        `json:"source_article_id"`
	TargetArticleID int64        `json:"target_article_id"`
	Type            RelationType `json:"type"`
	CreatedAt       time.Time    `json:"created_at"`
}
