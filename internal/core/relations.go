package core

// RelationType classifies how one article relates to another.
type RelationType string

const (
	RelationUpdate       RelationType = "update"
	RelationReference    RelationType = "reference"
	RelationContinuation RelationType = "continuation"
	RelationUnrelated    RelationType = "unrelated"
	RelationError        RelationType = "error"
)

// BandRelation maps a similarity score onto a relation type. This is the
// single canonical mapping used everywhere a float must become a
// categorical relation; every lower bound is inclusive.
//
//	[0.7, 1.0] update
//	[0.3, 0.7) reference
//	[0.2, 0.3) continuation
//	[0.0, 0.2) unrelated
func BandRelation(score float64) RelationType {
	switch {
	case score >= 0.7:
		return RelationUpdate
	case score >= 0.3:
		return RelationReference
	case score >= 0.2:
		return RelationContinuation
	default:
		return RelationUnrelated
	}
}
