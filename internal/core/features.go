package core

import "strings"

// MaxFeatureItems caps each feature set at extraction time.
const MaxFeatureItems = 7

// ContentFeatures holds the semantic features extracted from a
// conversation: short strings in three categories, each capped at
// MaxFeatureItems by extraction policy. Re-extraction replaces the whole
// record; features are never incrementally merged in place.
type ContentFeatures struct {
	TechnicalTerms []string `json:"technical_terms"`
	Entities       []string `json:"entities"`
	Claims         []string `json:"claims"`
}

// MergeFeatures returns the set union of two feature records, preserving
// first-seen order. The union is case-sensitive on purpose: the merged
// record keeps the oracle's literal vocabulary, even when that leaves
// near-duplicate entries that differ only in casing. Jaccard, by
// contrast, folds case. See TestMergeFeaturesPreservesCasing.
func MergeFeatures(a, b ContentFeatures) ContentFeatures {
	return ContentFeatures{
		TechnicalTerms: unionStrings(a.TechnicalTerms, b.TechnicalTerms),
		Entities:       unionStrings(a.Entities, b.Entities),
		Claims:         unionStrings(a.Claims, b.Claims),
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Jaccard computes the Jaccard index of two string sets, folding case so
// "Zero-Knowledge Proof" and "zero-knowledge proof" count as one element.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[strings.ToLower(s)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[strings.ToLower(s)] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// CommonEntities returns the entities present in every feature record,
// compared case-insensitively, in the order the first record lists them.
// Used to name a new cluster; an empty result falls back to the founding
// conversation's title.
func CommonEntities(records []ContentFeatures) []string {
	if len(records) == 0 {
		return nil
	}
	var common []string
	for _, entity := range records[0].Entities {
		inAll := true
		for _, rec := range records[1:] {
			if !containsFold(rec.Entities, entity) {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, entity)
		}
	}
	return common
}

func containsFold(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}
