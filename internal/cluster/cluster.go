package cluster

import (
	"fmt"

	"github.com/DeafMist/news-radar/internal/models"
)

// Clustering is the result of grouping items by text similarity.
type Clustering[T any] struct {
	Groups  [][]T
	Edges   []models.Edge
	Related []Related
	Matrix  *Matrix
}

// ClusterBySimilarity vectorizes the text of every item, links items whose
// cosine similarity is at least floor and returns the connected components.
// Keys must be unique. Items without usable text end up in singleton groups.
func ClusterBySimilarity[T any](items []T, key, text func(T) string, floor float64, vec Vectorizer) (*Clustering[T], error) {
	if len(items) == 0 {
		return nil, ErrEmptyCorpus
	}

	keys := make([]string, len(items))
	docs := make([]string, len(items))
	byKey := make(map[string]T, len(items))
	for i, item := range items {
		k := key(item)
		if _, dup := byKey[k]; dup {
			return nil, fmt.Errorf("duplicate key %q", k)
		}
		byKey[k] = item
		keys[i] = k
		docs[i] = text(item)
	}

	m, err := vec.Fit(docs)
	if err != nil {
		return nil, fmt.Errorf("vectorize: %w", err)
	}

	related := Rank(keys, CosineSimilarity(m), floor)
	g := BuildGraph(keys, related, floor)

	components := g.Components()
	groups := make([][]T, 0, len(components))
	for _, component := range components {
		group := make([]T, 0, len(component))
		for _, k := range component {
			group = append(group, byKey[k])
		}
		groups = append(groups, group)
	}

	return &Clustering[T]{
		Groups:  groups,
		Edges:   g.Edges(),
		Related: related,
		Matrix:  m,
	}, nil
}

// Singletons puts every item in its own group.
func Singletons[T any](items []T) [][]T {
	out := make([][]T, 0, len(items))
	for _, item := range items {
		out = append(out, []T{item})
	}
	return out
}
