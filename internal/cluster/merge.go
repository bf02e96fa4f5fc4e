package cluster

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// MergeGroups re-vectorizes each group as the concatenation of its members'
// token text and unions groups whose blob similarity is at least threshold.
// Merged groups always consist of whole input groups. With fewer than two
// groups, or when no blob yields a term, the input is returned unchanged.
func MergeGroups(groups [][]string, tokens map[string]string, threshold float64, vec Vectorizer) ([][]string, error) {
	if len(groups) < 2 {
		return groups, nil
	}

	blobs := make([]string, len(groups))
	for i, group := range groups {
		parts := make([]string, 0, len(group))
		for _, id := range group {
			if t, ok := tokens[id]; ok {
				parts = append(parts, t)
			}
		}
		blobs[i] = strings.Join(parts, " ")
	}

	positions := make([]int, len(groups))
	for i := range positions {
		positions[i] = i
	}

	res, err := ClusterBySimilarity(positions,
		strconv.Itoa,
		func(i int) string { return blobs[i] },
		threshold, vec)
	if errors.Is(err, ErrEmptyVocabulary) {
		return groups, nil
	}
	if err != nil {
		return nil, err
	}

	merged := make([][]string, 0, len(res.Groups))
	for _, members := range res.Groups {
		sort.Ints(members)
		var union []string
		for _, idx := range members {
			union = append(union, groups[idx]...)
		}
		merged = append(merged, union)
	}
	return merged, nil
}
