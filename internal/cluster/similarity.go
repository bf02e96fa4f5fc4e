package cluster

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type posting struct {
	row   int
	value float64
}

// CosineSimilarity computes the full pairwise cosine similarity of the rows
// of m in one pass over an inverted index. Each unordered pair is computed
// once and stored symmetrically. Rows without terms score 0 against
// everything, including themselves.
func CosineSimilarity(m *Matrix) *mat.SymDense {
	n := m.Len()
	sim := mat.NewSymDense(n, nil)
	if n == 0 {
		return sim
	}

	postings := make([][]posting, len(m.Vocabulary))
	norms := make([]float64, n)
	for i, row := range m.Rows {
		for k, col := range row.Indices {
			postings[col] = append(postings[col], posting{row: i, value: row.Values[k]})
		}
		norms[i] = floats.Norm(row.Values, 2)
	}

	dot := make([]float64, n)
	for i, row := range m.Rows {
		if norms[i] == 0 {
			continue
		}
		for j := range dot {
			dot[j] = 0
		}
		for k, col := range row.Indices {
			for _, p := range postings[col] {
				if p.row >= i {
					dot[p.row] += row.Values[k] * p.value
				}
			}
		}
		for j := i; j < n; j++ {
			if norms[j] == 0 || dot[j] == 0 {
				continue
			}
			s := dot[j] / (norms[i] * norms[j])
			if s > 1 {
				s = 1
			}
			sim.SetSym(i, j, s)
		}
	}

	return sim
}

// Neighbor is a related item and its similarity score.
type Neighbor struct {
	Key   string
	Score float64
}

// Related lists the items similar to Key, most similar first.
type Related struct {
	Key       string
	Neighbors []Neighbor
}

// Rank returns, for every key, all other keys whose similarity is at least
// floor ordered by descending score. Equal scores keep batch order. A zero
// score never relates two keys, even with a zero floor.
func Rank(keys []string, sim mat.Symmetric, floor float64) []Related {
	out := make([]Related, len(keys))
	for i, key := range keys {
		var neighbors []Neighbor
		for j, other := range keys {
			if i == j {
				continue
			}
			if score := sim.At(i, j); score > 0 && score >= floor {
				neighbors = append(neighbors, Neighbor{Key: other, Score: score})
			}
		}
		sort.SliceStable(neighbors, func(a, b int) bool {
			return neighbors[a].Score > neighbors[b].Score
		})
		out[i] = Related{Key: key, Neighbors: neighbors}
	}
	return out
}
