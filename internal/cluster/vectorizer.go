// Package cluster groups texts by lexical similarity: TF-IDF vectors, cosine
// similarity and connected components over the resulting similarity graph.
package cluster

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/DeafMist/news-radar/internal/models"
)

var (
	// ErrEmptyCorpus is returned when there is nothing to vectorize.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrEmptyVocabulary is returned when no document yields a single term.
	ErrEmptyVocabulary = errors.New("empty vocabulary")
)

// Word tokens of at least two letters or digits; single characters carry no signal.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer fits TF-IDF weights over n-grams of whitespace tokenized text.
// The zero value uses unigrams only.
type Vectorizer struct {
	NGramMin int
	NGramMax int
}

// NewVectorizer returns a vectorizer for the inclusive n-gram range [min, max].
func NewVectorizer(min, max int) Vectorizer {
	return Vectorizer{NGramMin: min, NGramMax: max}
}

// Row is one sparse, L2 normalized document vector.
type Row struct {
	Indices []int
	Values  []float64
}

// Empty reports whether the row has no terms.
func (r Row) Empty() bool {
	return len(r.Indices) == 0
}

// Matrix is a fitted TF-IDF matrix with one row per input document.
type Matrix struct {
	Vocabulary []string
	Rows       []Row
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	return len(m.Rows)
}

// TermWeights returns the non-zero terms of row i ordered by descending score.
func (m *Matrix) TermWeights(i int) []models.TermWeight {
	row := m.Rows[i]
	out := make([]models.TermWeight, 0, len(row.Indices))
	for k, col := range row.Indices {
		if row.Values[k] <= 0 {
			continue
		}
		out = append(out, models.TermWeight{Term: m.Vocabulary[col], Score: row.Values[k]})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score == out[b].Score {
			return out[a].Term < out[b].Term
		}
		return out[a].Score > out[b].Score
	})
	return out
}

func (v Vectorizer) bounds() (int, int) {
	lo, hi := v.NGramMin, v.NGramMax
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Analyze splits doc into the n-gram terms used as vocabulary entries.
func (v Vectorizer) Analyze(doc string) []string {
	words := wordPattern.FindAllString(strings.ToLower(doc), -1)
	if len(words) == 0 {
		return nil
	}

	lo, hi := v.bounds()
	terms := make([]string, 0, len(words)*(hi-lo+1))
	for n := lo; n <= hi; n++ {
		for i := 0; i+n <= len(words); i++ {
			if n == 1 {
				terms = append(terms, words[i])
				continue
			}
			terms = append(terms, strings.Join(words[i:i+n], " "))
		}
	}
	return terms
}

// Fit builds a fresh vocabulary over docs and returns their TF-IDF matrix.
// Weights are raw counts scaled by the smoothed idf ln((1+n)/(1+df))+1 and
// each row is L2 normalized. Documents without terms get an empty row.
func (v Vectorizer) Fit(docs []string) (*Matrix, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}

	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		c := make(map[string]int)
		for _, term := range v.Analyze(doc) {
			c[term]++
		}
		for term := range c {
			df[term]++
		}
		counts[i] = c
	}

	if len(df) == 0 {
		return nil, ErrEmptyVocabulary
	}

	vocab := make([]string, 0, len(df))
	for term := range df {
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)

	index := make(map[string]int, len(vocab))
	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for j, term := range vocab {
		index[term] = j
		idf[j] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	rows := make([]Row, len(docs))
	for i, c := range counts {
		if len(c) == 0 {
			continue
		}
		indices := make([]int, 0, len(c))
		for term := range c {
			indices = append(indices, index[term])
		}
		sort.Ints(indices)

		values := make([]float64, len(indices))
		for k, col := range indices {
			values[k] = float64(c[vocab[col]]) * idf[col]
		}
		if norm := floats.Norm(values, 2); norm > 0 {
			floats.Scale(1/norm, values)
		}
		rows[i] = Row{Indices: indices, Values: values}
	}

	return &Matrix{Vocabulary: vocab, Rows: rows}, nil
}
