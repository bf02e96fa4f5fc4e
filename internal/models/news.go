package models

import (
	"strings"
	"time"
)

// Tag is the editorial velocity class an article was published under.
type Tag string

const (
	TagBreaking Tag = "breaking"
	TagNormal   Tag = "normal"
)

// ParseTag maps a raw tag label to a Tag. The Korean labels used by the
// upstream crawler are accepted as aliases.
func ParseTag(raw string) (Tag, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "breaking", "속보":
		return TagBreaking, true
	case "normal", "일반":
		return TagNormal, true
	default:
		return "", false
	}
}

// RawArticle is a crawled article as stored in the raw index.
type RawArticle struct {
	NewsID    string    `json:"news_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tag       Tag       `json:"tag"`
	Timestamp time.Time `json:"timestamp"`
}

// TermWeight is a single TF-IDF term score.
type TermWeight struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// AggrDocument holds the persisted term scores of one article.
type AggrDocument struct {
	NewsID    string       `json:"news_id"`
	Tokens    []TermWeight `json:"tokens"`
	Tag       Tag          `json:"tag"`
	Timestamp time.Time    `json:"timestamp"`
}

// Edge is an undirected similarity edge between two articles.
type Edge struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// GroupingResult is the outcome of one aggregation run for a single tag.
type GroupingResult struct {
	RunID           string        `json:"run_id"`
	Tag             Tag           `json:"tag"`
	FirstPassGroups [][]string    `json:"first_pass_groups"`
	FinalGroups     [][]string    `json:"final_groups"`
	Edges           []Edge        `json:"edges"`
	RelatedNews     []RelatedNews `json:"related_news,omitempty"`
	Merged          bool          `json:"merged"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ScoredArticle is a neighbor of an article and their cosine similarity.
type ScoredArticle struct {
	NewsID string  `json:"news_id"`
	Score  float64 `json:"score"`
}

// RelatedNews lists the articles similar to NewsID, most similar first.
type RelatedNews struct {
	NewsID  string          `json:"news_id"`
	Related []ScoredArticle `json:"related"`
}
