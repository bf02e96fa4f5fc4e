// Package aggregation runs the two-pass article grouping over a batch of raw
// articles and hands the results to the configured sinks.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/news-radar/internal/cluster"
	"github.com/DeafMist/news-radar/internal/models"
)

// ErrUpstreamUnavailable marks failures of the article store or the tokenizer.
// A run failing with it produced no result; it is not an empty success.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Stage names the step of a run that failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTokenize  Stage = "tokenize"
	StageVectorize Stage = "vectorize"
	StageMerge     Stage = "merge"
	StagePersist   Stage = "persist"
)

// PartitionError is a failure confined to one tag partition.
type PartitionError struct {
	Tag   models.Tag
	Stage Stage
	Err   error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Tokenizer turns article text into a whitespace-joined token string.
type Tokenizer interface {
	Tokenize(text string) (string, error)
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(text string) (string, error)

func (f TokenizerFunc) Tokenize(text string) (string, error) {
	return f(text)
}

// Options tune the grouping thresholds. The document and group thresholds
// are independent.
type Options struct {
	DocSimilarityFloor  float64
	GroupMergeThreshold float64
	NGramMin            int
	NGramMax            int
	TagsToMerge         []models.Tag
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		DocSimilarityFloor:  0.25,
		GroupMergeThreshold: 0.25,
		NGramMin:            1,
		NGramMax:            2,
		TagsToMerge:         []models.Tag{models.TagBreaking},
	}
}

// partitionOrder is the order partitions are processed and reported in.
var partitionOrder = []models.Tag{models.TagBreaking, models.TagNormal}

// Engine groups one batch of articles per tag partition. It holds no state
// between runs.
type Engine struct {
	opts  Options
	tok   Tokenizer
	log   *slog.Logger
	merge map[models.Tag]bool
	now   func() time.Time
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options, tok Tokenizer, logger *slog.Logger) (*Engine, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if opts.DocSimilarityFloor < 0 || opts.DocSimilarityFloor > 1 {
		return nil, fmt.Errorf("document similarity floor %v out of range [0, 1]", opts.DocSimilarityFloor)
	}
	if opts.GroupMergeThreshold < 0 || opts.GroupMergeThreshold > 1 {
		return nil, fmt.Errorf("group merge threshold %v out of range [0, 1]", opts.GroupMergeThreshold)
	}
	if opts.NGramMin < 1 || opts.NGramMax < opts.NGramMin {
		return nil, fmt.Errorf("invalid n-gram range (%d, %d)", opts.NGramMin, opts.NGramMax)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	merge := make(map[models.Tag]bool, len(opts.TagsToMerge))
	for _, tag := range opts.TagsToMerge {
		merge[tag] = true
	}

	return &Engine{opts: opts, tok: tok, log: logger, merge: merge, now: time.Now}, nil
}

// PartitionResult is the grouping of one tag partition.
type PartitionResult struct {
	Tag             models.Tag
	Documents       int
	FirstPassGroups [][]string
	FinalGroups     [][]string
	Edges           []models.Edge
	// Related holds, per article with at least one neighbor, the articles
	// scoring at least the document floor, most similar first.
	Related []models.RelatedNews
	Merged  bool
	// Degenerate is set when no article produced a term and every article
	// was emitted as its own group.
	Degenerate bool
}

// Result is the outcome of Engine.Run.
type Result struct {
	Documents  []models.AggrDocument
	Partitions []PartitionResult
	Errors     []*PartitionError
	Skipped    int
}

// Partition returns the result for tag. Empty partitions have no entry.
func (r *Result) Partition(tag models.Tag) (PartitionResult, bool) {
	for _, p := range r.Partitions {
		if p.Tag == tag {
			return p, true
		}
	}
	return PartitionResult{Tag: tag}, false
}

// Groupings converts the partitions into persisted grouping results.
func (r *Result) Groupings(runID string, at time.Time) []models.GroupingResult {
	out := make([]models.GroupingResult, 0, len(r.Partitions))
	for _, p := range r.Partitions {
		out = append(out, models.GroupingResult{
			RunID:           runID,
			Tag:             p.Tag,
			FirstPassGroups: p.FirstPassGroups,
			FinalGroups:     p.FinalGroups,
			Edges:           p.Edges,
			RelatedNews:     p.Related,
			Merged:          p.Merged,
			CreatedAt:       at,
		})
	}
	return out
}

type document struct {
	id     string
	tokens string
}

func documentID(d document) string     { return d.id }
func documentTokens(d document) string { return d.tokens }

// Run is RunContext without a deadline.
func (e *Engine) Run(articles []models.RawArticle) (*Result, error) {
	return e.RunContext(context.Background(), articles)
}

// RunContext splits the articles by tag and groups every partition
// independently. A tokenizer error fails the whole run with
// ErrUpstreamUnavailable; any other failure is recorded per partition in
// Result.Errors and leaves the other partitions intact. ctx is checked before
// every partition and before every merge; once it is done the run stops and
// returns its error.
func (e *Engine) RunContext(ctx context.Context, articles []models.RawArticle) (*Result, error) {
	res := &Result{}
	partitions := make(map[models.Tag][]models.RawArticle, len(partitionOrder))
	seen := make(map[string]struct{}, len(articles))

	for _, a := range articles {
		tag, ok := models.ParseTag(string(a.Tag))
		if !ok || a.NewsID == "" {
			res.Skipped++
			e.log.Debug("skip article", slog.String("news_id", a.NewsID), slog.String("tag", string(a.Tag)))
			continue
		}
		if _, dup := seen[a.NewsID]; dup {
			res.Skipped++
			e.log.Debug("skip duplicate article", slog.String("news_id", a.NewsID))
			continue
		}
		seen[a.NewsID] = struct{}{}
		partitions[tag] = append(partitions[tag], a)
	}

	ts := e.now()
	for _, tag := range partitionOrder {
		batch := partitions[tag]
		if len(batch) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run stopped before partition %s: %w", tag, err)
		}

		pr, aggr, err := e.runPartition(ctx, tag, batch, ts)
		if errors.Is(err, ErrUpstreamUnavailable) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("run stopped in partition %s: %w", tag, err)
		}
		if err != nil {
			var perr *PartitionError
			if !errors.As(err, &perr) {
				perr = &PartitionError{Tag: tag, Stage: StageVectorize, Err: err}
			}
			e.log.Error("partition failed",
				slog.String("tag", string(tag)),
				slog.String("stage", string(perr.Stage)),
				slog.Any("err", perr.Err),
			)
			res.Errors = append(res.Errors, perr)
			continue
		}

		res.Partitions = append(res.Partitions, *pr)
		res.Documents = append(res.Documents, aggr...)
	}

	return res, nil
}

func (e *Engine) runPartition(ctx context.Context, tag models.Tag, batch []models.RawArticle, ts time.Time) (pr *PartitionResult, aggr []models.AggrDocument, err error) {
	stage := StageTokenize
	defer func() {
		if r := recover(); r != nil {
			pr, aggr = nil, nil
			err = &PartitionError{Tag: tag, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	docs := make([]document, 0, len(batch))
	for _, a := range batch {
		tokens, terr := e.tok.Tokenize(strings.TrimSpace(a.Title + " " + a.Content))
		if terr != nil {
			return nil, nil, fmt.Errorf("%w: %s article %s: %w", ErrUpstreamUnavailable, stage, a.NewsID, terr)
		}
		docs = append(docs, document{id: a.NewsID, tokens: tokens})
	}

	stage = StageVectorize
	vec := cluster.NewVectorizer(e.opts.NGramMin, e.opts.NGramMax)
	pr = &PartitionResult{Tag: tag, Documents: len(docs)}
	aggr = make([]models.AggrDocument, 0, len(docs))

	clustering, cerr := cluster.ClusterBySimilarity(docs, documentID, documentTokens, e.opts.DocSimilarityFloor, vec)
	switch {
	case errors.Is(cerr, cluster.ErrEmptyVocabulary):
		e.log.Warn("partition has no usable terms, emitting singletons",
			slog.String("tag", string(tag)),
			slog.Int("documents", len(docs)),
		)
		pr.Degenerate = true
		for _, group := range cluster.Singletons(docs) {
			pr.FirstPassGroups = append(pr.FirstPassGroups, []string{group[0].id})
		}
		for _, d := range docs {
			aggr = append(aggr, models.AggrDocument{NewsID: d.id, Tokens: []models.TermWeight{}, Tag: tag, Timestamp: ts})
		}
	case cerr != nil:
		return nil, nil, &PartitionError{Tag: tag, Stage: stage, Err: cerr}
	default:
		for i, d := range docs {
			aggr = append(aggr, models.AggrDocument{NewsID: d.id, Tokens: clustering.Matrix.TermWeights(i), Tag: tag, Timestamp: ts})
		}
		for _, group := range clustering.Groups {
			ids := make([]string, 0, len(group))
			for _, d := range group {
				ids = append(ids, d.id)
			}
			pr.FirstPassGroups = append(pr.FirstPassGroups, ids)
		}
		pr.Edges = clustering.Edges
		pr.Related = relatedNews(clustering.Related)
	}

	e.log.Info("first pass grouping done",
		slog.String("tag", string(tag)),
		slog.Int("documents", len(docs)),
		slog.Int("groups", len(pr.FirstPassGroups)),
		slog.Int("edges", len(pr.Edges)),
	)

	pr.FinalGroups = pr.FirstPassGroups
	if !e.merge[tag] {
		return pr, aggr, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	stage = StageMerge
	tokens := make(map[string]string, len(docs))
	for _, d := range docs {
		tokens[d.id] = d.tokens
	}
	merged, merr := cluster.MergeGroups(pr.FirstPassGroups, tokens, e.opts.GroupMergeThreshold, vec)
	if merr != nil {
		return nil, nil, &PartitionError{Tag: tag, Stage: stage, Err: merr}
	}
	pr.FinalGroups = merged
	pr.Merged = true

	e.log.Info("group merge done",
		slog.String("tag", string(tag)),
		slog.Int("groups", len(pr.FirstPassGroups)),
		slog.Int("merged_groups", len(merged)),
	)

	return pr, aggr, nil
}

func relatedNews(related []cluster.Related) []models.RelatedNews {
	var out []models.RelatedNews
	for _, r := range related {
		if len(r.Neighbors) == 0 {
			continue
		}
		scored := make([]models.ScoredArticle, 0, len(r.Neighbors))
		for _, n := range r.Neighbors {
			scored = append(scored, models.ScoredArticle{NewsID: n.Key, Score: n.Score})
		}
		out = append(out, models.RelatedNews{NewsID: r.Key, Related: scored})
	}
	return out
}
