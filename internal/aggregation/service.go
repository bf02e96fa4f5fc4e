package aggregation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/news-radar/internal/dedupe"
	"github.com/DeafMist/news-radar/internal/models"
)

// Cursor is an opaque position in the raw article stream. An empty cursor
// starts at the oldest article.
type Cursor []any

// Store supplies raw articles and the ids already aggregated by earlier runs.
type Store interface {
	// FetchRaw returns up to size articles at or after since that sort after
	// the cursor, oldest first, and the cursor of the last one returned.
	FetchRaw(ctx context.Context, since time.Time, after Cursor, size int) ([]models.RawArticle, Cursor, error)
	// ProcessedIDs returns every id aggregated at or after since.
	ProcessedIDs(ctx context.Context, since time.Time) (map[string]struct{}, error)
}

// Output is everything a run hands to its sinks.
type Output struct {
	RunID     string
	Documents []models.AggrDocument
	Groupings []models.GroupingResult
}

// Sink persists or forwards the output of a run.
type Sink interface {
	Write(ctx context.Context, out *Output) error
}

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusNoData  = "no data"
)

// RunReport summarizes one RunOnce call.
type RunReport struct {
	RunID   string
	Status  string
	Fetched int
	Fresh   int
	Result  *Result
}

// ServiceConfig controls what a run reads. FetchSize caps the fresh articles
// grouped per run; PageSize is the size of one store request.
type ServiceConfig struct {
	Lookback  time.Duration
	FetchSize int
	PageSize  int
}

// Service runs the grouping engine against a store and writes to sinks.
type Service struct {
	store   Store
	engine  *Engine
	tracker *dedupe.Tracker
	sinks   []Sink
	cfg     ServiceConfig
	log     *slog.Logger
	now     func() time.Time
}

// NewService wires a Service. tracker may be nil.
func NewService(store Store, engine *Engine, tracker *dedupe.Tracker, cfg ServiceConfig, logger *slog.Logger, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.FetchSize <= 0 {
		cfg.FetchSize = 10000
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	cfg.PageSize = min(cfg.PageSize, cfg.FetchSize)
	return &Service{
		store:   store,
		engine:  engine,
		tracker: tracker,
		sinks:   sinks,
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
	}
}

// RunOnce fetches articles not yet aggregated, groups them and writes the
// output to every sink. Store failures are wrapped in ErrUpstreamUnavailable.
func (s *Service) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	log := s.log.With(slog.String("run_id", report.RunID))

	now := s.now()
	since := now.Add(-s.cfg.Lookback)

	processed, err := s.store.ProcessedIDs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %s processed ids: %w", ErrUpstreamUnavailable, StageFetch, err)
	}
	fresh, fetched, err := s.collectFresh(ctx, since, processed)
	if err != nil {
		return nil, err
	}
	report.Fetched = fetched
	report.Fresh = len(fresh)
	log.Info("articles fetched",
		slog.Int("fetched", report.Fetched),
		slog.Int("processed", len(processed)),
		slog.Int("fresh", report.Fresh),
	)

	if len(fresh) == 0 {
		report.Status = StatusNoData
		return report, nil
	}

	res, err := s.engine.RunContext(ctx, fresh)
	if err != nil {
		return nil, err
	}
	report.Result = res

	out := &Output{
		RunID:     report.RunID,
		Documents: res.Documents,
		Groupings: res.Groupings(report.RunID, now),
	}
	if err := s.write(ctx, out); err != nil {
		return nil, fmt.Errorf("%s run %s: %w", StagePersist, report.RunID, err)
	}

	if s.tracker != nil {
		ids := make([]string, 0, len(res.Documents))
		for _, d := range res.Documents {
			ids = append(ids, d.NewsID)
		}
		s.tracker.Mark(ids...)
	}

	report.Status = StatusOK
	if len(res.Errors) > 0 {
		report.Status = StatusPartial
	}

	for _, p := range res.Partitions {
		log.Info("partition grouped",
			slog.String("tag", string(p.Tag)),
			slog.Int("documents", p.Documents),
			slog.Int("first_pass_groups", len(p.FirstPassGroups)),
			slog.Int("final_groups", len(p.FinalGroups)),
			slog.Bool("merged", p.Merged),
		)
	}

	return report, nil
}

// collectFresh pages through the window oldest first until FetchSize
// unprocessed articles are collected or the window is exhausted.
func (s *Service) collectFresh(ctx context.Context, since time.Time, processed map[string]struct{}) ([]models.RawArticle, int, error) {
	var (
		fresh   []models.RawArticle
		fetched int
		after   Cursor
	)
	for len(fresh) < s.cfg.FetchSize {
		page, next, err := s.store.FetchRaw(ctx, since, after, s.cfg.PageSize)
		if err != nil {
			return nil, fetched, fmt.Errorf("%w: %s raw articles: %w", ErrUpstreamUnavailable, StageFetch, err)
		}
		fetched += len(page)
		fresh = append(fresh, s.filterFresh(page, processed)...)
		if len(page) < s.cfg.PageSize || len(next) == 0 {
			break
		}
		after = next
	}
	if len(fresh) > s.cfg.FetchSize {
		fresh = fresh[:s.cfg.FetchSize]
	}
	return fresh, fetched, nil
}

func (s *Service) filterFresh(raw []models.RawArticle, processed map[string]struct{}) []models.RawArticle {
	candidates := make([]models.RawArticle, 0, len(raw))
	for _, a := range raw {
		if _, done := processed[a.NewsID]; !done {
			candidates = append(candidates, a)
		}
	}
	if s.tracker == nil || len(candidates) == 0 {
		return candidates
	}

	ids := make([]string, len(candidates))
	for i, a := range candidates {
		ids[i] = a.NewsID
	}
	unseen := make(map[string]struct{}, len(ids))
	for _, id := range s.tracker.Unseen(ids) {
		unseen[id] = struct{}{}
	}

	fresh := candidates[:0]
	for _, a := range candidates {
		if _, ok := unseen[a.NewsID]; ok {
			fresh = append(fresh, a)
		}
	}
	return fresh
}

func (s *Service) write(ctx context.Context, out *Output) error {
	if len(s.sinks) == 0 {
		return errors.New("no sinks configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range s.sinks {
		g.Go(func() error {
			return sink.Write(gctx, out)
		})
	}
	return g.Wait()
}
