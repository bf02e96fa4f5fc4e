package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/DeafMist/news-radar/internal/aggregation"
	"github.com/DeafMist/news-radar/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Indices names the indices the project reads and writes.
type Indices struct {
	Raw   string
	Aggr  string
	Group string
}

// Client wraps go-elasticsearch with helpers tailored to this project.
type Client struct {
	es  *elasticsearch.Client
	idx Indices
	log *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr string, idx Indices, logger *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, idx: idx, log: logger}, nil
}

// Indices returns the configured index names.
func (c *Client) Indices() Indices {
	return c.idx
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// IndexRaw writes a crawled article into the raw index.
func (c *Client) IndexRaw(ctx context.Context, article models.RawArticle) error {
	return c.indexDoc(ctx, c.idx.Raw, article.NewsID, article)
}

func (c *Client) indexDoc(ctx context.Context, index, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// processedPageSize is the page size used to collect processed ids.
const processedPageSize = 1000

// FetchRaw returns up to size raw articles with a timestamp at or after since
// that sort after the cursor, ordered by timestamp then news_id, and the sort
// values of the last hit as the next cursor.
func (c *Client) FetchRaw(ctx context.Context, since time.Time, after aggregation.Cursor, size int) ([]models.RawArticle, aggregation.Cursor, error) {
	body := map[string]any{
		"size":    size,
		"_source": []string{"news_id", "title", "content", "tag", "timestamp"},
		"query":   sinceQuery("timestamp", since),
		"sort": []map[string]any{
			{"timestamp": map[string]any{"order": "asc"}},
			{"news_id": map[string]any{"order": "asc"}},
		},
	}
	if len(after) > 0 {
		body["search_after"] = []any(after)
	}

	articles, next, err := search[models.RawArticle](ctx, c, c.idx.Raw, body)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return articles, aggregation.Cursor(next), nil
}

// ProcessedIDs returns the ids of all articles written to the aggregate index
// at or after since, paging with search_after. A missing index means nothing
// was processed yet.
func (c *Client) ProcessedIDs(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	c.refresh(ctx, c.idx.Aggr)

	type hit struct {
		NewsID string `json:"news_id"`
	}

	ids := make(map[string]struct{})
	var after []any
	for {
		body := map[string]any{
			"size":    processedPageSize,
			"_source": []string{"news_id"},
			"query":   sinceQuery("timestamp", since),
			"sort":    []map[string]any{{"news_id": map[string]any{"order": "asc"}}},
		}
		if len(after) > 0 {
			body["search_after"] = after
		}

		hits, next, err := search[hit](ctx, c, c.idx.Aggr, body)
		if errors.Is(err, ErrNotFound) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			ids[h.NewsID] = struct{}{}
		}
		if len(hits) < processedPageSize || len(next) == 0 {
			return ids, nil
		}
		after = next
	}
}

// refresh makes recent writes to index searchable. A failed refresh only
// risks reading slightly stale data, so it is logged and not returned.
func (c *Client) refresh(ctx context.Context, index string) {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(index),
		c.es.Indices.Refresh.WithIgnoreUnavailable(true),
	)
	if err != nil {
		c.log.Warn("refresh failed", slog.String("index", index), slog.Any("err", err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		c.log.Warn("refresh failed",
			slog.String("index", index),
			slog.Int("status", res.StatusCode),
			slog.String("body", strings.TrimSpace(string(data))),
		)
	}
}

// Write persists the term scores of a run with the bulk API and stores
// one grouping document per partition.
func (c *Client) Write(ctx context.Context, out *aggregation.Output) error {
	if err := c.bulkAggr(ctx, out.Documents); err != nil {
		return err
	}

	for _, g := range out.Groupings {
		if err := c.indexDoc(ctx, c.idx.Group, g.RunID+"-"+string(g.Tag), g); err != nil {
			return fmt.Errorf("index grouping %s/%s: %w", g.RunID, g.Tag, err)
		}
	}
	return nil
}

func (c *Client) bulkAggr(ctx context.Context, docs []models.AggrDocument) error {
	if len(docs) == 0 {
		return nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.idx.Aggr,
		NumWorkers: 1,
		Refresh:    "false",
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal aggr doc %s: %w", doc.NewsID, err)
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.NewsID,
			Body:       bytes.NewReader(payload),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				c.log.Warn("bulk item failed", slog.String("id", item.DocumentID), slog.Any("err", err))
			},
		})
		if err != nil {
			return fmt.Errorf("add bulk item %s: %w", doc.NewsID, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("flush bulk indexer: %w", err)
	}

	stats := bi.Stats()
	c.log.Info("aggr documents indexed",
		slog.Uint64("indexed", stats.NumFlushed),
		slog.Uint64("failed", stats.NumFailed),
	)
	if stats.NumFailed > 0 {
		return fmt.Errorf("bulk index: %d of %d documents failed", stats.NumFailed, stats.NumAdded)
	}
	return nil
}

// AggrDocument returns the persisted term scores of one article.
func (c *Client) AggrDocument(ctx context.Context, newsID string) (*models.AggrDocument, error) {
	res, err := c.es.Get(c.idx.Aggr, newsID, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get aggr doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get aggr doc failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Source models.AggrDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode aggr doc: %w", err)
	}
	return &parsed.Source, nil
}

// LatestGrouping returns the most recent grouping result for tag.
func (c *Client) LatestGrouping(ctx context.Context, tag models.Tag) (*models.GroupingResult, error) {
	body := map[string]any{
		"size": 1,
		"query": map[string]any{
			"term": map[string]any{"tag": string(tag)},
		},
		"sort": []map[string]any{{"created_at": map[string]any{"order": "desc"}}},
	}

	results, _, err := search[models.GroupingResult](ctx, c, c.idx.Group, body)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return &results[0], nil
}

// DeleteOlderThan removes documents of index whose field is older than
// maxAge using batched delete-by-query. It loops until a batch returns fewer
// deleted documents than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, index, field string, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					field: map[string]any{"lte": cutoff},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
			c.es.DeleteByQuery.WithIgnoreUnavailable(true),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

func sinceQuery(field string, since time.Time) map[string]any {
	return map[string]any{
		"range": map[string]any{
			field: map[string]any{
				"gte": since.UTC().Format(time.RFC3339),
				"lte": "now",
			},
		},
	}
}

// search runs body against index and decodes the _source of every hit. It
// also returns the sort values of the last hit for search_after paging.
// A missing index yields ErrNotFound.
func search[T any](ctx context.Context, c *Client, index string, body map[string]any) ([]T, []any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil, ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, nil, fmt.Errorf("search %s failed: %s", index, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source T     `json:"_source"`
				Sort   []any `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	// Numbers kept verbatim so sort values round-trip into search_after.
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]T, 0, len(parsed.Hits.Hits))
	var last []any
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
		last = hit.Sort
	}
	return items, last, nil
}
