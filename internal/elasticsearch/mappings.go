package elasticsearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Explicit mappings keep ids and tags as keywords so they can be sorted on
// and matched exactly.
var (
	rawMapping = `{"mappings":{"properties":{
		"news_id":{"type":"keyword"},
		"title":{"type":"text"},
		"content":{"type":"text"},
		"tag":{"type":"keyword"},
		"timestamp":{"type":"date"}}}}`

	aggrMapping = `{"mappings":{"properties":{
		"news_id":{"type":"keyword"},
		"tag":{"type":"keyword"},
		"timestamp":{"type":"date"},
		"tokens":{"properties":{"term":{"type":"keyword"},"score":{"type":"float"}}}}}}`

	groupMapping = `{"mappings":{"properties":{
		"run_id":{"type":"keyword"},
		"tag":{"type":"keyword"},
		"merged":{"type":"boolean"},
		"created_at":{"type":"date"},
		"first_pass_groups":{"type":"keyword"},
		"final_groups":{"type":"keyword"},
		"edges":{"type":"object","enabled":false},
		"related_news":{"type":"object","enabled":false}}}}`
)

// EnsureIndices creates the raw, aggregate and group indices with their
// mappings when they do not exist yet.
func (c *Client) EnsureIndices(ctx context.Context) error {
	for _, idx := range []struct{ name, mapping string }{
		{c.idx.Raw, rawMapping},
		{c.idx.Aggr, aggrMapping},
		{c.idx.Group, groupMapping},
	} {
		if idx.name == "" {
			continue
		}
		if err := c.ensureIndex(ctx, idx.name, idx.mapping); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureIndex(ctx context.Context, name, mapping string) error {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %s", name, res.Status())
	}

	res, err = c.es.Indices.Create(name,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another service created it first.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s failed: %s", name, strings.TrimSpace(string(data)))
	}

	c.log.Info("index created", slog.String("index", name))
	return nil
}
