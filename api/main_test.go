package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/internal/elasticsearch"
	"github.com/DeafMist/news-radar/internal/models"
)

type stubReader struct {
	healthErr error
	groupings map[models.Tag]*models.GroupingResult
	docs      map[string]*models.AggrDocument
}

func (s *stubReader) Health(context.Context) error { return s.healthErr }

func (s *stubReader) LatestGrouping(_ context.Context, tag models.Tag) (*models.GroupingResult, error) {
	if g, ok := s.groupings[tag]; ok {
		return g, nil
	}
	return nil, elasticsearch.ErrNotFound
}

func (s *stubReader) AggrDocument(_ context.Context, id string) (*models.AggrDocument, error) {
	if d, ok := s.docs[id]; ok {
		return d, nil
	}
	return nil, elasticsearch.ErrNotFound
}

func serve(t *testing.T, reader groupReader, target string) *httptest.ResponseRecorder {
	t.Helper()
	srv := &server{log: slog.New(slog.NewTextHandler(io.Discard, nil)), es: reader}
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleGroups(t *testing.T) {
	reader := &stubReader{groupings: map[models.Tag]*models.GroupingResult{
		models.TagBreaking: {RunID: "r1", Tag: models.TagBreaking, FinalGroups: [][]string{{"a", "b"}}, Merged: true},
	}}

	rec := serve(t, reader, "/groups?tag="+url.QueryEscape("속보"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.GroupingResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "r1", got.RunID)
	require.Equal(t, [][]string{{"a", "b"}}, got.FinalGroups)

	require.Equal(t, http.StatusOK, serve(t, reader, "/groups").Code)
	require.Equal(t, http.StatusNotFound, serve(t, reader, "/groups?tag=normal").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, reader, "/groups?tag=sports").Code)
}

func TestHandleTokens(t *testing.T) {
	reader := &stubReader{docs: map[string]*models.AggrDocument{
		"n1": {NewsID: "n1", Tokens: []models.TermWeight{{Term: "태풍", Score: 0.7}}, Tag: models.TagBreaking},
	}}

	rec := serve(t, reader, "/news/n1/tokens")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.AggrDocument
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "태풍", got.Tokens[0].Term)

	require.Equal(t, http.StatusNotFound, serve(t, reader, "/news/missing/tokens").Code)
}

func TestHandleHealth(t *testing.T) {
	require.Equal(t, http.StatusOK, serve(t, &stubReader{}, "/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, &stubReader{healthErr: errors.New("red")}, "/health").Code)
}
