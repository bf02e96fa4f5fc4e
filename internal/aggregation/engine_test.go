package aggregation_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/internal/aggregation"
	"github.com/DeafMist/news-radar/internal/models"
)

var whitespaceTokenizer = aggregation.TokenizerFunc(func(text string) (string, error) {
	return strings.Join(strings.Fields(text), " "), nil
})

func normalize(groups [][]string) [][]string {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		c := append([]string(nil), g...)
		sort.Strings(c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], ",") < strings.Join(out[j], ",")
	})
	return out
}

func typhoonBatch(tag models.Tag) []models.RawArticle {
	return []models.RawArticle{
		{NewsID: "D1", Title: "속보 태풍 북상", Tag: tag},
		{NewsID: "D2", Title: "태풍 북상", Content: "속보 피해", Tag: tag},
		{NewsID: "D3", Content: "완전히 다른 주제의 기사", Tag: tag},
	}
}

func newEngine(t *testing.T, tok aggregation.Tokenizer) *aggregation.Engine {
	t.Helper()
	e, err := aggregation.NewEngine(aggregation.DefaultOptions(), tok, nil)
	require.NoError(t, err)
	return e
}

func TestRunGroupsBreakingPartition(t *testing.T) {
	res, err := newEngine(t, whitespaceTokenizer).Run(typhoonBatch(models.TagBreaking))
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	p, ok := res.Partition(models.TagBreaking)
	require.True(t, ok)
	require.True(t, p.Merged)
	require.Equal(t, 3, p.Documents)
	require.Equal(t, [][]string{{"D1", "D2"}, {"D3"}}, normalize(p.FirstPassGroups))
	require.Equal(t, [][]string{{"D1", "D2"}, {"D3"}}, normalize(p.FinalGroups))
	require.Len(t, p.Edges, 1)

	require.Len(t, p.Related, 2)
	for _, r := range p.Related {
		require.Len(t, r.Related, 1)
		require.NotEqual(t, r.NewsID, r.Related[0].NewsID)
		require.InDelta(t, p.Edges[0].Score, r.Related[0].Score, 1e-12)
	}

	require.Len(t, res.Documents, 3)
	for _, d := range res.Documents {
		require.Equal(t, models.TagBreaking, d.Tag)
		require.NotEmpty(t, d.Tokens)
		for i := 1; i < len(d.Tokens); i++ {
			require.GreaterOrEqual(t, d.Tokens[i-1].Score, d.Tokens[i].Score)
		}
	}
}

func TestRunNormalPartitionIsNotMerged(t *testing.T) {
	res, err := newEngine(t, whitespaceTokenizer).Run(typhoonBatch(models.TagNormal))
	require.NoError(t, err)

	p, ok := res.Partition(models.TagNormal)
	require.True(t, ok)
	require.False(t, p.Merged)
	require.Equal(t, p.FirstPassGroups, p.FinalGroups)
}

func TestRunEmptyPartitionDoesNotAffectOther(t *testing.T) {
	res, err := newEngine(t, whitespaceTokenizer).Run(typhoonBatch(models.TagNormal))
	require.NoError(t, err)

	breaking, ok := res.Partition(models.TagBreaking)
	require.False(t, ok)
	require.Empty(t, breaking.FinalGroups)

	normal, ok := res.Partition(models.TagNormal)
	require.True(t, ok)
	require.Equal(t, [][]string{{"D1", "D2"}, {"D3"}}, normalize(normal.FinalGroups))
}

func TestRunEmptyBatch(t *testing.T) {
	res, err := newEngine(t, whitespaceTokenizer).Run(nil)
	require.NoError(t, err)
	require.Empty(t, res.Partitions)
	require.Empty(t, res.Documents)
}

func TestRunPartitionsNeverCompared(t *testing.T) {
	batch := []models.RawArticle{
		{NewsID: "b1", Title: "태풍 북상 제주", Tag: models.TagBreaking},
		{NewsID: "n1", Title: "태풍 북상 제주", Tag: models.TagNormal},
	}
	res, err := newEngine(t, whitespaceTokenizer).Run(batch)
	require.NoError(t, err)

	b, _ := res.Partition(models.TagBreaking)
	n, _ := res.Partition(models.TagNormal)
	require.Equal(t, [][]string{{"b1"}}, b.FinalGroups)
	require.Equal(t, [][]string{{"n1"}}, n.FinalGroups)
}

func TestRunAcceptsKoreanTagsAndSkipsUnknown(t *testing.T) {
	batch := []models.RawArticle{
		{NewsID: "a", Title: "태풍 북상", Tag: "속보"},
		{NewsID: "b", Title: "태풍 북상", Tag: "일반"},
		{NewsID: "c", Title: "태풍 북상", Tag: "sports"},
		{NewsID: "a", Title: "태풍 북상", Tag: "속보"},
	}
	res, err := newEngine(t, whitespaceTokenizer).Run(batch)
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)
	require.Len(t, res.Partitions, 2)
}

func TestRunTokenizerFailureIsUpstreamUnavailable(t *testing.T) {
	boom := errors.New("tokenizer down")
	tok := aggregation.TokenizerFunc(func(string) (string, error) { return "", boom })

	res, err := newEngine(t, tok).Run(typhoonBatch(models.TagBreaking))
	require.Nil(t, res)
	require.ErrorIs(t, err, aggregation.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, boom)
}

func TestRunPartitionPanicIsContained(t *testing.T) {
	tok := aggregation.TokenizerFunc(func(text string) (string, error) {
		if strings.Contains(text, "boom") {
			panic("bad input")
		}
		return text, nil
	})
	batch := append(typhoonBatch(models.TagBreaking),
		models.RawArticle{NewsID: "N1", Title: "boom", Tag: models.TagNormal},
	)

	res, err := newEngine(t, tok).Run(batch)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	require.Equal(t, models.TagNormal, res.Errors[0].Tag)
	require.Equal(t, aggregation.StageTokenize, res.Errors[0].Stage)

	var perr *aggregation.PartitionError
	require.True(t, errors.As(error(res.Errors[0]), &perr))

	p, ok := res.Partition(models.TagBreaking)
	require.True(t, ok)
	require.Equal(t, [][]string{{"D1", "D2"}, {"D3"}}, normalize(p.FinalGroups))
	require.Len(t, res.Documents, 3)
}

func TestRunEmptyVocabularyEmitsSingletons(t *testing.T) {
	batch := []models.RawArticle{
		{NewsID: "x", Title: "", Tag: models.TagBreaking},
		{NewsID: "y", Title: "a b", Tag: models.TagBreaking},
	}
	res, err := newEngine(t, whitespaceTokenizer).Run(batch)
	require.NoError(t, err)

	p, ok := res.Partition(models.TagBreaking)
	require.True(t, ok)
	require.True(t, p.Degenerate)
	require.Equal(t, [][]string{{"x"}, {"y"}}, normalize(p.FinalGroups))
	require.Len(t, res.Documents, 2)
	for _, d := range res.Documents {
		require.Empty(t, d.Tokens)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e := newEngine(t, whitespaceTokenizer)
	batch := append(typhoonBatch(models.TagBreaking), typhoonBatch(models.TagNormal)...)
	for i := range batch[3:] {
		batch[3+i].NewsID = "N" + batch[3+i].NewsID
	}

	first, err := e.Run(batch)
	require.NoError(t, err)
	second, err := e.Run(batch)
	require.NoError(t, err)

	for _, tag := range []models.Tag{models.TagBreaking, models.TagNormal} {
		a, _ := first.Partition(tag)
		b, _ := second.Partition(tag)
		require.Equal(t, normalize(a.FirstPassGroups), normalize(b.FirstPassGroups))
		require.Equal(t, normalize(a.FinalGroups), normalize(b.FinalGroups))
	}
}

func TestNewEngineValidation(t *testing.T) {
	opts := aggregation.DefaultOptions()
	opts.DocSimilarityFloor = -0.1
	_, err := aggregation.NewEngine(opts, whitespaceTokenizer, nil)
	require.Error(t, err)

	opts = aggregation.DefaultOptions()
	opts.GroupMergeThreshold = 1.5
	_, err = aggregation.NewEngine(opts, whitespaceTokenizer, nil)
	require.Error(t, err)

	opts = aggregation.DefaultOptions()
	opts.DocSimilarityFloor, opts.GroupMergeThreshold = 0, 0
	_, err = aggregation.NewEngine(opts, whitespaceTokenizer, nil)
	require.NoError(t, err)

	opts = aggregation.DefaultOptions()
	opts.NGramMax = 0
	_, err = aggregation.NewEngine(opts, whitespaceTokenizer, nil)
	require.Error(t, err)

	_, err = aggregation.NewEngine(aggregation.DefaultOptions(), nil, nil)
	require.Error(t, err)
}

func TestGroupingsCarryRunMetadata(t *testing.T) {
	res, err := newEngine(t, whitespaceTokenizer).Run(typhoonBatch(models.TagBreaking))
	require.NoError(t, err)

	gs := res.Groupings("run-1", typhoonTime)
	require.Len(t, gs, 1)
	require.Equal(t, "run-1", gs[0].RunID)
	require.Equal(t, models.TagBreaking, gs[0].Tag)
	require.True(t, gs[0].Merged)
	require.Equal(t, typhoonTime, gs[0].CreatedAt)
	require.Len(t, gs[0].RelatedNews, 2)
}

func TestRunContextStopsWhenDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine(t, whitespaceTokenizer).RunContext(ctx, typhoonBatch(models.TagBreaking))
	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunContextStopsBeforeMerge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tok := aggregation.TokenizerFunc(func(text string) (string, error) {
		cancel()
		return text, nil
	})

	res, err := newEngine(t, tok).RunContext(ctx, typhoonBatch(models.TagBreaking))
	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, aggregation.ErrUpstreamUnavailable)
}
