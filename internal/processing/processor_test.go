package processing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/internal/processing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "punctuation", input: "Hello!!!   세계", want: "Hello 세계"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "remove urls", input: "Check https://example.com for info", want: "Check for info"},
		{name: "desk tag", input: "[속보] 태풍 북상 (서울=연합뉴스)", want: "태풍 북상"},
		{name: "html entities", input: "증시&nbsp;반등 &amp; 환율", want: "증시 반등 환율"},
		{name: "decomposed hangul", input: "\u1110\u1162\u1111\u116e\u11bc", want: "태풍"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tok := processing.NewTokenizer(2)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "particles trimmed", input: "[속보] 태풍이 제주에서 북상했다 https://x.com", want: "태풍 제주 북상했다"},
		{name: "short stem kept", input: "국가 나라", want: "국가 나라"},
		{name: "stopwords and short tokens", input: "The storm in a coast 기자", want: "storm coast"},
		{name: "only punctuation", input: "!!! ... ---", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tok.Tokenize(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDocumentID(t *testing.T) {
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	id1 := processing.BuildDocumentID("title", "text", ts)
	id2 := processing.BuildDocumentID("title", "text", ts)
	require.NotEmpty(t, id1)
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, processing.BuildDocumentID("title", "other", ts))
}

func TestRemoveURLs(t *testing.T) {
	require.Equal(t, "Go   and   now", processing.RemoveURLs("Go https://example.com and http://test.org now"))
	require.Equal(t, "Hello world", processing.RemoveURLs("Hello world"))
}
