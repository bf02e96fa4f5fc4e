package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	// reporter bylines and bracketed desk tags, e.g. [속보] or (서울=연합뉴스)
	bracketed = regexp.MustCompile(`[\[(【<][^\])】>]{0,30}[\])】>]`)
)

var stopwords = map[string]struct{}{
	"그리고": {}, "그러나": {}, "하지만": {}, "또한": {}, "이번": {}, "지난": {},
	"기자": {}, "뉴스": {}, "무단": {}, "전재": {}, "재배포": {}, "금지": {},
	"있다": {}, "했다": {}, "밝혔다": {}, "것으로": {}, "대한": {}, "위해": {},
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "of": {}, "and": {},
}

// Longest first so that 에서 wins over 에.
var particles = []string{
	"으로서", "에서는", "에게서", "으로", "에서", "에게", "까지", "부터", "보다", "처럼", "이라", "라는",
	"은", "는", "이", "가", "을", "를", "의", "에", "로", "와", "과", "도", "만",
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// CleanText unescapes HTML entities, composes Hangul to NFC, drops URLs,
// bracketed desk tags and punctuation, and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := norm.NFC.String(html.UnescapeString(input))
	decoded = RemoveURLs(decoded)
	decoded = bracketed.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Tokenizer turns article text into a whitespace-joined token stream.
type Tokenizer struct {
	MinLength int
}

// NewTokenizer returns a tokenizer dropping tokens shorter than minLen runes.
func NewTokenizer(minLen int) *Tokenizer {
	if minLen < 1 {
		minLen = 1
	}
	return &Tokenizer{MinLength: minLen}
}

// Tokenize never fails; the error is part of the collaborator contract.
func (t *Tokenizer) Tokenize(text string) (string, error) {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return "", nil
	}

	fields := strings.Fields(clean)
	out := make([]string, 0, len(fields))
	for _, token := range fields {
		token = trimParticle(token)
		if len([]rune(token)) < t.MinLength {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		out = append(out, token)
	}
	return strings.Join(out, " "), nil
}

// trimParticle strips a trailing Korean postposition from a Hangul word,
// keeping at least two syllables of stem.
func trimParticle(token string) string {
	if !isHangul(token) {
		return token
	}
	runes := []rune(token)
	for _, p := range particles {
		pr := []rune(p)
		if len(runes)-len(pr) < 2 {
			continue
		}
		if strings.HasSuffix(token, p) {
			return string(runes[:len(runes)-len(pr)])
		}
	}
	return token
}

func isHangul(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Hangul, r) {
			return false
		}
	}
	return s != ""
}

// BuildDocumentID hashes the most stable fields to form deterministic IDs.
func BuildDocumentID(title, text string, ts time.Time) string {
	s := sha1.Sum([]byte(title + "|" + text + "|" + ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}
