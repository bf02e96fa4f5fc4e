package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/news-radar/internal/models"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr string
	RawIndex          string
	AggrIndex         string
	GroupIndex        string
}

// Worker holds configuration for the Kafka -> Elasticsearch raw article worker.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr string
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// Aggregator configures the grouping run and its schedule.
type Aggregator struct {
	Common
	DocSimilarityFloor  float64
	GroupMergeThreshold float64
	NGramMin            int
	NGramMax            int
	TagsToMerge         []models.Tag
	TokenMinLength      int
	Interval            time.Duration
	RunTimeout          time.Duration
	Lookback            time.Duration
	FetchSize           int
	PageSize            int
	DedupeCapacity      int
	DedupeTTL           time.Duration
	KafkaBrokers        []string
	KafkaGroupsTopic    string
}

var dotenvOnce sync.Once

// loadDotEnv reads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadDotEnv() {
	dotenvOnce.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		}
	})
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr: getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		RawIndex:          getEnv("ELASTICSEARCH_RAW_INDEX", "news_raw"),
		AggrIndex:         getEnv("ELASTICSEARCH_AGGR_INDEX", "news_aggr"),
		GroupIndex:        getEnv("ELASTICSEARCH_GROUP_INDEX", "news_groups"),
	}
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	loadDotEnv()
	c := &Worker{
		Common:         loadCommon(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "news_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "news-worker"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	loadDotEnv()
	c := &API{
		Common:   loadCommon(),
		BindAddr: getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
	}
	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	loadDotEnv()
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "168h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadAggregator builds an Aggregator config from environment variables.
func LoadAggregator() (*Aggregator, error) {
	loadDotEnv()
	c := &Aggregator{
		Common:              loadCommon(),
		DocSimilarityFloor:  getFloat("AGGR_DOC_SIMILARITY_FLOOR", 0.25),
		GroupMergeThreshold: getFloat("AGGR_GROUP_MERGE_THRESHOLD", 0.25),
		NGramMin:            getInt("AGGR_NGRAM_MIN", 1),
		NGramMax:            getInt("AGGR_NGRAM_MAX", 2),
		TokenMinLength:      getInt("AGGR_TOKEN_MIN_LEN", 2),
		Interval:            getDuration("AGGR_INTERVAL", "5m"),
		RunTimeout:          getDuration("AGGR_RUN_TIMEOUT", "290s"),
		Lookback:            getDuration("AGGR_LOOKBACK", "24h"),
		FetchSize:           getInt("AGGR_FETCH_SIZE", 10000),
		PageSize:            getInt("AGGR_PAGE_SIZE", 1000),
		DedupeCapacity:      getInt("AGGR_DEDUPE_CAPACITY", 50000),
		DedupeTTL:           getDuration("AGGR_DEDUPE_TTL", "48h"),
		KafkaBrokers:        splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaGroupsTopic:    getEnv("KAFKA_GROUPS_TOPIC", "news_groups"),
	}

	for _, raw := range splitAndTrim(getEnv("AGGR_TAGS_TO_MERGE", string(models.TagBreaking))) {
		tag, ok := models.ParseTag(raw)
		if !ok {
			return nil, fmt.Errorf("AGGR_TAGS_TO_MERGE: unknown tag %q", raw)
		}
		c.TagsToMerge = append(c.TagsToMerge, tag)
	}

	if c.DocSimilarityFloor < 0 || c.DocSimilarityFloor > 1 {
		return nil, fmt.Errorf("AGGR_DOC_SIMILARITY_FLOOR must be in [0, 1]")
	}
	if c.GroupMergeThreshold < 0 || c.GroupMergeThreshold > 1 {
		return nil, fmt.Errorf("AGGR_GROUP_MERGE_THRESHOLD must be in [0, 1]")
	}
	if c.NGramMin < 1 || c.NGramMax < c.NGramMin {
		return nil, fmt.Errorf("AGGR_NGRAM_MIN/AGGR_NGRAM_MAX must satisfy 1 <= min <= max")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("AGGR_INTERVAL must be positive")
	}
	if c.RunTimeout <= 0 || c.RunTimeout > c.Interval {
		return nil, fmt.Errorf("AGGR_RUN_TIMEOUT must be positive and not exceed AGGR_INTERVAL")
	}
	if c.Lookback <= 0 {
		return nil, fmt.Errorf("AGGR_LOOKBACK must be positive")
	}
	if c.FetchSize <= 0 {
		return nil, fmt.Errorf("AGGR_FETCH_SIZE must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > 10000 {
		return nil, fmt.Errorf("AGGR_PAGE_SIZE must be in [1, 10000]")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("AGGR_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
