package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/indexer"
	"github.com/dshills/devctx/internal/searcher"
	"github.com/dshills/devctx/pkg/types"
)

type Specification struct {
	LogLevel  string                 `yaml:"logLevel" split_words:"true"`
	Index     IndexSpecification     `yaml:"index"`
	Embedding EmbeddingSpecification `yaml:"embedding"`
	Retrieval RetrievalSpecification `yaml:"retrieval"`
	Lock      LockSpecification      `yaml:"lock"`

	flags *pflag.FlagSet `ignored:"true"`
}

type IndexSpecification struct {
	Dir             string   `yaml:"dir"`
	Include         []string `yaml:"include"`
	Exclude         []string `yaml:"exclude"`
	ChunkSize       int      `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap    int      `yaml:"chunkOverlap" split_words:"true"`
	DocChunkSize    int      `yaml:"docChunkSize" split_words:"true"`    // 0 uses ChunkSize
	DocChunkOverlap int      `yaml:"docChunkOverlap" split_words:"true"` // used only with DocChunkSize
	Workers         int      `yaml:"workers"`
	BatchSize       int      `yaml:"batchSize" split_words:"true"`
	MaxFileBytes    int64    `yaml:"maxFileBytes" split_words:"true"`
}

type EmbeddingSpecification struct {
	Provider  string `yaml:"provider"` // empty auto-detects from API keys
	Model     string `yaml:"model"`
	APIKey    string `yaml:"apiKey" envconfig:"API_KEY"`
	BaseURL   string `yaml:"baseURL" envconfig:"BASE_URL"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cacheSize" split_words:"true"`
}

type RetrievalSpecification struct {
	K                 int           `yaml:"k"`
	MinSimilarity     float64       `yaml:"minSimilarity" split_words:"true"`
	UseHybrid         bool          `yaml:"useHybrid" split_words:"true"`
	UseQueryExpansion bool          `yaml:"useQueryExpansion" split_words:"true"`
	UseReranking      bool          `yaml:"useReranking" split_words:"true"`
	ContextWindow     int           `yaml:"contextWindow" split_words:"true"`
	CacheSize         int           `yaml:"cacheSize" split_words:"true"`
	CacheTTL          time.Duration `yaml:"cacheTTL" envconfig:"CACHE_TTL"`

	// ExpansionRules replace the built-in rules when set. YAML only.
	ExpansionRules []searcher.Rule `yaml:"expansionRules" ignored:"true"`
}

type LockSpecification struct {
	RedisAddr     string        `yaml:"redisAddr" split_words:"true"` // empty uses a lock file
	RedisPassword string        `yaml:"redisPassword" split_words:"true"`
	RedisDB       int           `yaml:"redisDB" envconfig:"REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL"`
}

const envPrefix = "DEVCTX"

// Candidate config files, in discovery order
var configFiles = []string{
	"./devctx.yaml",
	"./.devctx.yaml",
}

func (s *Specification) Usage() {
	if s.flags != nil {
		fmt.Fprint(os.Stderr, s.flags.FlagUsages())
	}
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover. fs must already be parsed
// and carry the flags registered by BindFlags.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	cfg := Defaults()

	path := configPath
	if path == "" && fs != nil {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range configFiles {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("%w: config file not found: %s", types.ErrConfiguration, path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("%w: load yaml %s: %v", types.ErrConfiguration, path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("%w: env override: %v", types.ErrConfiguration, err)
	}

	// flags override everything
	if fs != nil {
		applyChangedFlags(fs, &cfg)
		cfg.flags = fs
	}

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate reports out-of-range settings as types.ErrConfiguration
func (s *Specification) Validate() error {
	var problems []string
	if s.Index.ChunkSize <= 0 {
		problems = append(problems, "index.chunkSize must be positive")
	}
	if s.Index.ChunkOverlap < 0 || s.Index.ChunkOverlap >= s.Index.ChunkSize {
		problems = append(problems, "index.chunkOverlap must be in [0, chunkSize)")
	}
	if s.Index.DocChunkSize < 0 {
		problems = append(problems, "index.docChunkSize must not be negative")
	}
	if s.Index.DocChunkSize > 0 && (s.Index.DocChunkOverlap < 0 || s.Index.DocChunkOverlap >= s.Index.DocChunkSize) {
		problems = append(problems, "index.docChunkOverlap must be in [0, docChunkSize)")
	}
	if strings.TrimSpace(s.Index.Dir) == "" {
		problems = append(problems, "index.dir is required")
	}
	if s.Retrieval.K < 0 || s.Retrieval.K > searcher.MaxK {
		problems = append(problems, fmt.Sprintf("retrieval.k must be in [0, %d]", searcher.MaxK))
	}
	if s.Retrieval.MinSimilarity < 0 || s.Retrieval.MinSimilarity > 1 {
		problems = append(problems, "retrieval.minSimilarity must be in [0, 1]")
	}
	if s.Retrieval.ContextWindow < 0 {
		problems = append(problems, "retrieval.contextWindow must not be negative")
	}
	for i, r := range s.Retrieval.ExpansionRules {
		if strings.TrimSpace(r.Name) == "" || len(r.Triggers) == 0 {
			problems = append(problems, fmt.Sprintf("retrieval.expansionRules[%d] needs a name and triggers", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Docs returns the documentation chunk parameters, nil when documentation
// uses the code parameters
func (s *Specification) Docs() *indexer.DocConfig {
	if s.Index.DocChunkSize <= 0 {
		return nil
	}
	return &indexer.DocConfig{ChunkSize: s.Index.DocChunkSize, ChunkOverlap: s.Index.DocChunkOverlap}
}

func (s *Specification) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  s.Embedding.Provider,
		Model:     s.Embedding.Model,
		APIKey:    s.Embedding.APIKey,
		BaseURL:   s.Embedding.BaseURL,
		Dimension: s.Embedding.Dimension,
		CacheSize: s.Embedding.CacheSize,
	}
}

// Expander builds the query expander, using the built-in rules unless
// expansion rules are configured
func (s *Specification) Expander() *searcher.Expander {
	if len(s.Retrieval.ExpansionRules) == 0 {
		return searcher.NewExpander(nil)
	}
	return searcher.NewExpander(s.Retrieval.ExpansionRules)
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// BindFlags registers every setting on fs with the defaults as values
func BindFlags(fs *pflag.FlagSet) {
	c := Defaults()

	fs.String("config", "", "Path to config file")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	fs.String("index-dir", c.Index.Dir, "Index directory name inside the workspace")
	fs.StringSlice("include", c.Index.Include, "Glob patterns to index (default: everything)")
	fs.StringSlice("exclude", c.Index.Exclude, "Glob patterns to skip, added to the built-in excludes")
	fs.Int("chunk-size", c.Index.ChunkSize, "Maximum chunk length in characters")
	fs.Int("chunk-overlap", c.Index.ChunkOverlap, "Characters shared by consecutive chunks")
	fs.Int("doc-chunk-size", c.Index.DocChunkSize, "Chunk length for documentation (0: same as code)")
	fs.Int("doc-chunk-overlap", c.Index.DocChunkOverlap, "Chunk overlap for documentation")
	fs.Int("workers", c.Index.Workers, "Files processed concurrently (0: number of CPUs)")
	fs.Int("batch-size", c.Index.BatchSize, "Texts per embedding request")
	fs.Int64("max-file-bytes", c.Index.MaxFileBytes, "Larger files are skipped")

	fs.String("embedding-provider", c.Embedding.Provider, "Embedding provider (openai|jina|gemini|local)")
	fs.String("embedding-model", c.Embedding.Model, "Embedding model")
	fs.String("embedding-api-key", c.Embedding.APIKey, "Embedding provider API key")
	fs.String("embedding-base-url", c.Embedding.BaseURL, "Base URL for OpenAI-compatible providers")
	fs.Int("embedding-dimension", c.Embedding.Dimension, "Embedding dimension (0: model default)")

	fs.String("redis-addr", c.Lock.RedisAddr, "Redis address for the shared build lock")
	fs.Duration("lock-ttl", c.Lock.TTL, "Build lock lifetime")
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setInt64 := func(name string, dst *int64) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, _ := fs.GetInt64(name)
			*dst = v
		}
	}
	setSlice := func(name string, dst *[]string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, _ := fs.GetStringSlice(name)
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("log-level", &c.LogLevel)

	setStr("index-dir", &c.Index.Dir)
	setSlice("include", &c.Index.Include)
	setSlice("exclude", &c.Index.Exclude)
	setInt("chunk-size", &c.Index.ChunkSize)
	setInt("chunk-overlap", &c.Index.ChunkOverlap)
	setInt("doc-chunk-size", &c.Index.DocChunkSize)
	setInt("doc-chunk-overlap", &c.Index.DocChunkOverlap)
	setInt("workers", &c.Index.Workers)
	setInt("batch-size", &c.Index.BatchSize)
	setInt64("max-file-bytes", &c.Index.MaxFileBytes)

	setStr("embedding-provider", &c.Embedding.Provider)
	setStr("embedding-model", &c.Embedding.Model)
	setStr("embedding-api-key", &c.Embedding.APIKey)
	setStr("embedding-base-url", &c.Embedding.BaseURL)
	setInt("embedding-dimension", &c.Embedding.Dimension)

	setStr("redis-addr", &c.Lock.RedisAddr)
	setDuration("lock-ttl", &c.Lock.TTL)
}

// Defaults returns the lowest-precedence settings
func Defaults() Specification {
	return Specification{
		LogLevel: "info",
		Index: IndexSpecification{
			Dir:          ".devctx",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    50,
			MaxFileBytes: 1 << 20,
		},
		Embedding: EmbeddingSpecification{
			CacheSize: 1000,
		},
		Retrieval: RetrievalSpecification{
			K:                 searcher.DefaultK,
			MinSimilarity:     0.3,
			UseHybrid:         true,
			UseQueryExpansion: true,
			UseReranking:      true,
			CacheSize:         searcher.DefaultCacheSize,
			CacheTTL:          searcher.DefaultCacheTTL,
		},
		Lock: LockSpecification{
			TTL: 10 * time.Minute,
		},
	}
}
