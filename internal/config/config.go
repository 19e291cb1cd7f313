// Package config provides configuration management for the knowledge graph
// engine. Configuration is loaded from defaults, layered YAML files and
// environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for all components.
type Config struct {
	Environment Environment `yaml:"environment"`
	Version     string      `yaml:"-"`
	LoadedFrom  []string    `yaml:"-"`

	Server    Server    `yaml:"server"`
	Store     Store     `yaml:"store"`
	Providers Providers `yaml:"providers"`
	Ingest    Ingest    `yaml:"ingest"`
	Jobs      Jobs      `yaml:"jobs"`
	Vocab     Vocab     `yaml:"vocab"`
	Query     Query     `yaml:"query"`
	Index     Index     `yaml:"index"`
	Events    Events    `yaml:"events"`
	Logging   Logging   `yaml:"logging"`
	Tracing   Tracing   `yaml:"tracing"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Server configures the HTTP listener.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes int64         `yaml:"max_request_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Store selects and configures the graph persistence backend.
type Store struct {
	Backend  string   `yaml:"backend"` // sqlite or dynamodb
	SQLite   SQLite   `yaml:"sqlite"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
}

// SQLite configures the embedded backend.
type SQLite struct {
	Path string `yaml:"path"`
}

// DynamoDB configures the AWS backend.
type DynamoDB struct {
	TableName  string        `yaml:"table_name"`
	Region     string        `yaml:"region"`
	Endpoint   string        `yaml:"endpoint"` // non-empty for dynamodb-local
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Providers configures the model backends.
type Providers struct {
	LLM       LLM       `yaml:"llm"`
	Embedding Embedding `yaml:"embedding"`
	Breaker   Breaker   `yaml:"breaker"`
	Pricing   Pricing   `yaml:"pricing"`
}

// LLM configures the chat-completion provider used for extraction and
// vocabulary adjudication. Any OpenAI-compatible endpoint works.
type LLM struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`

	// ExtractTimeout bounds one chunk's extraction including
	// malformed-output retries.
	ExtractTimeout time.Duration `yaml:"extract_timeout"`

	// ExtractAttempts is how many times malformed extractor output is
	// retried before the chunk fails.
	ExtractAttempts int `yaml:"extract_attempts"`
}

// Embedding configures the embedding provider.
type Embedding struct {
	Provider       string        `yaml:"provider"` // openai or gemini
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Dimension      int           `yaml:"dimension"`
	BatchSize      int           `yaml:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Breaker configures the circuit breaker wrapped around provider calls.
type Breaker struct {
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
	Interval         time.Duration `yaml:"interval"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// Pricing drives cost estimation for approval gating.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	EmbedPerMTok  float64 `yaml:"embed_per_mtok"`
}

// Ingest configures chunking and content intake.
type Ingest struct {
	TargetWords     int           `yaml:"target_words"`
	OverlapWords    int           `yaml:"overlap_words"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	DataDir         string        `yaml:"data_dir"`
	URLFetchTimeout time.Duration `yaml:"url_fetch_timeout"`
	URLMaxBytes     int64         `yaml:"url_max_bytes"`

	// AllowPrivateURLs disables the private-address guard on URL
	// ingestion. Development only.
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
}

// Jobs configures the approval-gated job queue.
type Jobs struct {
	Workers       int           `yaml:"workers"`
	ApprovalTTL   time.Duration `yaml:"approval_ttl"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Vocab configures the relationship type vocabulary.
type Vocab struct {
	ConsolidationThreshold float64 `yaml:"consolidation_threshold"`
	ExpandEditDistance     int     `yaml:"expand_edit_distance"`
	ExpandCosine           float64 `yaml:"expand_cosine"`
	AmbiguityRatio         float64 `yaml:"ambiguity_ratio"`
	AllowDeactivateBuiltin bool    `yaml:"allow_deactivate_builtin"`
}

// Query configures search, pathfinding, polarity and grounding.
type Query struct {
	DedupThreshold     float64       `yaml:"dedup_threshold"`
	SearchLimit        int           `yaml:"search_limit"`
	MinSimilarity      float64       `yaml:"min_similarity"`
	MaxHops            int           `yaml:"max_hops"`
	PathTimeout        time.Duration `yaml:"path_timeout"`
	FrontierCap        int           `yaml:"frontier_cap"`
	NeighborTimeout    time.Duration `yaml:"neighbor_timeout"`
	PolarityTimeout    time.Duration `yaml:"polarity_timeout"`
	MinMagnitude       float64       `yaml:"min_magnitude"`
	GroundingEpsilon   float64       `yaml:"grounding_epsilon"`
	GroundingCacheSize int           `yaml:"grounding_cache_size"`
}

// Index configures the in-process search accelerators.
type Index struct {
	BlevePath    string  `yaml:"bleve_path"` // empty for in-memory
	HNSWM        int     `yaml:"hnsw_m"`
	HNSWEfSearch int     `yaml:"hnsw_ef_search"`
	HNSWMl       float64 `yaml:"hnsw_ml"`
}

// Events configures graph event publishing.
type Events struct {
	Provider     string `yaml:"provider"` // local or eventbridge
	EventBusName string `yaml:"event_bus_name"`
	Source       string `yaml:"source"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Metrics configures Prometheus exposition.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Default returns the configuration used when no files or variables override
// anything. It is complete enough to run against a local SQLite store.
func Default(env Environment) *Config {
	return &Config{
		Environment: env,
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBytes: 20 * 1024 * 1024,
			AllowedOrigins:  []string{"*"},
		},
		Store: Store{
			Backend: "sqlite",
			SQLite:  SQLite{Path: "kgraph.db"},
			DynamoDB: DynamoDB{
				TableName:  "kgraph-" + strings.ToLower(string(env)),
				Region:     "us-east-1",
				MaxRetries: 3,
				Timeout:    10 * time.Second,
			},
		},
		Providers: Providers{
			LLM: LLM{
				BaseURL:         "http://localhost:11434/v1",
				Model:           "qwen2.5:14b",
				MaxRetries:      3,
				RequestTimeout:  120 * time.Second,
				MaxTokens:       4096,
				Temperature:     0.1,
				ExtractTimeout:  120 * time.Second,
				ExtractAttempts: 3,
			},
			Embedding: Embedding{
				Provider:       "openai",
				BaseURL:        "http://localhost:11434/v1",
				Model:          "nomic-embed-text",
				Dimension:      768,
				BatchSize:      64,
				RequestTimeout: 60 * time.Second,
			},
			Breaker: Breaker{
				FailureThreshold: 0.6,
				MinRequests:      5,
				Interval:         60 * time.Second,
				OpenDuration:     30 * time.Second,
				HalfOpenRequests: 3,
			},
			Pricing: Pricing{
				InputPerMTok:  0.15,
				OutputPerMTok: 0.60,
				EmbedPerMTok:  0.02,
			},
		},
		Ingest: Ingest{
			TargetWords:     1000,
			OverlapWords:    200,
			MaxUploadBytes:  20 * 1024 * 1024,
			DataDir:         "data",
			URLFetchTimeout: 30 * time.Second,
			URLMaxBytes:     10 * 1024 * 1024,
		},
		Jobs: Jobs{
			Workers:       4,
			ApprovalTTL:   24 * time.Hour,
			Retention:     30 * 24 * time.Hour,
			SweepInterval: 60 * time.Second,
		},
		Vocab: Vocab{
			ConsolidationThreshold: 0.85,
			ExpandEditDistance:     2,
			ExpandCosine:           0.92,
			AmbiguityRatio:         0.8,
			AllowDeactivateBuiltin: false,
		},
		Query: Query{
			DedupThreshold:     0.80,
			SearchLimit:        10,
			MinSimilarity:      0.25,
			MaxHops:            5,
			PathTimeout:        30 * time.Second,
			FrontierCap:        5000,
			NeighborTimeout:    10 * time.Second,
			PolarityTimeout:    60 * time.Second,
			MinMagnitude:       0.3,
			GroundingEpsilon:   1.0,
			GroundingCacheSize: 1024,
		},
		Index: Index{
			HNSWM:        16,
			HNSWEfSearch: 20,
			HNSWMl:       0.25,
		},
		Events: Events{
			Provider: "local",
			Source:   "kgraph",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Tracing: Tracing{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "kgraph-api",
			SampleRate:  1.0,
		},
		Metrics: Metrics{
			Namespace: "kgraph",
			Path:      "/metrics",
		},
	}
}

// applyEnvironment overlays environment variables. Variables always win over
// file values.
func (c *Config) applyEnvironment() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.SQLite.Path = getEnv("SQLITE_PATH", c.Store.SQLite.Path)
	c.Store.DynamoDB.TableName = getEnv("DYNAMODB_TABLE", c.Store.DynamoDB.TableName)
	c.Store.DynamoDB.Region = getEnv("AWS_REGION", c.Store.DynamoDB.Region)
	c.Store.DynamoDB.Endpoint = getEnv("DYNAMODB_ENDPOINT", c.Store.DynamoDB.Endpoint)

	c.Providers.LLM.BaseURL = getEnv("LLM_BASE_URL", c.Providers.LLM.BaseURL)
	c.Providers.LLM.APIKey = getEnv("LLM_API_KEY", c.Providers.LLM.APIKey)
	c.Providers.LLM.Model = getEnv("LLM_MODEL", c.Providers.LLM.Model)
	c.Providers.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", c.Providers.Embedding.Provider)
	c.Providers.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Providers.Embedding.BaseURL)
	c.Providers.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Providers.Embedding.APIKey)
	c.Providers.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Providers.Embedding.Model)
	c.Providers.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", c.Providers.Embedding.Dimension)

	c.Ingest.DataDir = getEnv("DATA_DIR", c.Ingest.DataDir)

	c.Jobs.Workers = getEnvInt("JOB_WORKERS", c.Jobs.Workers)

	c.Events.Provider = getEnv("EVENTS_PROVIDER", c.Events.Provider)
	c.Events.EventBusName = getEnv("EVENT_BUS_NAME", c.Events.EventBusName)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", c.Tracing.SampleRate)
}

// Validate checks the configuration for values that would break components at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "sqlite", "dynamodb":
	default:
		return fmt.Errorf("store.backend must be sqlite or dynamodb, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "dynamodb" && c.Store.DynamoDB.TableName == "" {
		return fmt.Errorf("store.dynamodb.table_name is required for the dynamodb backend")
	}
	switch c.Providers.Embedding.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("providers.embedding.provider must be openai or gemini, got %q", c.Providers.Embedding.Provider)
	}
	if c.Providers.Embedding.Dimension <= 0 {
		return fmt.Errorf("providers.embedding.dimension must be positive, got %d", c.Providers.Embedding.Dimension)
	}
	if c.Providers.Embedding.BatchSize < 1 || c.Providers.Embedding.BatchSize > 2048 {
		return fmt.Errorf("providers.embedding.batch_size must be 1-2048, got %d", c.Providers.Embedding.BatchSize)
	}
	if c.Ingest.TargetWords < 100 || c.Ingest.TargetWords > 4000 {
		return fmt.Errorf("ingest.target_words must be 100-4000, got %d", c.Ingest.TargetWords)
	}
	if c.Ingest.OverlapWords < 0 || c.Ingest.OverlapWords >= c.Ingest.TargetWords {
		return fmt.Errorf("ingest.overlap_words must be in [0, target_words), got %d", c.Ingest.OverlapWords)
	}
	if c.Jobs.Workers < 1 || c.Jobs.Workers > 64 {
		return fmt.Errorf("jobs.workers must be 1-64, got %d", c.Jobs.Workers)
	}
	if c.Query.DedupThreshold < 0 || c.Query.DedupThreshold > 1 {
		return fmt.Errorf("query.dedup_threshold must be in [0,1], got %f", c.Query.DedupThreshold)
	}
	if c.Vocab.ConsolidationThreshold < 0.5 || c.Vocab.ConsolidationThreshold > 1 {
		return fmt.Errorf("vocab.consolidation_threshold must be in [0.5,1], got %f", c.Vocab.ConsolidationThreshold)
	}
	if c.Query.MaxHops < 1 || c.Query.MaxHops > 10 {
		return fmt.Errorf("query.max_hops must be 1-10, got %d", c.Query.MaxHops)
	}
	if c.Query.FrontierCap < 1 {
		return fmt.Errorf("query.frontier_cap must be positive, got %d", c.Query.FrontierCap)
	}
	switch c.Events.Provider {
	case "local", "eventbridge":
	default:
		return fmt.Errorf("events.provider must be local or eventbridge, got %q", c.Events.Provider)
	}
	if c.Events.Provider == "eventbridge" && c.Events.EventBusName == "" {
		return fmt.Errorf("events.event_bus_name is required for the eventbridge provider")
	}
	return nil
}

// IsDevelopment returns true in the development environment.
func (c *Config) IsDevelopment() bool { return c.Environment == Development }

// IsProduction returns true in the production environment.
func (c *Config) IsProduction() bool { return c.Environment == Production }

func getEnvironment() Environment {
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
