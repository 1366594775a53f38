// Package config loads the runtime host's configuration: environment
// variables of the form {SERVICE}_CONFIG_NAME, with an optional YAML
// overlay selected by CONFIG_FILE, env taking precedence (§6). Grounded on
// r3e-network-service_layer/pkg/config/config.go's New→loadFromFile→
// envdecode.Decode layering.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BusConfig configures the NATS/JetStream event bus.
type BusConfig struct {
	URL           string `yaml:"url" env:"BUS_URL"`
	StreamName    string `yaml:"stream_name" env:"BUS_STREAM_NAME"`
	DeadLetterEnv string `yaml:"dead_letter_env" env:"BUS_DEAD_LETTER_ENV"`
}

// VectorConfig configures the Qdrant vector store adapter.
type VectorConfig struct {
	Addr       string `yaml:"addr" env:"VECTOR_ADDR"`
	Collection string `yaml:"collection" env:"VECTOR_COLLECTION"`
	Dimensions uint64 `yaml:"dimensions" env:"VECTOR_DIMENSIONS"`
}

// GraphConfig configures the Neo4j graph store adapter.
type GraphConfig struct {
	URI      string `yaml:"uri" env:"GRAPH_URI"`
	User     string `yaml:"user" env:"GRAPH_USER"`
	Password string `yaml:"password" env:"GRAPH_PASSWORD"`
}

// RelationalConfig configures the Postgres relational adapter.
type RelationalConfig struct {
	DSN string `yaml:"dsn" env:"RELATIONAL_DSN"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	ModelURL string `yaml:"model_url" env:"EMBEDDING_MODEL_URL"`
	Model    string `yaml:"model" env:"EMBEDDING_MODEL"`
}

// HTTPClientConfig configures the shared pooled HTTP client (§4.5).
type HTTPClientConfig struct {
	MaxConnections           int `yaml:"max_connections" env:"HTTP_CLIENT_MAX_CONNECTIONS"`
	MaxKeepaliveConnections  int `yaml:"max_keepalive_connections" env:"HTTP_CLIENT_MAX_KEEPALIVE_CONNECTIONS"`
	ConnectTimeoutSeconds    int `yaml:"connect_timeout_seconds" env:"HTTP_CLIENT_CONNECT_TIMEOUT_SECONDS"`
	RequestTimeoutSeconds    int `yaml:"request_timeout_seconds" env:"HTTP_CLIENT_REQUEST_TIMEOUT_SECONDS"`
	MaxAttempts              int `yaml:"max_attempts" env:"HTTP_CLIENT_MAX_ATTEMPTS"`
}

// OrchestratorConfig configures the runtime host (§4.3, §5).
type OrchestratorConfig struct {
	MaxInFlight           int `yaml:"max_in_flight" env:"ORCHESTRATOR_MAX_IN_FLIGHT"`
	HandlerTimeoutSeconds int `yaml:"handler_timeout_seconds" env:"ORCHESTRATOR_HANDLER_TIMEOUT_SECONDS"`
	ShutdownGraceSeconds  int `yaml:"shutdown_grace_seconds" env:"ORCHESTRATOR_SHUTDOWN_GRACE_SECONDS"`
	BreakerFailThreshold  int `yaml:"breaker_fail_threshold" env:"ORCHESTRATOR_BREAKER_FAIL_THRESHOLD"`
	BreakerTimeoutSeconds int `yaml:"breaker_timeout_seconds" env:"ORCHESTRATOR_BREAKER_TIMEOUT_SECONDS"`
}

// CrawlerConfig configures the repository crawler (§4.6).
type CrawlerConfig struct {
	BatchSize int `yaml:"batch_size" env:"CRAWLER_BATCH_SIZE"`
}

// IndexerConfig configures the document indexer orchestrator (§4.7).
type IndexerConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" env:"INDEXER_MAX_CONCURRENT_DOCUMENTS"`
	ChunkSize              int `yaml:"chunk_size" env:"INDEXER_CHUNK_SIZE"`
	ChunkOverlap           int `yaml:"chunk_overlap" env:"INDEXER_CHUNK_OVERLAP"`
}

// EmbedProducerConfig configures the embedding batch producer (§4.9).
type EmbedProducerConfig struct {
	MaxConcurrent            int `yaml:"max_concurrent" env:"EMBEDPRODUCER_MAX_CONCURRENT"`
	InterRequestDelayMillis  int `yaml:"inter_request_delay_millis" env:"EMBEDPRODUCER_INTER_REQUEST_DELAY_MILLIS"`
	MaxFileBytes             int `yaml:"max_file_bytes" env:"EMBEDPRODUCER_MAX_FILE_BYTES"`
	BatchSize                int `yaml:"batch_size" env:"EMBEDPRODUCER_BATCH_SIZE"`
}

// LoggingConfig controls slog output (ambient, mirrors the teacher's
// LoggingConfig shape).
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// MetricsConfig controls the ambient Prometheus /metrics surface.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

// TierRule is one bootstrap-tier glob rule, YAML-only (no stable env
// encoding for a rule list) — first match wins, evaluated in file order.
type TierRule struct {
	Pattern    string  `yaml:"pattern"`
	Tier       string  `yaml:"tier"`
	Confidence float64 `yaml:"confidence"`
}

// Config is the top-level configuration structure.
type Config struct {
	Bus            BusConfig            `yaml:"bus"`
	Vector         VectorConfig         `yaml:"vector"`
	Graph          GraphConfig          `yaml:"graph"`
	Relational     RelationalConfig     `yaml:"relational"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	HTTPClient     HTTPClientConfig     `yaml:"http_client"`
	Orchestrator   OrchestratorConfig   `yaml:"orchestrator"`
	Crawler        CrawlerConfig        `yaml:"crawler"`
	Indexer        IndexerConfig        `yaml:"indexer"`
	EmbedProducer  EmbedProducerConfig  `yaml:"embed_producer"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	BootstrapTiers []TierRule           `yaml:"bootstrap_tiers"`
}

// New returns a configuration populated with spec-stated defaults.
func New() *Config {
	return &Config{
		Bus: BusConfig{
			URL:        "nats://localhost:4222",
			StreamName: "omniintelligence",
		},
		Vector: VectorConfig{
			Addr:       "localhost:6334",
			Collection: "context_items",
			Dimensions: 1536,
		},
		Graph: GraphConfig{
			URI: "bolt://localhost:7687",
		},
		HTTPClient: HTTPClientConfig{
			MaxConnections:          100,
			MaxKeepaliveConnections: 20,
			ConnectTimeoutSeconds:   5,
			RequestTimeoutSeconds:   30,
			MaxAttempts:             3,
		},
		Orchestrator: OrchestratorConfig{
			MaxInFlight:           64,
			HandlerTimeoutSeconds: 30,
			ShutdownGraceSeconds:  10,
			BreakerFailThreshold:  5,
			BreakerTimeoutSeconds: 60,
		},
		Crawler: CrawlerConfig{
			BatchSize: 50,
		},
		Indexer: IndexerConfig{
			MaxConcurrentDocuments: 10,
			ChunkSize:              512,
			ChunkOverlap:           50,
		},
		EmbedProducer: EmbedProducerConfig{
			MaxConcurrent:           5,
			InterRequestDelayMillis: 20,
			MaxFileBytes:            2 * 1024 * 1024,
			BatchSize:               25,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// HandlerTimeout returns OrchestratorConfig.HandlerTimeoutSeconds as a
// time.Duration.
func (o OrchestratorConfig) HandlerTimeout() time.Duration {
	return time.Duration(o.HandlerTimeoutSeconds) * time.Second
}

// ShutdownGrace returns OrchestratorConfig.ShutdownGraceSeconds as a
// time.Duration.
func (o OrchestratorConfig) ShutdownGrace() time.Duration {
	return time.Duration(o.ShutdownGraceSeconds) * time.Second
}

// BreakerTimeout returns OrchestratorConfig.BreakerTimeoutSeconds as a
// time.Duration.
func (o OrchestratorConfig) BreakerTimeout() time.Duration {
	return time.Duration(o.BreakerTimeoutSeconds) * time.Second
}

// InterRequestDelay returns EmbedProducerConfig.InterRequestDelayMillis as
// a time.Duration.
func (e EmbedProducerConfig) InterRequestDelay() time.Duration {
	return time.Duration(e.InterRequestDelayMillis) * time.Millisecond
}

// Load reads .env (if present), applies defaults, overlays a YAML file
// selected by CONFIG_FILE (if set), then overrides with environment
// variables — env always wins over the YAML overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file only, skipping the
// environment overlay — used by cmd/omni-backfill's --config flag and by
// tests.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
