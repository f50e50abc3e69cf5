// Package config loads gateway configuration: defaults, then an optional
// TOML file, then environment variables (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds every recognized setting of the gateway process.
type Config struct {
	// Search backends
	OpenSearchURL string `toml:"opensearch_url"`
	QdrantURL     string `toml:"qdrant_url"`

	// Datastores
	Postgres PostgresConfig `toml:"postgres"`
	Minio    MinioConfig    `toml:"minio"`

	// Analytics
	KafkaBroker string `toml:"kafka_broker"`

	// Gateway
	GatewayPort int    `toml:"gateway_port"`
	Env         string `toml:"env"`

	// Models
	EmbedModel       string `toml:"embed_model"`
	EmbedDim         int    `toml:"embed_dim"`
	EmbedEndpoint    string `toml:"embed_endpoint"`
	RerankerModel    string `toml:"reranker_model"`
	RerankerEndpoint string `toml:"reranker_endpoint"`
	Generator        string `toml:"generator"` // stub|hf|api
	GeneratorModel   string `toml:"generator_model"`
	GeneratorAPIURL  string `toml:"generator_api_url"`
	GeneratorAPIKey  string `toml:"generator_api_key"`
	HFToken          string `toml:"hf_token"`

	// Search parameters
	DefaultTopK int `toml:"default_top_k"`
	MaxTopK     int `toml:"max_top_k"`
	RRFK        int `toml:"rrf_k"`
	RerankTopK  int `toml:"rerank_top_k"`
	FinalTopK   int `toml:"final_top_k"`

	// Optional OpenTelemetry
	OTELExporterOTLPEndpoint string `toml:"otel_exporter_otlp_endpoint"`
	OTELServiceName          string `toml:"otel_service_name"`
}

// PostgresConfig is the metadata-store connection configuration.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	DB       string `toml:"db"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.DB)
}

// MinioConfig is recognized for parity with the ingestion pipeline; the
// query core never opens a blob-store connection.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		OpenSearchURL: "http://localhost:9200",
		QdrantURL:     "http://localhost:6333",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			DB:       "searchit",
			User:     "searchit",
			Password: "searchit",
		},
		Minio: MinioConfig{
			Endpoint:  "http://localhost:9000",
			AccessKey: "searchit",
			SecretKey: "searchitsecret",
			Bucket:    "searchit-data",
		},
		KafkaBroker:     "localhost:9092",
		GatewayPort:     8000,
		Env:             "dev",
		EmbedModel:      "intfloat/e5-base",
		EmbedDim:        768,
		RerankerModel:   "cross-encoder/ms-marco-MiniLM-L-6-v2",
		Generator:       "stub",
		GeneratorModel:  "google/flan-t5-base",
		DefaultTopK:     10,
		MaxTopK:         100,
		RRFK:            60,
		RerankTopK:      50,
		FinalTopK:       8,
		OTELServiceName: "searchit-gateway",
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "searchit.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	setString(&cfg.OpenSearchURL, "OPENSEARCH_URL")
	setString(&cfg.QdrantURL, "QDRANT_URL")
	setString(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setString(&cfg.Postgres.DB, "POSTGRES_DB")
	setString(&cfg.Postgres.User, "POSTGRES_USER")
	setString(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Minio.Bucket, "MINIO_BUCKET")
	setString(&cfg.KafkaBroker, "KAFKA_BROKER")
	setInt(&cfg.GatewayPort, "GATEWAY_PORT")
	setString(&cfg.Env, "ENV")
	setString(&cfg.EmbedModel, "EMBED_MODEL")
	setInt(&cfg.EmbedDim, "EMBED_DIM")
	setString(&cfg.EmbedEndpoint, "EMBED_ENDPOINT")
	setString(&cfg.RerankerModel, "RERANKER_MODEL")
	setString(&cfg.RerankerEndpoint, "RERANKER_ENDPOINT")
	setString(&cfg.Generator, "GENERATOR")
	setString(&cfg.GeneratorModel, "GENERATOR_MODEL")
	setString(&cfg.GeneratorAPIURL, "GENERATOR_API_URL")
	setString(&cfg.GeneratorAPIKey, "GENERATOR_API_KEY")
	setString(&cfg.HFToken, "HF_TOKEN")
	setInt(&cfg.DefaultTopK, "DEFAULT_TOP_K")
	setInt(&cfg.MaxTopK, "MAX_TOP_K")
	setInt(&cfg.RRFK, "RRF_K")
	setInt(&cfg.RerankTopK, "RERANK_TOP_K")
	setInt(&cfg.FinalTopK, "FINAL_TOP_K")
	setString(&cfg.OTELExporterOTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTELServiceName, "OTEL_SERVICE_NAME")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
