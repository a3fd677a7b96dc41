package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Vision    VisionConfig    `yaml:"vision"`
	Matching  MatchingConfig  `yaml:"matching"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	MetricsPort    int    `yaml:"metrics_port"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // postgres or memory
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	Extractor          string        `yaml:"extractor"` // onnx or remote
	ModelsDir          string        `yaml:"models_dir"`
	DetectorModel      string        `yaml:"detector_model"`
	EmbedderModel      string        `yaml:"embedder_model"`
	EmbedderOutput     string        `yaml:"embedder_output"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	DescriptorDim      int           `yaml:"descriptor_dim"`
	WorkerCount        int           `yaml:"worker_count"`
	RemoteURL          string        `yaml:"remote_url"`
	ExtractionTimeout  time.Duration `yaml:"extraction_timeout"`
}

type MatchingConfig struct {
	Threshold  float64   `yaml:"threshold"`
	MaxResults int       `yaml:"max_results"`
	ANN        ANNConfig `yaml:"ann"`
}

// ANNConfig controls the optional HNSW candidate index used for large events.
type ANNConfig struct {
	Enabled        bool `yaml:"enabled"`
	MinDescriptors int  `yaml:"min_descriptors"`
	Candidates     int  `yaml:"candidates"`
	EfSearch       int  `yaml:"ef_search"`
	MaxNeighbors   int  `yaml:"max_neighbors"`
}

type IngestionConfig struct {
	Async         bool          `yaml:"async"`
	MaxPixels     int           `yaml:"max_pixels"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, loads an optional .env file and applies
// environment variable overrides. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is a local development convenience; production sets real env vars.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid storage driver %q", c.Storage.Driver)
	}
	switch c.Vision.Extractor {
	case "onnx":
	case "remote":
		if c.Vision.RemoteURL == "" {
			return errors.New("vision.remote_url is required for the remote extractor")
		}
	default:
		return fmt.Errorf("invalid extractor %q", c.Vision.Extractor)
	}
	if c.Vision.DescriptorDim <= 0 {
		return fmt.Errorf("invalid descriptor dimension %d", c.Vision.DescriptorDim)
	}
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("invalid matching threshold %v", c.Matching.Threshold)
	}
	if c.Ingestion.Async && c.Storage.Driver == "memory" {
		return errors.New("async ingestion needs the postgres storage driver")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "eventface"
	}
	if cfg.Vision.Extractor == "" {
		cfg.Vision.Extractor = "onnx"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "face_recognition_128.onnx"
	}
	if cfg.Vision.EmbedderOutput == "" {
		cfg.Vision.EmbedderOutput = "embedding"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.DescriptorDim == 0 {
		cfg.Vision.DescriptorDim = 128
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.ExtractionTimeout == 0 {
		cfg.Vision.ExtractionTimeout = 10 * time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.6
	}
	if cfg.Matching.ANN.MinDescriptors == 0 {
		cfg.Matching.ANN.MinDescriptors = 5000
	}
	if cfg.Matching.ANN.Candidates == 0 {
		cfg.Matching.ANN.Candidates = 200
	}
	if cfg.Matching.ANN.EfSearch == 0 {
		cfg.Matching.ANN.EfSearch = 100
	}
	if cfg.Matching.ANN.MaxNeighbors == 0 {
		cfg.Matching.ANN.MaxNeighbors = 16
	}
	if cfg.Ingestion.MaxPixels == 0 {
		cfg.Ingestion.MaxPixels = 50_000_000
	}
	if cfg.Ingestion.StaleAfter == 0 {
		cfg.Ingestion.StaleAfter = 15 * time.Minute
	}
	if cfg.Ingestion.SweepInterval == 0 {
		cfg.Ingestion.SweepInterval = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EF_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("EF_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("EF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("EF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("EF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("EF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("EF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("EF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("EF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("EF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("EF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("EF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("EF_EXTRACTOR"); v != "" {
		cfg.Vision.Extractor = v
	}
	if v := os.Getenv("EF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("EF_EXTRACTOR_URL"); v != "" {
		cfg.Vision.RemoteURL = v
	}
	if v := os.Getenv("EF_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("EF_DESCRIPTOR_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.DescriptorDim = n
		}
	}
	if v := os.Getenv("EF_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("EF_INGEST_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingestion.Async = b
		}
	}
	if v := os.Getenv("EF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
