package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Replay     ReplayConfig     `yaml:"replay"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Logging    LoggingConfig    `yaml:"logging"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Replay modes.
const (
	ModeVariables = "variables"
	ModeBacktest  = "backtest"
	ModeSnapshot  = "snapshot"
)

type ReplayConfig struct {
	Inputs            []string `yaml:"inputs"`
	Variables         []string `yaml:"variables"`
	Mode              string   `yaml:"mode"`
	MultiInstrument   bool     `yaml:"multi_instrument"`
	Parallel          bool     `yaml:"parallel"`
	MergeByTime       bool     `yaml:"merge_by_time"`
	SnapshotReference string   `yaml:"snapshot_reference"`
}

type ProcessorConfig struct {
	Workers        int           `yaml:"workers"`
	Buffer         int           `yaml:"buffer"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type WriterConfig struct {
	Buffer       BufferConfig       `yaml:"buffer"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	OutputDir    string             `yaml:"output_dir"`
	Compression  string             `yaml:"compression"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type PartitioningConfig struct {
	Scheme     string `yaml:"scheme"`
	TimeFormat string `yaml:"time_format"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled              bool     `yaml:"enabled"`
	Brokers              []string `yaml:"brokers"`
	Topic                string   `yaml:"topic"`
	MaxMessagesPerSecond int      `yaml:"max_messages_per_second"`
	BatchSize            int      `yaml:"batch_size"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// envOverrides are read from the process environment after the file.
// Empty values leave the file settings alone.
type envOverrides struct {
	AccessKeyID     string   `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string   `envconfig:"AWS_SECRET_ACCESS_KEY"`
	Region          string   `envconfig:"AWS_REGION"`
	Bucket          string   `envconfig:"S3_BUCKET"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic      string   `envconfig:"KAFKA_TOPIC"`
	LogLevel        string   `envconfig:"LOG_LEVEL"`
}

func defaultConfig() Config {
	return Config{
		Replay: ReplayConfig{Mode: ModeVariables},
		Processor: ProcessorConfig{
			Workers:        4,
			Buffer:         1024,
			ReportInterval: 30 * time.Second,
		},
		Writer: WriterConfig{
			Buffer:       BufferConfig{MaxSize: 10000, FlushInterval: 30 * time.Second},
			Partitioning: PartitioningConfig{Scheme: "time", TimeFormat: "{year}/{month}/{day}/{hour}"},
			OutputDir:    "output",
			Compression:  "snappy",
		},
		Kafka:      KafkaConfig{MaxMessagesPerSecond: 1000, BatchSize: 100},
		Logging:    LoggingConfig{Level: "info", Format: "json", ReportInterval: time.Minute},
		CloudWatch: CloudWatchConfig{Namespace: "DepthFlow"},
	}
}

// LoadConfig reads path, applies environment overrides and then each
// override in order, and validates the result.
func LoadConfig(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&config)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Replay.Mode = strings.ToLower(strings.TrimSpace(config.Replay.Mode))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if cfg.Storage.S3.Enabled {
		if v := strings.TrimSpace(env.AccessKeyID); v != "" {
			cfg.Storage.S3.AccessKeyID = v
		}
		if v := strings.TrimSpace(env.SecretAccessKey); v != "" {
			cfg.Storage.S3.SecretAccessKey = v
		}
		if v := strings.TrimSpace(env.Region); v != "" {
			cfg.Storage.S3.Region = v
		}
		if v := strings.TrimSpace(env.Bucket); v != "" {
			cfg.Storage.S3.Bucket = v
		}
	}
	if cfg.CloudWatch.Enabled && cfg.CloudWatch.Region == "" {
		cfg.CloudWatch.Region = strings.TrimSpace(env.Region)
	}
	if len(env.KafkaBrokers) > 0 {
		cfg.Kafka.Brokers = env.KafkaBrokers
	}
	if v := strings.TrimSpace(env.KafkaTopic); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	switch cfg.Replay.Mode {
	case ModeVariables, ModeBacktest:
		if len(cfg.Replay.Variables) == 0 {
			return fmt.Errorf("replay.variables must not be empty in %s mode", cfg.Replay.Mode)
		}
	case ModeSnapshot:
	default:
		return fmt.Errorf("replay.mode '%s' is invalid", cfg.Replay.Mode)
	}
	if cfg.Replay.Parallel && cfg.Replay.Mode == ModeSnapshot {
		return fmt.Errorf("replay.parallel is not supported in snapshot mode")
	}

	if cfg.Processor.Workers <= 0 {
		return fmt.Errorf("processor.workers must be greater than 0")
	}
	if cfg.Processor.Buffer < 0 {
		return fmt.Errorf("processor.buffer must not be negative")
	}

	if cfg.Writer.Buffer.MaxSize <= 0 {
		return fmt.Errorf("writer.buffer.max_size must be greater than 0")
	}
	switch strings.ToLower(cfg.Writer.Compression) {
	case "", "snappy", "gzip", "zstd", "uncompressed", "none":
	default:
		return fmt.Errorf("writer.compression '%s' is not supported", cfg.Writer.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
		if cfg.Kafka.MaxMessagesPerSecond <= 0 {
			return fmt.Errorf("kafka.max_messages_per_second must be greater than 0")
		}
	}

	if cfg.CloudWatch.Enabled && cfg.CloudWatch.Region == "" {
		return fmt.Errorf("cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
