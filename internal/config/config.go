package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"

	"github.com/getsentry/perfline/internal/storageprovider"
)

// FileEnv names the environment variable pointing at an optional YAML file.
// Environment variables override values read from the file.
const FileEnv = "PERFLINE_CONFIG"

type (
	Config struct {
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
		SentryDSN   string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
		Port        string `yaml:"port" env:"PORT" env-default:"8080"`
		LogLevel    string `yaml:"log_level" env:"PERFLINE_LOG_LEVEL" env-default:"info"`

		Perf    Perf    `yaml:"perf"`
		Reports Reports `yaml:"reports"`
		Storage Storage `yaml:"storage"`
		Kafka   Kafka   `yaml:"kafka"`
	}

	Perf struct {
		Binary string `yaml:"binary" env:"PERFLINE_PERF_BINARY" env-default:"perf"`
		Fields string `yaml:"fields" env:"PERFLINE_PERF_FIELDS" env-default:"+srcline"`
	}

	Reports struct {
		Top           int  `yaml:"top" env:"PERFLINE_REPORT_TOP" env-default:"5"`
		SkipLineZero  bool `yaml:"skip_line_zero" env:"PERFLINE_REPORT_SKIP_LINE_ZERO" env-default:"true"`
		RetentionDays int  `yaml:"retention_days" env:"PERFLINE_REPORT_RETENTION_DAYS" env-default:"30"`
	}

	Storage struct {
		Backend     string `yaml:"backend" env:"PERFLINE_STORAGE_BACKEND" env-default:"blob"`
		BlobURL     string `yaml:"blob_url" env:"PERFLINE_STORAGE_BLOB_URL" env-default:"file:///var/lib/perfline"`
		GcsBucket   string `yaml:"gcs_bucket" env:"PERFLINE_STORAGE_GCS_BUCKET"`
		GcsEndpoint string `yaml:"gcs_endpoint" env:"PERFLINE_STORAGE_GCS_ENDPOINT"`
		BadgerDir   string `yaml:"badger_dir" env:"PERFLINE_STORAGE_BADGER_DIR"`
	}

	Kafka struct {
		Brokers []string `yaml:"brokers" env:"PERFLINE_KAFKA_BROKERS" env-separator:","`
		Topic   string   `yaml:"topic" env:"PERFLINE_KAFKA_TOPIC" env-default:"perfline-hotspots"`
	}
)

// Load reads the configuration from the file named by PERFLINE_CONFIG, if
// set, and from the environment.
func Load() (Config, error) {
	var cfg Config
	var err error
	if path := os.Getenv(FileEnv); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	switch c.Storage.Backend {
	case storageprovider.BackendBlob:
		if c.Storage.BlobURL == "" {
			return fmt.Errorf("blob storage requires a bucket URL")
		}
	case storageprovider.BackendGcs:
		if c.Storage.GcsBucket == "" {
			return fmt.Errorf("gcs storage requires a bucket name")
		}
	case storageprovider.BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Reports.RetentionDays <= 0 {
		return fmt.Errorf("report retention must be at least one day")
	}
	return nil
}

func (c Config) StorageOptions() storageprovider.Options {
	return storageprovider.Options{
		Backend:     c.Storage.Backend,
		BlobURL:     c.Storage.BlobURL,
		GcsBucket:   c.Storage.GcsBucket,
		GcsEndpoint: c.Storage.GcsEndpoint,
		BadgerDir:   c.Storage.BadgerDir,
	}
}

func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
