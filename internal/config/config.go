package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Kick     KickConfig     `yaml:"kick"`
	Batcher  BatcherConfig  `yaml:"batcher"`
	Training TrainingConfig `yaml:"training"`
	Model    ModelConfig    `yaml:"model"`
	S3       S3Config       `yaml:"s3"`
	Server   ServerConfig   `yaml:"server"`
}

// StoreConfig selects where the labeling store is persisted
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "file" or "sqlite"
	Path          string `yaml:"path"`
	KeepSnapshots int    `yaml:"keep_snapshots"` // sqlite only
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Username string   `yaml:"username"`
	OAuth    string   `yaml:"oauth"`
	Channels []string `yaml:"channels"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Channels []KickChannelConfig `yaml:"channels"`
}

// KickChannelConfig is a Kick channel with an optional pre-resolved chatroom ID
type KickChannelConfig struct {
	Slug       string `yaml:"slug"`
	ChatroomID int    `yaml:"chatroom_id"`
}

// BatcherConfig controls how live chat is grouped into batches
type BatcherConfig struct {
	BatchSize     int `yaml:"batch_size"`
	WindowSeconds int `yaml:"window_seconds"`
	BufferSize    int `yaml:"buffer_size"`
}

// TrainingConfig holds trainer hyperparameters and the retrain schedule
type TrainingConfig struct {
	Schedule           string `yaml:"schedule"` // cron expression, empty disables scheduled retraining
	MinLabeledMessages int    `yaml:"min_labeled_messages"`
	NgramMin           int    `yaml:"ngram_min"`
	NgramMax           int    `yaml:"ngram_max"`
	MinDF              int    `yaml:"min_df"`
	MaxFeatures        int    `yaml:"max_features"`
	CSVPath            string `yaml:"csv_path"` // training rows dump, empty disables
}

// ModelConfig holds the artifact location
type ModelConfig struct {
	ArtifactPath string `yaml:"artifact_path"`
}

// S3Config holds artifact publishing configuration. Publishing is disabled
// when Bucket is empty.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id"`     // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // Legacy: static credentials
	Endpoint        string `yaml:"endpoint"`          // For S3-compatible services
	MaxRetries      int    `yaml:"max_retries"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply environment variable overrides
	if oauth := os.Getenv("TWITCH_OAUTH"); oauth != "" {
		cfg.Twitch.OAuth = oauth
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		cfg.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		cfg.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.S3.SecretAccessKey = secretKey
	}
	if storePath := os.Getenv("STORE_PATH"); storePath != "" {
		cfg.Store.Path = storePath
	}
	if artifactPath := os.Getenv("ARTIFACT_PATH"); artifactPath != "" {
		cfg.Model.ArtifactPath = artifactPath
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Path == "" {
		if cfg.Store.Backend == "sqlite" {
			cfg.Store.Path = "./data/chat_data.db"
		} else {
			cfg.Store.Path = "./data/chat_data.json"
		}
	}
	if cfg.Store.KeepSnapshots == 0 {
		cfg.Store.KeepSnapshots = 10
	}
	if cfg.Batcher.BatchSize == 0 {
		cfg.Batcher.BatchSize = 50
	}
	if cfg.Batcher.WindowSeconds == 0 {
		cfg.Batcher.WindowSeconds = 60
	}
	if cfg.Batcher.BufferSize == 0 {
		cfg.Batcher.BufferSize = 100
	}
	if cfg.Training.MinLabeledMessages == 0 {
		cfg.Training.MinLabeledMessages = 5
	}
	if cfg.Training.NgramMin == 0 {
		cfg.Training.NgramMin = 1
	}
	if cfg.Training.NgramMax == 0 {
		cfg.Training.NgramMax = 2
	}
	if cfg.Training.MinDF == 0 {
		cfg.Training.MinDF = 1
	}
	if cfg.Training.MaxFeatures == 0 {
		cfg.Training.MaxFeatures = 1000
	}
	if cfg.Model.ArtifactPath == "" {
		cfg.Model.ArtifactPath = "./data/sentiment_model.json"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "models"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func (cfg *Config) validate() error {
	if cfg.Store.Backend != "file" && cfg.Store.Backend != "sqlite" {
		return fmt.Errorf("store.backend must be \"file\" or \"sqlite\", got %q", cfg.Store.Backend)
	}
	if len(cfg.Twitch.Channels) > 0 && cfg.Twitch.OAuth != "" && cfg.Twitch.Username == "" {
		return fmt.Errorf("twitch.username is required when twitch.oauth is set")
	}
	if cfg.Kick.Enabled {
		if len(cfg.Kick.Channels) == 0 {
			return fmt.Errorf("kick.channels is required when kick is enabled")
		}
		for i, ch := range cfg.Kick.Channels {
			if ch.Slug == "" {
				return fmt.Errorf("kick.channels[%d].slug is required", i)
			}
		}
	}
	if cfg.Batcher.BatchSize < 0 || cfg.Batcher.WindowSeconds < 0 {
		return fmt.Errorf("batcher.batch_size and batcher.window_seconds must be positive")
	}
	if cfg.Training.NgramMin > cfg.Training.NgramMax {
		return fmt.Errorf("training.ngram_min (%d) exceeds training.ngram_max (%d)", cfg.Training.NgramMin, cfg.Training.NgramMax)
	}
	if cfg.Training.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Training.Schedule); err != nil {
			return fmt.Errorf("training.schedule: %w", err)
		}
	}

	if cfg.S3.Bucket != "" {
		if cfg.S3.Region == "" {
			return fmt.Errorf("s3.region is required")
		}
		// Either OIDC role or static credentials required
		if cfg.S3.RoleARN == "" && cfg.S3.AccessKeyID == "" {
			return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}
	return nil
}
