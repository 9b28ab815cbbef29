// Package config defines the process configuration and the loader port for
// reading it.
package config

import (
	"fmt"
	"time"
)

// RemoteType enumerates the supported remote backends.
type RemoteType string

const (
	RemoteTypeMinio  RemoteType = "minio"
	RemoteTypeMemory RemoteType = "memory"
)

// MetadataStoreType enumerates the supported metadata store backends.
type MetadataStoreType string

const (
	MetadataStoreMemory   MetadataStoreType = "memory"
	MetadataStorePostgres MetadataStoreType = "postgres"
)

// LockRegistryType enumerates the supported lock registry backends.
type LockRegistryType string

const (
	LockRegistryMemory     LockRegistryType = "memory"
	LockRegistryPostgres   LockRegistryType = "postgres"
	LockRegistryKubernetes LockRegistryType = "kubernetes"
)

// Config is the top-level process configuration.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Local    LocalConfig    `yaml:"local"`
	Metadata MetadataConfig `yaml:"metadata"`
	Leader   LeaderConfig   `yaml:"leader"`
	Kafka    KafkaConfig    `yaml:"kafka"`

	// PollInterval paces the receive loop when nothing is available.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RemoteConfig describes the remote directory being synchronized.
type RemoteConfig struct {
	Type RemoteType `yaml:"type"`

	// Dir is the remote directory (an object key prefix for minio).
	Dir string `yaml:"dir"`

	// FilenamePattern optionally restricts eligible remote entries to names
	// matching this regular expression.
	FilenamePattern string `yaml:"filename_pattern"`

	// DeleteAfterTransfer removes remote entries once materialized locally.
	DeleteAfterTransfer bool `yaml:"delete_after_transfer"`

	// PreserveTimestamp stamps local files with the remote modification time.
	PreserveTimestamp bool `yaml:"preserve_timestamp"`

	// ListRateLimit caps remote listings per second. Zero disables limiting.
	ListRateLimit float64 `yaml:"list_rate_limit"`

	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig holds the object store connection settings.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	TempFileSuffix  string `yaml:"temp_file_suffix"`
}

// LocalConfig describes the local materialized view and its polling source.
type LocalConfig struct {
	// Dir is the local directory files are materialized into.
	Dir string `yaml:"dir"`

	// SourceName scopes the persistent accept-once filter's metadata keys.
	SourceName string `yaml:"source_name"`

	// AutoCreateDir creates Dir when missing. Defaults to true.
	AutoCreateDir *bool `yaml:"auto_create_dir"`

	// WatchService uses filesystem notifications instead of relisting.
	WatchService bool `yaml:"watch_service"`

	// MaxFetchSize bounds entries materialized per sync. <= 0 is unbounded.
	MaxFetchSize int `yaml:"max_fetch_size"`
}

// MetadataConfig selects the metadata store backing accept-once persistence.
type MetadataConfig struct {
	Type MetadataStoreType `yaml:"type"`

	// DSN is the postgres connection string; required for the postgres type.
	DSN string `yaml:"dsn"`
}

// LeaderConfig controls the election gating the poll loop.
type LeaderConfig struct {
	// Enabled turns election on. Disabled, this instance always polls.
	Enabled bool `yaml:"enabled"`

	// Role names the contested leadership.
	Role string `yaml:"role"`

	Registry LockRegistryType `yaml:"registry"`

	HeartBeat           time.Duration `yaml:"heart_beat"`
	BusyWait            time.Duration `yaml:"busy_wait"`
	PublishFailedEvents bool          `yaml:"publish_failed_events"`

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig holds Lease lock settings for the kubernetes registry.
type KubernetesConfig struct {
	Namespace     string        `yaml:"namespace"`
	Identity      string        `yaml:"identity"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

// KafkaConfig holds event publishing settings. An empty broker list disables
// publishing.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	ClientID        string   `yaml:"client_id"`
	FileTopic       string   `yaml:"file_topic"`
	LeadershipTopic string   `yaml:"leadership_topic"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Remote.Type == "" {
		c.Remote.Type = RemoteTypeMinio
	}
	if c.Metadata.Type == "" {
		c.Metadata.Type = MetadataStoreMemory
	}
	if c.Local.SourceName == "" {
		c.Local.SourceName = "syncd"
	}
	if c.Leader.Role == "" {
		c.Leader.Role = "syncd-leader"
	}
	if c.Leader.Registry == "" {
		c.Leader.Registry = LockRegistryMemory
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "syncd"
	}
	if c.Kafka.FileTopic == "" {
		c.Kafka.FileTopic = "syncd.files"
	}
	if c.Kafka.LeadershipTopic == "" {
		c.Kafka.LeadershipTopic = "syncd.leadership"
	}
}

// Validate reports the first fatal configuration problem.
func (c *Config) Validate() error {
	if c.Local.Dir == "" {
		return fmt.Errorf("local.dir is required")
	}
	if c.Remote.Dir == "" && c.Remote.Type == RemoteTypeMinio {
		return fmt.Errorf("remote.dir is required")
	}
	if c.Remote.Type == RemoteTypeMinio && c.Remote.Minio.Bucket == "" {
		return fmt.Errorf("remote.minio.bucket is required")
	}
	if c.Metadata.Type == MetadataStorePostgres && c.Metadata.DSN == "" {
		return fmt.Errorf("metadata.dsn is required for the postgres store")
	}
	if c.Leader.Registry == LockRegistryPostgres && c.Metadata.DSN == "" {
		return fmt.Errorf("metadata.dsn is required for the postgres lock registry")
	}
	if c.Leader.Registry == LockRegistryKubernetes {
		if c.Leader.Kubernetes.Namespace == "" {
			return fmt.Errorf("leader.kubernetes.namespace is required")
		}
		if c.Leader.Kubernetes.Identity == "" {
			return fmt.Errorf("leader.kubernetes.identity is required")
		}
	}
	return nil
}

// AutoCreateDirEnabled resolves the tri-state auto-create flag.
func (c *LocalConfig) AutoCreateDirEnabled() bool {
	return c.AutoCreateDir == nil || *c.AutoCreateDir
}
