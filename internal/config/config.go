// Package config handles loading and parsing of the file storage
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Metadata MetadataConfig `yaml:"metadata"`
	// Storages maps storage names, as referenced by files, to backends.
	Storages map[string]StorageConfig `yaml:"storages"`
	// DefaultStorage is used when an upload does not name a storage.
	DefaultStorage string     `yaml:"default_storage"`
	Path           PathConfig `yaml:"path"`
	// RemovePolicy is "fail_fast" or "best_effort".
	RemovePolicy string     `yaml:"remove_policy"`
	Auth         AuthConfig `yaml:"auth"`
}

// AuthConfig enables API key authentication of the HTTP API.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []APIKey `yaml:"keys"`
	// MaxPresignSeconds caps the lifetime of presigned URLs.
	MaxPresignSeconds int `yaml:"max_presign_seconds"`
}

// APIKey is an API key pair. Clients send "Bearer <id>:<secret>" or sign
// URLs with the secret.
type APIKey struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxUploadBytes caps the size of a single upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File, when set, receives a copy of the log output with rotation.
	File     string         `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig holds log file rotation settings.
type RotationConfig struct {
	// MaxSize is the size in megabytes before a log file is rotated.
	MaxSize int `yaml:"max_size"`
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `yaml:"max_backups"`
	// MaxAge is the number of days to keep rotated files.
	MaxAge   int  `yaml:"max_age"`
	Compress bool `yaml:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetadataConfig holds file record store settings.
type MetadataConfig struct {
	// Engine is the metadata store engine: "sqlite", "memory", "local",
	// "dynamodb", "firestore" or "cosmos".
	Engine    string          `yaml:"engine"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Local     LocalMetaConfig `yaml:"local"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
	Cache     CacheConfig     `yaml:"cache"`
}

// LocalMetaConfig holds settings for the JSONL file record store.
type LocalMetaConfig struct {
	RootDir string `yaml:"root_dir"`
	// CompactOnStartup rewrites the log without superseded entries.
	CompactOnStartup bool `yaml:"compact_on_startup"`
}

// SQLiteConfig holds SQLite database settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// DynamoDBConfig holds DynamoDB metadata store settings.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds Firestore metadata store settings.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds Azure Cosmos DB metadata store settings. The container
// must be partitioned on /type.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// CacheConfig holds the file record cache settings. A zero size disables
// the cache.
type CacheConfig struct {
	Size       int `yaml:"size"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// StorageConfig configures one named storage backend.
type StorageConfig struct {
	// Kind is the backend type: local, memory, sqlite, aws, gcp or azure.
	Kind   string       `yaml:"kind"`
	Local  LocalConfig  `yaml:"local"`
	Memory MemoryConfig `yaml:"memory"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	AWS    AWSConfig    `yaml:"aws"`
	GCP    GCPConfig    `yaml:"gcp"`
	Azure  AzureConfig  `yaml:"azure"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir is the base directory for stored files.
	RootDir string `yaml:"root_dir"`
}

// MemoryConfig holds in-memory storage backend settings.
type MemoryConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
	// Persistence is "none" or "snapshot".
	Persistence             string `yaml:"persistence"`
	SnapshotPath            string `yaml:"snapshot_path"`
	SnapshotIntervalSeconds int    `yaml:"snapshot_interval_seconds"`
}

// AWSConfig holds S3 storage backend settings.
type AWSConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds Google Cloud Storage backend settings.
type GCPConfig struct {
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds Azure Blob Storage backend settings.
type AzureConfig struct {
	Container string `yaml:"container"`
	// Account is the storage account name, used to build the account URL
	// when AccountURL is empty.
	Account            string `yaml:"account"`
	AccountURL         string `yaml:"account_url"`
	Prefix             string `yaml:"prefix"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// ResolvedAccountURL returns AccountURL, or the URL derived from Account.
func (c AzureConfig) ResolvedAccountURL() string {
	if c.AccountURL != "" {
		return c.AccountURL
	}
	if c.Account == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.Account)
}

// PathConfig configures how storage paths are built.
type PathConfig struct {
	Template        string `yaml:"template"`
	VariantTemplate string `yaml:"variant_template"`
	// Levels is the number of directory levels {randomPath} expands to.
	Levels int `yaml:"levels"`
	// Rules are evaluated in order; the first rule whose condition matches
	// a file selects its templates.
	Rules []PathRule `yaml:"rules"`
}

// PathRule selects templates for files matching an expression.
type PathRule struct {
	// Condition is an expr-lang boolean expression, e.g. `model == "User"`.
	Condition       string `yaml:"condition"`
	Template        string `yaml:"template"`
	VariantTemplate string `yaml:"variant_template"`
}

// Storage kinds.
const (
	KindLocal  = "local"
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindAWS    = "aws"
	KindGCP    = "gcp"
	KindAzure  = "azure"
)

// Remove policies.
const (
	RemoveFailFast   = "fail_fast"
	RemoveBestEffort = "best_effort"
)

var envFiles = []string{".env", ".env.local"}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied. Variables from .env and .env.local
// (in the working directory and next to the config file) are loaded into
// the environment first, and ${VAR} or ${VAR:-default} references in the
// file are expanded. An empty path yields the defaults. If the file is
// missing, filestorage.example.yaml in the same or parent directory is
// tried.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	cfg := defaultConfig()
	if path == "" {
		applyDefaults(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "filestorage.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "filestorage.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files without overriding variables that are
// already set. Missing files are ignored.
func loadEnvFiles(configPath string) {
	dirs := []string{"."}
	if configPath != "" {
		dirs = append(dirs, filepath.Dir(configPath))
	}
	for _, dir := range dirs {
		for _, envFile := range envFiles {
			_ = godotenv.Load(filepath.Join(dir, envFile))
		}
	}
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Bare $VAR references are left alone.
func ExpandEnv(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefRe.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
			MaxUploadBytes:  100 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Metadata: MetadataConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/metadata.db",
			},
		},
		RemovePolicy: RemoveFailFast,
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 100 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.File != "" && cfg.Logging.Rotation.MaxSize == 0 {
		cfg.Logging.Rotation.MaxSize = 100
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/metadata.db"
	}
	if cfg.Metadata.Local.RootDir == "" {
		cfg.Metadata.Local.RootDir = "./data/metadata"
	}
	if cfg.Metadata.DynamoDB.Table == "" {
		cfg.Metadata.DynamoDB.Table = "filestorage-files"
	}
	if cfg.Metadata.Firestore.Collection == "" {
		cfg.Metadata.Firestore.Collection = "filestorage_files"
	}
	if cfg.Metadata.Cosmos.Database == "" {
		cfg.Metadata.Cosmos.Database = "filestorage"
	}
	if cfg.Metadata.Cosmos.Container == "" {
		cfg.Metadata.Cosmos.Container = "files"
	}
	if cfg.Metadata.Cache.Size > 0 && cfg.Metadata.Cache.TTLSeconds == 0 {
		cfg.Metadata.Cache.TTLSeconds = 300
	}
	if len(cfg.Storages) == 0 {
		cfg.Storages = map[string]StorageConfig{
			KindLocal: {Kind: KindLocal},
		}
	}
	for name, sc := range cfg.Storages {
		if sc.Kind == "" {
			sc.Kind = KindLocal
		}
		if sc.Kind == KindLocal && sc.Local.RootDir == "" {
			sc.Local.RootDir = filepath.Join("./data/files", name)
		}
		if sc.Kind == KindSQLite && sc.SQLite.Path == "" {
			sc.SQLite.Path = filepath.Join("./data", name+".db")
		}
		if sc.Kind == KindMemory && sc.Memory.Persistence == "" {
			sc.Memory.Persistence = "none"
		}
		cfg.Storages[name] = sc
	}
	if cfg.DefaultStorage == "" {
		names := cfg.StorageNames()
		cfg.DefaultStorage = names[0]
		if _, ok := cfg.Storages[KindLocal]; ok {
			cfg.DefaultStorage = KindLocal
		}
	}
	if cfg.Path.Levels == 0 {
		cfg.Path.Levels = 3
	}
	if cfg.RemovePolicy == "" {
		cfg.RemovePolicy = RemoveFailFast
	}
	if cfg.Auth.MaxPresignSeconds == 0 {
		cfg.Auth.MaxPresignSeconds = 7 * 24 * 3600
	}
}

// StorageNames returns the configured storage names in sorted order.
func (c *Config) StorageNames() []string {
	names := make([]string, 0, len(c.Storages))
	for name := range c.Storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	switch c.Metadata.Engine {
	case "sqlite", "memory", "local", "dynamodb":
	case "firestore":
		if c.Metadata.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("metadata.firestore.project_id is required"))
		}
	case "cosmos":
		if c.Metadata.Cosmos.Endpoint == "" || c.Metadata.Cosmos.MasterKey == "" {
			errs = append(errs, errors.New("metadata.cosmos.endpoint and master_key are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.engine: unknown engine %q", c.Metadata.Engine))
	}
	switch c.RemovePolicy {
	case RemoveFailFast, RemoveBestEffort:
	default:
		errs = append(errs, fmt.Errorf("remove_policy: unknown policy %q", c.RemovePolicy))
	}
	if c.Auth.Enabled && len(c.Auth.Keys) == 0 {
		errs = append(errs, errors.New("auth.keys: at least one key is required when auth is enabled"))
	}
	seenKeys := make(map[string]bool, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if k.ID == "" || k.Secret == "" {
			errs = append(errs, fmt.Errorf("auth.keys[%d]: id and secret are required", i))
		}
		if seenKeys[k.ID] {
			errs = append(errs, fmt.Errorf("auth.keys[%d]: duplicate id %q", i, k.ID))
		}
		seenKeys[k.ID] = true
	}

	for _, name := range c.StorageNames() {
		if err := c.Storages[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("storages.%s: %w", name, err))
		}
	}
	if _, ok := c.Storages[c.DefaultStorage]; !ok {
		errs = append(errs, fmt.Errorf("default_storage: storage %q is not configured", c.DefaultStorage))
	}

	for i, rule := range c.Path.Rules {
		if rule.Condition == "" {
			errs = append(errs, fmt.Errorf("path.rules[%d]: condition is required", i))
		}
	}

	return errors.Join(errs...)
}

func (s StorageConfig) validate() error {
	switch s.Kind {
	case KindLocal, KindMemory, KindSQLite:
		return nil
	case KindAWS:
		if s.AWS.Bucket == "" {
			return errors.New("aws.bucket is required")
		}
	case KindGCP:
		if s.GCP.Bucket == "" {
			return errors.New("gcp.bucket is required")
		}
	case KindAzure:
		if s.Azure.Container == "" {
			return errors.New("azure.container is required")
		}
		if s.Azure.ConnectionString == "" && s.Azure.ResolvedAccountURL() == "" {
			return errors.New("azure.account, azure.account_url or azure.connection_string is required")
		}
	default:
		return fmt.Errorf("unknown storage kind %q", s.Kind)
	}
	return nil
}
