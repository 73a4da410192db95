package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Imaging   ImagingConfig   `mapstructure:"imaging"`
}

type ServerConfig struct {
	Port        int        `mapstructure:"port"`
	Mode        string     `mapstructure:"mode"`
	MetricsPort int        `mapstructure:"metrics_port"`
	CORS        CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Folder    string `mapstructure:"folder"`
	ChunkSize int64  `mapstructure:"chunk_size"`
}

type SearchConfig struct {
	Backend       string              `mapstructure:"backend"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

type IngestConfig struct {
	Workers               int           `mapstructure:"workers"`
	MaxTaskRepeat         int           `mapstructure:"max_task_repeat"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	IndexRetryBaseDelay   time.Duration `mapstructure:"index_retry_base_delay"`
	URLOpenTimeout        time.Duration `mapstructure:"url_open_timeout"`
	WorkDir               string        `mapstructure:"work_dir"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	VisibilityTimeout     time.Duration `mapstructure:"visibility_timeout"`
	DirectMetadataUpdates bool          `mapstructure:"direct_metadata_updates"`
}

type ImagingConfig struct {
	CompressorPath string        `mapstructure:"compressor_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Legacy variable names of the deployment environment
	v.BindEnv("storage.chunk_size", "S3_CHUNK_SIZE")
	v.BindEnv("storage.folder", "S3_DEFAULT_FOLDER")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("ingest.max_task_repeat", "MAX_TASK_REPEAT")
	v.BindEnv("ingest.url_open_timeout", "URL_OPEN_TIMEOUT")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("search.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("search.elasticsearch.password", "ELASTICSEARCH_PASSWORD")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")

	// URL_OPEN_TIMEOUT is given in whole seconds
	if secs, err := strconv.Atoi(v.GetString("ingest.url_open_timeout")); err == nil {
		v.Set("ingest.url_open_timeout", time.Duration(secs)*time.Second)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/embedr.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "embedr")
	v.SetDefault("storage.type", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "embedr")
	v.SetDefault("storage.folder", "")
	v.SetDefault("storage.chunk_size", 52428800)
	v.SetDefault("search.backend", "qdrant")
	v.SetDefault("search.qdrant.host", "localhost")
	v.SetDefault("search.qdrant.port", 6334)
	v.SetDefault("search.qdrant.collection", "items")
	v.SetDefault("search.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("search.elasticsearch.index", "items")
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1/embeddings")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.max_task_repeat", 1)
	v.SetDefault("ingest.retry_base_delay", time.Minute)
	v.SetDefault("ingest.index_retry_base_delay", time.Second)
	v.SetDefault("ingest.url_open_timeout", 10*time.Second)
	v.SetDefault("ingest.work_dir", "/tmp")
	v.SetDefault("ingest.poll_interval", time.Second)
	v.SetDefault("ingest.visibility_timeout", 30*time.Minute)
	v.SetDefault("ingest.direct_metadata_updates", true)
	v.SetDefault("imaging.compressor_path", "kdu_compress")
	v.SetDefault("imaging.timeout", 10*time.Minute)
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive")
	}
	if c.Ingest.MaxTaskRepeat <= 0 {
		return fmt.Errorf("ingest.max_task_repeat must be positive")
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("storage.chunk_size must be positive")
	}
	switch c.Search.Backend {
	case "qdrant", "elasticsearch":
	default:
		return fmt.Errorf("unknown search backend %q", c.Search.Backend)
	}
	return nil
}
