// Package config loads vitrine settings from an optional YAML file, a .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/barekit/vitrine/pkg/assistant"
	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/database"
	"github.com/barekit/vitrine/pkg/knowledge/factory"
	"github.com/barekit/vitrine/pkg/memory"
	"github.com/barekit/vitrine/pkg/profile"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. VITRINE_CACHE_TTL.
const EnvPrefix = "VITRINE"

// Config holds all application configuration.
type Config struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Intent    IntentConfig    `mapstructure:"intent"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	ChatModel      string `mapstructure:"chat_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	VisionModel    string `mapstructure:"vision_model"`
}

type AssistantConfig struct {
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	TopK         int           `mapstructure:"top_k"`
	ProductLimit int           `mapstructure:"product_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Seed writes the built-in pages to an empty content store on first use.
	Seed bool `mapstructure:"seed"`
	// SystemPromptFile replaces the built-in system prompt when set.
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

// ChunkerConfig sizes are in estimated tokens.
type ChunkerConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type VectorConfig struct {
	// Type is file, qdrant or pgvector.
	Type factory.Type `mapstructure:"type"`
	// Dir holds the JSON snapshots of the file backend.
	Dir        string `mapstructure:"dir"`
	Dimensions int    `mapstructure:"dimensions"`
	// Prefix names the qdrant collections and pgvector tables.
	Prefix string `mapstructure:"prefix"`

	QdrantHost   string `mapstructure:"qdrant_host"`
	QdrantPort   int    `mapstructure:"qdrant_port"`
	QdrantAPIKey string `mapstructure:"qdrant_api_key"`
	QdrantTLS    bool   `mapstructure:"qdrant_tls"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
}

// Vector index names.
const (
	IndexContent   = "content"
	IndexAesthetic = "aesthetic"
	IndexVisual    = "visual"
)

var snapshotFiles = map[string]string{
	IndexContent:   "vector-store.json",
	IndexAesthetic: "aesthetic-vector-store.json",
	IndexVisual:    "visual-vector-store.json",
}

// Store returns the backend configuration of one index.
func (c VectorConfig) Store(index string, logger *slog.Logger) factory.Config {
	file, ok := snapshotFiles[index]
	if !ok {
		file = index + ".json"
	}
	return factory.Config{
		Type:         c.Type,
		Path:         filepath.Join(c.Dir, file),
		Name:         c.Prefix + index,
		Dimensions:   c.Dimensions,
		QdrantHost:   c.QdrantHost,
		QdrantPort:   c.QdrantPort,
		QdrantAPIKey: c.QdrantAPIKey,
		QdrantTLS:    c.QdrantTLS,
		PostgresDSN:  c.PostgresDSN,
		Logger:       logger,
	}
}

// CatalogConfig locates the product database. DSN wins over the discrete
// connection fields, which describe a MySQL server.
type CatalogConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	BaseURL  string `mapstructure:"base_url"`
}

// Enabled reports whether a catalog database is configured.
func (c CatalogConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

// Connection returns the driver and DSN to open.
func (c CatalogConfig) Connection() (database.Driver, string, error) {
	driver, err := database.ParseDriver(c.Driver)
	if err != nil {
		return "", "", err
	}
	if c.DSN != "" {
		return driver, c.DSN, nil
	}
	if c.Host == "" {
		return "", "", errors.New("catalog database is not configured")
	}
	if driver != database.DriverMySQL {
		return "", "", fmt.Errorf("catalog host settings need the mysql driver, got %s; set catalog.dsn instead", driver)
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.User, c.Password, c.Host, port, c.Database)
	return driver, dsn, nil
}

type CacheConfig struct {
	// Type is memory or redis.
	Type     string        `mapstructure:"type"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxSize  int           `mapstructure:"max_size"`
}

// SessionsConfig selects where conversation history of the HTTP surface
// lives.
type SessionsConfig struct {
	Type             memory.Type `mapstructure:"type"`
	ConnectionString string      `mapstructure:"connection_string"`
	Username         string      `mapstructure:"username"`
	Password         string      `mapstructure:"password"`
	DBName           string      `mapstructure:"db_name"`
	// TTL forgets sessions idle for longer; MaxTurns caps what is stored.
	TTL      time.Duration `mapstructure:"ttl"`
	MaxTurns int           `mapstructure:"max_turns"`
	// HistoryLimit caps the earlier turns sent with each question.
	HistoryLimit int `mapstructure:"history_limit"`
}

// Memory returns the history backend configuration.
func (c SessionsConfig) Memory() memory.Config {
	return memory.Config{
		Type:             c.Type,
		ConnectionString: c.ConnectionString,
		Username:         c.Username,
		Password:         c.Password,
		DBName:           c.DBName,
		TTL:              c.TTL,
		MaxTurns:         c.MaxTurns,
	}
}

type AnalyticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	// NightlyTime is the local HH:MM at which indexes are refreshed.
	NightlyTime    string `mapstructure:"nightly_time"`
	RunOnStart     bool   `mapstructure:"run_on_start"`
	ContentLimit   int    `mapstructure:"content_limit"`
	AestheticLimit int    `mapstructure:"aesthetic_limit"`
	VisualLimit    int    `mapstructure:"visual_limit"`
	Concurrency    int    `mapstructure:"concurrency"`
}

// CronSpec converts NightlyTime to a five-field cron expression.
func (c SchedulerConfig) CronSpec() (string, error) {
	hour, minute, err := ParseDailyTime(c.NightlyTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// ParseDailyTime parses "HH:MM" in 24-hour form.
func ParseDailyTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

type IntentConfig struct {
	// TablesPath is an optional YAML file overriding the keyword tables.
	TablesPath string `mapstructure:"tables_path"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.chat_model", assistant.DefaultModel)
	v.SetDefault("openai.embedding_model", "text-embedding-3-large")
	v.SetDefault("openai.vision_model", profile.DefaultVisionModel)

	v.SetDefault("assistant.temperature", assistant.DefaultTemperature)
	v.SetDefault("assistant.max_tokens", assistant.DefaultMaxTokens)
	v.SetDefault("assistant.top_k", assistant.DefaultTopK)
	v.SetDefault("assistant.product_limit", catalog.DefaultLimit)
	v.SetDefault("assistant.timeout", assistant.DefaultTimeout)
	v.SetDefault("assistant.seed", true)
	v.SetDefault("assistant.system_prompt_file", "")

	v.SetDefault("chunker.size", 1000)
	v.SetDefault("chunker.overlap", 200)

	v.SetDefault("vector.type", string(factory.TypeFile))
	v.SetDefault("vector.dir", "data")
	v.SetDefault("vector.dimensions", 3072)
	v.SetDefault("vector.prefix", "rakporcelain_")
	v.SetDefault("vector.qdrant_host", "localhost")
	v.SetDefault("vector.qdrant_port", 6334)
	v.SetDefault("vector.qdrant_api_key", "")
	v.SetDefault("vector.qdrant_tls", false)
	v.SetDefault("vector.postgres_dsn", "")

	v.SetDefault("catalog.driver", string(database.DriverMySQL))
	v.SetDefault("catalog.dsn", "")
	v.SetDefault("catalog.host", "")
	v.SetDefault("catalog.port", 0)
	v.SetDefault("catalog.user", "")
	v.SetDefault("catalog.password", "")
	v.SetDefault("catalog.database", "")
	v.SetDefault("catalog.base_url", catalog.DefaultBaseURL)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.prefix", "vitrine:cache:")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_size", 100)

	v.SetDefault("sessions.type", string(memory.TypeInMemory))
	v.SetDefault("sessions.connection_string", "")
	v.SetDefault("sessions.username", "")
	v.SetDefault("sessions.password", "")
	v.SetDefault("sessions.db_name", "")
	v.SetDefault("sessions.ttl", memory.DefaultTTL)
	v.SetDefault("sessions.max_turns", memory.DefaultMaxTurns)
	v.SetDefault("sessions.history_limit", 20)

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.driver", string(database.DriverSQLite))
	v.SetDefault("analytics.dsn", filepath.Join("data", "analytics.db"))

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("scheduler.nightly_time", "02:00")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.content_limit", profile.DefaultContentLimit)
	v.SetDefault("scheduler.aesthetic_limit", profile.DefaultAestheticLimit)
	v.SetDefault("scheduler.visual_limit", profile.DefaultVisualLimit)
	v.SetDefault("scheduler.concurrency", profile.DefaultConcurrency)

	v.SetDefault("intent.tables_path", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "vitrine")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// legacyEnv maps keys to the unprefixed variables earlier deployments set.
var legacyEnv = map[string]string{
	"openai.api_key":         "OPENAI_API_KEY",
	"catalog.host":           "DB_HOST",
	"catalog.user":           "DB_USER",
	"catalog.password":       "DB_PWD",
	"catalog.port":           "DB_PORT",
	"catalog.database":       "DB_DATABASE",
	"scheduler.nightly_time": "NIGHTLY_UPDATE_TIME",
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; path names an optional YAML file. Environment
// variables override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate returns an error wrapping assistant.ErrConfiguration for settings
// that prevent answering, and warnings for questionable ones.
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string

	if c.OpenAI.APIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if _, err := c.Scheduler.CronSpec(); err != nil {
		problems = append(problems, fmt.Sprintf("scheduler.nightly_time: %v", err))
	}
	switch c.Vector.Type {
	case factory.TypeFile, factory.TypeQdrant, factory.TypePgvector:
	default:
		problems = append(problems, fmt.Sprintf("unsupported vector.type %q", c.Vector.Type))
	}
	if c.Vector.Type == factory.TypePgvector && c.Vector.PostgresDSN == "" {
		problems = append(problems, "vector.postgres_dsn is required for pgvector")
	}
	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			problems = append(problems, "cache.redis_url is required for the redis cache")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported cache.type %q", c.Cache.Type))
	}
	if c.Catalog.Enabled() {
		if _, _, err := c.Catalog.Connection(); err != nil {
			problems = append(problems, fmt.Sprintf("catalog: %v", err))
		}
	}

	if !c.Catalog.Enabled() {
		warnings = append(warnings, "no catalog database configured; answers will carry no products")
	}
	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("assistant.temperature %.2f is outside recommended range [0.0, 2.0]", c.Assistant.Temperature))
	}
	if c.Chunker.Overlap >= c.Chunker.Size {
		warnings = append(warnings, fmt.Sprintf("chunker.overlap %d is not below chunker.size %d", c.Chunker.Overlap, c.Chunker.Size))
	}
	if c.Cache.MaxSize <= 0 {
		warnings = append(warnings, "cache.max_size is not positive; the default is used")
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %s", assistant.ErrConfiguration, strings.Join(problems, "; "))
	}
	return warnings, nil
}

// NewLogger builds the process logger from c.
func NewLogger(w io.Writer, c LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
