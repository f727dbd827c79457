// Package config loads configuration for the node, driver and dispatcher
// processes from YAML files with environment-variable overrides. One file may
// carry every section; each process reads the parts it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Driver     DriverConfig     `yaml:"driver"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Endpoint names a remote process and the address it listens on.
type Endpoint struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// NodeConfig controls a storage node: identity, bootstrap peer, persistence
// and filter sizing.
type NodeConfig struct {
	Name           string        `yaml:"name"`
	ListenAddr     string        `yaml:"listenAddr"`
	AdvertiseAddr  string        `yaml:"advertiseAddr"`
	PeerAddr       string        `yaml:"peerAddr"`
	StorePath      string        `yaml:"storePath"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	Drivers        []string      `yaml:"drivers"`
	FilterCapacity uint          `yaml:"filterCapacity"`
	FilterFPRate   float64       `yaml:"filterFPRate"`
}

// DriverConfig controls the fetch driver's node set, pacing and fetcher.
type DriverConfig struct {
	Name          string        `yaml:"name"`
	ListenAddr    string        `yaml:"listenAddr"`
	AdvertiseAddr string        `yaml:"advertiseAddr"`
	Nodes         []Endpoint    `yaml:"nodes"`
	Workers       int           `yaml:"workers"`
	IdleBackoff   time.Duration `yaml:"idleBackoff"`
	EmptyBackoff  time.Duration `yaml:"emptyBackoff"`
	HistoryLimit  int           `yaml:"historyLimit"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	UserAgent     string        `yaml:"userAgent"`
	RespectRobots bool          `yaml:"respectRobots"`
	SeedURLs      []string      `yaml:"seedUrls"`
}

// DispatcherConfig controls the query/submission gateway.
type DispatcherConfig struct {
	Name                  string        `yaml:"name"`
	ListenAddr            string        `yaml:"listenAddr"`
	AdvertiseAddr         string        `yaml:"advertiseAddr"`
	Nodes                 []Endpoint    `yaml:"nodes"`
	HistoryLimit          int           `yaml:"historyLimit"`
	ResendAttempts        int           `yaml:"resendAttempts"`
	TopTerms              int           `yaml:"topTerms"`
	PageSize              int           `yaml:"pageSize"`
	StatsSnapshotInterval time.Duration `yaml:"statsSnapshotInterval"`
	SubmitRateLimit       int           `yaml:"submitRateLimit"`
	SlowQuery             time.Duration `yaml:"slowQuery"`
}

// ServerConfig holds HTTP server settings for the dispatcher API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical event streams to topic names.
type KafkaTopics struct {
	CrawlEvents  string `yaml:"crawlEvents"`
	SearchEvents string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name:           "node-1",
			ListenAddr:     ":7001",
			AdvertiseAddr:  "localhost:7001",
			StorePath:      "data/node-1.db",
			FlushInterval:  30 * time.Second,
			FilterCapacity: 100000,
			FilterFPRate:   0.01,
		},
		Driver: DriverConfig{
			Name:          "driver-1",
			ListenAddr:    ":7101",
			AdvertiseAddr: "localhost:7101",
			Workers:       1,
			IdleBackoff:   5 * time.Second,
			EmptyBackoff:  time.Second,
			FetchTimeout:  10 * time.Second,
			UserAgent:     "replicated-crawl-search/1.0",
			RespectRobots: true,
		},
		Dispatcher: DispatcherConfig{
			Name:                  "dispatcher",
			ListenAddr:            ":7201",
			AdvertiseAddr:         "localhost:7201",
			ResendAttempts:        3,
			TopTerms:              10,
			PageSize:              10,
			StatsSnapshotInterval: time.Minute,
			SubmitRateLimit:       60,
			SlowQuery:             500 * time.Millisecond,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "crawlsearch",
			User:            "crawlsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchctl",
			Topics: KafkaTopics{
				CrawlEvents:  "crawl-events",
				SearchEvents: "search-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func (c *Config) validate() error {
	if c.Node.FilterFPRate <= 0 || c.Node.FilterFPRate >= 1 {
		return fmt.Errorf("node.filterFPRate must be in (0,1), got %v", c.Node.FilterFPRate)
	}
	if c.Driver.Workers < 1 {
		return fmt.Errorf("driver.workers must be at least 1, got %d", c.Driver.Workers)
	}
	if c.Driver.HistoryLimit < 0 || c.Dispatcher.HistoryLimit < 0 {
		return fmt.Errorf("history limits must not be negative")
	}
	for _, list := range [][]Endpoint{c.Driver.Nodes, c.Dispatcher.Nodes} {
		seen := make(map[string]struct{}, len(list))
		for _, ep := range list {
			if ep.Name == "" || ep.Addr == "" {
				return fmt.Errorf("node endpoint needs both name and addr: %+v", ep)
			}
			if _, dup := seen[ep.Name]; dup {
				return fmt.Errorf("duplicate node name %q", ep.Name)
			}
			seen[ep.Name] = struct{}{}
		}
	}
	return nil
}

// applyEnvOverrides reads RCS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RCS_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("RCS_NODE_LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("RCS_NODE_ADVERTISE_ADDR"); v != "" {
		cfg.Node.AdvertiseAddr = v
	}
	if v := os.Getenv("RCS_NODE_PEER_ADDR"); v != "" {
		cfg.Node.PeerAddr = v
	}
	if v := os.Getenv("RCS_NODE_STORE_PATH"); v != "" {
		cfg.Node.StorePath = v
	}
	if v := os.Getenv("RCS_NODE_DRIVERS"); v != "" {
		cfg.Node.Drivers = strings.Split(v, ",")
	}
	if v := os.Getenv("RCS_DRIVER_NAME"); v != "" {
		cfg.Driver.Name = v
	}
	if v := os.Getenv("RCS_DRIVER_NODES"); v != "" {
		cfg.Driver.Nodes = parseEndpoints(v)
	}
	if v := os.Getenv("RCS_DRIVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Driver.Workers = n
		}
	}
	if v := os.Getenv("RCS_DISPATCHER_NODES"); v != "" {
		cfg.Dispatcher.Nodes = parseEndpoints(v)
	}
	if v := os.Getenv("RCS_DISPATCHER_SUBMIT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatcher.SubmitRateLimit = n
		}
	}
	if v := os.Getenv("RCS_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RCS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RCS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RCS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RCS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RCS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RCS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RCS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RCS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

// parseEndpoints reads "name=addr,name=addr" lists.
func parseEndpoints(v string) []Endpoint {
	var out []Endpoint
	for _, part := range strings.Split(v, ",") {
		name, addr, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out = append(out, Endpoint{Name: name, Addr: addr})
	}
	return out
}
