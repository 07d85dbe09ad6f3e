package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names
const (
	TransportKafka = "kafka"
	TransportNATS  = "nats"
)

type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Routing       RoutingConfig       `yaml:"routing"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	ChangeLog     ChangeLogConfig     `yaml:"changelog"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	MongoDB       MongoDBConfig       `yaml:"mongodb"`
	MySQL         MySQLConfig         `yaml:"mysql"`
	Binlog        BinlogConfig        `yaml:"binlog"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NormalizationConfig controls the optional type normalization stage
type NormalizationConfig struct {
	Enabled *bool  `yaml:"enabled"` // defaults to true
	Mode    string `yaml:"mode"`    // oracle, postgres
}

// IsEnabled reports whether normalization is on, defaulting to true
func (c NormalizationConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type RoutingConfig struct {
	Prefix string      `yaml:"prefix"`
	Script string      `yaml:"script"` // JavaScript routing function
	Rules  []RouteRule `yaml:"rules"`
}

type RouteRule struct {
	Table      string `yaml:"table"`
	Collection string `yaml:"collection"`
}

type ReconcileConfig struct {
	KeyMode          string `yaml:"key_mode"`    // key, embedded
	DeleteMode       string `yaml:"delete_mode"` // hard, soft
	BusinessKeyField string `yaml:"business_key_field"`
	IDField          string `yaml:"id_field"`
	DeletedField     string `yaml:"deleted_field"`
}

// ChangeLogConfig selects the transport between the source-side and the
// sink-side stage
type ChangeLogConfig struct {
	Transport  string `yaml:"transport"` // kafka, nats
	DeadLetter string `yaml:"dead_letter"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ClientID      string   `yaml:"client_id"`
	SourceTopics  []string `yaml:"source_topics"`  // raw change envelopes
	SinkTopics    []string `yaml:"sink_topics"`    // regular expressions over routed topics
	ConsumerGroup string   `yaml:"consumer_group"` // empty disables offset commits
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type MongoDBConfig struct {
	URL          string        `yaml:"url"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb
}

type BinlogConfig struct {
	PositionFile  string `yaml:"position_file"`
	StartPosition uint32 `yaml:"start_position"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. :9090, empty disables the endpoint
}

// Load reads a YAML configuration file. ${VAR} references are expanded from
// the environment, after loading a .env file next to the working directory
// when one exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Normalization.Mode == "" {
		c.Normalization.Mode = "oracle"
	}
	if c.Reconcile.KeyMode == "" {
		c.Reconcile.KeyMode = "key"
	}
	if c.Reconcile.DeleteMode == "" {
		c.Reconcile.DeleteMode = "hard"
	}
	if c.Reconcile.BusinessKeyField == "" {
		c.Reconcile.BusinessKeyField = "_businessKey"
	}
	if c.Reconcile.IDField == "" {
		c.Reconcile.IDField = "_id"
	}
	if c.Reconcile.DeletedField == "" {
		c.Reconcile.DeletedField = "_deleted"
	}
	if c.ChangeLog.Transport == "" {
		c.ChangeLog.Transport = TransportKafka
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "cdc-router"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.MaxReconnect == 0 {
		c.NATS.MaxReconnect = 60
	}
	if c.MongoDB.WriteTimeout == 0 {
		c.MongoDB.WriteTimeout = 30 * time.Second
	}
	if c.MySQL.Flavor == "" {
		c.MySQL.Flavor = "mysql"
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.Binlog.PositionFile == "" {
		c.Binlog.PositionFile = "binlog.pos"
	}
}

// Validate checks settings shared by all commands
func Validate(cfg *Config) error {
	if cfg.Routing.Script != "" {
		if _, err := os.Stat(cfg.Routing.Script); os.IsNotExist(err) {
			return fmt.Errorf("routing script file not found: %s", cfg.Routing.Script)
		}
		if len(cfg.Routing.Rules) > 0 {
			return fmt.Errorf("cannot specify both routing 'script' and 'rules'")
		}
	}
	for i, rule := range cfg.Routing.Rules {
		if rule.Table == "" || rule.Collection == "" {
			return fmt.Errorf("routing rule %d: both 'table' and 'collection' are required", i)
		}
	}

	switch strings.ToLower(cfg.Reconcile.KeyMode) {
	case "key", "embedded":
	default:
		return fmt.Errorf("unknown reconcile key_mode: %s", cfg.Reconcile.KeyMode)
	}
	switch strings.ToLower(cfg.Reconcile.DeleteMode) {
	case "hard", "soft":
	default:
		return fmt.Errorf("unknown reconcile delete_mode: %s", cfg.Reconcile.DeleteMode)
	}

	switch cfg.ChangeLog.Transport {
	case TransportKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka transport requires at least one broker")
		}
		for _, pattern := range cfg.Kafka.SinkTopics {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("invalid kafka sink topic pattern %q: %w", pattern, err)
			}
			if cfg.ChangeLog.DeadLetter != "" && re.MatchString(cfg.ChangeLog.DeadLetter) {
				return fmt.Errorf("dead_letter topic %q is matched by sink topic pattern %q", cfg.ChangeLog.DeadLetter, pattern)
			}
		}
	case TransportNATS:
		if cfg.NATS.URL == "" {
			return fmt.Errorf("nats transport requires a url")
		}
		// the sink subscribes to subject_prefix + ">"
		if cfg.ChangeLog.DeadLetter != "" && strings.HasPrefix(cfg.ChangeLog.DeadLetter, cfg.NATS.SubjectPrefix) {
			return fmt.Errorf("dead_letter subject %q is under subject_prefix %q", cfg.ChangeLog.DeadLetter, cfg.NATS.SubjectPrefix)
		}
	default:
		return fmt.Errorf("unknown changelog transport: %s", cfg.ChangeLog.Transport)
	}
	return nil
}
