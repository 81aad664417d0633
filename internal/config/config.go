package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dd-25/Meetup/pkg/log"
)

type Config struct {
	Server   ServerConfig
	Presence PresenceConfig
	Kafka    KafkaConfig
	Media    MediaConfig
	Registry RegistryConfig
	Batch    BatchConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Log      log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

// PresenceConfig selects the presence store backend. The memory driver is
// only meaningful for single-instance deployments and tests.
type PresenceConfig struct {
	Driver string // "redis", "memory"
	Redis  RedisConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers             string
	EphemeralTopic      string `mapstructure:"ephemeral_topic"`
	PersistentTopic     string `mapstructure:"persistent_topic"`
	GroupID             string `mapstructure:"group_id"`
	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	Partitions          int
	SessionTimeoutMs    int `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int `mapstructure:"heartbeat_interval_ms"`
}

type MediaConfig struct {
	RTCMinPort  uint16   `mapstructure:"rtc_min_port"`
	RTCMaxPort  uint16   `mapstructure:"rtc_max_port"`
	AnnouncedIP string   `mapstructure:"announced_ip"`
	ICEServers  []string `mapstructure:"ice_servers"`
}

type RegistryConfig struct {
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
}

type BatchConfig struct {
	Size           int           `mapstructure:"size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	DrainMaxRounds int           `mapstructure:"drain_max_rounds"`
}

type StorageConfig struct {
	Driver    string // "postgres", "cassandra"
	Postgres  PostgresConfig
	Cassandra CassandraConfig
}

type PostgresConfig struct {
	DSN string
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
}

type AuthConfig struct {
	Secret string
}

// Load reads config/config.yaml plus environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("presence.redis.address", "REDIS_ADDRESS")
	v.BindEnv("presence.redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("storage.postgres.dsn", "POSTGRES_DSN")
	v.BindEnv("auth.secret", "JWT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file, rely on defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Registry.SweepInterval = parseDuration(v, "registry.sweep_interval", 30*time.Second)
	cfg.Registry.InactivityThreshold = parseDuration(v, "registry.inactivity_threshold", 90*time.Second)
	cfg.Batch.FlushInterval = parseDuration(v, "batch.flush_interval", 5*time.Second)
	cfg.Batch.DedupTTL = parseDuration(v, "batch.dedup_ttl", time.Hour)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("presence.driver", "redis")
	v.SetDefault("presence.redis.address", "localhost:6379")
	v.SetDefault("presence.redis.password", "")
	v.SetDefault("presence.redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.ephemeral_topic", "temp-chat")
	v.SetDefault("kafka.persistent_topic", "persistent-chat")
	v.SetDefault("kafka.group_id", "meetup-group")
	v.SetDefault("kafka.auto_offset_reset", "latest")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("kafka.session_timeout_ms", 45000)
	v.SetDefault("kafka.heartbeat_interval_ms", 3000)

	v.SetDefault("media.rtc_min_port", 10000)
	v.SetDefault("media.rtc_max_port", 10100)
	v.SetDefault("media.announced_ip", "127.0.0.1")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("registry.sweep_interval", "30s")
	v.SetDefault("registry.inactivity_threshold", "90s")

	v.SetDefault("batch.size", 50)
	v.SetDefault("batch.flush_interval", "5s")
	v.SetDefault("batch.dedup_ttl", "1h")
	v.SetDefault("batch.drain_max_rounds", 20)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.dsn", "host=localhost user=meetup password=meetup dbname=meetup port=5432 sslmode=disable")
	v.SetDefault("storage.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("storage.cassandra.keyspace", "meetup")
	v.SetDefault("storage.cassandra.consistency", "LOCAL_QUORUM")

	v.SetDefault("auth.secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "meetup")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
