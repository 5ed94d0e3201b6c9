package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Db       DbConfig       `yaml:"db"`
	Listener ListenerConfig `yaml:"listener"`
	Logger   LoggerConfig   `yaml:"logger"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DbConfig describes the connection. URL, when set, is used as-is and the
// discrete fields are ignored.
type DbConfig struct {
	Driver         string   `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	URL            string   `yaml:"url" env:"DATABASE_URL"`
	Host           string   `yaml:"host" env:"DB_HOST"`
	Port           int      `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User           string   `yaml:"user" env:"DB_USER"`
	Password       string   `yaml:"password" env:"DB_PASSWORD"`
	Name           string   `yaml:"name" env:"DB_NAME"`
	SslMode        string   `yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`
	NotifyChannels []string `yaml:"notify_channels" env:"DB_NOTIFY_CHANNELS" env-default:"store:all,table:store_encounter:change"`
}

// ListenerConfig tunes the wait loop. Quiet suppresses the heartbeat dot
// printed on every idle timeout.
type ListenerConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"LISTENER_IDLE_TIMEOUT" env-default:"5s"`
	DrainWindow time.Duration `yaml:"drain_window" env:"LISTENER_DRAIN_WINDOW" env-default:"10ms"`
	Quiet       bool          `yaml:"quiet" env:"LISTENER_QUIET"`
}

// LoggerConfig configures loglib. An empty GRPCAddress disables remote logging.
type LoggerConfig struct {
	GRPCAddress  string `yaml:"grpc_address" env:"LOGGER_GRPC_ADDRESS"`
	FallbackPath string `yaml:"fallback_path" env:"LOGGER_FALLBACK_PATH" env-default:"pg_listener.log"`
	ServiceName  string `yaml:"service_name" env:"LOGGER_SERVICE_NAME" env-default:"pg_listener"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

type MetricsConfig struct {
	Address string `yaml:"address" env:"METRICS_ADDRESS"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		return MustLoadEnv()
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

// MustLoadEnv builds the config from environment variables only, so the
// listener can run with nothing but DATABASE_URL set.
func MustLoadEnv() *Config {
	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from env: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}

func (c *Config) Validate() error {
	if len(c.Db.NotifyChannels) == 0 {
		return errors.New("db.notify_channels is empty")
	}
	if c.Listener.IdleTimeout <= 0 {
		return fmt.Errorf("listener.idle_timeout must be positive: %s", c.Listener.IdleTimeout)
	}
	if c.Listener.DrainWindow < 0 {
		return fmt.Errorf("listener.drain_window must not be negative: %s", c.Listener.DrainWindow)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is empty")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is empty")
		}
	}
	_, err := c.Db.DSN()
	return err
}

func (c DbConfig) RedactedDSN() string {
	dsn, err := c.DSN()
	if err != nil {
		return "<invalid dsn: " + err.Error() + ">"
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
	}
	return u.String()
}

func (c DbConfig) DSN() (string, error) {
	switch c.Driver {
	case "postgres", "":
		if c.URL != "" {
			return c.URL, nil
		}
		return c.postgresDSN()
	default:
		return "", fmt.Errorf("unsupported driver: %s", c.Driver)
	}
}

// postgresDSN builds the URI with net/url so credentials with special
// characters are escaped.
func (c DbConfig) postgresDSN() (string, error) {
	if err := c.validateBase(); err != nil {
		return "", err
	}
	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   hostPort,
		Path:   "/" + c.Name, // leading '/' is required
	}
	q := u.Query()
	if c.SslMode != "" {
		q.Set("sslmode", c.SslMode)
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c DbConfig) validateBase() error {
	if c.Host == "" {
		return errors.New("db.host is empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("db.port is invalid: %d", c.Port)
	}
	if c.User == "" {
		return errors.New("db.user is empty")
	}
	if c.Name == "" {
		return errors.New("db.name is empty")
	}
	return nil
}
