package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RegistrationType is the server's policy on credentialed identities.
type RegistrationType string

const (
	RegistrationNone      RegistrationType = "none"
	RegistrationOptional  RegistrationType = "optional"
	RegistrationMandatory RegistrationType = "mandatory"
)

// ServerTarget is a game server that a client should connect to.
type ServerTarget struct {
	// Name the server is known by on the client side.
	Name string `mapstructure:"name"`
	// host:port of the TCP endpoint, or a ws:// URL for the WebSocket endpoint.
	Address string `mapstructure:"address"`
}

// Config contains all of the configuration options available to any of the
// server or client components. Values are read once when the components are
// constructed.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port of the TCP game endpoint.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent sessions the server will allow.
	MaxClients int `mapstructure:"max_clients"`
	// Minimum delay between two connections from the same remote address.
	ConnectionThrottle time.Duration `mapstructure:"connection_throttle"`
	// How long a disconnected client keeps its identity before being purged.
	ClientConnectionTimeout time.Duration `mapstructure:"client_connection_timeout"`
	// Server policy on credentialed identities. Options: none, optional, mandatory
	RegistrationType RegistrationType `mapstructure:"registration_type"`
	// Number of workers executing timer callbacks (turn timeouts, sweeps).
	TurnWorkers int `mapstructure:"turn_workers"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Keepalive struct {
		// Delay between two heartbeat requests.
		Interval time.Duration `mapstructure:"interval"`
		// Time allowed for a heartbeat response before the session is closed.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"keepalive"`

	Database struct {
		// Either sqlite or postgres.
		Engine string `mapstructure:"engine"`
		// Name of the SQLite database file, relative to the config directory.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to the database.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Web struct {
		// HTTP port for the status endpoints. Zero disables the status server.
		HTTPPort int `mapstructure:"http_port"`
	} `mapstructure:"web"`

	Client struct {
		// Name presented to game servers.
		Name string `mapstructure:"name"`
		// Password for registered authentication. Blank authenticates anonymously.
		Password string `mapstructure:"password"`
		// Minimum delay between two reconnection attempts to the same server.
		ConnectThrottle time.Duration `mapstructure:"connect_throttle"`
		// Servers the client connects to on startup.
		Servers []ServerTarget `mapstructure:"servers"`
	} `mapstructure:"client"`

	Debugging struct {
		// Dump every decoded wire message at debug level.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
		// Port of the localhost pprof server. Zero disables it.
		PprofPort int `mapstructure:"pprof_port"`
	} `mapstructure:"debugging"`

	configDir string
}

const envVarPrefix = "RALLYPOINT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("port", 11000)
	v.SetDefault("max_clients", 1000)
	v.SetDefault("connection_throttle", "500ms")
	v.SetDefault("client_connection_timeout", "2m")
	v.SetDefault("registration_type", string(RegistrationOptional))
	v.SetDefault("turn_workers", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("keepalive.interval", "15s")
	v.SetDefault("keepalive.timeout", "30s")
	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.filename", "rallypoint.db")
	v.SetDefault("client.connect_throttle", "2s")
}

// LoadConfig reads config.yaml from configPath, applies environment overrides and
// returns the resulting Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no config file in path %s", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{configDir: configPath}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.RegistrationType {
	case RegistrationNone, RegistrationOptional, RegistrationMandatory:
	default:
		return fmt.Errorf("invalid registration_type %q", c.RegistrationType)
	}
	if c.ClientConnectionTimeout <= 0 {
		return fmt.Errorf("client_connection_timeout must be positive")
	}
	if c.Keepalive.Interval <= 0 || c.Keepalive.Timeout <= 0 {
		return fmt.Errorf("keepalive interval and timeout must be positive")
	}
	return nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// QualifiedPath resolves a path relative to the directory the config was loaded from.
func (c *Config) QualifiedPath(p string) string {
	if filepath.IsAbs(p) || c.configDir == "" {
		return p
	}
	return filepath.Join(c.configDir, p)
}

// ListenAddress returns the host:port the TCP endpoint binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// SweepInterval is the period of the disconnection sweep: a quarter of the
// client connection timeout.
func (c *Config) SweepInterval() time.Duration {
	return c.ClientConnectionTimeout / 4
}
