package main

import (
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/spf13/viper"
)

// Config of the relay server, read from an optional YAML file and
// overridden by `RELAY_*` environment variables (e.g., RELAY_REDIS_ADDR).
type Config struct {
    // Public grants every connection its own session, without credentials.
    Public bool `mapstructure:"public"`

    // WebIRC resolves the client's hostname before binding a connection.
    WebIRC bool `mapstructure:"webirc"`

    // ReverseProxy trusts `X-Forwarded-For` for the client's address.
    ReverseProxy bool `mapstructure:"reverse_proxy"`

    // Host on which the server will accept connections.
    Host string `mapstructure:"host" validate:"required"`

    // Port on which the server will accept connections.
    Port int `mapstructure:"port" validate:"gte=1,lte=65535"`

    // Transport implementation: gorilla or gobwas.
    Transport string `mapstructure:"transport" validate:"oneof=gorilla gobwas"`

    // ReadSize and WriteSize allocated for gorilla-ws's buffers when a new
    // connection is accepted.
    ReadSize int `mapstructure:"read_size" validate:"gte=0"`
    WriteSize int `mapstructure:"write_size" validate:"gte=0"`

    // IgnoreOrigin and accept connections from any source (mostly for
    // development).
    IgnoreOrigin bool `mapstructure:"ignore_origin"`

    // IdleTimeout before a silent connection gets pinged, and then closed.
    IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`

    // ResolveTimeout bounds each reverse lookup.
    ResolveTimeout time.Duration `mapstructure:"resolve_timeout" validate:"gt=0"`

    // UsersDir holds one YAML file per user. Required unless public.
    UsersDir string `mapstructure:"users_dir" validate:"required_if=Public false"`

    // BcryptCost used when hashing new passwords.
    BcryptCost int `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`

    Redis RedisConfig `mapstructure:"redis"`
    Logging LoggingConfig `mapstructure:"logging"`
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// RedisConfig locates the store of sessions issued elsewhere.
type RedisConfig struct {
    Enabled bool `mapstructure:"enabled"`
    Addr string `mapstructure:"addr" validate:"required_if=Enabled true"`
    Password string `mapstructure:"password"`
    DB int `mapstructure:"db" validate:"gte=0"`
    Prefix string `mapstructure:"prefix"`
    Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type LoggingConfig struct {
    Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
    Format string `mapstructure:"format" validate:"required,oneof=text json"`
    Output string `mapstructure:"output" validate:"required"`
}

type MetricsConfig struct {
    Enabled bool `mapstructure:"enabled"`
    Path string `mapstructure:"path" validate:"required,startswith=/"`
}

// setDefaults register every option, so each one may be overridden from the
// environment even if it's missing from the file.
func setDefaults(v *viper.Viper) {
    v.SetDefault("public", false)
    v.SetDefault("webirc", false)
    v.SetDefault("reverse_proxy", false)
    v.SetDefault("host", "0.0.0.0")
    v.SetDefault("port", 8888)
    v.SetDefault("transport", "gorilla")
    v.SetDefault("read_size", 1024)
    v.SetDefault("write_size", 1024)
    v.SetDefault("ignore_origin", false)
    v.SetDefault("idle_timeout", time.Minute)
    v.SetDefault("resolve_timeout", time.Second * 5)
    v.SetDefault("users_dir", "")
    v.SetDefault("bcrypt_cost", 8)

    v.SetDefault("redis.enabled", false)
    v.SetDefault("redis.addr", "")
    v.SetDefault("redis.password", "")
    v.SetDefault("redis.db", 0)
    v.SetDefault("redis.prefix", "session:")
    v.SetDefault("redis.timeout", time.Second * 2)

    v.SetDefault("logging.level", "INFO")
    v.SetDefault("logging.format", "text")
    v.SetDefault("logging.output", "stderr")

    v.SetDefault("metrics.enabled", false)
    v.SetDefault("metrics.path", "/metrics")
}

// loadConfig read the configuration from `path`, if not empty, and from
// the environment, and validate it.
func loadConfig(path string) (*Config, error) {
    v := viper.New()
    setDefaults(v)

    v.SetEnvPrefix("RELAY")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    if len(path) > 0 {
        if _, err := os.Stat(path); err != nil {
            return nil, fmt.Errorf("configuration file not found: %w", err)
        }

        v.SetConfigFile(path)
        if err := v.ReadInConfig(); err != nil {
            return nil, fmt.Errorf("failed to read config file: %w", err)
        }
    }

    var cfg Config
    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("failed to unmarshal config: %w", err)
    }

    if err := validator.New().Struct(&cfg); err != nil {
        return nil, fmt.Errorf("configuration validation failed: %w", err)
    }

    return &cfg, nil
}

// Addr on which the HTTP server listens.
func (c *Config) Addr() string {
    return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
