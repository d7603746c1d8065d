package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/keystore"
	"github.com/quaydock/lighter/relay"
	"github.com/quaydock/lighter/resume"
	"github.com/quaydock/lighter/transfer"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for the lighter gateway.
type Config struct {
	Server   ServerConfig                     `mapstructure:"server"`
	Log      LogConfig                        `mapstructure:"log"`
	Auth     AuthConfig                       `mapstructure:"auth"`
	CORS     relay.CORSConfig                 `mapstructure:"cors"`
	Resume   resume.Config                    `mapstructure:"resume"`
	Transfer TransferConfig                   `mapstructure:"transfer"`
	Storages map[string]lighter.StorageConfig `mapstructure:"storages"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Env   string `mapstructure:"env" validate:"omitempty,oneof=dev prod production"`
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// AuthConfig holds gateway API-key configuration. With Enabled false the
// API is public.
type AuthConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	Keys    keystore.Config `mapstructure:"keys"`
}

// TransferConfig holds transfer engine tuning.
type TransferConfig struct {
	ChunkSize     int64 `mapstructure:"chunk_size" validate:"min=1"`
	DirectWorkers int   `mapstructure:"direct_workers" validate:"min=1"`
	ProxyWorkers  int   `mapstructure:"proxy_workers" validate:"min=1"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":          "server.port",
	"log-level":     "log.level",
	"resume-driver": "resume.driver",
	"resume-dsn":    "resume.dsn",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8647)

	v.SetDefault("log.env", "dev")
	v.SetDefault("log.level", "info")

	v.SetDefault("auth.enabled", false)

	v.SetDefault("resume.driver", resume.DriverMemory)

	v.SetDefault("transfer.chunk_size", transfer.DefaultChunkSize)
	v.SetDefault("transfer.direct_workers", transfer.DefaultDirectWorkers)
	v.SetDefault("transfer.proxy_workers", transfer.DefaultProxyWorkers)
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("LIGHTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// Storage entries validate fully at client construction; the kind is
	// checked here so a typo fails at boot instead of on first use.
	for id, storageCfg := range cfg.Storages {
		if !storageCfg.Kind.IsValid() {
			return nil, fmt.Errorf("storage %q: invalid storage kind %q: %w", id, storageCfg.Kind, lighter.ErrConfig)
		}
	}

	return &cfg, nil
}
