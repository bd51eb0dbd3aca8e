package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Log     LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	// BusyTimeout bounds how long a writer waits on a locked database
	// before the conflict surfaces to the caller.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	// DefaultRoot is the project root used when no project is found above
	// the working directory. Empty disables the fallback.
	DefaultRoot string       `mapstructure:"default_root"`
	Mirror      MirrorConfig `mapstructure:"mirror"`
}

// MirrorConfig configures the optional Memgraph visualization mirror.
type MirrorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Listen    string  `mapstructure:"listen"`
	AuthToken string  `mapstructure:"auth_token"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	ReadOnly  bool    `mapstructure:"read_only"`
}

type IngestConfig struct {
	// Watch lists directories whose scan batch files are ingested by
	// `codegraph ingest` when no explicit path is given.
	Watch []string `mapstructure:"watch"`
}

// NotifyConfig configures ingest-run notifications. Stdout prints a
// one-line summary; Webhook posts the event JSON to the given URL with
// optional extra headers.
type NotifyConfig struct {
	Stdout  bool              `mapstructure:"stdout"`
	Webhook string            `mapstructure:"webhook"`
	Headers map[string]string `mapstructure:"headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".codegraph"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("codegraph")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CODEGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("storage.busy_timeout", "5s")
	viper.SetDefault("storage.default_root", "")
	viper.SetDefault("storage.mirror.enabled", false)
	viper.SetDefault("storage.mirror.uri", "bolt://localhost:7687")
	viper.SetDefault("server.listen", ":8435")
	viper.SetDefault("server.rate_limit", 50.0)
	viper.SetDefault("server.rate_burst", 100)
	viper.SetDefault("server.read_only", false)
	viper.SetDefault("notify.stdout", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
