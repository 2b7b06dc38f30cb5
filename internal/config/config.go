package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreBuntDB   = "buntdb"

	envPrefix = "DXPCHAT"
)

type Config struct {
	ServerAddr        string   `mapstructure:"addr"`
	Store             string   `mapstructure:"store"`
	DatabaseDSN       string   `mapstructure:"dsn"`
	BuntDBPath        string   `mapstructure:"buntdb_path"`
	AuthMode          string   `mapstructure:"auth_mode"`
	SigningSecret     string   `mapstructure:"signing_key"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	RedisAddr         string   `mapstructure:"redis_addr"`
	HistoryLimit      int      `mapstructure:"history_limit"`
	SendQueueSize     int      `mapstructure:"send_queue_size"`
	ReportFrameErrors bool     `mapstructure:"report_frame_errors"`
	LogLevel          string   `mapstructure:"log_level"`

	// SigningKey is the decoded signing secret.
	SigningKey []byte `mapstructure:"-"`
}

// FlagSet returns the flags understood by the server. Flag names use "-"
// and are normalized to the "_" separated config keys.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	fs.String("addr", ":8000", "HTTP listen address")
	fs.String("store", StorePostgres, "message store: postgres or buntdb")
	fs.String("dsn", "", "Postgres connection string")
	fs.String("buntdb-path", "dxp-chat.db", "buntdb file, or :memory:")
	fs.String("auth-mode", "jwt", "credential type: jwt or token")
	fs.String("signing-key", "", "base64 encoded JWT signing secret")
	fs.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "origins allowed to connect")
	fs.String("redis-addr", "", "Redis address used to relay events between instances")
	fs.Int("history-limit", 0, "messages replayed when a room is opened, 0 for all")
	fs.Int("send-queue-size", 256, "outbound events buffered per connection")
	fs.Bool("report-frame-errors", false, "send error frames for rejected client frames")
	fs.String("log-level", "info", "log level")
	fs.SetNormalizeFunc(NormalizeFlagName)
	return fs
}

// NormalizeFlagName maps dashed flag names onto config keys.
func NormalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// NewViper returns a viper instance reading flags, DXPCHAT_* environment
// variables and, when configPath is set, a config file.
func NewViper(flags *pflag.FlagSet, configPath string) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	return v, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig builds and validates the configuration held by v.
func NewConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case StoreBuntDB:
		if cfg.BuntDBPath == "" {
			return nil, fmt.Errorf("buntdb path cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	switch cfg.AuthMode {
	case "jwt":
		if cfg.SigningSecret == "" {
			return nil, fmt.Errorf("signing secret cannot be empty")
		}
		signingKey, err := decodeSigningSecret(cfg.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = signingKey
	case "token":
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}

	if cfg.HistoryLimit < 0 {
		return nil, fmt.Errorf("history limit cannot be negative")
	}
	if cfg.SendQueueSize <= 0 {
		return nil, fmt.Errorf("send queue size must be positive")
	}

	return &cfg, nil
}
