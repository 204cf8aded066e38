package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	TURN  TURN  `mapstructure:"turn"`
	SFU   SFU   `mapstructure:"sfu"`
	Calls Calls `mapstructure:"calls"`
	Store Store `mapstructure:"store"`
	NATS  NATS  `mapstructure:"nats"`
}

type TURN struct {
	Host   string        `mapstructure:"host"`
	Port   int           `mapstructure:"port"`
	Secret string        `mapstructure:"secret"`
	Realm  string        `mapstructure:"realm"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type SFU struct {
	URL       string        `mapstructure:"url"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Calls struct {
	RingTimeout         time.Duration `mapstructure:"ring_timeout"`
	GroupRingTimeout    time.Duration `mapstructure:"group_ring_timeout"`
	KeyRotationInterval time.Duration `mapstructure:"key_rotation_interval"`
	MaxParticipants     int           `mapstructure:"max_participants"`
	MaxDuration         time.Duration `mapstructure:"max_duration"`
	RateLimit           int           `mapstructure:"rate_limit"`
	RateWindow          time.Duration `mapstructure:"rate_window"`
}

type Store struct {
	Path string `mapstructure:"path"`
}

type NATS struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Credentials   string        `mapstructure:"credentials_file"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

const EnvPrefix = "SECURECALL"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("turn.host", "")
	v.SetDefault("turn.port", 3478)
	v.SetDefault("turn.secret", "")
	v.SetDefault("turn.realm", "securecall")
	v.SetDefault("turn.ttl", "1h")

	v.SetDefault("sfu.url", "")
	v.SetDefault("sfu.api_secret", "")
	v.SetDefault("sfu.timeout", "5s")

	v.SetDefault("calls.ring_timeout", "30s")
	v.SetDefault("calls.group_ring_timeout", "60s")
	v.SetDefault("calls.key_rotation_interval", "300s")
	v.SetDefault("calls.max_participants", 16)
	v.SetDefault("calls.max_duration", "1h")
	v.SetDefault("calls.rate_limit", 10)
	v.SetDefault("calls.rate_window", "1m")

	v.SetDefault("store.path", "securecall.db")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "securecall")
	v.SetDefault("nats.subject_prefix", "calls")
	v.SetDefault("nats.credentials_file", "")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", -1)
}

// Load reads config/config.<env>.yaml and applies SECURECALL_* environment
// overrides on top. An empty env falls back to CONFIG_ENV and then "dev".
func Load(env string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Bool("turn", cfg.TURN.Host != "").Bool("sfu", cfg.SFU.URL != "").Bool("nats", cfg.NATS.URL != "").
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.TURN.Host != "" && c.TURN.Secret == "":
		return fmt.Errorf("turn.secret is required when turn.host is set")
	case c.Mode == "release" && c.Secret == "":
		return fmt.Errorf("secret is required in release mode")
	case c.Calls.MaxParticipants < 2:
		return fmt.Errorf("calls.max_participants must be at least 2")
	case c.Calls.RateLimit < 1:
		return fmt.Errorf("calls.rate_limit must be positive")
	}
	return nil
}
