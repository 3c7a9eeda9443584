package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/livecook/internal/domain"
)

// ICEServer is the config form of a STUN/TURN entry handed to clients.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendQueue      int           `mapstructure:"send_queue"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	HostPolicy     string        `mapstructure:"host_policy"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ChatRate       float64       `mapstructure:"chat_rate"`
	ChatBurst      int           `mapstructure:"chat_burst"`
	ICEServers     []ICEServer   `mapstructure:"ice_servers"`
}

// New returns a viper instance with defaults and env bindings applied. The
// CLI binds its flags into it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LIVECOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("history_limit", 100)
	v.SetDefault("host_policy", "reject")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("chat_rate", 5.0)
	v.SetDefault("chat_burst", 10)
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	return v
}

// Load reads file (or config/config.<CONFIG_ENV>.yaml when empty) into v and
// unmarshals the result. A missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
		log.Warn().Str("module", "config").Msg("no secret configured, guest cookies will not survive a restart")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("host_policy", cfg.HostPolicy).Dur("idle_timeout", cfg.IdleTimeout).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be positive"))
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.IdleTimeout {
		errs = append(errs, fmt.Errorf("ping_period %s must be positive and shorter than idle_timeout %s", c.PingPeriod, c.IdleTimeout))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("send_queue must be positive"))
	}
	if c.WriteWait <= 0 {
		errs = append(errs, errors.New("write_wait must be positive"))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > domain.DefaultHistoryLimit {
		errs = append(errs, fmt.Errorf("history_limit %d must be within 1..%d", c.HistoryLimit, domain.DefaultHistoryLimit))
	}
	return errors.Join(errs...)
}

// WebRTCICEServers converts the configured list for clients.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
