package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	Secret         string        `mapstructure:"secret"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Backpressure   string        `mapstructure:"backpressure"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateInterval   time.Duration `mapstructure:"rate_interval"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Heartbeat      Heartbeat     `mapstructure:"heartbeat"`
	Billing        Billing       `mapstructure:"billing"`
	Sweeper        Sweeper       `mapstructure:"sweeper"`
	Postgres       Postgres      `mapstructure:"postgres"`
	Payments       Payments      `mapstructure:"payments"`
	Notify         Notify        `mapstructure:"notify"`
	WebRTC         WebRTC        `mapstructure:"webrtc"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type Heartbeat struct {
	Interval  time.Duration `mapstructure:"interval"`
	MaxMissed int           `mapstructure:"max_missed"`
}

type Billing struct {
	TickPeriod time.Duration `mapstructure:"tick_period"`
	Currency   string        `mapstructure:"currency"`
	SessionFee string        `mapstructure:"session_fee"`
	GiftFee    string        `mapstructure:"gift_fee"`
}

type Sweeper struct {
	Schedule      string        `mapstructure:"schedule"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	MaxSessionAge time.Duration `mapstructure:"max_session_age"`
}

type Postgres struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Payments struct {
	BaseURL   string        `mapstructure:"base_url"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Notify struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type WebRTC struct {
	ICEServers     []string `mapstructure:"ice_servers"`
	TURNServers    string   `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3002)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "liveroom-dev-secret")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("shutdown_grace", "10s")

	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("heartbeat.max_missed", 2)

	v.SetDefault("billing.tick_period", "1m")
	v.SetDefault("billing.currency", "usd")
	v.SetDefault("billing.session_fee", "0.15")
	v.SetDefault("billing.gift_fee", "0.10")

	v.SetDefault("sweeper.schedule", "*/5 * * * *")
	v.SetDefault("sweeper.stale_after", "30m")
	v.SetDefault("sweeper.max_session_age", "2h")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("payments.base_url", "https://api.stripe.com")
	v.SetDefault("payments.secret_key", "")
	v.SetDefault("payments.timeout", "15s")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.secret", "")
	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.turn_servers", "")
	v.SetDefault("webrtc.turn_username", "")
	v.SetDefault("webrtc.turn_credential", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of defaults.
// Any key can be overridden with LIVEROOM_<KEY>, e.g. LIVEROOM_POSTGRES_DSN.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("LIVEROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Env: %s\n", cfg.Mode, cfg.Port, env)
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.MaxMissed < 1 {
		c.Heartbeat.MaxMissed = 1
	}
	if c.Billing.TickPeriod <= 0 {
		return fmt.Errorf("billing.tick_period must be positive")
	}
	return nil
}
