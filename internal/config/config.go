package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`
	Worker WorkerConfig `mapstructure:"worker"`
	Bolt   BoltConfig   `mapstructure:"bolt"`
	Uber   UberConfig   `mapstructure:"uber"`
	Heetch HeetchConfig `mapstructure:"heetch"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	HeetchEarnings string `mapstructure:"heetch_earnings"`
	LightSync      string `mapstructure:"light_sync"`
	HeavySync      string `mapstructure:"heavy_sync"`
}

type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

type BoltConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	AuthURL      string        `mapstructure:"auth_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PageLimit    int           `mapstructure:"page_limit"`
	MaxPages     int           `mapstructure:"max_pages"`
	MaxSpanDays  int           `mapstructure:"max_span_days"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

type UberConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	AuthURL      string        `mapstructure:"auth_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PageLimit    int           `mapstructure:"page_limit"`
	MaxPages     int           `mapstructure:"max_pages"`
	MaxSpanDays  int           `mapstructure:"max_span_days"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

type HeetchConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	LoginURL          string        `mapstructure:"login_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Phone             string        `mapstructure:"phone"`
	Password          string        `mapstructure:"password"`
	CookieTTL         time.Duration `mapstructure:"cookie_ttl"`
	AutomationTimeout time.Duration `mapstructure:"automation_timeout"`
	Headless          bool          `mapstructure:"headless"`
	LookbackWeeks     int           `mapstructure:"lookback_weeks"`
}

type SyncConfig struct {
	Orgs              []string `mapstructure:"orgs"`
	BatchWindowDays   int      `mapstructure:"batch_window_days"`
	HeavyLookbackDays int      `mapstructure:"heavy_lookback_days"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.heetch_earnings", "0 0 * * * *")
	v.SetDefault("cron.light_sync", "0 15 */6 * * *")
	v.SetDefault("cron.heavy_sync", "0 0 2 * * *")
	v.SetDefault("worker.pool_size", 2)
	v.SetDefault("worker.queue_size", 32)
	v.SetDefault("bolt.base_url", "https://node.bolt.eu/fleet-integration-gateway")
	v.SetDefault("bolt.auth_url", "https://oidc.bolt.eu/token")
	v.SetDefault("bolt.timeout", "20s")
	v.SetDefault("bolt.page_limit", 1000)
	v.SetDefault("bolt.max_pages", 50)
	v.SetDefault("bolt.max_span_days", 30)
	v.SetDefault("bolt.lookback_days", 480)
	v.SetDefault("uber.base_url", "https://api.uber.com")
	v.SetDefault("uber.auth_url", "https://auth.uber.com/oauth/v2/token")
	v.SetDefault("uber.scopes", []string{"fleet.drivers", "fleet.vehicles", "fleet.payments"})
	v.SetDefault("uber.timeout", "15s")
	v.SetDefault("uber.page_limit", 500)
	v.SetDefault("uber.max_pages", 50)
	v.SetDefault("uber.max_span_days", 31)
	v.SetDefault("uber.lookback_days", 365)
	v.SetDefault("heetch.base_url", "https://driver.heetch.com")
	v.SetDefault("heetch.login_url", "https://driver.heetch.com/login")
	v.SetDefault("heetch.timeout", "30s")
	v.SetDefault("heetch.cookie_ttl", "24h")
	v.SetDefault("heetch.automation_timeout", "120s")
	v.SetDefault("heetch.headless", true)
	v.SetDefault("heetch.lookback_weeks", 8)
	v.SetDefault("sync.batch_window_days", 7)
	v.SetDefault("sync.heavy_lookback_days", 30)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
