package config

import (
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort              string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL"`
	DBAutoMigrate         bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	RedisAddr             string `env:"REDIS_ADDR"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix    string `env:"REDIS_CHANNEL_PREFIX" envDefault:"chat:events:"`
	JWTSecret             string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes   int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
	AttachmentBaseURL     string `env:"ATTACHMENT_BASE_URL"`
	SendRateWindowSeconds int    `env:"SEND_RATE_WINDOW_SECONDS" envDefault:"10"`
	SendRateMax           int    `env:"SEND_RATE_MAX" envDefault:"20"`
	HistoryPageSize       int    `env:"HISTORY_PAGE_SIZE" envDefault:"50"`
	NotifyQueue           string `env:"NOTIFY_QUEUE" envDefault:"notifications"`
	ProfileCacheTTLSecs   int    `env:"PROFILE_CACHE_TTL_SECONDS" envDefault:"300"`
	MetricsEnabled        bool   `env:"METRICS_ENABLED" envDefault:"true"`
	WSAllowedOrigins      string `env:"WS_ALLOWED_ORIGINS"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UsesPostgres indica si hay base configurada; sin ella el servicio corre sobre el store en memoria.
func (c *Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// AllowedOrigins separa WS_ALLOWED_ORIGINS por comas. Vacio significa cualquier origen.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.WSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
