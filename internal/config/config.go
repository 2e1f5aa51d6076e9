package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"poc.db"`

	Auth     Auth     `envPrefix:"AUTH_"`
	Univapay Univapay `envPrefix:"UNIVAPAY_"`
}

type Univapay struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.univapay.com"`
	AppToken      string        `env:"APP_TOKEN"`
	AppSecret     string        `env:"APP_SECRET"`
	StoreID       string        `env:"STORE_ID"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	HTTPRetries   int           `env:"HTTP_RETRIES" envDefault:"2"`
	// TokenTTL bounds how long a widget transaction token stays consumable
	// after it is first presented to the engine.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"5m"`

	Poll Poll `envPrefix:"POLL_"`
}

type Poll struct {
	Enable      bool          `env:"ENABLE" envDefault:"true"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"30s"`
	Concurrency int           `env:"CONCURRENCY" envDefault:"4"`
	RPS         float64       `env:"RPS" envDefault:"5"`
	// StaleAfter is how many consecutive no-progress polls a payment gets
	// before it is flagged for manual review and dropped from the sweep.
	StaleAfter int `env:"STALE_AFTER" envDefault:"20"`
}

type Auth struct {
	SecretKey string        `env:"SECRET_KEY" envDefault:"dev-secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
