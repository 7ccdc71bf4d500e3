package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Database struct {
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DB_DSN" envDefault:"feedrelay.sqlite"`
	}

	Poller struct {
		TickInterval       time.Duration `env:"POLL_TICK_INTERVAL" envDefault:"60s"`
		TransientPause     time.Duration `env:"POLL_TRANSIENT_PAUSE" envDefault:"10s"`
		ServerErrorBackoff time.Duration `env:"POLL_SERVER_ERROR_BACKOFF" envDefault:"60s"`
		DedupRetention     time.Duration `env:"DEDUP_RETENTION" envDefault:"2160h"`
	}

	Fetch struct {
		Timeout      time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
		MaxRedirects int           `env:"FETCH_MAX_REDIRECTS" envDefault:"5"`
		UserAgent    string        `env:"FETCH_USER_AGENT" envDefault:"feedrelay/1.0 (+https://github.com/fiffu/feedrelay)"`
	}

	Stream struct {
		URL               string        `env:"STREAM_URL"`
		LookupURL         string        `env:"STREAM_LOOKUP_URL"`
		Token             string        `env:"STREAM_TOKEN"`
		WebBase           string        `env:"STREAM_WEB_BASE" envDefault:"https://twitter.com"`
		ReconnectCooldown time.Duration `env:"STREAM_RECONNECT_COOLDOWN" envDefault:"120s"`
		ReadTimeout       time.Duration `env:"STREAM_READ_TIMEOUT" envDefault:"90s"`
	}

	Dispatch struct {
		Workers        int           `env:"DISPATCH_WORKERS" envDefault:"4"`
		QueueCap       int           `env:"DISPATCH_QUEUE_CAP" envDefault:"128"`
		DeliverTimeout time.Duration `env:"DISPATCH_DELIVER_TIMEOUT" envDefault:"15s"`
		RetryInitial   time.Duration `env:"DISPATCH_RETRY_INITIAL" envDefault:"1s"`
		RetryMax       int           `env:"DISPATCH_RETRY_MAX" envDefault:"3"`
	}

	DefaultSinkPlatform string `env:"DEFAULT_SINK_PLATFORM" envDefault:"discord"`

	Discord struct {
		WebhookBase string `env:"DISCORD_WEBHOOK_BASE" envDefault:"https://discord.com/api/webhooks"`
		Username    string `env:"DISCORD_USERNAME" envDefault:"feedrelay"`
	}

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		APIBase     string `env:"MAILGUN_API_BASE"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Panic(err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "development" {
			cfg.log.Sugar().Infof("%s (API auth is disabled in development env)", err)
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

// Default returns the configuration with every envDefault applied and nothing read from the environment.
func Default() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) StreamEnabled() bool {
	return cfg.Stream.URL != ""
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
