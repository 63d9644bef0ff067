package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// Config is the runtime configuration for the reward engine, loaded from
// config.yaml with environment variable overrides.
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		EnableTracing  bool   `mapstructure:"ENABLE_TRACING"`
		EnableMetrics  bool   `mapstructure:"ENABLE_METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Abuse AbuseConfig `mapstructure:"ABUSE"`
	Stats struct {
		CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	} `mapstructure:"STATS"`
}

// AbuseConfig holds the tunable thresholds of the detection pipeline. The
// account-age cutoff and the author-concentration parameters are deliberately
// configuration, not constants; product has not pinned their exact values.
type AbuseConfig struct {
	MinAccountAge            time.Duration `mapstructure:"MIN_ACCOUNT_AGE"`
	MaxVotesPerHour          int64         `mapstructure:"MAX_VOTES_PER_HOUR"`
	MaxVotesPerDay           int64         `mapstructure:"MAX_VOTES_PER_DAY"`
	MaxCreditsPerHour        int64         `mapstructure:"MAX_CREDITS_PER_HOUR"`
	MaxSameIPVotesPerDay     int64         `mapstructure:"MAX_SAME_IP_VOTES_PER_DAY"`
	MaxVotersPerIP           int64         `mapstructure:"MAX_VOTERS_PER_IP"`
	MaxVotersPerUserAgent    int64         `mapstructure:"MAX_VOTERS_PER_USER_AGENT"`
	RapidVoteCount           int           `mapstructure:"RAPID_VOTE_COUNT"`
	RapidVoteSpan            time.Duration `mapstructure:"RAPID_VOTE_SPAN"`
	MechanicalSampleSize     int           `mapstructure:"MECHANICAL_SAMPLE_SIZE"`
	MechanicalJitter         time.Duration `mapstructure:"MECHANICAL_JITTER"`
	MinVotesOnAuthor         int64         `mapstructure:"MIN_VOTES_ON_AUTHOR"`
	AuthorConcentrationRatio float64       `mapstructure:"AUTHOR_CONCENTRATION_RATIO"`
	RecentVoteSample         int           `mapstructure:"RECENT_VOTE_SAMPLE"`
	RuleCacheTTL             time.Duration `mapstructure:"RULE_CACHE_TTL"`
}

// DefaultAbuseConfig returns the pipeline thresholds used when the config file
// leaves them unset.
func DefaultAbuseConfig() AbuseConfig {
	return AbuseConfig{
		MinAccountAge:            7 * 24 * time.Hour,
		MaxVotesPerHour:          20,
		MaxVotesPerDay:           100,
		MaxCreditsPerHour:        10,
		MaxSameIPVotesPerDay:     50,
		MaxVotersPerIP:           5,
		MaxVotersPerUserAgent:    5,
		RapidVoteCount:           5,
		RapidVoteSpan:            30 * time.Second,
		MechanicalSampleSize:     6,
		MechanicalJitter:         2 * time.Second,
		MinVotesOnAuthor:         8,
		AuthorConcentrationRatio: 0.7,
		RecentVoteSample:         20,
		RuleCacheTTL:             time.Minute,
	}
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	a := &cfg.Abuse
	def := DefaultAbuseConfig()
	if a.MinAccountAge == 0 {
		a.MinAccountAge = def.MinAccountAge
	}
	if a.MaxVotesPerHour == 0 {
		a.MaxVotesPerHour = def.MaxVotesPerHour
	}
	if a.MaxVotesPerDay == 0 {
		a.MaxVotesPerDay = def.MaxVotesPerDay
	}
	if a.MaxCreditsPerHour == 0 {
		a.MaxCreditsPerHour = def.MaxCreditsPerHour
	}
	if a.MaxSameIPVotesPerDay == 0 {
		a.MaxSameIPVotesPerDay = def.MaxSameIPVotesPerDay
	}
	if a.MaxVotersPerIP == 0 {
		a.MaxVotersPerIP = def.MaxVotersPerIP
	}
	if a.MaxVotersPerUserAgent == 0 {
		a.MaxVotersPerUserAgent = def.MaxVotersPerUserAgent
	}
	if a.RapidVoteCount == 0 {
		a.RapidVoteCount = def.RapidVoteCount
	}
	if a.RapidVoteSpan == 0 {
		a.RapidVoteSpan = def.RapidVoteSpan
	}
	if a.MechanicalSampleSize == 0 {
		a.MechanicalSampleSize = def.MechanicalSampleSize
	}
	if a.MechanicalJitter == 0 {
		a.MechanicalJitter = def.MechanicalJitter
	}
	if a.MinVotesOnAuthor == 0 {
		a.MinVotesOnAuthor = def.MinVotesOnAuthor
	}
	if a.AuthorConcentrationRatio == 0 {
		a.AuthorConcentrationRatio = def.AuthorConcentrationRatio
	}
	if a.RecentVoteSample == 0 {
		a.RecentVoteSample = def.RecentVoteSample
	}
	if a.RuleCacheTTL == 0 {
		a.RuleCacheTTL = def.RuleCacheTTL
	}

	if cfg.Stats.CacheTTL == 0 {
		cfg.Stats.CacheTTL = 30 * time.Second
	}
}
