package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Cities      []string          `yaml:"cities" mapstructure:"cities"`
	Wikipedia   WikipediaConfig   `yaml:"wikipedia" mapstructure:"wikipedia"`
	Wikidata    WikidataConfig    `yaml:"wikidata" mapstructure:"wikidata"`
	OpenWeather OpenWeatherConfig `yaml:"openweather" mapstructure:"openweather"`
	AeroDataBox AeroDataBoxConfig `yaml:"aerodatabox" mapstructure:"aerodatabox"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// FetchConfig configures outbound HTTP behavior shared by all sources.
type FetchConfig struct {
	UserAgent    string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int      `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
	Cache        bool     `yaml:"cache" mapstructure:"cache"`
	SecretParams []string `yaml:"secret_params" mapstructure:"secret_params"`
}

// Timeout returns the per-request timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// WikipediaConfig holds the encyclopedic source endpoint.
type WikipediaConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// WikidataConfig holds the linked-data source endpoint.
type WikidataConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenWeatherConfig holds the forecast API settings.
type OpenWeatherConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AeroDataBoxConfig holds the airport/flight API settings.
type AeroDataBoxConfig struct {
	Key      string  `yaml:"key" mapstructure:"key"`
	Host     string  `yaml:"host" mapstructure:"host"`
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	RadiusKM float64 `yaml:"radius_km" mapstructure:"radius_km"`
	Limit    int     `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the run-trigger server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CITYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("fetch.user_agent", "citysync/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.cache", false)
	v.SetDefault("fetch.secret_params", []string{"appid", "apikey", "api_key", "key", "token", "access_token"})
	v.SetDefault("cities", []string{"Berlin", "Hamburg", "Munich"})
	v.SetDefault("wikipedia.base_url", "https://en.wikipedia.org/api/rest_v1")
	v.SetDefault("wikidata.base_url", "https://www.wikidata.org/wiki/Special:EntityData")
	v.SetDefault("openweather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("aerodatabox.base_url", "https://aerodatabox.p.rapidapi.com")
	v.SetDefault("aerodatabox.host", "aerodatabox.p.rapidapi.com")
	v.SetDefault("aerodatabox.radius_km", 25)
	v.SetDefault("aerodatabox.limit", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
