// Package config loads the bot configuration from an optional YAML file
// plus MP4BOT_-prefixed environment variables, with working defaults for
// everything but credentials.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mp4bot/internal/bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/probe"
	"mp4bot/internal/resolvers"
	"mp4bot/internal/transcode"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Bot       BotConfig       `mapstructure:"bot"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type BotConfig struct {
	Username                string        `mapstructure:"username"`
	AllowUpload             bool          `mapstructure:"allow_upload"`
	QueueSize               int           `mapstructure:"queue_size"`
	DrainTick               time.Duration `mapstructure:"drain_tick"`
	Mp4BiggerAllowedDomains []string      `mapstructure:"mp4_bigger_allowed_domains"`
}

type ProbeConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type PipelineConfig struct {
	GifSizeThreshold int64         `mapstructure:"gif_size_threshold"`
	Mp4ProbeAttempts int           `mapstructure:"mp4_probe_attempts"`
	PreviewAttempts  int           `mapstructure:"preview_attempts"`
	PreviewDelay     time.Duration `mapstructure:"preview_delay"`
	SuccessTTL       time.Duration `mapstructure:"success_ttl"`
	FailureTTL       time.Duration `mapstructure:"failure_ttl"`
}

type TranscodeConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	PollDelay time.Duration `mapstructure:"poll_delay"`
	MaxPolls  int           `mapstructure:"max_polls"`
}

type CacheConfig struct {
	// RedisURL switches the result cache from in-memory to redis.
	RedisURL  string `mapstructure:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	TrackingPath   string `mapstructure:"tracking_path"`
	ExceptionsPath string `mapstructure:"exceptions_path"`
}

// Load reads configuration from the given file (optional; "" skips the
// file) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("mp4bot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("bot.username", "mp4bot")
	v.SetDefault("bot.allow_upload", true)
	v.SetDefault("bot.queue_size", bot.DefaultQueueSize)
	v.SetDefault("bot.drain_tick", bot.DefaultDrainTick)
	v.SetDefault("bot.mp4_bigger_allowed_domains", []string{"tumblr.com"})

	v.SetDefault("probe.timeout", probe.DefaultTimeout)
	v.SetDefault("probe.max_redirects", probe.DefaultMaxRedirects)
	v.SetDefault("probe.retry_delay", probe.DefaultRetryDelay)

	v.SetDefault("pipeline.gif_size_threshold", pipeline.DefaultGifSizeThreshold)
	v.SetDefault("pipeline.mp4_probe_attempts", pipeline.DefaultMp4ProbeAttempts)
	v.SetDefault("pipeline.preview_attempts", resolvers.DefaultPreviewAttempts)
	v.SetDefault("pipeline.preview_delay", resolvers.DefaultPreviewDelay)
	v.SetDefault("pipeline.success_ttl", cache.DefaultSuccessTTL)
	v.SetDefault("pipeline.failure_ttl", cache.DefaultFailureTTL)

	v.SetDefault("transcode.base_url", transcode.DefaultBaseURL)
	v.SetDefault("transcode.poll_delay", transcode.DefaultPollDelay)
	v.SetDefault("transcode.max_polls", transcode.DefaultMaxPolls)

	v.SetDefault("cache.key_prefix", "mp4bot:")

	v.SetDefault("storage.tracking_path", "mp4bot.sqlite")
	v.SetDefault("storage.exceptions_path", "exceptions.db")
}
