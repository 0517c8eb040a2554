// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the data-provider's configuration
// and configures its zerolog logger, following the viper+mapstructure+
// validator layering used across the example pack.
package config

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	Server struct {
		Addr     string `validate:"omitempty,hostname_port"`
		BasePath string `mapstructure:"base-path"`
		GinMode  string `validate:"omitempty,oneof=debug release"`

		Logging struct {
			Enabled bool
			Level   string `validate:"oneof=debug info warn error disabled"`
			Format  string `validate:"oneof=json pretty"`

			AccessLog struct {
				Enabled          bool
				HideHealthChecks bool `mapstructure:"hide-health-checks"`
			} `mapstructure:"access-log"`
		}

		TLS struct {
			Enabled  bool
			CertFile string `mapstructure:"cert-file" validate:"omitempty,file"`
			KeyFile  string `mapstructure:"key-file" validate:"omitempty,file"`
		}
	}

	// Codec holds the decoder broker/transport's tuning knobs.
	Codec struct {
		TargetHost        string        `mapstructure:"target-host" validate:"required"`
		ResponseTimeout   time.Duration `mapstructure:"response-timeout" validate:"gt=0"`
		PendingBatchLimit int           `mapstructure:"pending-batch-limit" validate:"gt=0"`

		// UsePinAttributes is accepted and validated for configuration
		// parity with the upstream decoder's routing knob, but the codec
		// pool round-robins across every replica behind TargetHost and has
		// no message-router pins to attach attributes to, so it is never
		// consulted.
		UsePinAttributes bool `mapstructure:"use-pin-attributes"`

		RequestThreadPool   int           `mapstructure:"request-thread-pool" validate:"gt=0"`
		CallbackThreadPool  int           `mapstructure:"callback-thread-pool" validate:"gt=0"`
		PoolRefreshInterval time.Duration `mapstructure:"pool-refresh-interval" validate:"gt=0"`
	}

	// Search holds the streaming search engine's pipeline tuning knobs.
	Search struct {
		SendEmptyDelay time.Duration `mapstructure:"send-empty-delay" validate:"gt=0"`

		// SseEventSearchStep is accepted and validated alongside
		// SseSearchDelay, which is the knob actually driving the event
		// engine's keepOpen poll cadence (see eventsearch.Config.SearchDelay);
		// kept for configuration-surface parity, never consulted.
		SseEventSearchStep time.Duration `mapstructure:"sse-event-search-step" validate:"gt=0"`

		EventSearchChunkSize        int           `mapstructure:"event-search-chunk-size" validate:"gt=0"`
		KeepAliveTimeout            time.Duration `mapstructure:"keep-alive-timeout" validate:"gt=0"`
		EventSearchGap              time.Duration `mapstructure:"event-search-gap" validate:"gt=0"`
		DbRetryDelay                time.Duration `mapstructure:"db-retry-delay" validate:"gt=0"`
		DbRetryMaxAttempts          int           `mapstructure:"db-retry-max-attempts" validate:"gt=0"`
		SseSearchDelay              time.Duration `mapstructure:"sse-search-delay" validate:"gt=0"`
		MessageSearchPipelineBuffer int           `mapstructure:"message-search-pipeline-buffer" validate:"gt=0"`
		MaxMessagesLimit            int           `mapstructure:"max-messages-limit" validate:"gt=0"`
		LookupLimitDays             int           `mapstructure:"lookup-limit-days" validate:"gt=0"`
	}
}

func (cfg *Config) validate() error {
	return validator.New().Struct(cfg)
}

// DefaultConfig returns the configuration's defaults, overridden by
// viper-bound flags, environment variables and config file contents in
// NewConfig.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":4000"
	cfg.Server.BasePath = "/"
	cfg.Server.GinMode = "release"
	cfg.Server.Logging.Enabled = true
	cfg.Server.Logging.Level = "info"
	cfg.Server.Logging.Format = "json"
	cfg.Server.Logging.AccessLog.Enabled = true
	cfg.Server.Logging.AccessLog.HideHealthChecks = false

	cfg.Codec.TargetHost = "dataprovider-codec.default.svc.cluster.local:50051"
	cfg.Codec.ResponseTimeout = 10 * time.Second
	cfg.Codec.PendingBatchLimit = 256
	cfg.Codec.UsePinAttributes = false
	cfg.Codec.RequestThreadPool = 8
	cfg.Codec.CallbackThreadPool = 8
	cfg.Codec.PoolRefreshInterval = 30 * time.Second

	cfg.Search.SendEmptyDelay = 500 * time.Millisecond
	cfg.Search.SseEventSearchStep = 5 * time.Second
	cfg.Search.EventSearchChunkSize = 200
	cfg.Search.KeepAliveTimeout = 15 * time.Second
	cfg.Search.EventSearchGap = 2 * time.Second
	cfg.Search.DbRetryDelay = 200 * time.Millisecond
	cfg.Search.DbRetryMaxAttempts = 5
	cfg.Search.SseSearchDelay = 100 * time.Millisecond
	cfg.Search.MessageSearchPipelineBuffer = 64
	cfg.Search.MaxMessagesLimit = 1000
	cfg.Search.LookupLimitDays = 30

	return cfg
}

// NewConfig loads defaults, then an optional config file f (with env var
// expansion), then whatever v already has bound (flags, explicit Set
// calls), and validates the result — mirroring
// backend/common/config.NewConfig's layering.
func NewConfig(v *viper.Viper, f string) (*Config, error) {
	if f != "" {
		configBytes, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}

		configBytes = []byte(os.ExpandEnv(string(configBytes)))

		v.SetConfigType(filepath.Ext(f)[1:])
		if err := v.ReadConfig(bytes.NewBuffer(configBytes)); err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoggerOptions configures the global zerolog logger.
type LoggerOptions struct {
	Enabled bool
	Level   string
	Format  string
}

func ConfigureLogger(opts LoggerOptions) {
	if !opts.Enabled {
		zlog.Logger = zerolog.Nop()
		log.SetOutput(io.Discard)
		return
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		panic(err)
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == "pretty" {
		zlog.Logger = zlog.Logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
		})
	}
}
