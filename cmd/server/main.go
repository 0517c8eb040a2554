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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chronobase/dataprovider/internal/codec"
	"github.com/chronobase/dataprovider/internal/config"
	"github.com/chronobase/dataprovider/internal/httpapi"
	"github.com/chronobase/dataprovider/internal/metrics"
	"github.com/chronobase/dataprovider/internal/store"
	"github.com/chronobase/dataprovider/internal/store/faketest"
)

// CLI holds the flags validated before the command runs.
type CLI struct {
	Addr    string `validate:"omitempty,hostname_port"`
	Config  string `validate:"omitempty,file"`
	GinMode string `validate:"omitempty,oneof=debug release"`
}

func main() {
	var cli CLI
	var params []string

	cmd := cobra.Command{
		Use:   "dataprovider-server",
		Short: "Data Provider search server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validator.New().Struct(cli)
		},
		Run: func(cmd *cobra.Command, args []string) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer close(quit)

			v := viper.New()
			v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
			v.BindPFlag("server.gin-mode", cmd.Flags().Lookup("gin-mode"))

			for _, param := range params {
				split := strings.SplitN(param, ":", 2)
				if len(split) == 2 {
					v.Set(split[0], split[1])
				}
			}

			cfg, err := config.NewConfig(v, cli.Config)
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}

			config.ConfigureLogger(config.LoggerOptions{
				Enabled: cfg.Server.Logging.Enabled,
				Level:   cfg.Server.Logging.Level,
				Format:  cfg.Server.Logging.Format,
			})

			reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

			// No backing columnar store ships in this repository (writing
			// records and query-planner internals are out of scope here);
			// the retry-decorated in-memory store.Gateway double stands in
			// so the HTTP surface above it is fully runnable end to end.
			// A real deployment swaps this
			// for a Gateway backed by whatever database holds the
			// messages/events, without touching any other component.
			var gateway store.Gateway = store.NewRetryingGateway(
				faketest.New(), cfg.Search.DbRetryDelay, cfg.Search.DbRetryMaxAttempts,
			)

			targetHost, targetPort, err := splitHostPort(cfg.Codec.TargetHost)
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}

			pool := codec.NewPool(targetHost, cfg.Codec.PoolRefreshInterval, func(ctx context.Context, addr string) (codec.Transport, error) {
				return codec.DialTransport(ctx, addr+":"+targetPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
			})
			if err := pool.Start(context.Background()); err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}

			broker := codec.NewBroker(pool, reg, codec.BrokerConfig{
				ResponseTimeout:  cfg.Codec.ResponseTimeout,
				MaxPending:       cfg.Codec.PendingBatchLimit,
				SenderPoolSize:   cfg.Codec.RequestThreadPool,
				CallbackPoolSize: cfg.Codec.CallbackThreadPool,
			})
			brokerCtx, cancelBroker := context.WithCancel(context.Background())
			broker.Start(brokerCtx)
			converter := codec.NewConverter(broker)

			app := httpapi.NewApp(cfg, gateway, converter, reg)

			server := http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      app,
				IdleTimeout:  1 * time.Minute,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			go func() {
				var serverErr error
				zlog.Info().Msg("Starting server on " + cfg.Server.Addr)

				if cfg.Server.TLS.Enabled {
					serverErr = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
				} else {
					serverErr = server.ListenAndServe()
				}

				if serverErr != nil && serverErr != http.ErrServerClosed {
					zlog.Fatal().Caller().Err(serverErr).Send()
				}
			}()

			<-quit

			zlog.Info().Msg("Starting graceful shutdown...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			done := make(chan struct{})
			go func() {
				if err := server.Shutdown(ctx); err != nil {
					zlog.Error().Err(err).Send()
				}
				close(done)
			}()

			cancelBroker()
			broker.Stop()
			pool.Stop()

			select {
			case <-done:
				zlog.Info().Msg("Completed graceful shutdown")
			case <-ctx.Done():
				zlog.Info().Msg("Exceeded deadline, exiting now")
			}
		},
	}

	flagset := cmd.Flags()
	flagset.SortFlags = false
	flagset.StringVarP(&cli.Config, "config", "c", "", "Path to configuration file (e.g. \"/etc/dataprovider/config.yaml\")")
	flagset.StringVarP(&cli.Addr, "addr", "a", ":4000", "Host address to bind to")
	flagset.StringVar(&cli.GinMode, "gin-mode", "release", "Gin mode (release, debug)")
	flagset.StringArrayVarP(&params, "param", "p", []string{}, "Config params")

	if err := cmd.Execute(); err != nil {
		zlog.Fatal().Caller().Err(err).Send()
	}
}

// splitHostPort separates the codec target's DNS host from its port,
// since the pool resolves the host to one address per replica and
// redials each at the same port.
func splitHostPort(target string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(target)
	if err != nil {
		return "", "", fmt.Errorf("invalid codec target host %q: %w", target, err)
	}
	return host, port, nil
}
