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

// Package httpapi exposes the two search endpoints over gin-gonic:
// "/search/events" and "/search/messages", each translating its query
// string into a model.SearchRequest and driving the matching engine
// through an sse.Writer.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/codec"
	"github.com/chronobase/dataprovider/internal/config"
	"github.com/chronobase/dataprovider/internal/eventsearch"
	"github.com/chronobase/dataprovider/internal/messageextract"
	"github.com/chronobase/dataprovider/internal/messagesearch"
	"github.com/chronobase/dataprovider/internal/metrics"
	"github.com/chronobase/dataprovider/internal/sse"
	"github.com/chronobase/dataprovider/internal/store"
)

// App is the gin application serving the data provider's HTTP/SSE
// surface.
type App struct {
	*gin.Engine
	cfg         *config.Config
	eventEngine *eventsearch.Engine
	msgEngine   *messagesearch.Engine
}

// NewApp builds the gin application: request-id + access-log middleware
// on every route, gzip only on the bounded "/healthz" route (the search
// routes are SSE and must not be buffered by a compressing writer), and
// the two search endpoints wired to their engines.
func NewApp(cfg *config.Config, gateway store.Gateway, converter *codec.Converter, reg *metrics.Registry) *App {
	app := &App{
		Engine: gin.New(),
		cfg:    cfg,
		eventEngine: eventsearch.New(gateway, reg, eventsearch.Config{
			PipelineBuffer: cfg.Search.MessageSearchPipelineBuffer,
			Gap:            cfg.Search.EventSearchGap,
			SearchDelay:    cfg.Search.SseSearchDelay,
		}),
		msgEngine: messagesearch.New(gateway, converter, messagesearch.Config{
			Extract: messageextract.Config{
				SendEmptyDelay: cfg.Search.SendEmptyDelay,
				ChunkSize:      cfg.Search.EventSearchChunkSize,
			},
			MergeBuffer:      cfg.Search.MessageSearchPipelineBuffer,
			EndInclusive:     true,
			MaxMessagesLimit: cfg.Search.MaxMessagesLimit,
		}),
	}

	app.Use(gin.Recovery())
	app.Use(requestid.New())
	if cfg.Server.Logging.AccessLog.Enabled {
		app.Use(loggingMiddleware(cfg.Server.Logging.AccessLog.HideHealthChecks))
	}

	root := app.Group(cfg.Server.BasePath)

	bounded := root.Group("/")
	bounded.Use(gzip.Gzip(gzip.DefaultCompression))
	bounded.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{app: app}
	root.GET("/search/events", h.searchEvents)
	root.GET("/search/messages", h.searchMessages)

	return app
}

type handlers struct {
	app *App
}

// searchEvents handles GET /search/events.
func (h *handlers) searchEvents(c *gin.Context) {
	req, err := parseEventSearchRequest(c, h.app.cfg)
	if err != nil {
		abortInvalid(c, err)
		return
	}

	writer, err := sse.NewWriter(c.Request.Context(), c.Writer, h.app.cfg.Search.KeepAliveTimeout)
	if err != nil {
		abortInvalid(c, err)
		return
	}

	runErr := h.app.eventEngine.Run(c.Request.Context(), req, writer)
	closeWriter(writer, runErr)
}

// searchMessages handles GET /search/messages.
func (h *handlers) searchMessages(c *gin.Context) {
	req, err := parseMessageSearchRequest(c, h.app.cfg)
	if err != nil {
		abortInvalid(c, err)
		return
	}

	writer, err := sse.NewWriter(c.Request.Context(), c.Writer, h.app.cfg.Search.KeepAliveTimeout)
	if err != nil {
		abortInvalid(c, err)
		return
	}

	runErr := h.app.msgEngine.Run(c.Request.Context(), req, writer)
	closeWriter(writer, runErr)
}

func abortInvalid(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apierr.HTTPStatus(apierr.InvalidRequest), gin.H{
		"error": err.Error(),
	})
}

func closeWriter(w *sse.Writer, runErr error) {
	if runErr != nil {
		_ = w.WriteError(runErr)
		_ = w.Close("error")
		return
	}
	_ = w.Close("completed")
}

// loggingMiddleware is the access-log middleware generalized from
// backend/server/internal/ginapp/middleware.go's loggingMiddleware.
func loggingMiddleware(hideHealthChecks bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now().UTC()

		requestId := requestid.Get(c)
		logger := zlog.With().Str("request_id", requestId).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Next()

		if hideHealthChecks && c.Request.URL.Path == "/healthz" {
			return
		}

		m := logger.Info()
		m.Str("event_type", "Access")
		m.Time("request_ts", t0)
		m.Str("remote_addr", c.Request.RemoteAddr)
		m.Str("method", c.Request.Method)
		m.Str("path", c.Request.URL.Path)
		m.Str("raw_query", c.Request.URL.RawQuery)
		m.Str("user_agent", c.Request.Header.Get("User-Agent"))
		m.Int("status_code", c.Writer.Status())
		m.Dur("duration_ms", time.Since(t0))
		m.Send()
	}
}
