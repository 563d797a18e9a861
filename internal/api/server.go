/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the local HTTP control surface: live sessions, tracked
// batches, run history and Prometheus metrics.
// api 包提供本地 HTTP 控制接口：运行中的会话、跟踪的批次、运行历史与 Prometheus 指标。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/metrics"
	"github.com/leonyoah/procwarden/internal/runner"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// Deps are the components served by the API.
// Deps 是接口依赖的组件。
type Deps struct {
	Runner  *runner.Runner
	Group   *supervisor.Group
	History HistoryReader
	Starter Starter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
// NewRouter 构建注册了所有路由的 gin 引擎。
func NewRouter(deps Deps) *gin.Engine {
	log := logger.OrNop(deps.Logger)
	h := &Handler{
		runner:  deps.Runner,
		group:   deps.Group,
		history: deps.History,
		starter: deps.Starter,
		logger:  log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), loggerMiddleware(log))

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	// API V1
	apiV1Router := r.Group("/api/v1")
	{
		apiV1Router.GET("/health", h.Health)

		// Sessions
		sessionRouter := apiV1Router.Group("/sessions")
		{
			sessionRouter.GET("", h.ListSessions)
			sessionRouter.POST("", h.StartSession)
			sessionRouter.GET("/:id", h.GetSession)
			sessionRouter.POST("/:id/pause", h.PauseSession)
			sessionRouter.POST("/:id/resume", h.ResumeSession)
			sessionRouter.POST("/:id/terminate", h.TerminateSession)
		}

		// Batches
		batchRouter := apiV1Router.Group("/batches")
		{
			batchRouter.GET("", h.ListBatches)
			batchRouter.POST("/clean-all", h.CleanAll)
			batchRouter.DELETE("/:id", h.CleanBatch)
		}
		apiV1Router.POST("/sweep", h.Sweep)

		// History
		historyRouter := apiV1Router.Group("/history")
		{
			historyRouter.GET("", h.ListHistory)
			historyRouter.GET("/:id", h.GetHistory)
		}
	}
	return r
}

// loggerMiddleware logs each request with zap
// loggerMiddleware 使用 zap 记录每个请求
func loggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("HTTP request", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
// Serve 在 addr 上运行 handler，ctx 取消后优雅关闭。
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Control API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("Control API stopped")
	return nil
}
