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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/leonyoah/procwarden/internal/api"
	"github.com/leonyoah/procwarden/internal/browser"
	"github.com/leonyoah/procwarden/internal/config"
	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/metrics"
	"github.com/leonyoah/procwarden/internal/proctree"
	"github.com/leonyoah/procwarden/internal/retry"
	"github.com/leonyoah/procwarden/internal/runner"
	"github.com/leonyoah/procwarden/internal/scenario/playlist"
	"github.com/leonyoah/procwarden/internal/session"
	"github.com/leonyoah/procwarden/internal/store"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

// shutdownWait bounds how long Shutdown waits for running sessions
const shutdownWait = 30 * time.Second

// Deps overrides the OS-facing components, mainly for tests
// Deps 用于替换与操作系统交互的组件，主要用于测试
type Deps struct {
	Table   proctree.Table
	Starter browser.Starter
	AppPID  int
	Logger  *zap.Logger
}

// App wires every component of procwarden together
// App 将 procwarden 的所有组件组装在一起
type App struct {
	// config holds the loaded configuration
	// config 保存已加载的配置
	config *config.Config

	// ctx is the parent context of background sessions
	// ctx 是后台会话的父上下文
	ctx    context.Context
	cancel context.CancelFunc

	logger   *zap.Logger
	metrics  *metrics.Metrics
	group    *supervisor.Group
	db       *gorm.DB
	repo     *store.Repository
	retrier  *retry.Retrier
	runner   *runner.Runner
	launcher *browser.Launcher

	// wg tracks sessions started in the background
	// wg 跟踪后台启动的会话
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewApp builds the full component stack from cfg
// NewApp 根据配置构建完整的组件栈
func NewApp(cfg *config.Config, deps Deps) (*App, error) {
	log := deps.Logger
	if log == nil {
		l, err := logger.New(logger.Options{
			Level:       cfg.Log.Level,
			File:        cfg.Log.File,
			MaxSize:     cfg.Log.MaxSize,
			MaxBackups:  cfg.Log.MaxBackups,
			MaxAge:      cfg.Log.MaxAge,
			Development: cfg.Log.Development,
		})
		if err != nil {
			return nil, err
		}
		log = l
	}

	table := deps.Table
	if table == nil {
		t, err := proctree.NewSystemTable()
		if err != nil {
			return nil, err
		}
		table = t
	}
	appPID := deps.AppPID
	if appPID <= 0 {
		appPID = os.Getpid()
	}

	m := metrics.New()

	// One supervisor per configured family / 每个资源族一个监管器
	sups := make([]*supervisor.Supervisor, 0, len(cfg.Supervisor.Families))
	for _, fc := range cfg.Supervisor.Families {
		family, err := proctree.NewFamily(fc.Name, fc.Patterns...)
		if err != nil {
			return nil, err
		}
		sup, err := supervisor.New(supervisor.Options{
			Family:      family,
			Table:       table,
			AppPID:      appPID,
			SettleDelay: cfg.Supervisor.SettleDelay,
			Logger:      log,
			Metrics:     m,
		})
		if err != nil {
			return nil, err
		}
		sups = append(sups, sup)
	}
	group, err := supervisor.NewGroup(sups...)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:  cfg,
		logger:  log,
		metrics: m,
		group:   group,
	}

	var history runner.History
	if cfg.Store.Enabled {
		db, err := store.Open(cfg.Store, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.db = db
		a.repo = store.NewRepository(db)
		history = a.repo
	}

	a.retrier = retry.New(retry.Policy{
		Enabled:    cfg.Retry.Enabled,
		Delay:      cfg.Retry.Delay,
		MaxRetries: cfg.Retry.MaxRetries,
		TimeWindow: cfg.Retry.TimeWindow,
		Cooldown:   cfg.Retry.Cooldown,
	}, log)

	a.runner, err = runner.New(runner.Options{
		Group:                 group,
		History:               history,
		Retrier:               a.retrier,
		Logger:                log,
		Metrics:               m,
		PollInterval:          cfg.Session.PollInterval,
		MaxIterations:         cfg.Session.MaxIterations,
		StallThresholds:       cfg.Stall.Thresholds,
		DefaultStallThreshold: cfg.Stall.Default,
	})
	if err != nil {
		a.closeStore()
		return nil, err
	}

	starter := deps.Starter
	if starter == nil {
		starter = &browser.PlaywrightStarter{Install: cfg.Browser.Install}
	}
	a.launcher = browser.NewLauncher(group, starter, log)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// PlaylistRequest describes a playlist session
// PlaylistRequest 描述一个播放列表会话
type PlaylistRequest struct {
	SessionID     string
	URLs          []string
	Dwell         time.Duration
	MaxIterations int
	Loop          bool
}

// playlistSpec builds the runner spec of a playlist. Without Loop and an
// explicit bound the session stops after one pass over the URLs.
func (a *App) playlistSpec(req PlaylistRequest) runner.Spec {
	maxIter := req.MaxIterations
	switch {
	case req.Loop:
		maxIter = session.Unbounded
	case maxIter == 0:
		maxIter = len(req.URLs)
	}

	bc := a.config.Browser
	return runner.Spec{
		Name:          playlist.Name,
		SessionID:     req.SessionID,
		MaxIterations: maxIter,
		Factory: playlist.Factory(playlist.Config{
			URLs:  req.URLs,
			Dwell: req.Dwell,
			Browser: browser.Options{
				Headless:       bc.Headless,
				ExecutablePath: bc.ExecutablePath,
				Args:           bc.Args,
				Timeout:        bc.Timeout,
			},
		}, a.launcher),
	}
}

// RunPlaylist runs a playlist session in the foreground
// RunPlaylist 在前台运行一个播放列表会话
func (a *App) RunPlaylist(ctx context.Context, req PlaylistRequest) (session.Summary, error) {
	return a.runner.Run(ctx, a.playlistSpec(req))
}

// Start implements api.Starter: it runs a playlist in the background
// Start 实现 api.Starter：在后台运行播放列表会话
func (a *App) Start(req api.StartRequest) (string, error) {
	if len(req.URLs) == 0 {
		return "", playlist.ErrNoURLs
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", errors.New("procwarden is shutting down")
	}

	id := uuid.NewString()
	preq := PlaylistRequest{
		SessionID:     id,
		URLs:          req.URLs,
		Dwell:         req.DwellDuration,
		MaxIterations: req.MaxIterations,
		Loop:          req.Loop,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.RunPlaylist(a.ctx, preq); err != nil {
			a.logger.Warn("Background session ended with error", zap.String("session_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// APIDeps returns the components served by the control API
// APIDeps 返回控制接口使用的组件
func (a *App) APIDeps() api.Deps {
	deps := api.Deps{
		Runner:  a.runner,
		Group:   a.group,
		Starter: a,
		Metrics: a.metrics,
		Logger:  a.logger,
	}
	if a.repo != nil {
		deps.History = a.repo
	}
	return deps
}

// Serve runs the control API until ctx is cancelled
// Serve 运行控制接口直到 ctx 被取消
func (a *App) Serve(ctx context.Context) error {
	if !a.config.API.Enabled {
		a.logger.Info("Control API disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}
	return api.Serve(ctx, a.config.API.Listen, api.NewRouter(a.APIDeps()), a.logger)
}

// Sweep runs the global fallback sweep of every family
// Sweep 对所有资源族执行全局兜底清理
func (a *App) Sweep() bool {
	return a.group.Sweep()
}

// Shutdown terminates running sessions, cleans every batch and closes the store
// Shutdown 终止运行中的会话、清理所有批次并关闭存储
func (a *App) Shutdown() bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return true
	}
	a.closed = true
	a.mu.Unlock()

	n := a.runner.TerminateAll("shutdown")
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownWait):
		a.logger.Warn("Timeout waiting for sessions to stop")
	}

	ok := a.group.CleanAll()
	a.closeStore()
	a.logger.Info("Shutdown complete", zap.Int("terminated", n), zap.Bool("clean_ok", ok))
	_ = a.logger.Sync()
	return ok
}

func (a *App) closeStore() {
	if a.db == nil {
		return
	}
	if err := store.Close(a.db); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
	a.db = nil
}
