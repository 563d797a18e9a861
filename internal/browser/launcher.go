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

// Package browser launches automation browsers inside a capture bracket, so
// every process the launch spawns is attributed to a batch.
// browser 包在捕获区间内启动自动化浏览器，使启动产生的所有进程都归属到批次。
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

// Default launch values
// 默认启动参数
const (
	DefaultNavigationTimeout = 60 * time.Second
)

// ErrClosed is returned by an Instance after Close.
var ErrClosed = errors.New("browser: instance closed")

// Options controls a browser launch.
// Options 控制浏览器启动参数。
type Options struct {
	Headless       bool          `json:"headless" mapstructure:"headless"`
	ExecutablePath string        `json:"executable_path" mapstructure:"executable_path"`
	Args           []string      `json:"args" mapstructure:"args"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Instance is a running browser with one page.
// Instance 是带有一个页面的运行中浏览器。
type Instance interface {
	// Goto navigates the page and returns the final URL.
	// Goto 导航页面并返回最终 URL。
	Goto(ctx context.Context, url string) (string, error)

	// Close releases the page, the browser and its driver.
	// Close 释放页面、浏览器及其驱动进程。
	Close() error
}

// Starter starts a browser. It is the side-effecting operation the launcher
// brackets with a capture.
// Starter 启动浏览器，是启动器用捕获区间包裹的副作用操作。
type Starter interface {
	Start(ctx context.Context, opts Options) (Instance, error)
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, opts Options) (Instance, error)

// Start calls f.
func (f StarterFunc) Start(ctx context.Context, opts Options) (Instance, error) { return f(ctx, opts) }

// Handle is a launched browser together with the processes it was attributed.
// Handle 是已启动的浏览器及其归属的进程。
type Handle struct {
	Instance

	BatchID  string
	Captures map[string]*supervisor.Capture
}

// Launcher starts browsers for batches registered with a supervisor group.
// Launcher 为在监管分组中注册的批次启动浏览器。
type Launcher struct {
	group   *supervisor.Group
	starter Starter
	logger  *zap.Logger
}

// NewLauncher creates a launcher. starter defaults to Playwright Chromium.
// NewLauncher 创建启动器，starter 默认为 Playwright Chromium。
func NewLauncher(group *supervisor.Group, starter Starter, log *zap.Logger) *Launcher {
	if starter == nil {
		starter = &PlaywrightStarter{}
	}
	return &Launcher{group: group, starter: starter, logger: logger.OrNop(log)}
}

// Launch starts a browser for batchID. The start is bracketed by a capture
// unless ctx already carries one for the same batch. Processes spawned by a
// failed start are still attributed, so cleaning the batch reclaims them.
// Launch 为 batchID 启动浏览器。除非 ctx 已处于同一批次的捕获区间，否则启动过程会被捕获。
// 启动失败时已产生的进程同样会被归属，清理批次即可回收。
func (l *Launcher) Launch(ctx context.Context, batchID string, opts Options) (*Handle, error) {
	log := l.logger.With(zap.String("batch_id", batchID))

	if supervisor.CaptureActive(ctx, batchID) {
		inst, err := l.starter.Start(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("browser: start: %w", err)
		}
		log.Debug("Browser started inside an enclosing capture")
		return &Handle{Instance: inst, BatchID: batchID}, nil
	}

	gc := l.group.BeginCapture(batchID)
	inst, startErr := l.starter.Start(supervisor.WithCapture(ctx, batchID), opts)
	captures, resolveErr := gc.Resolve(ctx)
	if resolveErr != nil {
		log.Warn("Capture around browser start was incomplete", zap.Error(resolveErr))
	}

	if startErr != nil {
		log.Error("Failed to start browser", zap.Error(startErr))
		return nil, fmt.Errorf("browser: start: %w", startErr)
	}

	attributed := 0
	for _, c := range captures {
		attributed += len(c.PIDs())
	}
	log.Info("Browser started", zap.Int("attributed", attributed), zap.Bool("headless", opts.Headless))
	return &Handle{Instance: inst, BatchID: batchID, Captures: captures}, nil
}
