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

// Package playlist is a sample scenario that visits a list of pages in a
// launched browser, dwelling on each one.
// playlist 包是一个示例场景：在启动的浏览器中依次访问页面列表，并在每个页面停留。
package playlist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/browser"
	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/runner"
	"github.com/leonyoah/procwarden/internal/session"
)

// Name is the scenario name recorded in history.
const Name = "playlist"

// ProgressKey is the progress key reported after each visit.
const ProgressKey = "playback"

// PageLoadKey is reported when a page load starts and when it finishes. The
// value is odd while a load is in flight.
const PageLoadKey = "page_load"

var (
	// ErrNoURLs is returned by ValidateEnv for an empty playlist.
	// ErrNoURLs 表示播放列表为空。
	ErrNoURLs = errors.New("playlist: no URLs configured")
	// ErrNotPrepared is returned by PollOnce before Prepare succeeded.
	// ErrNotPrepared 表示 Prepare 尚未成功。
	ErrNotPrepared = errors.New("playlist: browser not launched")
)

// Navigator opens pages. *browser.Handle implements it.
// Navigator 负责打开页面，*browser.Handle 实现了该接口。
type Navigator interface {
	Goto(ctx context.Context, url string) (string, error)
	Close() error
}

// Launcher starts a browser for a batch. *browser.Launcher implements it.
// Launcher 为批次启动浏览器，*browser.Launcher 实现了该接口。
type Launcher interface {
	Launch(ctx context.Context, batchID string, opts browser.Options) (*browser.Handle, error)
}

// Config describes a playlist.
// Config 描述播放列表。
type Config struct {
	URLs    []string
	Dwell   time.Duration
	Browser browser.Options
}

// Scenario visits Config.URLs in order, wrapping around at the end.
// Scenario 按顺序访问 Config.URLs，到末尾后从头开始。
type Scenario struct {
	cfg      Config
	env      runner.Env
	launcher Launcher
	logger   *zap.Logger

	mu      sync.Mutex
	nav     Navigator
	visited int
}

// New creates a playlist scenario for one session.
// New 为一个会话创建播放列表场景。
func New(cfg Config, launcher Launcher, env runner.Env) *Scenario {
	return &Scenario{
		cfg:      cfg,
		env:      env,
		launcher: launcher,
		logger:   logger.OrNop(env.Logger),
	}
}

// Factory returns a runner factory building playlist scenarios.
// Factory 返回构建播放列表场景的运行器工厂。
func Factory(cfg Config, launcher Launcher) func(runner.Env) (session.Scenario, error) {
	return func(env runner.Env) (session.Scenario, error) {
		return New(cfg, launcher, env), nil
	}
}

// ValidateEnv checks that every URL is an absolute http(s) URL.
// ValidateEnv 检查所有 URL 均为绝对的 http(s) 地址。
func (s *Scenario) ValidateEnv(ctx context.Context) error {
	if len(s.cfg.URLs) == 0 {
		return ErrNoURLs
	}
	for _, raw := range s.cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("playlist: invalid URL %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("playlist: URL %q must be absolute http or https", raw)
		}
	}
	return nil
}

// Prepare launches the browser for the session's batch.
// Prepare 为会话所属批次启动浏览器。
func (s *Scenario) Prepare(ctx context.Context) error {
	h, err := s.launcher.Launch(ctx, s.env.BatchID, s.cfg.Browser)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nav = h
	s.mu.Unlock()
	return nil
}

// PollOnce opens the next page, reports progress and dwells on it. A
// cancelled dwell is not an error; the session machine records the cancellation.
// PollOnce 打开下一个页面、上报进度并停留。停留期间被取消不视为错误。
func (s *Scenario) PollOnce(ctx context.Context) error {
	s.mu.Lock()
	nav := s.nav
	loads := s.visited
	target := s.cfg.URLs[loads%len(s.cfg.URLs)]
	s.mu.Unlock()
	if nav == nil {
		return ErrNotPrepared
	}

	s.report(PageLoadKey, int64(2*loads+1))
	final, err := nav.Goto(ctx, target)
	if err != nil {
		return fmt.Errorf("playlist: open %s: %w", target, err)
	}

	s.mu.Lock()
	s.visited++
	visited := s.visited
	s.mu.Unlock()

	s.logger.Debug("Page opened", zap.String("url", target), zap.String("final_url", final), zap.Int("visited", visited))
	s.report(PageLoadKey, int64(2*visited))
	s.report(ProgressKey, int64(visited))

	if s.cfg.Dwell > 0 {
		timer := time.NewTimer(s.cfg.Dwell)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return nil
}

func (s *Scenario) report(key string, value int64) {
	if s.env.Progress != nil {
		s.env.Progress(key, value)
	}
}

// Visited returns how many pages were opened.
func (s *Scenario) Visited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited
}

// Close closes the browser, if one was launched.
// Close 关闭已启动的浏览器。
func (s *Scenario) Close() error {
	s.mu.Lock()
	nav := s.nav
	s.nav = nil
	s.mu.Unlock()
	if nav == nil {
		return nil
	}
	return nav.Close()
}
