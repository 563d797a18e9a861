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
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/api"
	"github.com/leonyoah/procwarden/internal/browser"
	"github.com/leonyoah/procwarden/internal/config"
	"github.com/leonyoah/procwarden/internal/proctree/proctreetest"
	"github.com/leonyoah/procwarden/internal/session"
)

const appPID = 100

type fakePage struct {
	mu     sync.Mutex
	visits int
}

func (p *fakePage) Goto(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits++
	return url, nil
}

func (p *fakePage) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Supervisor.SettleDelay = -1
	cfg.Session.PollInterval = time.Millisecond
	cfg.Store.SQLitePath = t.TempDir() + "/procwarden.db"
	cfg.Store.LogLevel = "silent"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *proctreetest.Table, *fakePage) {
	t.Helper()
	tbl := proctreetest.New()
	tbl.Spawn(appPID, 1, "procwarden")
	page := &fakePage{}
	next := 300
	var mu sync.Mutex
	starter := browser.StarterFunc(func(ctx context.Context, opts browser.Options) (browser.Instance, error) {
		mu.Lock()
		defer mu.Unlock()
		tbl.Spawn(next, appPID, "node")
		tbl.Spawn(next+1, next, "chromium")
		next += 10
		return page, nil
	})
	app, err := NewApp(cfg, Deps{Table: tbl, Starter: starter, AppPID: appPID, Logger: zap.NewNop()})
	require.NoError(t, err)
	return app, tbl, page
}

// TestNewApp tests App creation from the default configuration
// TestNewApp 测试基于默认配置创建 App
func TestNewApp(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))
	defer app.Shutdown()

	assert.Equal(t, []string{"browser", "driver"}, app.group.Families())
	assert.NotNil(t, app.repo)
	assert.False(t, app.retrier.Policy().Enabled)

	deps := app.APIDeps()
	assert.NotNil(t, deps.History)
	assert.Equal(t, app, deps.Starter)
}

func TestNewApp_StoreDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false
	app, _, _ := newTestApp(t, cfg)
	defer app.Shutdown()

	assert.Nil(t, app.repo)
	assert.Nil(t, app.APIDeps().History)
}

func TestNewApp_InvalidFamily(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.Families = []config.FamilyConfig{{Name: "browser"}}
	_, err := NewApp(cfg, Deps{Table: proctreetest.New(), Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestApp_PlaylistSpec(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))
	defer app.Shutdown()

	urls := []string{"https://a.example", "https://b.example"}
	assert.Equal(t, 2, app.playlistSpec(PlaylistRequest{URLs: urls}).MaxIterations)
	assert.Equal(t, 5, app.playlistSpec(PlaylistRequest{URLs: urls, MaxIterations: 5}).MaxIterations)
	assert.Equal(t, session.Unbounded, app.playlistSpec(PlaylistRequest{URLs: urls, MaxIterations: 5, Loop: true}).MaxIterations)
}

// TestApp_RunPlaylist runs one pass and checks cleanup and history
// TestApp_RunPlaylist 运行一轮并检查清理和历史记录
func TestApp_RunPlaylist(t *testing.T) {
	app, tbl, page := newTestApp(t, testConfig(t))

	summary, err := app.RunPlaylist(context.Background(), PlaylistRequest{
		SessionID: "run-1",
		URLs:      []string{"https://a.example", "https://b.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Iterations)
	assert.Equal(t, session.ReasonMaxIterations, summary.Reason)
	assert.Equal(t, 2, page.visits)
	assert.False(t, tbl.Alive(300))
	assert.False(t, tbl.Alive(301))

	rec, err := app.repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, rec.CleanOK)
	assert.Equal(t, "playlist", rec.Scenario)

	assert.True(t, app.Shutdown())
}

// TestApp_StartAndShutdown tests background sessions stopped by Shutdown
// TestApp_StartAndShutdown 测试 Shutdown 停止后台会话
func TestApp_StartAndShutdown(t *testing.T) {
	app, tbl, _ := newTestApp(t, testConfig(t))

	id, err := app.Start(api.StartRequest{URLs: []string{"https://a.example"}, Loop: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		info, ok := app.runner.Info(id)
		return ok && info.Iterations > 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, tbl.Alive(301))

	assert.True(t, app.Shutdown())
	assert.False(t, tbl.Alive(300))
	assert.False(t, tbl.Alive(301))
	assert.Empty(t, app.runner.Sessions())

	_, err = app.Start(api.StartRequest{URLs: []string{"https://a.example"}})
	assert.Error(t, err, "no new sessions after shutdown")
	assert.True(t, app.Shutdown(), "shutdown is idempotent")
}

func TestApp_StartRequiresURLs(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))
	defer app.Shutdown()

	_, err := app.Start(api.StartRequest{})
	assert.Error(t, err)
}

func TestApp_Sweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false
	app, tbl, _ := newTestApp(t, cfg)
	defer app.Shutdown()

	tbl.Spawn(500, appPID, "chrome")
	tbl.Spawn(501, 1, "chrome")
	assert.True(t, app.Sweep())
	assert.False(t, tbl.Alive(500))
	assert.True(t, tbl.Alive(501), "processes outside this tree are left alone")
}

// TestCommands tests the registered subcommands
// TestCommands 测试已注册的子命令
func TestCommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "run", "sweep", "config", "version"} {
		assert.Contains(t, names, want)
	}

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Version:    "+Version)
}
