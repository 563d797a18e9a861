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

package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonyoah/procwarden/internal/proctree"
	"github.com/leonyoah/procwarden/internal/proctree/proctreetest"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

const appPID = 100

type fakeInstance struct {
	visited []string
	closed  bool
}

func (f *fakeInstance) Goto(ctx context.Context, url string) (string, error) {
	if f.closed {
		return "", ErrClosed
	}
	f.visited = append(f.visited, url)
	return url, nil
}

func (f *fakeInstance) Close() error {
	f.closed = true
	return nil
}

func newGroup(t *testing.T) (*proctreetest.Table, *supervisor.Group) {
	t.Helper()
	tbl := proctreetest.New()
	tbl.Spawn(appPID, 1, "procwarden")
	var sups []*supervisor.Supervisor
	for name, pattern := range map[string]string{"browser": "chrom*", "browser-driver": "node"} {
		s, err := supervisor.New(supervisor.Options{
			Family:      proctree.MustFamily(name, pattern),
			Table:       tbl,
			AppPID:      appPID,
			SettleDelay: -1,
		})
		require.NoError(t, err)
		sups = append(sups, s)
	}
	g, err := supervisor.NewGroup(sups...)
	require.NoError(t, err)
	return tbl, g
}

// spawningStarter simulates a driver that spawns a browser with one helper.
func spawningStarter(tbl *proctreetest.Table, fail error) StarterFunc {
	return func(ctx context.Context, opts Options) (Instance, error) {
		tbl.Spawn(200, appPID, "node")
		tbl.Spawn(300, 200, "chromium")
		if fail != nil {
			return nil, fail
		}
		tbl.Spawn(301, 300, "chromium")
		return &fakeInstance{}, nil
	}
}

// TestLauncher_Launch tests attribution of a browser start
// TestLauncher_Launch 测试浏览器启动进程的归属
func TestLauncher_Launch(t *testing.T) {
	tbl, g := newGroup(t)
	g.RegisterBatch("B1")
	l := NewLauncher(g, spawningStarter(tbl, nil), nil)

	h, err := l.Launch(context.Background(), "B1", Options{Headless: true})
	require.NoError(t, err)
	assert.Equal(t, "B1", h.BatchID)
	assert.Equal(t, []int{200}, h.Captures["browser-driver"].PIDs())
	assert.Equal(t, []int{300, 301}, h.Captures["browser"].PIDs())

	final, err := h.Goto(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", final)
	require.NoError(t, h.Close())

	assert.True(t, g.CleanBatch("B1", true))
	for _, pid := range []int{200, 300, 301} {
		assert.False(t, tbl.Alive(pid))
	}
}

// TestLauncher_FailedStartIsStillAttributed tests that a half-started browser is reclaimable
// TestLauncher_FailedStartIsStillAttributed 测试启动失败时已产生的进程仍被归属
func TestLauncher_FailedStartIsStillAttributed(t *testing.T) {
	tbl, g := newGroup(t)
	g.RegisterBatch("B1")
	boom := errors.New("chromium crashed")
	l := NewLauncher(g, spawningStarter(tbl, boom), nil)

	_, err := l.Launch(context.Background(), "B1", Options{})
	assert.ErrorIs(t, err, boom)

	assert.True(t, g.CleanBatch("B1", true))
	assert.False(t, tbl.Alive(200))
	assert.False(t, tbl.Alive(300))
}

// TestLauncher_NestedCapture tests that an enclosing capture is not repeated
// TestLauncher_NestedCapture 测试外层已有捕获时不重复捕获
func TestLauncher_NestedCapture(t *testing.T) {
	tbl, g := newGroup(t)
	g.RegisterBatch("B1")

	var sawMarker bool
	l := NewLauncher(g, StarterFunc(func(ctx context.Context, opts Options) (Instance, error) {
		sawMarker = supervisor.CaptureActive(ctx, "B1")
		tbl.Spawn(300, appPID, "chromium")
		return &fakeInstance{}, nil
	}), nil)

	outer := g.BeginCapture("B1")
	h, err := l.Launch(supervisor.WithCapture(context.Background(), "B1"), "B1", Options{})
	require.NoError(t, err)
	assert.Nil(t, h.Captures)
	assert.True(t, sawMarker)

	captures, err := outer.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{300}, captures["browser"].PIDs())
}

// TestLauncher_UnregisteredBatch tests launching for a batch that was never registered
// TestLauncher_UnregisteredBatch 测试为未注册批次启动浏览器
func TestLauncher_UnregisteredBatch(t *testing.T) {
	tbl, g := newGroup(t)
	l := NewLauncher(g, spawningStarter(tbl, nil), nil)

	h, err := l.Launch(context.Background(), "ghost", Options{})
	require.NoError(t, err, "a capture problem does not fail the launch")
	assert.Empty(t, h.Captures)
}

func TestNewLauncher_DefaultStarter(t *testing.T) {
	_, g := newGroup(t)
	l := NewLauncher(g, nil, nil)
	_, ok := l.starter.(*PlaywrightStarter)
	assert.True(t, ok)
}
