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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Group holds one Supervisor per resource family, so that "browser" and
// "browser-helper" batches are tracked and swept independently.
// Group 为每个资源族维护一个 Supervisor，使不同资源族的批次独立跟踪与清理。
type Group struct {
	mu   sync.RWMutex
	sups map[string]*Supervisor
}

// NewGroup creates a group from the given supervisors. Duplicate families are rejected.
// NewGroup 基于给定的监管器创建分组，资源族名重复时返回错误。
func NewGroup(sups ...*Supervisor) (*Group, error) {
	g := &Group{sups: make(map[string]*Supervisor, len(sups))}
	for _, s := range sups {
		if err := g.Add(s); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add registers a supervisor under its family name.
func (g *Group) Add(s *Supervisor) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.sups[s.Family()]; exists {
		return fmt.Errorf("supervisor: family %q already in group", s.Family())
	}
	g.sups[s.Family()] = s
	return nil
}

// Get returns the supervisor of a family.
// Get 返回指定资源族的监管器。
func (g *Group) Get(family string) (*Supervisor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sups[family]
	return s, ok
}

// Families returns the family names in sorted order.
func (g *Group) Families() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.sups))
	for name := range g.sups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *Group) each(fn func(*Supervisor)) {
	for _, name := range g.Families() {
		if s, ok := g.Get(name); ok {
			fn(s)
		}
	}
}

// RegisterBatch registers batchID with every family.
// RegisterBatch 在所有资源族中注册批次。
func (g *Group) RegisterBatch(batchID string) {
	g.each(func(s *Supervisor) { s.RegisterBatch(batchID) })
}

// CleanBatch cleans batchID in every family and reports whether all succeeded.
// CleanBatch 在所有资源族中清理批次，全部成功时返回 true。
func (g *Group) CleanBatch(batchID string, force bool) bool {
	ok := true
	g.each(func(s *Supervisor) {
		if !s.CleanBatch(batchID, force) {
			ok = false
		}
	})
	return ok
}

// CleanAll runs CleanAll on every family.
// CleanAll 对所有资源族执行 CleanAll。
func (g *Group) CleanAll() bool {
	ok := true
	g.each(func(s *Supervisor) {
		if !s.CleanAll() {
			ok = false
		}
	})
	return ok
}

// Sweep runs the global fallback sweep on every family.
func (g *Group) Sweep() bool {
	ok := true
	g.each(func(s *Supervisor) {
		if !s.Sweep() {
			ok = false
		}
	})
	return ok
}

// Batches lists the batches of every family.
// Batches 列出所有资源族的批次。
func (g *Group) Batches() []BatchInfo {
	var out []BatchInfo
	g.each(func(s *Supervisor) { out = append(out, s.Batches()...) })
	return out
}

// HasBatch reports whether any family still holds batchID.
func (g *Group) HasBatch(batchID string) bool {
	found := false
	g.each(func(s *Supervisor) {
		if s.HasBatch(batchID) {
			found = true
		}
	})
	return found
}

// GroupCapture brackets one operation across every family of a group.
// GroupCapture 在分组内所有资源族上同时进行一次捕获。
type GroupCapture struct {
	batchID string
	tokens  map[string]*CaptureToken
}

// BeginCapture takes the before-snapshot of every family.
// BeginCapture 获取所有资源族的"之前"快照。
func (g *Group) BeginCapture(batchID string) *GroupCapture {
	gc := &GroupCapture{batchID: batchID, tokens: make(map[string]*CaptureToken)}
	g.each(func(s *Supervisor) { gc.tokens[s.Family()] = s.BeginCapture(batchID) })
	return gc
}

// Resolve resolves every family concurrently, so the settle delay is paid once.
// Families that fail are left out of the result and their errors are joined.
// Resolve 并发解析所有资源族，稳定延迟只等待一次。失败的资源族不出现在结果中，错误会被合并返回。
func (gc *GroupCapture) Resolve(ctx context.Context) (map[string]*Capture, error) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		out  = make(map[string]*Capture, len(gc.tokens))
		errs []error
	)
	for family, tok := range gc.tokens {
		wg.Add(1)
		go func(family string, tok *CaptureToken) {
			defer wg.Done()
			c, err := tok.Resolve(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", family, err))
				return
			}
			out[family] = c
		}(family, tok)
	}
	wg.Wait()
	return out, errors.Join(errs...)
}

type captureKey struct{}

// WithCapture marks ctx as running inside a capture bracket for batchID, so
// nested launchers can skip bracketing the same batch again.
// WithCapture 标记 ctx 处于 batchID 的捕获区间内，嵌套的启动器可以跳过重复捕获。
func WithCapture(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, captureKey{}, batchID)
}

// CaptureActive reports whether ctx is inside a capture bracket for batchID.
func CaptureActive(ctx context.Context, batchID string) bool {
	id, ok := ctx.Value(captureKey{}).(string)
	return ok && id == batchID
}
