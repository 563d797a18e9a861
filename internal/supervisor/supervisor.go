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

// Package supervisor tracks and terminates the process trees spawned on behalf
// of automation batches, without holding a handle to any spawned process.
// supervisor 包在不持有子进程句柄的情况下，跟踪并终止自动化批次所产生的进程树。
//
// Processes are attributed by diffing two snapshots of a resource family taken
// around the side-effecting operation, then keeping only new processes whose
// ancestor chain reaches this application.
// 通过对副作用操作前后两次资源族快照做差，并仅保留祖先链可追溯到本应用的新进程来完成归属。
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/metrics"
	"github.com/leonyoah/procwarden/internal/proctree"
)

// DefaultSettleDelay is the bounded wait between the side-effecting operation
// and the "after" snapshot, letting process creation finish.
// DefaultSettleDelay 是副作用操作与"之后"快照之间的固定等待，用于让进程创建完成。
const DefaultSettleDelay = 2 * time.Second

// Common errors for supervisor operations
// 监管器操作的常见错误
var (
	// ErrBatchNotFound indicates the batch is not registered (or already cleaned)
	// ErrBatchNotFound 表示批次未注册（或已清理）
	ErrBatchNotFound = errors.New("supervisor: batch not found")

	// ErrSnapshotFailed indicates the before-snapshot of a capture failed
	// ErrSnapshotFailed 表示捕获前的快照失败
	ErrSnapshotFailed = errors.New("supervisor: snapshot failed")
)

// Kill outcomes used for logging and metrics
// 终止结果，用于日志和指标
const (
	killOK       = "ok"
	killGone     = "gone"
	killRecycled = "recycled"
	killDenied   = "denied"
	killError    = "error"
)

// Options configures a Supervisor.
// Options 配置 Supervisor。
type Options struct {
	// Family is the executable family this supervisor owns (required)
	// Family 是该监管器负责的可执行文件族（必填）
	Family *proctree.Family

	// Table provides the OS primitives (required)
	// Table 提供操作系统原语（必填）
	Table proctree.Table

	// AppPID is the supervising application's pid, defaults to os.Getpid()
	// AppPID 是监管应用自身的 pid，默认为 os.Getpid()
	AppPID int

	// SettleDelay is the wait before the after-snapshot; negative disables it
	// SettleDelay 是"之后"快照前的等待时间，负数表示不等待
	SettleDelay time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock for tests
	// Now 用于测试时替换时钟
	Now func() time.Time
}

// Supervisor owns one registry for one resource family.
// Supervisor 为一个资源族维护一个批次注册表。
type Supervisor struct {
	family      *proctree.Family
	table       proctree.Table
	resolver    *proctree.Resolver
	registry    *Registry
	appPID      int
	settleDelay time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	sweeps atomic.Int64
}

// New creates a Supervisor.
// New 创建 Supervisor。
func New(opts Options) (*Supervisor, error) {
	if opts.Family == nil {
		return nil, fmt.Errorf("supervisor: family is required")
	}
	if opts.Table == nil {
		return nil, fmt.Errorf("supervisor: process table is required")
	}

	s := &Supervisor{
		family:      opts.Family,
		table:       opts.Table,
		resolver:    proctree.NewResolver(opts.Table),
		registry:    NewRegistry(),
		appPID:      opts.AppPID,
		settleDelay: opts.SettleDelay,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	if s.appPID <= 0 {
		s.appPID = os.Getpid()
	}
	if s.settleDelay == 0 {
		s.settleDelay = DefaultSettleDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = logger.OrNop(opts.Logger).With(zap.String("family", s.family.Name))
	return s, nil
}

// Family returns the resource family name.
func (s *Supervisor) Family() string { return s.family.Name }

// AppPID returns the pid treated as the owner of every batch.
func (s *Supervisor) AppPID() int { return s.appPID }

// Sweeps returns how many global fallback sweeps have run.
// Sweeps 返回已执行的全局兜底清理次数。
func (s *Supervisor) Sweeps() int64 { return s.sweeps.Load() }

// RegisterBatch creates an empty record for batchID. Registering an existing id
// is logged and ignored, so callers may retry freely.
// RegisterBatch 为 batchID 创建空记录。重复注册只记录日志并忽略，调用方可以安全重试。
func (s *Supervisor) RegisterBatch(batchID string) {
	if !s.registry.Register(batchID, s.now()) {
		s.logger.Warn("Batch already registered, ignoring", zap.String("batch_id", batchID))
		return
	}
	s.metrics.BatchRegistered(s.family.Name)
	s.logger.Debug("Batch registered", zap.String("batch_id", batchID))
}

// Batch returns the read-only view of a registered batch.
// Batch 返回已注册批次的只读视图。
func (s *Supervisor) Batch(batchID string) (BatchInfo, bool) {
	rec, ok := s.registry.Get(batchID)
	if !ok {
		return BatchInfo{}, false
	}
	return s.info(rec), true
}

// Batches returns every registered batch.
// Batches 返回全部已注册批次。
func (s *Supervisor) Batches() []BatchInfo {
	ids := s.registry.IDs()
	out := make([]BatchInfo, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.registry.Get(id); ok {
			out = append(out, s.info(rec))
		}
	}
	return out
}

// HasBatch reports whether batchID is registered.
func (s *Supervisor) HasBatch(batchID string) bool {
	return s.registry.Has(batchID)
}

func (s *Supervisor) info(rec BatchRecord) BatchInfo {
	trees := make(map[int][]int, len(rec.Trees))
	for root, tree := range rec.Trees {
		trees[root] = tree.Sorted()
	}
	return BatchInfo{
		ID:        rec.ID,
		Family:    s.family.Name,
		Roots:     rec.Roots.Sorted(),
		Trees:     trees,
		CreatedAt: rec.CreatedAt,
		Cleaning:  rec.cleaning,
	}
}

// CleanBatch kills every tree of the batch and then each root (never the
// application itself). It is idempotent: an unknown or already cleaned batch
// returns true. A pid that is already gone counts as success; a pid that
// survives because of permissions makes the result false. When force is set and
// the primary pass failed, a global sweep follows.
// CleanBatch 终止批次内每棵进程树及其根进程（绝不终止应用自身）。幂等：未知或已清理的批次返回 true。
// 已退出的进程视为成功；因权限无法终止的进程使结果为 false。force 为 true 且主清理失败时执行全局兜底清理。
func (s *Supervisor) CleanBatch(batchID string, force bool) bool {
	rec, claimed := s.registry.claim(batchID)
	if !claimed {
		s.logger.Debug("Batch already cleaned or unknown", zap.String("batch_id", batchID))
		return true
	}

	// One listing orders every tree children-first; without it the order
	// falls back to descending pid.
	// 通过一次进程列举确定子进程优先的顺序；列举失败时按 pid 降序。
	procs, err := s.table.Processes()
	if err != nil {
		s.logger.Warn("Could not list processes, killing in pid order",
			zap.String("batch_id", batchID), zap.Error(err))
	}

	ok := true
	roots := rec.Roots.Sorted()
	for _, root := range roots {
		for _, pid := range proctree.DeepestFirst(procs, rec.Trees[root].Sorted()) {
			if !s.killOne(pid, rec.StartTimes[pid], batchID) {
				ok = false
			}
		}
		if root == s.appPID {
			continue
		}
		if !s.killOne(root, rec.StartTimes[root], batchID) {
			ok = false
		}
	}

	s.registry.finish(batchID)

	fields := []zap.Field{
		zap.String("batch_id", batchID),
		zap.Ints("roots", roots),
		zap.Bool("ok", ok),
	}
	if ok {
		s.logger.Info("Batch cleaned", fields...)
		return true
	}

	s.logger.Warn("Batch cleanup incomplete", fields...)
	if force {
		s.Sweep()
	}
	return false
}

// CleanAll cleans every registered batch with force, then sweeps once more
// regardless of the individual outcomes. Used at shutdown.
// CleanAll 以 force 方式清理所有已注册批次，并无论结果如何再执行一次全局清理。用于应用退出。
func (s *Supervisor) CleanAll() bool {
	ok := true
	for _, id := range s.registry.IDs() {
		if !s.CleanBatch(id, true) {
			ok = false
		}
	}
	if !s.Sweep() {
		ok = false
	}
	return ok
}

// Sweep kills every live family process that descends from the application,
// children before parents. The owned set is fixed from a single listing before
// the first kill. Failures are logged, never returned as errors.
// Sweep 终止所有祖先链可追溯到本应用的资源族进程。失败只记录日志，不返回错误。
func (s *Supervisor) Sweep() bool {
	s.sweeps.Add(1)
	s.metrics.Sweep(s.family.Name)

	owned, err := s.resolver.Snapshot(s.family, s.appPID)
	if err != nil {
		s.logger.Error("Global sweep could not list processes", zap.Error(err))
		return false
	}

	ok := true
	killed := 0
	for _, p := range owned {
		if s.killOne(p.PID, p.StartTime, "") {
			killed++
		} else {
			ok = false
		}
	}

	if ok {
		s.logger.Info("Global sweep finished", zap.Int("killed", killed))
	} else {
		s.logger.Error("Global sweep left processes behind", zap.Int("killed", killed))
	}
	return ok
}

// killOne kills pid if it is still the process recorded at capture time.
// killOne 在 pid 仍是捕获时记录的进程时终止它。
func (s *Supervisor) killOne(pid int, startTime uint64, batchID string) bool {
	if pid <= 1 || pid == s.appPID {
		return true
	}

	result := s.kill(pid, startTime)
	s.metrics.Kill(s.family.Name, result)

	switch result {
	case killOK, killGone, killRecycled:
		if result == killRecycled {
			s.logger.Warn("Pid was recycled since capture, not killing",
				zap.String("batch_id", batchID), zap.Int("pid", pid))
		}
		return true
	default:
		s.logger.Warn("Failed to kill process",
			zap.String("batch_id", batchID), zap.Int("pid", pid), zap.String("result", result))
		return false
	}
}

func (s *Supervisor) kill(pid int, startTime uint64) string {
	if startTime != 0 {
		switch s.resolver.Check(pid, startTime) {
		case proctree.LivenessGone:
			return killGone
		case proctree.LivenessRecycled:
			return killRecycled
		}
	}

	err := s.table.Kill(pid)
	switch {
	case err == nil:
		return killOK
	case errors.Is(err, proctree.ErrNoProcess):
		return killGone
	case errors.Is(err, proctree.ErrPermission):
		return killDenied
	default:
		return killError
	}
}
