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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/proctree"
)

// Capture is the outcome of one before/after bracket.
// Capture 是一次前后快照比对的结果。
type Capture struct {
	BatchID string `json:"batch_id"`

	// Roots are the owned ancestors new processes were attributed to
	// Roots 是新进程被归属到的自有祖先进程
	Roots []int `json:"roots"`

	// Trees maps each root to the new pids (and their descendants) under it
	// Trees 记录每个根进程下的新进程及其子孙
	Trees map[int][]int `json:"trees"`

	// Rejected are new family pids that could not be traced to the application
	// Rejected 是无法追溯到本应用的新进程
	Rejected []int `json:"rejected,omitempty"`
}

// Empty reports whether nothing was attributed.
func (c *Capture) Empty() bool { return c == nil || len(c.Roots) == 0 }

// PIDs returns every attributed pid, roots excluded.
// PIDs 返回所有归属的进程 ID（不含根进程）。
func (c *Capture) PIDs() []int {
	set := proctree.PIDSet{}
	for _, tree := range c.Trees {
		for _, pid := range tree {
			set.Add(pid)
		}
	}
	return set.Sorted()
}

// CaptureToken holds the "before" snapshot taken by BeginCapture.
// CaptureToken 保存 BeginCapture 获取的"之前"快照。
type CaptureToken struct {
	sup     *Supervisor
	batchID string
	before  map[int]proctree.Process
	err     error
	taken   time.Time
}

// BatchID returns the batch the token belongs to.
func (t *CaptureToken) BatchID() string { return t.batchID }

// BeginCapture snapshots every live process of the family. It must be called
// immediately before the side-effecting operation that spawns processes.
// BeginCapture 获取资源族所有存活进程的快照，必须紧挨在会创建进程的操作之前调用。
func (s *Supervisor) BeginCapture(batchID string) *CaptureToken {
	tok := &CaptureToken{sup: s, batchID: batchID, taken: s.now()}
	before, err := s.resolver.SnapshotAll(s.family)
	if err != nil {
		s.logger.Error("Failed to take before-snapshot",
			zap.String("batch_id", batchID), zap.Error(err))
		tok.err = err
		return tok
	}
	tok.before = before
	s.logger.Debug("Capture started",
		zap.String("batch_id", batchID), zap.Int("before", len(before)))
	return tok
}

// Resolve waits the settle delay, takes the "after" snapshot and attributes
// every new family process to its nearest application-owned ancestor. New pids
// that cannot be traced back to the application are rejected with a warning.
// The attributed trees are merged into the batch record under one lock.
// Resolve 等待稳定延迟后获取"之后"快照，把每个新进程归属到最近的自有祖先进程；
// 无法追溯到本应用的新进程会被拒绝并记录警告。归属结果在一次加锁中合并进批次记录。
func (t *CaptureToken) Resolve(ctx context.Context) (*Capture, error) {
	s := t.sup
	if t.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, t.err)
	}

	if s.settleDelay > 0 {
		timer := time.NewTimer(s.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	procs, err := s.table.Processes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	log := s.logger.With(zap.String("batch_id", t.batchID))

	var fresh []int
	for _, p := range procs {
		if !s.family.Match(p.Name) {
			continue
		}
		old, seen := t.before[p.PID]
		// A pid present before with a different start stamp was recycled.
		if seen && (old.StartTime == 0 || old.StartTime == p.StartTime) {
			continue
		}
		fresh = append(fresh, p.PID)
	}

	trees := make(map[int]proctree.PIDSet)
	var rejected []int
	for _, pid := range fresh {
		root, ok := s.resolver.NearestOwnedAncestor(pid, s.appPID)
		if !ok {
			rejected = append(rejected, pid)
			continue
		}
		tree, exists := trees[root]
		if !exists {
			tree = proctree.PIDSet{}
			trees[root] = tree
		}
		tree.Add(pid)
		tree.Merge(proctree.DescendantsIn(procs, pid))
	}

	stamps := make(map[int]uint64)
	byPID := make(map[int]proctree.Process, len(procs))
	for _, p := range procs {
		byPID[p.PID] = p
	}
	for root, tree := range trees {
		if p, ok := byPID[root]; ok {
			stamps[root] = p.StartTime
		}
		for pid := range tree {
			if p, ok := byPID[pid]; ok {
				stamps[pid] = p.StartTime
			}
		}
	}

	if len(rejected) > 0 {
		log.Warn("New processes could not be attributed to this application",
			zap.Ints("pids", rejected))
		s.metrics.Rejected(s.family.Name, len(rejected))
	}
	if len(fresh) == 0 {
		log.Warn("No new processes appeared during capture",
			zap.Duration("window", s.now().Sub(t.taken)))
	}

	if !s.registry.Attach(t.batchID, trees, stamps) {
		log.Warn("Batch is not registered or already cleaned, discarding capture")
		return nil, ErrBatchNotFound
	}

	out := &Capture{
		BatchID:  t.batchID,
		Trees:    make(map[int][]int, len(trees)),
		Rejected: rejected,
	}
	roots := proctree.PIDSet{}
	attributed := 0
	for root, tree := range trees {
		roots.Add(root)
		out.Trees[root] = tree.Sorted()
		attributed += len(tree)
	}
	out.Roots = roots.Sorted()
	s.metrics.Attributed(s.family.Name, attributed)

	log.Info("Capture resolved",
		zap.Ints("roots", out.Roots), zap.Int("attributed", attributed))
	return out, nil
}
