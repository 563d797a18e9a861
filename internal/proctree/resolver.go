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

package proctree

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultMaxDepth bounds ancestor walks so a corrupted or cyclic parent chain
// cannot loop forever.
// DefaultMaxDepth 限制祖先链遍历深度，防止异常的父子链导致死循环。
const DefaultMaxDepth = 256

// Resolver answers parent/child questions against a process table.
// Resolver 基于进程表回答父子关系问题。
type Resolver struct {
	table    Table
	maxDepth int
}

// NewResolver creates a Resolver over the given table.
// NewResolver 基于给定进程表创建 Resolver。
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table, maxDepth: DefaultMaxDepth}
}

// Table returns the underlying process table.
func (r *Resolver) Table() Table { return r.table }

// Descendants enumerates every recursive child of pid, excluding pid itself.
// A pid that no longer exists yields an empty set rather than an error.
// Descendants 递归枚举 pid 的全部子孙进程（不含自身）。
// 如果 pid 已不存在，返回空集合而不是错误。
func (r *Resolver) Descendants(pid int) PIDSet {
	procs, err := r.table.Processes()
	if err != nil {
		return PIDSet{}
	}
	return DescendantsIn(procs, pid)
}

// DescendantsIn computes the descendant set of pid within a process listing.
// DescendantsIn 在给定进程列表中计算 pid 的子孙集合。
func DescendantsIn(procs []Process, pid int) PIDSet {
	children := make(map[int][]int, len(procs))
	present := false
	for _, p := range procs {
		if p.PID == pid {
			present = true
		}
		if p.PID == p.PPID {
			continue
		}
		children[p.PPID] = append(children[p.PPID], p.PID)
	}

	out := PIDSet{}
	if !present {
		return out
	}

	queue := []int{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if child == pid || out.Has(child) {
				continue
			}
			out.Add(child)
			queue = append(queue, child)
		}
	}
	return out
}

// ancestors walks the parent chain of pid upward. It stops at appPID
// (reached=true), at pid 0/1, on a cycle, or on a failed lookup.
func (r *Resolver) ancestors(pid, appPID int) (chain []int, reached bool) {
	seen := NewPIDSet(pid)
	cur := pid
	for depth := 0; depth < r.maxDepth; depth++ {
		p, err := r.table.Process(cur)
		if err != nil {
			// The process exited mid-walk; ownership cannot be proven.
			// 遍历中进程退出，无法证明归属。
			return chain, false
		}
		parent := p.PPID
		if parent == appPID {
			return append(chain, parent), true
		}
		if parent <= 1 || seen.Has(parent) {
			return chain, false
		}
		seen.Add(parent)
		chain = append(chain, parent)
		cur = parent
	}
	return chain, false
}

// IsDescendantOf reports whether pid's parent chain reaches appPID. Any
// lookup failure during the walk yields false: unattributable processes are
// never assumed to be owned.
// IsDescendantOf 判断 pid 的祖先链是否到达 appPID。
// 遍历过程中任何查询失败都返回 false：无法归属的进程绝不被视为自有进程。
func (r *Resolver) IsDescendantOf(pid, appPID int) bool {
	if pid <= 0 || pid == appPID {
		return false
	}
	_, reached := r.ancestors(pid, appPID)
	return reached
}

// NearestOwnedAncestor returns the closest ancestor of pid that is appPID or a
// descendant of appPID. ok is false when pid cannot be attributed to appPID.
// NearestOwnedAncestor 返回 pid 最近的、属于 appPID（或其子孙）的祖先进程。
func (r *Resolver) NearestOwnedAncestor(pid, appPID int) (root int, ok bool) {
	if pid <= 0 || pid == appPID {
		return 0, false
	}
	chain, reached := r.ancestors(pid, appPID)
	if !reached || len(chain) == 0 {
		return 0, false
	}
	// Every ancestor on a chain that reaches appPID is itself owned, so the
	// nearest one is the direct parent.
	return chain[0], true
}

// SnapshotAll returns every live process that belongs to the family, keyed by pid.
// SnapshotAll 返回属于该资源族的全部存活进程（按 pid 索引）。
func (r *Resolver) SnapshotAll(family *Family) (map[int]Process, error) {
	procs, err := r.table.Processes()
	if err != nil {
		return nil, fmt.Errorf("proctree: list processes: %w", err)
	}
	out := make(map[int]Process)
	for _, p := range procs {
		if family.Match(p.Name) {
			out[p.PID] = p
		}
	}
	return out, nil
}

// Snapshot returns the live family processes that descend from appPID,
// deepest first. Ownership is decided on one listing, so killing a parent
// later cannot hide its children from the result.
// Snapshot 基于同一次进程列举返回属于该资源族且为 appPID 子孙的进程，按深度从深到浅排序。
func (r *Resolver) Snapshot(family *Family, appPID int) ([]Process, error) {
	procs, err := r.table.Processes()
	if err != nil {
		return nil, fmt.Errorf("proctree: list processes: %w", err)
	}
	owned := DescendantsIn(procs, appPID)
	byPID := make(map[int]Process, len(owned))
	pids := make([]int, 0, len(owned))
	for _, p := range procs {
		if p.PID != appPID && owned.Has(p.PID) && family.Match(p.Name) {
			byPID[p.PID] = p
			pids = append(pids, p.PID)
		}
	}
	out := make([]Process, 0, len(pids))
	for _, pid := range DeepestFirst(procs, pids) {
		out = append(out, byPID[pid])
	}
	return out, nil
}

// DeepestFirst orders pids so that every process comes before its ancestors,
// using the parent links of procs. Depth ties, and pids missing from the
// listing, fall back to descending pid.
// DeepestFirst 按进程列表中的父子关系排序，保证子进程排在祖先之前。
func DeepestFirst(procs []Process, pids []int) []int {
	parent := make(map[int]int, len(procs))
	for _, p := range procs {
		parent[p.PID] = p.PPID
	}
	depth := make(map[int]int, len(pids))
	for _, pid := range pids {
		d := 0
		cur := pid
		seen := NewPIDSet(pid)
		for d < DefaultMaxDepth {
			ppid, ok := parent[cur]
			if !ok || ppid <= 1 || seen.Has(ppid) {
				break
			}
			seen.Add(ppid)
			cur = ppid
			d++
		}
		depth[pid] = d
	}

	out := append([]int(nil), pids...)
	sort.SliceStable(out, func(i, j int) bool {
		if depth[out[i]] != depth[out[j]] {
			return depth[out[i]] > depth[out[j]]
		}
		return out[i] > out[j]
	})
	return out
}

// Liveness is the state of a recorded pid at check time.
type Liveness int

const (
	// LivenessUnknown means the lookup failed for a reason other than absence
	LivenessUnknown Liveness = iota
	// LivenessAlive means the pid runs with the recorded start stamp
	LivenessAlive
	// LivenessGone means no process has the pid
	LivenessGone
	// LivenessRecycled means the pid now belongs to a different process
	LivenessRecycled
)

// Check looks pid up and compares its start stamp. A zero stamp on either
// side matches any process with that pid.
// Check 查询 pid 并比较启动时间，任一方为 0 时不比较。
func (r *Resolver) Check(pid int, startTime uint64) Liveness {
	p, err := r.table.Process(pid)
	switch {
	case errors.Is(err, ErrNoProcess):
		return LivenessGone
	case err != nil:
		return LivenessUnknown
	case startTime != 0 && p.StartTime != 0 && p.StartTime != startTime:
		return LivenessRecycled
	default:
		return LivenessAlive
	}
}
