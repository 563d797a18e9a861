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

// Package proctree provides OS process enumeration and process-tree resolution.
// proctree 包提供操作系统进程枚举和进程树解析功能。
//
// This package provides:
// 此包提供：
// - A swappable process table (list, lookup, kill) / 可替换的进程表（枚举、查询、终止）
// - Executable family matching / 可执行文件族匹配
// - Descendant and ancestor resolution / 子孙进程与祖先链解析
package proctree

import (
	"errors"
	"sort"
)

// Common errors for process table operations
// 进程表操作的常见错误
var (
	// ErrNoProcess indicates the process no longer exists
	// ErrNoProcess 表示进程已不存在
	ErrNoProcess = errors.New("proctree: no such process")

	// ErrPermission indicates the process exists but cannot be signalled
	// ErrPermission 表示进程存在但无权限操作
	ErrPermission = errors.New("proctree: permission denied")
)

// Process is a point-in-time view of one OS process.
// Process 是某个操作系统进程的时间点视图。
type Process struct {
	// PID is the OS-assigned process id; ids are recycled after exit
	// PID 是操作系统分配的进程 ID，进程退出后可能被复用
	PID int `json:"pid"`

	// PPID is the parent process id
	// PPID 是父进程 ID
	PPID int `json:"ppid"`

	// Name is the executable name (comm on Linux, image name on Windows)
	// Name 是可执行文件名
	Name string `json:"name"`

	// StartTime is an opaque, OS-specific start stamp; 0 when unknown
	// StartTime 是不透明的进程启动时间戳，未知时为 0
	StartTime uint64 `json:"start_time"`
}

// Table is the set of OS primitives the supervisor depends on.
// Table 是监管器所依赖的操作系统原语集合。
type Table interface {
	// Processes lists every live process.
	// Processes 列出所有存活进程。
	Processes() ([]Process, error)

	// Process looks up a single process, returning ErrNoProcess when it is gone.
	// Process 查询单个进程，进程不存在时返回 ErrNoProcess。
	Process(pid int) (Process, error)

	// Kill forcibly terminates a process. ErrNoProcess means it was already gone,
	// ErrPermission means it is alive but inaccessible.
	// Kill 强制终止进程。ErrNoProcess 表示进程已退出，ErrPermission 表示无权限。
	Kill(pid int) error
}

// PIDSet is a set of process ids.
// PIDSet 是进程 ID 集合。
type PIDSet map[int]struct{}

// NewPIDSet builds a set from the given pids.
func NewPIDSet(pids ...int) PIDSet {
	s := make(PIDSet, len(pids))
	for _, pid := range pids {
		s[pid] = struct{}{}
	}
	return s
}

// Add inserts pid into the set.
func (s PIDSet) Add(pid int) { s[pid] = struct{}{} }

// Has reports whether pid is in the set.
func (s PIDSet) Has(pid int) bool {
	_, ok := s[pid]
	return ok
}

// Merge adds every member of other.
func (s PIDSet) Merge(other PIDSet) {
	for pid := range other {
		s[pid] = struct{}{}
	}
}

// Minus returns the members of s that are not in other.
// Minus 返回在 s 中但不在 other 中的成员。
func (s PIDSet) Minus(other PIDSet) PIDSet {
	out := make(PIDSet)
	for pid := range s {
		if !other.Has(pid) {
			out[pid] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s PIDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for pid := range s {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// Clone returns a copy of the set.
func (s PIDSet) Clone() PIDSet {
	out := make(PIDSet, len(s))
	out.Merge(s)
	return out
}
