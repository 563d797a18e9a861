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

// Package proctreetest provides an in-memory process table for tests.
// proctreetest 包提供用于测试的内存进程表。
package proctreetest

import (
	"errors"
	"sort"
	"sync"

	"github.com/leonyoah/procwarden/internal/proctree"
)

// Table is a deterministic, thread-safe proctree.Table.
// Table 是确定性的、线程安全的 proctree.Table 实现。
type Table struct {
	mu        sync.Mutex
	procs     map[int]proctree.Process
	denied    map[int]bool
	kills     []int
	nextStamp uint64
	listErr   error
}

// New creates an empty table containing only init (pid 1).
func New() *Table {
	t := &Table{
		procs:  make(map[int]proctree.Process),
		denied: make(map[int]bool),
	}
	t.procs[1] = proctree.Process{PID: 1, PPID: 0, Name: "init", StartTime: 1}
	t.nextStamp = 2
	return t
}

// Spawn adds a live process and returns its start stamp.
func (t *Table) Spawn(pid, ppid int, name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextStamp++
	t.procs[pid] = proctree.Process{PID: pid, PPID: ppid, Name: name, StartTime: t.nextStamp}
	return t.nextStamp
}

// Exit removes a process as if it terminated on its own; its children are
// reparented to init.
func (t *Table) Exit(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(pid)
}

// Deny makes Kill(pid) fail with ErrPermission while the process stays alive.
func (t *Table) Deny(pid int, denied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denied[pid] = denied
}

// FailListing makes Processes return err (nil restores normal behaviour).
func (t *Table) FailListing(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErr = err
}

// Alive reports whether pid is present.
func (t *Table) Alive(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

// Kills returns every pid Kill was called with, in call order.
func (t *Table) Kills() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.kills))
	copy(out, t.kills)
	return out
}

// ResetKills clears the recorded kill calls.
func (t *Table) ResetKills() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kills = nil
}

func (t *Table) Processes() ([]proctree.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	out := make([]proctree.Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (t *Table) Process(pid int) (proctree.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return proctree.Process{}, proctree.ErrNoProcess
	}
	return p, nil
}

func (t *Table) Kill(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kills = append(t.kills, pid)
	if _, ok := t.procs[pid]; !ok {
		return proctree.ErrNoProcess
	}
	if t.denied[pid] {
		return proctree.ErrPermission
	}
	t.removeLocked(pid)
	return nil
}

func (t *Table) removeLocked(pid int) {
	delete(t.procs, pid)
	for cpid, p := range t.procs {
		if p.PPID == pid {
			p.PPID = 1
			t.procs[cpid] = p
		}
	}
}

// ErrListing is a convenience error for FailListing.
var ErrListing = errors.New("proctreetest: listing failed")
