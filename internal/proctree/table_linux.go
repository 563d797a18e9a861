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

//go:build linux

package proctree

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/prometheus/procfs"
)

// procfsTable reads the process table from /proc.
// procfsTable 从 /proc 读取进程表。
type procfsTable struct {
	fs procfs.FS
}

// NewSystemTable returns the process table of the running host.
// NewSystemTable 返回当前主机的进程表。
func NewSystemTable() (Table, error) {
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("proctree: open /proc: %w", err)
	}
	return &procfsTable{fs: pfs}, nil
}

func (t *procfsTable) Processes() ([]Process, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("proctree: read /proc: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			// Exited between listing and stat / 列举与读取之间进程已退出
			continue
		}
		out = append(out, fromStat(stat))
	}
	return out, nil
}

func (t *procfsTable) Process(pid int) (Process, error) {
	p, err := t.fs.Proc(pid)
	if err != nil {
		return Process{}, translateProcErr(err)
	}
	stat, err := p.Stat()
	if err != nil {
		return Process{}, translateProcErr(err)
	}
	return fromStat(stat), nil
}

func (t *procfsTable) Kill(pid int) error {
	return killPID(pid)
}

func fromStat(stat procfs.ProcStat) Process {
	return Process{
		PID:       stat.PID,
		PPID:      stat.PPID,
		Name:      stat.Comm,
		StartTime: stat.Starttime,
	}
}

func translateProcErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
		return ErrNoProcess
	}
	return err
}
