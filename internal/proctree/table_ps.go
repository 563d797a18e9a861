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

//go:build !linux && !windows

package proctree

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// psTimeout bounds a single ps invocation.
const psTimeout = 10 * time.Second

// psTable reads the process table through ps(1) on Unix systems without /proc.
// psTable 在没有 /proc 的 Unix 系统上通过 ps 命令读取进程表。
type psTable struct{}

// NewSystemTable returns the process table of the running host.
// NewSystemTable 返回当前主机的进程表。
func NewSystemTable() (Table, error) {
	if _, err := exec.LookPath("ps"); err != nil {
		return nil, fmt.Errorf("proctree: ps not found: %w", err)
	}
	return psTable{}, nil
}

func (psTable) Processes() ([]Process, error) {
	out, err := runPS("-axo", "pid=,ppid=,comm=")
	if err != nil {
		return nil, err
	}
	return parsePSOutput(out), nil
}

func (psTable) Process(pid int) (Process, error) {
	out, err := runPS("-o", "pid=,ppid=,comm=", "-p", strconv.Itoa(pid))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return Process{}, ErrNoProcess
		}
		return Process{}, err
	}
	procs := parsePSOutput(out)
	if len(procs) == 0 {
		return Process{}, ErrNoProcess
	}
	return procs[0], nil
}

func (psTable) Kill(pid int) error {
	return killPID(pid)
}

func runPS(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), psTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ps", args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
