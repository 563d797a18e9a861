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

//go:build windows

package proctree

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const wmicTimeout = 15 * time.Second

// wmicTable reads the process table through wmic, as the Windows branch of the
// SeaTunnel process scanner does.
// wmicTable 通过 wmic 读取 Windows 进程表。
type wmicTable struct{}

// NewSystemTable returns the process table of the running host.
// NewSystemTable 返回当前主机的进程表。
func NewSystemTable() (Table, error) {
	if _, err := exec.LookPath("wmic"); err != nil {
		return nil, fmt.Errorf("proctree: wmic not found: %w", err)
	}
	return wmicTable{}, nil
}

func (wmicTable) Processes() ([]Process, error) {
	return queryWMIC()
}

func (wmicTable) Process(pid int) (Process, error) {
	procs, err := queryWMIC("where", fmt.Sprintf("ProcessId=%d", pid))
	if err != nil {
		return Process{}, err
	}
	for _, p := range procs {
		if p.PID == pid {
			return p, nil
		}
	}
	return Process{}, ErrNoProcess
}

func (wmicTable) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return ErrNoProcess
	}
	if err := proc.Kill(); err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "access is denied"):
			return ErrPermission
		case strings.Contains(msg, "invalid parameter"), strings.Contains(msg, "already finished"):
			return ErrNoProcess
		}
		return fmt.Errorf("proctree: kill %d: %w", pid, err)
	}
	return nil
}

func queryWMIC(filter ...string) ([]Process, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wmicTimeout)
	defer cancel()

	args := append([]string{"process"}, filter...)
	args = append(args, "get", "CreationDate,Name,ParentProcessId,ProcessId", "/format:csv")
	out, err := exec.CommandContext(ctx, "wmic", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("proctree: wmic: %w", err)
	}

	// CSV columns: Node,CreationDate,Name,ParentProcessId,ProcessId
	reader := csv.NewReader(strings.NewReader(strings.ReplaceAll(string(out), "\r", "")))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("proctree: parse wmic output: %w", err)
	}

	var procs []Process
	for _, rec := range records {
		if len(rec) < 5 || rec[0] == "Node" {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(rec[4]))
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(strings.TrimSpace(rec[3]))
		procs = append(procs, Process{
			PID:       pid,
			PPID:      ppid,
			Name:      strings.TrimSpace(rec[2]),
			StartTime: creationStamp(rec[1]),
		})
	}
	return procs, nil
}

// creationStamp turns "20240101120000.123456+480" into a comparable integer.
func creationStamp(s string) uint64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.SplitN(s, "+", 2)[0])
	if len(digits) > 19 {
		digits = digits[:19]
	}
	v, _ := strconv.ParseUint(digits, 10, 64)
	return v
}
