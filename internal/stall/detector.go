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

// Package stall detects progress values that stop advancing while wall-clock
// time keeps moving.
// stall 包检测墙钟时间推进而进度值停滞的情况。
package stall

import (
	"fmt"
	"time"
)

// Verdict is the outcome of one observation.
// Verdict 是一次观测的结论。
type Verdict int

const (
	// Progressing means the value changed since the previous observation
	// Progressing 表示进度值相比上次观测发生了变化
	Progressing Verdict = iota

	// Waiting means the value is unchanged but still within the threshold
	// Waiting 表示进度值未变化但仍在阈值内
	Waiting

	// Stalled means the value has not changed for longer than the threshold
	// Stalled 表示进度值停滞时间超过阈值
	Stalled
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Progressing:
		return "progressing"
	case Waiting:
		return "waiting"
	case Stalled:
		return "stalled"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// window is the point at which the current value was first seen.
type window[T comparable] struct {
	since time.Time
	value T
	set   bool
}

// Detector compares each observed value with the previous one. It never reads
// the clock itself; callers pass the observation time in.
// Detector is not safe for concurrent use.
// Detector 将每次观测值与上一次比较。它不读取系统时钟，观测时间由调用方传入。非并发安全。
type Detector[T comparable] struct {
	threshold time.Duration
	win       window[T]
}

// New creates a detector with an empty window. The first observation starts
// the window and reports Progressing.
// New 创建窗口为空的检测器，第一次观测初始化窗口并返回 Progressing。
func New[T comparable](threshold time.Duration) *Detector[T] {
	return &Detector[T]{threshold: threshold}
}

// NewAt creates a detector whose window is seeded with a known baseline, for
// example the progress value at session start.
// NewAt 创建以已知基线（如会话开始时的进度值）初始化窗口的检测器。
func NewAt[T comparable](threshold time.Duration, value T, since time.Time) *Detector[T] {
	d := New[T](threshold)
	d.win = window[T]{since: since, value: value, set: true}
	return d
}

// Threshold returns the configured threshold.
func (d *Detector[T]) Threshold() time.Duration { return d.threshold }

// Observe records value at now. A changed value resets the window and reports
// Progressing; otherwise the verdict is Stalled once now - since exceeds the
// threshold, Waiting before that.
// Observe 记录 now 时刻的进度值。值变化时重置窗口并返回 Progressing；
// 否则 now 与窗口起点之差超过阈值时返回 Stalled，之前返回 Waiting。
func (d *Detector[T]) Observe(value T, now time.Time) Verdict {
	if !d.win.set || d.win.value != value {
		d.win = window[T]{since: now, value: value, set: true}
		return Progressing
	}
	if now.Sub(d.win.since) > d.threshold {
		return Stalled
	}
	return Waiting
}

// Since returns when the current value was first seen; ok is false before the
// first observation.
func (d *Detector[T]) Since() (since time.Time, ok bool) {
	return d.win.since, d.win.set
}

// Reset clears the window.
// Reset 清空窗口。
func (d *Detector[T]) Reset() {
	d.win = window[T]{}
}
