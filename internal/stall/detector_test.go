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

package stall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// TestDetector_Examples tests the documented sample sequences
// TestDetector_Examples 测试文档中的示例序列
func TestDetector_Examples(t *testing.T) {
	testCases := []struct {
		name     string
		baseline int
		values   []int
		want     []Verdict
	}{
		{"flat progress stalls", 10, []int{10, 10, 10}, []Verdict{Waiting, Waiting, Stalled}},
		{"advancing progress", 0, []int{10, 20, 30}, []Verdict{Progressing, Progressing, Progressing}},
	}
	times := []int{0, 30, 70}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewAt(60*time.Second, tc.baseline, at(0))
			for i, v := range tc.values {
				assert.Equal(t, tc.want[i], d.Observe(v, at(times[i])), "sample %d", i)
			}
		})
	}
}

// TestDetector_FirstObservation tests an unseeded detector
// TestDetector_FirstObservation 测试未设置基线的检测器
func TestDetector_FirstObservation(t *testing.T) {
	d := New[string](time.Minute)
	_, ok := d.Since()
	assert.False(t, ok)

	assert.Equal(t, Progressing, d.Observe("page-1", at(0)))
	since, ok := d.Since()
	assert.True(t, ok)
	assert.Equal(t, at(0), since)

	assert.Equal(t, Waiting, d.Observe("page-1", at(60)), "exactly at the threshold is not a stall")
	assert.Equal(t, Stalled, d.Observe("page-1", at(61)))
	assert.Equal(t, Progressing, d.Observe("page-2", at(62)))
	assert.Equal(t, Waiting, d.Observe("page-2", at(100)))
}

// TestDetector_Reset tests window reset
// TestDetector_Reset 测试重置窗口
func TestDetector_Reset(t *testing.T) {
	d := NewAt(time.Minute, 5, at(0))
	assert.Equal(t, Stalled, d.Observe(5, at(120)))
	d.Reset()
	assert.Equal(t, Progressing, d.Observe(5, at(121)))
	assert.Equal(t, Waiting, d.Observe(5, at(150)))
	assert.Equal(t, time.Minute, d.Threshold())
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "progressing", Progressing.String())
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "stalled", Stalled.String())
	assert.Equal(t, "verdict(9)", Verdict(9).String())
}

// **Property: a value that changes on every sample never stalls**
// 属性：每次都变化的进度值永远不会被判定为停滞
func TestProperty_ChangingValueNeverStalls(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := time.Duration(rapid.IntRange(1, 600).Draw(t, "threshold")) * time.Second
		d := New[int](threshold)
		n := rapid.IntRange(1, 50).Draw(t, "n")
		now := t0
		for i := 0; i < n; i++ {
			now = now.Add(time.Duration(rapid.IntRange(0, 3600).Draw(t, "step")) * time.Second)
			if v := d.Observe(i, now); v != Progressing {
				t.Fatalf("sample %d: got %s", i, v)
			}
		}
	})
}

// **Property: an unchanged value is Stalled exactly when elapsed exceeds the threshold**
// 属性：值不变时，当且仅当经过时间超过阈值才判定为停滞
func TestProperty_StallMatchesElapsed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := time.Duration(rapid.IntRange(1, 600).Draw(t, "threshold")) * time.Second
		d := NewAt(threshold, 42, t0)
		elapsed := time.Duration(rapid.IntRange(0, 1200).Draw(t, "elapsed")) * time.Second

		got := d.Observe(42, t0.Add(elapsed))
		want := Waiting
		if elapsed > threshold {
			want = Stalled
		}
		if got != want {
			t.Fatalf("elapsed %s threshold %s: got %s want %s", elapsed, threshold, got, want)
		}
	})
}
