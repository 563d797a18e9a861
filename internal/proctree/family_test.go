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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFamily_Match tests executable name matching
// TestFamily_Match 测试可执行文件名匹配
func TestFamily_Match(t *testing.T) {
	f, err := NewFamily("browser", "chrome", "chromium*", "msedge")
	require.NoError(t, err)

	testCases := []struct {
		name string
		exe  string
		want bool
	}{
		{name: "exact", exe: "chrome", want: true},
		{name: "windows image", exe: "Chrome.EXE", want: true},
		{name: "glob", exe: "chromium-browser", want: true},
		{name: "full path", exe: "/usr/bin/msedge", want: true},
		{name: "helper is not browser", exe: "chromedriver", want: false},
		{name: "empty", exe: "", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Match(tc.exe))
		})
	}
}

// TestNewFamily_Errors tests family validation
// TestNewFamily_Errors 测试资源族参数校验
func TestNewFamily_Errors(t *testing.T) {
	_, err := NewFamily("", "chrome")
	assert.Error(t, err)

	_, err = NewFamily("browser")
	assert.Error(t, err)
}

// TestParsePSOutput tests ps output parsing
// TestParsePSOutput 测试 ps 输出解析
func TestParsePSOutput(t *testing.T) {
	out := `    1     0 launchd
  412     1 /Applications/Google Chrome.app/Contents/MacOS/Google Chrome
garbage line here
  413   412 chromedriver
`
	procs := parsePSOutput(out)
	require.Len(t, procs, 3)
	assert.Equal(t, Process{PID: 412, PPID: 1, Name: "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}, procs[1])
	assert.Equal(t, 412, procs[2].PPID)

	f := MustFamily("browser", "google chrome")
	assert.True(t, f.Match(procs[1].Name))
}

// TestPIDSet tests set operations
// TestPIDSet 测试集合运算
func TestPIDSet(t *testing.T) {
	a := NewPIDSet(1, 2, 3)
	b := NewPIDSet(2)

	assert.Equal(t, []int{1, 3}, a.Minus(b).Sorted())

	c := a.Clone()
	c.Add(9)
	assert.False(t, a.Has(9))
	assert.True(t, c.Has(9))
}
