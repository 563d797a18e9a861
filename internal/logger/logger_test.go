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

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestNew_WritesFile tests that records reach the rotated log file
// TestNew_WritesFile 测试日志写入轮转文件
func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "procwarden.log")

	l, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)
	l.Info("batch registered", zap.String("batch_id", "b-1"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"batch_id":"b-1"`)
	assert.Contains(t, string(data), "batch registered")
}

// TestNew_InvalidLevel tests level validation
// TestNew_InvalidLevel 测试日志级别校验
func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

// TestNewRotator_Defaults tests rotation defaults
// TestNewRotator_Defaults 测试轮转默认值
func TestNewRotator_Defaults(t *testing.T) {
	r := newRotator(Options{File: "/tmp/x.log"})
	assert.Equal(t, DefaultMaxSize, r.MaxSize)
	assert.Equal(t, DefaultMaxBackups, r.MaxBackups)
	assert.Equal(t, DefaultMaxAge, r.MaxAge)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
