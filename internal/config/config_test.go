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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestLoadConfig tests configuration loading
// TestLoadConfig 测试配置加载
func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: debug
  file: /tmp/procwarden.log
  max_size: 50

supervisor:
  settle_delay: 500ms
  families:
    - name: browser
      patterns: ["chrome", "chromium*"]

session:
  poll_interval: 2s
  max_iterations: 10

stall:
  default: 90s
  thresholds:
    playback: 10m

store:
  type: sqlite
  sqlite_path: /tmp/history.db

api:
  listen: 127.0.0.1:9999
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/procwarden.log", cfg.Log.File)
	assert.Equal(t, 50, cfg.Log.MaxSize)
	assert.Equal(t, DefaultLogMaxBackups, cfg.Log.MaxBackups)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.SettleDelay)
	require.Len(t, cfg.Supervisor.Families, 1)
	assert.Equal(t, "browser", cfg.Supervisor.Families[0].Name)
	assert.Equal(t, []string{"chrome", "chromium*"}, cfg.Supervisor.Families[0].Patterns)
	assert.Equal(t, 2*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 10, cfg.Session.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Stall.Default)
	assert.Equal(t, 10*time.Minute, cfg.Stall.Thresholds["playback"])
	assert.Equal(t, DefaultPageLoadStall, cfg.Stall.Thresholds["page_load"])
	assert.Equal(t, "/tmp/history.db", cfg.Store.SQLitePath)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
}

// TestLoadConfig_Defaults tests that a missing file falls back to defaults
// TestLoadConfig_Defaults 测试配置文件不存在时使用默认值
func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultSettleDelay, cfg.Supervisor.SettleDelay)
	assert.Equal(t, DefaultFamilies(), cfg.Supervisor.Families)
	assert.Equal(t, DefaultPollInterval, cfg.Session.PollInterval)
	assert.Equal(t, -1, cfg.Session.MaxIterations)
	assert.Equal(t, DefaultStallThresholds(), cfg.Stall.Thresholds)
	assert.Equal(t, StoreTypeSQLite, cfg.Store.Type)
	assert.Equal(t, DefaultListen, cfg.API.Listen)
	assert.True(t, cfg.Browser.Headless)
}

// TestLoadConfig_EnvOverride tests environment variable override
// TestLoadConfig_EnvOverride 测试环境变量覆盖
func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PROCWARDEN_API_LISTEN", "0.0.0.0:8000")
	t.Setenv("PROCWARDEN_SESSION_POLL_INTERVAL", "250ms")
	t.Setenv("PROCWARDEN_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.API.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestLoadConfig_InvalidFile tests that an unparsable file is an error
// TestLoadConfig_InvalidFile 测试无法解析的配置文件返回错误
func TestLoadConfig_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

// TestValidate tests configuration validation
// TestValidate 测试配置验证
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"invalid log level", func(c *Config) { c.Log.Level = "verbose" }, "invalid log level"},
		{"no families", func(c *Config) { c.Supervisor.Families = nil }, "supervisor.families is required"},
		{"unnamed family", func(c *Config) {
			c.Supervisor.Families = []FamilyConfig{{Patterns: []string{"chrome"}}}
		}, "name is required"},
		{"duplicate family", func(c *Config) {
			c.Supervisor.Families = append(c.Supervisor.Families, c.Supervisor.Families[0])
		}, "duplicate family"},
		{"family without patterns", func(c *Config) {
			c.Supervisor.Families = []FamilyConfig{{Name: "browser"}}
		}, "no executable patterns"},
		{"negative poll interval", func(c *Config) { c.Session.PollInterval = -time.Second }, "poll_interval"},
		{"max iterations below -1", func(c *Config) { c.Session.MaxIterations = -2 }, "max_iterations"},
		{"zero stall default", func(c *Config) { c.Stall.Default = 0 }, "stall.default"},
		{"zero stall threshold", func(c *Config) { c.Stall.Thresholds["page_load"] = 0 }, "stall.thresholds.page_load"},
		{"negative retries", func(c *Config) {
			c.Retry.Enabled = true
			c.Retry.MaxRetries = -1
		}, "retry.max_retries"},
		{"unknown store", func(c *Config) { c.Store.Type = "oracle" }, "unsupported store type"},
		{"mysql without host", func(c *Config) { c.Store.Type = StoreTypeMySQL }, "store.dsn or store.host"},
		{"api without listen", func(c *Config) { c.API.Listen = "" }, "api.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("disabled store and api skip their checks", func(t *testing.T) {
		cfg := Default()
		cfg.Store.Enabled = false
		cfg.Store.Type = "oracle"
		cfg.API.Enabled = false
		cfg.API.Listen = ""
		assert.NoError(t, cfg.Validate())
	})
}

// TestToYAML_MasksPassword tests that the store password never leaves the process
// TestToYAML_MasksPassword 测试序列化时隐藏存储密码
func TestToYAML_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Store.Password = "s3cret"

	out, err := cfg.ToYAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "s3cret")
	assert.Contains(t, string(out), "settle_delay: 2s")
	assert.Equal(t, "s3cret", cfg.Store.Password)
}

// **Property: ToYAML output loads back to the same settings**
// 属性：ToYAML 的输出可以加载回相同的配置
func TestProperty_ConfigYAMLRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Default()
		cfg.Log.Level = rapid.SampledFrom([]string{"debug", "info", "warn", "error"}).Draw(t, "level")
		cfg.Supervisor.SettleDelay = time.Duration(rapid.IntRange(0, 10_000).Draw(t, "settleMs")) * time.Millisecond
		cfg.Session.PollInterval = time.Duration(rapid.IntRange(0, 60).Draw(t, "pollSec")) * time.Second
		cfg.Session.MaxIterations = rapid.IntRange(-1, 1000).Draw(t, "maxIterations")
		name := rapid.StringMatching(`[a-z][a-z_]{0,15}`).Draw(t, "family")
		patterns := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,10}\*?`), 1, 4).Draw(t, "patterns")
		cfg.Supervisor.Families = []FamilyConfig{{Name: name, Patterns: patterns}}
		cfg.API.Listen = rapid.SampledFrom([]string{"127.0.0.1:8790", "0.0.0.0:80", ":9000"}).Draw(t, "listen")

		data, err := cfg.ToYAML()
		if err != nil {
			t.Fatalf("ToYAML: %v", err)
		}
		parsed, err := LoadFromYAML(data)
		if err != nil {
			t.Fatalf("LoadFromYAML: %v\n%s", err, data)
		}

		if parsed.Log.Level != cfg.Log.Level ||
			parsed.Supervisor.SettleDelay != cfg.Supervisor.SettleDelay ||
			parsed.Session.PollInterval != cfg.Session.PollInterval ||
			parsed.Session.MaxIterations != cfg.Session.MaxIterations ||
			parsed.API.Listen != cfg.API.Listen {
			t.Fatalf("round trip mismatch\noriginal: %s\nparsed: %s\nyaml:\n%s", cfg, parsed, data)
		}
		if len(parsed.Supervisor.Families) != 1 || parsed.Supervisor.Families[0].Name != name {
			t.Fatalf("families mismatch: %+v", parsed.Supervisor.Families)
		}
		for i, p := range patterns {
			if parsed.Supervisor.Families[0].Patterns[i] != p {
				t.Fatalf("pattern %d: got %q want %q", i, parsed.Supervisor.Families[0].Patterns[i], p)
			}
		}
	})
}
