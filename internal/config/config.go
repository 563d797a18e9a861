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

// Package config loads the procwarden configuration.
// config 包负责加载 procwarden 配置。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line flags / 命令行参数
// 2. Environment variables (PROCWARDEN_ prefix) / 环境变量（PROCWARDEN_ 前缀）
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leonyoah/procwarden/internal/proctree"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath    = "/etc/procwarden/config.yaml"
	EnvPrefix            = "PROCWARDEN"
	DefaultLogLevel      = "info"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
	DefaultSettleDelay   = 2 * time.Second
	DefaultPollInterval  = 5 * time.Second
	DefaultStallTimeout  = 120 * time.Second
	DefaultPageLoadStall = 60 * time.Second
	DefaultPlaybackStall = 480 * time.Second
	DefaultSQLitePath    = "./data/procwarden.db"
	DefaultListen        = "127.0.0.1:8790"
	DefaultNavTimeout    = 60 * time.Second
)

// Store types
// 存储类型
const (
	StoreTypeSQLite   = "sqlite"
	StoreTypeMySQL    = "mysql"
	StoreTypePostgres = "postgres"
)

// DefaultFamilies returns the families supervised when none are configured.
// DefaultFamilies 返回未配置时默认监管的资源族。
func DefaultFamilies() []FamilyConfig {
	return []FamilyConfig{
		{Name: "browser", Patterns: []string{"chrome", "chromium*", "headless_shell*"}},
		{Name: "driver", Patterns: []string{"node", "playwright*"}},
	}
}

// DefaultStallThresholds returns the built-in per-key stall thresholds.
// DefaultStallThresholds 返回内置的按键停滞阈值。
func DefaultStallThresholds() map[string]time.Duration {
	return map[string]time.Duration{
		"page_load": DefaultPageLoadStall,
		"playback":  DefaultPlaybackStall,
	}
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults, an unreadable one does not
		// 配置文件不存在时使用默认值，存在但无法解析时报错
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return unmarshal(v)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(data []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return unmarshal(v)
}

// Default returns the configuration built from defaults only.
// Default 返回仅由默认值构成的配置。
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Supervisor.Families) == 0 {
		cfg.Supervisor.Families = DefaultFamilies()
	}
	if cfg.Stall.Thresholds == nil {
		cfg.Stall.Thresholds = make(map[string]time.Duration)
	}
	for key, d := range DefaultStallThresholds() {
		if _, ok := cfg.Stall.Thresholds[key]; !ok {
			cfg.Stall.Thresholds[key] = d
		}
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.development", false)

	// Supervisor defaults / 监管默认值
	v.SetDefault("supervisor.settle_delay", DefaultSettleDelay)

	// Session defaults / 会话默认值
	v.SetDefault("session.poll_interval", DefaultPollInterval)
	v.SetDefault("session.max_iterations", -1)

	// Stall defaults / 停滞检测默认值
	v.SetDefault("stall.default", DefaultStallTimeout)

	// Retry defaults / 重试默认值
	v.SetDefault("retry.enabled", false)
	v.SetDefault("retry.delay", 10*time.Second)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.time_window", 5*time.Minute)
	v.SetDefault("retry.cooldown", 30*time.Minute)

	// Browser defaults / 浏览器默认值
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.timeout", DefaultNavTimeout)
	v.SetDefault("browser.install", false)

	// Store defaults / 存储默认值
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.type", StoreTypeSQLite)
	v.SetDefault("store.sqlite_path", DefaultSQLitePath)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.host", "")
	v.SetDefault("store.port", 0)
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.log_level", "warn")

	// API defaults / 接口默认值
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultListen)
	v.SetDefault("api.mode", "release")
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate families / 验证资源族
	if len(c.Supervisor.Families) == 0 {
		return errors.New("supervisor.families is required")
	}
	seen := make(map[string]bool, len(c.Supervisor.Families))
	for i, f := range c.Supervisor.Families {
		if f.Name == "" {
			return fmt.Errorf("supervisor.families[%d].name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("supervisor.families: duplicate family %q", f.Name)
		}
		seen[f.Name] = true
		if _, err := proctree.NewFamily(f.Name, f.Patterns...); err != nil {
			return fmt.Errorf("supervisor.families[%d]: %w", i, err)
		}
	}

	// Validate session loop / 验证会话循环
	if c.Session.PollInterval < 0 {
		return errors.New("session.poll_interval must not be negative")
	}
	if c.Session.MaxIterations < -1 {
		return errors.New("session.max_iterations must be -1 (unbounded) or greater")
	}

	// Validate stall thresholds / 验证停滞阈值
	if c.Stall.Default <= 0 {
		return errors.New("stall.default must be positive")
	}
	for key, d := range c.Stall.Thresholds {
		if d <= 0 {
			return fmt.Errorf("stall.thresholds.%s must be positive", key)
		}
	}

	// Validate retry / 验证重试
	if c.Retry.Enabled && c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}

	// Validate store / 验证存储
	if c.Store.Enabled {
		switch c.Store.Type {
		case StoreTypeSQLite:
		case StoreTypeMySQL, StoreTypePostgres:
			if c.Store.DSN == "" && c.Store.Host == "" {
				return fmt.Errorf("store.dsn or store.host is required for %s", c.Store.Type)
			}
		default:
			return fmt.Errorf("unsupported store type: %s (must be sqlite, mysql, or postgres)", c.Store.Type)
		}
	}

	// Validate api / 验证接口
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the API is enabled")
	}
	return nil
}

// String returns a short representation of the config (for debugging)
// String 返回配置的简短表示（用于调试）
func (c *Config) String() string {
	names := make([]string, 0, len(c.Supervisor.Families))
	for _, f := range c.Supervisor.Families {
		names = append(names, f.Name)
	}
	return fmt.Sprintf(
		"Config{Log.Level: %s, Families: %v, SettleDelay: %v, PollInterval: %v, Store.Type: %s, API.Listen: %s}",
		c.Log.Level,
		names,
		c.Supervisor.SettleDelay,
		c.Session.PollInterval,
		c.Store.Type,
		c.API.Listen,
	)
}

// ToYAML serializes the configuration to YAML format. The store password is masked.
// ToYAML 将配置序列化为 YAML 格式，存储密码会被隐藏。
func (c *Config) ToYAML() ([]byte, error) {
	out := *c
	if out.Store.Password != "" {
		out.Store.Password = "******"
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
