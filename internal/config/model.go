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

import "time"

// Config is the procwarden configuration
// Config 表示 procwarden 配置
type Config struct {
	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Supervisor configuration / 进程监管配置
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`

	// Session configuration / 会话配置
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Stall detection configuration / 停滞检测配置
	Stall StallConfig `mapstructure:"stall" yaml:"stall"`

	// Retry configuration / 重试配置
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Browser configuration / 浏览器配置
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`

	// Store configuration / 运行历史存储配置
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// API configuration / 控制接口配置
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	File        string `mapstructure:"file" yaml:"file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"` // 保留的旧文件数
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`         // days
	Development bool   `mapstructure:"development" yaml:"development"`
}

// FamilyConfig names one resource family and the executable patterns it matches
// FamilyConfig 定义一个资源族及其匹配的可执行文件名模式
type FamilyConfig struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// SupervisorConfig contains process supervision settings
// SupervisorConfig 包含进程监管设置
type SupervisorConfig struct {
	// SettleDelay is how long a capture waits before the after-snapshot
	// SettleDelay 是捕获在获取"之后"快照前的等待时间
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// Families are the supervised resource families
	// Families 是被监管的资源族
	Families []FamilyConfig `mapstructure:"families" yaml:"families"`
}

// SessionConfig contains session loop settings
// SessionConfig 包含会话循环设置
type SessionConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"` // -1 或 0 表示不限制
}

// StallConfig contains per-key stall thresholds
// StallConfig 包含按进度键配置的停滞阈值
type StallConfig struct {
	Default    time.Duration            `mapstructure:"default" yaml:"default"`
	Thresholds map[string]time.Duration `mapstructure:"thresholds" yaml:"thresholds"`
}

// RetryConfig mirrors retry.Policy
// RetryConfig 对应 retry.Policy
type RetryConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Delay      time.Duration `mapstructure:"delay" yaml:"delay"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	TimeWindow time.Duration `mapstructure:"time_window" yaml:"time_window"`
	Cooldown   time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// BrowserConfig contains browser launch settings
// BrowserConfig 包含浏览器启动设置
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ExecutablePath string        `mapstructure:"executable_path" yaml:"executable_path"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Install        bool          `mapstructure:"install" yaml:"install"` // 启动前安装驱动和浏览器
}

// StoreConfig contains run history database settings
// StoreConfig 包含运行历史数据库设置
type StoreConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Type            string `mapstructure:"type" yaml:"type"`               // sqlite, mysql, postgres
	SQLitePath      string `mapstructure:"sqlite_path" yaml:"sqlite_path"` // SQLite 文件路径
	DSN             string `mapstructure:"dsn" yaml:"dsn"`                 // 非空时覆盖 host/port 等字段
	Host            string `mapstructure:"host" yaml:"host"`
	Port            int    `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"password"`
	Database        string `mapstructure:"database" yaml:"database"`
	MaxIdleConn     int    `mapstructure:"max_idle_conn" yaml:"max_idle_conn"`
	MaxOpenConn     int    `mapstructure:"max_open_conn" yaml:"max_open_conn"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
}

// APIConfig contains control API settings
// APIConfig 包含控制接口设置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Mode    string `mapstructure:"mode" yaml:"mode"` // gin 模式：debug, release, test
}
