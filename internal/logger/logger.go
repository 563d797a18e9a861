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

// Package logger builds the structured logger shared by all components.
// logger 包构建所有组件共享的结构化日志器。
//
// Log records go to stderr and, when a file is configured, to a rotated
// JSON log file.
// 日志同时输出到 stderr，配置文件路径时额外写入按大小轮转的 JSON 日志文件。
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation values
// 默认轮转配置
const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxBackups = 3
	DefaultMaxAge     = 7 // days
)

// Options controls logger construction.
// Options 控制日志器的构建。
type Options struct {
	// Level is one of debug, info, warn, error
	// Level 是日志级别：debug、info、warn、error
	Level string

	// File is the log file path; empty disables file output
	// File 是日志文件路径，为空时不写文件
	File string

	// MaxSize is the size in MB before rotation
	// MaxSize 是轮转前的最大大小（MB）
	MaxSize int

	// MaxBackups is the number of rotated files to keep
	// MaxBackups 是保留的旧日志文件数量
	MaxBackups int

	// MaxAge is the number of days to keep rotated files
	// MaxAge 是旧日志文件的保留天数
	MaxAge int

	// Development switches stderr output to a human-readable encoder
	// Development 使 stderr 输出使用便于阅读的格式
	Development bool
}

// New builds a zap logger from options.
// New 根据配置构建 zap 日志器。
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(opts.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", opts.Level, err)
	}
	atomic := zap.NewAtomicLevelAt(level)

	consoleCfg := zap.NewProductionEncoderConfig()
	if opts.Development {
		consoleCfg = zap.NewDevelopmentEncoderConfig()
	}
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEncoder zapcore.Encoder
	if opts.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(consoleCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atomic),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		writer := zapcore.AddSync(newRotator(opts))
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), writer, atomic))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// newRotator returns the lumberjack writer for the log file.
// newRotator 返回日志文件的 lumberjack 轮转写入器。
func newRotator(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    defaultInt(opts.MaxSize, DefaultMaxSize),
		MaxBackups: defaultInt(opts.MaxBackups, DefaultMaxBackups),
		MaxAge:     defaultInt(opts.MaxAge, DefaultMaxAge),
		Compress:   true,
	}
}

// OrNop returns l, or a no-op logger when l is nil.
// OrNop 在 l 为 nil 时返回空日志器。
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
