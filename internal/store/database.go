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

// Package store persists session run history through GORM.
// store 包通过 GORM 持久化会话运行历史。
//
// SQLite is the default; MySQL and PostgreSQL are selected by configuration.
// 默认使用 SQLite，可通过配置切换为 MySQL 或 PostgreSQL。
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leonyoah/procwarden/internal/config"
	"github.com/leonyoah/procwarden/internal/logger"
)

// Open connects to the configured database and migrates the run history schema.
// Open 连接配置的数据库并迁移运行历史表结构。
func Open(cfg config.StoreConfig, log *zap.Logger) (*gorm.DB, error) {
	log = logger.OrNop(log)

	dbType := cfg.Type
	if dbType == "" {
		dbType = config.StoreTypeSQLite
	}

	var (
		dialector gorm.Dialector
		err       error
	)
	switch dbType {
	case config.StoreTypeSQLite:
		dialector, err = sqliteDialector(cfg.SQLitePath)
	case config.StoreTypeMySQL:
		dialector = mysql.Open(mysqlDSN(cfg))
	case config.StoreTypePostgres:
		dialector = postgres.Open(postgresDSN(cfg))
	default:
		return nil, fmt.Errorf("%w: %s (must be sqlite, mysql, or postgres)", ErrUnsupportedType, dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("store: init %s driver: %w", dbType, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", dbType, err)
	}

	// Pool settings only matter for networked databases
	// 连接池参数仅对 MySQL 和 PostgreSQL 有效
	if dbType != config.StoreTypeSQLite {
		if err := configurePool(db, cfg); err != nil {
			return nil, fmt.Errorf("store: configure pool: %w", err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = Close(db)
		return nil, err
	}

	log.Info("Run history store ready", zap.String("type", dbType))
	return db, nil
}

// Migrate creates or updates the run history tables.
// Migrate 创建或更新运行历史表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
// Close 释放底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDialector(path string) (gorm.Dialector, error) {
	if path == "" {
		path = config.DefaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create SQLite directory: %w", err)
	}
	return sqlite.Open(path), nil
}

func mysqlDSN(cfg config.StoreConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)
}

func postgresDSN(cfg config.StoreConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)
}

func configurePool(db *gorm.DB, cfg config.StoreConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return nil
}

// gormLogger maps a level name onto GORM's logger
// gormLogger 将日志级别名称映射为 GORM 日志器
func gormLogger(level string) gormlogger.Interface {
	var logLevel gormlogger.LogLevel
	switch level {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}
	return gormlogger.Default.LogMode(logLevel)
}
