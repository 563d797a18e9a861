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

package store

import "errors"

// Error definitions for run history operations.
// 运行历史操作的错误定义。
var (
	// ErrRecordNotFound indicates the requested run record does not exist.
	// ErrRecordNotFound 表示请求的运行记录不存在。
	ErrRecordNotFound = errors.New("store: run record not found")
	// ErrSessionIDEmpty indicates the session ID is empty.
	// ErrSessionIDEmpty 表示会话 ID 为空。
	ErrSessionIDEmpty = errors.New("store: session ID cannot be empty")
	// ErrSessionIDDuplicate indicates a record with the same session ID already exists.
	// ErrSessionIDDuplicate 表示具有相同会话 ID 的记录已存在。
	ErrSessionIDDuplicate = errors.New("store: session ID already exists")
	// ErrUnsupportedType indicates an unknown database type.
	// ErrUnsupportedType 表示不支持的数据库类型。
	ErrUnsupportedType = errors.New("store: unsupported database type")
)
