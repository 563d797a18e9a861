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

import "time"

// RunRecord is the persisted outcome of one session run.
// RunRecord 是一次会话运行的持久化结果。
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:64;uniqueIndex;not null" json:"session_id"`
	BatchID    string    `gorm:"size:64;index" json:"batch_id"`
	Scenario   string    `gorm:"size:128;index" json:"scenario"`
	Attempt    int       `json:"attempt"`
	Iterations int       `json:"iterations"`
	Reason     string    `gorm:"size:512" json:"reason"`
	Failed     bool      `gorm:"index" json:"failed"`
	CleanOK    bool      `json:"clean_ok"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for RunRecord.
// TableName 指定 RunRecord 的表名。
func (RunRecord) TableName() string {
	return "run_records"
}

// Duration returns how long the run lasted.
func (r *RunRecord) Duration() time.Duration {
	if r.StoppedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.StoppedAt.Sub(r.StartedAt)
}

// Filter represents filter criteria for listing run records.
// Filter 表示列出运行记录的过滤条件。
type Filter struct {
	Scenario  string     `json:"scenario" form:"scenario"`
	BatchID   string     `json:"batch_id" form:"batch_id"`
	Failed    *bool      `json:"failed" form:"failed"`
	StartTime *time.Time `json:"start_time" form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `json:"end_time" form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int        `json:"page" form:"page"`
	PageSize  int        `json:"page_size" form:"page_size"`
}
