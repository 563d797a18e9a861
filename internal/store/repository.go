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

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository provides data access operations for RunRecord entities.
// Repository 提供 RunRecord 实体的数据访问操作。
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance.
// NewRepository 创建一个新的 Repository 实例。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a run record.
// Returns ErrSessionIDDuplicate if a record with the same session ID already exists.
// Create 插入一条运行记录。会话 ID 已存在时返回 ErrSessionIDDuplicate。
func (r *Repository) Create(ctx context.Context, rec *RunRecord) error {
	if rec.SessionID == "" {
		return ErrSessionIDEmpty
	}

	// Check for duplicate session ID
	// 检查会话 ID 是否重复
	var count int64
	if err := r.db.WithContext(ctx).Model(&RunRecord{}).Where("session_id = ?", rec.SessionID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSessionIDDuplicate
	}

	return r.db.WithContext(ctx).Create(rec).Error
}

// Get retrieves a run record by its session ID.
// Get 通过会话 ID 获取运行记录。
func (r *Repository) Get(ctx context.Context, sessionID string) (*RunRecord, error) {
	var rec RunRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List retrieves run records matching the filter, newest first, with pagination.
// Returns the page of records and the total count.
// List 根据过滤条件分页获取运行记录（按创建时间倒序），返回记录列表和总数。
func (r *Repository) List(ctx context.Context, filter *Filter) ([]*RunRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&RunRecord{})

	// Apply filters - 应用过滤条件
	if filter != nil {
		if filter.Scenario != "" {
			query = query.Where("scenario = ?", filter.Scenario)
		}
		if filter.BatchID != "" {
			query = query.Where("batch_id = ?", filter.BatchID)
		}
		if filter.Failed != nil {
			query = query.Where("failed = ?", *filter.Failed)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at <= ?", *filter.EndTime)
		}
	}

	// Get total count - 获取总数
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination - 应用分页
	if filter != nil && filter.PageSize > 0 {
		offset := 0
		if filter.Page > 0 {
			offset = (filter.Page - 1) * filter.PageSize
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var records []*RunRecord
	if err := query.Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Delete removes the run record of a session.
// Delete 删除某个会话的运行记录。
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	result := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&RunRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
