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

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/runner"
	"github.com/leonyoah/procwarden/internal/session"
	"github.com/leonyoah/procwarden/internal/store"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

// HistoryReader reads run history. *store.Repository implements it.
// HistoryReader 读取运行历史，*store.Repository 实现了该接口。
type HistoryReader interface {
	Get(ctx context.Context, sessionID string) (*store.RunRecord, error)
	List(ctx context.Context, filter *store.Filter) ([]*store.RunRecord, int64, error)
}

// Starter launches a new session in the background and returns its id.
// Starter 在后台启动新会话并返回会话 ID。
type Starter interface {
	Start(req StartRequest) (string, error)
}

// Handler provides HTTP handlers for sessions, batches and history.
// Handler 提供会话、批次和历史记录的 HTTP 处理器。
type Handler struct {
	runner  *runner.Runner
	group   *supervisor.Group
	history HistoryReader
	starter Starter
	logger  *zap.Logger
}

// ==================== Request/Response Types 请求/响应类型 ====================

// Response is the envelope of every API response.
// Response 是所有接口响应的外层结构。
type Response struct {
	ErrorMsg string      `json:"error_msg"`
	Data     interface{} `json:"data"`
}

// StartRequest is the body of POST /api/v1/sessions.
// StartRequest 是 POST /api/v1/sessions 的请求体。
type StartRequest struct {
	URLs          []string `json:"urls" binding:"required,min=1"`
	Dwell         string   `json:"dwell"`
	MaxIterations int      `json:"max_iterations" binding:"min=-1"`
	Loop          bool     `json:"loop"`

	// DwellDuration is Dwell parsed by the handler
	DwellDuration time.Duration `json:"-"`
}

// ControlRequest is the body of pause, resume and terminate.
// ControlRequest 是暂停、恢复和终止请求的请求体。
type ControlRequest struct {
	Reason string `json:"reason"`
	Fail   bool   `json:"fail"`
}

// ControlResult reports whether a control call changed the session state.
// ControlResult 表示控制调用是否改变了会话状态。
type ControlResult struct {
	Changed bool            `json:"changed"`
	Session session.Summary `json:"session"`
}

// CleanResult reports the outcome of a cleanup.
// CleanResult 表示清理结果。
type CleanResult struct {
	OK bool `json:"ok"`
}

// ListHistoryRequest represents the query for listing run history.
// ListHistoryRequest 表示获取运行历史列表的查询参数。
type ListHistoryRequest struct {
	Current   int    `form:"current" binding:"min=1"`
	Size      int    `form:"size" binding:"min=1,max=100"`
	Scenario  string `form:"scenario"`
	BatchID   string `form:"batch_id"`
	Failed    *bool  `form:"failed"`
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
}

// ListHistoryData is the data of a history listing.
// ListHistoryData 是历史记录列表的数据部分。
type ListHistoryData struct {
	Total   int64              `json:"total"`
	Records []*store.RunRecord `json:"records"`
}

// ListSessionsData is the data of a session listing.
// ListSessionsData 是会话列表的数据部分。
type ListSessionsData struct {
	Total    int           `json:"total"`
	Sessions []runner.Info `json:"sessions"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{ErrorMsg: msg})
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Data: data})
}

// ==================== Health 健康检查 ====================

// Health handles GET /api/v1/health.
func (h *Handler) Health(c *gin.Context) {
	ok(c, gin.H{"status": "ok", "families": h.group.Families()})
}

// ==================== Session Handlers 会话处理器 ====================

// ListSessions handles GET /api/v1/sessions - lists live sessions.
// ListSessions 处理 GET /api/v1/sessions - 列出运行中的会话。
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.runner.Sessions()
	ok(c, ListSessionsData{Total: len(sessions), Sessions: sessions})
}

// StartSession handles POST /api/v1/sessions - starts a playlist session.
// StartSession 处理 POST /api/v1/sessions - 启动一个播放列表会话。
func (h *Handler) StartSession(c *gin.Context) {
	if h.starter == nil {
		fail(c, http.StatusNotImplemented, "未配置会话启动器 / Session starter is not configured")
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Dwell != "" {
		d, err := time.ParseDuration(req.Dwell)
		if err != nil || d < 0 {
			fail(c, http.StatusBadRequest, "无效的停留时间 / Invalid dwell duration")
			return
		}
		req.DwellDuration = d
	}
	id, err := h.starter.Start(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("Session started via api", zap.String("session_id", id), zap.Int("urls", len(req.URLs)))
	c.JSON(http.StatusAccepted, Response{Data: gin.H{"session_id": id}})
}

// GetSession handles GET /api/v1/sessions/:id.
// GetSession 处理 GET /api/v1/sessions/:id - 获取会话详情。
func (h *Handler) GetSession(c *gin.Context) {
	info, found := h.runner.Info(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "会话不存在 / Session not found")
		return
	}
	ok(c, info)
}

// PauseSession handles POST /api/v1/sessions/:id/pause.
// PauseSession 处理 POST /api/v1/sessions/:id/pause - 暂停会话。
func (h *Handler) PauseSession(c *gin.Context) {
	h.control(c, func(m *session.Machine, req ControlRequest) bool { return m.Pause(req.Reason) })
}

// ResumeSession handles POST /api/v1/sessions/:id/resume.
// ResumeSession 处理 POST /api/v1/sessions/:id/resume - 恢复会话。
func (h *Handler) ResumeSession(c *gin.Context) {
	h.control(c, func(m *session.Machine, req ControlRequest) bool { return m.Resume(req.Reason) })
}

// TerminateSession handles POST /api/v1/sessions/:id/terminate.
// TerminateSession 处理 POST /api/v1/sessions/:id/terminate - 终止会话。
func (h *Handler) TerminateSession(c *gin.Context) {
	h.control(c, func(m *session.Machine, req ControlRequest) bool {
		reason := req.Reason
		if reason == "" {
			reason = "terminated via api"
		}
		return m.Terminate(reason, req.Fail)
	})
}

// control applies fn to a live session. A transition that does not apply is
// reported with changed=false, not as an error.
func (h *Handler) control(c *gin.Context, fn func(*session.Machine, ControlRequest) bool) {
	var req ControlRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	id := c.Param("id")
	m, found := h.runner.Session(id)
	if !found {
		fail(c, http.StatusNotFound, "会话不存在 / Session not found")
		return
	}
	changed := fn(m, req)
	h.logger.Info("Session control",
		zap.String("session_id", id), zap.String("path", c.FullPath()),
		zap.String("reason", req.Reason), zap.Bool("changed", changed))
	ok(c, ControlResult{Changed: changed, Session: m.Summary()})
}

// ==================== Batch Handlers 批次处理器 ====================

// ListBatches handles GET /api/v1/batches - lists tracked batches of every family.
// ListBatches 处理 GET /api/v1/batches - 列出所有资源族跟踪的批次。
func (h *Handler) ListBatches(c *gin.Context) {
	batches := h.group.Batches()
	if batches == nil {
		batches = []supervisor.BatchInfo{}
	}
	ok(c, gin.H{"total": len(batches), "batches": batches})
}

// CleanBatch handles DELETE /api/v1/batches/:id - force-cleans one batch.
// CleanBatch 处理 DELETE /api/v1/batches/:id - 强制清理一个批次。
func (h *Handler) CleanBatch(c *gin.Context) {
	id := c.Param("id")
	if !h.group.HasBatch(id) {
		fail(c, http.StatusNotFound, "批次不存在 / Batch not found")
		return
	}
	ok(c, CleanResult{OK: h.group.CleanBatch(id, true)})
}

// CleanAll handles POST /api/v1/batches/clean-all.
// CleanAll 处理 POST /api/v1/batches/clean-all - 清理所有批次并执行全局兜底清理。
func (h *Handler) CleanAll(c *gin.Context) {
	ok(c, CleanResult{OK: h.group.CleanAll()})
}

// Sweep handles POST /api/v1/sweep - runs the global fallback sweep only.
// Sweep 处理 POST /api/v1/sweep - 仅执行全局兜底清理。
func (h *Handler) Sweep(c *gin.Context) {
	ok(c, CleanResult{OK: h.group.Sweep()})
}

// ==================== History Handlers 历史记录处理器 ====================

// ListHistory handles GET /api/v1/history - lists run history with filtering and pagination.
// ListHistory 处理 GET /api/v1/history - 获取运行历史列表（支持过滤和分页）。
func (h *Handler) ListHistory(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, "运行历史未启用 / Run history is disabled")
		return
	}
	req := &ListHistoryRequest{Current: 1, Size: 20}
	if err := c.ShouldBindQuery(req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	// Parse time filters - 解析时间过滤条件
	var startTime, endTime *time.Time
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "无效的开始时间格式，请使用 RFC3339 格式 / Invalid start_time format, use RFC3339")
			return
		}
		startTime = &t
	}
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "无效的结束时间格式，请使用 RFC3339 格式 / Invalid end_time format, use RFC3339")
			return
		}
		endTime = &t
	}

	records, total, err := h.history.List(c.Request.Context(), &store.Filter{
		Scenario:  req.Scenario,
		BatchID:   req.BatchID,
		Failed:    req.Failed,
		StartTime: startTime,
		EndTime:   endTime,
		Page:      req.Current,
		PageSize:  req.Size,
	})
	if err != nil {
		h.logger.Error("Failed to list run history", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*store.RunRecord{}
	}
	ok(c, ListHistoryData{Total: total, Records: records})
}

// GetHistory handles GET /api/v1/history/:id - gets the run record of a session.
// GetHistory 处理 GET /api/v1/history/:id - 获取会话的运行记录。
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, "运行历史未启用 / Run history is disabled")
		return
	}
	rec, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "运行记录不存在 / Run record not found")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, rec)
}
