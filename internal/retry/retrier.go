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

// Package retry decides whether a failed session may be run again.
// retry 包决定失败的会话是否可以重新运行。
//
// This package provides:
// 此包提供：
// - Attempt count limiting inside a sliding window / 滑动时间窗口内的重试次数限制
// - Cooldown period management / 冷却时间管理
// - Per-name attempt history / 按名称记录的重试历史
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
)

// Default policy values
// 默认策略值
const (
	DefaultDelay      = 10 * time.Second // 默认重试延迟 / Default retry delay
	DefaultMaxRetries = 3                // 默认最大重试次数 / Default max retries
	DefaultTimeWindow = 5 * time.Minute  // 默认时间窗口 / Default time window
	DefaultCooldown   = 30 * time.Minute // 默认冷却时间 / Default cooldown period
)

// ErrNotAllowed is returned by Run when the policy refuses another attempt.
// ErrNotAllowed 表示策略拒绝继续重试。
var ErrNotAllowed = errors.New("retry: limit reached or in cooldown")

// Policy holds the retry configuration
// Policy 保存重试配置
type Policy struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`         // 是否启用重试 / Enable retry
	Delay      time.Duration `json:"delay" mapstructure:"delay"`             // 重试延迟 / Retry delay
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"` // 最大重试次数 / Max retry count
	TimeWindow time.Duration `json:"time_window" mapstructure:"time_window"` // 时间窗口 / Time window
	Cooldown   time.Duration `json:"cooldown" mapstructure:"cooldown"`       // 冷却时间 / Cooldown period
}

// DefaultPolicy returns the default retry policy
// DefaultPolicy 返回默认重试策略
func DefaultPolicy() Policy {
	return Policy{
		Enabled:    true,
		Delay:      DefaultDelay,
		MaxRetries: DefaultMaxRetries,
		TimeWindow: DefaultTimeWindow,
		Cooldown:   DefaultCooldown,
	}
}

// History tracks the retry attempts of one name
// History 跟踪某个名称的重试历史
type History struct {
	Name          string      `json:"name"`
	Count         int         `json:"count"`
	LastAttempt   time.Time   `json:"last_attempt"`
	WindowStart   time.Time   `json:"window_start"`
	CooldownUntil time.Time   `json:"cooldown_until"`
	Attempts      []time.Time `json:"attempts"` // 窗口内的重试时间 / Attempt times inside the window
}

// Retrier applies a Policy per scenario name.
// Retrier 按场景名称应用重试策略。
type Retrier struct {
	policy  Policy
	history map[string]*History
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.RWMutex
}

// New creates a Retrier. A nil logger disables logging.
// New 创建 Retrier，logger 为 nil 时不输出日志。
func New(policy Policy, log *zap.Logger) *Retrier {
	return &Retrier{
		policy:  policy,
		history: make(map[string]*History),
		logger:  logger.OrNop(log),
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (r *Retrier) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetPolicy replaces the policy; it applies to the next decision.
// SetPolicy 替换重试策略，下一次判断即生效。
func (r *Retrier) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
	r.logger.Info("Retry policy updated",
		zap.Bool("enabled", p.Enabled), zap.Duration("delay", p.Delay),
		zap.Int("max_retries", p.MaxRetries), zap.Duration("window", p.TimeWindow),
		zap.Duration("cooldown", p.Cooldown))
}

// Policy returns the current policy.
func (r *Retrier) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// ShouldRetry checks attempt count and cooldown for name. Reaching the limit
// inside the window starts a cooldown.
// ShouldRetry 检查重试次数和冷却时间，窗口内达到上限时进入冷却。
func (r *Retrier) ShouldRetry(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.policy.Enabled {
		return false
	}

	h, exists := r.history[name]
	if !exists {
		return true
	}

	now := r.now()
	if now.Before(h.CooldownUntil) {
		r.logger.Debug("Retry in cooldown", zap.String("name", name), zap.Time("until", h.CooldownUntil))
		return false
	}

	// Cooldown passed, start over / 冷却已过，重新计数
	if !h.CooldownUntil.IsZero() && h.CooldownUntil.After(h.WindowStart) {
		r.resetLocked(name)
		return true
	}

	if r.inWindowLocked(h, now) >= r.policy.MaxRetries {
		h.CooldownUntil = now.Add(r.policy.Cooldown)
		r.logger.Warn("Max retries reached, entering cooldown",
			zap.String("name", name), zap.Int("max_retries", r.policy.MaxRetries),
			zap.Time("until", h.CooldownUntil))
		return false
	}
	return true
}

func (r *Retrier) inWindowLocked(h *History, now time.Time) int {
	windowStart := now.Add(-r.policy.TimeWindow)
	n := 0
	for _, t := range h.Attempts {
		if t.After(windowStart) {
			n++
		}
	}
	return n
}

// RecordAttempt records one retry for name and drops attempts outside the window.
// RecordAttempt 记录一次重试，并清理窗口外的历史。
func (r *Retrier) RecordAttempt(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	h, exists := r.history[name]
	if !exists {
		h = &History{Name: name, WindowStart: now}
		r.history[name] = h
	}
	h.Count++
	h.LastAttempt = now
	h.Attempts = append(h.Attempts, now)

	windowStart := now.Add(-r.policy.TimeWindow)
	kept := h.Attempts[:0]
	for _, t := range h.Attempts {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	h.Attempts = kept
}

// Reset clears the retry counter of name.
// Reset 清空指定名称的重试计数。
func (r *Retrier) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(name)
}

func (r *Retrier) resetLocked(name string) {
	if h, exists := r.history[name]; exists {
		h.Count = 0
		h.Attempts = nil
		h.WindowStart = r.now()
		h.CooldownUntil = time.Time{}
	}
}

// History returns a copy of the history of name, or nil.
// History 返回指定名称历史的副本，不存在时返回 nil。
func (r *Retrier) History(name string) *History {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.history[name]
	if !exists {
		return nil
	}
	out := *h
	out.Attempts = append([]time.Time(nil), h.Attempts...)
	return &out
}

// InCooldown reports whether name is cooling down.
// InCooldown 判断指定名称是否处于冷却中。
func (r *Retrier) InCooldown(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, exists := r.history[name]; exists {
		return r.now().Before(h.CooldownUntil)
	}
	return false
}

// Run calls fn and, while it returns an error and the policy allows, waits the
// configured delay and calls it again. The attempt number starts at 0. It
// returns nil on the first success, the context error if cancelled while
// waiting, or the last error wrapped with ErrNotAllowed once retries stop.
// Run 调用 fn，失败且策略允许时等待延迟后重试。attempt 从 0 开始。
// 首次成功返回 nil；等待期间被取消返回 context 错误；不再重试时返回包装了 ErrNotAllowed 的最后一次错误。
func (r *Retrier) Run(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !r.ShouldRetry(name) {
			r.logger.Warn("Giving up", zap.String("name", name), zap.Int("attempts", attempt+1), zap.Error(err))
			return errors.Join(ErrNotAllowed, err)
		}

		delay := r.Policy().Delay
		r.logger.Info("Retrying after failure",
			zap.String("name", name), zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay), zap.Error(err))
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		// Re-check after the delay: the policy may have been disabled meanwhile.
		// 延迟后再次检查：策略可能已被禁用。
		if !r.Policy().Enabled {
			return errors.Join(ErrNotAllowed, err)
		}
		r.RecordAttempt(name)
	}
}
