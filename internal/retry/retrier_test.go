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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRetrier(p Policy) (*Retrier, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New(p, nil)
	r.SetClock(clock.now)
	return r, clock
}

// **Property: attempts inside the window never exceed the limit**
// 属性：时间窗口内的重试次数不会超过上限，超限后进入冷却
func TestProperty_RetryCountLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(1, 5).Draw(t, "maxRetries")
		window := time.Duration(rapid.IntRange(60, 300).Draw(t, "window")) * time.Second

		r, _ := newTestRetrier(Policy{
			Enabled:    true,
			Delay:      time.Second,
			MaxRetries: maxRetries,
			TimeWindow: window,
			Cooldown:   30 * time.Minute,
		})
		name := rapid.StringMatching(`scenario-[a-z0-9]+`).Draw(t, "name")

		for i := 0; i < maxRetries; i++ {
			if !r.ShouldRetry(name) {
				t.Fatalf("should allow retry %d (max: %d)", i+1, maxRetries)
			}
			r.RecordAttempt(name)
		}
		if r.ShouldRetry(name) {
			t.Fatalf("should not allow retry after reaching max (%d)", maxRetries)
		}
		if !r.InCooldown(name) {
			t.Fatalf("should be in cooldown after reaching max retries")
		}
	})
}

// **Property: once the cooldown has elapsed, retries are allowed again**
// 属性：冷却时间过后允许再次重试
func TestProperty_CooldownElapses(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cooldown := time.Duration(rapid.IntRange(1, 120).Draw(t, "cooldown")) * time.Minute
		r, clock := newTestRetrier(Policy{
			Enabled:    true,
			MaxRetries: 3,
			TimeWindow: 5 * time.Minute,
			Cooldown:   cooldown,
		})
		name := rapid.StringMatching(`scenario-[a-z0-9]+`).Draw(t, "name")

		for i := 0; i < 3; i++ {
			r.RecordAttempt(name)
		}
		if r.ShouldRetry(name) {
			t.Fatalf("limit reached, retry must be refused")
		}

		clock.advance(cooldown + time.Second)
		if r.InCooldown(name) {
			t.Fatalf("cooldown should have elapsed")
		}
		if !r.ShouldRetry(name) {
			t.Fatalf("should allow retry after cooldown")
		}
		if h := r.History(name); h == nil || len(h.Attempts) != 0 || h.Count != 0 {
			t.Fatalf("history should be reset after cooldown: %+v", h)
		}
	})
}

// TestRetrier_WindowSlides tests that old attempts fall out of the window
// TestRetrier_WindowSlides 测试旧的重试记录移出时间窗口
func TestRetrier_WindowSlides(t *testing.T) {
	r, clock := newTestRetrier(Policy{Enabled: true, MaxRetries: 2, TimeWindow: time.Minute, Cooldown: time.Hour})

	r.RecordAttempt("s")
	clock.advance(40 * time.Second)
	r.RecordAttempt("s")
	clock.advance(30 * time.Second)

	assert.True(t, r.ShouldRetry("s"), "first attempt is outside the window")
	assert.Equal(t, 2, r.History("s").Count)

	r.RecordAttempt("s")
	assert.Len(t, r.History("s").Attempts, 2, "recording prunes attempts outside the window")
}

// TestRetrier_Disabled tests a disabled policy
// TestRetrier_Disabled 测试禁用重试
func TestRetrier_Disabled(t *testing.T) {
	r, _ := newTestRetrier(Policy{Enabled: false})
	assert.False(t, r.ShouldRetry("s"))
	assert.Nil(t, r.History("s"))
	assert.False(t, r.InCooldown("s"))
}

// TestRetrier_PolicyUpdate tests policy hot update
// TestRetrier_PolicyUpdate 测试策略热更新
func TestRetrier_PolicyUpdate(t *testing.T) {
	r, _ := newTestRetrier(DefaultPolicy())
	assert.Equal(t, DefaultMaxRetries, r.Policy().MaxRetries)

	p := DefaultPolicy()
	p.MaxRetries = 5
	r.SetPolicy(p)
	assert.Equal(t, 5, r.Policy().MaxRetries)
}

// TestRetrier_Reset tests manual reset
// TestRetrier_Reset 测试手动重置
func TestRetrier_Reset(t *testing.T) {
	r, _ := newTestRetrier(Policy{Enabled: true, MaxRetries: 1, TimeWindow: time.Hour, Cooldown: time.Hour})
	r.RecordAttempt("s")
	require.False(t, r.ShouldRetry("s"))
	require.True(t, r.InCooldown("s"))

	r.Reset("s")
	assert.False(t, r.InCooldown("s"))
	assert.True(t, r.ShouldRetry("s"))
}

// TestRetrier_Run tests the retry loop
// TestRetrier_Run 测试重试循环
func TestRetrier_Run(t *testing.T) {
	boom := errors.New("session failed")

	t.Run("gives up at the limit", func(t *testing.T) {
		r, _ := newTestRetrier(Policy{Enabled: true, MaxRetries: 2, TimeWindow: time.Hour, Cooldown: time.Hour})
		calls := 0
		err := r.Run(context.Background(), "s", func(ctx context.Context, attempt int) error {
			assert.Equal(t, calls, attempt)
			calls++
			return boom
		})
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("stops on success", func(t *testing.T) {
		r, _ := newTestRetrier(Policy{Enabled: true, MaxRetries: 5, TimeWindow: time.Hour, Cooldown: time.Hour})
		calls := 0
		err := r.Run(context.Background(), "s", func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return boom
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, r.History("s").Count)
	})

	t.Run("disabled runs once", func(t *testing.T) {
		r, _ := newTestRetrier(Policy{Enabled: false})
		calls := 0
		err := r.Run(context.Background(), "s", func(ctx context.Context, attempt int) error {
			calls++
			return boom
		})
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		r, _ := newTestRetrier(Policy{Enabled: true, Delay: time.Hour, MaxRetries: 5, TimeWindow: time.Hour, Cooldown: time.Hour})
		ctx, cancel := context.WithCancel(context.Background())
		err := r.Run(ctx, "s", func(ctx context.Context, attempt int) error {
			cancel()
			return boom
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
