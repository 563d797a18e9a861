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

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// startAsync runs Start in a goroutine and returns a channel with its summary.
func startAsync(ctx context.Context, m *Machine) <-chan Summary {
	done := make(chan Summary, 1)
	go func() { done <- m.Start(ctx) }()
	return done
}

func waitSummary(t testing.TB, done <-chan Summary) Summary {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
		return Summary{}
	}
}

// TestMachine_MaxIterations tests that the loop runs exactly the configured number of times
// TestMachine_MaxIterations 测试循环精确执行配置的迭代次数
func TestMachine_MaxIterations(t *testing.T) {
	var polls atomic.Int32
	m := NewMachine(Funcs{Poll: func(context.Context) error {
		polls.Add(1)
		return nil
	}}, Options{ID: "s1", MaxIterations: 5})

	summary := m.Start(context.Background())

	assert.Equal(t, int32(5), polls.Load())
	assert.Equal(t, 5, summary.Iterations)
	assert.Equal(t, ReasonMaxIterations, summary.Reason)
	assert.False(t, summary.Failed)
	assert.Equal(t, "terminated", summary.State)
	assert.Equal(t, "s1", summary.ID)
	assert.False(t, summary.StartedAt.IsZero())
	assert.False(t, summary.StoppedAt.IsZero())
	assert.Equal(t, Terminated, m.State())
}

// TestMachine_NoOpTransitions tests that misuse never changes state
// TestMachine_NoOpTransitions 测试不适用的调用不改变状态
func TestMachine_NoOpTransitions(t *testing.T) {
	m := NewMachine(Funcs{}, Options{MaxIterations: 1})

	assert.False(t, m.Pause("idle"))
	assert.False(t, m.Resume("idle"))
	assert.False(t, m.Terminate("idle", true))
	assert.Equal(t, Idle, m.State())

	m.Start(context.Background())
	require.Equal(t, Terminated, m.State())

	assert.False(t, m.Pause("terminated"))
	assert.False(t, m.Resume("terminated"))
	assert.False(t, m.Terminate("again", true))
	assert.Equal(t, Terminated, m.State())
	assert.Equal(t, ReasonMaxIterations, m.Summary().Reason)
	assert.False(t, m.Summary().Failed)

	// Start on a non-idle machine runs nothing.
	before := m.Summary()
	assert.Equal(t, before, m.Start(context.Background()))
}

// TestMachine_TerminateFirstReasonWins tests that repeated terminations keep the first reason
// TestMachine_TerminateFirstReasonWins 测试多次终止只记录第一次的原因
func TestMachine_TerminateFirstReasonWins(t *testing.T) {
	entered := make(chan struct{}, 1)
	m := NewMachine(Funcs{Poll: func(ctx context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		return nil
	}}, Options{PollInterval: time.Millisecond, MaxIterations: Unbounded})

	done := startAsync(context.Background(), m)
	<-entered

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Terminate("user stop", false) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.False(t, m.Terminate("late", true))

	summary := waitSummary(t, done)
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, "user stop", summary.Reason)
	assert.False(t, summary.Failed)
}

// TestMachine_PauseResume tests that a paused loop runs no iterations until resumed
// TestMachine_PauseResume 测试暂停期间不执行迭代，恢复后继续
func TestMachine_PauseResume(t *testing.T) {
	var polls atomic.Int32
	var m *Machine
	m = NewMachine(Funcs{Poll: func(context.Context) error {
		if polls.Add(1) == 3 {
			m.Pause("operator")
		}
		return nil
	}}, Options{PollInterval: time.Millisecond, MaxIterations: Unbounded})

	done := startAsync(context.Background(), m)

	require.Eventually(t, func() bool { return m.State() == Paused }, 2*time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, 3, m.Summary().Iterations)

	assert.True(t, m.Resume("operator"))
	assert.False(t, m.Resume("twice"))
	require.Eventually(t, func() bool { return polls.Load() >= 6 }, 2*time.Second, time.Millisecond)

	assert.True(t, m.Terminate("done", false))
	summary := waitSummary(t, done)
	assert.Equal(t, "done", summary.Reason)
	assert.GreaterOrEqual(t, summary.Iterations, 6)
}

// TestMachine_TerminateWhilePaused tests that terminate wakes a paused loop
// TestMachine_TerminateWhilePaused 测试暂停中的循环可被终止唤醒
func TestMachine_TerminateWhilePaused(t *testing.T) {
	var m *Machine
	m = NewMachine(Funcs{Poll: func(context.Context) error {
		m.Pause("hold")
		return nil
	}}, Options{PollInterval: time.Hour, MaxIterations: Unbounded})

	done := startAsync(context.Background(), m)
	require.Eventually(t, func() bool { return m.State() == Paused }, 2*time.Second, time.Millisecond)

	assert.True(t, m.Terminate("captcha", true))
	summary := waitSummary(t, done)
	assert.Equal(t, 1, summary.Iterations)
	assert.Equal(t, "captcha", summary.Reason)
	assert.True(t, summary.Failed)
}

// TestMachine_TerminateInterruptsDelay tests that terminate cuts the inter-iteration delay short
// TestMachine_TerminateInterruptsDelay 测试终止会打断迭代间隔等待
func TestMachine_TerminateInterruptsDelay(t *testing.T) {
	entered := make(chan struct{}, 1)
	m := NewMachine(Funcs{Poll: func(context.Context) error {
		entered <- struct{}{}
		return nil
	}}, Options{PollInterval: time.Hour, MaxIterations: Unbounded})

	done := startAsync(context.Background(), m)
	<-entered
	require.Eventually(t, func() bool { return m.Summary().Iterations == 1 }, 2*time.Second, time.Millisecond)

	m.Terminate("stop", false)
	summary := waitSummary(t, done)
	assert.Equal(t, 1, summary.Iterations)
}

// TestMachine_PollErrorFailsCaller tests that a callback error terminates as a hard failure
// TestMachine_PollErrorFailsCaller 测试回调错误以失败终止会话
func TestMachine_PollErrorFailsCaller(t *testing.T) {
	var polls int
	m := NewMachine(Funcs{Poll: func(context.Context) error {
		polls++
		if polls == 2 {
			return errors.New("login rejected")
		}
		return nil
	}}, Options{MaxIterations: 10})

	summary := m.Start(context.Background())
	assert.Equal(t, 2, summary.Iterations)
	assert.Equal(t, "login rejected", summary.Reason)
	assert.True(t, summary.Failed)
}

// TestMachine_ContextCancel tests cancellation through the context
// TestMachine_ContextCancel 测试通过 context 取消
func TestMachine_ContextCancel(t *testing.T) {
	t.Run("cancelled while running", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		entered := make(chan struct{}, 1)
		m := NewMachine(Funcs{Poll: func(context.Context) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			return nil
		}}, Options{PollInterval: time.Millisecond, MaxIterations: Unbounded})

		done := startAsync(ctx, m)
		<-entered
		cancel()

		summary := waitSummary(t, done)
		assert.Equal(t, ReasonContextCancelled, summary.Reason)
		assert.False(t, summary.Failed)
	})

	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var polls atomic.Int32
		m := NewMachine(Funcs{Poll: func(context.Context) error {
			polls.Add(1)
			return nil
		}}, Options{MaxIterations: Unbounded})

		summary := m.Start(ctx)
		assert.Equal(t, int32(0), polls.Load())
		assert.Equal(t, ReasonContextCancelled, summary.Reason)
	})
}

// TestMachine_CleanUp tests reset and reuse
// TestMachine_CleanUp 测试重置与复用
func TestMachine_CleanUp(t *testing.T) {
	m := NewMachine(Funcs{}, Options{MaxIterations: 2})

	m.CleanUp()
	assert.Equal(t, Idle, m.State())

	first := m.Start(context.Background())
	assert.Equal(t, 2, first.Iterations)

	m.CleanUp()
	summary := m.Summary()
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, summary.Iterations)
	assert.Empty(t, summary.Reason)
	assert.False(t, summary.Failed)

	second := m.Start(context.Background())
	assert.Equal(t, 2, second.Iterations)
	assert.Equal(t, ReasonMaxIterations, second.Reason)
}

// TestMachine_CleanUpStopsRunningLoop tests that CleanUp ends an active run
// TestMachine_CleanUpStopsRunningLoop 测试 CleanUp 会结束正在运行的循环
func TestMachine_CleanUpStopsRunningLoop(t *testing.T) {
	m := NewMachine(Funcs{}, Options{PollInterval: time.Hour, MaxIterations: Unbounded})
	done := startAsync(context.Background(), m)
	require.Eventually(t, func() bool { return m.Summary().Iterations >= 1 }, 2*time.Second, time.Millisecond)

	m.CleanUp()
	waitSummary(t, done)
	assert.Equal(t, Idle, m.State())
}

// TestMachine_StaleRunLeavesNextRunAlone tests that a loop outliving CleanUp
// cannot terminate the run started after it
// TestMachine_StaleRunLeavesNextRunAlone 测试 CleanUp 之后残留的循环不会终止下一次运行
func TestMachine_StaleRunLeavesNextRunAlone(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	m := NewMachine(Funcs{Poll: func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return errors.New("page crashed")
		}
		return nil
	}}, Options{PollInterval: time.Millisecond, MaxIterations: Unbounded})

	first := startAsync(context.Background(), m)
	<-entered
	m.CleanUp()

	second := startAsync(context.Background(), m)
	require.Eventually(t, func() bool { return m.Summary().Iterations >= 1 }, 2*time.Second, time.Millisecond)

	close(release)
	stale := waitSummary(t, first)
	assert.Equal(t, "idle", stale.State)

	summary := m.Summary()
	assert.Equal(t, Running, m.State())
	assert.Empty(t, summary.Reason)
	assert.False(t, summary.Failed)

	assert.True(t, m.Terminate("done", false))
	final := waitSummary(t, second)
	assert.Equal(t, "done", final.Reason)
	assert.False(t, final.Failed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "state(7)", State(7).String())
}

// **Property: external controls follow the transition table**
// 属性：外部控制调用严格遵循状态转换表
func TestProperty_TransitionTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		m := NewMachine(Funcs{Poll: func(ctx context.Context) error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		}}, Options{MaxIterations: Unbounded})

		done := startAsync(context.Background(), m)
		<-entered

		model := Running
		firstReason := ""
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 30).Draw(t, "ops")
		for i, op := range ops {
			reason := string(rune('a' + i%26))
			switch op {
			case 0:
				want := model == Running
				if got := m.Pause(reason); got != want {
					t.Fatalf("op %d pause: got %v want %v", i, got, want)
				}
				if want {
					model = Paused
				}
			case 1:
				want := model == Paused
				if got := m.Resume(reason); got != want {
					t.Fatalf("op %d resume: got %v want %v", i, got, want)
				}
				if want {
					model = Running
				}
			case 2:
				want := model == Running || model == Paused
				if got := m.Terminate(reason, false); got != want {
					t.Fatalf("op %d terminate: got %v want %v", i, got, want)
				}
				if want {
					model = Terminated
					firstReason = reason
				}
			}
			if m.State() != model {
				t.Fatalf("op %d: state %s, model %s", i, m.State(), model)
			}
		}

		if model != Terminated {
			m.Terminate("end", false)
			firstReason = "end"
		}
		close(release)

		select {
		case s := <-done:
			if s.Reason != firstReason {
				t.Fatalf("reason %q, want %q", s.Reason, firstReason)
			}
			if s.Iterations != 1 {
				t.Fatalf("iterations %d, want 1", s.Iterations)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("session did not stop")
		}
	})
}
