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

// Package session runs an automation scenario as a cooperative, cancellable
// polling loop with pause, resume and terminate controls.
// session 包以可协作取消的轮询循环运行自动化场景，并提供暂停、恢复和终止控制。
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/metrics"
)

// State is the lifecycle state of a session.
// State 是会话的生命周期状态。
type State int

const (
	// Idle is the initial state and the state after CleanUp
	// Idle 是初始状态，也是 CleanUp 之后的状态
	Idle State = iota
	// Running means the poll loop is executing iterations
	// Running 表示轮询循环正在执行
	Running
	// Paused means the poll loop is suspended until Resume or Terminate
	// Paused 表示轮询循环已挂起，等待恢复或终止
	Paused
	// Terminated is sticky until CleanUp
	// Terminated 在 CleanUp 之前保持不变
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stop reasons recorded by the machine itself
// 状态机自身记录的停止原因
const (
	ReasonMaxIterations    = "max iterations reached"
	ReasonContextCancelled = "context cancelled"
)

// Unbounded disables the iteration ceiling.
const Unbounded = -1

// Scenario is the capability interface implemented per automation scenario.
// Scenario 是每个自动化场景需要实现的能力接口。
type Scenario interface {
	// ValidateEnv checks preconditions before anything is launched.
	// ValidateEnv 在启动任何进程之前检查前置条件。
	ValidateEnv(ctx context.Context) error

	// Prepare performs the side-effecting setup, such as launching a browser.
	// Prepare 执行有副作用的准备工作，例如启动浏览器。
	Prepare(ctx context.Context) error

	// PollOnce runs exactly one iteration. An error terminates the session
	// as a hard failure.
	// PollOnce 执行一次迭代，返回错误时会话以失败终止。
	PollOnce(ctx context.Context) error
}

// Funcs adapts plain functions to Scenario. Nil functions succeed.
// Funcs 将普通函数适配为 Scenario，nil 函数视为成功。
type Funcs struct {
	Validate func(ctx context.Context) error
	Setup    func(ctx context.Context) error
	Poll     func(ctx context.Context) error
}

func (f Funcs) ValidateEnv(ctx context.Context) error { return call(f.Validate, ctx) }
func (f Funcs) Prepare(ctx context.Context) error     { return call(f.Setup, ctx) }
func (f Funcs) PollOnce(ctx context.Context) error    { return call(f.Poll, ctx) }

func call(fn func(context.Context) error, ctx context.Context) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Summary is a read-only snapshot of a session run.
// Summary 是会话运行结果的只读快照。
type Summary struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Iterations int       `json:"iterations"`
	Reason     string    `json:"reason"`
	Failed     bool      `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
}

// Options configures a Machine.
// Options 配置 Machine。
type Options struct {
	ID string

	// PollInterval is the delay between iterations
	// PollInterval 是两次迭代之间的间隔
	PollInterval time.Duration

	// MaxIterations is the iteration ceiling; Unbounded (-1) or 0 disables it
	// MaxIterations 是迭代次数上限，Unbounded（-1）或 0 表示不限制
	MaxIterations int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Machine drives one session. Pause, Resume, Terminate and CleanUp are safe to
// call from any goroutine at any time; calls that do not apply to the current
// state are no-ops.
// Machine 驱动一个会话。Pause、Resume、Terminate、CleanUp 可在任意协程随时调用，
// 不适用于当前状态的调用不产生任何效果。
type Machine struct {
	id            string
	scenario      Scenario
	interval      time.Duration
	maxIterations int
	logger        *zap.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	mu         sync.Mutex
	state      State
	cancelled  bool
	reason     string
	failed     bool
	iterations int
	startedAt  time.Time
	stoppedAt  time.Time
	gen        uint64
	wake       chan struct{}
}

// NewMachine creates an idle machine for the scenario.
// NewMachine 为场景创建处于 Idle 状态的状态机。
func NewMachine(scenario Scenario, opts Options) *Machine {
	m := &Machine{
		id:            opts.ID,
		scenario:      scenario,
		interval:      opts.PollInterval,
		maxIterations: opts.MaxIterations,
		metrics:       opts.Metrics,
		now:           opts.Now,
		wake:          make(chan struct{}),
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.logger = logger.OrNop(opts.Logger).With(zap.String("session_id", m.id))
	return m
}

// ID returns the session id.
func (m *Machine) ID() string { return m.id }

// State returns the current state.
// State 返回当前状态。
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Summary returns a snapshot of the current or last run.
// Summary 返回当前或上一次运行的快照。
func (m *Machine) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		ID:         m.id,
		State:      m.state.String(),
		Iterations: m.iterations,
		Reason:     m.reason,
		Failed:     m.failed,
		StartedAt:  m.startedAt,
		StoppedAt:  m.stoppedAt,
	}
}

// signalLocked wakes a loop blocked in pause or in the inter-iteration delay.
func (m *Machine) signalLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

// Start runs the poll loop until the session terminates and returns the final
// summary. Calling Start on a machine that is not Idle returns the current
// summary without running anything.
// Start 运行轮询循环直到会话终止并返回最终摘要。非 Idle 状态调用时直接返回当前摘要。
func (m *Machine) Start(ctx context.Context) Summary {
	m.mu.Lock()
	if m.state != Idle {
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("Session is not idle, ignoring start", zap.Stringer("state", state))
		return m.Summary()
	}
	m.gen++
	gen := m.gen
	m.iterations = 0
	m.cancelled = false
	m.reason = ""
	m.failed = false
	m.startedAt = m.now()
	m.stoppedAt = time.Time{}
	m.state = Running
	m.mu.Unlock()

	m.metrics.SessionStarted()
	defer m.metrics.SessionFinished()
	m.logger.Info("Session started",
		zap.Duration("poll_interval", m.interval), zap.Int("max_iterations", m.maxIterations))

	stop := context.AfterFunc(ctx, func() {
		m.terminateRun(gen, ReasonContextCancelled, false)
	})
	defer stop()

	for {
		if !m.waitRunnable(ctx, gen) {
			break
		}

		err := m.scenario.PollOnce(ctx)
		n, current := m.advance(gen)
		if !current {
			// CleanUp ran during the poll; the result belongs to no run.
			break
		}

		if err != nil {
			m.terminateRun(gen, err.Error(), true)
			break
		}
		if m.maxIterations > 0 && n >= m.maxIterations {
			m.terminateRun(gen, ReasonMaxIterations, false)
			break
		}
		if m.stopped(gen) {
			break
		}
		m.pauseBetween(gen)
	}

	m.mu.Lock()
	stale := m.gen != gen
	if !stale {
		m.stoppedAt = m.now()
	}
	m.mu.Unlock()

	if stale {
		m.logger.Debug("Stale run exited after clean up")
		return Summary{ID: m.id, State: Idle.String()}
	}
	summary := m.Summary()
	m.logger.Info("Session stopped",
		zap.Int("iterations", summary.Iterations),
		zap.String("reason", summary.Reason),
		zap.Bool("failed", summary.Failed))
	return summary
}

// stopped reports whether the run identified by gen must not start another iteration.
func (m *Machine) stopped(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stoppedLocked(gen)
}

func (m *Machine) stoppedLocked(gen uint64) bool {
	return m.gen != gen || m.cancelled || m.state == Idle || m.state == Terminated
}

// advance counts a finished iteration for the run gen. current is false when
// the run was cleaned up meanwhile, in which case nothing is counted.
func (m *Machine) advance(gen uint64) (n int, current bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return 0, false
	}
	m.iterations++
	return m.iterations, true
}

// waitRunnable blocks while the session is paused. It returns false once the
// run must stop.
func (m *Machine) waitRunnable(ctx context.Context, gen uint64) bool {
	for {
		if ctx.Err() != nil {
			m.terminateRun(gen, ReasonContextCancelled, false)
			return false
		}
		m.mu.Lock()
		if m.stoppedLocked(gen) {
			m.mu.Unlock()
			return false
		}
		if m.state == Running {
			m.mu.Unlock()
			return true
		}
		wake := m.wake
		m.mu.Unlock()
		<-wake
	}
}

// pauseBetween waits the poll interval, returning early on any state change.
func (m *Machine) pauseBetween(gen uint64) {
	if m.interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.stoppedLocked(gen) {
		m.mu.Unlock()
		return
	}
	wake := m.wake
	m.mu.Unlock()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-wake:
	}
}

// Pause moves a Running session to Paused. It returns whether the transition happened.
// Pause 将 Running 会话切换为 Paused，返回是否发生了状态转换。
func (m *Machine) Pause(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running || m.cancelled {
		return false
	}
	m.state = Paused
	m.signalLocked()
	m.logger.Info("Session paused", zap.String("reason", reason))
	return true
}

// Resume moves a Paused session back to Running.
// Resume 将 Paused 会话恢复为 Running。
func (m *Machine) Resume(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Paused || m.cancelled {
		return false
	}
	m.state = Running
	m.signalLocked()
	m.logger.Info("Session resumed", zap.String("reason", reason))
	return true
}

// Terminate stops a Running or Paused session. The cancellation flag is
// checked and set under one lock, so only the first caller's reason and
// failCaller are recorded. It returns whether this call performed the transition.
// Terminate 终止 Running 或 Paused 会话。取消标志在同一把锁内检查并设置，
// 只有第一次调用的原因和 failCaller 会被记录。返回本次调用是否执行了状态转换。
func (m *Machine) Terminate(reason string, failCaller bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateLocked(reason, failCaller)
}

// terminateRun terminates only if gen is still the current run.
func (m *Machine) terminateRun(gen uint64, reason string, failCaller bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	return m.terminateLocked(reason, failCaller)
}

func (m *Machine) terminateLocked(reason string, failCaller bool) bool {
	if m.cancelled || (m.state != Running && m.state != Paused) {
		return false
	}
	m.cancelled = true
	m.reason = reason
	m.failed = failCaller
	m.state = Terminated
	m.signalLocked()

	m.metrics.Terminated(failCaller)
	if failCaller {
		m.logger.Warn("Session terminated", zap.String("reason", reason), zap.Bool("failed", true))
	} else {
		m.logger.Info("Session terminated", zap.String("reason", reason))
	}
	return true
}

// CleanUp resets the per-run fields and returns the machine to Idle. A loop
// still running for the previous run exits at its next check point.
// CleanUp 重置本次运行的字段并回到 Idle。仍在运行的旧循环会在下一个检查点退出。
func (m *Machine) CleanUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.state = Idle
	m.cancelled = false
	m.reason = ""
	m.failed = false
	m.iterations = 0
	m.signalLocked()
}
