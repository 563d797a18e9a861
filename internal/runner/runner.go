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

// Package runner orchestrates a session end to end: it registers a batch,
// brackets the scenario's setup with a process capture, drives the session
// machine and always cleans the batch afterwards.
// runner 包端到端地编排会话：注册批次、用进程捕获包裹场景准备阶段、驱动会话状态机，
// 并在结束后总是清理批次。
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leonyoah/procwarden/internal/logger"
	"github.com/leonyoah/procwarden/internal/metrics"
	"github.com/leonyoah/procwarden/internal/retry"
	"github.com/leonyoah/procwarden/internal/session"
	"github.com/leonyoah/procwarden/internal/stall"
	"github.com/leonyoah/procwarden/internal/store"
	"github.com/leonyoah/procwarden/internal/supervisor"
)

// DefaultStallThreshold applies to progress keys without a configured threshold.
const DefaultStallThreshold = 2 * time.Minute

// minWatchInterval bounds how often progress is rechecked while a poll runs.
const minWatchInterval = 100 * time.Millisecond

var (
	// ErrNoGroup is returned by New without a supervisor group.
	// ErrNoGroup 表示未提供监管分组。
	ErrNoGroup = errors.New("runner: supervisor group is required")
	// ErrNoScenario is returned by Run when the spec has no factory.
	// ErrNoScenario 表示未提供场景工厂。
	ErrNoScenario = errors.New("runner: scenario factory is required")
	// ErrSessionNotFound is returned for an unknown or finished session.
	// ErrSessionNotFound 表示会话不存在或已结束。
	ErrSessionNotFound = errors.New("runner: session not found")
	// ErrSessionFailed is returned when a session terminated as a failure.
	// ErrSessionFailed 表示会话以失败终止。
	ErrSessionFailed = errors.New("runner: session failed")
	// ErrValidation wraps a failed environment check.
	// ErrValidation 包装环境检查失败。
	ErrValidation = errors.New("runner: environment validation failed")
	// ErrPrepare wraps a failed scenario setup.
	// ErrPrepare 包装场景准备失败。
	ErrPrepare = errors.New("runner: scenario setup failed")
)

// History records finished runs. *store.Repository implements it.
// History 记录已结束的运行，*store.Repository 实现了该接口。
type History interface {
	Create(ctx context.Context, rec *store.RunRecord) error
}

// Env is handed to a scenario factory.
// Env 传递给场景工厂。
type Env struct {
	SessionID string
	BatchID   string
	Attempt   int
	Logger    *zap.Logger

	// Progress feeds the stall detector of key. A stalled key terminates the
	// session as a failure.
	// Progress 向 key 对应的停滞检测器上报进度，停滞时会话以失败终止。
	Progress func(key string, value int64)
}

// Spec describes one session to run.
// Spec 描述一次要运行的会话。
type Spec struct {
	// Name identifies the scenario in history and retry bookkeeping
	// Name 在历史记录和重试统计中标识场景
	Name string

	// SessionID and BatchID are generated when empty
	// SessionID 和 BatchID 为空时自动生成
	SessionID string
	BatchID   string

	// PollInterval and MaxIterations override the runner defaults when non-zero
	// PollInterval 和 MaxIterations 非零时覆盖运行器默认值
	PollInterval  time.Duration
	MaxIterations int

	Factory func(env Env) (session.Scenario, error)
}

// Info describes a live session.
// Info 描述一个运行中的会话。
type Info struct {
	session.Summary
	BatchID  string `json:"batch_id"`
	Scenario string `json:"scenario"`
	Attempt  int    `json:"attempt"`
}

// Options configures a Runner.
// Options 配置 Runner。
type Options struct {
	Group   *supervisor.Group
	History History
	Retrier *retry.Retrier
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	PollInterval  time.Duration
	MaxIterations int

	// StallThresholds maps progress keys to their threshold
	// StallThresholds 为每个进度键指定停滞阈值
	StallThresholds       map[string]time.Duration
	DefaultStallThreshold time.Duration

	Now func() time.Time
}

// progress is the stall detector of one key and the last value reported for it.
type progress struct {
	detector *stall.Detector[int64]
	last     int64
}

type tracked struct {
	machine  *session.Machine
	batchID  string
	scenario string
	attempt  int

	// cancel interrupts a poll blocked in the scenario once the session stalled
	cancel context.CancelFunc

	mu        sync.Mutex
	detectors map[string]*progress
}

// recheck observes the last value of every key again at now and returns the
// keys that stalled.
func (t *tracked) recheck(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stalled []string
	for key, p := range t.detectors {
		if p.detector.Observe(p.last, now) == stall.Stalled {
			stalled = append(stalled, key)
		}
	}
	sort.Strings(stalled)
	return stalled
}

// observedScenario rechecks progress after every poll, so a key whose value
// stopped changing is noticed even when nothing reports it anymore.
type observedScenario struct {
	session.Scenario
	after func()
}

func (o observedScenario) PollOnce(ctx context.Context) error {
	err := o.Scenario.PollOnce(ctx)
	o.after()
	return err
}

// Runner runs sessions and keeps the live ones addressable by id.
// Runner 运行会话，并按 ID 维护运行中的会话。
type Runner struct {
	group         *supervisor.Group
	history       History
	retrier       *retry.Retrier
	logger        *zap.Logger
	metrics       *metrics.Metrics
	pollInterval  time.Duration
	maxIterations int
	thresholds    map[string]time.Duration
	defThreshold  time.Duration
	watchEvery    time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*tracked
}

// New creates a runner.
// New 创建运行器。
func New(opts Options) (*Runner, error) {
	if opts.Group == nil {
		return nil, ErrNoGroup
	}
	r := &Runner{
		group:         opts.Group,
		history:       opts.History,
		retrier:       opts.Retrier,
		logger:        logger.OrNop(opts.Logger),
		metrics:       opts.Metrics,
		pollInterval:  opts.PollInterval,
		maxIterations: opts.MaxIterations,
		thresholds:    make(map[string]time.Duration, len(opts.StallThresholds)),
		defThreshold:  opts.DefaultStallThreshold,
		now:           opts.Now,
		sessions:      make(map[string]*tracked),
	}
	for k, v := range opts.StallThresholds {
		r.thresholds[k] = v
	}
	if r.defThreshold <= 0 {
		r.defThreshold = DefaultStallThreshold
	}
	r.watchEvery = r.defThreshold
	for _, d := range r.thresholds {
		if d > 0 && d < r.watchEvery {
			r.watchEvery = d
		}
	}
	r.watchEvery /= 4
	if r.watchEvery < minWatchInterval {
		r.watchEvery = minWatchInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Run runs spec to completion. With a retrier whose policy is enabled, failed
// attempts are retried under the scenario name. The returned summary is the
// one of the last attempt.
// Run 运行会话直至结束。配置了启用的重试器时，失败的尝试会按场景名重试，返回最后一次尝试的摘要。
func (r *Runner) Run(ctx context.Context, spec Spec) (session.Summary, error) {
	if spec.Factory == nil {
		return session.Summary{}, ErrNoScenario
	}
	if r.retrier == nil || !r.retrier.Policy().Enabled {
		return r.runOnce(ctx, spec, 0)
	}

	var last session.Summary
	err := r.retrier.Run(ctx, spec.Name, func(ctx context.Context, attempt int) error {
		var err error
		last, err = r.runOnce(ctx, spec, attempt)
		return err
	})
	if err == nil {
		r.retrier.Reset(spec.Name)
	}
	return last, err
}

func (r *Runner) runOnce(ctx context.Context, spec Spec, attempt int) (summary session.Summary, err error) {
	sessionID := spec.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	batchID := spec.BatchID
	if batchID == "" {
		batchID = "batch-" + uuid.NewString()
	}
	if attempt > 0 {
		sessionID = fmt.Sprintf("%s-%d", sessionID, attempt)
		batchID = fmt.Sprintf("%s-%d", batchID, attempt)
	}
	log := r.logger.With(
		zap.String("session_id", sessionID),
		zap.String("batch_id", batchID),
		zap.String("scenario", spec.Name))

	r.group.RegisterBatch(batchID)
	t := &tracked{
		batchID:   batchID,
		scenario:  spec.Name,
		attempt:   attempt,
		detectors: make(map[string]*progress),
	}

	var scn session.Scenario
	defer func() {
		if c, ok := scn.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				log.Warn("Scenario close failed", zap.Error(cerr))
			}
		}
		cleanOK := r.group.CleanBatch(batchID, true)
		if !cleanOK {
			log.Warn("Batch cleanup left processes behind")
		}
		r.untrack(sessionID)
		r.persist(context.WithoutCancel(ctx), log, spec.Name, batchID, attempt, summary, cleanOK)
	}()

	env := Env{
		SessionID: sessionID,
		BatchID:   batchID,
		Attempt:   attempt,
		Logger:    log,
		Progress: func(key string, value int64) {
			if _, perr := r.ReportProgress(sessionID, key, value, r.now()); perr != nil {
				log.Debug("Progress for an untracked session", zap.String("key", key))
			}
		},
	}
	scn, err = spec.Factory(env)
	if err != nil {
		summary = r.failedSummary(sessionID, err)
		return summary, fmt.Errorf("%w: %v", ErrPrepare, err)
	}

	pollInterval := spec.PollInterval
	if pollInterval == 0 {
		pollInterval = r.pollInterval
	}
	maxIterations := spec.MaxIterations
	if maxIterations == 0 {
		maxIterations = r.maxIterations
	}
	observed := observedScenario{Scenario: scn, after: func() { r.recheck(sessionID, t) }}
	t.machine = session.NewMachine(observed, session.Options{
		ID:            sessionID,
		PollInterval:  pollInterval,
		MaxIterations: maxIterations,
		Logger:        r.logger.With(zap.String("batch_id", batchID)),
		Metrics:       r.metrics,
		Now:           r.now,
	})
	r.track(sessionID, t)

	if err = scn.ValidateEnv(ctx); err != nil {
		log.Warn("Environment validation failed", zap.Error(err))
		summary = r.failedSummary(sessionID, err)
		return summary, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	gc := r.group.BeginCapture(batchID)
	prepErr := scn.Prepare(supervisor.WithCapture(ctx, batchID))
	if _, rerr := gc.Resolve(ctx); rerr != nil {
		log.Warn("Capture around scenario setup was incomplete", zap.Error(rerr))
	}
	if prepErr != nil {
		log.Error("Scenario setup failed", zap.Error(prepErr))
		summary = r.failedSummary(sessionID, prepErr)
		return summary, fmt.Errorf("%w: %w", ErrPrepare, prepErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	stopWatch := r.watch(sessionID, t)
	summary = t.machine.Start(runCtx)
	stopWatch()
	if summary.Failed {
		return summary, fmt.Errorf("%w: %s", ErrSessionFailed, summary.Reason)
	}
	return summary, nil
}

func (r *Runner) failedSummary(sessionID string, err error) session.Summary {
	now := r.now()
	return session.Summary{
		ID:        sessionID,
		State:     session.Terminated.String(),
		Reason:    err.Error(),
		Failed:    true,
		StartedAt: now,
		StoppedAt: now,
	}
}

func (r *Runner) persist(ctx context.Context, log *zap.Logger, name, batchID string, attempt int, s session.Summary, cleanOK bool) {
	if r.history == nil {
		return
	}
	rec := &store.RunRecord{
		SessionID:  s.ID,
		BatchID:    batchID,
		Scenario:   name,
		Attempt:    attempt,
		Iterations: s.Iterations,
		Reason:     s.Reason,
		Failed:     s.Failed,
		CleanOK:    cleanOK,
		StartedAt:  s.StartedAt,
		StoppedAt:  s.StoppedAt,
	}
	if err := r.history.Create(ctx, rec); err != nil {
		log.Error("Failed to record run history", zap.Error(err))
	}
}

func (r *Runner) track(id string, t *tracked) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = t
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Runner) lookup(id string) (*tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[id]
	return t, ok
}

// Session returns the machine of a live session.
// Session 返回运行中会话的状态机。
func (r *Runner) Session(id string) (*session.Machine, bool) {
	t, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return t.machine, true
}

// Sessions lists the live sessions ordered by id.
// Sessions 按 ID 顺序列出运行中的会话。
func (r *Runner) Sessions() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, t := range r.sessions {
		out = append(out, Info{
			Summary:  t.machine.Summary(),
			BatchID:  t.batchID,
			Scenario: t.scenario,
			Attempt:  t.attempt,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Info returns the description of one live session.
// Info 返回单个运行中会话的描述。
func (r *Runner) Info(id string) (Info, bool) {
	t, ok := r.lookup(id)
	if !ok {
		return Info{}, false
	}
	return Info{Summary: t.machine.Summary(), BatchID: t.batchID, Scenario: t.scenario, Attempt: t.attempt}, true
}

// ReportProgress feeds value into the stall detector for key of a session.
// A Stalled verdict terminates the session with failCaller set.
// ReportProgress 将进度值交给会话中 key 对应的停滞检测器，判定停滞时以失败终止会话。
func (r *Runner) ReportProgress(id, key string, value int64, now time.Time) (stall.Verdict, error) {
	t, ok := r.lookup(id)
	if !ok {
		return stall.Progressing, ErrSessionNotFound
	}

	t.mu.Lock()
	p, exists := t.detectors[key]
	if !exists {
		p = &progress{detector: stall.New[int64](r.threshold(key))}
		t.detectors[key] = p
	}
	p.last = value
	verdict := p.detector.Observe(value, now)
	t.mu.Unlock()

	if verdict == stall.Stalled {
		r.markStalled(id, t, key)
	}
	return verdict, nil
}

// recheck re-observes every key of a session at the current time.
func (r *Runner) recheck(id string, t *tracked) {
	for _, key := range t.recheck(r.now()) {
		r.markStalled(id, t, key)
	}
}

// watch rechecks the progress of a session until the returned stop is called.
// It catches a scenario blocked inside a single poll.
// watch 周期性复查会话进度直到调用返回的 stop，用于发现阻塞在单次轮询中的场景。
func (r *Runner) watch(id string, t *tracked) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(r.watchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.recheck(id, t)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// markStalled terminates the session as a failure and interrupts its current poll.
func (r *Runner) markStalled(id string, t *tracked, key string) {
	t.mu.Lock()
	threshold := t.detectors[key].detector.Threshold()
	last := t.detectors[key].last
	cancel := t.cancel
	t.mu.Unlock()

	reason := fmt.Sprintf("stalled: %s unchanged for more than %s", key, threshold)
	if !t.machine.Terminate(reason, true) {
		return
	}
	r.metrics.Stalled(key)
	r.logger.Warn("Session stalled",
		zap.String("session_id", id), zap.String("key", key), zap.Int64("value", last))
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) threshold(key string) time.Duration {
	if d, ok := r.thresholds[key]; ok && d > 0 {
		return d
	}
	return r.defThreshold
}

// TerminateAll terminates every live session and returns how many transitioned.
// TerminateAll 终止所有运行中的会话，返回实际发生转换的数量。
func (r *Runner) TerminateAll(reason string) int {
	r.mu.RLock()
	machines := make([]*session.Machine, 0, len(r.sessions))
	for _, t := range r.sessions {
		machines = append(machines, t.machine)
	}
	r.mu.RUnlock()

	n := 0
	for _, m := range machines {
		if m.Terminate(reason, false) {
			n++
		}
	}
	return n
}
