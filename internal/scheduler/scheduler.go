// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler 作业调度：有界 worker 池认领 FetchJob 并驱动
// 抓取 → 分类 → 升级 / 校验 → 投递 的完整生命周期。
// 同一 Job 的尝试严格串行（认领即独占）；同任务的 Job 并发执行，
// 全部到达终态后由 join barrier 收敛任务状态。
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"research-platform/internal/deliver"
	"research-platform/internal/fetch"
	"research-platform/internal/fetch/classify"
	"research-platform/internal/fetch/escalate"
	"research-platform/internal/fetch/job"
	"research-platform/internal/fetch/strategy"
	"research-platform/internal/ratelimit"
	"research-platform/internal/research"
	"research-platform/internal/validate"
	"research-platform/pkg/config"
	"research-platform/pkg/errors"
	"research-platform/pkg/log"
	"research-platform/pkg/metrics"
	"research-platform/pkg/tracing"
	"research-platform/pkg/utils"
)

// Fetcher 执行单次抓取尝试（internal/fetch.Executor；测试注入桩）
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, strat strategy.Strategy, extended bool) fetch.Outcome
}

// Scheduler 调度器
type Scheduler struct {
	tasks      research.Store
	jobs       job.Store
	contents   *validate.ContentStore
	limiter    *ratelimit.Limiter
	registry   *strategy.Registry
	fetcher    Fetcher
	classifier *classify.Classifier
	controller *escalate.Controller
	validator  *validate.Validator
	deliverer  *deliver.Deliverer
	logger     *log.Logger

	maxConcurrency int
	taskTimeout    time.Duration
	idleInterval   time.Duration

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// Deps 调度器依赖集合
type Deps struct {
	Tasks      research.Store
	Jobs       job.Store
	Contents   *validate.ContentStore
	Limiter    *ratelimit.Limiter
	Registry   *strategy.Registry
	Fetcher    Fetcher
	Classifier *classify.Classifier
	Controller *escalate.Controller
	Validator  *validate.Validator
	Deliverer  *deliver.Deliverer
	Logger     *log.Logger
}

// NewScheduler 按配置创建调度器
func NewScheduler(cfg config.SchedulerConfig, deps Deps) *Scheduler {
	return &Scheduler{
		tasks:          deps.Tasks,
		jobs:           deps.Jobs,
		contents:       deps.Contents,
		limiter:        deps.Limiter,
		registry:       deps.Registry,
		fetcher:        deps.Fetcher,
		classifier:     deps.Classifier,
		controller:     deps.Controller,
		validator:      deps.Validator,
		deliverer:      deps.Deliverer,
		logger:         deps.Logger.Component("scheduler"),
		maxConcurrency: utils.DefaultInt(cfg.MaxConcurrency, 4),
		taskTimeout:    config.ParseDuration(cfg.TaskTimeout, 5*time.Minute),
		idleInterval:   config.ParseDuration(cfg.IdleInterval, 200*time.Millisecond),
		stopCh:         make(chan struct{}),
	}
}

// Submit 提交研究任务：创建任务与每个目标的 FetchJob。
// 目标列表为空时拒绝。
func (s *Scheduler) Submit(ctx context.Context, query string, targetURLs []string) (string, error) {
	if len(targetURLs) == 0 {
		return "", errors.Wrap(errors.ErrInvalidArg, "no target urls")
	}
	t := &research.Task{
		Query:      query,
		TargetURLs: targetURLs,
	}
	if s.taskTimeout > 0 {
		t.Deadline = time.Now().Add(s.taskTimeout)
	}
	taskID, err := s.tasks.Create(ctx, t)
	if err != nil {
		return "", errors.Wrap(err, "create task")
	}
	for _, u := range targetURLs {
		if _, err := s.jobs.Create(ctx, &job.FetchJob{
			TaskID: taskID,
			URL:    u,
			Domain: ratelimit.DomainOf(u),
		}); err != nil {
			return "", errors.Wrapf(err, "create job for %s", u)
		}
	}
	t.Status = research.StatusFetching
	if err := s.tasks.Update(ctx, t); err != nil {
		return "", errors.Wrap(err, "mark task fetching")
	}
	s.logger.Info("task submitted", "task_id", taskID, "targets", len(targetURLs))
	return taskID, nil
}

// Cancel 请求取消任务。执行中的尝试不被打断，在下一个尝试边界生效。
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	return s.tasks.RequestCancel(ctx, taskID)
}

// Start 启动认领循环。Stop 后可重新 Start（进程内恢复场景）。
func (s *Scheduler) Start() {
	s.stopCh = make(chan struct{})
	s.stopped = sync.Once{}
	s.wg.Add(1)
	go s.run()
}

// Stop 停止认领并等待在途作业结束
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	sem := make(chan struct{}, s.maxConcurrency)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		claimed, err := s.jobs.ClaimNextReady(context.Background(), time.Now())
		if err != nil {
			s.logger.Error("claim job failed", "err", err)
			claimed = nil
		}
		if claimed == nil {
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.idleInterval):
			}
			continue
		}

		select {
		case <-s.stopCh:
			// 已认领但不再执行，放回队列
			claimed.State = job.StatePending
			if err := s.jobs.Update(context.Background(), claimed); err != nil {
				s.logger.Error("requeue on shutdown failed", "job_id", claimed.ID, "err", err)
			}
			return
		case sem <- struct{}{}:
		}

		s.wg.Add(1)
		go func(j *job.FetchJob) {
			defer s.wg.Done()
			defer func() { <-sem }()
			metrics.WorkerBusy.Inc()
			defer metrics.WorkerBusy.Dec()
			s.runJob(context.Background(), j)
		}(claimed)
	}
}

// runJob 驱动一个已认领作业走一步：一次尝试或一次终态转移
func (s *Scheduler) runJob(ctx context.Context, j *job.FetchJob) {
	ctx, span := tracing.StartFetchSpan(ctx, j.ID, j.URL, "")
	defer span.End()

	t, err := s.tasks.Get(ctx, j.TaskID)
	if err != nil || t == nil {
		s.logger.Error("task lookup failed", "job_id", j.ID, "task_id", j.TaskID, "err", err)
		s.abandon(ctx, j, "")
		return
	}

	if t.CancelRequested {
		s.abandon(ctx, j, "")
		return
	}
	if !t.Deadline.IsZero() && time.Now().After(t.Deadline) {
		// 任务级 wall-clock 上限：剩余作业直接放弃
		s.abandon(ctx, j, classify.KindTimeout)
		return
	}

	// 域名预算耗尽时让出 worker，按 RetryAt 重新入队，不阻塞等待
	grant := s.limiter.Acquire(j.Domain)
	if !grant.OK {
		wait := time.Until(grant.RetryAt)
		metrics.RateLimitWaitSeconds.WithLabelValues(j.Domain).Observe(wait.Seconds())
		j.State = job.StatePending
		j.NextRetryAt = grant.RetryAt
		if err := s.jobs.Update(ctx, j); err != nil {
			s.logger.Error("requeue for rate limit failed", "job_id", j.ID, "err", err)
		}
		return
	}

	strat, ok := s.registry.At(j.StrategyIndex)
	if !ok {
		s.abandon(ctx, j, j.LastFailure)
		return
	}

	out := s.fetcher.Fetch(ctx, j.URL, strat, j.ExtendTimeout)
	kind := s.classifier.Classify(out)
	metrics.FetchAttemptTotal.WithLabelValues(string(strat.Name), string(kind)).Inc()

	attempt := &job.Attempt{
		JobID:      j.ID,
		Strategy:   strat.Name,
		StartedAt:  out.StartedAt,
		EndedAt:    out.EndedAt,
		StatusCode: out.StatusCode,
		Kind:       kind,
	}
	if out.Err != nil {
		attempt.Error = out.Err.Error()
	}
	if err := s.jobs.AppendAttempt(ctx, attempt); err != nil {
		s.logger.Error("append attempt failed", "job_id", j.ID, "err", err)
	}
	j.AttemptCount++

	if kind == classify.KindSuccess {
		s.handleSuccess(ctx, j, strat, out)
		return
	}
	s.handleFailure(ctx, j, kind)
}

func (s *Scheduler) handleSuccess(ctx context.Context, j *job.FetchJob, strat strategy.Strategy, out fetch.Outcome) {
	// 尝试期间可能到达取消请求：投递前再确认一次，
	// 取消的任务不产生引文
	if t, err := s.tasks.Get(ctx, j.TaskID); err != nil || t == nil || t.CancelRequested {
		s.abandon(ctx, j, "")
		return
	}

	j.State = job.StateValidating
	j.LastFailure = ""
	if err := s.jobs.Update(ctx, j); err != nil {
		s.logger.Error("mark validating failed", "job_id", j.ID, "err", err)
	}

	prov := validate.Provenance{URL: j.URL, FetchedAt: out.EndedAt, Strategy: strat.Name}
	vc, err := s.validator.Validate(ctx, j.ID, j.TaskID, out.Body, out.ContentType, prov)
	switch {
	case errors.Is(err, validate.ErrUnparsable):
		// 抓到了内容但提取不出正文：按 ParseError 走升级策略（即放弃）
		s.handleFailure(ctx, j, classify.KindParseError)
		return
	case err != nil:
		// 评估方不可用。拒绝而非放弃：抓取本身没有问题
		s.logger.Warn("validation unavailable, rejecting", "job_id", j.ID, "err", err)
		s.finalizeJob(ctx, j, job.StateRejected)
		return
	}

	if !vc.Accepted {
		s.logger.Info("content rejected",
			"job_id", j.ID, "reason", vc.Reason, "confidence", vc.Confidence)
		s.finalizeJob(ctx, j, job.StateRejected)
		return
	}

	if _, _, err := s.deliverer.Deliver(ctx, vc); err != nil {
		// 投递预算耗尽：作业按未可用计，任务带部分投递告警完成
		s.logger.Error("delivery failed", "job_id", j.ID, "err", err)
		s.finalizeJob(ctx, j, job.StateRejected)
		return
	}
	s.finalizeJob(ctx, j, job.StateValidated)
}

func (s *Scheduler) handleFailure(ctx context.Context, j *job.FetchJob, kind classify.Kind) {
	j.LastFailure = kind

	history, err := s.jobs.ListAttempts(ctx, j.ID)
	if err != nil {
		s.logger.Error("list attempts failed", "job_id", j.ID, "err", err)
	}
	decision := s.controller.Decide(ctx, j, kind, history)

	switch decision.Action {
	case escalate.ActionRetry, escalate.ActionRetryExtended:
		j.State = job.StatePending
		j.NextRetryAt = time.Now().Add(decision.Delay)
		j.ExtendTimeout = decision.Action == escalate.ActionRetryExtended
		if err := s.jobs.Update(ctx, j); err != nil {
			s.logger.Error("requeue failed", "job_id", j.ID, "err", err)
		}

	case escalate.ActionEscalate:
		next, _ := s.registry.At(decision.NextStrategyIndex)
		metrics.EscalationTotal.WithLabelValues(string(next.Name)).Inc()
		s.logger.Info("escalating strategy",
			"job_id", j.ID, "kind", string(kind), "to", string(next.Name))
		j.State = job.StatePending
		j.StrategyIndex = decision.NextStrategyIndex
		j.AttemptCount = 0
		j.ExtendTimeout = false
		j.NextRetryAt = time.Now()
		if err := s.jobs.Update(ctx, j); err != nil {
			s.logger.Error("escalate failed", "job_id", j.ID, "err", err)
		}

	case escalate.ActionAbandon:
		s.abandon(ctx, j, kind)
	}
}

func (s *Scheduler) abandon(ctx context.Context, j *job.FetchJob, kind classify.Kind) {
	if kind != "" {
		j.LastFailure = kind
	}
	s.finalizeJob(ctx, j, job.StateAbandoned)
}

// finalizeJob 写入终态并触发任务 join barrier
func (s *Scheduler) finalizeJob(ctx context.Context, j *job.FetchJob, state job.State) {
	j.State = state
	if err := s.jobs.Update(ctx, j); err != nil {
		s.logger.Error("finalize job failed", "job_id", j.ID, "err", err)
		return
	}
	metrics.JobTotal.WithLabelValues(string(state)).Inc()
	s.finalizeTaskIfDone(ctx, j.TaskID)
}

// finalizeTaskIfDone join barrier：全部作业终态后收敛任务状态。
// 任一终态转移都会触发检查，最后一个到达者完成收敛。
func (s *Scheduler) finalizeTaskIfDone(ctx context.Context, taskID string) {
	jobs, err := s.jobs.ListByTask(ctx, taskID)
	if err != nil {
		s.logger.Error("list jobs failed", "task_id", taskID, "err", err)
		return
	}
	validated, unreachable := 0, 0
	for _, j := range jobs {
		if !j.State.Terminal() {
			return
		}
		switch j.State {
		case job.StateValidated:
			validated++
		case job.StateAbandoned:
			unreachable++
		}
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil || t == nil || t.Status.Terminal() {
		return
	}

	t.ValidatedCount = validated
	t.UnreachableCount = unreachable
	switch {
	case t.CancelRequested:
		t.Status = research.StatusCancelled
	case validated == 0:
		t.Status = research.StatusFailed
	case validated == len(jobs):
		t.Status = research.StatusCompleted
	default:
		t.Status = research.StatusCompletedWithWarnings
	}
	t.Result = s.composeResult(t, validated, len(jobs))
	t.CompletedAt = time.Now()
	done, err := s.tasks.TryFinalize(ctx, t)
	if err != nil {
		s.logger.Error("finalize task failed", "task_id", taskID, "err", err)
		return
	}
	if !done {
		// 并发的最后两个终态转移：另一个已完成收敛
		return
	}
	metrics.TaskTotal.WithLabelValues(string(t.Status)).Inc()
	s.logger.Info("task finished",
		"task_id", taskID, "status", string(t.Status),
		"validated", validated, "targets", len(jobs))
}

// composeResult 聚合研究结论。对外口径始终是 "N of M targets usable"，
// 不透出底层错误。
func (s *Scheduler) composeResult(t *research.Task, usable, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d targets usable for query %q.\n", usable, total, t.Query)
	for _, vc := range s.contents.ListByTask(t.ID) {
		fmt.Fprintf(&sb, "\n## %s (confidence %.2f, via %s)\n", vc.Provenance.URL, vc.Confidence, vc.Provenance.Strategy)
		text := vc.Text
		if len(text) > 2000 {
			text = text[:2000] + "…"
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
