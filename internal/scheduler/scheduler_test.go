package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"research-platform/pkg/log"
)

// scriptedFetcher 按 URL 依次回放预设结果；脚本耗尽后重复最后一条
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetch.Outcome
	used    map[string][]strategy.Kind
	// onFetch 首次抓取时触发一次，模拟尝试进行中到达的外部事件
	onFetch func()
	fired   bool
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]fetch.Outcome),
		used:    make(map[string][]strategy.Kind),
	}
}

func (f *scriptedFetcher) script(url string, outcomes ...fetch.Outcome) {
	f.scripts[url] = outcomes
}

func (f *scriptedFetcher) Fetch(ctx context.Context, rawURL string, strat strategy.Strategy, extended bool) fetch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFetch != nil && !f.fired {
		f.fired = true
		f.onFetch()
	}
	f.used[rawURL] = append(f.used[rawURL], strat.Name)
	queue := f.scripts[rawURL]
	var out fetch.Outcome
	switch {
	case len(queue) == 0:
		out = fetch.Outcome{Err: context.Canceled}
	case len(queue) == 1:
		out = queue[0]
	default:
		out = queue[0]
		f.scripts[rawURL] = queue[1:]
	}
	out.Strategy = strat.Name
	out.StartedAt = time.Now()
	out.EndedAt = out.StartedAt.Add(time.Millisecond)
	return out
}

type fixedAssessor struct{ score float64 }

func (a fixedAssessor) AssessConfidence(ctx context.Context, text string, crossRefs []string) (float64, bool, error) {
	return a.score, false, nil
}

type countingRecorder struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRecorder) Record(ctx context.Context, content *validate.ValidatedContent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "cite-" + content.JobID, nil
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type harness struct {
	sched    *Scheduler
	tasks    *research.StoreMem
	jobs     *job.StoreMem
	records  *deliver.RecordStoreMem
	recorder *countingRecorder
	fetcher  *scriptedFetcher
}

func newHarness(t *testing.T, score float64) *harness {
	return newHarnessWithTimeout(t, score, "30s")
}

func newHarnessWithTimeout(t *testing.T, score float64, taskTimeout string) *harness {
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)

	tasks := research.NewStoreMem()
	jobs := job.NewStoreMem()
	contents := validate.NewContentStore()
	records := deliver.NewRecordStoreMem()
	recorder := &countingRecorder{}
	fetcher := newScriptedFetcher()
	registry := strategy.DefaultRegistry()

	sched := NewScheduler(config.SchedulerConfig{
		MaxConcurrency: 3,
		TaskTimeout:    taskTimeout,
		IdleInterval:   "5ms",
	}, Deps{
		Tasks:    tasks,
		Jobs:     jobs,
		Contents: contents,
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{Default: ratelimit.Class{Capacity: 100, RefillPerSecond: 1000}}),
		Registry: registry,
		Fetcher:  fetcher,
		Classifier: classify.NewClassifier(),
		Controller: escalate.NewController(config.EscalationConfig{
			BackoffBase: "1ms", BackoffCap: "5ms", MaxRetriesPerStrategy: 3,
		}, registry, nil),
		Validator: validate.NewValidator(config.ValidationConfig{ConfidenceThreshold: 0.7}, fixedAssessor{score: score}, contents),
		Deliverer: deliver.NewDeliverer(config.DeliveryConfig{RetryMax: 2, Backoff: "1ms"}, records, recorder, logger),
		Logger:    logger,
	})
	return &harness{sched: sched, tasks: tasks, jobs: jobs, records: records, recorder: recorder, fetcher: fetcher}
}

func (h *harness) waitTerminal(t *testing.T, taskID string) *research.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.tasks.Get(context.Background(), taskID)
		require.NoError(t, err)
		if got != nil && got.Status.Terminal() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", taskID)
	return nil
}

func okOutcome(body string) fetch.Outcome {
	return fetch.Outcome{StatusCode: 200, Body: []byte("<html><body><p>" + body + "</p></body></html>"), ContentType: "text/html"}
}

func TestThreeTargetScenario(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	// 目标 1:连续两次被封锁，升级两级后在 proxy 策略成功
	h.fetcher.script("https://a.example.com/page",
		fetch.Outcome{StatusCode: 403},
		fetch.Outcome{StatusCode: 403},
		okOutcome("content from a"),
	)
	// 目标 2:超时一次，宽限重试成功
	h.fetcher.script("https://b.example.com/page",
		fetch.Outcome{TimedOut: true, Err: context.DeadlineExceeded},
		okOutcome("content from b"),
	)
	// 目标 3:抓到了但没有正文
	h.fetcher.script("https://c.example.com/page",
		fetch.Outcome{StatusCode: 200, Body: []byte("   "), ContentType: "text/html"},
	)

	taskID, err := h.sched.Submit(ctx, "research query", []string{
		"https://a.example.com/page",
		"https://b.example.com/page",
		"https://c.example.com/page",
	})
	require.NoError(t, err)

	h.sched.Start()
	defer h.sched.Stop()
	got := h.waitTerminal(t, taskID)

	assert.Equal(t, research.StatusCompletedWithWarnings, got.Status)
	assert.Equal(t, 2, got.ValidatedCount)
	assert.Equal(t, 1, got.UnreachableCount)
	assert.Equal(t, 2, h.recorder.count())
	assert.Contains(t, got.Result, "2 of 3 targets usable")

	jobs, err := h.jobs.ListByTask(ctx, taskID)
	require.NoError(t, err)
	states := map[string]job.State{}
	for _, j := range jobs {
		states[j.URL] = j.State
	}
	assert.Equal(t, job.StateValidated, states["https://a.example.com/page"])
	assert.Equal(t, job.StateValidated, states["https://b.example.com/page"])
	assert.Equal(t, job.StateAbandoned, states["https://c.example.com/page"])

	// 被封锁目标的策略序列单调升级
	reg := strategy.DefaultRegistry()
	used := h.fetcher.used["https://a.example.com/page"]
	require.Len(t, used, 3)
	for i := 1; i < len(used); i++ {
		assert.Greater(t, reg.IndexOf(used[i]), reg.IndexOf(used[i-1]))
	}
}

func TestStrategyIndexMonotoneAcrossAttempts(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	h.fetcher.script("https://a.example.com/page",
		fetch.Outcome{Err: context.Canceled},      // transient, retry plain
		fetch.Outcome{StatusCode: 403},            // blocked, escalate
		fetch.Outcome{StatusCode: 403},            // blocked on rendered, escalate
		okOutcome("finally"),
	)
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://a.example.com/page"})
	require.NoError(t, err)

	h.sched.Start()
	defer h.sched.Stop()
	h.waitTerminal(t, taskID)

	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	require.Len(t, jobs, 1)
	attempts, err := h.jobs.ListAttempts(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, attempts)

	reg := strategy.DefaultRegistry()
	for i := 1; i < len(attempts); i++ {
		assert.GreaterOrEqual(t, reg.IndexOf(attempts[i].Strategy), reg.IndexOf(attempts[i-1].Strategy))
		// 执行窗口不重叠
		assert.False(t, attempts[i].StartedAt.Before(attempts[i-1].EndedAt))
	}
}

func TestLowConfidenceRejectsWithoutDelivery(t *testing.T) {
	h := newHarness(t, 0.4)
	ctx := context.Background()

	h.fetcher.script("https://a.example.com/page", okOutcome("dubious content"))
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://a.example.com/page"})
	require.NoError(t, err)

	h.sched.Start()
	defer h.sched.Stop()
	got := h.waitTerminal(t, taskID)

	assert.Equal(t, research.StatusFailed, got.Status)
	assert.Zero(t, h.recorder.count())

	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StateRejected, jobs[0].State)
}

func TestResumeAfterDeliveryAckDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	h.fetcher.script("https://a.example.com/page", okOutcome("stable content"))
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://a.example.com/page"})
	require.NoError(t, err)

	h.sched.Start()
	got := h.waitTerminal(t, taskID)
	h.sched.Stop()
	require.Equal(t, research.StatusCompleted, got.Status)
	require.Equal(t, 1, h.recorder.count())

	// 模拟崩溃在投递确认之后、任务状态落盘之前：作业回到 Pending，
	// 任务回到 fetching，投递记录仍在
	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	j := jobs[0]
	j.State = job.StatePending
	j.NextRetryAt = time.Time{}
	require.NoError(t, h.jobs.Update(ctx, j))
	got.Status = research.StatusFetching
	got.CompletedAt = time.Time{}
	require.NoError(t, h.tasks.Update(ctx, got))

	h.fetcher.script("https://a.example.com/page", okOutcome("stable content"))
	h.sched.Start()
	resumed := h.waitTerminal(t, taskID)
	h.sched.Stop()

	assert.Equal(t, research.StatusCompleted, resumed.Status)
	// 重放抓取与校验，但引文只有一条
	assert.Equal(t, 1, h.recorder.count())
}

func TestCancelAbandonsRemainingJobs(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	h.fetcher.script("https://a.example.com/page", okOutcome("content"))
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://a.example.com/page"})
	require.NoError(t, err)

	// 先取消，再启动：认领边界检查到取消信号
	require.NoError(t, h.sched.Cancel(ctx, taskID))
	h.sched.Start()
	defer h.sched.Stop()
	got := h.waitTerminal(t, taskID)

	assert.Equal(t, research.StatusCancelled, got.Status)
	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	assert.Equal(t, job.StateAbandoned, jobs[0].State)
	assert.Zero(t, h.recorder.count())
}

func TestCancelDuringAttemptDeliversNothing(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	h.fetcher.script("https://a.example.com/page", okOutcome("content"))
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://a.example.com/page"})
	require.NoError(t, err)

	// 取消请求在尝试进行中到达：抓取本身成功，
	// 但取消的任务不得进入校验与投递
	h.fetcher.onFetch = func() {
		require.NoError(t, h.sched.Cancel(ctx, taskID))
	}

	h.sched.Start()
	defer h.sched.Stop()
	got := h.waitTerminal(t, taskID)

	assert.Equal(t, research.StatusCancelled, got.Status)
	assert.Zero(t, h.recorder.count())

	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StateAbandoned, jobs[0].State)
}

func TestTaskDeadlineAbandonsRemainingJobs(t *testing.T) {
	h := newHarnessWithTimeout(t, 0.9, "1ms")
	ctx := context.Background()

	h.fetcher.script("https://slow.example.com/page", okOutcome("content"))
	taskID, err := h.sched.Submit(ctx, "q", []string{"https://slow.example.com/page"})
	require.NoError(t, err)

	// 越过任务级 wall-clock 上限后才开始认领
	time.Sleep(10 * time.Millisecond)
	h.sched.Start()
	defer h.sched.Stop()
	got := h.waitTerminal(t, taskID)

	assert.Equal(t, research.StatusFailed, got.Status)
	assert.Zero(t, h.recorder.count())

	jobs, _ := h.jobs.ListByTask(ctx, taskID)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StateAbandoned, jobs[0].State)
	assert.Equal(t, classify.KindTimeout, jobs[0].LastFailure)
}

func TestSubmitRejectsEmptyTargets(t *testing.T) {
	h := newHarness(t, 0.9)
	_, err := h.sched.Submit(context.Background(), "q", nil)
	require.Error(t, err)
}

func TestRateLimitedDomainYieldsAndRecovers(t *testing.T) {
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)

	tasks := research.NewStoreMem()
	jobs := job.NewStoreMem()
	contents := validate.NewContentStore()
	recorder := &countingRecorder{}
	fetcher := newScriptedFetcher()
	registry := strategy.DefaultRegistry()

	// 域名预算只有 1，补充较快：第二个作业先让出 worker 再被重新认领
	sched := NewScheduler(config.SchedulerConfig{MaxConcurrency: 2, TaskTimeout: "30s", IdleInterval: "5ms"}, Deps{
		Tasks:    tasks,
		Jobs:     jobs,
		Contents: contents,
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{Default: ratelimit.Class{Capacity: 1, RefillPerSecond: 20}}),
		Registry: registry,
		Fetcher:  fetcher,
		Classifier: classify.NewClassifier(),
		Controller: escalate.NewController(config.EscalationConfig{BackoffBase: "1ms", BackoffCap: "5ms"}, registry, nil),
		Validator:  validate.NewValidator(config.ValidationConfig{ConfidenceThreshold: 0.7}, fixedAssessor{score: 0.9}, contents),
		Deliverer:  deliver.NewDeliverer(config.DeliveryConfig{RetryMax: 2, Backoff: "1ms"}, deliver.NewRecordStoreMem(), recorder, logger),
		Logger:     logger,
	})

	fetcher.script("https://same.example.com/a", okOutcome("a"))
	fetcher.script("https://same.example.com/b", okOutcome("b"))
	taskID, err := sched.Submit(context.Background(), "q", []string{
		"https://same.example.com/a",
		"https://same.example.com/b",
	})
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := tasks.Get(context.Background(), taskID)
		if got != nil && got.Status.Terminal() {
			assert.Equal(t, research.StatusCompleted, got.Status)
			assert.Equal(t, 2, recorder.count())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not complete under rate limiting")
}
