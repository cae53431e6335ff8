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

// Package app 统一初始化：供 api 与 worker 复用，避免在 cmd 内写装配逻辑。
package app

import (
	"context"
	"fmt"

	"research-platform/internal/citation"
	"research-platform/internal/deliver"
	"research-platform/internal/fetch"
	"research-platform/internal/fetch/classify"
	"research-platform/internal/fetch/escalate"
	"research-platform/internal/fetch/job"
	"research-platform/internal/fetch/strategy"
	"research-platform/internal/model/llm"
	"research-platform/internal/ratelimit"
	"research-platform/internal/research"
	"research-platform/internal/scheduler"
	"research-platform/internal/validate"
	"research-platform/pkg/config"
	"research-platform/pkg/log"
	"research-platform/pkg/secrets"
)

// Bootstrap 进程级共享依赖（配置、日志、Secret、三类存储）
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Secrets secrets.Store
	Tasks   research.Store
	Jobs    job.Store
	Records deliver.RecordStore

	closers []func()
}

// NewBootstrap 根据配置创建 Bootstrap
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	b := &Bootstrap{Config: cfg, Logger: logger}

	if cfg != nil && cfg.Secrets.Provider != "" {
		store, err := secrets.NewStore(secrets.Config{
			Provider: cfg.Secrets.Provider,
			Config:   cfg.Secrets.Config,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Secret Store 失败: %w", err)
		}
		b.Secrets = store
	}

	if err := b.initStores(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bootstrap) initStores() error {
	ctx := context.Background()

	taskCfg := b.Config.Storage.TaskStore
	switch taskCfg.Type {
	case "postgres":
		store, err := research.NewStorePg(ctx, taskCfg.DSN)
		if err != nil {
			return fmt.Errorf("初始化任务存储(postgres)失败: %w", err)
		}
		b.Tasks = store
		b.closers = append(b.closers, store.Close)
	default:
		b.Tasks = research.NewStoreMem()
	}

	jobCfg := b.Config.Storage.JobStore
	lease := config.ParseDuration(jobCfg.Lease, job.DefaultLease)
	switch jobCfg.Type {
	case "postgres":
		store, err := job.NewStorePg(ctx, jobCfg.DSN)
		if err != nil {
			return fmt.Errorf("初始化作业存储(postgres)失败: %w", err)
		}
		store.SetLease(lease)
		b.Jobs = store
		b.closers = append(b.closers, store.Close)
	default:
		store := job.NewStoreMem()
		store.SetLease(lease)
		b.Jobs = store
	}

	recCfg := b.Config.Storage.DeliveryRecord
	switch recCfg.Type {
	case "redis":
		password, err := secrets.Resolve(ctx, b.Secrets, recCfg.Password)
		if err != nil {
			return fmt.Errorf("解析 Redis 密码失败: %w", err)
		}
		store, err := deliver.NewRecordStoreRedis(recCfg.Addr, password)
		if err != nil {
			return fmt.Errorf("初始化投递记录(redis)失败: %w", err)
		}
		b.Records = store
		b.closers = append(b.closers, func() { _ = store.Close() })
	case "postgres":
		store, err := deliver.NewRecordStorePg(ctx, recCfg.DSN)
		if err != nil {
			return fmt.Errorf("初始化投递记录(postgres)失败: %w", err)
		}
		b.Records = store
		b.closers = append(b.closers, store.Close)
	default:
		b.Records = deliver.NewRecordStoreMem()
	}
	return nil
}

// NewScheduler 装配完整抓取校验管线。cleanup 释放执行器持有的资源
// （无头浏览器等），Stop 调度器之后调用。
func (b *Bootstrap) NewScheduler() (*scheduler.Scheduler, func(), error) {
	cfg := b.Config

	pool := fetch.NewIdentityPool(cfg.Fetch.UserAgents, cfg.Fetch.Proxies)
	executor := fetch.NewExecutor(cfg.Fetch, pool)
	registry := strategy.DefaultRegistry()
	contents := validate.NewContentStore()

	inference := llm.NewOllamaClient(cfg.Inference, b.Logger)

	apiKey, err := secrets.Resolve(context.Background(), b.Secrets, cfg.Delivery.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("解析引文协作方凭证失败: %w", err)
	}
	recorder := citation.NewClient(cfg.Delivery, apiKey)

	sched := scheduler.NewScheduler(cfg.Scheduler, scheduler.Deps{
		Tasks:      b.Tasks,
		Jobs:       b.Jobs,
		Contents:   contents,
		Limiter:    ratelimit.NewLimiter(rateLimitConfig(cfg.RateLimit)),
		Registry:   registry,
		Fetcher:    executor,
		Classifier: classify.NewClassifier(),
		Controller: escalate.NewController(cfg.Escalation, registry, inference),
		Validator:  validate.NewValidator(cfg.Validation, inference, contents),
		Deliverer:  deliver.NewDeliverer(cfg.Delivery, b.Records, recorder, b.Logger),
		Logger:     b.Logger,
	})
	cleanup := func() { _ = executor.Close() }
	return sched, cleanup, nil
}

// SchedulerEnabled 控制面 / 数据面拆分：作业存储为 postgres 时默认
// API 不跑调度循环（由独立 Worker 认领执行）；scheduler.enabled 可显式覆盖。
func (b *Bootstrap) SchedulerEnabled() bool {
	enabled := b.Config.Storage.JobStore.Type != "postgres"
	if b.Config.Scheduler.Enabled != nil {
		enabled = *b.Config.Scheduler.Enabled
	}
	return enabled
}

// Close 释放 Bootstrap 持有的连接
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func rateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	out := ratelimit.Config{
		Default: ratelimit.Class{
			Capacity:        cfg.Default.Capacity,
			RefillPerSecond: cfg.Default.RefillPerSecond,
		},
	}
	if len(cfg.Domains) > 0 {
		out.Domains = make(map[string]ratelimit.Class, len(cfg.Domains))
		for domain, class := range cfg.Domains {
			out.Domains[domain] = ratelimit.Class{
				Capacity:        class.Capacity,
				RefillPerSecond: class.RefillPerSecond,
			}
		}
	}
	return out
}
