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

// Package worker Worker 应用：从共享存储认领作业并执行抓取校验管线。
package worker

import (
	"context"
	"fmt"

	"research-platform/internal/app"
	"research-platform/internal/scheduler"
	"research-platform/pkg/config"
	"research-platform/pkg/log"
)

// App Worker 应用
type App struct {
	config       *config.Config
	logger       *log.Logger
	bootstrap    *app.Bootstrap
	sched        *scheduler.Scheduler
	schedCleanup func()
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(cfg *config.Config) (*App, error) {
	bootstrap, err := app.NewBootstrap(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}

	if cfg.Storage.JobStore.Type != "postgres" {
		bootstrap.Logger.Warn("作业存储为内存模式，Worker 只能看到本进程提交的作业")
	}

	sched, cleanup, err := bootstrap.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("装配调度器失败: %w", err)
	}

	return &App{
		config:       cfg,
		logger:       bootstrap.Logger,
		bootstrap:    bootstrap,
		sched:        sched,
		schedCleanup: cleanup,
	}, nil
}

// Start 启动认领循环
func (a *App) Start() error {
	a.logger.Info("Worker 启动",
		"max_concurrency", a.config.Scheduler.MaxConcurrency,
		"job_store", a.config.Storage.JobStore.Type)
	a.sched.Start()
	return nil
}

// Shutdown 停止认领并等待在途作业结束
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Worker 停止中")
	done := make(chan struct{})
	go func() {
		a.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.schedCleanup()
	a.bootstrap.Close()
	return nil
}
