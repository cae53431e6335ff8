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

// Package api API 应用：装配 HTTP Router 与调度器。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	apihttp "research-platform/internal/api/http"
	"research-platform/internal/app"
	"research-platform/internal/scheduler"
)

// otelProviderShutdown 优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用。单机模式下调度循环跑在进程内；分布式模式
// （作业存储 = postgres）下 API 只做控制面，执行交给 Worker。
type App struct {
	bootstrap    *app.Bootstrap
	router       *apihttp.Router
	hertz        *server.Hertz
	sched        *scheduler.Scheduler
	schedCleanup func()
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	sched, cleanup, err := bootstrap.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("装配调度器失败: %w", err)
	}

	handler := apihttp.NewHandler(sched, bootstrap.Tasks, bootstrap.Jobs, bootstrap.Logger)
	return &App{
		bootstrap:    bootstrap,
		router:       apihttp.NewRouter(handler),
		sched:        sched,
		schedCleanup: cleanup,
	}, nil
}

// Run 启动 HTTP 服务；阻塞直到 Shutdown
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)

	// Hertz 框架日志走 slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if cfg != nil && cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	if cfg != nil {
		switch cfg.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		default:
			levelVar.Set(slog.LevelInfo)
		}
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选链路追踪
	if cfg != nil && cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "research-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		}
	}
	if a.hertz == nil {
		a.hertz = a.router.Build(addr)
	}

	if a.bootstrap.SchedulerEnabled() {
		a.sched.Start()
		a.bootstrap.Logger.Info("进程内调度循环已启动")
	} else {
		a.bootstrap.Logger.Info("控制面模式：作业由 Worker 认领执行")
	}

	a.hertz.Spin()
	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	a.sched.Stop()
	a.schedCleanup()
	if a.otelProvider != nil {
		if err := a.otelProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.bootstrap.Close()
	return firstErr
}
