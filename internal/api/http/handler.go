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

// Package http 任务接入 API：提交 / 查询 / 取消研究任务。
package http

import (
	"bytes"
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"research-platform/internal/fetch/job"
	"research-platform/internal/research"
	"research-platform/pkg/errors"
	"research-platform/pkg/log"
	"research-platform/pkg/metrics"
)

// Intake 任务接入口（scheduler.Scheduler 实现）
type Intake interface {
	Submit(ctx context.Context, query string, targetURLs []string) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// Handler HTTP 处理器
type Handler struct {
	intake Intake
	tasks  research.Store
	jobs   job.Store
	logger *log.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(intake Intake, tasks research.Store, jobs job.Store, logger *log.Logger) *Handler {
	return &Handler{
		intake: intake,
		tasks:  tasks,
		jobs:   jobs,
		logger: logger.Component("api"),
	}
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "research-platform",
	})
}

type submitRequest struct {
	Query      string   `json:"query"`
	TargetURLs []string `json:"target_urls"`
}

// CreateResearch 提交研究任务
// POST /api/research
func (h *Handler) CreateResearch(c context.Context, ctx *app.RequestContext) {
	var req submitRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	taskID, err := h.intake.Submit(c, req.Query, req.TargetURLs)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidArg) {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("submit task failed", "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "submit failed"})
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]string{"task_id": taskID})
}

type analyzeRequest struct {
	URL string `json:"url"`
}

// Analyze 对单个 URL 走完整抓取校验管线（单目标任务的便捷入口）
// POST /api/analyze
func (h *Handler) Analyze(c context.Context, ctx *app.RequestContext) {
	var req analyzeRequest
	if err := ctx.BindJSON(&req); err != nil || req.URL == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	taskID, err := h.intake.Submit(c, "analyze "+req.URL, []string{req.URL})
	if err != nil {
		h.logger.Error("submit analyze failed", "url", req.URL, "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "submit failed"})
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]string{"task_id": taskID})
}

// ListResearch 列出任务
// GET /api/research
func (h *Handler) ListResearch(c context.Context, ctx *app.RequestContext) {
	tasks, err := h.tasks.List(c)
	if err != nil {
		h.logger.Error("list tasks failed", "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	out := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskSummary(t))
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"tasks": out,
		"total": len(out),
	})
}

// GetResearch 任务快照（含每个目标的作业状态）
// GET /api/research/:id
func (h *Handler) GetResearch(c context.Context, ctx *app.RequestContext) {
	taskID := ctx.Param("id")
	t, err := h.tasks.Get(c, taskID)
	if err != nil {
		h.logger.Error("get task failed", "task_id", taskID, "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if t == nil {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	jobs, err := h.jobs.ListByTask(c, taskID)
	if err != nil {
		h.logger.Error("list jobs failed", "task_id", taskID, "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	jobViews := make([]map[string]interface{}, 0, len(jobs))
	for _, j := range jobs {
		jobViews = append(jobViews, map[string]interface{}{
			"id":             j.ID,
			"url":            j.URL,
			"state":          string(j.State),
			"strategy_index": j.StrategyIndex,
			"attempt_count":  j.AttemptCount,
			"last_failure":   string(j.LastFailure),
		})
	}

	view := taskSummary(t)
	view["result"] = t.Result
	view["jobs"] = jobViews
	ctx.JSON(consts.StatusOK, view)
}

// CancelResearch 请求取消任务
// POST /api/research/:id/cancel
func (h *Handler) CancelResearch(c context.Context, ctx *app.RequestContext) {
	taskID := ctx.Param("id")
	if err := h.intake.Cancel(c, taskID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		h.logger.Error("cancel task failed", "task_id", taskID, "err", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "cancel failed"})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"status": "cancel requested"})
}

// Metrics Prometheus 文本格式指标
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "gather failed"})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

func taskSummary(t *research.Task) map[string]interface{} {
	view := map[string]interface{}{
		"id":                t.ID,
		"query":             t.Query,
		"status":            string(t.Status),
		"target_urls":       t.TargetURLs,
		"total_targets":     t.TotalTargets,
		"validated_count":   t.ValidatedCount,
		"unreachable_count": t.UnreachableCount,
		"created_at":        t.CreatedAt,
	}
	if !t.CompletedAt.IsZero() {
		view["completed_at"] = t.CompletedAt
	}
	return view
}
