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

// Package research 研究任务模型与存储。任务聚合同一批目标 URL 的
// 抓取作业，所有作业到达终态后由 join barrier 收敛任务状态。
package research

import (
	"time"
)

// Status 任务状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusFetching Status = "fetching"
	// StatusCompleted 全部目标产出可用内容
	StatusCompleted Status = "completed"
	// StatusCompletedWithWarnings 部分目标不可达或被拒，任务仍用
	// 成功的部分完成
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	// StatusFailed 没有任何目标产出可用内容
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 是否终态
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task 一次研究任务
type Task struct {
	ID    string
	Query string
	// TargetURLs 规划出的目标列表；提交后不可变
	TargetURLs []string
	Status     Status
	// Result 已接受内容拼合的研究结论文本，终态时填充
	Result string
	// TotalTargets / ValidatedCount / UnreachableCount 聚合统计：
	// 对外失败口径永远是 "N of M targets usable"
	TotalTargets     int
	ValidatedCount   int
	UnreachableCount int
	// CancelRequested 取消信号；执行侧在尝试边界检查，不打断进行中的网络调用
	CancelRequested bool
	// Deadline 任务级 wall-clock 上限，到点后剩余作业 Abandoned
	Deadline time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}
