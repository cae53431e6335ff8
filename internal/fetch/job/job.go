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

// Package job 抓取作业模型与存储。一个 FetchJob 对应任务里的一个目标 URL，
// 状态机由 Escalation Controller 驱动。
package job

import (
	"time"

	"research-platform/internal/fetch/classify"
	"research-platform/internal/fetch/strategy"
)

// State FetchJob 状态
type State string

const (
	StatePending    State = "pending"
	StateInFlight   State = "in_flight"
	StateValidating State = "validating"
	// StateValidated 终态：校验通过并已交付
	StateValidated State = "validated"
	// StateRejected 终态：校验方拒绝（置信度不足或矛盾）
	StateRejected State = "rejected"
	// StateAbandoned 终态：升级策略耗尽或不可重试失败
	StateAbandoned State = "abandoned"
)

// Terminal 是否终态
func (s State) Terminal() bool {
	return s == StateValidated || s == StateRejected || s == StateAbandoned
}

// FetchJob 单个目标 URL 的抓取作业
type FetchJob struct {
	ID     string
	TaskID string
	URL    string
	Domain string

	State State
	// StrategyIndex 当前策略在目录中的下标；只增不减
	StrategyIndex int
	// AttemptCount 当前策略下已执行的尝试数，升级时归零
	AttemptCount int
	// LastFailure 最近一次失败类别，终态 Abandoned 时即放弃原因
	LastFailure classify.Kind
	// NextRetryAt 退避到期时刻，Pending 且到期才可被认领
	NextRetryAt time.Time
	// ExtendTimeout 下一次尝试使用放宽超时（Timeout 后的一次宽限重试）
	ExtendTimeout bool
	// LeaseExpiresAt 认领租约到期时刻。持有方崩溃后租约过期，
	// 作业可被重新认领（跨进程恢复）
	LeaseExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attempt 单次抓取尝试的审计记录。同一 Job 的尝试严格串行，
// 执行窗口不重叠。
type Attempt struct {
	ID         string
	JobID      string
	Strategy   strategy.Kind
	StartedAt  time.Time
	EndedAt    time.Time
	StatusCode int
	// Kind 分类结果（含 success）
	Kind classify.Kind
	// Error 网络层错误文本，无则为空
	Error string
}
