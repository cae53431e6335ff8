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

// Package escalate 升级控制器：持有 FetchJob 状态机的转移策略。
// 每次 Failed(kind) 评估一次，产出重试 / 升级 / 放弃决策。
package escalate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"research-platform/internal/fetch/classify"
	"research-platform/internal/fetch/job"
	"research-platform/internal/fetch/strategy"
	"research-platform/pkg/config"
	"research-platform/pkg/utils"
)

// Action 决策动作
type Action string

const (
	// ActionRetry 同策略退避后重试
	ActionRetry Action = "retry"
	// ActionRetryExtended 同策略放宽超时重试一次（仅 Timeout 后）
	ActionRetryExtended Action = "retry_extended"
	// ActionEscalate 升级到更强策略，立即重新入队
	ActionEscalate Action = "escalate"
	// ActionAbandon 放弃该作业
	ActionAbandon Action = "abandon"
)

// Decision 单次评估结果
type Decision struct {
	Action Action
	// Delay 重试前的退避时长；升级与放弃为 0
	Delay time.Duration
	// NextStrategyIndex 升级目标下标；仅 ActionEscalate 有效
	NextStrategyIndex int
}

// Hinter 可选的策略建议方（本地推理模型）。建议仅作参考：
// 只接受比默认升级目标更靠后的前向跳转，永不后退。
type Hinter interface {
	Suggest(ctx context.Context, domain string, pastFailures []string) (string, bool)
}

// Controller 升级控制器；并发安全
type Controller struct {
	registry   *strategy.Registry
	base       time.Duration
	cap        time.Duration
	maxRetries int
	hinter     Hinter

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewController 按配置创建控制器；hinter 可为 nil
func NewController(cfg config.EscalationConfig, reg *strategy.Registry, hinter Hinter) *Controller {
	return &Controller{
		registry:   reg,
		base:       config.ParseDuration(cfg.BackoffBase, 500*time.Millisecond),
		cap:        config.ParseDuration(cfg.BackoffCap, 30*time.Second),
		maxRetries: utils.DefaultInt(cfg.MaxRetriesPerStrategy, 3),
		hinter:     hinter,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide 评估一次失败。history 为该作业的全部尝试记录（含刚失败的这次）。
func (c *Controller) Decide(ctx context.Context, j *job.FetchJob, kind classify.Kind, history []*job.Attempt) Decision {
	switch kind {
	case classify.KindParseError:
		// 内容存在但不可解析，重试无意义
		return Decision{Action: ActionAbandon}

	case classify.KindTimeout:
		if !j.ExtendTimeout && !c.repeatedKind(j, kind, history) {
			return Decision{Action: ActionRetryExtended, Delay: c.Backoff(j.AttemptCount)}
		}
		return c.escalate(ctx, j, history)

	case classify.KindBlocked:
		return c.escalate(ctx, j, history)

	case classify.KindTransientNetwork, classify.KindRateLimited:
		if j.AttemptCount >= c.maxRetries || c.repeatedKind(j, kind, history) {
			return c.escalate(ctx, j, history)
		}
		return Decision{Action: ActionRetry, Delay: c.Backoff(j.AttemptCount)}

	default:
		return Decision{Action: ActionAbandon}
	}
}

// repeatedKind 当前策略下最近两次尝试是否同类失败。
// 同类连败说明目标行为不会变，继续同策略重试只会空转。
func (c *Controller) repeatedKind(j *job.FetchJob, kind classify.Kind, history []*job.Attempt) bool {
	strat, ok := c.registry.At(j.StrategyIndex)
	if !ok {
		return false
	}
	same := 0
	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		if a.Strategy != strat.Name || a.Kind != kind {
			break
		}
		same++
	}
	return same >= 2
}

func (c *Controller) escalate(ctx context.Context, j *job.FetchJob, history []*job.Attempt) Decision {
	_, nextIdx, ok := c.registry.Next(j.StrategyIndex)
	if !ok {
		return Decision{Action: ActionAbandon}
	}

	if c.hinter != nil {
		var past []string
		for _, a := range history {
			if a.Kind != classify.KindSuccess {
				past = append(past, string(a.Kind))
			}
		}
		if name, ok := c.hinter.Suggest(ctx, j.Domain, past); ok {
			// 建议只在前向时采纳
			if idx := c.registry.IndexOf(strategy.Kind(name)); idx > nextIdx {
				nextIdx = idx
			}
		}
	}
	return Decision{Action: ActionEscalate, NextStrategyIndex: nextIdx}
}

// Backoff 第 n 次重试的退避：base × 2^(n-1) 加一个 base 以内的随机抖动，
// 指数部分不超过 cap。n < 1 时按 1 处理。
func (c *Controller) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.cap {
			d = c.cap
			break
		}
	}
	c.mu.Lock()
	jitter := time.Duration(c.rnd.Int63n(int64(c.base)))
	c.mu.Unlock()
	return d + jitter
}
