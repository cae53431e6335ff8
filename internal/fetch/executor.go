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

// Package fetch 抓取执行层：按指定策略对单个 URL 执行一次受控尝试。
// 不做重试、不做分类，失败以 Outcome 字段形式交给上层判定。
package fetch

import (
	"context"
	"net"
	"net/url"
	"time"

	"research-platform/internal/fetch/strategy"
	"research-platform/pkg/config"
	"research-platform/pkg/errors"
	"research-platform/pkg/metrics"
)

// Transport 按身份执行一次底层抓取。实现方不负责超时与计时，
// 由 Executor 统一控制。
type Transport interface {
	Do(ctx context.Context, rawURL string, ident Identity) Outcome
}

// Executor 抓取执行器：身份随机化、请求间隔抖动、单次尝试硬超时
type Executor struct {
	pool       *IdentityPool
	transports map[strategy.Kind]Transport

	attemptTimeout  time.Duration
	extendedTimeout time.Duration
	jitterMin       time.Duration
	jitterMax       time.Duration
}

// NewExecutor 按配置创建执行器并装配默认传输（plain/proxy 走 HTTP，
// rendered 走无头浏览器）
func NewExecutor(cfg config.FetchConfig, pool *IdentityPool) *Executor {
	e := &Executor{
		pool:            pool,
		attemptTimeout:  config.ParseDuration(cfg.AttemptTimeout, 15*time.Second),
		extendedTimeout: config.ParseDuration(cfg.ExtendedTimeout, 45*time.Second),
		jitterMin:       config.ParseDuration(cfg.JitterMin, 50*time.Millisecond),
		jitterMax:       config.ParseDuration(cfg.JitterMax, 800*time.Millisecond),
		transports:      make(map[strategy.Kind]Transport),
	}
	httpTr := newHTTPTransport()
	e.transports[strategy.KindPlain] = httpTr
	e.transports[strategy.KindProxy] = httpTr
	e.transports[strategy.KindRendered] = newRenderedTransport()
	return e
}

// SetTransport 替换某一策略的传输实现
func (e *Executor) SetTransport(kind strategy.Kind, t Transport) {
	e.transports[kind] = t
}

// Fetch 执行一次尝试。extended 为 true 时使用放宽的超时上限
// （慢站点超时后的一次宽限重试）。
func (e *Executor) Fetch(ctx context.Context, rawURL string, strat strategy.Strategy, extended bool) Outcome {
	tr, ok := e.transports[strat.Name]
	if !ok {
		return Outcome{
			Strategy:  strat.Name,
			StartedAt: time.Now(),
			EndedAt:   time.Now(),
			Err:       errors.Wrapf(errors.ErrInvalidArg, "no transport for strategy %s", strat.Name),
		}
	}

	// 请求前抖动，避免固定节奏
	if wait := e.pool.Jitter(e.jitterMin, e.jitterMax); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Strategy: strat.Name, StartedAt: time.Now(), EndedAt: time.Now(), Err: ctx.Err()}
		case <-timer.C:
		}
	}

	timeout := e.attemptTimeout
	if extended {
		timeout = e.extendedTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ident := e.pool.Next(strat.RotatesIdentity)

	start := time.Now()
	out := tr.Do(attemptCtx, rawURL, ident)
	out.Strategy = strat.Name
	out.StartedAt = start
	out.EndedAt = time.Now()

	if attemptCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		if out.Err == nil {
			out.Err = attemptCtx.Err()
		}
	} else if out.Err != nil && isTimeoutErr(out.Err) {
		out.TimedOut = true
	}

	metrics.FetchAttemptDuration.WithLabelValues(string(strat.Name)).Observe(out.Duration().Seconds())
	return out
}

// Close 释放持有外部资源的传输（无头浏览器实例）
func (e *Executor) Close() error {
	var firstErr error
	seen := make(map[Transport]bool)
	for _, tr := range e.transports {
		if seen[tr] {
			continue
		}
		seen[tr] = true
		if c, ok := tr.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}
