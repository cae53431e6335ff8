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

package ratelimit

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class 单个域名类别的 token bucket 参数
type Class struct {
	Capacity        int     // 桶容量
	RefillPerSecond float64 // 每秒补充 token 数
}

// Config 域名限流配置；未知域名使用 Default
type Config struct {
	Default Class
	Domains map[string]Class // 域名级覆盖
}

// Token 一次抓取尝试的预算凭证，由 Executor 消费
type Token struct {
	Domain    string
	GrantedAt time.Time
}

// Grant Acquire 的结果：授予 token，或给出下次可尝试的时刻。
// 不阻塞调用方：拿不到 token 时返回 RetryAt，由调度层按该时刻重新排队。
type Grant struct {
	OK      bool
	Token   Token
	RetryAt time.Time
}

// Limiter 按域名限流器；每个域名一个 token bucket，bucket 的读改写由
// x/time/rate 内部串行化，map 本身由 mu 保护。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	config  Config
}

// NewLimiter 创建按域名限流器
func NewLimiter(config Config) *Limiter {
	if config.Default.Capacity <= 0 {
		config.Default.Capacity = 4
	}
	if config.Default.RefillPerSecond <= 0 {
		config.Default.RefillPerSecond = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		config:  config,
	}
}

// Acquire 尝试为 domain 取一个 token。授予失败时返回建议的重试时刻，
// 调用方不得在此处自旋等待。
func (l *Limiter) Acquire(domain string) Grant {
	bucket := l.bucketFor(domain)

	r := bucket.Reserve()
	if !r.OK() {
		// burst=0 等非法配置；按 1s 后重试兜底
		return Grant{RetryAt: time.Now().Add(time.Second)}
	}
	delay := r.Delay()
	if delay == 0 {
		return Grant{OK: true, Token: Token{Domain: domain, GrantedAt: time.Now()}}
	}
	// 取不到即时 token：退还预约，给出调度时刻
	r.Cancel()
	return Grant{RetryAt: time.Now().Add(delay)}
}

func (l *Limiter) bucketFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[domain]; ok {
		return b
	}
	class := l.config.Default
	if override, ok := l.config.Domains[domain]; ok {
		if override.Capacity > 0 {
			class.Capacity = override.Capacity
		}
		if override.RefillPerSecond > 0 {
			class.RefillPerSecond = override.RefillPerSecond
		}
	}
	b := rate.NewLimiter(rate.Limit(class.RefillPerSecond), class.Capacity)
	l.buckets[domain] = b
	return b
}

// DomainOf 从 URL 提取归一化域名（小写、去端口）；解析失败时返回原串
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
