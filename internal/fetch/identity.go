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

package fetch

import (
	"math/rand"
	"sync"
	"time"
)

// Identity 单次尝试使用的请求身份（随机化请求元数据 + 可选代理出口）
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	ProxyURL       string
}

// 内置 UA 池；config 提供 user_agents 时覆盖
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

var defaultLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8",
	"en-US,en;q=0.9,de;q=0.6",
	"en;q=0.9,fr;q=0.5",
}

// IdentityPool 共享反检测状态（UA / 语言 / 代理池）。显式注入 Executor，
// 生命周期为进程级；测试可替换为全新实例。
type IdentityPool struct {
	mu         sync.Mutex
	userAgents []string
	languages  []string
	proxies    []string
	nextProxy  int
	rnd        *rand.Rand
}

// NewIdentityPool 创建身份池；userAgents / proxies 可为空
func NewIdentityPool(userAgents, proxies []string) *IdentityPool {
	uas := userAgents
	if len(uas) == 0 {
		uas = defaultUserAgents
	}
	return &IdentityPool{
		userAgents: uas,
		languages:  defaultLanguages,
		proxies:    proxies,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next 产生一个随机身份；rotateProxy 为 true 且配置了代理池时轮换出口
func (p *IdentityPool) Next(rotateProxy bool) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	ident := Identity{
		UserAgent:      p.userAgents[p.rnd.Intn(len(p.userAgents))],
		AcceptLanguage: p.languages[p.rnd.Intn(len(p.languages))],
	}
	if rotateProxy && len(p.proxies) > 0 {
		ident.ProxyURL = p.proxies[p.nextProxy%len(p.proxies)]
		p.nextProxy++
	}
	return ident
}

// Jitter 返回 [min, max] 内的随机时长，用于模拟人工操作间隔
func (p *IdentityPool) Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rnd.Int63n(int64(max-min)))
}
