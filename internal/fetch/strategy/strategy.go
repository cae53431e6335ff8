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

// Package strategy 抓取策略目录：封闭集合，按成本从低到高排序，
// 升级只前进不后退。
package strategy

// Kind 策略标识（封闭集合，便于 switch 穷尽检查）
type Kind string

const (
	// KindPlain 普通 HTTP 请求
	KindPlain Kind = "plain"
	// KindRendered 无头浏览器渲染抓取
	KindRendered Kind = "rendered"
	// KindProxy 代理轮换抓取
	KindProxy Kind = "proxy"
)

// Strategy 单个抓取策略：名称、相对成本与能力标记。目录条目不可变。
type Strategy struct {
	Name Kind
	// Cost 相对成本权重，目录按其升序排列
	Cost int
	// RendersContent 是否执行页面渲染（JS 执行后的 DOM）
	RendersContent bool
	// RotatesIdentity 是否轮换网络身份（代理出口）
	RotatesIdentity bool
}

// Registry 有序策略目录；无可变状态，查询纯函数
type Registry struct {
	ordered []Strategy
}

// NewRegistry 按给定顺序创建目录（调用方保证成本升序）
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{ordered: strategies}
}

// DefaultRegistry 默认目录：plain → rendered → proxy
func DefaultRegistry() *Registry {
	return NewRegistry(
		Strategy{Name: KindPlain, Cost: 1},
		Strategy{Name: KindRendered, Cost: 5, RendersContent: true},
		Strategy{Name: KindProxy, Cost: 10, RotatesIdentity: true},
	)
}

// Strategies 返回有序目录副本
func (r *Registry) Strategies() []Strategy {
	out := make([]Strategy, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len 目录长度
func (r *Registry) Len() int {
	return len(r.ordered)
}

// At 返回下标处的策略；越界时 ok=false
func (r *Registry) At(index int) (Strategy, bool) {
	if index < 0 || index >= len(r.ordered) {
		return Strategy{}, false
	}
	return r.ordered[index], true
}

// Next 返回 currentIndex 之后的下一个策略；无更强策略时 ok=false
func (r *Registry) Next(currentIndex int) (Strategy, int, bool) {
	next := currentIndex + 1
	if next < 0 || next >= len(r.ordered) {
		return Strategy{}, -1, false
	}
	return r.ordered[next], next, true
}

// IndexOf 按名称查下标；不存在返回 -1
func (r *Registry) IndexOf(name Kind) int {
	for i, s := range r.ordered {
		if s.Name == name {
			return i
		}
	}
	return -1
}
